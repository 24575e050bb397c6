package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-course-settlement/internal/aws"
)

// GatewayReferenceIndex is the GSI on gateway_reference.
const GatewayReferenceIndex = "gateway_reference-index"

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// CreatePending atomically claims a checkout key and writes a new PENDING order.
//
// claim is the transaction item built by idempotency.Store.ClaimItem. When the key
// is held by another pending order the transaction is cancelled and ErrPendingExists
// is returned; nothing is written.
func (s *Store) CreatePending(ctx context.Context, order Order, claim types.TransactWriteItem) error {
	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	order.Status = StatusPending

	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}

	input := &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			claim,
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                orderMap,
					ConditionExpression: awsString("attribute_not_exists(order_id)"),
				},
			},
		},
	}

	if _, err := s.client.TransactWriteItems(ctx, input); err != nil {
		if cancelledAt(err, 0) {
			return ErrPendingExists
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	key := map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            key,
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// GetByGatewayReference looks an order up through the gateway reference index.
// The index is eventually consistent, so a hit is re-read from the base table.
// Returns (nil, nil) if not found.
func (s *Store) GetByGatewayReference(ctx context.Context, reference string) (*Order, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(GatewayReferenceIndex),
		KeyConditionExpression: awsString("gateway_reference = :ref"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ref": &types.AttributeValueMemberS{Value: reference},
		},
		Limit: awsInt32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query gateway reference: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	var hit struct {
		OrderID string `dynamodbav:"order_id"`
	}
	if err := attributevalue.UnmarshalMap(out.Items[0], &hit); err != nil {
		return nil, fmt.Errorf("unmarshal index item: %w", err)
	}
	return s.Get(ctx, hit.OrderID)
}

// MarkPaid performs the PENDING -> PAID transition and releases the order's checkout key
// in one transaction. Returns ErrStatusMismatch if the order was no longer PENDING.
func (s *Store) MarkPaid(ctx context.Context, orderID string, p Payment, release types.TransactWriteItem) error {
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	input := &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName: &s.tableName,
					Key: map[string]types.AttributeValue{
						"order_id": &types.AttributeValueMemberS{Value: orderID},
					},
					UpdateExpression:         awsString("SET #s = :new, payment_reference = :pr, signature = :sig, paid_at = :now, updated_at = :now"),
					ConditionExpression:      awsString("#s = :expected"),
					ExpressionAttributeNames: map[string]string{"#s": "status"},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":new":      &types.AttributeValueMemberS{Value: StatusPaid},
						":expected": &types.AttributeValueMemberS{Value: StatusPending},
						":pr":       &types.AttributeValueMemberS{Value: p.PaymentReference},
						":sig":      &types.AttributeValueMemberS{Value: p.Signature},
						":now":      &types.AttributeValueMemberS{Value: now},
					},
				},
			},
			release,
		},
	}

	if _, err := s.client.TransactWriteItems(ctx, input); err != nil {
		if cancelledAt(err, 0) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("mark paid: %w", err)
	}
	return nil
}

// MarkFulfilled records that credits and grants for a PAID order are complete.
// The first fulfillment time is kept on repeats. It reports whether this call set it.
func (s *Store) MarkFulfilled(ctx context.Context, orderID string) (bool, error) {
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:         awsString("SET fulfilled_at = if_not_exists(fulfilled_at, :now), updated_at = :now"),
		ConditionExpression:      awsString("#s = :paid"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":paid": &types.AttributeValueMemberS{Value: StatusPaid},
			":now":  &types.AttributeValueMemberS{Value: now},
		},
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		if conditionFailed(err) {
			return false, ErrStatusMismatch
		}
		return false, fmt.Errorf("mark fulfilled: %w", err)
	}
	_, had := out.Attributes["fulfilled_at"]
	return !had, nil
}

// IncrementAttempts increases the attempts counter by 1 (used by reconciliation).
func (s *Store) IncrementAttempts(ctx context.Context, orderID string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:          awsString("SET attempts = if_not_exists(attempts, :zero) + :inc, updated_at = :ua"),
		ConditionExpression:       awsString("attribute_exists(order_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":zero": &types.AttributeValueMemberN{Value: "0"}, ":inc": &types.AttributeValueMemberN{Value: "1"}, ":ua": &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)}},
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		if conditionFailed(err) {
			return fmt.Errorf("increment attempts: order %s does not exist", orderID)
		}
		return fmt.Errorf("increment attempts: %w", err)
	}
	return nil
}

// ListByInstructor returns orders whose shares include instructorID, oldest first.
func (s *Store) ListByInstructor(ctx context.Context, instructorID string) ([]Order, error) {
	return s.scan(ctx, &dyn.ScanInput{
		TableName:        &s.tableName,
		FilterExpression: awsString("contains(instructor_ids, :iid)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":iid": &types.AttributeValueMemberS{Value: instructorID},
		},
	})
}

// ListAll returns every order, oldest first.
func (s *Store) ListAll(ctx context.Context) ([]Order, error) {
	return s.scan(ctx, &dyn.ScanInput{TableName: &s.tableName})
}

// ListUnfulfilled returns PAID orders whose credits and grants are not known complete.
func (s *Store) ListUnfulfilled(ctx context.Context) ([]Order, error) {
	return s.scan(ctx, &dyn.ScanInput{
		TableName:                &s.tableName,
		FilterExpression:         awsString("#s = :paid AND attribute_not_exists(fulfilled_at)"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":paid": &types.AttributeValueMemberS{Value: StatusPaid},
		},
	})
}

func (s *Store) scan(ctx context.Context, input *dyn.ScanInput) ([]Order, error) {
	var out []Order
	p := dyn.NewScanPaginator(s.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan orders: %w", err)
		}
		var batch []Order
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		out = append(out, batch...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// cancelledAt reports whether err is a cancelled transaction whose item i failed its condition.
func cancelledAt(err error, i int) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) || len(tce.CancellationReasons) <= i {
		return false
	}
	code := tce.CancellationReasons[i].Code
	return code != nil && *code == "ConditionalCheckFailed"
}

// conditionFailed reports whether a single-item write was rejected by its condition.
func conditionFailed(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }

func awsInt32(v int32) *int32 { return &v }
