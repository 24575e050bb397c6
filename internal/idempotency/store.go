package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-course-settlement/internal/aws"
)

// Store encapsulates checkout key operations against DynamoDB.
//
// A checkout key guarantees at most one PENDING order per (buyer, course set).
// Keys are claimed and released inside the orders store's transactions, so this
// store only builds the transaction items and reads records back.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // how long a released key is kept before DynamoDB TTL removes it
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// ttlWindow: retention of released keys (0 keeps them forever).
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// KeyFor derives the checkout key for a buyer and a course set. Course order is irrelevant.
func KeyFor(buyerID string, courseIDs []string) string {
	ids := append([]string(nil), courseIDs...)
	sort.Strings(ids)

	h := sha256.New()
	h.Write([]byte(buyerID))
	for _, id := range ids {
		h.Write([]byte{0})
		h.Write([]byte(id))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TableName returns the checkout keys table.
func (s *Store) TableName() string { return s.tableName }

// ClaimItem builds a transaction Put that takes key for orderID.
// It fails when the key is held by another pending order.
func (s *Store) ClaimItem(key, orderID, buyerID string) (types.TransactWriteItem, error) {
	now := s.nowFunc().UTC()
	rec := IdempotencyRecord{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		OrderID:        orderID,
		BuyerID:        buyerID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal record: %w", err)
	}

	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:                &s.tableName,
			Item:                     item,
			ConditionExpression:      awsString("attribute_not_exists(idempotency_key) OR #s = :done"),
			ExpressionAttributeNames: map[string]string{"#s": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":done": &types.AttributeValueMemberS{Value: StatusDone},
			},
		},
	}, nil
}

// ReleaseItem builds a transaction Update that frees key once its order is paid.
func (s *Store) ReleaseItem(key string) types.TransactWriteItem {
	now := s.nowFunc().UTC()
	updateExpr := "SET #s = :done, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":done": &types.AttributeValueMemberS{Value: StatusDone},
		":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
	}
	if s.ttlWindow > 0 {
		updateExpr += ", expires_at = :exp"
		values[":exp"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(s.ttlWindow).Unix(), 10)}
	}

	return types.TransactWriteItem{
		Update: &types.Update{
			TableName: &s.tableName,
			Key: map[string]types.AttributeValue{
				"idempotency_key": &types.AttributeValueMemberS{Value: key},
			},
			UpdateExpression:          &updateExpr,
			ExpressionAttributeNames:  map[string]string{"#s": "status"},
			ExpressionAttributeValues: values,
		},
	}
}

// Get retrieves a checkout key record. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	input := &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: awsBool(true),
	}
	out, err := s.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec IdempotencyRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
