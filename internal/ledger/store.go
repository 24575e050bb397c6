// Package ledger keeps each instructor's running revenue balance.
//
// Balances only ever grow. Every credit is tied to the order that earned it and
// is applied at most once per (order, instructor), so crediting again during
// reconciliation is harmless.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-course-settlement/internal/aws"
)

// ErrNegativeAmount is returned when a credit amount is below zero.
var ErrNegativeAmount = errors.New("credit amount must not be negative")

// Entry is an instructor's balance row.
type Entry struct {
	InstructorID string    `dynamodbav:"instructor_id"` // PK
	Revenue      int64     `dynamodbav:"revenue"`
	UpdatedAt    time.Time `dynamodbav:"updated_at"`
}

// Credit is the audit row proving an order's share was credited.
type Credit struct {
	CreditID     string    `dynamodbav:"credit_id"` // PK, order_id#instructor_id
	OrderID      string    `dynamodbav:"order_id"`
	InstructorID string    `dynamodbav:"instructor_id"`
	Amount       int64     `dynamodbav:"amount"`
	CreatedAt    time.Time `dynamodbav:"created_at"`
}

// Store operates on the revenue and credits tables.
type Store struct {
	client       aws.DynamoDBAPI
	revenueTable string
	creditsTable string
	nowFunc      func() time.Time
}

// NewStore returns a ledger Store.
func NewStore(client aws.DynamoDBAPI, revenueTable, creditsTable string) *Store {
	return &Store{
		client:       client,
		revenueTable: revenueTable,
		creditsTable: creditsTable,
		nowFunc:      time.Now,
	}
}

// CreditID is the credits table key for an order's share.
func CreditID(orderID, instructorID string) string {
	return orderID + "#" + instructorID
}

// Credit adds amount to the instructor's balance on behalf of orderID.
// It returns applied=false when this order's share was already credited.
func (s *Store) Credit(ctx context.Context, instructorID, orderID string, amount int64) (bool, error) {
	if amount < 0 {
		return false, fmt.Errorf("%w: %d", ErrNegativeAmount, amount)
	}
	now := s.nowFunc().UTC()

	credit, err := attributevalue.MarshalMap(Credit{
		CreditID:     CreditID(orderID, instructorID),
		OrderID:      orderID,
		InstructorID: instructorID,
		Amount:       amount,
		CreatedAt:    now,
	})
	if err != nil {
		return false, fmt.Errorf("marshal credit: %w", err)
	}

	input := &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &s.creditsTable,
					Item:                credit,
					ConditionExpression: awsString("attribute_not_exists(credit_id)"),
				},
			},
			{
				Update: &types.Update{
					TableName: &s.revenueTable,
					Key: map[string]types.AttributeValue{
						"instructor_id": &types.AttributeValueMemberS{Value: instructorID},
					},
					UpdateExpression: awsString("ADD revenue :amt SET updated_at = :ua"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":amt": &types.AttributeValueMemberN{Value: strconv.FormatInt(amount, 10)},
						":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
					},
				},
			},
		},
	}

	if _, err := s.client.TransactWriteItems(ctx, input); err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && len(tce.CancellationReasons) > 0 {
			if code := tce.CancellationReasons[0].Code; code != nil && *code == "ConditionalCheckFailed" {
				return false, nil
			}
		}
		return false, fmt.Errorf("credit %s for order %s: %w", instructorID, orderID, err)
	}
	return true, nil
}

// Balance returns the instructor's revenue; 0 when nothing was ever credited.
func (s *Store) Balance(ctx context.Context, instructorID string) (int64, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.revenueTable,
		Key: map[string]types.AttributeValue{
			"instructor_id": &types.AttributeValueMemberS{Value: instructorID},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	if len(out.Item) == 0 {
		return 0, nil
	}
	var e Entry
	if err := attributevalue.UnmarshalMap(out.Item, &e); err != nil {
		return 0, fmt.Errorf("unmarshal balance: %w", err)
	}
	return e.Revenue, nil
}

// Credited reports whether orderID's share for instructorID has been credited.
func (s *Store) Credited(ctx context.Context, instructorID, orderID string) (bool, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.creditsTable,
		Key: map[string]types.AttributeValue{
			"credit_id": &types.AttributeValueMemberS{Value: CreditID(orderID, instructorID)},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return false, fmt.Errorf("get credit: %w", err)
	}
	return len(out.Item) > 0, nil
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
