// Package grants records which courses each buyer owns.
package grants

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-course-settlement/internal/aws"
)

// Grant is the purchases table row for one buyer.
type Grant struct {
	BuyerID   string    `dynamodbav:"buyer_id"` // PK
	CourseIDs []string  `dynamodbav:"course_ids,stringset"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

// Store performs union-only writes on the purchases table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore returns a Store over the purchases table, keyed by buyer_id.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName, nowFunc: time.Now}
}

// Grant adds courseIDs to the buyer's owned set. Courses already owned are unaffected.
func (s *Store) Grant(ctx context.Context, buyerID string, courseIDs []string) error {
	if len(courseIDs) == 0 {
		return nil
	}
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"buyer_id": &types.AttributeValueMemberS{Value: buyerID},
		},
		UpdateExpression: awsString("ADD course_ids :cids SET updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cids": &types.AttributeValueMemberSS{Value: courseIDs},
			":ua":   &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("grant courses to %s: %w", buyerID, err)
	}
	return nil
}

// Owned returns the buyer's courses sorted by ID.
func (s *Store) Owned(ctx context.Context, buyerID string) ([]string, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"buyer_id": &types.AttributeValueMemberS{Value: buyerID},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get grant: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var g Grant
	if err := attributevalue.UnmarshalMap(out.Item, &g); err != nil {
		return nil, fmt.Errorf("unmarshal grant: %w", err)
	}
	sort.Strings(g.CourseIDs)
	return g.CourseIDs, nil
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
