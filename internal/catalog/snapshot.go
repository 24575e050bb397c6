package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-course-settlement/internal/aws"
)

// Course is the part of a catalog course this subsystem reads.
type Course struct {
	CourseID     string `dynamodbav:"course_id" json:"course_id"`
	Title        string `dynamodbav:"title,omitempty" json:"title,omitempty"`
	Price        int64  `dynamodbav:"price" json:"price"` // minor units
	InstructorID string `dynamodbav:"instructor_id" json:"instructor_id"`
	Approved     bool   `dynamodbav:"approved" json:"approved"`
}

// Snapshot is a read-only view of the course catalog.
type Snapshot interface {
	// LookupApprovedCourses returns the requested courses that exist and are approved,
	// in request order. Missing or unapproved IDs are simply absent from the result.
	LookupApprovedCourses(ctx context.Context, ids []string) ([]Course, error)
}

const (
	batchGetLimit      = 100
	maxUnprocessedRuns = 5
)

// DynamoSnapshot reads courses from the catalog table (PK course_id).
type DynamoSnapshot struct {
	client    aws.DynamoDBAPI
	tableName string
	backoff   time.Duration
}

// NewDynamoSnapshot returns a Snapshot backed by tableName.
func NewDynamoSnapshot(client aws.DynamoDBAPI, tableName string) *DynamoSnapshot {
	return &DynamoSnapshot{client: client, tableName: tableName, backoff: 50 * time.Millisecond}
}

func (s *DynamoSnapshot) LookupApprovedCourses(ctx context.Context, ids []string) ([]Course, error) {
	found := make(map[string]Course, len(ids))

	for start := 0; start < len(ids); start += batchGetLimit {
		end := start + batchGetLimit
		if end > len(ids) {
			end = len(ids)
		}
		keys := make([]map[string]types.AttributeValue, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, map[string]types.AttributeValue{
				"course_id": &types.AttributeValueMemberS{Value: id},
			})
		}
		if err := s.batchGet(ctx, keys, found); err != nil {
			return nil, err
		}
	}

	out := make([]Course, 0, len(ids))
	for _, id := range ids {
		c, ok := found[id]
		if !ok || !c.Approved {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *DynamoSnapshot) batchGet(ctx context.Context, keys []map[string]types.AttributeValue, found map[string]Course) error {
	request := map[string]types.KeysAndAttributes{
		s.tableName: {Keys: keys, ConsistentRead: awsBool(true)},
	}

	for run := 0; len(request) > 0; run++ {
		if run >= maxUnprocessedRuns {
			return fmt.Errorf("batch get courses: unprocessed keys remain after %d attempts", run)
		}
		if run > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff * time.Duration(run)):
			}
		}

		out, err := s.client.BatchGetItem(ctx, &dyn.BatchGetItemInput{RequestItems: request})
		if err != nil {
			return fmt.Errorf("batch get courses: %w", err)
		}
		for _, item := range out.Responses[s.tableName] {
			var c Course
			if err := attributevalue.UnmarshalMap(item, &c); err != nil {
				return fmt.Errorf("unmarshal course: %w", err)
			}
			found[c.CourseID] = c
		}
		request = out.UnprocessedKeys
	}
	return nil
}

func awsBool(b bool) *bool { return &b }
