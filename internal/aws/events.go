package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// EventPublisher publishes JSON domain events to an SNS topic.
type EventPublisher struct {
	client   SNSAPI
	topicArn string
}

// NewEventPublisher returns a publisher bound to topicArn.
func NewEventPublisher(client SNSAPI, topicArn string) *EventPublisher {
	return &EventPublisher{client: client, topicArn: topicArn}
}

// Publish sends event as the message body with an event_type attribute for subscription filters.
func (p *EventPublisher) Publish(ctx context.Context, eventType string, event any) error {
	if p.topicArn == "" {
		return fmt.Errorf("empty topicArn")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", eventType, err)
	}

	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: awsString(p.topicArn),
		Message:  awsString(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"event_type": {
				DataType:    awsString("String"),
				StringValue: awsString(eventType),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish failed for topic %s: %w", p.topicArn, err)
	}
	return nil
}
