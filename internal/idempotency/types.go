package idempotency

import "time"

// Status values for checkout keys.
const (
	// StatusInProgress marks a key held by a PENDING order.
	StatusInProgress = "IN_PROGRESS"
	// StatusDone marks a key whose order was paid; the key can be claimed again.
	StatusDone = "DONE"
)

// IdempotencyRecord is the shape persisted in the checkout keys DynamoDB table.
type IdempotencyRecord struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK
	Status         string    `dynamodbav:"status"`
	OrderID        string    `dynamodbav:"order_id"`
	BuyerID        string    `dynamodbav:"buyer_id,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at,omitempty"` // TTL epoch seconds, set on release only
}
