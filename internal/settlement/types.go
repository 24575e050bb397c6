package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/imrishuroy/go-course-settlement/internal/orders"
)

var (
	// ErrOrderNotFound is returned when a callback references no known order.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidSignature is returned when the gateway rejects a callback.
	ErrInvalidSignature = errors.New("invalid payment signature")
	// ErrPartialSettlement is returned when an order was paid but a credit or grant is outstanding.
	ErrPartialSettlement = errors.New("partial settlement")
	// ErrOrderNotPaid is returned when reconciling an order that is still pending.
	ErrOrderNotPaid = errors.New("order not paid")
)

// EventOrderSettled is published once an order's credits and grants are complete.
const EventOrderSettled = "order.settled"

// Callback carries a payment notification. Either reference locates the order.
type Callback struct {
	GatewayReference string
	OrderID          string
	PaymentReference string
	Signature        string
}

// Result is the outcome of a settlement. AlreadySettled is set when the order had
// been paid by an earlier delivery and nothing was changed.
type Result struct {
	Order          *orders.Order
	AlreadySettled bool
}

// ReconcileJob is the message put on the reconcile queue.
type ReconcileJob struct {
	OrderID       string `json:"order_id"`
	Reason        string `json:"reason"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// SettledEvent is the body of an order.settled event.
type SettledEvent struct {
	OrderID          string           `json:"order_id"`
	BuyerID          string           `json:"buyer_id"`
	CourseIDs        []string         `json:"course_ids"`
	InstructorShares map[string]int64 `json:"instructor_shares"`
	Amount           int64            `json:"amount"`
	Currency         string           `json:"currency"`
	PaymentReference string           `json:"payment_reference"`
	SettledAt        time.Time        `json:"settled_at"`
}

// JobQueue receives reconcile jobs. *aws.Publisher satisfies it.
type JobQueue interface {
	SendJSON(ctx context.Context, payload any, attributes map[string]string) error
}

// EventSink receives domain events. *aws.EventPublisher satisfies it.
type EventSink interface {
	Publish(ctx context.Context, eventType string, event any) error
}
