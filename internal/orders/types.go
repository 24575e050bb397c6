package orders

import (
	"errors"
	"sort"
	"time"
)

// Order statuses. PAID is terminal.
const (
	StatusPending = "PENDING"
	StatusPaid    = "PAID"
)

var (
	// ErrInvalidInput is returned for malformed CreateOrder input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCourseUnavailable is returned when a requested course is missing or not approved.
	ErrCourseUnavailable = errors.New("course unavailable")
	// ErrStatusMismatch is returned when a conditional status transition fails.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrPendingExists is returned when the checkout key is already held by a pending order.
	ErrPendingExists = errors.New("pending order exists for checkout key")
)

// Order represents the item stored in the Orders DynamoDB table.
type Order struct {
	OrderID          string           `dynamodbav:"order_id" json:"order_id"` // PK
	BuyerID          string           `dynamodbav:"buyer_id" json:"buyer_id"`
	CourseIDs        []string         `dynamodbav:"course_ids" json:"course_ids"`
	InstructorShares map[string]int64 `dynamodbav:"instructor_shares" json:"instructor_shares"`
	InstructorIDs    []string         `dynamodbav:"instructor_ids,stringset" json:"-"`
	Amount           int64            `dynamodbav:"amount" json:"amount"` // minor units
	Currency         string           `dynamodbav:"currency" json:"currency"`
	GatewayReference string           `dynamodbav:"gateway_reference" json:"gateway_reference"` // GSI
	Status           string           `dynamodbav:"status" json:"status"`                       // PENDING | PAID
	PaymentReference string           `dynamodbav:"payment_reference,omitempty" json:"payment_reference,omitempty"`
	Signature        string           `dynamodbav:"signature,omitempty" json:"-"`
	CheckoutKey      string           `dynamodbav:"checkout_key" json:"-"`
	PaidAt           *time.Time       `dynamodbav:"paid_at,omitempty" json:"paid_at,omitempty"`
	FulfilledAt      *time.Time       `dynamodbav:"fulfilled_at,omitempty" json:"fulfilled_at,omitempty"`
	Attempts         int              `dynamodbav:"attempts,omitempty" json:"-"`
	CreatedAt        time.Time        `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `dynamodbav:"updated_at" json:"updated_at"`
}

// IsPaid reports whether the order reached its terminal state.
func (o *Order) IsPaid() bool { return o.Status == StatusPaid }

// SortedInstructors returns the share keys in a stable order.
func (o *Order) SortedInstructors() []string {
	ids := make([]string, 0, len(o.InstructorShares))
	for id := range o.InstructorShares {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sale is an instructor's view of one order.
type Sale struct {
	OrderID   string     `json:"order_id"`
	CourseIDs []string   `json:"course_ids"`
	Share     int64      `json:"share"`
	Currency  string     `json:"currency"`
	Status    string     `json:"status"`
	Paid      bool       `json:"paid"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
}

// CreateResult is returned by Ledger.CreateOrder. Created is false when an
// existing pending order was returned instead of a new one.
type CreateResult struct {
	Order   *Order
	Created bool
}

// Payment carries the verified callback fields written on the PENDING -> PAID transition.
type Payment struct {
	PaymentReference string
	Signature        string
}
