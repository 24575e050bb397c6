package validation

// CreateOrderRequest is the payload for POST /orders.
// The buyer comes from the trusted identity header, never from the body.
type CreateOrderRequest struct {
	CourseIDs []string `json:"course_ids" validate:"required,min=1,max=100"` // cart contents, distinct
}

// VerifyPaymentRequest is the payload for POST /payments/verify.
// OrderID is optional and only cross-checked when present; the rest are required.
type VerifyPaymentRequest struct {
	GatewayReference string `json:"gateway_reference" validate:"required,notblank,max=255"`
	OrderID          string `json:"order_id,omitempty" validate:"omitempty,max=64"`
	PaymentID        string `json:"payment_id" validate:"required,notblank,max=255"`
	Signature        string `json:"signature" validate:"required,notblank,max=512"`
}
