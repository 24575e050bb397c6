// Package gateway adapts external payment processors to the two calls the
// settlement flow needs: opening a payment intent and verifying a callback.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrGateway wraps every transport, timeout or processor failure.
var ErrGateway = errors.New("payment gateway error")

// Intent is the processor-side handle for a pending payment.
type Intent struct {
	Reference    string `json:"gateway_reference"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// Gateway is implemented by each payment processor.
type Gateway interface {
	// CreateIntent opens a payment for amount minor units of currency.
	CreateIntent(ctx context.Context, amount int64, currency string) (Intent, error)
	// VerifyCallback reports whether the callback fields prove a completed payment.
	// A false result with a nil error means the callback is not authentic.
	VerifyCallback(ctx context.Context, reference, paymentReference, signature string) (bool, error)
}

type timeoutGateway struct {
	next    Gateway
	timeout time.Duration
}

// WithTimeout bounds every call to g by d. A non-positive d returns g unchanged.
func WithTimeout(g Gateway, d time.Duration) Gateway {
	if d <= 0 {
		return g
	}
	return &timeoutGateway{next: g, timeout: d}
}

func (t *timeoutGateway) CreateIntent(ctx context.Context, amount int64, currency string) (Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		intent Intent
		err    error
	}
	done := make(chan result, 1)
	go func() {
		in, err := t.next.CreateIntent(ctx, amount, currency)
		done <- result{in, err}
	}()

	select {
	case <-ctx.Done():
		return Intent{}, fmt.Errorf("%w: create intent: %v", ErrGateway, ctx.Err())
	case r := <-done:
		return r.intent, asGatewayErr("create intent", r.err)
	}
}

func (t *timeoutGateway) VerifyCallback(ctx context.Context, reference, paymentReference, signature string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, err := t.next.VerifyCallback(ctx, reference, paymentReference, signature)
		done <- result{ok, err}
	}()

	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%w: verify callback: %v", ErrGateway, ctx.Err())
	case r := <-done:
		return r.ok, asGatewayErr("verify callback", r.err)
	}
}

func asGatewayErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrGateway) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrGateway, op, err)
}
