package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/paymentintent"
)

// PaymentIntentAPI is the subset of the Stripe payment intent client used here.
type PaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// Stripe creates payment intents and verifies them by reading them back from Stripe.
// The signature field of a callback is ignored; webhook signatures are checked
// where the webhook is received.
type Stripe struct {
	intents PaymentIntentAPI
}

// NewStripe returns a Stripe gateway using secretKey.
func NewStripe(secretKey string) *Stripe {
	return NewStripeWithClient(&paymentintent.Client{
		B:   stripe.GetBackend(stripe.APIBackend),
		Key: secretKey,
	})
}

// NewStripeWithClient returns a Stripe gateway over an existing intents client.
func NewStripeWithClient(intents PaymentIntentAPI) *Stripe {
	return &Stripe{intents: intents}
}

func (s *Stripe) CreateIntent(ctx context.Context, amount int64, currency string) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(currency)),
	}
	params.Context = ctx

	pi, err := s.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: create payment intent: %v", ErrGateway, err)
	}
	return Intent{
		Reference:    pi.ID,
		Amount:       pi.Amount,
		Currency:     strings.ToUpper(string(pi.Currency)),
		ClientSecret: pi.ClientSecret,
	}, nil
}

// VerifyCallback accepts a payment when the intent has succeeded and, if a payment
// reference is given, its latest charge matches it.
func (s *Stripe) VerifyCallback(ctx context.Context, reference, paymentReference, _ string) (bool, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := s.intents.Get(reference, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == 404 {
			return false, nil
		}
		return false, fmt.Errorf("%w: get payment intent: %v", ErrGateway, err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return false, nil
	}
	if paymentReference == "" || paymentReference == pi.ID {
		return true, nil
	}
	return pi.LatestCharge != nil && pi.LatestCharge.ID == paymentReference, nil
}
