package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Sandbox is a local gateway for development and tests. References look like
// "order_<hex>" and a callback is authentic when its signature is the hex
// HMAC-SHA256 of "reference|paymentReference" under the shared secret.
type Sandbox struct {
	secret []byte
	newRef func() string
}

// NewSandbox returns a Sandbox keyed by secret.
func NewSandbox(secret string) *Sandbox {
	return &Sandbox{
		secret: []byte(secret),
		newRef: func() string { return "order_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14] },
	}
}

func (s *Sandbox) CreateIntent(ctx context.Context, amount int64, currency string) (Intent, error) {
	if err := ctx.Err(); err != nil {
		return Intent{}, err
	}
	return Intent{Reference: s.newRef(), Amount: amount, Currency: currency}, nil
}

func (s *Sandbox) VerifyCallback(ctx context.Context, reference, paymentReference, signature string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false, nil
	}
	return hmac.Equal(got, s.mac(reference, paymentReference)), nil
}

// Sign returns the signature a checkout client would receive for the payment.
func (s *Sandbox) Sign(reference, paymentReference string) string {
	return hex.EncodeToString(s.mac(reference, paymentReference))
}

func (s *Sandbox) mac(reference, paymentReference string) []byte {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(reference + "|" + paymentReference))
	return m.Sum(nil)
}
