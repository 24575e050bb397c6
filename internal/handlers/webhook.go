package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-course-settlement/internal/logging"
	"github.com/imrishuroy/go-course-settlement/internal/settlement"
)

const maxWebhookBody = 64 << 10

// stripeWebhook settles orders from payment_intent.succeeded events.
// Other event types are acknowledged and ignored.
func (h *handler) stripeWebhook(c *gin.Context) {
	log := logging.FromContext(c, h.logger)

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unreadable body", Code: "invalid_request_body"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, c.GetHeader("Stripe-Signature"), h.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		log.Warn("stripe webhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid webhook", Code: "invalid_signature"})
		return
	}

	log = log.With(zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))
	if event.Type != stripe.EventTypePaymentIntentSucceeded {
		log.Info("unhandled webhook event type")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		log.Error("failed to unmarshal payment intent", zap.Error(err))
		c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed payment intent", Code: "invalid_request_body"})
		return
	}

	paymentRef := pi.ID
	if pi.LatestCharge != nil && pi.LatestCharge.ID != "" {
		paymentRef = pi.LatestCharge.ID
	}

	res, err := h.settler.Settle(c.Request.Context(), settlement.Callback{
		GatewayReference: pi.ID,
		PaymentReference: paymentRef,
		Signature:        event.ID,
	})
	if errors.Is(err, settlement.ErrOrderNotFound) {
		// not ours; a non-2xx reply would only make Stripe redeliver it
		log.Warn("webhook for unknown payment intent", zap.String("payment_intent", pi.ID))
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	h.writeSettlement(c, res, err)
}
