package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-course-settlement/internal/settlement"
)

// OrderReconciler completes the fulfilment of a paid order.
type OrderReconciler interface {
	ReconcileOrder(ctx context.Context, orderID string) error
}

// Processor handles reconcile jobs delivered over SQS.
type Processor struct {
	reconciler OrderReconciler
	logger     *zap.Logger
}

// NewProcessor creates a processor on top of r.
func NewProcessor(r OrderReconciler, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{reconciler: r, logger: logger}
}

// Handle processes every record and reports the ones that should be redelivered.
// Messages that can never succeed are logged and dropped.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("reconcile job failed", zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var job settlement.ReconcileJob
	if err := json.Unmarshal([]byte(rec.Body), &job); err != nil {
		p.logger.Warn("dropping malformed reconcile job", zap.String("message_id", rec.MessageId), zap.Error(err))
		return nil
	}
	if job.OrderID == "" {
		p.logger.Warn("dropping reconcile job without order id", zap.String("message_id", rec.MessageId))
		return nil
	}

	log := p.logger.With(zap.String("order_id", job.OrderID), zap.String("reason", job.Reason),
		zap.String("correlation_id", job.CorrelationID))

	err := p.reconciler.ReconcileOrder(ctx, job.OrderID)
	switch {
	case err == nil:
		log.Info("order reconciled")
		return nil
	case errors.Is(err, settlement.ErrOrderNotFound), errors.Is(err, settlement.ErrOrderNotPaid):
		log.Warn("dropping reconcile job", zap.Error(err))
		return nil
	default:
		return fmt.Errorf("reconcile order %s: %w", job.OrderID, err)
	}
}
