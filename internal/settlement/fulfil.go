package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-course-settlement/internal/grants"
	"github.com/imrishuroy/go-course-settlement/internal/ledger"
	"github.com/imrishuroy/go-course-settlement/internal/orders"
)

// fulfiller applies the post-commit work of a paid order. Every step is repeatable.
type fulfiller struct {
	orders *orders.Store
	ledger *ledger.Store
	grants *grants.Store
	events EventSink
	logger *zap.Logger
}

func newFulfiller(cfg Config) *fulfiller {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &fulfiller{
		orders: cfg.Orders,
		ledger: cfg.Ledger,
		grants: cfg.Grants,
		events: cfg.Events,
		logger: logger,
	}
}

// fulfil credits every instructor share and grants the courses.
// Both steps are attempted even when one fails.
func (f *fulfiller) fulfil(ctx context.Context, o *orders.Order) error {
	var errs []error
	for _, instructorID := range o.SortedInstructors() {
		applied, err := f.ledger.Credit(ctx, instructorID, o.OrderID, o.InstructorShares[instructorID])
		if err != nil {
			errs = append(errs, fmt.Errorf("credit %s: %w", instructorID, err))
			continue
		}
		if !applied {
			f.logger.Debug("share already credited", zap.String("order_id", o.OrderID), zap.String("instructor_id", instructorID))
		}
	}
	if err := f.grants.Grant(ctx, o.BuyerID, o.CourseIDs); err != nil {
		errs = append(errs, fmt.Errorf("grant: %w", err))
	}
	return errors.Join(errs...)
}

// complete marks the order fulfilled. Only the call that sets the marker publishes the event.
func (f *fulfiller) complete(ctx context.Context, o *orders.Order) error {
	first, err := f.orders.MarkFulfilled(ctx, o.OrderID)
	if err != nil {
		return err
	}
	if f.events == nil || !first {
		return nil
	}
	settledAt := time.Now().UTC()
	if o.PaidAt != nil {
		settledAt = *o.PaidAt
	}
	event := SettledEvent{
		OrderID:          o.OrderID,
		BuyerID:          o.BuyerID,
		CourseIDs:        o.CourseIDs,
		InstructorShares: o.InstructorShares,
		Amount:           o.Amount,
		Currency:         o.Currency,
		PaymentReference: o.PaymentReference,
		SettledAt:        settledAt,
	}
	if err := f.events.Publish(ctx, EventOrderSettled, event); err != nil {
		f.logger.Warn("publish settled event failed", zap.String("order_id", o.OrderID), zap.Error(err))
	}
	return nil
}
