package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-course-settlement/internal/aws"
	"github.com/imrishuroy/go-course-settlement/internal/orders"
)

// Reconciler finishes settlement work for PAID orders that were left incomplete.
type Reconciler struct {
	orders  *orders.Store
	metrics *aws.MetricsClient
	logger  *zap.Logger
	f       *fulfiller
}

// NewReconciler returns a Reconciler sharing the Engine's configuration.
func NewReconciler(cfg Config) *Reconciler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Reconciler{
		orders:  cfg.Orders,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		f:       newFulfiller(cfg),
	}
}

// ReconcileOrder re-applies credits and grants for a PAID order and marks it fulfilled.
// Already-fulfilled orders are re-checked; nothing is applied twice.
func (r *Reconciler) ReconcileOrder(ctx context.Context, orderID string) error {
	o, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}
	if o == nil {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if !o.IsPaid() {
		return fmt.Errorf("%w: %s is %s", ErrOrderNotPaid, orderID, o.Status)
	}

	if err := r.orders.IncrementAttempts(ctx, orderID); err != nil {
		r.logger.Warn("increment attempts failed", zap.String("order_id", orderID), zap.Error(err))
	}
	if err := r.f.fulfil(ctx, o); err != nil {
		return fmt.Errorf("%w: order %s: %v", ErrPartialSettlement, orderID, err)
	}
	if err := r.f.complete(ctx, o); err != nil {
		return fmt.Errorf("mark order %s fulfilled: %w", orderID, err)
	}

	r.logger.Info("order reconciled", zap.String("order_id", orderID), zap.Int("attempts", o.Attempts+1))
	_ = r.metrics.RecordCount(ctx, aws.MetricOrdersReconciled, nil)
	return nil
}

// Sweep reconciles every PAID order that is not yet fulfilled.
// It returns how many orders were completed and the errors of the rest.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	pending, err := r.orders.ListUnfulfilled(ctx)
	if err != nil {
		return 0, err
	}

	done := 0
	var errs []error
	for _, o := range pending {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := r.ReconcileOrder(ctx, o.OrderID); err != nil {
			errs = append(errs, err)
			continue
		}
		done++
	}
	if len(pending) > 0 {
		r.logger.Info("reconcile sweep finished", zap.Int("found", len(pending)), zap.Int("reconciled", done))
	}
	return done, errors.Join(errs...)
}

// Run sweeps every interval until ctx ends. A non-positive interval disables it.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Warn("reconcile sweep", zap.Error(err))
			}
		}
	}
}
