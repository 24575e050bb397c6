// Package settlement turns verified payment callbacks into paid orders,
// instructor credits and buyer grants.
//
// The order's PENDING -> PAID transition is the commit gate: exactly one delivery
// of a callback wins it. Credits and grants run after the gate and are safe to
// repeat, so anything left undone is finished by the Reconciler.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-course-settlement/internal/aws"
	"github.com/imrishuroy/go-course-settlement/internal/gateway"
	"github.com/imrishuroy/go-course-settlement/internal/grants"
	"github.com/imrishuroy/go-course-settlement/internal/idempotency"
	"github.com/imrishuroy/go-course-settlement/internal/ledger"
	"github.com/imrishuroy/go-course-settlement/internal/orders"
)

// Config groups the Engine and Reconciler dependencies. Queue, Events and Metrics are optional.
type Config struct {
	Orders  *orders.Store
	Keys    *idempotency.Store
	Gateway gateway.Gateway
	Ledger  *ledger.Store
	Grants  *grants.Store
	Queue   JobQueue
	Events  EventSink
	Metrics *aws.MetricsClient
	Logger  *zap.Logger
}

// Engine settles orders.
type Engine struct {
	orders  *orders.Store
	keys    *idempotency.Store
	gateway gateway.Gateway
	queue   JobQueue
	metrics *aws.MetricsClient
	logger  *zap.Logger
	f       *fulfiller
}

// NewEngine returns an Engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		orders:  cfg.Orders,
		keys:    cfg.Keys,
		gateway: cfg.Gateway,
		queue:   cfg.Queue,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		f:       newFulfiller(cfg),
	}
}

// Settle applies a payment callback.
//
// A callback for an order that is already PAID succeeds with AlreadySettled and
// changes nothing. When the order is paid but a credit or grant failed, the paid
// order is returned together with an error wrapping ErrPartialSettlement and a
// reconcile job is queued.
func (e *Engine) Settle(ctx context.Context, cb Callback) (Result, error) {
	log := e.logger.With(
		zap.String("gateway_reference", cb.GatewayReference),
		zap.String("order_id", cb.OrderID),
	)

	order, err := e.locate(ctx, cb)
	if err != nil {
		return Result{}, err
	}
	if order == nil {
		log.Warn("callback for unknown order")
		_ = e.metrics.RecordCount(ctx, aws.MetricUnknownOrders, nil)
		return Result{}, ErrOrderNotFound
	}
	log = log.With(zap.String("order_id", order.OrderID))

	if order.IsPaid() {
		log.Info("duplicate callback for settled order")
		_ = e.metrics.RecordCount(ctx, aws.MetricDuplicateCallbacks, nil)
		return Result{Order: order, AlreadySettled: true}, nil
	}

	start := time.Now()
	ok, err := e.gateway.VerifyCallback(ctx, order.GatewayReference, cb.PaymentReference, cb.Signature)
	_ = e.metrics.RecordLatency(ctx, aws.MetricGatewayLatency, time.Since(start), map[string]string{"Operation": "VerifyCallback"})
	if err != nil {
		if !errors.Is(err, gateway.ErrGateway) {
			err = fmt.Errorf("%w: %v", gateway.ErrGateway, err)
		}
		log.Warn("callback verification failed", zap.Error(err))
		return Result{}, err
	}
	if !ok {
		log.Error("invalid callback signature", zap.String("payment_reference", cb.PaymentReference))
		_ = e.metrics.RecordCount(ctx, aws.MetricInvalidSignatures, nil)
		return Result{}, ErrInvalidSignature
	}

	payment := orders.Payment{PaymentReference: cb.PaymentReference, Signature: cb.Signature}
	err = e.orders.MarkPaid(ctx, order.OrderID, payment, e.keys.ReleaseItem(order.CheckoutKey))
	if err != nil {
		// A losing transaction is cancelled with ConditionalCheckFailed or, when both
		// run at once, TransactionConflict. The stored status decides either way.
		latest, gerr := e.orders.Get(ctx, order.OrderID)
		if gerr != nil || latest == nil || !latest.IsPaid() {
			return Result{}, fmt.Errorf("commit order %s: %w", order.OrderID, err)
		}
		log.Info("order settled by concurrent callback", zap.NamedError("commit_error", err))
		_ = e.metrics.RecordCount(ctx, aws.MetricDuplicateCallbacks, nil)
		return Result{Order: latest, AlreadySettled: true}, nil
	}

	paid := e.reload(ctx, order, payment)
	log.Info("order paid", zap.Int64("amount", paid.Amount), zap.String("payment_reference", payment.PaymentReference))

	if err := e.f.fulfil(ctx, paid); err != nil {
		log.Error("settlement incomplete, reconciliation pending", zap.Error(err))
		_ = e.metrics.RecordCount(ctx, aws.MetricPartialSettlements, nil)
		e.enqueue(ctx, paid.OrderID, err)
		return Result{Order: paid}, fmt.Errorf("%w: order %s: %v", ErrPartialSettlement, paid.OrderID, err)
	}
	if err := e.f.complete(ctx, paid); err != nil {
		// credits and grants are done; only the marker is missing and the sweep will set it
		log.Warn("mark fulfilled failed", zap.Error(err))
	}

	_ = e.metrics.RecordCount(ctx, aws.MetricOrdersSettled, nil)
	return Result{Order: paid}, nil
}

func (e *Engine) locate(ctx context.Context, cb Callback) (*orders.Order, error) {
	switch {
	case cb.GatewayReference != "":
		o, err := e.orders.GetByGatewayReference(ctx, cb.GatewayReference)
		if err != nil {
			return nil, fmt.Errorf("find order by reference: %w", err)
		}
		if o != nil && cb.OrderID != "" && o.OrderID != cb.OrderID {
			return nil, nil
		}
		return o, nil
	case cb.OrderID != "":
		o, err := e.orders.Get(ctx, cb.OrderID)
		if err != nil {
			return nil, fmt.Errorf("find order: %w", err)
		}
		return o, nil
	}
	return nil, nil
}

// reload returns the order as stored after the transition, falling back to a local copy.
func (e *Engine) reload(ctx context.Context, o *orders.Order, p orders.Payment) *orders.Order {
	if latest, err := e.orders.Get(ctx, o.OrderID); err == nil && latest != nil && latest.IsPaid() {
		return latest
	}
	cp := *o
	now := time.Now().UTC()
	cp.Status = orders.StatusPaid
	cp.PaymentReference = p.PaymentReference
	cp.Signature = p.Signature
	cp.PaidAt = &now
	return &cp
}

func (e *Engine) enqueue(ctx context.Context, orderID string, cause error) {
	if e.queue == nil {
		return
	}
	job := ReconcileJob{OrderID: orderID, Reason: cause.Error()}
	if err := e.queue.SendJSON(ctx, job, map[string]string{"order_id": orderID}); err != nil {
		// the periodic sweep still finds the order
		e.logger.Error("enqueue reconcile job failed", zap.String("order_id", orderID), zap.Error(err))
		_ = e.metrics.RecordCount(ctx, aws.MetricReconcileQueueFails, nil)
	}
}
