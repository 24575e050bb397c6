package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-course-settlement/internal/aws"
	"github.com/imrishuroy/go-course-settlement/internal/catalog"
	"github.com/imrishuroy/go-course-settlement/internal/gateway"
	"github.com/imrishuroy/go-course-settlement/internal/idempotency"
)

// LedgerConfig groups the dependencies of the order ledger.
type LedgerConfig struct {
	Orders   *Store
	Keys     *idempotency.Store
	Catalog  catalog.Snapshot
	Gateway  gateway.Gateway
	Currency string
	Metrics  *aws.MetricsClient
	Logger   *zap.Logger
}

// Ledger creates orders and answers the read-only order queries.
type Ledger struct {
	orders   *Store
	keys     *idempotency.Store
	catalog  catalog.Snapshot
	gateway  gateway.Gateway
	currency string
	metrics  *aws.MetricsClient
	logger   *zap.Logger
	newID    func() string
	nowFunc  func() time.Time
}

// NewLedger returns a Ledger. Currency defaults to INR.
func NewLedger(cfg LedgerConfig) *Ledger {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Ledger{
		orders:   cfg.Orders,
		keys:     cfg.Keys,
		catalog:  cfg.Catalog,
		gateway:  cfg.Gateway,
		currency: cfg.Currency,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		newID:    uuid.NewString,
		nowFunc:  time.Now,
	}
}

// CreateOrder returns the buyer's pending order for this course set, creating it
// (and one gateway intent) when none exists.
func (l *Ledger) CreateOrder(ctx context.Context, buyerID string, courseIDs []string) (CreateResult, error) {
	if err := validateCart(buyerID, courseIDs); err != nil {
		return CreateResult{}, err
	}

	courses, err := l.catalog.LookupApprovedCourses(ctx, courseIDs)
	if err != nil {
		return CreateResult{}, fmt.Errorf("lookup courses: %w", err)
	}
	if len(courses) != len(courseIDs) {
		return CreateResult{}, fmt.Errorf("%w: %d of %d courses available", ErrCourseUnavailable, len(courses), len(courseIDs))
	}
	for _, c := range courses {
		if c.Price < 0 {
			return CreateResult{}, fmt.Errorf("%w: course %s has a negative price", ErrCourseUnavailable, c.CourseID)
		}
	}

	key := idempotency.KeyFor(buyerID, courseIDs)
	if existing, err := l.findPending(ctx, key); err != nil {
		return CreateResult{}, err
	} else if existing != nil {
		l.reused(ctx, existing)
		return CreateResult{Order: existing}, nil
	}

	shares, total := splitShares(courses)

	start := l.nowFunc()
	intent, err := l.gateway.CreateIntent(ctx, total, l.currency)
	_ = l.metrics.RecordLatency(ctx, aws.MetricGatewayLatency, time.Since(start), map[string]string{"Operation": "CreateIntent"})
	if err != nil {
		if !errors.Is(err, gateway.ErrGateway) {
			err = fmt.Errorf("%w: %v", gateway.ErrGateway, err)
		}
		l.logger.Warn("gateway intent failed", zap.String("buyer_id", buyerID), zap.Error(err))
		return CreateResult{}, err
	}

	order := Order{
		OrderID:          l.newID(),
		BuyerID:          buyerID,
		CourseIDs:        append([]string(nil), courseIDs...),
		InstructorShares: shares,
		InstructorIDs:    sortedKeys(shares),
		Amount:           total,
		Currency:         l.currency,
		GatewayReference: intent.Reference,
		Status:           StatusPending,
		CheckoutKey:      key,
		CreatedAt:        l.nowFunc().UTC(),
	}
	claim, err := l.keys.ClaimItem(key, order.OrderID, buyerID)
	if err != nil {
		return CreateResult{}, err
	}

	if err := l.orders.CreatePending(ctx, order, claim); err != nil {
		// A concurrent request may hold the key, whether the cancellation said
		// ConditionalCheckFailed or TransactionConflict. Its order is the answer.
		winner, ferr := l.findPending(ctx, key)
		switch {
		case ferr == nil && winner != nil && winner.OrderID != order.OrderID:
			l.reused(ctx, winner)
			return CreateResult{Order: winner}, nil
		case ferr == nil && winner != nil:
			l.logger.Warn("order stored despite write error", zap.String("order_id", order.OrderID), zap.Error(err))
		case errors.Is(err, ErrPendingExists) && ferr != nil:
			return CreateResult{}, ferr
		case errors.Is(err, ErrPendingExists):
			return CreateResult{}, fmt.Errorf("checkout key %s held but no pending order found", key)
		default:
			return CreateResult{}, fmt.Errorf("create order: %w", err)
		}
	}

	stored, err := l.orders.Get(ctx, order.OrderID)
	if err != nil || stored == nil {
		stored = &order
	}
	l.logger.Info("order created",
		zap.String("order_id", order.OrderID),
		zap.String("buyer_id", buyerID),
		zap.Int64("amount", total),
		zap.String("gateway_reference", order.GatewayReference),
	)
	_ = l.metrics.RecordCount(ctx, aws.MetricOrdersCreated, nil)
	return CreateResult{Order: stored, Created: true}, nil
}

// FindPending returns the pending order holding the checkout key for a buyer and course set.
func (l *Ledger) FindPending(ctx context.Context, buyerID string, courseIDs []string) (*Order, error) {
	return l.findPending(ctx, idempotency.KeyFor(buyerID, courseIDs))
}

func (l *Ledger) findPending(ctx context.Context, key string) (*Order, error) {
	rec, err := l.keys.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read checkout key: %w", err)
	}
	if rec == nil || rec.Status != idempotency.StatusInProgress {
		return nil, nil
	}
	o, err := l.orders.Get(ctx, rec.OrderID)
	if err != nil {
		return nil, err
	}
	if o == nil || o.Status != StatusPending {
		return nil, nil
	}
	return o, nil
}

func (l *Ledger) reused(ctx context.Context, o *Order) {
	l.logger.Info("returning existing pending order", zap.String("order_id", o.OrderID), zap.String("buyer_id", o.BuyerID))
	_ = l.metrics.RecordCount(ctx, aws.MetricOrdersReused, nil)
}

// ListOrdersForInstructor projects the orders containing the instructor's courses.
func (l *Ledger) ListOrdersForInstructor(ctx context.Context, instructorID string) ([]Sale, error) {
	if strings.TrimSpace(instructorID) == "" {
		return nil, fmt.Errorf("%w: instructor id is required", ErrInvalidInput)
	}
	list, err := l.orders.ListByInstructor(ctx, instructorID)
	if err != nil {
		return nil, err
	}
	sales := make([]Sale, 0, len(list))
	for _, o := range list {
		share, ok := o.InstructorShares[instructorID]
		if !ok {
			continue
		}
		sales = append(sales, Sale{
			OrderID:   o.OrderID,
			CourseIDs: o.CourseIDs,
			Share:     share,
			Currency:  o.Currency,
			Status:    o.Status,
			Paid:      o.IsPaid(),
			CreatedAt: o.CreatedAt,
			UpdatedAt: o.UpdatedAt,
			PaidAt:    o.PaidAt,
		})
	}
	return sales, nil
}

// ListAllOrders is the unfiltered audit view.
func (l *Ledger) ListAllOrders(ctx context.Context) ([]Order, error) {
	return l.orders.ListAll(ctx)
}

func validateCart(buyerID string, courseIDs []string) error {
	if strings.TrimSpace(buyerID) == "" {
		return fmt.Errorf("%w: buyer id is required", ErrInvalidInput)
	}
	if len(courseIDs) == 0 {
		return fmt.Errorf("%w: at least one course is required", ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(courseIDs))
	for _, id := range courseIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: blank course id", ErrInvalidInput)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate course id %q", ErrInvalidInput, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// splitShares groups course prices by instructor. The shares always sum to total.
func splitShares(courses []catalog.Course) (map[string]int64, int64) {
	shares := make(map[string]int64)
	var total int64
	for _, c := range courses {
		shares[c.InstructorID] += c.Price
		total += c.Price
	}
	return shares, total
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
