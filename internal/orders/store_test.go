package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-course-settlement/internal/idempotency"
	"github.com/imrishuroy/go-course-settlement/internal/testutil/dynamofake"
)

const (
	ordersTable = "orders"
	keysTable   = "checkout_keys"
)

func newFake() *dynamofake.Fake {
	return dynamofake.New().
		CreateTable(ordersTable, "order_id").
		CreateTable(keysTable, "idempotency_key")
}

func sampleOrder(id, buyer string, courses ...string) Order {
	return Order{
		OrderID:          id,
		BuyerID:          buyer,
		CourseIDs:        courses,
		InstructorShares: map[string]int64{"inst-1": 1000},
		InstructorIDs:    []string{"inst-1"},
		Amount:           1000,
		Currency:         "INR",
		GatewayReference: "ref-" + id,
		CheckoutKey:      idempotency.KeyFor(buyer, courses),
	}
}

func createPending(t *testing.T, s *Store, keys *idempotency.Store, o Order) {
	t.Helper()
	claim, err := keys.ClaimItem(o.CheckoutKey, o.OrderID, o.BuyerID)
	require.NoError(t, err)
	require.NoError(t, s.CreatePending(context.Background(), o, claim))
}

func TestCreatePending_AndGet(t *testing.T) {
	fake := newFake()
	s := NewStore(fake, ordersTable)
	keys := idempotency.NewStore(fake, keysTable, 0)

	o := sampleOrder("o-1", "b-1", "c-1")
	createPending(t, s, keys, o)

	got, err := s.Get(context.Background(), "o-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, int64(1000), got.InstructorShares["inst-1"])
	assert.Equal(t, []string{"inst-1"}, got.InstructorIDs)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Nil(t, got.PaidAt)

	rec, err := keys.Get(context.Background(), o.CheckoutKey)
	require.NoError(t, err)
	assert.Equal(t, "o-1", rec.OrderID)
}

func TestCreatePending_KeyHeld(t *testing.T) {
	fake := newFake()
	s := NewStore(fake, ordersTable)
	keys := idempotency.NewStore(fake, keysTable, 0)

	createPending(t, s, keys, sampleOrder("o-1", "b-1", "c-1"))

	second := sampleOrder("o-2", "b-1", "c-1")
	claim, err := keys.ClaimItem(second.CheckoutKey, second.OrderID, second.BuyerID)
	require.NoError(t, err)
	err = s.CreatePending(context.Background(), second, claim)
	assert.ErrorIs(t, err, ErrPendingExists)

	missing, err := s.Get(context.Background(), "o-2")
	require.NoError(t, err)
	assert.Nil(t, missing, "no order is written when the key claim fails")
}

func TestGet_NotFound(t *testing.T) {
	s := NewStore(newFake(), ordersTable)
	got, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetByGatewayReference(t *testing.T) {
	fake := newFake()
	s := NewStore(fake, ordersTable)
	keys := idempotency.NewStore(fake, keysTable, 0)
	createPending(t, s, keys, sampleOrder("o-1", "b-1", "c-1"))
	createPending(t, s, keys, sampleOrder("o-2", "b-1", "c-2"))

	got, err := s.GetByGatewayReference(context.Background(), "ref-o-2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "o-2", got.OrderID)

	none, err := s.GetByGatewayReference(context.Background(), "ref-unknown")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMarkPaid_ExactlyOnce(t *testing.T) {
	fake := newFake()
	s := NewStore(fake, ordersTable)
	keys := idempotency.NewStore(fake, keysTable, time.Hour)
	o := sampleOrder("o-1", "b-1", "c-1")
	createPending(t, s, keys, o)
	ctx := context.Background()

	err := s.MarkPaid(ctx, "o-1", Payment{PaymentReference: "pay-1", Signature: "sig"}, keys.ReleaseItem(o.CheckoutKey))
	require.NoError(t, err)

	err = s.MarkPaid(ctx, "o-1", Payment{PaymentReference: "pay-2", Signature: "sig2"}, keys.ReleaseItem(o.CheckoutKey))
	assert.True(t, errors.Is(err, ErrStatusMismatch))

	got, err := s.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got.Status)
	assert.Equal(t, "pay-1", got.PaymentReference, "losing transition writes nothing")
	require.NotNil(t, got.PaidAt)

	rec, err := keys.Get(ctx, o.CheckoutKey)
	require.NoError(t, err)
	assert.Equal(t, idempotency.StatusDone, rec.Status)
	assert.NotZero(t, rec.ExpiresAt)
}

func TestMarkFulfilled(t *testing.T) {
	fake := newFake()
	s := NewStore(fake, ordersTable)
	keys := idempotency.NewStore(fake, keysTable, 0)
	o := sampleOrder("o-1", "b-1", "c-1")
	createPending(t, s, keys, o)
	ctx := context.Background()

	_, err := s.MarkFulfilled(ctx, "o-1")
	assert.ErrorIs(t, err, ErrStatusMismatch, "pending orders cannot be fulfilled")

	require.NoError(t, s.MarkPaid(ctx, "o-1", Payment{PaymentReference: "p"}, keys.ReleaseItem(o.CheckoutKey)))

	unfulfilled, err := s.ListUnfulfilled(ctx)
	require.NoError(t, err)
	require.Len(t, unfulfilled, 1)

	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return first }
	set, err := s.MarkFulfilled(ctx, "o-1")
	require.NoError(t, err)
	assert.True(t, set)
	s.nowFunc = func() time.Time { return first.Add(time.Hour) }
	set, err = s.MarkFulfilled(ctx, "o-1")
	require.NoError(t, err)
	assert.False(t, set, "only the first call sets the marker")

	got, err := s.Get(ctx, "o-1")
	require.NoError(t, err)
	require.NotNil(t, got.FulfilledAt)
	assert.True(t, got.FulfilledAt.Equal(first))

	unfulfilled, err = s.ListUnfulfilled(ctx)
	require.NoError(t, err)
	assert.Empty(t, unfulfilled)
}

func TestIncrementAttempts(t *testing.T) {
	fake := newFake()
	s := NewStore(fake, ordersTable)
	keys := idempotency.NewStore(fake, keysTable, 0)
	createPending(t, s, keys, sampleOrder("o-1", "b-1", "c-1"))
	ctx := context.Background()

	require.NoError(t, s.IncrementAttempts(ctx, "o-1"))
	require.NoError(t, s.IncrementAttempts(ctx, "o-1"))

	got, err := s.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)

	assert.Error(t, s.IncrementAttempts(ctx, "missing"))
}

func TestListByInstructor_AndListAll(t *testing.T) {
	fake := newFake()
	s := NewStore(fake, ordersTable)
	keys := idempotency.NewStore(fake, keysTable, 0)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a := sampleOrder("o-a", "b-1", "c-1")
	a.CreatedAt = base.Add(2 * time.Hour)
	b := sampleOrder("o-b", "b-2", "c-2")
	b.InstructorShares = map[string]int64{"inst-2": 500}
	b.InstructorIDs = []string{"inst-2"}
	b.CreatedAt = base.Add(time.Hour)
	c := sampleOrder("o-c", "b-3", "c-1", "c-2")
	c.InstructorShares = map[string]int64{"inst-1": 1000, "inst-2": 500}
	c.InstructorIDs = []string{"inst-1", "inst-2"}
	c.CreatedAt = base
	for _, o := range []Order{a, b, c} {
		createPending(t, s, keys, o)
	}

	mine, err := s.ListByInstructor(context.Background(), "inst-1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "o-c", mine[0].OrderID)
	assert.Equal(t, "o-a", mine[1].OrderID)

	all, err := s.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"o-c", "o-b", "o-a"}, []string{all[0].OrderID, all[1].OrderID, all[2].OrderID})
}

func TestOrder_MarshalOmitsUnsetPaymentFields(t *testing.T) {
	o := sampleOrder("o-1", "b-1", "c-1")
	o.Status = StatusPending
	m, err := attributevalue.MarshalMap(o)
	require.NoError(t, err)
	for _, attr := range []string{"paid_at", "fulfilled_at", "payment_reference", "signature"} {
		_, ok := m[attr]
		assert.False(t, ok, attr)
	}
	_, ok := m["instructor_ids"]
	assert.True(t, ok)
}
