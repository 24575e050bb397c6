package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-course-settlement/internal/testutil/dynamofake"
)

func newStore() (*Store, *dynamofake.Fake) {
	fake := dynamofake.New().
		CreateTable("instructor_revenue", "instructor_id").
		CreateTable("revenue_credits", "credit_id")
	return NewStore(fake, "instructor_revenue", "revenue_credits"), fake
}

func TestCredit_OncePerOrder(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()

	applied, err := s.Credit(ctx, "X", "order-1", 1000)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.Credit(ctx, "X", "order-1", 1000)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = s.Credit(ctx, "X", "order-2", 1000)
	require.NoError(t, err)
	assert.True(t, applied, "a distinct order credits independently")

	bal, err := s.Balance(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), bal)

	ok, err := s.Credited(ctx, "X", "order-1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Credited(ctx, "Y", "order-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCredit_Negative(t *testing.T) {
	s, fake := newStore()
	_, err := s.Credit(context.Background(), "X", "order-1", -1)
	assert.ErrorIs(t, err, ErrNegativeAmount)
	assert.Zero(t, fake.Calls("TransactWriteItems"))
}

func TestCredit_ZeroAmountIsRecorded(t *testing.T) {
	s, _ := newStore()
	applied, err := s.Credit(context.Background(), "X", "free-order", 0)
	require.NoError(t, err)
	assert.True(t, applied)

	bal, err := s.Balance(context.Background(), "X")
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestBalance_Unknown(t *testing.T) {
	s, _ := newStore()
	bal, err := s.Balance(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestCredit_ConcurrentNoLostUpdates(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// every order is credited twice; only one of each pair applies
			for j := 0; j < 2; j++ {
				_, err := s.Credit(ctx, "X", fmt.Sprintf("order-%d", i), 10)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	bal, err := s.Balance(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal)
}

func TestCredit_StoreFailure(t *testing.T) {
	s, fake := newStore()
	fake.SetHook(func(op, _ string) error {
		if op == "TransactWriteItems" {
			return errors.New("ProvisionedThroughputExceeded")
		}
		return nil
	})
	_, err := s.Credit(context.Background(), "X", "order-1", 10)
	require.Error(t, err)

	fake.SetHook(nil)
	bal, err := s.Balance(context.Background(), "X")
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestCredit_TransactionConflictIsAnError(t *testing.T) {
	s, fake := newStore()
	ctx := context.Background()
	fake.SetHook(func(op, _ string) error {
		if op == "TransactWriteItems" {
			return dynamofake.Cancelled("TransactionConflict", "None")
		}
		return nil
	})

	applied, err := s.Credit(ctx, "X", "order-1", 10)
	require.Error(t, err, "a conflict is not a duplicate credit")
	assert.False(t, applied)

	fake.SetHook(nil)
	applied, err = s.Credit(ctx, "X", "order-1", 10)
	require.NoError(t, err)
	assert.True(t, applied)

	bal, err := s.Balance(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, int64(10), bal)
}
