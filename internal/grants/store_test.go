package grants

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-course-settlement/internal/testutil/dynamofake"
)

func TestGrant_UnionOnly(t *testing.T) {
	fake := dynamofake.New().CreateTable("purchases", "buyer_id")
	s := NewStore(fake, "purchases")
	ctx := context.Background()

	require.NoError(t, s.Grant(ctx, "b-1", []string{"B", "A"}))
	require.NoError(t, s.Grant(ctx, "b-1", []string{"A", "B"}))
	require.NoError(t, s.Grant(ctx, "b-1", []string{"C"}))

	owned, err := s.Owned(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, owned)
}

func TestGrant_EmptyIsNoop(t *testing.T) {
	fake := dynamofake.New().CreateTable("purchases", "buyer_id")
	s := NewStore(fake, "purchases")

	require.NoError(t, s.Grant(context.Background(), "b-1", nil))
	assert.Zero(t, fake.Calls("UpdateItem"))
}

func TestOwned_Unknown(t *testing.T) {
	s := NewStore(dynamofake.New().CreateTable("purchases", "buyer_id"), "purchases")
	owned, err := s.Owned(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestGrant_Concurrent(t *testing.T) {
	fake := dynamofake.New().CreateTable("purchases", "buyer_id")
	s := NewStore(fake, "purchases")
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, set := range [][]string{{"A"}, {"B"}, {"A", "C"}, {"D"}, {"B", "D"}} {
		wg.Add(1)
		go func(ids []string) {
			defer wg.Done()
			assert.NoError(t, s.Grant(ctx, "b-1", ids))
		}(set)
	}
	wg.Wait()

	owned, err := s.Owned(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, owned)
}
