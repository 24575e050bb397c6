package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-course-settlement/internal/testutil/dynamofake"
)

const table = "courses"

func seed(t *testing.T, fake *dynamofake.Fake, courses ...Course) {
	t.Helper()
	for _, c := range courses {
		item, err := attributevalue.MarshalMap(c)
		require.NoError(t, err)
		fake.Put(table, item)
	}
}

func TestDynamoSnapshot_ApprovedOnlyInRequestOrder(t *testing.T) {
	fake := dynamofake.New().CreateTable(table, "course_id")
	seed(t, fake,
		Course{CourseID: "c-1", Price: 30000, InstructorID: "A", Approved: true},
		Course{CourseID: "c-2", Price: 20000, InstructorID: "B", Approved: true},
		Course{CourseID: "c-3", Price: 10000, InstructorID: "B", Approved: false},
	)
	snap := NewDynamoSnapshot(fake, table)

	got, err := snap.LookupApprovedCourses(context.Background(), []string{"c-2", "missing", "c-3", "c-1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c-2", got[0].CourseID)
	assert.Equal(t, "c-1", got[1].CourseID)
	assert.Equal(t, int64(30000), got[1].Price)
	assert.Equal(t, "A", got[1].InstructorID)
}

func TestDynamoSnapshot_ChunksLargeRequests(t *testing.T) {
	fake := dynamofake.New().CreateTable(table, "course_id")
	ids := make([]string, 0, 230)
	for i := 0; i < 230; i++ {
		id := fmt.Sprintf("c-%03d", i)
		ids = append(ids, id)
		seed(t, fake, Course{CourseID: id, Price: 100, InstructorID: "A", Approved: true})
	}
	snap := NewDynamoSnapshot(fake, table)

	got, err := snap.LookupApprovedCourses(context.Background(), ids)
	require.NoError(t, err)
	assert.Len(t, got, 230)
	assert.Equal(t, 3, fake.Calls("BatchGetItem"))
}

func TestDynamoSnapshot_StoreError(t *testing.T) {
	fake := dynamofake.New().CreateTable(table, "course_id")
	fake.SetHook(func(op, _ string) error { return errors.New("throttled") })
	_, err := NewDynamoSnapshot(fake, table).LookupApprovedCourses(context.Background(), []string{"c-1"})
	assert.Error(t, err)
}

type fakeRedis struct {
	data map[string]string
	sets int
	err  error
}

func newFakeRedis() *fakeRedis { return &fakeRedis{data: map[string]string{}} }

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.sets++
	f.data[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

type countingSnapshot struct {
	courses map[string]Course
	asked   [][]string
}

func (c *countingSnapshot) LookupApprovedCourses(_ context.Context, ids []string) ([]Course, error) {
	c.asked = append(c.asked, ids)
	var out []Course
	for _, id := range ids {
		if course, ok := c.courses[id]; ok && course.Approved {
			out = append(out, course)
		}
	}
	return out, nil
}

func TestCached_ReadThrough(t *testing.T) {
	next := &countingSnapshot{courses: map[string]Course{
		"c-1": {CourseID: "c-1", Price: 500, InstructorID: "A", Approved: true},
		"c-2": {CourseID: "c-2", Price: 700, InstructorID: "B", Approved: true},
	}}
	rdb := newFakeRedis()
	cached := NewCached(next, rdb, time.Minute, nil)
	ctx := context.Background()

	got, err := cached.LookupApprovedCourses(ctx, []string{"c-1", "c-2", "c-9"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2, rdb.sets)

	got, err = cached.LookupApprovedCourses(ctx, []string{"c-2", "c-1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c-2", got[0].CourseID)
	assert.Len(t, next.asked, 1, "second lookup is served from cache")

	_, err = cached.LookupApprovedCourses(ctx, []string{"c-9"})
	require.NoError(t, err)
	assert.Len(t, next.asked, 2, "misses are never cached")
}

func TestCached_InvalidateRereadsCatalog(t *testing.T) {
	next := &countingSnapshot{courses: map[string]Course{
		"c-1": {CourseID: "c-1", Price: 500, InstructorID: "A", Approved: true},
		"c-2": {CourseID: "c-2", Price: 700, InstructorID: "B", Approved: true},
	}}
	cached := NewCached(next, newFakeRedis(), time.Hour, nil)
	ctx := context.Background()

	_, err := cached.LookupApprovedCourses(ctx, []string{"c-1", "c-2"})
	require.NoError(t, err)

	// repriced and unapproved upstream; the cache still serves the old entries
	next.courses["c-1"] = Course{CourseID: "c-1", Price: 900, InstructorID: "A", Approved: true}
	next.courses["c-2"] = Course{CourseID: "c-2", Price: 700, InstructorID: "B", Approved: false}
	got, err := cached.LookupApprovedCourses(ctx, []string{"c-1", "c-2"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(500), got[0].Price)

	require.NoError(t, cached.Invalidate(ctx, "c-1", "c-2"))
	got, err = cached.LookupApprovedCourses(ctx, []string{"c-1", "c-2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(900), got[0].Price)

	assert.NoError(t, cached.Invalidate(ctx))
}

func TestCached_RedisDownFallsBack(t *testing.T) {
	next := &countingSnapshot{courses: map[string]Course{
		"c-1": {CourseID: "c-1", Price: 500, InstructorID: "A", Approved: true},
	}}
	rdb := newFakeRedis()
	rdb.err = errors.New("connection refused")

	got, err := NewCached(next, rdb, time.Minute, nil).LookupApprovedCourses(context.Background(), []string{"c-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
}
