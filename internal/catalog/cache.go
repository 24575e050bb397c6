package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const courseCachePrefix = "catalog:course:"

// RedisClient is the subset of *redis.Client used by Cached.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Cached is a read-through cache over another Snapshot.
// Only approved courses are cached, so a missing or unapproved course is always re-read.
//
// A cached course is served for up to ttl after it was read. Unapproving or repricing
// it in the catalog takes effect once the entry expires, or at once after Invalidate.
// An order captures whatever price the lookup returned.
type Cached struct {
	next   Snapshot
	redis  RedisClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewCached wraps next. A nil logger discards cache warnings.
func NewCached(next Snapshot, rdb RedisClient, ttl time.Duration, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{next: next, redis: rdb, ttl: ttl, logger: logger}
}

func (c *Cached) LookupApprovedCourses(ctx context.Context, ids []string) ([]Course, error) {
	hits := make(map[string]Course, len(ids))
	var misses []string

	for _, id := range ids {
		raw, err := c.redis.Get(ctx, courseCachePrefix+id).Bytes()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				c.logger.Warn("catalog cache read failed", zap.String("course_id", id), zap.Error(err))
			}
			misses = append(misses, id)
			continue
		}
		var course Course
		if err := json.Unmarshal(raw, &course); err != nil || !course.Approved {
			misses = append(misses, id)
			continue
		}
		hits[id] = course
	}

	if len(misses) > 0 {
		fresh, err := c.next.LookupApprovedCourses(ctx, misses)
		if err != nil {
			return nil, err
		}
		for _, course := range fresh {
			hits[course.CourseID] = course
			c.store(ctx, course)
		}
	}

	out := make([]Course, 0, len(ids))
	for _, id := range ids {
		if course, ok := hits[id]; ok {
			out = append(out, course)
		}
	}
	return out, nil
}

func (c *Cached) store(ctx context.Context, course Course) {
	b, err := json.Marshal(course)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, courseCachePrefix+course.CourseID, b, c.ttl).Err(); err != nil {
		c.logger.Warn("catalog cache write failed", zap.String("course_id", course.CourseID), zap.Error(err))
	}
}

// Invalidate drops the cached entries for ids so the next lookup reads the catalog.
func (c *Cached) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = courseCachePrefix + id
	}
	return c.redis.Del(ctx, keys...).Err()
}
