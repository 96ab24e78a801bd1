package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "gistly:rate_limit:"

// Result describes one admission decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // zero when allowed
}

// Store is the subset of redis commands the limiter issues. Satisfied by
// *redis.Client; faked in tests.
type Store interface {
	TxPipeline() redis.Pipeliner
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) *redis.ZSliceCmd
	ZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Limiter implements a sliding-window rate limit over a Redis sorted set per
// identifier. Members are nanosecond timestamps scored by their unix-milli
// instant, trimmed to the window on every check.
type Limiter struct {
	store  Store
	log    *zap.Logger
	limit  int
	window time.Duration
	now    func() time.Time
}

// New creates a limiter allowing limit requests per window.
func New(store Store, log *zap.Logger, limit int, window time.Duration) *Limiter {
	return &Limiter{
		store:  store,
		log:    log,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (l *Limiter) key(identifier string) string { return keyPrefix + identifier }

// Check records one attempt for identifier and decides admission. The trim,
// count and insert run in one transactional pipeline so concurrent checks for
// the same identifier serialize on the Redis side. Any store failure fails
// open: the request is allowed and the full limit reported.
func (l *Limiter) Check(ctx context.Context, identifier string) Result {
	now := l.now()
	key := l.key(identifier)
	windowStart := now.Add(-l.window)

	pipe := l.store.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", formatScore(windowStart))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  scoreOf(now),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Warn("rate limit store unavailable, failing open",
			zap.String("identifier", identifier), zap.Error(err))
		return Result{Allowed: true, Limit: l.limit, Remaining: l.limit, ResetAt: now.Add(l.window)}
	}

	res := evaluate(l.limit, int(countCmd.Val()), now, l.window)
	if !res.Allowed {
		res.RetryAfter = l.retryAfter(ctx, key, now)
		res.ResetAt = now.Add(res.RetryAfter)
	}
	return res
}

// evaluate decides admission given the entry count prior to this attempt.
func evaluate(limit, priorCount int, now time.Time, window time.Duration) Result {
	remaining := limit - priorCount - 1
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   priorCount < limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   now.Add(window),
	}
}

// Status reports the current window state without recording an attempt.
func (l *Limiter) Status(ctx context.Context, identifier string) Result {
	now := l.now()
	key := l.key(identifier)

	if err := l.store.ZRemRangeByScore(ctx, key, "0", formatScore(now.Add(-l.window))).Err(); err != nil {
		l.log.Warn("rate limit status trim failed",
			zap.String("identifier", identifier), zap.Error(err))
		return Result{Allowed: true, Limit: l.limit, Remaining: l.limit, ResetAt: now.Add(l.window)}
	}

	count, err := l.store.ZCard(ctx, key).Result()
	if err != nil {
		return Result{Allowed: true, Limit: l.limit, Remaining: l.limit, ResetAt: now.Add(l.window)}
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   int(count) < l.limit,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   now.Add(l.window),
	}
}

// Reset clears all recorded attempts for identifier.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	if err := l.store.Del(ctx, l.key(identifier)).Err(); err != nil {
		return fmt.Errorf("reset rate limit for %q: %w", identifier, err)
	}
	return nil
}

// retryAfter computes the wait until the oldest entry leaves the window. Falls
// back to the full window when the set is unreadable or empty.
func (l *Limiter) retryAfter(ctx context.Context, key string, now time.Time) time.Duration {
	entries, err := l.store.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil || len(entries) == 0 {
		return l.window
	}
	oldest := time.UnixMilli(int64(entries[0].Score))
	return retryAfterDuration(oldest, now, l.window)
}

// retryAfterDuration is the whole-second wait until the oldest entry leaves
// the window, at least one second.
func retryAfterDuration(oldest, now time.Time, window time.Duration) time.Duration {
	wait := oldest.Add(window).Sub(now)
	if wait <= 0 {
		return time.Second
	}
	return time.Duration(math.Ceil(wait.Seconds())) * time.Second
}

func scoreOf(t time.Time) float64 { return float64(t.UnixMilli()) }

func formatScore(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
