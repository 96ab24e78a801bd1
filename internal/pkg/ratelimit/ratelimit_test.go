package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLimiter(t *testing.T, limit int, window time.Duration) *Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, zap.NewNop(), limit, window)
}

func TestEvaluateAllowsUnderLimit(t *testing.T) {
	now := time.Now()
	window := time.Hour

	res := evaluate(5, 0, now, window)
	assert.True(t, res.Allowed)
	assert.Equal(t, 5, res.Limit)
	assert.Equal(t, 4, res.Remaining)
	assert.Equal(t, now.Add(window), res.ResetAt)

	res = evaluate(5, 4, now, window)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
}

func TestEvaluateDeniesAtLimit(t *testing.T) {
	now := time.Now()

	res := evaluate(5, 5, now, time.Hour)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	res = evaluate(5, 9, now, time.Hour)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
}

func TestRetryAfterDurationRoundsUpToWholeSeconds(t *testing.T) {
	window := time.Hour
	now := time.Now()

	// 29m59.7s left in the window rounds up to a clean 30m
	oldest := now.Add(-30*time.Minute - 300*time.Millisecond)
	wait := retryAfterDuration(oldest, now, window)
	assert.Equal(t, 30*time.Minute, wait)
	assert.Zero(t, wait%time.Second)

	// entry already out of the window still reports a minimal wait
	assert.Equal(t, time.Second, retryAfterDuration(now.Add(-2*time.Hour), now, window))
}

func TestRetryAfterDurationFullWindowWhenFresh(t *testing.T) {
	now := time.Now()
	assert.Equal(t, time.Hour, retryAfterDuration(now, now, time.Hour))
}

func TestCheckDeniesAfterLimit(t *testing.T) {
	l := newTestLimiter(t, 2, time.Hour)
	ctx := context.Background()

	first := l.Check(ctx, "1.2.3.4")
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)

	second := l.Check(ctx, "1.2.3.4")
	assert.True(t, second.Allowed)
	assert.Equal(t, 0, second.Remaining)

	third := l.Check(ctx, "1.2.3.4")
	require.False(t, third.Allowed)
	assert.Equal(t, 0, third.Remaining)
	assert.GreaterOrEqual(t, third.RetryAfter, time.Second)
	assert.LessOrEqual(t, third.RetryAfter, time.Hour)

	// other identifiers keep their own window
	other := l.Check(ctx, "5.6.7.8")
	assert.True(t, other.Allowed)
}

func TestStatusDoesNotRecordAttempt(t *testing.T) {
	l := newTestLimiter(t, 2, time.Hour)
	ctx := context.Background()

	l.Check(ctx, "1.2.3.4")

	for i := 0; i < 5; i++ {
		st := l.Status(ctx, "1.2.3.4")
		assert.True(t, st.Allowed)
		assert.Equal(t, 1, st.Remaining)
	}

	// the window still has room for one real attempt
	res := l.Check(ctx, "1.2.3.4")
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
}

func TestResetClearsWindow(t *testing.T) {
	l := newTestLimiter(t, 1, time.Hour)
	ctx := context.Background()

	assert.True(t, l.Check(ctx, "1.2.3.4").Allowed)
	assert.False(t, l.Check(ctx, "1.2.3.4").Allowed)

	require.NoError(t, l.Reset(ctx, "1.2.3.4"))
	assert.True(t, l.Check(ctx, "1.2.3.4").Allowed)
}

func TestCheckFailsOpenWhenStoreUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	l := New(client, zap.NewNop(), 5, time.Hour)

	res := l.Check(context.Background(), "1.2.3.4")
	assert.True(t, res.Allowed)
	assert.Equal(t, 5, res.Limit)
	assert.Equal(t, 5, res.Remaining)
	assert.Zero(t, res.RetryAfter)
}
