package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ceyewan/cloudmap-sd/ratelimit"
	"github.com/ceyewan/cloudmap-sd/testkit"
)

func newDistributedLimiter(t *testing.T) ratelimit.Limiter {
	t.Helper()

	redisConn := testkit.GetRedisConnector(t)
	l, err := ratelimit.New(&ratelimit.Config{Driver: ratelimit.DriverDistributed, Prefix: "test:ratelimit:" + testkit.NewID() + ":"},
		ratelimit.WithRedisConnector(redisConn), ratelimit.WithLogger(testkit.NewLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestDistributedLimiter_Allow(t *testing.T) {
	l := newDistributedLimiter(t)
	ctx := context.Background()
	limit := ratelimit.Limit{Rate: 1, Burst: 3}

	for i := 0; i < 3; i++ {
		allowed, err := l.Allow(ctx, "ListNamespaces", limit)
		require.NoError(t, err)
		require.True(t, allowed)
	}
	allowed, err := l.Allow(ctx, "ListNamespaces", limit)
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestDistributedLimiter_SharedAcrossInstances(t *testing.T) {
	redisConn := testkit.GetRedisConnector(t)
	prefix := "test:ratelimit:" + testkit.NewID() + ":"

	a, err := ratelimit.New(&ratelimit.Config{Driver: ratelimit.DriverDistributed, Prefix: prefix}, ratelimit.WithRedisConnector(redisConn))
	require.NoError(t, err)
	b, err := ratelimit.New(&ratelimit.Config{Driver: ratelimit.DriverDistributed, Prefix: prefix}, ratelimit.WithRedisConnector(redisConn))
	require.NoError(t, err)

	ctx := context.Background()
	limit := ratelimit.Limit{Rate: 0.01, Burst: 2}

	ok, err := a.Allow(ctx, "ListServices", limit)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = b.Allow(ctx, "ListServices", limit)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = a.Allow(ctx, "ListServices", limit)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDistributedLimiter_Wait(t *testing.T) {
	l := newDistributedLimiter(t)
	limit := ratelimit.Limit{Rate: 10, Burst: 1}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "wait", limit))
	require.NoError(t, l.Wait(ctx, "wait", limit))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	_, _ = l.Allow(context.Background(), "slow", ratelimit.Limit{Rate: 0.01, Burst: 1})
	require.ErrorIs(t, l.Wait(short, "slow", ratelimit.Limit{Rate: 0.01, Burst: 1}), context.DeadlineExceeded)
}

func TestDistributedLimiter_InvalidInput(t *testing.T) {
	l := newDistributedLimiter(t)
	_, err := l.Allow(context.Background(), "", ratelimit.Limit{Rate: 1, Burst: 1})
	require.ErrorIs(t, err, ratelimit.ErrKeyEmpty)
	_, err = l.AllowN(context.Background(), "k", ratelimit.Limit{Rate: 1, Burst: 1}, -1)
	require.ErrorIs(t, err, ratelimit.ErrInvalidLimit)
}
