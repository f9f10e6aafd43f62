package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"corpusd/internal/ratelimit"
)

func TestMemoryLimiterAdmitsUpToLimit(t *testing.T) {
	ctx := context.Background()
	limiter := ratelimit.NewMemoryLimiter(time.Minute)

	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(ctx, "t1", 3)
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}

	result, err := limiter.Allow(ctx, "t1", 3)
	require.NoError(t, err)
	require.False(t, result.Allowed)
	require.Greater(t, result.RetryAfterMs, int64(0))
}

func TestMemoryLimiterTracksTenantsIndependently(t *testing.T) {
	ctx := context.Background()
	limiter := ratelimit.NewMemoryLimiter(time.Minute)

	result, err := limiter.Allow(ctx, "t1", 1)
	require.NoError(t, err)
	require.True(t, result.Allowed)

	result, err = limiter.Allow(ctx, "t1", 1)
	require.NoError(t, err)
	require.False(t, result.Allowed)

	result, err = limiter.Allow(ctx, "t2", 1)
	require.NoError(t, err)
	require.True(t, result.Allowed)
}
