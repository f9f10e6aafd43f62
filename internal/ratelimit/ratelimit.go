// Package ratelimit implements the sliding-window per-tenant admission
// check that guards the API surface's upload and search endpoints. It never
// gates worker-internal enqueues.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Result is the outcome of an admission check.
type Result struct {
	Allowed      bool
	RetryAfterMs int64
}

// Allower is the admission check the dispatcher depends on. *Limiter
// satisfies it; tests can substitute a fake instead of a live Redis
// instance.
type Allower interface {
	Allow(ctx context.Context, tenantID string, limit int) (Result, error)
}

// Limiter is a Redis sorted-set sliding-window limiter: one entry per
// admitted request, scored by its timestamp, with entries older than the
// window evicted on every check.
type Limiter struct {
	client redis.UniversalClient
	window time.Duration
}

// New builds a Limiter with the given sliding-window length.
func New(client redis.UniversalClient, window time.Duration) *Limiter {
	return &Limiter{client: client, window: window}
}

func key(tenantID string) string { return "ratelimit:" + tenantID }

// admitScript evicts entries older than the window, counts what remains,
// and — only if that count is still under the limit — records this request,
// all atomically so concurrent requests from the same tenant can't both
// slip through at the boundary.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)
local count = redis.call('ZCARD', key)
if count >= limit then
  return 0
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, ARGV[5])
return 1
`)

// Allow admits the request iff fewer than limit requests were admitted in
// tenantID's sliding window, and records "now" only for an admitted request.
func (l *Limiter) Allow(ctx context.Context, tenantID string, limit int) (Result, error) {
	now := time.Now()
	windowStart := now.Add(-l.window)
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	res, err := admitScript.Run(ctx, l.client,
		[]string{key(tenantID)},
		now.UnixMilli(), windowStart.UnixMilli(), limit, member, l.window.Milliseconds()+1000,
	).Int()
	if err != nil {
		return Result{}, err
	}
	if res == 1 {
		return Result{Allowed: true}, nil
	}
	return Result{Allowed: false, RetryAfterMs: l.window.Milliseconds()}, nil
}
