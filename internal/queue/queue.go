// Package queue is the queue substrate: a family of per-(tenant, stage)
// ordered sets keyed by priority score, backed by Redis sorted sets. Lower
// score is served first; members with an equal score are served in lexical
// job-id order. Job ids are random UUIDs, so equal-score jobs are not served
// in insertion order.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"corpusd/internal/model"
)

// ErrEmpty is returned by PopMin when the tenant/stage set has no job ready
// (either no members, or every member's score is still in the future).
var ErrEmpty = errors.New("queue: empty")

// Enqueuer is the subset of Queue that workers and the dispatcher need to
// hand off a job to the next stage. Consumers depend on this interface
// rather than *Queue so tests can substitute an in-memory fake instead of a
// live Redis instance.
type Enqueuer interface {
	Enqueue(ctx context.Context, tenantID string, stage model.Stage, jobID string, score float64) error
}

// Popper is what the scheduler needs to find and claim ready work. *Queue
// satisfies it; tests can substitute a fake.
type Popper interface {
	ListActiveTenants(ctx context.Context, stage model.Stage) ([]string, error)
	PopMin(ctx context.Context, tenantID string, stage model.Stage, now float64) (string, error)
}

// Queue is the per-(tenant, stage) ordered-set substrate.
type Queue struct {
	client redis.UniversalClient
}

// New wraps an already-constructed Redis client.
func New(client redis.UniversalClient) *Queue {
	return &Queue{client: client}
}

func setKey(stage model.Stage, tenantID string) string {
	return fmt.Sprintf("queue:{%s}:%s", stage, tenantID)
}

// activeTenantsKey indexes which tenants currently have at least one member
// in their per-stage set, so ListActiveTenants doesn't require a SCAN over
// the keyspace.
func activeTenantsKey(stage model.Stage) string {
	return fmt.Sprintf("queue-active:%s", stage)
}

// Enqueue adds job_id to the (tenant, stage) set with the given score.
// Idempotent: re-adding the same job_id just updates its score.
func (q *Queue) Enqueue(ctx context.Context, tenantID string, stage model.Stage, jobID string, score float64) error {
	pipe := q.client.TxPipeline()
	pipe.ZAdd(ctx, setKey(stage, tenantID), redis.Z{Score: score, Member: jobID})
	pipe.SAdd(ctx, activeTenantsKey(stage), tenantID)
	_, err := pipe.Exec(ctx)
	return err
}

// popMinScript atomically pops the lowest-scoring member whose score is <=
// the caller-supplied "now", so jobs delayed by backoff aren't served early.
// It also drops the tenant from the active-tenants index when the set
// becomes empty.
var popMinScript = redis.NewScript(`
local members = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #members == 0 then
  return false
end
redis.call('ZREM', KEYS[1], members[1])
if redis.call('ZCARD', KEYS[1]) == 0 then
  redis.call('SREM', KEYS[2], ARGV[2])
end
return members[1]
`)

// PopMin atomically removes and returns the lowest-scoring ready job_id for
// (tenant, stage), or ErrEmpty if none is ready.
func (q *Queue) PopMin(ctx context.Context, tenantID string, stage model.Stage, now float64) (string, error) {
	res, err := popMinScript.Run(ctx, q.client,
		[]string{setKey(stage, tenantID), activeTenantsKey(stage)},
		now, tenantID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", err
	}
	jobID, ok := res.(string)
	if !ok {
		return "", ErrEmpty
	}
	return jobID, nil
}

// ListActiveTenants returns tenants with >=1 pending job at stage. "Active"
// here means present in the index, which includes jobs scored in the future
// (backoff-delayed); the scheduler's pop attempt is what actually filters on
// readiness.
func (q *Queue) ListActiveTenants(ctx context.Context, stage model.Stage) ([]string, error) {
	return q.client.SMembers(ctx, activeTenantsKey(stage)).Result()
}

// Length reports the number of members (ready or backoff-delayed) in a
// tenant's per-stage set.
func (q *Queue) Length(ctx context.Context, tenantID string, stage model.Stage) (int64, error) {
	return q.client.ZCard(ctx, setKey(stage, tenantID)).Result()
}
