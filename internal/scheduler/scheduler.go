// Package scheduler implements the round-robin fairness scheduler described
// in the pipeline design: for a given stage, it picks the next (tenant_id,
// job_id) to hand to a worker, remembering the last-served tenant so the
// rotation resumes after it rather than restarting from the front every
// time. The rotation pointer lives in Redis, not in the worker process, so
// horizontally scaled worker pools share one fairness rotation.
package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"corpusd/internal/model"
	"corpusd/internal/queue"
	"corpusd/internal/telemetry"
)

// ErrNoWork is returned by Next when no tenant has a ready job at the
// requested stage.
var ErrNoWork = errors.New("scheduler: no work")

// stateStore is the subset of redis.UniversalClient the scheduler needs to
// hold the shared last_served/in-flight rotation state. *redis.Client and
// *redis.ClusterClient satisfy it already; tests can substitute a fake.
type stateStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Scheduler chooses the next (tenant, job) pair to serve at a given stage.
type Scheduler struct {
	q       queue.Popper
	redis   stateStore
	nowFunc func() time.Time

	// caps holds optional per-tenant concurrency caps, keyed by stage.
	// Absent entries are treated as uncapped.
	caps map[model.Stage]int

	metrics *telemetry.Metrics
}

// New builds a Scheduler over q, using redisClient to hold the shared
// last_served[stage] rotation pointer. caps maps stage to an optional
// per-tenant in-flight cap (0 or missing means uncapped). metrics may be nil.
func New(q queue.Popper, redisClient stateStore, caps map[model.Stage]int, metrics *telemetry.Metrics) *Scheduler {
	return &Scheduler{q: q, redis: redisClient, nowFunc: time.Now, caps: caps, metrics: metrics}
}

func lastServedKey(stage model.Stage) string {
	return "scheduler:last-served:" + string(stage)
}

func inFlightKey(stage model.Stage, tenantID string) string {
	return "scheduler:in-flight:" + string(stage) + ":" + tenantID
}

// Assignment is one unit of work handed to a worker.
type Assignment struct {
	TenantID string
	JobID    string
}

// Next picks the next ready (tenant, job) for stage, per the round-robin
// algorithm: snapshot active tenants, order deterministically, resume after
// last_served, and return the first tenant whose pop succeeds. Callers
// should retry on ErrNoWork with backoff; Next itself does not block.
func (s *Scheduler) Next(ctx context.Context, stage model.Stage) (Assignment, error) {
	active, err := s.q.ListActiveTenants(ctx, stage)
	if err != nil {
		return Assignment{}, err
	}
	if len(active) == 0 {
		return Assignment{}, ErrNoWork
	}
	sort.Strings(active)

	last, err := s.redis.Get(ctx, lastServedKey(stage)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Assignment{}, err
	}

	order := rotateAfter(active, last)
	now := float64(s.nowFunc().Unix())

	for _, tenantID := range order {
		if !s.underCap(ctx, stage, tenantID) {
			continue
		}
		jobID, err := s.q.PopMin(ctx, tenantID, stage, now)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			return Assignment{}, err
		}
		if tenantID != last && s.metrics != nil {
			s.metrics.ObserveRotation(stage)
		}
		if err := s.redis.Set(ctx, lastServedKey(stage), tenantID, 0).Err(); err != nil {
			return Assignment{}, err
		}
		s.markInFlight(ctx, stage, tenantID, 1)
		return Assignment{TenantID: tenantID, JobID: jobID}, nil
	}
	return Assignment{}, ErrNoWork
}

// Release decrements the in-flight counter for a finished job. Worker pools
// call this after each assigned job's processing step returns.
func (s *Scheduler) Release(ctx context.Context, stage model.Stage, tenantID string) {
	s.markInFlight(ctx, stage, tenantID, -1)
}

func (s *Scheduler) underCap(ctx context.Context, stage model.Stage, tenantID string) bool {
	cap, ok := s.caps[stage]
	if !ok || cap <= 0 {
		return true
	}
	n, err := s.redis.Get(ctx, inFlightKey(stage, tenantID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return true // fail open: a state-store outage should not stall the pipeline
	}
	return n < int64(cap)
}

func (s *Scheduler) markInFlight(ctx context.Context, stage model.Stage, tenantID string, delta int64) {
	key := inFlightKey(stage, tenantID)
	s.redis.IncrBy(ctx, key, delta)
	s.redis.Expire(ctx, key, time.Hour)
}

// rotateAfter orders active deterministically (already sorted by caller) and
// rotates it so iteration starts immediately after last. If last is empty or
// no longer present, iteration starts from the front.
func rotateAfter(active []string, last string) []string {
	if last == "" {
		return active
	}
	idx := sort.SearchStrings(active, last)
	start := 0
	if idx < len(active) && active[idx] == last {
		start = idx + 1
	} else {
		start = idx
	}
	if start >= len(active) {
		start = 0
	}
	out := make([]string, 0, len(active))
	out = append(out, active[start:]...)
	out = append(out, active[:start]...)
	return out
}

// BackoffSleep returns a jittered delay for a scheduler poll loop that found
// no ready work, capped at max.
func BackoffSleep(attempt int, max time.Duration) time.Duration {
	base := time.Duration(1<<uint(min(attempt, 6))) * 50 * time.Millisecond
	if base > max {
		base = max
	}
	jitter := time.Duration(rand.Int63n(int64(base) / 2 + 1))
	return base/2 + jitter
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
