package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"corpusd/internal/errs"
	"corpusd/internal/metadatastore"
	"corpusd/internal/model"
	"corpusd/internal/queue"
	"corpusd/internal/scheduler"
)

// fakeRedisState is a minimal stand-in for the few redis.UniversalClient
// methods the scheduler needs, letting these tests build a real
// scheduler.Scheduler without a live Redis server.
type fakeRedisState struct {
	mu       sync.Mutex
	strings  map[string]string
	counters map[string]int64
}

func newFakeRedisState() *fakeRedisState {
	return &fakeRedisState{strings: make(map[string]string), counters: make(map[string]int64)}
}

func (f *fakeRedisState) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	if v, ok := f.strings[key]; ok {
		cmd.SetVal(v)
		return cmd
	}
	cmd.SetErr(redis.Nil)
	return cmd
}

func (f *fakeRedisState) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strings[key] = value.(string)
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedisState) IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[key] += value
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(f.counters[key])
	return cmd
}

func (f *fakeRedisState) Expire(ctx context.Context, _ string, _ time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	cmd.SetVal(true)
	return cmd
}

// stubProcessor lets each test control exactly what Process returns, and how
// many times it was called.
type stubProcessor struct {
	mu    sync.Mutex
	stage model.Stage
	calls int
	fn    func(call int, job model.Job) error
}

func (s *stubProcessor) Stage() model.Stage { return s.stage }

func (s *stubProcessor) Process(ctx context.Context, job model.Job) error {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.fn(call, job)
}

func seedJob(t *testing.T, store metadatastore.Store, stage model.Stage, maxRetries int) model.Job {
	t.Helper()
	ctx := context.Background()
	tenant := model.Tenant{TenantID: "t1", Name: "acme", CredentialFingerprint: "fp", RateLimitPerMinute: 100}
	require.NoError(t, store.CreateTenant(ctx, tenant))

	doc := model.Document{DocumentID: "d1", TenantID: tenant.TenantID, Filename: "a.txt", Status: model.DocumentPending}
	job := model.Job{JobID: "j1", TenantID: tenant.TenantID, DocumentID: doc.DocumentID, Stage: stage, Status: model.JobPending, MaxRetries: maxRetries}
	require.NoError(t, store.CreateDocumentWithExtractJob(ctx, doc, job))
	return job
}

func TestRunOneCompletesJobOnSuccess(t *testing.T) {
	ctx := context.Background()
	store := metadatastore.NewMemoryStore()
	q := queue.NewMemoryQueue()
	sched := scheduler.New(q, newFakeRedisState(), nil, nil)
	proc := &stubProcessor{stage: model.StageExtract, fn: func(call int, job model.Job) error { return nil }}
	pool := NewPool(store, sched, q, proc, zerolog.Nop(), 1, time.Second, nil)

	job := seedJob(t, store, model.StageExtract, 3)

	pool.runOne(ctx, job.JobID)

	require.Equal(t, 1, proc.calls)
	got, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, model.JobCompleted, got.Status)
}

func TestRunOneRetriesTransientFailureAndReenqueues(t *testing.T) {
	ctx := context.Background()
	store := metadatastore.NewMemoryStore()
	q := queue.NewMemoryQueue()
	sched := scheduler.New(q, newFakeRedisState(), nil, nil)
	proc := &stubProcessor{stage: model.StageExtract, fn: func(call int, job model.Job) error {
		return errs.New(errs.Transient, "boom")
	}}
	pool := NewPool(store, sched, q, proc, zerolog.Nop(), 1, time.Second, nil)

	job := seedJob(t, store, model.StageExtract, 3)

	pool.runOne(ctx, job.JobID)

	got, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, model.JobPending, got.Status)
	require.Equal(t, 1, got.RetryCount)

	// The retried job must have been re-enqueued with its new backoff score,
	// not merely updated in the metadata store — the scheduler only ever
	// reads from the queue.
	length, err := q.Length(ctx, job.TenantID, model.StageExtract)
	require.NoError(t, err)
	require.Equal(t, int64(1), length)
}

func TestRunOneDeadLettersAfterMaxRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	store := metadatastore.NewMemoryStore()
	q := queue.NewMemoryQueue()
	sched := scheduler.New(q, newFakeRedisState(), nil, nil)
	proc := &stubProcessor{stage: model.StageExtract, fn: func(call int, job model.Job) error {
		return errs.New(errs.Transient, "still failing")
	}}
	pool := NewPool(store, sched, q, proc, zerolog.Nop(), 1, time.Second, nil)

	job := seedJob(t, store, model.StageExtract, 0)

	pool.runOne(ctx, job.JobID)

	got, err := store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, model.JobDead, got.Status)

	doc, err := store.GetDocument(ctx, job.TenantID, job.DocumentID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentFailed, doc.Status)
}

func TestRunOneSkipsWhenLeaseAlreadyClaimed(t *testing.T) {
	ctx := context.Background()
	store := metadatastore.NewMemoryStore()
	q := queue.NewMemoryQueue()
	sched := scheduler.New(q, newFakeRedisState(), nil, nil)
	proc := &stubProcessor{stage: model.StageExtract, fn: func(call int, job model.Job) error { return nil }}
	pool := NewPool(store, sched, q, proc, zerolog.Nop(), 1, time.Second, nil)

	job := seedJob(t, store, model.StageExtract, 3)
	require.NoError(t, store.TransitionJobProcessing(ctx, job.JobID))

	pool.runOne(ctx, job.JobID)

	require.Equal(t, 0, proc.calls)
}
