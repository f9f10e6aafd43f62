// Package worker holds the shared loop, backoff, and lease-fence plumbing
// used by all three stage pools (extract, chunk, embed). Each stage
// implements Processor; Pool drives the scheduler and the retry state
// machine around it.
package worker

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	"corpusd/internal/errs"
	"corpusd/internal/metadatastore"
	"corpusd/internal/model"
	"corpusd/internal/queue"
	"corpusd/internal/scheduler"
	"corpusd/internal/telemetry"
)

// Processor executes one job's work. It returns an *errs.Error so the pool
// can classify retryability; any other error is treated as permanent.
type Processor interface {
	Stage() model.Stage
	Process(ctx context.Context, job model.Job) error
}

// Pool drives N goroutines pulling Assignments for one stage from the
// scheduler and running them through a Processor, handling the lease fence,
// exponential backoff, and dead-lettering.
type Pool struct {
	store      metadatastore.Store
	sched      *scheduler.Scheduler
	queue      queue.Enqueuer
	proc       Processor
	log        zerolog.Logger
	count      int
	maxBackoff time.Duration
	stageBudget time.Duration
	metrics    *telemetry.Metrics
}

// NewPool builds a worker pool of `count` goroutines for proc's stage.
// stageBudget is the per-job wall-clock timeout (extract 5m, chunk 2m, embed
// 10m by default, per job design). metrics may be nil, in which case the pool
// runs unobserved. q is used only to re-enqueue a job at its new backoff
// score on a retryable failure — the scheduler pops work from the queue's
// sorted set, not from metadata, so a retry that only updates RetryJob's
// row without re-enqueueing would silently drop the job.
func NewPool(store metadatastore.Store, sched *scheduler.Scheduler, q queue.Enqueuer, proc Processor, log zerolog.Logger, count int, stageBudget time.Duration, metrics *telemetry.Metrics) *Pool {
	return &Pool{
		store:       store,
		sched:       sched,
		queue:       q,
		proc:        proc,
		log:         log.With().Str("stage", string(proc.Stage())).Logger(),
		count:       count,
		maxBackoff:  2 * time.Second,
		stageBudget: stageBudget,
		metrics:     metrics,
	}
}

// Run blocks until ctx is canceled, running `count` worker goroutines. On
// cancellation it stops taking new jobs and waits for in-flight jobs to
// finish; each in-flight job is bounded by the pool's stage budget, not by
// ctx.
func (p *Pool) Run(ctx context.Context) {
	done := make(chan struct{}, p.count)
	for i := 0; i < p.count; i++ {
		go func(id int) {
			p.loop(ctx, id)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < p.count; i++ {
		<-done
	}
}

func (p *Pool) loop(ctx context.Context, workerID int) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		assignment, err := p.sched.Next(ctx, p.proc.Stage())
		if errors.Is(err, scheduler.ErrNoWork) {
			attempt++
			sleep := scheduler.BackoffSleep(attempt, p.maxBackoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(sleep):
			}
			continue
		}
		if err != nil {
			p.log.Error().Err(err).Msg("scheduler error")
			continue
		}
		attempt = 0
		p.runOne(ctx, assignment.JobID)
		p.sched.Release(ctx, p.proc.Stage(), assignment.TenantID)
	}
}

func (p *Pool) runOne(ctx context.Context, jobID string) {
	// Shutdown does not cut a claimed job short: only the stage budget does.
	runCtx := context.WithoutCancel(ctx)
	jobCtx, cancel := context.WithTimeout(runCtx, p.stageBudget)
	defer cancel()

	if err := p.store.TransitionJobProcessing(jobCtx, jobID); err != nil {
		if errors.Is(err, metadatastore.ErrAlreadyProcessing) {
			return // lease fence lost the race; another worker owns it
		}
		p.log.Error().Err(err).Str("job_id", jobID).Msg("transition to processing failed")
		return
	}

	job, err := p.store.GetJob(jobCtx, jobID)
	if err != nil {
		p.log.Error().Err(err).Str("job_id", jobID).Msg("load job after claim failed")
		return
	}

	procErr := p.proc.Process(jobCtx, job)
	if procErr == nil {
		if err := p.store.CompleteJob(runCtx, job.JobID); err != nil {
			p.log.Error().Err(err).Str("job_id", job.JobID).Msg("complete job failed")
		}
		if p.metrics != nil {
			p.metrics.ObserveCompleted(p.proc.Stage())
		}
		return
	}
	p.handleFailure(runCtx, job, procErr)
}

func (p *Pool) handleFailure(ctx context.Context, job model.Job, procErr error) {
	log := p.log.With().Str("job_id", job.JobID).Str("document_id", job.DocumentID).Logger()

	e, ok := errs.As(procErr)
	retryable := ok && e.Retryable()

	if retryable && job.RetryCount < job.MaxRetries {
		delay := time.Duration(math.Pow(2, float64(job.RetryCount+1))) * time.Second
		score := float64(time.Now().Add(delay).Unix())
		if err := p.store.RetryJob(ctx, job.JobID, score, procErr.Error()); err != nil {
			log.Error().Err(err).Msg("retry transition failed")
			return
		}
		if err := p.queue.Enqueue(ctx, job.TenantID, job.Stage, job.JobID, score); err != nil {
			log.Error().Err(err).Msg("re-enqueue after retry failed")
			return
		}
		log.Warn().Int("retry_count", job.RetryCount+1).Dur("delay", delay).Msg("job retrying after transient failure")
		if p.metrics != nil {
			p.metrics.ObserveRetried(p.proc.Stage())
		}
		return
	}

	if err := p.store.DeadLetterJob(ctx, job.JobID, procErr.Error()); err != nil {
		log.Error().Err(err).Msg("dead-letter transition failed")
		return
	}
	if err := p.store.UpdateDocumentStatus(ctx, job.TenantID, job.DocumentID, model.DocumentFailed, procErr.Error()); err != nil {
		log.Error().Err(err).Msg("document failed-status transition failed")
	}
	if p.metrics != nil {
		p.metrics.ObserveDeadLettered(p.proc.Stage())
	}
	log.Error().Err(procErr).Msg("job dead-lettered")
}
