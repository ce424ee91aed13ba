// Package sched drives periodic background work through an idempotent job
// queue with bounded retries. Retry loops are explicit state transitions
// (pending re-enqueue with an incremented attempt) driven by the worker's
// clock, never in-process sleep-and-retry, so a crashed worker cannot
// strand a job: any worker may reclaim a pending row.
package sched

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fundwatch/fund-engine/internal/metrics"
	"github.com/fundwatch/fund-engine/internal/model"
	"github.com/fundwatch/fund-engine/internal/store"
)

var (
	// ErrAlreadyClaimed is surfaced when a claim loses the race: the job
	// was no longer pending. The loser backs off; no work is duplicated.
	ErrAlreadyClaimed = errors.New("sched: job already claimed")

	// ErrNotCancellable is surfaced when cancelling a job that has
	// started or finished; running work is never preempted.
	ErrNotCancellable = errors.New("sched: job is not pending")

	// ErrExecutorFailure wraps an executor error so collaborator error
	// types never leak across the scheduling boundary.
	ErrExecutorFailure = errors.New("sched: executor failed")
)

// IdempotencyKey derives a job's key from its type, parameter hash, and
// scheduled time. Recurring enqueues within the same schedule slot map to
// the same key.
func IdempotencyKey(jobType model.JobType, payload string, scheduledAt time.Time) string {
	payloadSum := sha256.Sum256([]byte(payload))
	key := fmt.Sprintf("%s:%s:%s",
		jobType, hex.EncodeToString(payloadSum[:8]), scheduledAt.UTC().Format(time.RFC3339))
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Scheduler owns job lifecycle transitions. Every mutation is a single
// atomic store operation, so concurrent workers racing on the same job
// never both succeed.
type Scheduler struct {
	store       store.Store
	maxAttempts int
}

// NewScheduler creates a scheduler; maxAttempts bounds retries per job.
func NewScheduler(st store.Store, maxAttempts int) *Scheduler {
	return &Scheduler{store: st, maxAttempts: maxAttempts}
}

// Enqueue inserts a pending job unless a live job already holds the key,
// in which case the existing job is returned unchanged (idempotent
// enqueue).
func (s *Scheduler) Enqueue(ctx context.Context, jobType model.JobType, payload string, scheduledAt time.Time) (*model.Job, error) {
	key := IdempotencyKey(jobType, payload, scheduledAt)

	job := &model.Job{
		JobID:          uuid.New().String(),
		JobType:        jobType,
		ScheduledAt:    scheduledAt,
		Status:         model.JobPending,
		Attempt:        0,
		MaxAttempts:    s.maxAttempts,
		IdempotencyKey: key,
		Payload:        payload,
		CreatedAt:      time.Now().UTC(),
	}

	err := s.store.InsertJob(ctx, job)
	if errors.Is(err, store.ErrConflict) {
		existing, getErr := s.store.GetLiveJobByKey(ctx, key)
		if getErr != nil {
			return nil, fmt.Errorf("load live job for key %s: %w", key, getErr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	metrics.JobsEnqueued.WithLabelValues(string(jobType)).Inc()
	slog.Info("job enqueued",
		"job_id", job.JobID,
		"job_type", string(jobType),
		"scheduled_at", scheduledAt,
	)
	return job, nil
}

// Claim moves pending → running. The conditional update guards against
// double dispatch: the losing worker sees ErrAlreadyClaimed.
func (s *Scheduler) Claim(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.store.ClaimJob(ctx, jobID, time.Now().UTC())
	if errors.Is(err, store.ErrStaleStatus) {
		return nil, ErrAlreadyClaimed
	}
	return job, err
}

// Complete moves running → completed.
func (s *Scheduler) Complete(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.store.CompleteJob(ctx, jobID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	metrics.JobRuns.WithLabelValues(string(job.JobType), "completed").Inc()
	return job, nil
}

// RetryOrFail records a failed execution: the attempt count increments,
// and the job returns to pending while attempts remain, or becomes failed
// (terminal) with the error retained once the budget is exhausted.
func (s *Scheduler) RetryOrFail(ctx context.Context, jobID string, execErr error) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	attempt := job.Attempt + 1
	msg := execErr.Error()

	if attempt < job.MaxAttempts {
		requeued, err := s.store.RequeueJob(ctx, jobID, attempt, msg)
		if err != nil {
			return nil, err
		}
		metrics.JobRuns.WithLabelValues(string(job.JobType), "retried").Inc()
		slog.Warn("job requeued",
			"job_id", jobID,
			"attempt", attempt,
			"max_attempts", job.MaxAttempts,
			"err", msg,
		)
		return requeued, nil
	}

	failed, err := s.store.FailJob(ctx, jobID, attempt, msg, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	metrics.JobRuns.WithLabelValues(string(job.JobType), "failed").Inc()
	slog.Error("job failed terminally",
		"job_id", jobID,
		"attempt", attempt,
		"err", msg,
	)
	return failed, nil
}

// Cancel moves pending → cancelled. Running jobs must complete or fail
// first; there is no preemption.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.store.CancelJob(ctx, jobID, time.Now().UTC())
	if errors.Is(err, store.ErrStaleStatus) {
		return nil, ErrNotCancellable
	}
	return job, err
}

// Get retrieves a job by ID.
func (s *Scheduler) Get(ctx context.Context, jobID string) (*model.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// backoffBase and backoffCap bound the retry delay.
const (
	backoffBase = 30 * time.Second
	backoffCap  = 15 * time.Minute
)

// Backoff returns the delay before a requeued job becomes eligible again,
// exponential in the attempt number.
func Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := backoffBase << (attempt - 1)
	if d > backoffCap || d <= 0 {
		return backoffCap
	}
	return d
}
