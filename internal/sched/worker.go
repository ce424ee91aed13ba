package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fundwatch/fund-engine/internal/metrics"
	"github.com/fundwatch/fund-engine/internal/model"
	"github.com/fundwatch/fund-engine/internal/store"
)

// claimBatch bounds how many due jobs one tick processes.
const claimBatch = 20

// RecurringJob describes a job type the worker keeps enqueued on a fixed
// interval. ScheduledAt is truncated to the interval, so every worker in
// a fleet derives the same idempotency key for the same slot and the
// duplicate enqueues collapse.
type RecurringJob struct {
	Type     model.JobType
	Interval time.Duration
	Payload  string
}

// Worker polls for due jobs, claims them, and runs the registered
// executor. A job is running (not locked) while its executor awaits an
// external call; other jobs and reads proceed unimpeded.
type Worker struct {
	sched     *Scheduler
	store     store.Store
	executors map[model.JobType]Executor
	recurring []RecurringJob
	lastSlot  map[int]time.Time // recurring index → last enqueued slot
	tick      time.Duration
}

// NewWorker creates a worker polling at the given interval.
func NewWorker(sched *Scheduler, st store.Store, tick time.Duration) *Worker {
	return &Worker{
		sched:     sched,
		store:     st,
		executors: make(map[model.JobType]Executor),
		lastSlot:  make(map[int]time.Time),
		tick:      tick,
	}
}

// Register binds an executor to a job type.
func (w *Worker) Register(jobType model.JobType, ex Executor) {
	w.executors[jobType] = ex
}

// Schedule adds a recurring job definition.
func (w *Worker) Schedule(jobType model.JobType, interval time.Duration, payload string) {
	w.recurring = append(w.recurring, RecurringJob{Type: jobType, Interval: interval, Payload: payload})
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	slog.Info("worker started", "tick", w.tick, "recurring", len(w.recurring))
	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped")
			return
		case <-ticker.C:
			w.Tick(ctx, time.Now().UTC())
		}
	}
}

// Tick enqueues due recurring jobs and processes due pending jobs once.
// Exported so tests and the CLI can drive the worker deterministically.
func (w *Worker) Tick(ctx context.Context, now time.Time) {
	for i, rec := range w.recurring {
		slot := now.Truncate(rec.Interval)
		// Finished jobs free their key, so the slot tracker keeps a
		// completed slot from being enqueued over and over.
		if slot.Equal(w.lastSlot[i]) {
			continue
		}
		if _, err := w.sched.Enqueue(ctx, rec.Type, rec.Payload, slot); err != nil {
			slog.Error("recurring enqueue failed", "job_type", string(rec.Type), "err", err)
			continue
		}
		w.lastSlot[i] = slot
	}

	due, err := w.store.ListDueJobs(ctx, now, claimBatch)
	if err != nil {
		slog.Error("list due jobs failed", "err", err)
		return
	}

	for i := range due {
		job := &due[i]
		// Retried jobs wait out their backoff before becoming eligible.
		if job.Attempt > 0 && now.Before(job.ScheduledAt.Add(Backoff(job.Attempt))) {
			continue
		}
		w.runJob(ctx, job)
	}
}

func (w *Worker) runJob(ctx context.Context, job *model.Job) {
	claimed, err := w.sched.Claim(ctx, job.JobID)
	if err != nil {
		// Lost the race to another worker; back off.
		if !errors.Is(err, ErrAlreadyClaimed) {
			slog.Error("claim failed", "job_id", job.JobID, "err", err)
		}
		return
	}

	ex, ok := w.executors[claimed.JobType]
	if !ok {
		_, _ = w.sched.RetryOrFail(ctx, claimed.JobID,
			fmt.Errorf("%w: no executor for job type %s", ErrExecutorFailure, claimed.JobType))
		return
	}

	start := time.Now()
	execErr := ex.Execute(ctx, claimed)
	metrics.JobDuration.WithLabelValues(string(claimed.JobType)).Observe(time.Since(start).Seconds())

	if execErr != nil {
		// Collaborator errors are folded into ExecutorFailure here;
		// internal exception types never cross the boundary.
		if _, err := w.sched.RetryOrFail(ctx, claimed.JobID, fmt.Errorf("%w: %v", ErrExecutorFailure, execErr)); err != nil {
			slog.Error("retry_or_fail failed", "job_id", claimed.JobID, "err", err)
		}
		return
	}

	if _, err := w.sched.Complete(ctx, claimed.JobID); err != nil {
		slog.Error("complete failed", "job_id", claimed.JobID, "err", err)
	}
}
