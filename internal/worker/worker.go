// Package worker claims jobs from the ledger one at a time, runs them, and
// records the outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/ledger"
	"github.com/xkilldash9x/droidpilot/internal/navigation"
)

// Ledger is the part of the progress ledger a worker uses.
type Ledger interface {
	ClaimNext(ctx context.Context, workerID string, dailyCap int) (schemas.Job, bool, error)
	UpdateStatus(ctx context.Context, jobID, workerID string, upd ledger.StatusUpdate) (schemas.Job, error)
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// JobRunner performs one claimed job and reports how it ended. It must return
// promptly with an aborted outcome once ctx is cancelled.
type JobRunner interface {
	Run(ctx context.Context, job schemas.Job) navigation.Outcome
}

// OutcomeSink receives every recorded outcome. review is set for failures
// that need a human.
type OutcomeSink interface {
	Record(ctx context.Context, rec schemas.OutcomeRecord, review bool) error
}

// Worker is a single claim, run, record loop.
type Worker struct {
	id              string
	ledger          Ledger
	runner          JobRunner
	policy          Policy
	sink            OutcomeSink
	dailyCap        int
	idleMin         time.Duration
	idleMax         time.Duration
	finalizeTimeout time.Duration
	logger          *zap.Logger
	now             func() time.Time
}

// Option is a function that configures a Worker.
type Option func(*Worker)

// WithSink archives outcomes to s.
func WithSink(s OutcomeSink) Option {
	return func(w *Worker) { w.sink = s }
}

// WithPolicy replaces the retry policy built from configuration.
func WithPolicy(p Policy) Option {
	return func(w *Worker) { w.policy = p }
}

// New initializes a worker with identity id.
func New(id string, l Ledger, runner JobRunner, cfg config.Interface, logger *zap.Logger, opts ...Option) *Worker {
	wc := cfg.Worker()
	w := &Worker{
		id:              id,
		ledger:          l,
		runner:          runner,
		policy:          NewPolicy(cfg.Retry()),
		dailyCap:        cfg.Ledger().DailyCap,
		idleMin:         wc.IdleMin,
		idleMax:         wc.IdleMax,
		finalizeTimeout: wc.FinalizeTimeout,
		logger:          logger.With(zap.String("component", "worker"), zap.String("worker_id", id)),
		now:             time.Now,
	}
	if w.idleMin <= 0 {
		w.idleMin = 5 * time.Second
	}
	if w.idleMax < w.idleMin {
		w.idleMax = w.idleMin
	}
	if w.finalizeTimeout <= 0 {
		w.finalizeTimeout = 30 * time.Second
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the worker's identity in the ledger.
func (w *Worker) ID() string { return w.id }

// Run processes jobs until ctx is cancelled. A job in flight at cancellation
// stops after its current step and is released for retry before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	changes, err := w.ledger.Watch(ctx)
	if err != nil {
		w.logger.Warn("Ledger watch unavailable, relying on polling.", zap.Error(err))
		changes = nil
	}

	idle := backoff.NewExponentialBackOff()
	idle.InitialInterval = w.idleMin
	idle.MaxInterval = w.idleMax
	idle.MaxElapsedTime = 0
	idle.Reset()

	w.logger.Info("Worker started.")
	defer w.logger.Info("Worker stopped.")

	for {
		if ctx.Err() != nil {
			return nil
		}
		worked, err := w.RunOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil && errors.Is(err, ledger.ErrLockTimeout):
			w.logger.Warn("Ledger busy, backing off.", zap.String("error_type", string(schemas.CodeLockTimeout)))
		case err != nil:
			w.logger.Error("Ledger operation failed.", zap.Error(err))
		case worked:
			idle.Reset()
			continue
		}

		delay := clampDuration(idle.NextBackOff(), w.idleMin, w.idleMax)
		w.logger.Debug("No eligible job, idling.", zap.Duration("delay", delay))
		if !w.idle(ctx, changes, delay) {
			return nil
		}
	}
}

// idle waits for delay, a ledger change, or cancellation. It reports false on
// cancellation.
func (w *Worker) idle(ctx context.Context, changes <-chan struct{}, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	case _, ok := <-changes:
		if !ok {
			// The watcher has gone away. Keep polling at the timer's pace.
			select {
			case <-ctx.Done():
				return false
			case <-timer.C:
			}
		}
	}
	return true
}

// RunOnce claims and processes at most one job. It reports whether a job was
// claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, ok, err := w.ledger.ClaimNext(ctx, w.id, w.dailyCap)
	if err != nil || !ok {
		return false, err
	}
	w.process(ctx, job)
	return true, nil
}

func (w *Worker) process(ctx context.Context, job schemas.Job) {
	logger := w.logger.With(zap.String("job_id", job.ID), zap.String("account", job.Account), zap.Int("attempt", job.Attempts))
	logger.Info("Running job.")

	start := w.now()
	outcome := w.runSafely(ctx, job)
	if outcome.Duration == 0 {
		outcome.Duration = w.now().Sub(start)
	}
	upd := w.policy.Decide(job, outcome)

	// The final write must land even when the worker is shutting down.
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.finalizeTimeout)
	defer cancel()

	updated, err := w.recordStatus(finalCtx, job.ID, upd, logger)
	if err != nil {
		logger.Error("Failed to record job outcome.", zap.String("outcome", outcome.String()), zap.Error(err))
		return
	}
	logger.Info("Job finished.",
		zap.String("status", string(updated.Status)),
		zap.String("outcome", outcome.String()),
		zap.Duration("retry_in", upd.RetryDelay))

	if w.sink == nil {
		return
	}
	rec := schemas.OutcomeRecord{
		JobID:         updated.ID,
		Account:       updated.Account,
		WorkerID:      w.id,
		Status:        updated.Status,
		Attempt:       job.Attempts,
		State:         string(outcome.State),
		ErrorType:     updated.ErrorType,
		ErrorCategory: updated.ErrorCategory,
		Error:         updated.Error,
		Steps:         outcome.Steps,
		Duration:      outcome.Duration,
		LastScreen:    outcome.LastScreen,
		Screenshot:    outcome.Screenshot,
		FinishedAt:    w.now().UTC(),
	}
	review := updated.Status == schemas.StatusFailed && updated.ErrorType.Permanent()
	if err := w.sink.Record(finalCtx, rec, review); err != nil {
		logger.Warn("Failed to archive outcome.", zap.Error(err))
	}
}

// recordStatus writes the final status, retrying lock timeouts until ctx
// expires. Any other error is returned at once.
func (w *Worker) recordStatus(ctx context.Context, jobID string, upd ledger.StatusUpdate, logger *zap.Logger) (schemas.Job, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0

	var updated schemas.Job
	err := backoff.RetryNotify(func() error {
		j, err := w.ledger.UpdateStatus(ctx, jobID, w.id, upd)
		switch {
		case err == nil:
			updated = j
			return nil
		case errors.Is(err, ledger.ErrLockTimeout):
			return err
		default:
			return backoff.Permanent(err)
		}
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		logger.Warn("Ledger busy, retrying outcome write.", zap.Duration("retry_in", next), zap.Error(err))
	})
	return updated, err
}

func (w *Worker) runSafely(ctx context.Context, job schemas.Job) (out navigation.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Job runner panicked.",
				zap.String("job_id", job.ID), zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
			out = navigation.Failure(schemas.CodeAutomationError, fmt.Sprintf("runner panic: %v", r))
		}
	}()
	return w.runner.Run(ctx, job)
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo || d == backoff.Stop {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
