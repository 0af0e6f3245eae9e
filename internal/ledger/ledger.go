// Package ledger is the shared, file-backed record of every job. Worker
// processes coordinate only through it: each operation takes a cross-process
// lock, reads the whole file, and replaces it atomically.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrNotOwner is returned when a worker updates a job it does not hold.
	ErrNotOwner = errors.New("job is not owned by this worker")
	// ErrInvalidTransition is returned for a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrUnknownJob is returned when no job has the given id.
	ErrUnknownJob = errors.New("unknown job")
)

// StatusUpdate is the outcome a worker reports for a job it claimed.
type StatusUpdate struct {
	Status     schemas.JobStatus
	Error      string
	ErrorType  schemas.FailureCode
	RetryDelay time.Duration
	// RefundAttempt gives back the attempt consumed by the claim. Used when
	// the run was interrupted by shutdown rather than by the job itself.
	RefundAttempt bool
}

// SeedResult summarizes a Seed call.
type SeedResult struct {
	Added    int
	Skipped  int
	Existing int
}

// Ledger is a handle on the ledger file. Handles are cheap and independent;
// any number of them, in any number of processes, may point at one file.
type Ledger struct {
	path               string
	lock               *fileLock
	loc                *time.Location
	dailyCap           int
	defaultMaxAttempts int
	logger             *zap.Logger
	now                func() time.Time
}

// New opens a handle on the ledger described by cfg. The file itself is
// created on first write.
func New(cfg config.LedgerConfig, logger *zap.Logger) (*Ledger, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("ledger path is empty")
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("ledger timezone: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.LockTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dailyCap := cfg.DailyCap
	if dailyCap <= 0 {
		dailyCap = 1
	}
	maxAttempts := cfg.DefaultMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	logger = logger.Named("ledger")
	return &Ledger{
		path:               cfg.Path,
		lock:               newFileLock(cfg.Path, timeout, logger),
		loc:                loc,
		dailyCap:           dailyCap,
		defaultMaxAttempts: maxAttempts,
		logger:             logger,
		now:                time.Now,
	}, nil
}

// Path returns the ledger file location.
func (l *Ledger) Path() string { return l.path }

// DailyCap is the cap applied when ClaimNext is called with a non-positive cap.
func (l *Ledger) DailyCap() int { return l.dailyCap }

// mutate runs fn over the current jobs under the lock and writes the result
// back when fn reports a change.
func (l *Ledger) mutate(ctx context.Context, fn func(jobs []schemas.Job) ([]schemas.Job, bool, error)) error {
	release, err := l.lock.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	jobs, err := readJobs(l.path)
	if err != nil {
		return err
	}
	jobs, changed, err := fn(jobs)
	if err != nil || !changed {
		return err
	}
	return writeJobs(l.path, jobs)
}

// Seed appends jobs whose ids are not yet in the ledger. Rows that cannot run
// are stored as skipped so they are visible but never claimed.
func (l *Ledger) Seed(ctx context.Context, jobs []schemas.Job) (SeedResult, error) {
	var res SeedResult
	err := l.mutate(ctx, func(existing []schemas.Job) ([]schemas.Job, bool, error) {
		known := make(map[string]bool, len(existing))
		for _, j := range existing {
			known[j.ID] = true
		}
		var added []schemas.Job
		for _, j := range jobs {
			if known[j.ID] {
				res.Existing++
				continue
			}
			known[j.ID] = true
			j = l.prepare(j)
			if j.Status == schemas.StatusSkipped {
				res.Skipped++
			} else {
				res.Added++
			}
			added = append(added, j)
		}
		return append(existing, added...), len(added) > 0, nil
	})
	if err != nil {
		return res, err
	}
	l.logger.Info("Seeded ledger.",
		zap.Int("added", res.Added), zap.Int("skipped", res.Skipped), zap.Int("existing", res.Existing))
	return res, nil
}

// prepare normalizes a new row and marks it skipped when it cannot run.
func (l *Ledger) prepare(j schemas.Job) schemas.Job {
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = l.defaultMaxAttempts
	}
	if j.Status == "" {
		j.Status = schemas.StatusPending
	}
	if j.Status != schemas.StatusPending && j.Status != schemas.StatusSkipped {
		j.Status = schemas.StatusPending
	}
	if err := validateRow(j); err != nil {
		j.Status = schemas.StatusSkipped
		j.Error = err.Error()
	}
	return j
}

func validateRow(j schemas.Job) error {
	if j.ID == "" {
		return fmt.Errorf("missing job id")
	}
	if j.Account == "" {
		return fmt.Errorf("missing account")
	}
	goal, err := j.Goal()
	if err != nil {
		return err
	}
	if err := goal.Validate(); err != nil {
		return err
	}
	if goal.Flow == schemas.FlowPublish && j.PayloadRef == "" {
		return fmt.Errorf("publish job has no payload")
	}
	return nil
}

// ClaimNext hands workerID the first eligible pending job, or false when none
// is eligible. Retrying jobs whose delay has elapsed are promoted to pending
// first. A job is eligible when no other job of its account is claimed and the
// account has fewer than dailyCap successes today.
func (l *Ledger) ClaimNext(ctx context.Context, workerID string, dailyCap int) (schemas.Job, bool, error) {
	if dailyCap <= 0 {
		dailyCap = l.dailyCap
	}
	var (
		claimed schemas.Job
		found   bool
	)
	err := l.mutate(ctx, func(jobs []schemas.Job) ([]schemas.Job, bool, error) {
		now := l.now().UTC()
		changed := promoteDue(jobs, now)

		busy := make(map[string]bool)
		done := make(map[string]int)
		for _, j := range jobs {
			switch j.Status {
			case schemas.StatusClaimed:
				busy[j.Account] = true
			case schemas.StatusSuccess:
				if l.sameDay(j.CompletedAt, now) {
					done[j.Account]++
				}
			}
		}

		for i := range jobs {
			j := &jobs[i]
			if j.Status != schemas.StatusPending || busy[j.Account] || done[j.Account] >= dailyCap {
				continue
			}
			j.Status = schemas.StatusClaimed
			j.WorkerID = workerID
			j.ClaimedAt = now
			j.CompletedAt = time.Time{}
			j.RetryAt = time.Time{}
			j.Attempts++
			claimed, found = *j, true
			return jobs, true, nil
		}
		return jobs, changed, nil
	})
	if err != nil {
		return schemas.Job{}, false, err
	}
	if found {
		l.logger.Info("Claimed job.",
			zap.String("job_id", claimed.ID), zap.String("account", claimed.Account),
			zap.String("worker_id", workerID), zap.Int("attempt", claimed.Attempts))
	}
	return claimed, found, nil
}

func promoteDue(jobs []schemas.Job, now time.Time) bool {
	changed := false
	for i := range jobs {
		j := &jobs[i]
		if j.Status == schemas.StatusRetrying && !j.RetryAt.After(now) {
			j.Status = schemas.StatusPending
			j.RetryAt = time.Time{}
			changed = true
		}
	}
	return changed
}

func (l *Ledger) sameDay(t, now time.Time) bool {
	if t.IsZero() {
		return false
	}
	ty, tm, td := t.In(l.loc).Date()
	ny, nm, nd := now.In(l.loc).Date()
	return ty == ny && tm == nm && td == nd
}

// UpdateStatus records the outcome of a claimed job. Only the owning worker may
// update it. A retry requested after the attempt budget is spent becomes a
// failure.
func (l *Ledger) UpdateStatus(ctx context.Context, jobID, workerID string, upd StatusUpdate) (schemas.Job, error) {
	var updated schemas.Job
	err := l.mutate(ctx, func(jobs []schemas.Job) ([]schemas.Job, bool, error) {
		idx := -1
		for i := range jobs {
			if jobs[i].ID == jobID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, false, fmt.Errorf("%s: %w", jobID, ErrUnknownJob)
		}
		j := &jobs[idx]
		if j.Status != schemas.StatusClaimed || j.WorkerID != workerID {
			return nil, false, fmt.Errorf("job %s is %s by %q, update from %q: %w",
				jobID, j.Status, j.WorkerID, workerID, ErrNotOwner)
		}
		if upd.Status == schemas.StatusPending || !schemas.CanTransition(j.Status, upd.Status) {
			return nil, false, fmt.Errorf("%s -> %s: %w", j.Status, upd.Status, ErrInvalidTransition)
		}

		now := l.now().UTC()
		if upd.RefundAttempt && j.Attempts > 0 {
			j.Attempts--
		}
		j.Status = upd.Status
		j.Error = upd.Error
		j.ErrorType = upd.ErrorType
		j.ErrorCategory = ""
		if upd.ErrorType != "" {
			j.ErrorCategory = upd.ErrorType.Class()
		}

		if upd.Status == schemas.StatusRetrying && !upd.RefundAttempt && j.AttemptsExhausted() {
			l.logger.Warn("Attempt budget spent, failing job.",
				zap.String("job_id", j.ID), zap.Int("attempts", j.Attempts), zap.Int("max_attempts", j.MaxAttempts))
			j.Status = schemas.StatusFailed
		}
		if j.Status.Terminal() {
			j.CompletedAt = now
			j.RetryAt = time.Time{}
		} else {
			j.RetryAt = now.Add(upd.RetryDelay)
		}
		updated = *j
		return jobs, true, nil
	})
	if err != nil {
		return schemas.Job{}, err
	}
	l.logger.Info("Updated job status.",
		zap.String("job_id", updated.ID), zap.String("status", string(updated.Status)),
		zap.String("error_type", string(updated.ErrorType)))
	return updated, nil
}

// Sweep returns jobs claimed longer than staleAfter to pending, on the
// assumption that their worker died. It returns the recovered jobs.
func (l *Ledger) Sweep(ctx context.Context, staleAfter time.Duration) ([]schemas.Job, error) {
	var recovered []schemas.Job
	err := l.mutate(ctx, func(jobs []schemas.Job) ([]schemas.Job, bool, error) {
		now := l.now().UTC()
		for i := range jobs {
			j := &jobs[i]
			if j.Status != schemas.StatusClaimed || now.Sub(j.ClaimedAt) <= staleAfter {
				continue
			}
			j.Error = fmt.Sprintf("claim by %s went stale after %s", j.WorkerID, now.Sub(j.ClaimedAt).Round(time.Second))
			j.Status = schemas.StatusPending
			j.WorkerID = ""
			j.ErrorType = schemas.CodeStaleClaim
			j.ErrorCategory = schemas.CodeStaleClaim.Class()
			recovered = append(recovered, *j)
		}
		return jobs, len(recovered) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	for _, j := range recovered {
		l.logger.Warn("Recovered stale claim.", zap.String("job_id", j.ID), zap.String("account", j.Account))
	}
	return recovered, nil
}

// Jobs returns every job in stored order. Writes replace the file atomically,
// so no lock is needed for a consistent read.
func (l *Ledger) Jobs() ([]schemas.Job, error) {
	return readJobs(l.path)
}

// Stats counts jobs by status.
func (l *Ledger) Stats() (schemas.Stats, error) {
	jobs, err := l.Jobs()
	if err != nil {
		return schemas.Stats{}, err
	}
	return Count(jobs), nil
}

// Count aggregates jobs by status.
func Count(jobs []schemas.Job) schemas.Stats {
	s := schemas.Stats{Total: len(jobs), ByStatus: make(map[schemas.JobStatus]int, len(schemas.AllStatuses))}
	for _, st := range schemas.AllStatuses {
		s.ByStatus[st] = 0
	}
	for _, j := range jobs {
		s.ByStatus[j.Status]++
	}
	return s
}
