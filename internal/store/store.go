package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
)

// DBPool is the subset of *pgxpool.Pool the store uses; pgxmock satisfies it in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlArchive = `
        INSERT INTO job_outcomes (job_id, account, worker_id, status, attempt, state, error_type, error_category, error, steps, duration_ms, last_screen, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);
    `
	sqlFlag = `
        INSERT INTO manual_review (job_id, account, error_type, error, screenshot, flagged_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (job_id) DO UPDATE SET
            error_type = EXCLUDED.error_type,
            error = EXCLUDED.error,
            screenshot = EXCLUDED.screenshot,
            flagged_at = EXCLUDED.flagged_at;
    `
	sqlRecent = `
        SELECT job_id, account, worker_id, status, attempt, state, error_type, error_category, error, steps, duration_ms, last_screen, finished_at
        FROM job_outcomes
        ORDER BY finished_at DESC
        LIMIT $1;
    `
)

// Store archives job outcomes in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New pings the pool before handing back a Store.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Connect opens a pool for cfg. It returns a nil store and a no-op close when
// no database is configured.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Store, func(), error) {
	if cfg.URL == "" {
		return nil, func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

func archiveArgs(rec schemas.OutcomeRecord) []interface{} {
	return []interface{}{
		rec.JobID, rec.Account, rec.WorkerID, string(rec.Status), rec.Attempt, rec.State,
		string(rec.ErrorType), string(rec.ErrorCategory), rec.Error,
		rec.Steps, rec.Duration.Milliseconds(), string(rec.LastScreen),
		rec.FinishedAt.UTC(),
	}
}

func flagArgs(rec schemas.OutcomeRecord) []interface{} {
	return []interface{}{rec.JobID, rec.Account, string(rec.ErrorType), rec.Error, rec.Screenshot, rec.FinishedAt.UTC()}
}

// Archive appends one outcome to job_outcomes.
func (s *Store) Archive(ctx context.Context, rec schemas.OutcomeRecord) error {
	if _, err := s.pool.Exec(ctx, sqlArchive, archiveArgs(rec)...); err != nil {
		return fmt.Errorf("failed to archive outcome for job %s: %w", rec.JobID, err)
	}
	return nil
}

// FlagForReview marks a permanently failed job for a human to look at.
// Flagging the same job again refreshes the entry.
func (s *Store) FlagForReview(ctx context.Context, rec schemas.OutcomeRecord) error {
	if _, err := s.pool.Exec(ctx, sqlFlag, flagArgs(rec)...); err != nil {
		return fmt.Errorf("failed to flag job %s for review: %w", rec.JobID, err)
	}
	return nil
}

// Record archives rec and, when review is set, flags it, in one transaction.
func (s *Store) Record(ctx context.Context, rec schemas.OutcomeRecord, review bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlArchive, archiveArgs(rec)...); err != nil {
		return fmt.Errorf("failed to archive outcome for job %s: %w", rec.JobID, err)
	}
	if review {
		if _, err := tx.Exec(ctx, sqlFlag, flagArgs(rec)...); err != nil {
			return fmt.Errorf("failed to flag job %s for review: %w", rec.JobID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// RecentOutcomes returns the newest archived outcomes first.
func (s *Store) RecentOutcomes(ctx context.Context, limit int) ([]schemas.OutcomeRecord, error) {
	rows, err := s.pool.Query(ctx, sqlRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var out []schemas.OutcomeRecord
	for rows.Next() {
		var (
			rec                                   schemas.OutcomeRecord
			status, errType, errClass, lastScreen string
			durationMs                            int64
		)
		if err := rows.Scan(
			&rec.JobID, &rec.Account, &rec.WorkerID, &status, &rec.Attempt, &rec.State,
			&errType, &errClass, &rec.Error, &rec.Steps, &durationMs, &lastScreen, &rec.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outcome row: %w", err)
		}
		rec.Status = schemas.JobStatus(status)
		rec.ErrorType = schemas.FailureCode(errType)
		rec.ErrorCategory = schemas.FailureClass(errClass)
		rec.LastScreen = schemas.ScreenType(lastScreen)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: reading rows: %w", err)
	}
	return out, nil
}
