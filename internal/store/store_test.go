package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
)

// flexibleSQLMatcher lets the expected SQL differ from the query in whitespace only.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func suspendedOutcome() schemas.OutcomeRecord {
	return schemas.OutcomeRecord{
		JobID:         "job-1",
		Account:       "alice",
		WorkerID:      "w01",
		Status:        schemas.StatusFailed,
		Attempt:       1,
		State:         "failed",
		ErrorType:     schemas.CodeAccountSuspended,
		ErrorCategory: schemas.ClassAccountPermanent,
		Error:         "your account has been suspended",
		Steps:         2,
		Duration:      1500 * time.Millisecond,
		LastScreen:    schemas.ScreenType("home_feed"),
		Screenshot:    "state/review/job-1-1.png",
		FinishedAt:    time.Date(2025, 10, 26, 10, 0, 0, 0, time.FixedZone("CET", 3600)),
	}
}

func archiveArgsFor(rec schemas.OutcomeRecord) []interface{} {
	return []interface{}{
		rec.JobID, rec.Account, rec.WorkerID, "failed", 1, "failed",
		"account_suspended", "account_permanent", rec.Error,
		2, int64(1500), "home_feed",
		time.Date(2025, 10, 26, 9, 0, 0, 0, time.UTC),
	}
}

func flagArgsFor(rec schemas.OutcomeRecord) []interface{} {
	return []interface{}{
		"job-1", "alice", "account_suspended", rec.Error, rec.Screenshot,
		time.Date(2025, 10, 26, 9, 0, 0, 0, time.UTC),
	}
}

func setupStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return s, mockPool
}

func TestNewStore(t *testing.T) {
	t.Run("ping failure", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "ping error is wrapped")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestConnectDisabledWithoutURL(t *testing.T) {
	s, closeFn, err := Connect(context.Background(), config.DatabaseConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, s)
	closeFn()
}

func TestArchive(t *testing.T) {
	s, mockPool := setupStore(t)
	rec := suspendedOutcome()

	mockPool.ExpectExec(flexibleSQLMatcher(sqlArchive)).
		WithArgs(archiveArgsFor(rec)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Archive(context.Background(), rec))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestArchivePropagatesErrors(t *testing.T) {
	s, mockPool := setupStore(t)
	rec := suspendedOutcome()
	dbErr := errors.New("relation job_outcomes does not exist")
	mockPool.ExpectExec(flexibleSQLMatcher(sqlArchive)).
		WithArgs(archiveArgsFor(rec)...).
		WillReturnError(dbErr)

	err := s.Archive(context.Background(), rec)
	assert.ErrorIs(t, err, dbErr)
	assert.Contains(t, err.Error(), "job-1")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestFlagForReview(t *testing.T) {
	s, mockPool := setupStore(t)
	rec := suspendedOutcome()

	mockPool.ExpectExec(flexibleSQLMatcher(sqlFlag)).
		WithArgs(flagArgsFor(rec)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.FlagForReview(context.Background(), rec))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("archives and flags in one transaction", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		mockPool.ExpectPing()
		s, err := New(ctx, mockPool, zap.New(observedZapCore))
		require.NoError(t, err)
		rec := suspendedOutcome()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlArchive)).
			WithArgs(archiveArgsFor(rec)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlFlag)).
			WithArgs(flagArgsFor(rec)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.Record(ctx, rec, true))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "commit path logs nothing")
	})

	t.Run("skips the flag for retryable outcomes", func(t *testing.T) {
		s, mockPool := setupStore(t)
		rec := suspendedOutcome()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlArchive)).
			WithArgs(archiveArgsFor(rec)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.Record(ctx, rec, false))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("rolls back when the flag fails", func(t *testing.T) {
		s, mockPool := setupStore(t)
		rec := suspendedOutcome()
		flagErr := errors.New("unique violation")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlArchive)).
			WithArgs(archiveArgsFor(rec)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlFlag)).
			WithArgs(flagArgsFor(rec)...).
			WillReturnError(flagErr)
		mockPool.ExpectRollback()

		err := s.Record(ctx, rec, true)
		assert.ErrorIs(t, err, flagErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestRecentOutcomes(t *testing.T) {
	s, mockPool := setupStore(t)
	finished := time.Date(2025, 10, 26, 9, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{
		"job_id", "account", "worker_id", "status", "attempt", "state", "error_type", "error_category",
		"error", "steps", "duration_ms", "last_screen", "finished_at",
	}).
		AddRow("job-2", "bob", "w02", "success", 1, "done", "", "", "", 7, int64(42000), "publish_ready", finished).
		AddRow("job-1", "alice", "w01", "failed", 1, "failed", "account_suspended", "account_permanent", "suspended", 2, int64(1500), "home_feed", finished.Add(-time.Hour))

	mockPool.ExpectQuery(flexibleSQLMatcher(sqlRecent)).WithArgs(10).WillReturnRows(rows)

	out, err := s.RecentOutcomes(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, schemas.StatusSuccess, out[0].Status)
	assert.Equal(t, 42*time.Second, out[0].Duration)
	assert.Equal(t, schemas.CodeAccountSuspended, out[1].ErrorType)
	assert.Equal(t, finished, out[0].FinishedAt)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
