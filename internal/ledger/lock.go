package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// ErrLockTimeout is returned when the ledger lock could not be taken within
// the configured wait. Callers should treat it as transient.
var ErrLockTimeout = errors.New("timed out waiting for ledger lock")

var errLockHeld = errors.New("ledger lock held")

// lockOwner is written into the lock file by the holder. It is informational
// only: the kernel lock decides ownership and drops it when the holder exits.
type lockOwner struct {
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	CreatedAt time.Time `json:"created_at"`
}

// fileLock is a cross-process mutex over <ledger>.lock using flock(2).
type fileLock struct {
	path     string
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
	hostname string
}

func newFileLock(ledgerPath string, timeout time.Duration, logger *zap.Logger) *fileLock {
	return &fileLock{
		path:     ledgerPath + ".lock",
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
		hostname: hostnameOrUnknown(),
	}
}

// acquire polls until the lock is taken, the wait exceeds the timeout, or ctx
// is cancelled. The returned func releases the lock.
func (l *fileLock) acquire(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock parent: %w", err)
	}

	// A fresh handle per acquisition: flock is per open file, so goroutines
	// sharing one Ledger exclude each other as separate processes do.
	fl := flock.New(l.path)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = l.timeout

	err := backoff.Retry(func() error {
		ok, err := fl.TryLock()
		switch {
		case err != nil:
			return backoff.Permanent(fmt.Errorf("lock %s: %w", l.path, err))
		case !ok:
			return errLockHeld
		}
		return nil
	}, backoff.WithContext(b, ctx))

	switch {
	case err == nil:
	case errors.Is(err, errLockHeld):
		return nil, fmt.Errorf("%s after %s (%s): %w", l.path, l.timeout, l.holder(), ErrLockTimeout)
	default:
		return nil, err
	}

	l.recordOwner()
	return func() {
		if err := fl.Unlock(); err != nil {
			l.logger.Warn("Failed to release ledger lock.", zap.String("lock", l.path), zap.Error(err))
		}
	}, nil
}

func (l *fileLock) recordOwner() {
	owner := lockOwner{PID: os.Getpid(), Host: l.hostname, CreatedAt: l.now().UTC()}
	data, err := json.Marshal(owner)
	if err == nil {
		err = os.WriteFile(l.path, data, 0o644)
	}
	if err != nil {
		l.logger.Debug("Could not record lock owner.", zap.String("lock", l.path), zap.Error(err))
	}
}

// holder describes the last recorded owner for timeout errors.
func (l *fileLock) holder() string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return "holder unknown"
	}
	var owner lockOwner
	if err := json.Unmarshal(data, &owner); err != nil || owner.PID == 0 {
		return "holder unknown"
	}
	return fmt.Sprintf("held by pid %d on %s since %s", owner.PID, owner.Host, owner.CreatedAt.Format(time.RFC3339))
}

func hostnameOrUnknown() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}
