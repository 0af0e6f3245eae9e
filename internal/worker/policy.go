package worker

import (
	"math"
	"time"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/ledger"
	"github.com/xkilldash9x/droidpilot/internal/navigation"
)

// Policy turns a session outcome into the ledger update for the job.
type Policy struct {
	BaseDelay     time.Duration
	Multiplier    float64
	MaxDelay      time.Duration
	ShutdownDelay time.Duration
}

// NewPolicy builds a policy from the retry section of the configuration.
func NewPolicy(cfg config.RetryConfig) Policy {
	p := Policy{
		BaseDelay:     cfg.BaseDelay,
		Multiplier:    cfg.Multiplier,
		MaxDelay:      cfg.MaxDelay,
		ShutdownDelay: cfg.ShutdownDelay,
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 2 * time.Minute
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Delay is the wait before the next attempt after attempts have been used.
func (p Policy) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempts-1))
	if d >= float64(p.MaxDelay) || math.IsInf(d, 0) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Decide maps the outcome of job's latest attempt to a status update.
// Account-level failures are final. An interrupted run is retried soon and
// does not count against the job's attempts. Everything else backs off.
func (p Policy) Decide(job schemas.Job, o navigation.Outcome) ledger.StatusUpdate {
	switch {
	case o.Succeeded():
		return ledger.StatusUpdate{Status: schemas.StatusSuccess}
	case o.State == navigation.StateAborted:
		return ledger.StatusUpdate{
			Status:        schemas.StatusRetrying,
			Error:         o.Reason,
			ErrorType:     schemas.CodeShutdown,
			RetryDelay:    p.ShutdownDelay,
			RefundAttempt: true,
		}
	case o.Code.Permanent():
		return ledger.StatusUpdate{Status: schemas.StatusFailed, Error: o.Reason, ErrorType: o.Code}
	default:
		return ledger.StatusUpdate{
			Status:     schemas.StatusRetrying,
			Error:      o.Reason,
			ErrorType:  o.Code,
			RetryDelay: p.Delay(job.Attempts),
		}
	}
}
