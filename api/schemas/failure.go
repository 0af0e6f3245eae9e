package schemas

// FailureCode is the specific reason a job attempt ended without success.
type FailureCode string

// FailureClass groups failure codes by how the worker must react to them.
type FailureClass string

const (
	ClassAccountPermanent        FailureClass = "account_permanent"
	ClassInfrastructureTransient FailureClass = "infrastructure_transient"
	ClassNavigationExhaustion    FailureClass = "navigation_exhaustion"
	ClassAnchorNotFound          FailureClass = "anchor_not_found"
)

const (
	// Account-permanent.
	CodeAccountSuspended FailureCode = "account_suspended"
	CodeAccountBanned    FailureCode = "account_banned"
	CodeCaptchaRequired  FailureCode = "captcha_required"
	CodeLoggedOut        FailureCode = "logged_out"
	CodeRateLimited      FailureCode = "rate_limited"

	// Infrastructure-transient.
	CodeDeviceUnavailable  FailureCode = "device_unavailable"
	CodeDeviceBootTimeout  FailureCode = "device_boot_timeout"
	CodePayloadPushFailed  FailureCode = "payload_push_failed"
	CodeAutomationError    FailureCode = "automation_error"
	CodeAppNotResponding   FailureCode = "app_not_responding"
	CodeNetworkUnavailable FailureCode = "network_unavailable"
	CodeLockTimeout        FailureCode = "lock_timeout"
	CodeOracleTimeout      FailureCode = "oracle_timeout"
	CodeShutdown           FailureCode = "shutdown"
	CodeStaleClaim         FailureCode = "stale_claim"

	// Navigation-exhaustion.
	CodeMaxStepsExceeded  FailureCode = "max_steps_exceeded"
	CodeWallClockExceeded FailureCode = "wall_clock_exceeded"

	CodeAnchorNotFound FailureCode = "anchor_not_found"
)

var failureClasses = map[FailureCode]FailureClass{
	CodeAccountSuspended: ClassAccountPermanent,
	CodeAccountBanned:    ClassAccountPermanent,
	CodeCaptchaRequired:  ClassAccountPermanent,
	CodeLoggedOut:        ClassAccountPermanent,
	CodeRateLimited:      ClassAccountPermanent,

	CodeDeviceUnavailable:  ClassInfrastructureTransient,
	CodeDeviceBootTimeout:  ClassInfrastructureTransient,
	CodePayloadPushFailed:  ClassInfrastructureTransient,
	CodeAutomationError:    ClassInfrastructureTransient,
	CodeAppNotResponding:   ClassInfrastructureTransient,
	CodeNetworkUnavailable: ClassInfrastructureTransient,
	CodeLockTimeout:        ClassInfrastructureTransient,
	CodeOracleTimeout:      ClassInfrastructureTransient,
	CodeShutdown:           ClassInfrastructureTransient,
	CodeStaleClaim:         ClassInfrastructureTransient,

	CodeMaxStepsExceeded:  ClassNavigationExhaustion,
	CodeWallClockExceeded: ClassNavigationExhaustion,

	CodeAnchorNotFound: ClassAnchorNotFound,
}

// Class maps a code to its class. Codes nobody registered are treated as
// infrastructure faults so they get retried rather than dropped.
func (c FailureCode) Class() FailureClass {
	if cls, ok := failureClasses[c]; ok {
		return cls
	}
	return ClassInfrastructureTransient
}

// Permanent reports whether a job failing with this code must not be retried.
func (c FailureCode) Permanent() bool {
	return c.Class() == ClassAccountPermanent
}

func (c FailureCode) String() string { return string(c) }
