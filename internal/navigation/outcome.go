package navigation

import (
	"fmt"
	"time"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// State is the terminal state of a navigation session.
type State string

const (
	StateDone             State = "done"
	StateFailed           State = "failed"
	StateMaxStepsExceeded State = "max_steps_exceeded"
	// StateAborted ends a session that was asked to stop between steps.
	StateAborted State = "aborted"
)

// Outcome is the single terminal result a session reports to its caller.
type Outcome struct {
	State      State
	Code       schemas.FailureCode
	Class      schemas.FailureClass
	Reason     string
	Steps      int
	Duration   time.Duration
	LastScreen schemas.ScreenType
	// Screenshot is the saved device screen for failures that need review.
	Screenshot string
}

// Succeeded reports whether the goal was reached.
func (o Outcome) Succeeded() bool { return o.State == StateDone }

// Permanent reports whether the failure must not be retried.
func (o Outcome) Permanent() bool {
	return o.State == StateFailed && o.Code.Permanent()
}

func (o Outcome) String() string {
	if o.State == StateDone {
		return fmt.Sprintf("done after %d steps", o.Steps)
	}
	if o.Reason != "" {
		return fmt.Sprintf("%s (%s: %s) after %d steps", o.State, o.Code, o.Reason, o.Steps)
	}
	return fmt.Sprintf("%s (%s) after %d steps", o.State, o.Code, o.Steps)
}

func done() Outcome { return Outcome{State: StateDone} }

func failed(code schemas.FailureCode, reason string) Outcome {
	return Outcome{State: StateFailed, Code: code, Class: code.Class(), Reason: reason}
}

func exhausted(code schemas.FailureCode) Outcome {
	return Outcome{State: StateMaxStepsExceeded, Code: code, Class: code.Class()}
}

func aborted(reason string) Outcome {
	return Outcome{State: StateAborted, Code: schemas.CodeShutdown, Class: schemas.CodeShutdown.Class(), Reason: reason}
}

// Failure builds a failed outcome for work that ends before or outside a
// session, such as a device that never booted.
func Failure(code schemas.FailureCode, reason string) Outcome { return failed(code, reason) }

// Aborted builds the outcome of work interrupted by shutdown.
func Aborted(reason string) Outcome { return aborted(reason) }
