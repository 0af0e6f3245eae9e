// Package navigation runs the observe, classify, decide, act loop that drives
// one job's goal to a terminal outcome on a device.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/classifier"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/errorscan"
	"github.com/xkilldash9x/droidpilot/internal/oracle"
	"github.com/xkilldash9x/droidpilot/internal/planner"
)

// Deps are the collaborators a session is assembled from. Source and Executor
// are required. Oracle may be nil, in which case low confidence screens fall
// back to pressing back. Nil Classifier, Planner and Errors are replaced by the
// stock implementations for the goal's flow.
type Deps struct {
	Source     schemas.SnapshotSource
	Executor   schemas.ActionExecutor
	Oracle     schemas.Oracle
	Classifier *classifier.Classifier
	Planner    *planner.Planner
	Errors     *errorscan.Scanner
	Logger     *zap.Logger
}

// Session owns the per-job state and the step loop. It is not safe for
// concurrent use and must not be reused after Run returns.
type Session struct {
	id    string
	deps  Deps
	cfg   config.NavigationConfig
	goal  schemas.Goal
	state schemas.SessionState

	recent     []schemas.Action
	loops      *LoopDetector
	lastScreen schemas.ScreenType
	logger     *zap.Logger

	now        func() time.Time
	sampleWait time.Duration
	oracleWait time.Duration
}

// NewSession assembles a session for goal.
func NewSession(deps Deps, cfg config.NavigationConfig, goal schemas.Goal) (*Session, error) {
	if deps.Source == nil || deps.Executor == nil {
		return nil, errors.New("navigation: snapshot source and executor are required")
	}
	if err := goal.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 30
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 3
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = 20 * time.Second
	}
	if deps.Classifier == nil {
		deps.Classifier = classifier.ForFlow(goal.Flow, cfg.ConfidenceThreshold)
	}
	if deps.Planner == nil {
		deps.Planner = planner.New(goal.Flow)
	}
	if deps.Errors == nil {
		deps.Errors = errorscan.Default()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	id := uuid.NewString()
	return &Session{
		id:         id,
		deps:       deps,
		cfg:        cfg,
		goal:       goal,
		loops:      NewLoopDetector(cfg.HistorySize),
		lastScreen: schemas.ScreenUnknown,
		logger:     deps.Logger.Named("navigation").With(zap.String("session_id", id), zap.String("flow", string(goal.Flow))),
		now:        time.Now,
		sampleWait: 500 * time.Millisecond,
		oracleWait: time.Second,
	}, nil
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// State returns a copy of the session flags.
func (s *Session) State() schemas.SessionState { return s.state }

// Run steps until a terminal outcome. Cancellation of ctx is honoured only
// between steps; a step that has started runs to completion against the
// device so no gesture is left half done.
func (s *Session) Run(ctx context.Context) Outcome {
	start := s.now()
	s.logger.Info("Navigation session starting.", zap.Int("max_steps", s.cfg.MaxSteps), zap.Duration("wall_clock", s.cfg.WallClock))

	out := s.loop(ctx, start)
	out.Steps = s.state.Step
	out.Duration = s.now().Sub(start)
	out.LastScreen = s.lastScreen

	fields := []zap.Field{
		zap.String("state", string(out.State)),
		zap.Int("steps", out.Steps),
		zap.Duration("duration", out.Duration),
		zap.String("last_screen", string(out.LastScreen)),
		zap.Int("loop_recoveries", s.loops.Triggers()),
	}
	if out.Code != "" {
		fields = append(fields, zap.String("code", string(out.Code)), zap.String("reason", out.Reason))
	}
	if out.Succeeded() {
		s.logger.Info("Navigation session finished.", fields...)
	} else {
		s.logger.Warn("Navigation session ended without reaching the goal.", fields...)
	}
	return out
}

func (s *Session) loop(ctx context.Context, start time.Time) Outcome {
	for {
		if err := ctx.Err(); err != nil {
			return aborted(err.Error())
		}
		if s.state.Step >= s.cfg.MaxSteps {
			return exhausted(schemas.CodeMaxStepsExceeded)
		}
		if s.cfg.WallClock > 0 && s.now().Sub(start) >= s.cfg.WallClock {
			return exhausted(schemas.CodeWallClockExceeded)
		}

		// The step itself is shielded from cancellation.
		out, terminal := s.step(context.WithoutCancel(ctx))
		s.state.Step++
		if terminal {
			return out
		}

		if s.cfg.StepDelay > 0 {
			t := time.NewTimer(s.cfg.StepDelay)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
	}
}

// step runs one observe, decide, act cycle. It reports a terminal outcome
// when the session must end.
func (s *Session) step(ctx context.Context) (Outcome, bool) {
	log := s.logger.With(zap.Int("step", s.state.Step))

	snap, err := s.sample(ctx)
	if err != nil {
		log.Error("Could not sample the screen.", zap.Error(err))
		return failed(schemas.CodeAutomationError, err.Error()), true
	}

	// Error states outrank everything the classifier might say.
	if m := s.deps.Errors.Detect(snap); m != nil {
		log.Warn("Error state detected on screen.",
			zap.String("code", string(m.Code)), zap.String("pattern", m.Pattern), zap.String("text", m.Element.Label()))
		return failed(m.Code, m.Pattern), true
	}

	res := s.deps.Classifier.Classify(snap)
	s.lastScreen = res.Type

	var action schemas.Action
	source := "planner"
	if res.Confident() {
		action = s.deps.Planner.Plan(res.Type, s.state, s.goal, snap)
	} else {
		source = "oracle"
		action = s.consult(ctx, snap, res)
	}

	log.Debug("Step decided.",
		zap.String("screen", string(res.Type)),
		zap.String("candidate", string(res.Candidate)),
		zap.Float64("confidence", res.Confidence),
		zap.String("source", source),
		zap.Stringer("action", action))

	if action.Type.Terminal() {
		if action.Type == schemas.ActionDone {
			return done(), true
		}
		return failed(schemas.FailureCode(action.Reason), action.Reason), true
	}

	if recovery, ok := s.loops.Check(actionKey(action, snap), action.Type); ok {
		log.Warn("Repeated action, injecting recovery.",
			zap.Stringer("repeated", action), zap.Stringer("recovery", recovery))
		action = recovery
	}

	if err := s.execute(ctx, action, snap); err != nil {
		log.Error("Action execution failed.", zap.Stringer("action", action), zap.Error(err))
		return failed(schemas.CodeAutomationError, err.Error()), true
	}
	s.state.Apply(action)
	s.remember(action)
	return Outcome{}, false
}

// sample fetches a snapshot, retrying transport failures.
func (s *Session) sample(ctx context.Context) (*schemas.ScreenSnapshot, error) {
	var snap *schemas.ScreenSnapshot
	op := func() error {
		var err error
		snap, err = s.deps.Source.Sample(ctx)
		if err == nil && snap == nil {
			err = errors.New("empty snapshot")
		}
		return err
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.sampleWait), uint64(max(s.cfg.SampleRetries, 0))),
		ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("sampling screen: %w", err)
	}
	return snap, nil
}

// consult asks the oracle for a decision and validates it against snap. Any
// failure degrades to pressing back.
func (s *Session) consult(ctx context.Context, snap *schemas.ScreenSnapshot, res classifier.Result) schemas.Action {
	fallback := schemas.PressBack()
	if s.deps.Oracle == nil {
		fallback.Rationale = "low confidence and no oracle configured"
		return fallback
	}

	goal := schemas.GoalContext{
		Goal:          s.goal,
		State:         s.state,
		Candidate:     res.Candidate,
		Confidence:    res.Confidence,
		RecentActions: append([]schemas.Action(nil), s.recent...),
	}

	var decided schemas.Action
	attempt := 0
	op := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.OracleTimeout)
		defer cancel()

		a, err := s.deps.Oracle.Decide(callCtx, snap, goal)
		if err != nil {
			if errors.Is(err, oracle.ErrUnavailable) {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := oracle.Validate(a, snap, s.state); err != nil {
			return err
		}
		decided = a
		return nil
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.oracleWait), uint64(max(s.cfg.OracleRetries, 0))),
		ctx)
	if err := backoff.Retry(op, b); err != nil {
		s.logger.Warn("Oracle gave no usable decision, pressing back.",
			zap.Int("attempts", attempt), zap.Error(err))
		fallback.Rationale = "oracle fallback: " + err.Error()
		return fallback
	}
	return decided
}

// execute applies the action, converting an executor panic into an error.
func (s *Session) execute(ctx context.Context, action schemas.Action, snap *schemas.ScreenSnapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return s.deps.Executor.Execute(ctx, action, snap)
}

func (s *Session) remember(a schemas.Action) {
	s.recent = append(s.recent, a)
	if len(s.recent) > s.cfg.HistorySize {
		s.recent = s.recent[len(s.recent)-s.cfg.HistorySize:]
	}
}
