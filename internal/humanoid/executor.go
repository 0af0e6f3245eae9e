package humanoid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// Android key codes.
const (
	KeyCodeHome = 3
	KeyCodeBack = 4
)

// ErrNoScreen is returned when an action needs screen geometry the snapshot does not have.
var ErrNoScreen = errors.New("snapshot has no on-screen geometry")

type actionHandler func(ctx context.Context, a schemas.Action, snap *schemas.ScreenSnapshot) error

// Executor applies actions to a device through the automation gestures,
// pacing them with the touch model.
type Executor struct {
	touch      *Humanoid
	gestures   schemas.Gestures
	launcher   schemas.AppLauncher
	appPackage string
	logger     *zap.Logger
	handlers   map[schemas.ActionType]actionHandler
	sleep      func(ctx context.Context, d time.Duration) error
}

var _ schemas.ActionExecutor = (*Executor)(nil)

// NewExecutor builds an executor. launcher may be nil, in which case a
// relaunch degrades to pressing home.
func NewExecutor(touch *Humanoid, gestures schemas.Gestures, launcher schemas.AppLauncher, appPackage string, logger *zap.Logger) *Executor {
	e := &Executor{
		touch:      touch,
		gestures:   gestures,
		launcher:   launcher,
		appPackage: appPackage,
		logger:     logger.Named("humanoid_executor"),
		handlers:   make(map[schemas.ActionType]actionHandler),
		sleep:      sleepCtx,
	}
	e.registerHandlers()
	return e
}

func (e *Executor) registerHandlers() {
	e.handlers[schemas.ActionTap] = e.handleTap
	e.handlers[schemas.ActionTapAndType] = e.handleTapAndType
	e.handlers[schemas.ActionSwipe] = e.handleSwipe
	e.handlers[schemas.ActionPressBack] = e.keyHandler(KeyCodeBack)
	e.handlers[schemas.ActionPressHome] = e.keyHandler(KeyCodeHome)
	e.handlers[schemas.ActionRelaunch] = e.handleRelaunch
	e.handlers[schemas.ActionWait] = e.handleWait
}

// Execute runs the handler for the action after a think pause. The action's
// index is resolved against snap only.
func (e *Executor) Execute(ctx context.Context, a schemas.Action, snap *schemas.ScreenSnapshot) error {
	handler, ok := e.handlers[a.Type]
	if !ok {
		return fmt.Errorf("no handler for action type %q", a.Type)
	}
	if err := e.sleep(ctx, e.touch.ThinkPause()); err != nil {
		return err
	}
	if err := handler(ctx, a, snap); err != nil {
		e.logger.Warn("Gesture failed", zap.Stringer("action", a), zap.Error(err))
		return fmt.Errorf("executing %s: %w", a, err)
	}
	return nil
}

func (e *Executor) element(a schemas.Action, snap *schemas.ScreenSnapshot) (schemas.UIElement, error) {
	el, ok := snap.Element(a.Index)
	if !ok {
		return el, fmt.Errorf("index %d out of range for snapshot of %d elements", a.Index, snap.Len())
	}
	if el.Bounds.Empty() {
		return el, fmt.Errorf("element %d has zero size", a.Index)
	}
	return el, nil
}

func (e *Executor) handleTap(ctx context.Context, a schemas.Action, snap *schemas.ScreenSnapshot) error {
	el, err := e.element(a, snap)
	if err != nil {
		return err
	}
	return e.gestures.Tap(ctx, e.touch.TapPoint(el.Bounds))
}

func (e *Executor) handleTapAndType(ctx context.Context, a schemas.Action, snap *schemas.ScreenSnapshot) error {
	if err := e.handleTap(ctx, a, snap); err != nil {
		return err
	}
	if err := e.gestures.TypeText(ctx, a.Text); err != nil {
		return err
	}
	return e.sleep(ctx, e.touch.TypingSettle(a.Text))
}

func (e *Executor) handleSwipe(ctx context.Context, a schemas.Action, snap *schemas.ScreenSnapshot) error {
	if !a.Direction.Valid() {
		return fmt.Errorf("invalid swipe direction %q", a.Direction)
	}
	screen := snap.ScreenBounds()
	if screen.Empty() {
		return ErrNoScreen
	}
	from, to, ms := e.touch.SwipePath(a.Direction, screen)
	return e.gestures.Swipe(ctx, from, to, ms)
}

func (e *Executor) keyHandler(code int) actionHandler {
	return func(ctx context.Context, _ schemas.Action, _ *schemas.ScreenSnapshot) error {
		return e.gestures.PressKey(ctx, code)
	}
}

func (e *Executor) handleRelaunch(ctx context.Context, _ schemas.Action, _ *schemas.ScreenSnapshot) error {
	if e.launcher == nil || e.appPackage == "" {
		e.logger.Debug("No launcher configured, relaunch falls back to home.")
		return e.gestures.PressKey(ctx, KeyCodeHome)
	}
	return e.launcher.Relaunch(ctx, e.appPackage)
}

func (e *Executor) handleWait(ctx context.Context, _ schemas.Action, _ *schemas.ScreenSnapshot) error {
	return e.sleep(ctx, e.touch.WaitDuration())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
