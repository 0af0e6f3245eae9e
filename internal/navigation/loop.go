package navigation

import (
	"fmt"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// recoveryLadder is walked one rung per trigger and then stays on the last rung.
var recoveryLadder = []func() schemas.Action{
	schemas.PressBack,
	schemas.PressHome,
	schemas.Relaunch,
}

// LoopDetector watches for the same action being chosen on consecutive steps.
type LoopDetector struct {
	size  int
	keys  []string
	rung  int
	fired int
}

// NewLoopDetector tracks the last k action keys. k below 2 is raised to 2.
func NewLoopDetector(k int) *LoopDetector {
	if k < 2 {
		k = 2
	}
	return &LoopDetector{size: k, keys: make([]string, 0, k)}
}

// Check records key and reports whether the action it stands for must be
// replaced by a recovery action. After k identical keys in a row the next
// identical key returns the current rung of the ladder and clears the history.
// Rungs of the same type as the repeated action are skipped.
func (d *LoopDetector) Check(key string, repeated schemas.ActionType) (schemas.Action, bool) {
	if len(d.keys) == d.size && d.repeating(key) {
		last := len(recoveryLadder) - 1
		rung := d.rung
		for rung < last && recoveryLadder[rung]().Type == repeated {
			rung++
		}
		recovery := recoveryLadder[rung]()
		recovery.Rationale = fmt.Sprintf("loop detected: %d repeats of %s", d.size, key)
		d.rung = min(rung+1, last)
		d.fired++
		d.keys = d.keys[:0]
		return recovery, true
	}
	if len(d.keys) == d.size {
		copy(d.keys, d.keys[1:])
		d.keys = d.keys[:d.size-1]
	}
	d.keys = append(d.keys, key)
	return schemas.Action{}, false
}

// Triggers returns how many recovery actions have been injected.
func (d *LoopDetector) Triggers() int { return d.fired }

func (d *LoopDetector) repeating(key string) bool {
	for _, k := range d.keys {
		if k != key {
			return false
		}
	}
	return true
}

// actionKey identifies an action by type and by what it targets on the
// current screen, so the same button is recognised across fresh snapshots.
// Actions without a target are tied to the screen structure instead: backing
// out of a screen that keeps changing is progress, not a loop.
func actionKey(a schemas.Action, snap *schemas.ScreenSnapshot) string {
	switch {
	case a.Type.TargetsElement():
		el, ok := snap.Element(a.Index)
		if !ok {
			return fmt.Sprintf("%s#%d", a.Type, a.Index)
		}
		return fmt.Sprintf("%s|%s|%s|%s|%s|%s", a.Type, el.ID, el.Text, el.Description, el.Bounds, a.Text)
	case a.Type == schemas.ActionSwipe:
		return fmt.Sprintf("%s|%s@%s", a.Type, a.Direction, screenID(snap))
	default:
		return fmt.Sprintf("%s@%s", a.Type, screenID(snap))
	}
}

func screenID(snap *schemas.ScreenSnapshot) string {
	if snap == nil {
		return ""
	}
	return snap.Fingerprint[:min(12, len(snap.Fingerprint))]
}
