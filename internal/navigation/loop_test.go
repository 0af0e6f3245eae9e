package navigation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/mocks"
)

func TestLoopDetectorFiresOnKPlusOne(t *testing.T) {
	d := NewLoopDetector(3)
	for i := 0; i < 3; i++ {
		_, fired := d.Check("tap|create", schemas.ActionTap)
		assert.False(t, fired, "repeat %d", i+1)
	}
	a, fired := d.Check("tap|create", schemas.ActionTap)
	assert.True(t, fired)
	assert.Equal(t, schemas.ActionPressBack, a.Type)
	assert.Contains(t, a.Rationale, "loop detected")
	assert.Equal(t, 1, d.Triggers())

	// History was cleared: the next three are allowed again.
	for i := 0; i < 3; i++ {
		_, fired := d.Check("tap|create", schemas.ActionTap)
		assert.False(t, fired)
	}
	a, _ = d.Check("tap|create", schemas.ActionTap)
	assert.Equal(t, schemas.ActionPressHome, a.Type)
}

func TestLoopDetectorIgnoresAlternation(t *testing.T) {
	d := NewLoopDetector(3)
	for i := 0; i < 20; i++ {
		key := "swipe|up"
		if i%2 == 1 {
			key = "press_back"
		}
		_, fired := d.Check(key, schemas.ActionSwipe)
		assert.False(t, fired)
	}
	assert.Zero(t, d.Triggers())
}

func TestLoopDetectorMinimumWindow(t *testing.T) {
	d := NewLoopDetector(0)
	d.Check("wait", schemas.ActionWait)
	d.Check("wait", schemas.ActionWait)
	_, fired := d.Check("wait", schemas.ActionWait)
	assert.True(t, fired)
}

func TestActionKeyFollowsElementNotIndex(t *testing.T) {
	feed := mocks.HomeFeed()
	// The same button at a different index after an unrelated element appears.
	shifted := mocks.Snap(append([]schemas.UIElement{mocks.El("banner", "Live now", "", false, mocks.Row(9))}, feed.Elements[1:]...)...)

	k1 := actionKey(schemas.Tap(4, ""), feed)
	k2 := actionKey(schemas.Tap(5, ""), shifted)
	assert.Equal(t, k1, k2)

	assert.NotEqual(t, actionKey(schemas.Tap(2, ""), feed), k1)
	assert.Equal(t, "swipe|down@"+feed.Fingerprint[:12], actionKey(schemas.Swipe(schemas.SwipeDown), feed))
	assert.Equal(t, "press_back@"+feed.Fingerprint[:12], actionKey(schemas.PressBack(), feed))
	assert.Equal(t, "tap#42", actionKey(schemas.Tap(42, ""), feed))
}

func TestActionKeyTiesUntargetedActionsToScreen(t *testing.T) {
	loading := mocks.Blank()
	moved := mocks.Snap(mocks.El("spinner", "", "Loading", false, mocks.Row(7)))
	relabelled := mocks.Snap(mocks.El("spinner", "", "Still loading", false, mocks.Row(6)))

	back := schemas.PressBack()
	assert.NotEqual(t, actionKey(back, loading), actionKey(back, moved), "structure changed")
	assert.Equal(t, actionKey(back, loading), actionKey(back, relabelled), "text alone is not structure")
	assert.Equal(t, actionKey(back, loading), actionKey(back, mocks.Blank()))
}

func TestLoopDetectorSkipsRungMatchingRepeatedAction(t *testing.T) {
	d := NewLoopDetector(3)
	for i := 0; i < 3; i++ {
		_, fired := d.Check("press_back@abc", schemas.ActionPressBack)
		assert.False(t, fired)
	}
	a, fired := d.Check("press_back@abc", schemas.ActionPressBack)
	require.True(t, fired)
	assert.Equal(t, schemas.ActionPressHome, a.Type)

	// The ladder continues from the rung after the one used.
	for i := 0; i < 3; i++ {
		d.Check("press_back@abc", schemas.ActionPressBack)
	}
	a, _ = d.Check("press_back@abc", schemas.ActionPressBack)
	assert.Equal(t, schemas.ActionRelaunch, a.Type)

	for i := 0; i < 3; i++ {
		d.Check("relaunch@abc", schemas.ActionRelaunch)
	}
	a, _ = d.Check("relaunch@abc", schemas.ActionRelaunch)
	assert.Equal(t, schemas.ActionRelaunch, a.Type, "the last rung has nothing to skip to")
}
