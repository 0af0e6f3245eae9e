package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/mocks"
)

var publishGoal = schemas.Goal{Flow: schemas.FlowPublish, Caption: "golden hour"}
var followGoal = schemas.Goal{Flow: schemas.FlowFollow, Target: "bob"}

// targetOf resolves the planned index in the same snapshot and returns the element.
func targetOf(t *testing.T, snap *schemas.ScreenSnapshot, a schemas.Action) schemas.UIElement {
	t.Helper()
	require.True(t, a.Type.TargetsElement(), "expected a tap, got %s", a)
	el, ok := snap.Element(a.Index)
	require.True(t, ok, "planned index %d must resolve in the snapshot", a.Index)
	return el
}

func TestPublishTable(t *testing.T) {
	p := New(schemas.FlowPublish)
	fresh := schemas.SessionState{}

	t.Run("home feed taps create", func(t *testing.T) {
		snap := mocks.HomeFeed()
		a := p.Plan(schemas.ScreenHomeFeed, fresh, publishGoal, snap)
		assert.Equal(t, schemas.ActionTap, a.Type)
		assert.Equal(t, "Create", targetOf(t, snap, a).Description)
	})

	t.Run("home feed after submit is done", func(t *testing.T) {
		a := p.Plan(schemas.ScreenHomeFeed, schemas.SessionState{Submitted: true}, publishGoal, mocks.HomeFeed())
		assert.Equal(t, schemas.ActionDone, a.Type)
	})

	t.Run("creation menu taps upload", func(t *testing.T) {
		snap := mocks.CreationMenu()
		a := p.Plan(schemas.ScreenCreationMenu, fresh, publishGoal, snap)
		assert.Equal(t, "Upload", targetOf(t, snap, a).Text)
	})

	t.Run("media picker selects first thumbnail then next", func(t *testing.T) {
		snap := mocks.MediaPicker()
		a := p.Plan(schemas.ScreenMediaPicker, fresh, publishGoal, snap)
		assert.Equal(t, schemas.PurposeSelectMedia, a.Purpose)
		assert.Equal(t, "Video 0:15", targetOf(t, snap, a).Description)

		a = p.Plan(schemas.ScreenMediaPicker, schemas.SessionState{ResourceUploaded: true}, publishGoal, snap)
		assert.Equal(t, "Next", targetOf(t, snap, a).Text)
	})

	t.Run("caption entry types caption then posts", func(t *testing.T) {
		snap := mocks.CaptionEntry("")
		a := p.Plan(schemas.ScreenCaptionEntry, fresh, publishGoal, snap)
		assert.Equal(t, schemas.ActionTapAndType, a.Type)
		assert.Equal(t, "golden hour", a.Text)
		assert.Equal(t, schemas.PurposeCaption, a.Purpose)
		assert.Equal(t, "com.example.app:id/caption_input", targetOf(t, snap, a).ID)

		typed := mocks.CaptionEntry("golden hour")
		a = p.Plan(schemas.ScreenCaptionEntry, schemas.SessionState{CaptionEntered: true}, publishGoal, typed)
		assert.Equal(t, schemas.PurposeSubmit, a.Purpose)
		assert.Equal(t, "Post", targetOf(t, typed, a).Text)
	})

	t.Run("caption entry without caption posts directly", func(t *testing.T) {
		snap := mocks.CaptionEntry("")
		a := p.Plan(schemas.ScreenCaptionEntry, fresh, schemas.Goal{Flow: schemas.FlowPublish}, snap)
		assert.Equal(t, schemas.PurposeSubmit, a.Purpose)
	})

	t.Run("publish ready waits once submitted", func(t *testing.T) {
		snap := mocks.PublishReady()
		a := p.Plan(schemas.ScreenPublishReady, fresh, publishGoal, snap)
		assert.Equal(t, "Post", targetOf(t, snap, a).Text)

		a = p.Plan(schemas.ScreenPublishReady, schemas.SessionState{Submitted: true}, publishGoal, snap)
		assert.Equal(t, schemas.ActionWait, a.Type)
	})

	t.Run("success is done", func(t *testing.T) {
		a := p.Plan(schemas.ScreenPublishSuccess, fresh, publishGoal, mocks.PublishSuccess())
		assert.Equal(t, schemas.ActionDone, a.Type)
	})

	t.Run("popup is dismissed", func(t *testing.T) {
		snap := mocks.Popup()
		a := p.Plan(schemas.ScreenPopup, fresh, publishGoal, snap)
		assert.Equal(t, schemas.PurposeDismiss, a.Purpose)
		assert.Equal(t, "Not now", targetOf(t, snap, a).Text)
	})

	t.Run("login wall fails as logged out", func(t *testing.T) {
		a := p.Plan(schemas.ScreenLoginRequired, fresh, publishGoal, mocks.LoginRequired())
		assert.Equal(t, schemas.Fail("logged_out"), a)
	})
}

func TestFollowTable(t *testing.T) {
	p := New(schemas.FlowFollow)
	fresh := schemas.SessionState{}

	t.Run("home feed taps search", func(t *testing.T) {
		snap := mocks.HomeFeed()
		a := p.Plan(schemas.ScreenHomeFeed, fresh, followGoal, snap)
		assert.Equal(t, "Search", targetOf(t, snap, a).Description)
	})

	t.Run("search types the target", func(t *testing.T) {
		snap := mocks.Search()
		a := p.Plan(schemas.ScreenSearch, fresh, followGoal, snap)
		assert.Equal(t, schemas.ActionTapAndType, a.Type)
		assert.Equal(t, "bob", a.Text)
		assert.Equal(t, schemas.PurposeSearch, a.Purpose)
	})

	t.Run("search results pick the exact account", func(t *testing.T) {
		snap := mocks.SearchResults("bob", "bob")
		a := p.Plan(schemas.ScreenSearchResults, fresh, followGoal, snap)
		el := targetOf(t, snap, a)
		assert.Equal(t, "bob", el.Text, "bob_fanpage must not be chosen")
	})

	t.Run("profile taps follow", func(t *testing.T) {
		snap := mocks.Profile("bob")
		a := p.Plan(schemas.ScreenProfile, fresh, followGoal, snap)
		assert.Equal(t, schemas.PurposeFollow, a.Purpose)
		assert.Equal(t, "Follow", targetOf(t, snap, a).Text)
	})

	t.Run("wrong profile goes back", func(t *testing.T) {
		a := p.Plan(schemas.ScreenProfile, fresh, followGoal, mocks.Profile("alice"))
		assert.Equal(t, schemas.ActionPressBack, a.Type)
	})

	t.Run("already following is done", func(t *testing.T) {
		a := p.Plan(schemas.ScreenProfileFollowing, fresh, followGoal, mocks.ProfileFollowing("bob"))
		assert.Equal(t, schemas.ActionDone, a.Type)
	})
}

func TestPlanAnchorNotFound(t *testing.T) {
	p := New(schemas.FlowPublish)

	// The classifier said caption entry but the snapshot has no caption field.
	a := p.Plan(schemas.ScreenCaptionEntry, schemas.SessionState{}, publishGoal, mocks.Blank())
	assert.Equal(t, schemas.Fail("anchor_not_found"), a)

	a = p.Plan(schemas.ScreenMediaPicker, schemas.SessionState{}, publishGoal, mocks.Editor())
	assert.Equal(t, schemas.Fail("anchor_not_found"), a)

	a = p.Plan(schemas.ScreenProfile, schemas.SessionState{}, publishGoal, mocks.HomeFeed())
	assert.Equal(t, schemas.Fail("anchor_not_found"), a, "screens outside the flow's table fail")
}

func TestPlanIndicesFollowTheSnapshot(t *testing.T) {
	p := New(schemas.FlowPublish)

	// The same screen with an extra banner on top shifts every index by one.
	plain := mocks.CreationMenu()
	banner := mocks.El("banner", "New effects!", "", false, mocks.Row(0))
	shifted := mocks.Snap(append([]schemas.UIElement{banner}, plain.Elements[1:]...)...)

	a1 := p.Plan(schemas.ScreenCreationMenu, schemas.SessionState{}, publishGoal, plain)
	a2 := p.Plan(schemas.ScreenCreationMenu, schemas.SessionState{}, publishGoal, shifted)
	assert.Equal(t, a1.Index+1, a2.Index)
	assert.Equal(t, "Upload", targetOf(t, shifted, a2).Text)
}

func TestLocatePrefersClickable(t *testing.T) {
	label := mocks.El("", "Next", "", false, mocks.Row(0))
	button := mocks.El("", "Next", "", true, mocks.Row(1))
	snap := mocks.Snap(label, button)

	i, ok := locate(snap, textIs("Next"))
	require.True(t, ok)
	assert.Equal(t, 2, i)

	_, ok = locate(snap, textIs("Previous"))
	assert.False(t, ok)
}
