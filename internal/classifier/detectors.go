package classifier

import "github.com/xkilldash9x/droidpilot/api/schemas"

// Shared detectors are registered ahead of the flow detectors so an overlay
// wins a tie against the screen underneath it.
var sharedDetectors = []Detector{
	{
		Type: schemas.ScreenPopup,
		Markers: []Marker{
			{Field: FieldID, Pattern: "dialog", Weight: 0.5},
			{Field: FieldText, Pattern: "Not now", Exact: true, Weight: 0.5, Anchor: true},
			{Field: FieldText, Pattern: "Dismiss", Exact: true, Weight: 0.5, Anchor: true},
			{Field: FieldText, Pattern: "Got it", Exact: true, Weight: 0.5, Anchor: true},
			{Field: FieldText, Pattern: "Skip", Exact: true, Weight: 0.35, Anchor: true},
			{Field: FieldDesc, Pattern: "Close", Exact: true, Weight: 0.3, Anchor: true},
		},
	},
	{
		Type: schemas.ScreenLoginRequired,
		Markers: []Marker{
			{Field: FieldText, Pattern: "Log in", Exact: true, Weight: 0.4, Anchor: true},
			{Field: FieldText, Pattern: "Log in to", Weight: 0.3},
			{Field: FieldID, Pattern: "login", Weight: 0.3},
			{Field: FieldText, Pattern: "Sign up", Exact: true, Weight: 0.2},
		},
	},
	{
		Type: schemas.ScreenHomeFeed,
		Markers: []Marker{
			{Field: FieldID, Pattern: "home_tab", Exact: true, Weight: 0.35},
			{Field: FieldID, Pattern: "feed", Weight: 0.3},
			{Field: FieldDesc, Pattern: "Create", Exact: true, Weight: 0.2},
			{Field: FieldDesc, Pattern: "Search", Exact: true, Weight: 0.2},
			// An open search box or editor toolbar means we're past the feed.
			{Field: FieldID, Pattern: "search_input", Exact: true, Weight: -0.4},
			{Field: FieldID, Pattern: "editor_toolbar", Exact: true, Weight: -0.4},
		},
	},
}

var publishDetectors = []Detector{
	{
		Type: schemas.ScreenCreationMenu,
		Markers: []Marker{
			{Field: FieldText, Pattern: "Upload", Exact: true, Weight: 0.45, Anchor: true},
			{Field: FieldID, Pattern: "record", Weight: 0.3},
			{Field: FieldText, Pattern: "Camera", Exact: true, Weight: 0.25},
		},
	},
	{
		Type: schemas.ScreenMediaPicker,
		Markers: []Marker{
			{Field: FieldID, Pattern: "gallery_grid", Exact: true, Weight: 0.4},
			{Field: FieldID, Pattern: "media_thumbnail", Exact: true, Weight: 0.3, Anchor: true},
			{Field: FieldText, Pattern: "Recents", Exact: true, Weight: 0.2},
			{Field: FieldText, Pattern: "Next", Exact: true, Weight: 0.1},
		},
	},
	{
		Type: schemas.ScreenEditor,
		Markers: []Marker{
			{Field: FieldID, Pattern: "editor_toolbar", Exact: true, Weight: 0.4},
			{Field: FieldText, Pattern: "Sounds", Exact: true, Weight: 0.2},
			{Field: FieldText, Pattern: "Effects", Exact: true, Weight: 0.2},
			{Field: FieldText, Pattern: "Next", Exact: true, Weight: 0.2, Anchor: true},
		},
	},
	{
		Type: schemas.ScreenCaptionEntry,
		Markers: []Marker{
			{Field: FieldID, Pattern: "caption_input", Exact: true, Weight: 0.5, Anchor: true},
			{Field: FieldAny, Pattern: "Describe your post", Weight: 0.2},
			{Field: FieldText, Pattern: "Post", Exact: true, Weight: 0.3},
		},
	},
	{
		Type: schemas.ScreenPublishReady,
		Markers: []Marker{
			{Field: FieldText, Pattern: "Post", Exact: true, Weight: 0.4, Anchor: true},
			{Field: FieldText, Pattern: "Drafts", Exact: true, Weight: 0.3},
			{Field: FieldID, Pattern: "privacy_setting", Exact: true, Weight: 0.3},
			{Field: FieldID, Pattern: "caption_input", Exact: true, Weight: -0.3},
		},
	},
	{
		Type: schemas.ScreenPublishSuccess,
		Markers: []Marker{
			{Field: FieldID, Pattern: "upload_success", Exact: true, Weight: 0.5},
			{Field: FieldAny, Pattern: "Your post is live", Weight: 0.5},
			{Field: FieldAny, Pattern: "posted", Weight: 0.3},
		},
	},
}

var followDetectors = []Detector{
	{
		Type: schemas.ScreenSearch,
		Markers: []Marker{
			{Field: FieldID, Pattern: "search_input", Exact: true, Weight: 0.6, Anchor: true},
			{Field: FieldID, Pattern: "recent_search", Weight: 0.2},
			{Field: FieldText, Pattern: "Cancel", Exact: true, Weight: 0.2},
			{Field: FieldID, Pattern: "user_result", Exact: true, Weight: -0.4},
		},
	},
	{
		Type: schemas.ScreenSearchResults,
		Markers: []Marker{
			{Field: FieldID, Pattern: "user_result", Exact: true, Weight: 0.35, Anchor: true},
			{Field: FieldText, Pattern: "Users", Exact: true, Weight: 0.35},
			{Field: FieldID, Pattern: "search_input", Exact: true, Weight: 0.3},
		},
	},
	{
		Type: schemas.ScreenProfile,
		Markers: []Marker{
			{Field: FieldID, Pattern: "profile_header", Exact: true, Weight: 0.35},
			{Field: FieldText, Pattern: "Follow", Exact: true, Weight: 0.4, Anchor: true},
			{Field: FieldText, Pattern: "Followers", Exact: true, Weight: 0.25},
		},
	},
	{
		Type: schemas.ScreenProfileFollowing,
		Markers: []Marker{
			{Field: FieldID, Pattern: "profile_header", Exact: true, Weight: 0.35},
			{Field: FieldText, Pattern: "Following", Exact: true, Weight: 0.35},
			{Field: FieldText, Pattern: "Message", Exact: true, Weight: 0.3},
			{Field: FieldText, Pattern: "Follow", Exact: true, Weight: -0.4},
		},
	},
}

// ForFlow builds the classifier for a flow: shared detectors first, then the
// flow's own.
func ForFlow(flow schemas.Flow, threshold float64) *Classifier {
	c := New(threshold, sharedDetectors...)
	switch flow {
	case schemas.FlowFollow:
		for _, d := range followDetectors {
			c.Register(d)
		}
	default:
		for _, d := range publishDetectors {
			c.Register(d)
		}
	}
	return c
}
