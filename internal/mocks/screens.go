// File: internal/mocks/screens.go
package mocks

import (
	"time"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

const appPkg = "com.example.app"

// ScreenRect is the full display of the fixture device.
var ScreenRect = schemas.Rect{Left: 0, Top: 0, Right: 1080, Bottom: 2340}

// FixtureTime is the capture time stamped on every fixture snapshot.
var FixtureTime = time.Date(2025, 10, 26, 10, 0, 0, 0, time.UTC)

// El builds an element of the fixture app. Ids are given without the package prefix.
func El(id, text, desc string, clickable bool, b schemas.Rect) schemas.UIElement {
	full := ""
	if id != "" {
		full = appPkg + ":id/" + id
	}
	return schemas.UIElement{
		ID:          full,
		Class:       "android.widget.TextView",
		Package:     appPkg,
		Text:        text,
		Description: desc,
		Bounds:      b,
		Clickable:   clickable,
		Enabled:     true,
	}
}

// Row returns a full-width rect for the n-th 120px row below the top bar.
func Row(n int) schemas.Rect {
	top := 200 + n*120
	return schemas.Rect{Left: 0, Top: top, Right: 1080, Bottom: top + 110}
}

// Snap builds a snapshot over a root container followed by els.
func Snap(els ...schemas.UIElement) *schemas.ScreenSnapshot {
	root := schemas.UIElement{ID: "android:id/content", Class: "android.widget.FrameLayout", Package: appPkg, Bounds: ScreenRect, Enabled: true}
	return schemas.NewSnapshot(append([]schemas.UIElement{root}, els...), FixtureTime)
}

func HomeFeed() *schemas.ScreenSnapshot {
	return Snap(
		El("feed", "", "", false, schemas.Rect{Left: 0, Top: 0, Right: 1080, Bottom: 2100}),
		El("home_tab", "Home", "", true, schemas.Rect{Left: 0, Top: 2200, Right: 216, Bottom: 2340}),
		El("search_icon", "", "Search", true, schemas.Rect{Left: 960, Top: 80, Right: 1060, Bottom: 180}),
		El("create_button", "", "Create", true, schemas.Rect{Left: 432, Top: 2200, Right: 648, Bottom: 2340}),
		El("profile_tab", "Profile", "", true, schemas.Rect{Left: 864, Top: 2200, Right: 1080, Bottom: 2340}),
	)
}

func CreationMenu() *schemas.ScreenSnapshot {
	return Snap(
		El("record_button", "", "Record", true, schemas.Rect{Left: 440, Top: 1900, Right: 640, Bottom: 2100}),
		El("upload_entry", "Upload", "", true, schemas.Rect{Left: 800, Top: 1950, Right: 1000, Bottom: 2050}),
		El("mode_camera", "Camera", "", true, schemas.Rect{Left: 300, Top: 2150, Right: 500, Bottom: 2250}),
		El("mode_templates", "Templates", "", true, schemas.Rect{Left: 600, Top: 2150, Right: 800, Bottom: 2250}),
	)
}

func MediaPicker() *schemas.ScreenSnapshot {
	return Snap(
		El("gallery_grid", "", "", false, schemas.Rect{Left: 0, Top: 300, Right: 1080, Bottom: 2100}),
		El("album_selector", "Recents", "", true, schemas.Rect{Left: 400, Top: 100, Right: 680, Bottom: 200}),
		El("media_thumbnail", "", "Video 0:15", true, schemas.Rect{Left: 0, Top: 300, Right: 360, Bottom: 660}),
		El("media_thumbnail", "", "Video 0:42", true, schemas.Rect{Left: 360, Top: 300, Right: 720, Bottom: 660}),
		El("next_button", "Next", "", true, schemas.Rect{Left: 800, Top: 2150, Right: 1060, Bottom: 2280}),
	)
}

func Editor() *schemas.ScreenSnapshot {
	return Snap(
		El("editor_toolbar", "", "", false, schemas.Rect{Left: 960, Top: 200, Right: 1080, Bottom: 1400}),
		El("tool_sounds", "Sounds", "", true, schemas.Rect{Left: 400, Top: 80, Right: 680, Bottom: 180}),
		El("tool_effects", "Effects", "", true, schemas.Rect{Left: 960, Top: 400, Right: 1080, Bottom: 500}),
		El("next_button", "Next", "", true, schemas.Rect{Left: 800, Top: 2150, Right: 1060, Bottom: 2280}),
	)
}

// CaptionEntry renders the post screen. An empty caption shows the input's hint.
func CaptionEntry(caption string) *schemas.ScreenSnapshot {
	input := El("caption_input", caption, "", true, schemas.Rect{Left: 40, Top: 200, Right: 800, Bottom: 500})
	if caption == "" {
		input.Text = "Describe your post"
	}
	input.Class = "android.widget.EditText"
	return Snap(
		input,
		El("privacy_setting", "Everyone can view this post", "", true, Row(5)),
		El("drafts_button", "Drafts", "", true, schemas.Rect{Left: 40, Top: 2150, Right: 520, Bottom: 2280}),
		El("post_button", "Post", "", true, schemas.Rect{Left: 560, Top: 2150, Right: 1040, Bottom: 2280}),
	)
}

func PublishReady() *schemas.ScreenSnapshot {
	return Snap(
		El("privacy_setting", "Everyone can view this post", "", true, Row(5)),
		El("drafts_button", "Drafts", "", true, schemas.Rect{Left: 40, Top: 2150, Right: 520, Bottom: 2280}),
		El("post_button", "Post", "", true, schemas.Rect{Left: 560, Top: 2150, Right: 1040, Bottom: 2280}),
	)
}

func PublishSuccess() *schemas.ScreenSnapshot {
	return Snap(
		El("upload_success", "Your post is live", "", false, Row(3)),
		El("view_button", "View", "", true, Row(4)),
	)
}

// Popup is a notification prompt over the home feed.
func Popup() *schemas.ScreenSnapshot {
	feed := HomeFeed().Elements[1:]
	els := append([]schemas.UIElement{}, feed...)
	els = append(els,
		El("dialog_container", "", "", false, schemas.Rect{Left: 90, Top: 800, Right: 990, Bottom: 1500}),
		El("dialog_title", "Turn on notifications?", "", false, schemas.Rect{Left: 140, Top: 850, Right: 940, Bottom: 950}),
		El("dialog_allow", "Allow", "", true, schemas.Rect{Left: 140, Top: 1300, Right: 520, Bottom: 1420}),
		El("dialog_deny", "Not now", "", true, schemas.Rect{Left: 560, Top: 1300, Right: 940, Bottom: 1420}),
	)
	return Snap(els...)
}

func LoginRequired() *schemas.ScreenSnapshot {
	return Snap(
		El("login_title", "Log in to continue", "", false, Row(2)),
		El("login_button", "Log in", "", true, Row(4)),
		El("signup_button", "Sign up", "", true, Row(5)),
	)
}

func Search() *schemas.ScreenSnapshot {
	input := El("search_input", "", "", true, schemas.Rect{Left: 120, Top: 80, Right: 900, Bottom: 180})
	input.Class = "android.widget.EditText"
	return Snap(
		input,
		El("cancel_button", "Cancel", "", true, schemas.Rect{Left: 920, Top: 80, Right: 1060, Bottom: 180}),
		El("recent_search_item", "cats", "", true, Row(1)),
	)
}

// SearchResults lists user hits for query; the target appears second.
func SearchResults(query, target string) *schemas.ScreenSnapshot {
	input := El("search_input", query, "", true, schemas.Rect{Left: 120, Top: 80, Right: 900, Bottom: 180})
	input.Class = "android.widget.EditText"
	return Snap(
		input,
		El("tab_users", "Users", "", true, schemas.Rect{Left: 0, Top: 200, Right: 270, Bottom: 300}),
		El("user_result", target+"_fanpage", "", true, Row(2)),
		El("user_result", target, "", true, Row(3)),
	)
}

func Profile(name string) *schemas.ScreenSnapshot {
	return Snap(
		El("profile_header", name, "", false, Row(0)),
		El("stat_following", "Following", "", true, schemas.Rect{Left: 100, Top: 500, Right: 400, Bottom: 600}),
		El("stat_followers", "Followers", "", true, schemas.Rect{Left: 400, Top: 500, Right: 700, Bottom: 600}),
		El("follow_button", "Follow", "", true, Row(5)),
	)
}

func ProfileFollowing(name string) *schemas.ScreenSnapshot {
	return Snap(
		El("profile_header", name, "", false, Row(0)),
		El("stat_followers", "Followers", "", true, schemas.Rect{Left: 400, Top: 500, Right: 700, Bottom: 600}),
		El("following_button", "Following", "", true, schemas.Rect{Left: 40, Top: 800, Right: 520, Bottom: 910}),
		El("message_button", "Message", "", true, schemas.Rect{Left: 560, Top: 800, Right: 1040, Bottom: 910}),
	)
}

// ErrorScreen shows a modal with the given message and an OK button.
func ErrorScreen(message string) *schemas.ScreenSnapshot {
	return Snap(
		El("message", message, "", false, Row(3)),
		El("ok_button", "OK", "", true, Row(5)),
	)
}

// Blank is a loading screen nothing recognizes.
func Blank() *schemas.ScreenSnapshot {
	return Snap(El("spinner", "", "Loading", false, Row(6)))
}
