package schemas

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Point is a pixel coordinate on the device screen.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Rect is an axis-aligned bounding box in screen pixels. Right and Bottom are exclusive.
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

func (r Rect) Width() int  { return r.Right - r.Left }
func (r Rect) Height() int { return r.Bottom - r.Top }

// Empty reports whether the rect encloses no pixels.
func (r Rect) Empty() bool { return r.Width() <= 0 || r.Height() <= 0 }

// Center returns the midpoint of the rect.
func (r Rect) Center() Point {
	return Point{X: r.Left + r.Width()/2, Y: r.Top + r.Height()/2}
}

// Contains reports whether p lies inside the rect.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.Left && p.X < r.Right && p.Y >= r.Top && p.Y < r.Bottom
}

// Union returns the smallest rect enclosing both r and o. Empty rects are ignored.
func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	return Rect{
		Left:   min(r.Left, o.Left),
		Top:    min(r.Top, o.Top),
		Right:  max(r.Right, o.Right),
		Bottom: max(r.Bottom, o.Bottom),
	}
}

func (r Rect) String() string {
	return fmt.Sprintf("[%d,%d][%d,%d]", r.Left, r.Top, r.Right, r.Bottom)
}

// UIElement is one node of a sampled screen, flattened out of the UI hierarchy.
// Index is its position within the snapshot that produced it and means nothing
// outside of that snapshot.
type UIElement struct {
	Index       int    `json:"index"`
	ID          string `json:"id"`
	Class       string `json:"class"`
	Package     string `json:"package"`
	Text        string `json:"text"`
	Description string `json:"description"`
	Bounds      Rect   `json:"bounds"`
	Clickable   bool   `json:"clickable"`
	Enabled     bool   `json:"enabled"`
	Focused     bool   `json:"focused"`
	Center      Point  `json:"center"`
}

// HasText reports whether s occurs, case-insensitively, in the element's text or description.
func (e UIElement) HasText(s string) bool {
	if s == "" {
		return false
	}
	s = strings.ToLower(s)
	return strings.Contains(strings.ToLower(e.Text), s) ||
		strings.Contains(strings.ToLower(e.Description), s)
}

// Label returns the most human readable identifier of the element.
func (e UIElement) Label() string {
	switch {
	case e.Text != "":
		return e.Text
	case e.Description != "":
		return e.Description
	case e.ID != "":
		return e.ID
	default:
		return e.Class
	}
}

// ScreenSnapshot is one sample of the device screen.
type ScreenSnapshot struct {
	Elements    []UIElement `json:"elements"`
	Fingerprint string      `json:"fingerprint"`
	CapturedAt  time.Time   `json:"captured_at"`
}

// NewSnapshot builds a snapshot from elements in document order. Indices are
// reassigned, centers derived from bounds and the structural fingerprint computed.
// The input slice is copied.
func NewSnapshot(elements []UIElement, capturedAt time.Time) *ScreenSnapshot {
	els := make([]UIElement, len(elements))
	copy(els, elements)
	for i := range els {
		els[i].Index = i
		els[i].Center = els[i].Bounds.Center()
	}
	return &ScreenSnapshot{
		Elements:    els,
		Fingerprint: fingerprint(els),
		CapturedAt:  capturedAt,
	}
}

// fingerprint hashes the structure of the screen. Text is left out so that a
// ticking counter or a relative timestamp does not look like a different screen.
func fingerprint(els []UIElement) string {
	h := sha256.New()
	for _, e := range els {
		fmt.Fprintf(h, "%s|%s|%s\n", e.ID, e.Class, e.Bounds)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Len returns the number of elements.
func (s *ScreenSnapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Elements)
}

// Element resolves an index within this snapshot.
func (s *ScreenSnapshot) Element(i int) (UIElement, bool) {
	if s == nil || i < 0 || i >= len(s.Elements) {
		return UIElement{}, false
	}
	return s.Elements[i], true
}

// ScreenBounds returns the union of all element bounds.
func (s *ScreenSnapshot) ScreenBounds() Rect {
	var r Rect
	if s == nil {
		return r
	}
	for _, e := range s.Elements {
		r = r.Union(e.Bounds)
	}
	return r
}

// ScreenType is the closed set of screens the classifier can recognize.
type ScreenType string

const (
	ScreenUnknown       ScreenType = "unknown"
	ScreenHomeFeed      ScreenType = "home_feed"
	ScreenPopup         ScreenType = "popup"
	ScreenLoginRequired ScreenType = "login_required"

	// Publish flow.
	ScreenCreationMenu   ScreenType = "creation_menu"
	ScreenMediaPicker    ScreenType = "media_picker"
	ScreenEditor         ScreenType = "editor"
	ScreenCaptionEntry   ScreenType = "caption_entry"
	ScreenPublishReady   ScreenType = "publish_ready"
	ScreenPublishSuccess ScreenType = "publish_success"

	// Follow flow.
	ScreenSearch           ScreenType = "search"
	ScreenSearchResults    ScreenType = "search_results"
	ScreenProfile          ScreenType = "profile"
	ScreenProfileFollowing ScreenType = "profile_following"
)

func (t ScreenType) String() string { return string(t) }
