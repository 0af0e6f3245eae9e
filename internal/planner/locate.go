package planner

import (
	"strings"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// criterion is one locator heuristic. Locators are tried in order; the first
// that matches anything wins.
type criterion func(e schemas.UIElement) bool

// idSuffix matches a resource id by the part after "id/", ignoring the package.
func idSuffix(suffix string) criterion {
	return func(e schemas.UIElement) bool {
		id := e.ID
		if i := strings.LastIndex(id, "id/"); i >= 0 {
			id = id[i+3:]
		}
		return id != "" && strings.EqualFold(id, suffix)
	}
}

func textIs(text string) criterion {
	return func(e schemas.UIElement) bool {
		return text != "" && strings.EqualFold(strings.TrimSpace(e.Text), text)
	}
}

func textContains(text string) criterion {
	return func(e schemas.UIElement) bool {
		return text != "" && strings.Contains(strings.ToLower(e.Text), strings.ToLower(text))
	}
}

func descIs(desc string) criterion {
	return func(e schemas.UIElement) bool {
		return desc != "" && strings.EqualFold(strings.TrimSpace(e.Description), desc)
	}
}

func both(a, b criterion) criterion {
	return func(e schemas.UIElement) bool { return a(e) && b(e) }
}

// locate returns the index, in snap, of the element the first matching
// criterion selects. Among several matches a clickable, enabled element is
// preferred, then document order.
func locate(snap *schemas.ScreenSnapshot, criteria ...criterion) (int, bool) {
	for _, c := range criteria {
		fallback := -1
		for _, e := range snap.Elements {
			if !c(e) {
				continue
			}
			if e.Clickable && e.Enabled && !e.Bounds.Empty() {
				return e.Index, true
			}
			if fallback < 0 {
				fallback = e.Index
			}
		}
		if fallback >= 0 {
			return fallback, true
		}
	}
	return -1, false
}
