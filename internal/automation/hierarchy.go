package automation

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// ParseHierarchy flattens a window hierarchy dump into a snapshot. Every
// node element becomes one UIElement, in document order. Nodes with
// unreadable bounds are kept with empty bounds so indices line up with the dump.
func ParseHierarchy(xml string, at time.Time) (*schemas.ScreenSnapshot, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		return nil, fmt.Errorf("parsing window hierarchy: %w", err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("parsing window hierarchy: empty document")
	}

	nodes := doc.FindElements("//node")
	elements := make([]schemas.UIElement, 0, len(nodes))
	for _, n := range nodes {
		b, _ := ParseBounds(n.SelectAttrValue("bounds", ""))
		elements = append(elements, schemas.UIElement{
			ID:          n.SelectAttrValue("resource-id", ""),
			Class:       n.SelectAttrValue("class", ""),
			Package:     n.SelectAttrValue("package", ""),
			Text:        n.SelectAttrValue("text", ""),
			Description: n.SelectAttrValue("content-desc", ""),
			Bounds:      b,
			Clickable:   boolAttr(n, "clickable"),
			Enabled:     boolAttr(n, "enabled"),
			Focused:     boolAttr(n, "focused"),
		})
	}
	return schemas.NewSnapshot(elements, at), nil
}

// ParseBounds reads the "[l,t][r,b]" form used by the hierarchy dump.
func ParseBounds(s string) (schemas.Rect, error) {
	var r schemas.Rect
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "[%d,%d][%d,%d]", &r.Left, &r.Top, &r.Right, &r.Bottom); err != nil {
		return schemas.Rect{}, fmt.Errorf("bounds %q: %w", s, err)
	}
	return r, nil
}

func boolAttr(n *etree.Element, key string) bool {
	return strings.EqualFold(n.SelectAttrValue(key, "false"), "true")
}
