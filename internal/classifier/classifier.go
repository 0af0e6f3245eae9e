// Package classifier maps a sampled screen onto one of a closed set of known
// screen types using weighted marker detectors.
package classifier

import (
	"math"
	"strings"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// Field selects which element attribute a marker inspects.
type Field string

const (
	FieldID   Field = "id"
	FieldText Field = "text"
	FieldDesc Field = "desc"
	// FieldAny matches against text or description.
	FieldAny Field = "any"
)

// Marker is one piece of evidence for a screen type. It contributes Weight once
// if any element in the snapshot matches it, no matter how many do.
type Marker struct {
	Field   Field
	Pattern string
	// Exact requires a full, case-insensitive match. For ids, the part after
	// "id/" is compared so package prefixes don't matter.
	Exact  bool
	Weight float64
	// Anchor marks the element reported as the detector's anchor.
	Anchor bool
}

// Matches reports whether e satisfies the marker.
func (m Marker) Matches(e schemas.UIElement) bool {
	switch m.Field {
	case FieldID:
		return matchID(e.ID, m.Pattern, m.Exact)
	case FieldText:
		return matchString(e.Text, m.Pattern, m.Exact)
	case FieldDesc:
		return matchString(e.Description, m.Pattern, m.Exact)
	case FieldAny:
		return matchString(e.Text, m.Pattern, m.Exact) || matchString(e.Description, m.Pattern, m.Exact)
	}
	return false
}

func matchString(value, pattern string, exact bool) bool {
	if value == "" || pattern == "" {
		return false
	}
	if exact {
		return strings.EqualFold(strings.TrimSpace(value), pattern)
	}
	return strings.Contains(strings.ToLower(value), strings.ToLower(pattern))
}

func matchID(id, pattern string, exact bool) bool {
	if id == "" || pattern == "" {
		return false
	}
	if exact {
		if i := strings.LastIndex(id, "id/"); i >= 0 {
			id = id[i+3:]
		}
		return strings.EqualFold(id, pattern)
	}
	return strings.Contains(strings.ToLower(id), strings.ToLower(pattern))
}

// Detector scores one screen type.
type Detector struct {
	Type    schemas.ScreenType
	Markers []Marker
}

// Score sums the weights of matched markers, clamped to [0,1], and returns the
// first element matched by an anchor marker.
func (d Detector) Score(snap *schemas.ScreenSnapshot) (float64, *schemas.UIElement) {
	var (
		sum    float64
		anchor *schemas.UIElement
	)
	for _, m := range d.Markers {
		for i := range snap.Elements {
			if !m.Matches(snap.Elements[i]) {
				continue
			}
			sum += m.Weight
			if m.Anchor && anchor == nil {
				el := snap.Elements[i]
				anchor = &el
			}
			break
		}
	}
	return clamp(sum), anchor
}

// clamp bounds a score to [0,1] and rounds away float summation noise so that
// 0.35+0.25 compares equal to 0.6.
func clamp(v float64) float64 {
	v = math.Round(v*1e6) / 1e6
	return math.Max(0, math.Min(1, v))
}

// Result is the outcome of classifying one snapshot.
type Result struct {
	Type       schemas.ScreenType
	Confidence float64
	Anchor     *schemas.UIElement
	Band       Band
	// Candidate is the best scoring type even when it fell below the threshold.
	Candidate schemas.ScreenType
}

// Confident reports whether the result cleared the threshold.
func (r Result) Confident() bool { return r.Type != schemas.ScreenUnknown }

// Classifier evaluates registered detectors. Once built it is read-only and
// safe for concurrent use.
type Classifier struct {
	threshold float64
	detectors []Detector
}

// New creates a classifier with the given confidence threshold.
func New(threshold float64, detectors ...Detector) *Classifier {
	c := &Classifier{threshold: threshold}
	for _, d := range detectors {
		c.Register(d)
	}
	return c
}

// Register appends a detector. Registration order breaks ties.
func (c *Classifier) Register(d Detector) {
	c.detectors = append(c.detectors, d)
}

// Threshold returns the configured confidence threshold.
func (c *Classifier) Threshold() float64 { return c.threshold }

// Classify picks the highest scoring detector. Ties go to the earlier
// registration. A best score under the threshold yields ScreenUnknown.
func (c *Classifier) Classify(snap *schemas.ScreenSnapshot) Result {
	res := Result{Type: schemas.ScreenUnknown, Candidate: schemas.ScreenUnknown, Band: BandUnknown}
	if snap.Len() == 0 {
		return res
	}

	best := -1.0
	var anchor *schemas.UIElement
	for _, d := range c.detectors {
		score, a := d.Score(snap)
		if score > best {
			best, anchor = score, a
			res.Candidate = d.Type
		}
	}
	if best <= 0 {
		res.Candidate = schemas.ScreenUnknown
		return res
	}

	res.Confidence = best
	res.Band = BandOf(best)
	if best < c.threshold {
		return res
	}
	res.Type = res.Candidate
	res.Anchor = anchor
	return res
}

// Band is the conventional confidence bucket.
type Band string

const (
	BandHigh    Band = "high"
	BandMedium  Band = "medium"
	BandLow     Band = "low"
	BandUnknown Band = "unknown"
)

// BandOf buckets a confidence value.
func BandOf(confidence float64) Band {
	switch {
	case confidence >= 0.95:
		return BandHigh
	case confidence >= 0.80:
		return BandMedium
	case confidence >= 0.60:
		return BandLow
	default:
		return BandUnknown
	}
}
