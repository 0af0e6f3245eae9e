// Package humanoid turns planned actions into human paced touch gestures.
package humanoid

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
)

// Humanoid is the touch model. It decides where inside an element a finger
// lands, how a swipe travels and how long the pauses around gestures last.
// All methods are safe for concurrent use.
type Humanoid struct {
	cfg config.HumanoidConfig

	mu        sync.Mutex
	rng       *rand.Rand
	drift     *perlin.Perlin
	noiseTime float64
}

// New creates a touch model. A zero seed is replaced by the clock.
func New(cfg config.HumanoidConfig) *Humanoid {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	// Standard Perlin parameters.
	alpha, beta, n := 2.0, 2.0, int32(3)
	return &Humanoid{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		drift: perlin.NewPerlin(alpha, beta, n, seed),
	}
}

// TapPoint picks the touch point for an element: the center displaced by a
// gaussian offset, clamped so it never leaves the element.
func (h *Humanoid) TapPoint(b schemas.Rect) schemas.Point {
	c := b.Center()
	if !h.cfg.Enabled || h.cfg.TapJitter == 0 || b.Width() < 3 || b.Height() < 3 {
		return c
	}

	h.mu.Lock()
	dx := h.rng.NormFloat64() * h.cfg.TapJitter * float64(b.Width()) / 2
	dy := h.rng.NormFloat64() * h.cfg.TapJitter * float64(b.Height()) / 2
	h.mu.Unlock()

	return schemas.Point{
		X: clampInt(c.X+int(math.Round(dx)), b.Left+1, b.Right-1),
		Y: clampInt(c.Y+int(math.Round(dy)), b.Top+1, b.Bottom-1),
	}
}

// SwipePath computes the endpoints and duration of a swipe in direction d
// across screen. The finger travels SwipeSpan of the screen along the swipe
// axis and drifts sideways following Perlin noise.
func (h *Humanoid) SwipePath(d schemas.Direction, screen schemas.Rect) (from, to schemas.Point, durationMs int) {
	c := screen.Center()
	span := h.cfg.SwipeSpan
	if span <= 0 {
		span = 0.55
	}
	halfX := int(float64(screen.Width()) * span / 2)
	halfY := int(float64(screen.Height()) * span / 2)

	switch d {
	case schemas.SwipeUp:
		from, to = schemas.Point{X: c.X, Y: c.Y + halfY}, schemas.Point{X: c.X, Y: c.Y - halfY}
	case schemas.SwipeDown:
		from, to = schemas.Point{X: c.X, Y: c.Y - halfY}, schemas.Point{X: c.X, Y: c.Y + halfY}
	case schemas.SwipeLeft:
		from, to = schemas.Point{X: c.X + halfX, Y: c.Y}, schemas.Point{X: c.X - halfX, Y: c.Y}
	default:
		from, to = schemas.Point{X: c.X - halfX, Y: c.Y}, schemas.Point{X: c.X + halfX, Y: c.Y}
	}

	durationMs = int(h.cfg.SwipeDurationMin / time.Millisecond)
	if !h.cfg.Enabled {
		if durationMs <= 0 {
			durationMs = 300
		}
		return from, to, durationMs
	}

	h.mu.Lock()
	h.noiseTime += 0.37
	n := h.drift.Noise1D(h.noiseTime)
	spread := h.cfg.SwipeDurationMax - h.cfg.SwipeDurationMin
	if spread > 0 {
		durationMs += int(time.Duration(h.rng.Int63n(int64(spread))) / time.Millisecond)
	}
	h.mu.Unlock()

	// Noise1D is roughly in [-1, 1]; the end point drifts perpendicular to travel.
	if d == schemas.SwipeUp || d == schemas.SwipeDown {
		to.X += int(n * h.cfg.SwipeDrift * float64(screen.Width()))
	} else {
		to.Y += int(n * h.cfg.SwipeDrift * float64(screen.Height()))
	}
	to = clampPoint(to, screen)
	return from, to, max(durationMs, 1)
}

// TypingSettle is how long to let the app catch up after typing text.
func (h *Humanoid) TypingSettle(text string) time.Duration {
	if !h.cfg.Enabled || h.cfg.TypingCPS <= 0 {
		return 0
	}
	chars := float64(len([]rune(text)))
	return time.Duration(chars / h.cfg.TypingCPS * float64(time.Second))
}

// ThinkPause is a uniformly drawn pause between ThinkMin and ThinkMax.
func (h *Humanoid) ThinkPause() time.Duration {
	if !h.cfg.Enabled {
		return 0
	}
	spread := h.cfg.ThinkMax - h.cfg.ThinkMin
	if spread <= 0 {
		return h.cfg.ThinkMin
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cfg.ThinkMin + time.Duration(h.rng.Int63n(int64(spread)))
}

// WaitDuration is how long a Wait action idles.
func (h *Humanoid) WaitDuration() time.Duration {
	if h.cfg.WaitDuration <= 0 {
		return 2 * time.Second
	}
	return h.cfg.WaitDuration
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return max(lo, min(hi, v))
}

func clampPoint(p schemas.Point, r schemas.Rect) schemas.Point {
	return schemas.Point{X: clampInt(p.X, r.Left, r.Right-1), Y: clampInt(p.Y, r.Top, r.Bottom-1)}
}
