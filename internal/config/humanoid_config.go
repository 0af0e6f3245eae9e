// File: internal/config/humanoid_config.go
// This file defines the HumanoidConfig struct, which holds the tunable
// parameters of the touch model. They control how planned actions are turned
// into gestures: tap jitter, swipe geometry and pacing, typing speed and the
// think pauses between steps.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// HumanoidConfig tunes the touch model that paces and perturbs device gestures.
type HumanoidConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Seed fixes the random source. Zero seeds from the clock.
	Seed int64 `mapstructure:"seed" yaml:"seed"`

	// TapJitter is the standard deviation of the tap offset as a fraction of
	// the element's half-size.
	TapJitter float64 `mapstructure:"tap_jitter" yaml:"tap_jitter"`

	SwipeDurationMin time.Duration `mapstructure:"swipe_duration_min" yaml:"swipe_duration_min"`
	SwipeDurationMax time.Duration `mapstructure:"swipe_duration_max" yaml:"swipe_duration_max"`
	// SwipeSpan is the fraction of the screen a swipe travels along its axis.
	SwipeSpan float64 `mapstructure:"swipe_span" yaml:"swipe_span"`
	// SwipeDrift is the maximum Perlin drift perpendicular to the swipe, as a
	// fraction of the screen size.
	SwipeDrift float64 `mapstructure:"swipe_drift" yaml:"swipe_drift"`

	// TypingCPS is characters per second used to size the settle time after typing.
	TypingCPS float64 `mapstructure:"typing_cps" yaml:"typing_cps"`

	ThinkMin time.Duration `mapstructure:"think_min" yaml:"think_min"`
	ThinkMax time.Duration `mapstructure:"think_max" yaml:"think_max"`
	// WaitDuration is how long a Wait action idles.
	WaitDuration time.Duration `mapstructure:"wait_duration" yaml:"wait_duration"`
}

func setHumanoidDefaults(v *viper.Viper) {
	v.SetDefault("humanoid.enabled", true)
	v.SetDefault("humanoid.seed", 0)
	v.SetDefault("humanoid.tap_jitter", 0.25)
	v.SetDefault("humanoid.swipe_duration_min", "250ms")
	v.SetDefault("humanoid.swipe_duration_max", "650ms")
	v.SetDefault("humanoid.swipe_span", 0.55)
	v.SetDefault("humanoid.swipe_drift", 0.03)
	v.SetDefault("humanoid.typing_cps", 9.0)
	v.SetDefault("humanoid.think_min", "400ms")
	v.SetDefault("humanoid.think_max", "1400ms")
	v.SetDefault("humanoid.wait_duration", "2s")
}

// Validate checks the humanoid configuration.
func (h *HumanoidConfig) Validate() error {
	if h.TapJitter < 0 || h.TapJitter > 1 {
		return fmt.Errorf("humanoid.tap_jitter must be between 0.0 and 1.0")
	}
	if h.SwipeDurationMin <= 0 || h.SwipeDurationMax < h.SwipeDurationMin {
		return fmt.Errorf("humanoid.swipe_duration_min must be positive and not exceed swipe_duration_max")
	}
	if h.SwipeSpan <= 0 || h.SwipeSpan > 0.9 {
		return fmt.Errorf("humanoid.swipe_span must be in (0, 0.9]")
	}
	if h.TypingCPS <= 0 {
		return fmt.Errorf("humanoid.typing_cps must be positive")
	}
	if h.ThinkMin < 0 || h.ThinkMax < h.ThinkMin {
		return fmt.Errorf("humanoid.think_min must not be negative or exceed think_max")
	}
	return nil
}
