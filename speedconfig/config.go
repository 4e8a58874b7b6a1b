// Package speedconfig models the speed configuration shared between the
// privileged controller and the page context: the effective multiplier, the
// user-facing preset, and which time sources participate in virtualization.
//
// A [Config] is an immutable value. Updates produce a new value via
// [Config.Merge] or [Config.Select], which enforce the invariant that the
// multiplier is either exactly 1 (not running) or equal to the selected
// preset (running).
package speedconfig

import (
	"errors"
	"fmt"
	"math"
)

// DefaultSelectedSpeed is the preset used before any preference is known.
const DefaultSelectedSpeed = 5

var (
	// ErrInvalidPreset indicates a selected speed outside [Presets].
	ErrInvalidPreset = errors.New("speedconfig: invalid preset")

	// ErrInvalidSpeed indicates a multiplier that is not finite and positive,
	// or that is inconsistent with the selected preset.
	ErrInvalidSpeed = errors.New("speedconfig: invalid speed")
)

// presets is the closed set of user-facing speeds.
var presets = [...]int{5, 10, 20, 30}

// Presets returns the allowed selected speeds, in ascending order.
func Presets() []int {
	s := make([]int, len(presets))
	copy(s, presets[:])
	return s
}

// IsPreset reports whether v is one of the allowed selected speeds.
func IsPreset(v int) bool {
	for _, p := range presets {
		if p == v {
			return true
		}
	}
	return false
}

// presetOf returns the preset equal to f, if any.
func presetOf(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	v := int(f)
	return v, IsPreset(v)
}

// Config is the current speed configuration.
type Config struct {
	// Multiplier is the ratio of virtual time to real time, 1 meaning
	// unmodified.
	Multiplier float64
	// SelectedSpeed is retained independently of whether virtualization is
	// running, so that toggling off and on restores the last choice.
	SelectedSpeed int
	// Flags gates each time source.
	Flags Flags
}

// Default returns the configuration in effect at page-script load.
func Default() Config {
	return Config{
		Multiplier:    1,
		SelectedSpeed: DefaultSelectedSpeed,
	}
}

// Running reports whether virtualization is logically active.
func (c Config) Running() bool {
	return c.Multiplier > 1
}

// Scale returns the effective rate for src: the multiplier if the source is
// subject to virtualization, otherwise 1.
func (c Config) Scale(src Source) float64 {
	if c.Flags.Has(src) {
		return c.Multiplier
	}
	return 1
}

// Validate checks the invariants of the model.
func (c Config) Validate() error {
	if !IsPreset(c.SelectedSpeed) {
		return fmt.Errorf("%w: %d", ErrInvalidPreset, c.SelectedSpeed)
	}
	if c.Multiplier != 1 && c.Multiplier != float64(c.SelectedSpeed) {
		return fmt.Errorf("%w: multiplier %v with selected speed %d", ErrInvalidSpeed, c.Multiplier, c.SelectedSpeed)
	}
	return nil
}

// Select returns the configuration after changing the preset, without
// toggling the run state. A running configuration adopts the new preset as
// its multiplier immediately.
func (c Config) Select(preset int) (Config, error) {
	if !IsPreset(preset) {
		return c, fmt.Errorf("%w: %d", ErrInvalidPreset, preset)
	}
	running := c.Running()
	c.SelectedSpeed = preset
	if running {
		c.Multiplier = float64(preset)
	}
	return c, nil
}

// WithRunning returns the configuration with the run state set, deriving the
// multiplier from the selected preset.
func (c Config) WithRunning(running bool) Config {
	if running {
		c.Multiplier = float64(c.SelectedSpeed)
	} else {
		c.Multiplier = 1
	}
	return c
}

// Merge applies a partial update, returning the new configuration. The
// receiver is returned unchanged alongside any error.
//
// The selected speed is taken from the patch, else from a patch speed that is
// itself a preset, else kept. The multiplier is taken from the patch (it must
// be exactly 1 or equal the selected speed), else re-derived from the current
// run state.
func (c Config) Merge(p Patch) (Config, error) {
	next := c

	switch {
	case p.SelectedSpeed != nil:
		next.SelectedSpeed = *p.SelectedSpeed
	case p.Speed != nil:
		if v, ok := presetOf(*p.Speed); ok {
			next.SelectedSpeed = v
		}
	}
	if !IsPreset(next.SelectedSpeed) {
		return c, fmt.Errorf("%w: %d", ErrInvalidPreset, next.SelectedSpeed)
	}

	if p.Speed != nil {
		speed := *p.Speed
		switch {
		case math.IsNaN(speed) || math.IsInf(speed, 0) || speed <= 0:
			return c, fmt.Errorf("%w: %v", ErrInvalidSpeed, speed)
		case speed == 1, speed == float64(next.SelectedSpeed):
			next.Multiplier = speed
		default:
			return c, fmt.Errorf("%w: %v does not match selected speed %d", ErrInvalidSpeed, speed, next.SelectedSpeed)
		}
	} else {
		next = next.WithRunning(c.Running())
	}

	for src, enabled := range p.Sources {
		if !src.Valid() {
			continue
		}
		if enabled {
			next.Flags = next.Flags.With(src)
		} else {
			next.Flags = next.Flags.Without(src)
		}
	}

	return next, nil
}

// String implements fmt.Stringer.
func (c Config) String() string {
	return fmt.Sprintf("x%v (selected x%d) sources=%s", c.Multiplier, c.SelectedSpeed, c.Flags)
}

// Patch is a partial configuration update. Nil fields are left unchanged.
type Patch struct {
	Speed         *float64
	SelectedSpeed *int
	// Sources overrides individual source flags; absent sources are kept.
	Sources map[Source]bool
}
