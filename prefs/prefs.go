// Package prefs implements the persisted preferences of the privileged
// controller: whether virtualization is running, the selected preset, and
// the table of named presets.
package prefs

import (
	"maps"
	"math"

	"github.com/joeycumines/go-timewarp/speedconfig"
)

// Stable storage keys.
const (
	KeyRunning       = `isRunning`
	KeySelectedSpeed = `selectedSpeed`
	KeyPresets       = `speedPresets`
)

// Preferences is a snapshot of the persisted preferences.
type Preferences struct {
	Presets       map[string]int `toml:"speedPresets" yaml:"speedPresets" json:"speedPresets"`
	SelectedSpeed int            `toml:"selectedSpeed" yaml:"selectedSpeed" json:"selectedSpeed"`
	Running       bool           `toml:"isRunning" yaml:"isRunning" json:"isRunning"`
}

// Defaults returns the preferences used when nothing valid is stored.
func Defaults() Preferences {
	return Preferences{
		Presets:       defaultPresets(),
		SelectedSpeed: speedconfig.DefaultSelectedSpeed,
	}
}

func defaultPresets() map[string]int {
	return map[string]int{
		`x5`:  5,
		`x10`: 10,
		`x20`: 20,
		`x30`: 30,
	}
}

// CurrentSpeed is the effective multiplier: the selected preset while
// running, otherwise 1.
func (x Preferences) CurrentSpeed() int {
	if x.Running {
		return x.SelectedSpeed
	}
	return 1
}

// Config is the configuration pushed to the page, with every source
// virtualized.
func (x Preferences) Config() speedconfig.Config {
	return speedconfig.Config{
		Multiplier:    float64(x.CurrentSpeed()),
		SelectedSpeed: x.SelectedSpeed,
		Flags:         speedconfig.AllSources,
	}
}

func (x Preferences) clone() Preferences {
	x.Presets = maps.Clone(x.Presets)
	return x
}

func (x Preferences) values() map[string]any {
	presets := make(map[string]any, len(x.Presets))
	for k, v := range x.Presets {
		presets[k] = int64(v)
	}
	return map[string]any{
		KeyRunning:       x.Running,
		KeySelectedSpeed: int64(x.SelectedSpeed),
		KeyPresets:       presets,
	}
}

// asInt converts a stored number to an int, if it is integral.
func asInt(v any) (int, bool) {
	switch v := v.(type) {
	case int:
		return v, true
	case int64:
		if v < math.MinInt || v > math.MaxInt {
			return 0, false
		}
		return int(v), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) || v < math.MinInt || v > math.MaxInt {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}
