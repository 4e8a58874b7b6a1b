package wire

import (
	"fmt"
	"strings"

	"github.com/joeycumines/go-timewarp/speedconfig"
)

// ConfigPayload is the configuration carried by [SetSpeedConfig]. Every
// field is optional; absent fields leave the receiver's value unchanged.
type ConfigPayload struct {
	Speed          *float64 `json:"speed,omitempty" msgpack:"speed,omitempty"`
	SelectedSpeed  *int     `json:"selectedSpeed,omitempty" msgpack:"selectedSpeed,omitempty"`
	Interval       *bool    `json:"cbSetIntervalChecked,omitempty" msgpack:"cbSetIntervalChecked,omitempty"`
	Timeout        *bool    `json:"cbSetTimeoutChecked,omitempty" msgpack:"cbSetTimeoutChecked,omitempty"`
	PerformanceNow *bool    `json:"cbPerformanceNowChecked,omitempty" msgpack:"cbPerformanceNowChecked,omitempty"`
	DateNow        *bool    `json:"cbDateNowChecked,omitempty" msgpack:"cbDateNowChecked,omitempty"`
	AnimationFrame *bool    `json:"cbRequestAnimationFrameChecked,omitempty" msgpack:"cbRequestAnimationFrameChecked,omitempty"`

	// Running is informational, the multiplier is authoritative.
	Running *bool `json:"running,omitempty" msgpack:"running,omitempty"`
}

// PayloadOf describes every field of config.
func PayloadOf(config speedconfig.Config) *ConfigPayload {
	speed := config.Multiplier
	selected := config.SelectedSpeed
	running := config.Running()
	p := &ConfigPayload{
		Speed:         &speed,
		SelectedSpeed: &selected,
		Running:       &running,
	}
	for _, src := range speedconfig.Sources() {
		v := config.Flags.Has(src)
		*p.flag(src) = &v
	}
	return p
}

// flag returns the field for src, which must be valid.
func (p *ConfigPayload) flag(src speedconfig.Source) **bool {
	switch src {
	case speedconfig.IntervalScheduling:
		return &p.Interval
	case speedconfig.OneShotScheduling:
		return &p.Timeout
	case speedconfig.MonotonicClock:
		return &p.PerformanceNow
	case speedconfig.WallClock:
		return &p.DateNow
	case speedconfig.AnimationFrame:
		return &p.AnimationFrame
	default:
		panic(fmt.Sprintf("wire: invalid source %d", src))
	}
}

// Patch converts the payload into a configuration update.
func (p *ConfigPayload) Patch() speedconfig.Patch {
	var patch speedconfig.Patch
	if p == nil {
		return patch
	}
	if p.Speed != nil {
		v := *p.Speed
		patch.Speed = &v
	}
	if p.SelectedSpeed != nil {
		v := *p.SelectedSpeed
		patch.SelectedSpeed = &v
	}
	for _, src := range speedconfig.Sources() {
		if v := *p.flag(src); v != nil {
			if patch.Sources == nil {
				patch.Sources = make(map[speedconfig.Source]bool)
			}
			patch.Sources[src] = *v
		}
	}
	return patch
}

func (p *ConfigPayload) String() string {
	if p == nil {
		return "{}"
	}
	var fields []string
	if p.Speed != nil {
		fields = append(fields, fmt.Sprintf("speed=%v", *p.Speed))
	}
	if p.SelectedSpeed != nil {
		fields = append(fields, fmt.Sprintf("selectedSpeed=%d", *p.SelectedSpeed))
	}
	for _, src := range speedconfig.Sources() {
		if v := *p.flag(src); v != nil {
			fields = append(fields, fmt.Sprintf("%s=%t", src, *v))
		}
	}
	return "{" + strings.Join(fields, " ") + "}"
}
