// Package wire defines the message envelopes exchanged between the
// privileged controller and the page context, and a msgpack stream codec
// for carrying them across an isolation boundary.
package wire

import (
	"errors"
	"fmt"
	"math"

	"github.com/joeycumines/go-timewarp/speedconfig"
)

// ErrMalformed indicates an envelope with an unknown command, or a shape
// that does not match its command.
var ErrMalformed = errors.New("wire: malformed message")

// Command identifies the kind of an [Envelope].
type Command string

const (
	// SetSpeedConfig carries a full configuration, in [Envelope.Config].
	SetSpeedConfig Command = "setSpeedConfig"
	// SetSpeedSelection carries a preset change, in [Envelope.SelectedSpeed].
	SetSpeedSelection Command = "setSpeedSelection"
	// GetSpeedConfig requests the current configuration, answered with
	// SetSpeedConfig.
	GetSpeedConfig Command = "getSpeedConfig"
	// PageScriptReady is announced once by the page, after installation.
	PageScriptReady Command = "pageScriptReady"
	// SpeedConfigApplied acknowledges an update, with the effective
	// multiplier in [Envelope.Speed].
	SpeedConfigApplied Command = "speedConfigApplied"
	// SpeedConfigError reports a rejected update, in [Envelope.Error].
	SpeedConfigError Command = "speedConfigError"
)

// Valid reports whether c is a known command.
func (c Command) Valid() bool {
	switch c {
	case SetSpeedConfig, SetSpeedSelection, GetSpeedConfig, PageScriptReady, SpeedConfigApplied, SpeedConfigError:
		return true
	default:
		return false
	}
}

// Envelope is a single message. Which fields are populated depends on
// Command, see [Envelope.Validate].
type Envelope struct {
	Command       Command        `json:"command" msgpack:"command"`
	Config        *ConfigPayload `json:"config,omitempty" msgpack:"config,omitempty"`
	SelectedSpeed *int           `json:"selectedSpeed,omitempty" msgpack:"selectedSpeed,omitempty"`
	Speed         *float64       `json:"speed,omitempty" msgpack:"speed,omitempty"`
	Error         string         `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Validate checks the shape of the envelope, returning an error wrapping
// [ErrMalformed]. Values are not range checked, that is left to the
// configuration model.
func (x Envelope) Validate() error {
	if !x.Command.Valid() {
		return fmt.Errorf("%w: unknown command %q", ErrMalformed, x.Command)
	}
	switch x.Command {
	case SetSpeedConfig:
		if x.Config == nil {
			return fmt.Errorf("%w: %s without config", ErrMalformed, x.Command)
		}
		if x.Config.Speed != nil && (math.IsNaN(*x.Config.Speed) || math.IsInf(*x.Config.Speed, 0)) {
			return fmt.Errorf("%w: %s with non-finite speed", ErrMalformed, x.Command)
		}
	case SetSpeedSelection:
		if x.SelectedSpeed == nil {
			return fmt.Errorf("%w: %s without selectedSpeed", ErrMalformed, x.Command)
		}
	case SpeedConfigApplied:
		if x.Speed == nil {
			return fmt.Errorf("%w: %s without speed", ErrMalformed, x.Command)
		}
	case SpeedConfigError:
		if x.Error == "" {
			return fmt.Errorf("%w: %s without error", ErrMalformed, x.Command)
		}
	}
	return nil
}

func (x Envelope) String() string {
	switch x.Command {
	case SetSpeedConfig:
		if x.Config != nil {
			return fmt.Sprintf("%s%s", x.Command, x.Config)
		}
	case SetSpeedSelection:
		if x.SelectedSpeed != nil {
			return fmt.Sprintf("%s(%d)", x.Command, *x.SelectedSpeed)
		}
	case SpeedConfigApplied:
		if x.Speed != nil {
			return fmt.Sprintf("%s(%v)", x.Command, *x.Speed)
		}
	case SpeedConfigError:
		return fmt.Sprintf("%s(%q)", x.Command, x.Error)
	}
	return string(x.Command)
}

// NewSetSpeedConfig builds a full configuration push.
func NewSetSpeedConfig(config speedconfig.Config) Envelope {
	return Envelope{Command: SetSpeedConfig, Config: PayloadOf(config)}
}

// NewSetSpeedSelection builds a preset change.
func NewSetSpeedSelection(preset int) Envelope {
	return Envelope{Command: SetSpeedSelection, SelectedSpeed: &preset}
}

// NewGetSpeedConfig builds a configuration request.
func NewGetSpeedConfig() Envelope {
	return Envelope{Command: GetSpeedConfig}
}

// NewPageScriptReady builds the readiness announcement.
func NewPageScriptReady() Envelope {
	return Envelope{Command: PageScriptReady}
}

// NewSpeedConfigApplied builds an acknowledgement.
func NewSpeedConfigApplied(speed float64) Envelope {
	return Envelope{Command: SpeedConfigApplied, Speed: &speed}
}

// NewSpeedConfigError builds a failure report. A nil err is reported as
// "unknown error".
func NewSpeedConfigError(err error) Envelope {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Envelope{Command: SpeedConfigError, Error: msg}
}
