package prefs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/joeycumines/go-timewarp/speedconfig"
	"github.com/joeycumines/logiface"
)

// State is the in-memory view of the preferences, written through to a
// [Store] on every change. It is safe for concurrent use.
//
// Changes are persisted before they take effect, so a failed write leaves
// the state unchanged.
type State struct {
	store  Store
	logger *logiface.Logger[logiface.Event]
	prefs  Preferences
	mu     sync.Mutex
}

// NewState returns a state holding [Defaults], backed by store. Call
// [State.Initialize] to load the stored values. The logger may be nil.
func NewState(store Store, logger *logiface.Logger[logiface.Event]) (*State, error) {
	if store == nil {
		return nil, errors.New("prefs: store cannot be nil")
	}
	return &State{
		store:  store,
		logger: logger,
		prefs:  Defaults(),
	}, nil
}

// Initialize loads the stored preferences. Each value is validated
// independently, invalid values are replaced by their default, and an
// invalid selection is repaired in the store.
//
// If the store cannot be read, the state falls back to [Defaults], which
// it attempts to save, and the read error is returned. The state is usable
// regardless.
func (x *State) Initialize() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	values, err := x.store.Load()
	if err != nil {
		x.prefs = Defaults()
		x.logger.Err().
			Err(err).
			Log(`prefs: failed to load, using defaults`)
		if saveErr := x.store.Save(x.prefs.values()); saveErr != nil {
			x.logger.Err().
				Err(saveErr).
				Log(`prefs: failed to save defaults`)
		}
		return fmt.Errorf("prefs: load: %w", err)
	}

	next := Defaults()

	switch v, ok := values[KeyRunning].(bool); {
	case ok:
		next.Running = v
	case values[KeyRunning] != nil:
		x.logger.Warning().
			Interface(`value`, values[KeyRunning]).
			Log(`prefs: invalid running state, using default`)
	}

	if raw, present := values[KeySelectedSpeed]; present {
		if v, ok := asInt(raw); ok && speedconfig.IsPreset(v) {
			next.SelectedSpeed = v
		} else {
			x.logger.Warning().
				Interface(`value`, raw).
				Log(`prefs: invalid selected speed, repairing`)
			if err := x.store.Save(map[string]any{KeySelectedSpeed: int64(next.SelectedSpeed)}); err != nil {
				x.logger.Err().
					Err(err).
					Log(`prefs: failed to repair selected speed`)
			}
		}
	}

	switch raw := values[KeyPresets].(type) {
	case nil:
	case map[string]any:
		for name, value := range raw {
			if v, ok := asInt(value); ok && v > 0 {
				next.Presets[name] = v
			} else {
				x.logger.Warning().
					Str(`name`, name).
					Interface(`value`, value).
					Log(`prefs: skipping invalid preset`)
			}
		}
	default:
		x.logger.Warning().
			Interface(`value`, raw).
			Log(`prefs: invalid presets, using defaults`)
	}

	x.prefs = next

	x.logger.Info().
		Bool(`running`, next.Running).
		Int(`selectedSpeed`, next.SelectedSpeed).
		Log(`prefs: initialized`)

	return nil
}

// SetSpeed changes the selected preset, returning an error wrapping
// [speedconfig.ErrInvalidPreset] if v is not one.
func (x *State) SetSpeed(v int) error {
	if !speedconfig.IsPreset(v) {
		return fmt.Errorf("%w: %d (allowed %v)", speedconfig.ErrInvalidPreset, v, speedconfig.Presets())
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.store.Save(map[string]any{KeySelectedSpeed: int64(v)}); err != nil {
		x.logger.Err().
			Err(err).
			Int(`selectedSpeed`, v).
			Log(`prefs: failed to save selected speed`)
		return err
	}

	x.logger.Info().
		Int(`from`, x.prefs.SelectedSpeed).
		Int(`to`, v).
		Log(`prefs: selected speed changed`)

	x.prefs.SelectedSpeed = v
	return nil
}

// Toggle flips the running state, returning the resulting state. On error,
// the unchanged state is returned.
func (x *State) Toggle() (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	err := x.setRunning(!x.prefs.Running)
	return x.prefs.Running, err
}

// SetRunning sets the running state.
func (x *State) SetRunning(running bool) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.setRunning(running)
}

func (x *State) setRunning(running bool) error {
	if err := x.store.Save(map[string]any{KeyRunning: running}); err != nil {
		x.logger.Err().
			Err(err).
			Bool(`running`, running).
			Log(`prefs: failed to save running state`)
		return err
	}
	x.prefs.Running = running
	x.logger.Info().
		Bool(`running`, running).
		Int(`selectedSpeed`, x.prefs.SelectedSpeed).
		Log(`prefs: running state changed`)
	return nil
}

// CurrentSpeed returns the effective multiplier.
func (x *State) CurrentSpeed() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.prefs.CurrentSpeed()
}

// Snapshot returns a copy of the current preferences.
func (x *State) Snapshot() Preferences {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.prefs.clone()
}

// Persist saves every preference.
func (x *State) Persist() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.store.Save(x.prefs.values()); err != nil {
		x.logger.Err().
			Err(err).
			Log(`prefs: failed to persist`)
		return err
	}
	return nil
}
