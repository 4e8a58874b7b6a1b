// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package timewarp

import (
	"math"

	"github.com/joeycumines/go-timewarp/speedconfig"
)

// Handler is a virtualized timer callback. It receives the extra arguments
// given when the timer was scheduled.
type Handler func(args ...any)

// intervalEntry tracks a virtualized interval. The requested period is
// authoritative, and used to recompute the native period whenever the
// multiplier changes.
type intervalEntry struct {
	handler Handler
	args    []any

	period     float64
	realHandle uint64

	// generation invalidates callbacks from a replaced native timer, in case
	// its cancellation failed
	generation uint64

	scheduled bool
	cancelled bool
}

// timeoutEntry tracks a virtualized one-shot timer. One-shot timers keep the
// delay computed when they were created; they are never rescheduled.
type timeoutEntry struct {
	realHandle uint64
	cancelled  bool
}

// normalizeDelay clamps a requested delay or period to a non-negative finite
// value, treating NaN (e.g. an absent argument) as 0.
func normalizeDelay(ms float64) float64 {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms < 0 {
		return 0
	}
	return ms
}

// adjust computes the native delay for a source, flooring to 1ms when the
// source is virtualized to avoid a zero (busy) native timer.
func (e *Engine) adjust(src speedconfig.Source, ms float64) float64 {
	if !e.config.Flags.Has(src) {
		return ms
	}
	return max(1, ms/e.config.Multiplier)
}

// ScheduleInterval is the virtualized setInterval. The returned virtual
// handle is stable across reschedules.
//
// A nil handler is passed through to the native scheduler, unmodified.
func (e *Engine) ScheduleInterval(handler Handler, periodMs float64, args ...any) (uint64, error) {
	if handler == nil {
		return protect(`setInterval`, func() (uint64, error) {
			return e.native.SetInterval(nil, periodMs)
		})
	}

	entry := &intervalEntry{
		handler: handler,
		args:    args,
		period:  normalizeDelay(periodMs),
	}
	if err := e.startInterval(entry); err != nil {
		return 0, err
	}

	handle := e.allocHandle(&e.nextHandle)
	e.intervals[handle] = entry

	e.logger.Trace().
		Uint64(`handle`, handle).
		Uint64(`realHandle`, entry.realHandle).
		Float64(`period`, entry.period).
		Log(`timewarp: interval scheduled`)

	return handle, nil
}

// startInterval schedules the native timer for entry at the current rate,
// falling back once to the unmodified period.
func (e *Engine) startInterval(entry *intervalEntry) error {
	generation := entry.generation
	fire := func() {
		if entry.cancelled || entry.generation != generation {
			return
		}
		entry.handler(entry.args...)
	}

	adjusted := e.adjust(speedconfig.IntervalScheduling, entry.period)
	realHandle, err := protect(`setInterval`, func() (uint64, error) {
		return e.native.SetInterval(fire, adjusted)
	})
	if err != nil && adjusted != entry.period {
		e.logger.Warning().
			Limit().
			Err(err).
			Float64(`period`, adjusted).
			Log(`timewarp: native setInterval failed, retrying unmodified`)
		realHandle, err = protect(`setInterval`, func() (uint64, error) {
			return e.native.SetInterval(fire, entry.period)
		})
	}
	if err != nil {
		e.logger.Err().
			Limit().
			Err(err).
			Float64(`period`, entry.period).
			Log(`timewarp: native setInterval failed`)
		return err
	}

	entry.realHandle = realHandle
	entry.scheduled = true
	return nil
}

// stopInterval cancels the native timer backing entry, if any.
func (e *Engine) stopInterval(entry *intervalEntry) {
	if !entry.scheduled {
		return
	}
	entry.scheduled = false
	entry.generation++
	if err := protectErr(`clearInterval`, func() error {
		return e.native.ClearInterval(entry.realHandle)
	}); err != nil {
		e.logger.Warning().
			Limit().
			Err(err).
			Uint64(`realHandle`, entry.realHandle).
			Log(`timewarp: native clearInterval failed`)
	}
}

// ScheduleOnce is the virtualized setTimeout. The delay is adjusted once, at
// creation; a later multiplier change does not affect a pending timer.
//
// A nil handler is passed through to the native scheduler, unmodified.
func (e *Engine) ScheduleOnce(handler Handler, delayMs float64, args ...any) (uint64, error) {
	if handler == nil {
		return protect(`setTimeout`, func() (uint64, error) {
			return e.native.SetTimeout(nil, delayMs)
		})
	}

	delay := normalizeDelay(delayMs)
	handle := e.allocHandle(&e.nextHandle)
	entry := &timeoutEntry{}
	fire := func() {
		if entry.cancelled {
			return
		}
		entry.cancelled = true
		delete(e.timeouts, handle)
		handler(args...)
	}

	adjusted := e.adjust(speedconfig.OneShotScheduling, delay)
	realHandle, err := protect(`setTimeout`, func() (uint64, error) {
		return e.native.SetTimeout(fire, adjusted)
	})
	if err != nil && adjusted != delay {
		e.logger.Warning().
			Limit().
			Err(err).
			Float64(`delay`, adjusted).
			Log(`timewarp: native setTimeout failed, retrying unmodified`)
		realHandle, err = protect(`setTimeout`, func() (uint64, error) {
			return e.native.SetTimeout(fire, delay)
		})
	}
	if err != nil {
		e.logger.Err().
			Limit().
			Err(err).
			Float64(`delay`, delay).
			Log(`timewarp: native setTimeout failed`)
		return 0, err
	}

	entry.realHandle = realHandle
	e.timeouts[handle] = entry
	return handle, nil
}

// ClearInterval is the virtualized clearInterval. Any virtual timer handle
// is accepted. Unknown handles are forwarded to the native clearInterval.
func (e *Engine) ClearInterval(handle uint64) error {
	return e.cancel(handle, e.native.ClearInterval)
}

// ClearTimeout is the virtualized clearTimeout. Any virtual timer handle is
// accepted. Unknown handles are forwarded to the native clearTimeout.
func (e *Engine) ClearTimeout(handle uint64) error {
	return e.cancel(handle, e.native.ClearTimeout)
}

func (e *Engine) cancel(handle uint64, forward func(id uint64) error) error {
	if entry, ok := e.intervals[handle]; ok {
		entry.cancelled = true
		delete(e.intervals, handle)
		e.stopInterval(entry)
		return nil
	}

	if entry, ok := e.timeouts[handle]; ok {
		entry.cancelled = true
		delete(e.timeouts, handle)
		if err := protectErr(`clearTimeout`, func() error {
			return e.native.ClearTimeout(entry.realHandle)
		}); err != nil {
			e.logger.Warning().
				Limit().
				Err(err).
				Uint64(`realHandle`, entry.realHandle).
				Log(`timewarp: native clearTimeout failed`)
		}
		return nil
	}

	// may be a native handle, minted before installation
	return protectErr(`clear`, func() error {
		return forward(handle)
	})
}

// RescheduleAll replaces the native timer of every live interval, at the
// current rate. Each native timer is cancelled before its replacement is
// created. One-shot timers are left alone.
func (e *Engine) RescheduleAll() {
	var failed int
	for _, entry := range e.intervals {
		if entry.cancelled {
			continue
		}
		e.stopInterval(entry)
		if err := e.startInterval(entry); err != nil {
			failed++
		}
	}

	e.logger.Debug().
		Int(`intervals`, len(e.intervals)).
		Int(`failed`, failed).
		Float64(`speed`, e.config.Multiplier).
		Log(`timewarp: rescheduled intervals`)
}

// TimerCount returns the number of live virtual intervals and timeouts.
func (e *Engine) TimerCount() (intervals, timeouts int) {
	return len(e.intervals), len(e.timeouts)
}
