package gojahost

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dop251/goja"
)

// ErrNotCallable is returned by [Host.RequestAnimationFrame] for a nil
// callback.
var ErrNotCallable = errors.New("gojahost: callback is not callable")

// RequestAnimationFrame queues fn for the next frame. Every callback queued
// before a frame is called with the same timestamp, from
// [Host.PerformanceNow]. Must be called on the loop.
func (h *Host) RequestAnimationFrame(fn func(timestamp float64)) (uint64, error) {
	if fn == nil {
		return 0, ErrNotCallable
	}
	if !h.pumpArmed {
		if _, err := h.js.SetTimeout(h.pump, loopDelay(float64(h.frameInterval.Milliseconds()))); err != nil {
			return 0, fmt.Errorf("gojahost: schedule frame: %w", err)
		}
		h.pumpArmed = true
	}
	h.nextFrame++
	h.frames[h.nextFrame] = fn
	return h.nextFrame, nil
}

// CancelAnimationFrame removes a queued callback, including one queued for
// the frame currently being run. Unknown ids are ignored. Must be called on
// the loop.
func (h *Host) CancelAnimationFrame(id uint64) error {
	delete(h.frames, id)
	delete(h.running, id)
	return nil
}

// pump runs a single frame.
func (h *Host) pump() {
	h.pumpArmed = false
	h.running, h.frames = h.frames, h.running
	ids := make([]uint64, 0, len(h.running))
	for id := range h.running {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	timestamp := h.PerformanceNow()
	for _, id := range ids {
		fn, ok := h.running[id]
		if !ok {
			continue
		}
		delete(h.running, id)
		h.runFrame(id, fn, timestamp)
	}
}

func (h *Host) runFrame(id uint64, fn func(timestamp float64), timestamp float64) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Err().
				Limit().
				Interface(`panic`, r).
				Uint64(`id`, id).
				Log(`gojahost: animation frame callback panicked`)
		}
	}()
	fn(timestamp)
}

func (h *Host) jsRequestAnimationFrame(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(h.runtime.NewTypeError("requestAnimationFrame: argument is not a function"))
	}
	id, err := h.RequestAnimationFrame(func(timestamp float64) {
		if _, err := fn(goja.Undefined(), h.runtime.ToValue(timestamp)); err != nil {
			h.logger.Err().
				Limit().
				Err(err).
				Str(`source`, `requestAnimationFrame`).
				Log(`gojahost: uncaught exception`)
		}
	})
	if err != nil {
		panic(h.runtime.NewGoError(err))
	}
	return h.runtime.ToValue(id)
}

func (h *Host) jsCancelAnimationFrame(call goja.FunctionCall) goja.Value {
	if id, ok := handleArg(call.Argument(0)); ok {
		_ = h.CancelAnimationFrame(id)
	}
	return goja.Undefined()
}
