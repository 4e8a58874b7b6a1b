package gojahost

import (
	"math"
	"time"

	"github.com/dop251/goja"
)

// SetTimeout schedules fn once, after delayMs. A nil fn is not scheduled,
// and returns handle 0. Safe to call from any goroutine.
func (h *Host) SetTimeout(fn func(), delayMs float64) (uint64, error) {
	return h.js.SetTimeout(fn, loopDelay(delayMs))
}

// ClearTimeout cancels a timeout.
func (h *Host) ClearTimeout(id uint64) error {
	return h.js.ClearTimeout(id)
}

// SetInterval schedules fn every periodMs. A nil fn is not scheduled, and
// returns handle 0. Safe to call from any goroutine.
func (h *Host) SetInterval(fn func(), periodMs float64) (uint64, error) {
	return h.js.SetInterval(fn, loopDelay(periodMs))
}

// ClearInterval cancels an interval.
func (h *Host) ClearInterval(id uint64) error {
	return h.js.ClearInterval(id)
}

// PerformanceNow returns the milliseconds elapsed since the host was
// created, from the monotonic clock.
func (h *Host) PerformanceNow() float64 {
	return float64(time.Since(h.origin)) / float64(time.Millisecond)
}

// DateNow returns the wall clock, in whole milliseconds since the Unix
// epoch.
func (h *Host) DateNow() float64 {
	return float64(time.Now().UnixMilli())
}

// loopDelay converts a delay to the loop's whole milliseconds. Fractional
// delays are truncated, and invalid ones are treated as 0.
func loopDelay(ms float64) int {
	switch {
	case math.IsNaN(ms), ms <= 0:
		return 0
	case ms >= math.MaxInt32:
		return math.MaxInt32
	default:
		return int(ms)
	}
}

func (h *Host) invoker(op string, fn goja.Callable, args []goja.Value) func() {
	return func() {
		if _, err := fn(goja.Undefined(), args...); err != nil {
			h.logger.Err().
				Limit().
				Err(err).
				Str(`source`, op).
				Log(`gojahost: uncaught exception`)
		}
	}
}

func (h *Host) jsSetTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		// string handlers are not evaluated
		return h.runtime.ToValue(0)
	}
	id, err := h.SetTimeout(h.invoker(`setTimeout`, fn, extraArgs(call)), call.Argument(1).ToFloat())
	if err != nil {
		panic(h.runtime.NewGoError(err))
	}
	return h.runtime.ToValue(id)
}

func (h *Host) jsSetInterval(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		return h.runtime.ToValue(0)
	}
	id, err := h.SetInterval(h.invoker(`setInterval`, fn, extraArgs(call)), call.Argument(1).ToFloat())
	if err != nil {
		panic(h.runtime.NewGoError(err))
	}
	return h.runtime.ToValue(id)
}

func (h *Host) jsClearTimeout(call goja.FunctionCall) goja.Value {
	if id, ok := handleArg(call.Argument(0)); ok {
		_ = h.ClearTimeout(id) // unknown ids are ignored
	}
	return goja.Undefined()
}

func (h *Host) jsClearInterval(call goja.FunctionCall) goja.Value {
	if id, ok := handleArg(call.Argument(0)); ok {
		_ = h.ClearInterval(id)
	}
	return goja.Undefined()
}

// extraArgs returns the arguments after the handler and delay.
func extraArgs(call goja.FunctionCall) []goja.Value {
	if len(call.Arguments) <= 2 {
		return nil
	}
	return append([]goja.Value(nil), call.Arguments[2:]...)
}

// handleArg converts a handle passed by a script, which may be anything.
func handleArg(v goja.Value) (uint64, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0, false
	}
	f := v.ToFloat()
	if math.IsNaN(f) || f <= 0 || f > 1<<53 {
		return 0, false
	}
	return uint64(f), true
}
