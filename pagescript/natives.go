package pagescript

import (
	"fmt"
	"math"

	"github.com/dop251/goja"
)

// original is a captured page global, with the receiver it was read from.
type original struct {
	fn   goja.Callable
	this goja.Value
}

func (x original) call(args ...goja.Value) (goja.Value, error) {
	return x.fn(x.this, args...)
}

// forward calls the original with the arguments of an override, as if the
// page had called it directly. Exceptions are rethrown into the script.
func (x original) forward(call goja.FunctionCall) goja.Value {
	v, err := x.call(call.Arguments...)
	if err != nil {
		panic(err)
	}
	return v
}

// callback wraps fn as a function value, or returns undefined for nil.
func callback(rt *goja.Runtime, fn func(call goja.FunctionCall)) goja.Value {
	if fn == nil {
		return goja.Undefined()
	}
	return rt.ToValue(func(call goja.FunctionCall) goja.Value {
		fn(call)
		return goja.Undefined()
	})
}

// maxHandle is Number.MAX_SAFE_INTEGER.
const maxHandle = 1<<53 - 1

func toHandle(v goja.Value) (uint64, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0, fmt.Errorf("pagescript: invalid handle: %v", v)
	}
	f := math.Trunc(v.ToFloat())
	if math.IsNaN(f) || f < 0 || f > maxHandle {
		return 0, fmt.Errorf("pagescript: invalid handle: %v", v)
	}
	return uint64(f), nil
}

// jsNative implements [timewarp.Native] using the captured page globals.
type jsNative struct {
	rt            *goja.Runtime
	setTimeout    original
	clearTimeout  original
	setInterval   original
	clearInterval original
}

func (x *jsNative) schedule(o original, fn func(), ms float64) (uint64, error) {
	var handler func(goja.FunctionCall)
	if fn != nil {
		handler = func(goja.FunctionCall) { fn() }
	}
	v, err := o.call(callback(x.rt, handler), x.rt.ToValue(ms))
	if err != nil {
		return 0, err
	}
	return toHandle(v)
}

func (x *jsNative) clear(o original, id uint64) error {
	_, err := o.call(x.rt.ToValue(id))
	return err
}

func (x *jsNative) SetTimeout(fn func(), delayMs float64) (uint64, error) {
	return x.schedule(x.setTimeout, fn, delayMs)
}

func (x *jsNative) ClearTimeout(id uint64) error { return x.clear(x.clearTimeout, id) }

func (x *jsNative) SetInterval(fn func(), periodMs float64) (uint64, error) {
	return x.schedule(x.setInterval, fn, periodMs)
}

func (x *jsNative) ClearInterval(id uint64) error { return x.clear(x.clearInterval, id) }

// jsClock implements [timewarp.Clock], falling back to fallback for any
// global the page did not have.
type jsClock struct {
	fallback interface {
		PerformanceNow() float64
		DateNow() float64
	}
	performanceNow, dateNow *original
}

func (x *jsClock) PerformanceNow() float64 {
	if x.performanceNow != nil {
		if v, err := x.performanceNow.call(); err == nil {
			return v.ToFloat()
		}
	}
	return x.fallback.PerformanceNow()
}

func (x *jsClock) DateNow() float64 {
	if x.dateNow != nil {
		if v, err := x.dateNow.call(); err == nil {
			return v.ToFloat()
		}
	}
	return x.fallback.DateNow()
}

// jsFrames implements [timewarp.FrameScheduler].
type jsFrames struct {
	rt      *goja.Runtime
	request original
}

func (x *jsFrames) RequestAnimationFrame(fn func(timestamp float64)) (uint64, error) {
	var handler func(goja.FunctionCall)
	if fn != nil {
		handler = func(call goja.FunctionCall) { fn(call.Argument(0).ToFloat()) }
	}
	v, err := x.request.call(callback(x.rt, handler))
	if err != nil {
		return 0, err
	}
	return toHandle(v)
}

// jsCancelableFrames implements [timewarp.FrameCanceler] as well.
type jsCancelableFrames struct {
	jsFrames
	cancel original
}

func (x *jsCancelableFrames) CancelAnimationFrame(id uint64) error {
	_, err := x.cancel.call(x.rt.ToValue(id))
	return err
}
