package timewarp

import (
	"math"

	"github.com/joeycumines/go-timewarp/speedconfig"
)

// FrameCallback is an animation frame callback, receiving a timestamp in
// milliseconds on the monotonic clock.
type FrameCallback func(timestamp float64)

type frameRegistration struct {
	callback   FrameCallback
	realHandle uint64
}

// RequestAnimationFrame is the virtualized requestAnimationFrame.
//
// If animation frames are not virtualized, or the multiplier is 1, the
// callback is forwarded 1:1. Otherwise, when the native frame fires, the
// callback is invoked synchronously min(ceil(multiplier), max frame calls)
// times, with timestamps advanced by the nominal frame interval.
//
// Requests made by one invocation of an expanded dispatch replace the
// requests made, in the same order, by the invocation before it. A callback
// that requests the next frame every time it runs therefore leaves a single
// pending registration, holding its latest callback, under the same handle.
// Unlike the browser, where each request is a distinct registration, this
// keeps the work per native frame bounded by the max frame calls.
//
// A nil callback is passed through to the native scheduler, unmodified.
func (e *Engine) RequestAnimationFrame(callback FrameCallback) (uint64, error) {
	if e.frames == nil {
		return 0, ErrNoFrameScheduler
	}
	if callback == nil {
		return protect(`requestAnimationFrame`, func() (uint64, error) {
			return e.frames.RequestAnimationFrame(nil)
		})
	}

	if e.dispatching {
		if i := len(e.frameCur); i < len(e.framePrev) {
			if reg, ok := e.frameRegs[e.framePrev[i]]; ok {
				reg.callback = callback
				e.frameCur = append(e.frameCur, e.framePrev[i])
				return e.framePrev[i], nil
			}
		}
	}

	handle := e.allocHandle(&e.nextFrameHandle)

	var fire func(timestamp float64)
	if !e.config.Flags.Has(speedconfig.AnimationFrame) || e.config.Multiplier == 1 {
		fire = func(timestamp float64) {
			reg, ok := e.frameRegs[handle]
			if !ok {
				return
			}
			delete(e.frameRegs, handle)
			reg.callback(timestamp)
		}
	} else {
		fire = func(timestamp float64) {
			e.dispatchFrame(handle, timestamp)
		}
	}

	realHandle, err := protect(`requestAnimationFrame`, func() (uint64, error) {
		return e.frames.RequestAnimationFrame(fire)
	})
	if err != nil {
		e.logger.Err().
			Limit().
			Err(err).
			Log(`timewarp: native requestAnimationFrame failed`)
		return 0, err
	}

	e.frameRegs[handle] = &frameRegistration{
		callback:   callback,
		realHandle: realHandle,
	}
	if e.dispatching {
		e.frameCur = append(e.frameCur, handle)
	}
	return handle, nil
}

// dispatchFrame consumes the registration for handle, expanding it into
// multiple invocations. A dispatch that begins while another is in progress
// degrades to a single direct invocation.
func (e *Engine) dispatchFrame(handle uint64, timestamp float64) {
	reg, ok := e.frameRegs[handle]
	if !ok {
		return
	}
	delete(e.frameRegs, handle)

	if e.dispatching {
		reg.callback(timestamp)
		return
	}

	e.dispatching = true
	defer func() {
		e.dispatching = false
		e.framePrev = e.framePrev[:0]
		e.frameCur = e.frameCur[:0]
		if r := recover(); r != nil {
			e.logger.Err().
				Limit().
				Interface(`panic`, r).
				Uint64(`handle`, handle).
				Log(`timewarp: animation frame callback panicked`)
		}
	}()

	calls := e.frameCalls()
	for i := 0; i < calls; i++ {
		if i > 0 {
			e.framePrev, e.frameCur = e.frameCur, e.framePrev[:0]
		}
		reg.callback(timestamp + float64(i)*e.frameInterval)
	}
}

// frameCalls is the number of invocations per real frame, at the current
// rate.
func (e *Engine) frameCalls() int {
	n := math.Ceil(e.config.Scale(speedconfig.AnimationFrame))
	if !(n >= 1) {
		return 1
	}
	if n > float64(e.maxFrameCalls) {
		return e.maxFrameCalls
	}
	return int(n)
}

// CancelAnimationFrame is the virtualized cancelAnimationFrame. Unknown
// handles are forwarded to the native cancelAnimationFrame. Returns
// [ErrFrameCancelUnsupported] if the platform cannot cancel frames.
func (e *Engine) CancelAnimationFrame(handle uint64) error {
	if e.frameCancel == nil {
		return ErrFrameCancelUnsupported
	}

	if reg, ok := e.frameRegs[handle]; ok {
		delete(e.frameRegs, handle)
		if err := protectErr(`cancelAnimationFrame`, func() error {
			return e.frameCancel.CancelAnimationFrame(reg.realHandle)
		}); err != nil {
			e.logger.Warning().
				Limit().
				Err(err).
				Uint64(`realHandle`, reg.realHandle).
				Log(`timewarp: native cancelAnimationFrame failed`)
		}
		return nil
	}

	return protectErr(`cancelAnimationFrame`, func() error {
		return e.frameCancel.CancelAnimationFrame(handle)
	})
}
