// Package pagescript installs a [timewarp.Engine] into a goja runtime,
// replacing the page's timer, clock, and animation frame globals with
// virtualized versions.
//
// The globals present at installation are captured once, and the engine
// schedules against those captured originals, so that later reassignment
// by page code cannot redirect it. An override given a non-callable handler
// forwards every argument to the original untouched, so the page observes
// whatever the platform does. An override never throws because of the
// virtualization, falling back to the original instead.
package pagescript

import (
	"errors"
	"fmt"
	"math"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-timewarp/timewarp"
	"github.com/joeycumines/logiface"
)

// InjectedFlag is the global set once the page script is installed.
const InjectedFlag = `__timewarpInjected`

// ErrAlreadyInstalled is returned by [Install] if the runtime has already
// been injected.
var ErrAlreadyInstalled = errors.New("pagescript: already installed")

type (
	// Option configures [Install].
	Option func(c *installConfig)

	installConfig struct {
		logger        *logiface.Logger[logiface.Event]
		engineOptions []timewarp.Option
	}

	override struct {
		target *goja.Object
		name   string
		fn     func(goja.FunctionCall) goja.Value
	}

	// Installation is an installed page script.
	Installation struct {
		rt        *goja.Runtime
		engine    *timewarp.Engine
		logger    *logiface.Logger[logiface.Event]
		originals map[string]original
	}
)

// WithLogger configures the logger, also used by the engine. It may be nil.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return func(c *installConfig) {
		c.logger = logger
	}
}

// WithEngineOptions passes options through to [timewarp.New].
func WithEngineOptions(opts ...timewarp.Option) Option {
	return func(c *installConfig) {
		c.engineOptions = append(c.engineOptions, opts...)
	}
}

// Install captures the current globals of rt, and replaces them. It must be
// called on the goroutine running rt's event loop, as must every method of
// the returned installation.
//
// The timer globals (setTimeout, setInterval, clearTimeout, clearInterval)
// are required. The clocks (performance.now, Date.now) and animation frames
// (requestAnimationFrame, cancelAnimationFrame) are only virtualized if
// present.
func Install(rt *goja.Runtime, opts ...Option) (*Installation, error) {
	if rt == nil {
		return nil, errors.New("pagescript: runtime cannot be nil")
	}

	global := rt.GlobalObject()
	if v := global.Get(InjectedFlag); v != nil && v.ToBoolean() {
		return nil, ErrAlreadyInstalled
	}

	var c installConfig
	for _, opt := range opts {
		opt(&c)
	}

	x := &Installation{
		rt:        rt,
		logger:    c.logger,
		originals: make(map[string]original),
	}

	for _, name := range [...]string{`setTimeout`, `setInterval`, `clearTimeout`, `clearInterval`} {
		o, ok := capture(global, name)
		if !ok {
			return nil, fmt.Errorf("pagescript: global %s is not a function", name)
		}
		x.originals[name] = o
	}

	performance := objectOf(rt, global.Get(`performance`))
	date := objectOf(rt, global.Get(`Date`))
	clock := &jsClock{fallback: timewarp.SystemClock()}
	if performance != nil {
		if o, ok := capture(performance, `now`); ok {
			x.originals[`performance.now`] = o
			clock.performanceNow = &o
		}
	}
	if date != nil {
		if o, ok := capture(date, `now`); ok {
			x.originals[`Date.now`] = o
			clock.dateNow = &o
		}
	}

	engineOpts := []timewarp.Option{timewarp.WithLogger(c.logger), timewarp.WithClock(clock)}
	if request, ok := capture(global, `requestAnimationFrame`); ok {
		x.originals[`requestAnimationFrame`] = request
		frames := jsFrames{rt: rt, request: request}
		if cancel, ok := capture(global, `cancelAnimationFrame`); ok {
			x.originals[`cancelAnimationFrame`] = cancel
			engineOpts = append(engineOpts, timewarp.WithFrameScheduler(&jsCancelableFrames{jsFrames: frames, cancel: cancel}))
		} else {
			engineOpts = append(engineOpts, timewarp.WithFrameScheduler(&frames))
		}
	}

	engine, err := timewarp.New(&jsNative{
		rt:            rt,
		setTimeout:    x.originals[`setTimeout`],
		clearTimeout:  x.originals[`clearTimeout`],
		setInterval:   x.originals[`setInterval`],
		clearInterval: x.originals[`clearInterval`],
	}, append(engineOpts, c.engineOptions...)...)
	if err != nil {
		return nil, fmt.Errorf("pagescript: %w", err)
	}
	x.engine = engine

	overrides := []override{
		{global, `setTimeout`, x.setTimeout},
		{global, `setInterval`, x.setInterval},
		{global, `clearTimeout`, x.clear(`clearTimeout`, engine.ClearTimeout)},
		{global, `clearInterval`, x.clear(`clearInterval`, engine.ClearInterval)},
	}
	if clock.performanceNow != nil {
		overrides = append(overrides, override{performance, `now`, x.performanceNow})
	}
	if clock.dateNow != nil {
		overrides = append(overrides, override{date, `now`, x.dateNow})
	}
	if _, ok := x.originals[`requestAnimationFrame`]; ok {
		overrides = append(overrides, override{global, `requestAnimationFrame`, x.requestAnimationFrame})
	}
	if _, ok := x.originals[`cancelAnimationFrame`]; ok {
		overrides = append(overrides, override{global, `cancelAnimationFrame`, x.cancelAnimationFrame})
	}
	for _, o := range overrides {
		if err := o.target.Set(o.name, o.fn); err != nil {
			return nil, fmt.Errorf("pagescript: override %s: %w", o.name, err)
		}
	}

	if err := global.Set(InjectedFlag, true); err != nil {
		return nil, fmt.Errorf("pagescript: %w", err)
	}

	x.logger.Info().
		Int(`originals`, len(x.originals)).
		Bool(`frameCancel`, engine.CanCancelFrames()).
		Log(`pagescript: installed`)

	return x, nil
}

// Engine returns the installed engine.
func (x *Installation) Engine() *timewarp.Engine { return x.engine }

func capture(target *goja.Object, name string) (original, bool) {
	v := target.Get(name)
	if v == nil {
		return original{}, false
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return original{}, false
	}
	return original{fn: fn, this: target}, true
}

func objectOf(rt *goja.Runtime, v goja.Value) *goja.Object {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.ToObject(rt)
}

// handler adapts a script function to a [timewarp.Handler]. Exceptions
// propagate to the native caller, as uncaught exceptions.
func handler(fn goja.Callable) timewarp.Handler {
	return func(args ...any) {
		values := make([]goja.Value, len(args))
		for i, arg := range args {
			values[i] = arg.(goja.Value)
		}
		if _, err := fn(goja.Undefined(), values...); err != nil {
			panic(err)
		}
	}
}

func delayArg(v goja.Value) float64 {
	f := v.ToFloat()
	if math.IsNaN(f) {
		return 0
	}
	return f
}

func extraArgs(call goja.FunctionCall) []any {
	if len(call.Arguments) <= 2 {
		return nil
	}
	args := make([]any, len(call.Arguments)-2)
	for i, v := range call.Arguments[2:] {
		args[i] = v
	}
	return args
}

func (x *Installation) schedule(name string, call goja.FunctionCall, fn func(timewarp.Handler, float64, ...any) (uint64, error)) goja.Value {
	callable, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		return x.originals[name].forward(call)
	}
	handle, err := fn(handler(callable), delayArg(call.Argument(1)), extraArgs(call)...)
	if err != nil {
		x.logger.Warning().
			Limit().
			Err(err).
			Str(`global`, name).
			Log(`pagescript: virtualization failed, using original`)
		return x.originals[name].forward(call)
	}
	return x.rt.ToValue(handle)
}

func (x *Installation) setTimeout(call goja.FunctionCall) goja.Value {
	return x.schedule(`setTimeout`, call, x.engine.ScheduleOnce)
}

func (x *Installation) setInterval(call goja.FunctionCall) goja.Value {
	return x.schedule(`setInterval`, call, x.engine.ScheduleInterval)
}

func (x *Installation) clear(name string, fn func(uint64) error) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		handle, err := toHandle(call.Argument(0))
		if err != nil {
			return x.originals[name].forward(call)
		}
		if err := fn(handle); err != nil {
			x.logger.Debug().
				Err(err).
				Uint64(`handle`, handle).
				Str(`global`, name).
				Log(`pagescript: clear failed`)
		}
		return goja.Undefined()
	}
}

func (x *Installation) performanceNow(goja.FunctionCall) goja.Value {
	return x.rt.ToValue(x.engine.ReadMonotonic())
}

func (x *Installation) dateNow(goja.FunctionCall) goja.Value {
	return x.rt.ToValue(x.engine.ReadWallClock())
}

func (x *Installation) requestAnimationFrame(call goja.FunctionCall) goja.Value {
	callable, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		return x.originals[`requestAnimationFrame`].forward(call)
	}
	handle, err := x.engine.RequestAnimationFrame(func(timestamp float64) {
		if _, err := callable(goja.Undefined(), x.rt.ToValue(timestamp)); err != nil {
			panic(err)
		}
	})
	if err != nil {
		x.logger.Warning().
			Limit().
			Err(err).
			Log(`pagescript: virtualization failed, using original`)
		return x.originals[`requestAnimationFrame`].forward(call)
	}
	return x.rt.ToValue(handle)
}

func (x *Installation) cancelAnimationFrame(call goja.FunctionCall) goja.Value {
	handle, err := toHandle(call.Argument(0))
	if err != nil {
		return x.originals[`cancelAnimationFrame`].forward(call)
	}
	if err := x.engine.CancelAnimationFrame(handle); err != nil {
		x.logger.Debug().
			Err(err).
			Uint64(`handle`, handle).
			Log(`pagescript: cancel failed`)
	}
	return goja.Undefined()
}
