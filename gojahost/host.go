// Package gojahost provides a page environment for scripts: a goja runtime,
// driven by a go-eventloop loop, with the timer, clock, animation frame, and
// console globals a browser page would have.
//
// The same primitives are available as Go methods, and [Host] satisfies
// [timewarp.Native], [timewarp.Clock], [timewarp.FrameScheduler] and
// [timewarp.FrameCanceler].
//
// The runtime is not safe for concurrent use. Scripts, and every method
// that touches the runtime or the animation frame queue, must run on the
// loop, e.g. via [Host.Submit].
package gojahost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	eventloop "github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/go-timewarp/timewarp"
	"github.com/joeycumines/logiface"
)

// DefaultFrameInterval is the period of the animation frame pump, about
// 60 frames per second.
const DefaultFrameInterval = 16 * time.Millisecond

var (
	_ timewarp.Native         = (*Host)(nil)
	_ timewarp.Clock          = (*Host)(nil)
	_ timewarp.FrameScheduler = (*Host)(nil)
	_ timewarp.FrameCanceler  = (*Host)(nil)
)

type (
	// Option configures a [Host].
	Option func(c *hostConfig)

	hostConfig struct {
		logger        *logiface.Logger[logiface.Event]
		frameInterval time.Duration
	}

	// Host binds platform primitives into a goja runtime.
	Host struct {
		origin        time.Time
		loop          *eventloop.Loop
		js            *eventloop.JS
		runtime       *goja.Runtime
		logger        *logiface.Logger[logiface.Event]
		frames        map[uint64]func(timestamp float64)
		running       map[uint64]func(timestamp float64)
		frameInterval time.Duration
		nextFrame     uint64
		pumpArmed     bool
	}
)

// WithLogger configures the logger, used for console output and uncaught
// exceptions. It may be nil.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return func(c *hostConfig) {
		c.logger = logger
	}
}

// WithFrameInterval overrides [DefaultFrameInterval].
func WithFrameInterval(d time.Duration) Option {
	return func(c *hostConfig) {
		c.frameInterval = d
	}
}

// New creates a host for runtime, on loop. Call [Host.Bind] to publish the
// globals.
func New(loop *eventloop.Loop, runtime *goja.Runtime, opts ...Option) (*Host, error) {
	if loop == nil {
		return nil, errors.New("gojahost: loop cannot be nil")
	}
	if runtime == nil {
		return nil, errors.New("gojahost: runtime cannot be nil")
	}

	c := hostConfig{frameInterval: DefaultFrameInterval}
	for _, opt := range opts {
		opt(&c)
	}
	if c.frameInterval <= 0 {
		return nil, fmt.Errorf("gojahost: invalid frame interval: %s", c.frameInterval)
	}

	js, err := eventloop.NewJS(loop)
	if err != nil {
		return nil, fmt.Errorf("gojahost: failed to create JS adapter: %w", err)
	}

	return &Host{
		origin:        time.Now(),
		loop:          loop,
		js:            js,
		runtime:       runtime,
		logger:        c.logger,
		frames:        make(map[uint64]func(timestamp float64)),
		running:       make(map[uint64]func(timestamp float64)),
		frameInterval: c.frameInterval,
	}, nil
}

// Loop returns the event loop.
func (h *Host) Loop() *eventloop.Loop { return h.loop }

// Runtime returns the goja runtime.
func (h *Host) Runtime() *goja.Runtime { return h.runtime }

// Submit runs task on the loop.
func (h *Host) Submit(task func()) error {
	return h.loop.Submit(task)
}

// Eval runs src on the loop, waiting for it to complete. Exceptions are
// returned as errors.
func (h *Host) Eval(ctx context.Context, name, src string) error {
	done := make(chan error, 1)
	if err := h.Submit(func() {
		_, err := h.runtime.RunScript(name, src)
		done <- err
	}); err != nil {
		return fmt.Errorf("gojahost: submit: %w", err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Bind publishes the globals. It must be called before any script that
// uses them is run:
//
//   - setTimeout(callback, delay?, ...args) / clearTimeout(id)
//   - setInterval(callback, delay?, ...args) / clearInterval(id)
//   - performance.now()
//   - requestAnimationFrame(callback) / cancelAnimationFrame(id)
//   - console.log / info / warn / error / debug
//   - window, aliasing the global object
//
// Date.now is goja's own.
func (h *Host) Bind() error {
	global := h.runtime.GlobalObject()

	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		`setTimeout`:            h.jsSetTimeout,
		`setInterval`:           h.jsSetInterval,
		`clearTimeout`:          h.jsClearTimeout,
		`clearInterval`:         h.jsClearInterval,
		`requestAnimationFrame`: h.jsRequestAnimationFrame,
		`cancelAnimationFrame`:  h.jsCancelAnimationFrame,
	} {
		if err := global.Set(name, fn); err != nil {
			return fmt.Errorf("gojahost: bind %s: %w", name, err)
		}
	}

	performance := h.runtime.NewObject()
	if err := performance.Set(`now`, func(goja.FunctionCall) goja.Value {
		return h.runtime.ToValue(h.PerformanceNow())
	}); err != nil {
		return err
	}
	if err := global.Set(`performance`, performance); err != nil {
		return err
	}

	if err := global.Set(`console`, h.console()); err != nil {
		return err
	}

	return global.Set(`window`, global)
}
