// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package timewarp

import (
	"errors"
	"time"

	"github.com/joeycumines/go-timewarp/speedconfig"
	"github.com/joeycumines/logiface"
)

const (
	// maxSafeInteger is `2^53 - 1`, the maximum safe integer in JavaScript
	maxSafeInteger = 9007199254740991

	// handleBase offsets virtual handles away from the small integers most
	// platforms hand out, so handles minted before installation (and
	// forwarded to the native cancellation functions) cannot collide.
	handleBase = 1 << 32

	// DefaultFrameInterval is the nominal spacing, in milliseconds, between
	// the synthesized timestamps of an expanded animation frame (60Hz).
	DefaultFrameInterval = 16.67

	// DefaultMaxFrameCalls bounds the synchronous invocations per real frame.
	DefaultMaxFrameCalls = 10
)

var (
	// ErrNoFrameScheduler is returned by [Engine.RequestAnimationFrame] if
	// the engine was constructed without a [FrameScheduler].
	ErrNoFrameScheduler = errors.New("timewarp: no frame scheduler")

	// ErrFrameCancelUnsupported is returned by [Engine.CancelAnimationFrame]
	// if the platform provides no [FrameCanceler].
	ErrFrameCancelUnsupported = errors.New("timewarp: frame cancellation unsupported")
)

// Option configures an [Engine]. Options are applied in order during [New].
type Option func(*engineOptions)

type engineOptions struct {
	logger        *logiface.Logger[logiface.Event]
	clock         Clock
	frames        FrameScheduler
	config        *speedconfig.Config
	frameInterval float64
	maxFrameCalls int
}

func resolveOptions(native Native, opts []Option) (*engineOptions, error) {
	o := &engineOptions{
		frameInterval: DefaultFrameInterval,
		maxFrameCalls: DefaultMaxFrameCalls,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		if c, ok := native.(Clock); ok {
			o.clock = c
		} else {
			o.clock = SystemClock()
		}
	}
	if o.frames == nil {
		if f, ok := native.(FrameScheduler); ok {
			o.frames = f
		}
	}
	if o.config != nil {
		if err := o.config.Validate(); err != nil {
			return nil, err
		}
	}
	if !(o.frameInterval > 0) {
		return nil, errors.New("timewarp: frame interval must be positive")
	}
	if o.maxFrameCalls < 1 {
		return nil, errors.New("timewarp: max frame calls must be at least 1")
	}
	return o, nil
}

// WithLogger configures the logger, which may be nil (the default), to
// disable logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithClock configures the real clocks. Defaults to the native scheduler, if
// it implements [Clock], otherwise [SystemClock].
func WithClock(clock Clock) Option {
	return func(o *engineOptions) {
		o.clock = clock
	}
}

// WithFrameScheduler configures the native frame scheduler. Defaults to the
// native scheduler, if it implements [FrameScheduler]. If the scheduler also
// implements [FrameCanceler], cancellation is supported.
func WithFrameScheduler(frames FrameScheduler) Option {
	return func(o *engineOptions) {
		o.frames = frames
	}
}

// WithInitialConfig overrides [speedconfig.Default] as the starting
// configuration.
func WithInitialConfig(config speedconfig.Config) Option {
	return func(o *engineOptions) {
		o.config = &config
	}
}

// WithFrameInterval configures the nominal timestamp spacing, in
// milliseconds, of expanded animation frames.
func WithFrameInterval(ms float64) Option {
	return func(o *engineOptions) {
		o.frameInterval = ms
	}
}

// WithMaxFrameCalls configures the cap on synchronous callback invocations
// per real animation frame.
func WithMaxFrameCalls(n int) Option {
	return func(o *engineOptions) {
		o.maxFrameCalls = n
	}
}

// Engine is the time-virtualization engine for a single page context.
//
// It owns the timer table, both clock accumulators, and the animation frame
// registrations, exclusively. It is NOT safe for concurrent use: like the
// page it serves, every method must be called from the single goroutine
// running the page's event loop, including configuration updates (see
// [github.com/joeycumines/go-timewarp/relay.Page]). Native callbacks are
// expected to be delivered on that same goroutine.
type Engine struct {
	native      Native
	clock       Clock
	frames      FrameScheduler
	frameCancel FrameCanceler
	logger      *logiface.Logger[logiface.Event]

	intervals map[uint64]*intervalEntry
	timeouts  map[uint64]*timeoutEntry
	frameRegs map[uint64]*frameRegistration

	monotonic accumulator
	wall      accumulator

	config speedconfig.Config

	frameInterval   float64
	maxFrameCalls   int
	nextHandle      uint64
	nextFrameHandle uint64

	// dispatching is set while an expanded frame callback is running
	dispatching bool
	// frame handles requested by the previous and current invocation of
	// the expanded dispatch
	framePrev []uint64
	frameCur  []uint64
}

// New constructs an [Engine] over the given native scheduler.
func New(native Native, opts ...Option) (*Engine, error) {
	if native == nil {
		return nil, errors.New("timewarp: native cannot be nil")
	}

	options, err := resolveOptions(native, opts)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		native:          native,
		clock:           options.clock,
		frames:          options.frames,
		logger:          options.logger,
		intervals:       make(map[uint64]*intervalEntry),
		timeouts:        make(map[uint64]*timeoutEntry),
		frameRegs:       make(map[uint64]*frameRegistration),
		config:          speedconfig.Default(),
		frameInterval:   options.frameInterval,
		maxFrameCalls:   options.maxFrameCalls,
		nextHandle:      handleBase,
		nextFrameHandle: handleBase,
	}
	if options.config != nil {
		e.config = *options.config
	}
	if c, ok := e.frames.(FrameCanceler); ok {
		e.frameCancel = c
	}

	return e, nil
}

// Config returns the live configuration.
func (e *Engine) Config() speedconfig.Config {
	return e.config
}

// CanCancelFrames reports whether [Engine.CancelAnimationFrame] is available.
func (e *Engine) CanCancelFrames() bool {
	return e.frameCancel != nil
}

// ApplyConfig merges a configuration update. If the effective interval rate
// changed, every live interval is rescheduled before ApplyConfig returns.
// An invalid update is logged and leaves the configuration untouched.
func (e *Engine) ApplyConfig(patch speedconfig.Patch) (speedconfig.Config, error) {
	next, err := e.config.Merge(patch)
	if err != nil {
		e.logger.Warning().
			Err(err).
			Log(`timewarp: rejected speed config`)
		return e.config, err
	}
	e.commit(next)
	return e.config, nil
}

// ApplySelection changes the selected preset without toggling the run
// state. While running, the multiplier follows the selection immediately.
func (e *Engine) ApplySelection(preset int) (speedconfig.Config, error) {
	next, err := e.config.Select(preset)
	if err != nil {
		e.logger.Warning().
			Err(err).
			Int(`preset`, preset).
			Log(`timewarp: rejected speed selection`)
		return e.config, err
	}
	e.commit(next)
	return e.config, nil
}

func (e *Engine) commit(next speedconfig.Config) {
	prev := e.config
	e.config = next

	e.logger.Info().
		Float64(`speed`, next.Multiplier).
		Int(`selectedSpeed`, next.SelectedSpeed).
		Stringer(`sources`, next.Flags).
		Log(`timewarp: speed config applied`)

	// the flag also decides the 1ms floor, so it matters even at 1x
	if prev.Scale(speedconfig.IntervalScheduling) != next.Scale(speedconfig.IntervalScheduling) ||
		prev.Flags.Has(speedconfig.IntervalScheduling) != next.Flags.Has(speedconfig.IntervalScheduling) {
		e.RescheduleAll()
	}
}

func (e *Engine) allocHandle(counter *uint64) uint64 {
	*counter++
	if *counter > maxSafeInteger {
		panic("timewarp: handle exceeded MAX_SAFE_INTEGER")
	}
	return *counter
}

type systemClock struct {
	origin time.Time
}

// SystemClock returns a [Clock] backed by the Go runtime: a monotonic
// reading relative to the call to SystemClock, and the Unix wall clock.
func SystemClock() Clock {
	return systemClock{origin: time.Now()}
}

func (c systemClock) PerformanceNow() float64 {
	return float64(time.Since(c.origin)) / float64(time.Millisecond)
}

func (systemClock) DateNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Millisecond)
}
