package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/joeycumines/go-timewarp/channel"
	"github.com/joeycumines/go-timewarp/prefs"
	"github.com/joeycumines/go-timewarp/speedconfig"
	"github.com/joeycumines/go-timewarp/wire"
	"github.com/joeycumines/logiface"
)

type (
	// ControllerOption configures a [Controller].
	ControllerOption func(c *controllerConfig)

	controllerConfig struct {
		logger  *logiface.Logger[logiface.Event]
		onAck   func(ack wire.Envelope)
		sources map[speedconfig.Source]bool
	}

	// Controller is the privileged side endpoint. It owns the preferences,
	// pushes configuration to the page when the page announces itself, and
	// on every preference change.
	Controller struct {
		state   *prefs.State
		sender  *channel.Sender
		logger  *logiface.Logger[logiface.Event]
		onAck   func(ack wire.Envelope)
		sources map[speedconfig.Source]bool
		lastAck *wire.Envelope
		pushed  speedconfig.Config
		mu      sync.Mutex
		ready   bool
	}
)

// WithControllerLogger configures the logger, which may be nil.
func WithControllerLogger(logger *logiface.Logger[logiface.Event]) ControllerOption {
	return func(c *controllerConfig) {
		c.logger = logger
	}
}

// WithAckHandler registers a function called with each acknowledgement
// ([wire.SpeedConfigApplied] or [wire.SpeedConfigError]) received from the
// page. It is called from [Controller.Serve].
func WithAckHandler(fn func(ack wire.Envelope)) ControllerOption {
	return func(c *controllerConfig) {
		c.onAck = fn
	}
}

// WithSourceOverrides enables or disables individual sources in every
// configuration pushed to the page. By default every source is virtualized.
func WithSourceOverrides(sources map[speedconfig.Source]bool) ControllerOption {
	return func(c *controllerConfig) {
		c.sources = sources
	}
}

// NewController constructs a controller over an initialized state.
func NewController(state *prefs.State, sender *channel.Sender, opts ...ControllerOption) (*Controller, error) {
	if state == nil {
		return nil, errors.New("relay: state cannot be nil")
	}
	if sender == nil {
		return nil, errors.New("relay: sender cannot be nil")
	}
	var c controllerConfig
	for _, opt := range opts {
		opt(&c)
	}
	x := &Controller{
		state:   state,
		sender:  sender,
		logger:  c.logger,
		onAck:   c.onAck,
		sources: c.sources,
	}
	x.pushed = x.config()
	return x, nil
}

// Serve receives messages from the page until ctx is done or the port
// fails.
func (x *Controller) Serve(ctx context.Context) error {
	for {
		env, err := x.sender.Port().Recv(ctx)
		if errors.Is(err, wire.ErrMalformed) {
			x.logger.Warning().
				Limit().
				Err(err).
				Log(`relay: ignoring malformed message`)
			continue
		}
		if err != nil {
			return err
		}
		if err := x.handle(ctx, env); err != nil {
			return err
		}
	}
}

func (x *Controller) handle(ctx context.Context, env wire.Envelope) error {
	if err := env.Validate(); err != nil {
		x.logger.Warning().
			Limit().
			Err(err).
			Log(`relay: ignoring malformed message`)
		return nil
	}

	switch env.Command {
	case wire.PageScriptReady:
		x.mu.Lock()
		x.ready = true
		x.mu.Unlock()
		x.logger.Info().Log(`relay: page ready`)
		return x.ignoreDeliveryFailure(ctx, x.Push(ctx))

	case wire.GetSpeedConfig:
		x.mu.Lock()
		pushed := x.pushed
		x.mu.Unlock()
		return x.ignoreDeliveryFailure(ctx, x.sender.Send(ctx, wire.NewSetSpeedConfig(pushed)))

	case wire.SpeedConfigApplied, wire.SpeedConfigError:
		x.mu.Lock()
		x.lastAck = &env
		x.mu.Unlock()
		if env.Command == wire.SpeedConfigError {
			x.logger.Warning().
				Str(`error`, env.Error).
				Log(`relay: page rejected speed config`)
		} else {
			x.logger.Debug().
				Float64(`speed`, *env.Speed).
				Log(`relay: page applied speed config`)
		}
		if x.onAck != nil {
			x.onAck(env)
		}
		return nil

	default:
		x.logger.Debug().
			Stringer(`message`, env).
			Log(`relay: ignoring message not addressed to the controller`)
		return nil
	}
}

// ignoreDeliveryFailure drops errors the sender has already logged, keeping
// those that mean the channel is unusable.
func (x *Controller) ignoreDeliveryFailure(ctx context.Context, err error) error {
	if err != nil && (ctx.Err() != nil || errors.Is(err, channel.ErrClosed)) {
		return err
	}
	return nil
}

// Push sends the configuration derived from the current preferences.
func (x *Controller) Push(ctx context.Context) error {
	config := x.config()
	x.mu.Lock()
	x.pushed = config
	x.mu.Unlock()
	return x.sender.Send(ctx, wire.NewSetSpeedConfig(config))
}

func (x *Controller) config() speedconfig.Config {
	config := x.state.Snapshot().Config()
	for src, enabled := range x.sources {
		if enabled {
			config.Flags = config.Flags.With(src)
		} else {
			config.Flags = config.Flags.Without(src)
		}
	}
	return config
}

// Toggle flips the running state, then pushes the configuration, returning
// the new running state.
func (x *Controller) Toggle(ctx context.Context) (bool, error) {
	running, err := x.state.Toggle()
	if err != nil {
		return running, err
	}
	return running, x.Push(ctx)
}

// SetRunning sets the running state, then pushes the configuration.
func (x *Controller) SetRunning(ctx context.Context, running bool) error {
	if err := x.state.SetRunning(running); err != nil {
		return err
	}
	return x.Push(ctx)
}

// SelectSpeed changes the selected preset, then sends it to the page,
// which applies it immediately only if running.
func (x *Controller) SelectSpeed(ctx context.Context, preset int) error {
	if err := x.state.SetSpeed(preset); err != nil {
		return err
	}
	x.mu.Lock()
	if next, err := x.pushed.Select(preset); err == nil {
		x.pushed = next
	}
	x.mu.Unlock()
	return x.sender.Send(ctx, wire.NewSetSpeedSelection(preset))
}

// Ready reports whether the page has announced itself.
func (x *Controller) Ready() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.ready
}

// Pushed returns the configuration most recently sent to the page.
func (x *Controller) Pushed() speedconfig.Config {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.pushed
}

// LastAck returns the most recent acknowledgement from the page, if any.
func (x *Controller) LastAck() (wire.Envelope, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.lastAck == nil {
		return wire.Envelope{}, false
	}
	return *x.lastAck, true
}
