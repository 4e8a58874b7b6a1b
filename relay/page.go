// Package relay implements both ends of the configuration propagation
// channel: [Page], which applies configuration to a [timewarp.Engine] on
// the page's event loop, and [Controller], which owns the persisted
// preferences and pushes configuration to the page.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/joeycumines/go-longpoll"
	"github.com/joeycumines/go-timewarp/channel"
	"github.com/joeycumines/go-timewarp/timewarp"
	"github.com/joeycumines/go-timewarp/wire"
	"github.com/joeycumines/logiface"
)

// DefaultAnnounceDelay is the wait between [Page.AnnounceReady] being
// called, and the announcement being sent.
const DefaultAnnounceDelay = 50 * time.Millisecond

// Executor runs tasks on the goroutine that owns the engine. It is
// implemented by *gojahost.Host.
type Executor interface {
	Submit(task func()) error
}

type (
	// PageOption configures a [Page].
	PageOption func(c *pageConfig)

	pageConfig struct {
		logger        *logiface.Logger[logiface.Event]
		drain         *channel.DrainConfig
		announceDelay time.Duration
	}

	// Page is the page side endpoint. Every engine operation it performs is
	// submitted to the [Executor], in arrival order, and a burst of messages
	// is applied by a single task.
	Page struct {
		engine        *timewarp.Engine
		exec          Executor
		sender        *channel.Sender
		logger        *logiface.Logger[logiface.Event]
		drain         *channel.DrainConfig
		announceDelay time.Duration
		announce      sync.Once
	}
)

// WithPageLogger configures the logger, which may be nil.
func WithPageLogger(logger *logiface.Logger[logiface.Event]) PageOption {
	return func(c *pageConfig) {
		c.logger = logger
	}
}

// WithPageDrain configures how bursts of messages are batched.
func WithPageDrain(cfg *channel.DrainConfig) PageOption {
	return func(c *pageConfig) {
		c.drain = cfg
	}
}

// WithAnnounceDelay overrides [DefaultAnnounceDelay].
func WithAnnounceDelay(d time.Duration) PageOption {
	return func(c *pageConfig) {
		c.announceDelay = d
	}
}

// NewPage constructs a page endpoint for engine, which must only be
// accessed from tasks run by exec.
func NewPage(engine *timewarp.Engine, exec Executor, sender *channel.Sender, opts ...PageOption) (*Page, error) {
	if engine == nil {
		return nil, errors.New("relay: engine cannot be nil")
	}
	if exec == nil {
		return nil, errors.New("relay: executor cannot be nil")
	}
	if sender == nil {
		return nil, errors.New("relay: sender cannot be nil")
	}
	c := pageConfig{announceDelay: DefaultAnnounceDelay}
	for _, opt := range opts {
		opt(&c)
	}
	return &Page{
		engine:        engine,
		exec:          exec,
		sender:        sender,
		logger:        c.logger,
		drain:         c.drain,
		announceDelay: c.announceDelay,
	}, nil
}

// AnnounceReady sends [wire.PageScriptReady], then [wire.GetSpeedConfig],
// after the announce delay. Only the first call has any effect, later calls
// return nil immediately.
func (x *Page) AnnounceReady(ctx context.Context) (err error) {
	x.announce.Do(func() {
		if x.announceDelay > 0 {
			timer := time.NewTimer(x.announceDelay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				err = ctx.Err()
				return
			case <-timer.C:
			}
		}
		for _, env := range [...]wire.Envelope{wire.NewPageScriptReady(), wire.NewGetSpeedConfig()} {
			if err = x.sender.Send(ctx, env); err != nil {
				x.logger.Err().
					Err(err).
					Str(`command`, string(env.Command)).
					Log(`relay: failed to announce readiness`)
				return
			}
		}
		x.logger.Debug().Log(`relay: announced readiness`)
	})
	return
}

// Serve receives and applies messages until ctx is done, the port fails,
// or the executor rejects a task. Malformed messages are logged and
// ignored.
func (x *Page) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbox := channel.NewInbox(ctx, x.sender.Port(), 16, x.logger)

	for {
		var batch []wire.Envelope
		err := longpoll.Channel(ctx, x.drain.ChannelConfig(), inbox.C(), func(env wire.Envelope) error {
			batch = append(batch, env)
			return nil
		})
		if len(batch) != 0 {
			if err := x.apply(ctx, batch); err != nil {
				return err
			}
		}
		if errors.Is(err, io.EOF) {
			<-inbox.Done()
			return inbox.Err()
		}
		if err != nil {
			return err
		}
	}
}

// apply handles a batch on the executor, then sends the replies.
func (x *Page) apply(ctx context.Context, batch []wire.Envelope) error {
	done := make(chan []wire.Envelope, 1)
	if err := x.exec.Submit(func() {
		var replies []wire.Envelope
		for _, env := range batch {
			if reply, ok := x.Handle(env); ok {
				replies = append(replies, reply)
			}
		}
		done <- replies
	}); err != nil {
		return fmt.Errorf("relay: submit: %w", err)
	}

	var replies []wire.Envelope
	select {
	case <-ctx.Done():
		return ctx.Err()
	case replies = <-done:
	}

	for _, reply := range replies {
		// other failures are logged by the sender, and dropped
		if err := x.sender.Send(ctx, reply); err != nil && (ctx.Err() != nil || errors.Is(err, channel.ErrClosed)) {
			return err
		}
	}
	return nil
}

// Handle applies a single message to the engine, returning the reply, if
// any. It must be called on the executor.
func (x *Page) Handle(env wire.Envelope) (wire.Envelope, bool) {
	if err := env.Validate(); err != nil {
		x.logger.Warning().
			Limit().
			Err(err).
			Log(`relay: ignoring malformed message`)
		return wire.Envelope{}, false
	}

	switch env.Command {
	case wire.SetSpeedConfig:
		config, err := x.engine.ApplyConfig(env.Config.Patch())
		if err != nil {
			return wire.NewSpeedConfigError(err), true
		}
		return wire.NewSpeedConfigApplied(config.Multiplier), true

	case wire.SetSpeedSelection:
		config, err := x.engine.ApplySelection(*env.SelectedSpeed)
		if err != nil {
			return wire.NewSpeedConfigError(err), true
		}
		return wire.NewSpeedConfigApplied(config.Multiplier), true

	case wire.GetSpeedConfig:
		return wire.NewSetSpeedConfig(x.engine.Config()), true

	default:
		x.logger.Debug().
			Stringer(`message`, env).
			Log(`relay: ignoring message not addressed to the page`)
		return wire.Envelope{}, false
	}
}
