package channel

import (
	"context"
	"errors"
	"time"

	"github.com/joeycumines/go-longpoll"
	"github.com/joeycumines/go-timewarp/wire"
	"github.com/joeycumines/logiface"
)

// DrainConfig models optional configuration for batched receives from an
// [Inbox], see [DrainConfig.ChannelConfig].
type DrainConfig struct {
	// MaxSize is the maximum number of values per batch. A value < 0
	// disables the limit.
	//
	// Defaults to 16, if 0.
	MaxSize int

	// MinSize is the target minimum number of values per batch. Once
	// PartialTimeout elapses after the first value, any non-empty batch is
	// accepted.
	//
	// Defaults to 1, if 0.
	MinSize int

	// PartialTimeout bounds the wait for a batch smaller than MinSize.
	//
	// Defaults to 10ms, if 0.
	PartialTimeout time.Duration
}

// ChannelConfig resolves the defaults, returning the configuration for
// [longpoll.Channel]. A nil receiver is valid. Batches always wait for at
// least one value.
func (x *DrainConfig) ChannelConfig() *longpoll.ChannelConfig {
	cfg := longpoll.ChannelConfig{
		MaxSize:        16,
		MinSize:        1,
		PartialTimeout: 10 * time.Millisecond,
	}
	if x != nil {
		if x.MaxSize != 0 {
			cfg.MaxSize = x.MaxSize
		}
		if x.MinSize > 0 {
			cfg.MinSize = x.MinSize
		}
		if x.PartialTimeout != 0 {
			cfg.PartialTimeout = x.PartialTimeout
		}
	}
	return &cfg
}

// Inbox receives from a [Port] in the background, buffering envelopes for
// consumption as a channel (e.g. by [longpoll.Channel]). Malformed
// envelopes are logged and skipped.
type Inbox struct {
	ch   chan wire.Envelope
	done chan struct{}
	err  error
}

// NewInbox starts receiving from port, until ctx is done or the port fails.
func NewInbox(ctx context.Context, port Port, size int, logger *logiface.Logger[logiface.Event]) *Inbox {
	if size < 0 {
		size = 0
	}
	x := &Inbox{
		ch:   make(chan wire.Envelope, size),
		done: make(chan struct{}),
	}
	go x.run(ctx, port, logger)
	return x
}

func (x *Inbox) run(ctx context.Context, port Port, logger *logiface.Logger[logiface.Event]) {
	defer close(x.done)
	defer close(x.ch)
	for {
		env, err := port.Recv(ctx)
		if err != nil {
			if errors.Is(err, wire.ErrMalformed) {
				logger.Warning().
					Limit().
					Err(err).
					Log(`channel: ignoring malformed message`)
				continue
			}
			x.err = err
			return
		}
		select {
		case <-ctx.Done():
			x.err = ctx.Err()
			return
		case x.ch <- env:
		}
	}
}

// C returns the channel of received envelopes, closed once receiving stops.
func (x *Inbox) C() <-chan wire.Envelope { return x.ch }

// Done is closed once receiving stops, after which [Inbox.Err] is valid.
func (x *Inbox) Done() <-chan struct{} { return x.done }

// Err returns the reason receiving stopped, or nil if it has not.
func (x *Inbox) Err() error {
	select {
	case <-x.done:
		return x.err
	default:
		return nil
	}
}
