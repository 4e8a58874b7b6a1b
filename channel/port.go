// Package channel implements the bidirectional message channel between the
// privileged controller and the page context.
//
// A [Port] is one end of a channel. [Pipe] connects two ports in memory,
// and [NewStreamPort] carries envelopes over any byte stream. Delivery may
// fail, so senders that care wrap a port in a [Sender], which retries with
// exponential backoff. Receivers may consume an [Inbox] in batches, via
// [github.com/joeycumines/go-longpoll].
package channel

import (
	"context"
	"errors"

	"github.com/joeycumines/go-timewarp/wire"
)

// ErrClosed is returned by operations on a closed [Port].
var ErrClosed = errors.New("channel: closed")

// Port is one end of a bidirectional envelope channel.
//
// Implementations must be safe for concurrent use, though a single
// goroutine calling Recv is the expected pattern. Recv may return an error
// wrapping [wire.ErrMalformed], in which case the port remains usable.
type Port interface {
	Send(ctx context.Context, env wire.Envelope) error
	Recv(ctx context.Context) (wire.Envelope, error)
	Close() error
}
