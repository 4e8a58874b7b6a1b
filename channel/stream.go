package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/joeycumines/go-timewarp/wire"
)

type (
	// StreamPort is a [Port] carrying msgpack encoded envelopes over a byte
	// stream, such as one end of a net.Pipe or a socket.
	StreamPort struct {
		rwc     io.ReadWriteCloser
		enc     *wire.Encoder
		results chan streamResult
		done    chan struct{}
		readErr error
		sendMu  sync.Mutex
		once    sync.Once
	}

	streamResult struct {
		err error
		env wire.Envelope
	}

	writeDeadliner interface {
		SetWriteDeadline(t time.Time) error
	}
)

var _ Port = (*StreamPort)(nil)

// NewStreamPort wraps rwc, starting a goroutine that reads from it until
// it fails or the port is closed. The port takes ownership of rwc.
func NewStreamPort(rwc io.ReadWriteCloser) (*StreamPort, error) {
	if rwc == nil {
		return nil, errors.New("channel: stream cannot be nil")
	}
	x := &StreamPort{
		rwc:     rwc,
		enc:     wire.NewEncoder(rwc),
		results: make(chan streamResult),
		done:    make(chan struct{}),
	}
	go x.read(wire.NewDecoder(rwc))
	return x, nil
}

func (x *StreamPort) read(dec *wire.Decoder) {
	defer close(x.results)
	for {
		env, err := dec.Decode()
		if err != nil && !errors.Is(err, wire.ErrMalformed) {
			// happens-before the close of results
			x.readErr = err
			return
		}
		select {
		case <-x.done:
			return
		case x.results <- streamResult{env: env, err: err}:
		}
	}
}

// Send encodes env onto the stream. If the stream supports write deadlines,
// the deadline of ctx is applied.
func (x *StreamPort) Send(ctx context.Context, env wire.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-x.done:
		return ErrClosed
	default:
	}

	x.sendMu.Lock()
	defer x.sendMu.Unlock()

	if d, ok := x.rwc.(writeDeadliner); ok {
		deadline, _ := ctx.Deadline()
		if err := d.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}

	if err := x.enc.Encode(env); err != nil {
		select {
		case <-x.done:
			return ErrClosed
		default:
		}
		return fmt.Errorf("channel: send %s: %w", env.Command, err)
	}
	return nil
}

// Recv decodes the next envelope from the stream. Once the stream fails,
// every call returns an error wrapping [ErrClosed].
func (x *StreamPort) Recv(ctx context.Context) (wire.Envelope, error) {
	select {
	case <-ctx.Done():
		return wire.Envelope{}, ctx.Err()
	case r, ok := <-x.results:
		if !ok {
			if x.readErr == nil || errors.Is(x.readErr, io.EOF) {
				return wire.Envelope{}, ErrClosed
			}
			return wire.Envelope{}, fmt.Errorf("%w: %w", ErrClosed, x.readErr)
		}
		return r.env, r.err
	}
}

// Close closes the underlying stream.
func (x *StreamPort) Close() error {
	var err error
	x.once.Do(func() {
		close(x.done)
		err = x.rwc.Close()
	})
	return err
}
