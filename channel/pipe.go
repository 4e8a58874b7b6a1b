package channel

import (
	"context"
	"sync"

	"github.com/joeycumines/go-timewarp/wire"
)

type (
	pipeShared struct {
		done chan struct{}
		once sync.Once
	}

	pipePort struct {
		in     <-chan wire.Envelope
		out    chan<- wire.Envelope
		shared *pipeShared
	}
)

var _ Port = (*pipePort)(nil)

// Pipe returns two connected in-memory ports, each buffering up to size
// envelopes in flight towards it. Closing either port closes both.
func Pipe(size int) (Port, Port) {
	if size < 0 {
		size = 0
	}
	var (
		shared = &pipeShared{done: make(chan struct{})}
		ab     = make(chan wire.Envelope, size)
		ba     = make(chan wire.Envelope, size)
	)
	return &pipePort{in: ba, out: ab, shared: shared},
		&pipePort{in: ab, out: ba, shared: shared}
}

func (x *pipePort) Send(ctx context.Context, env wire.Envelope) error {
	select {
	case <-x.shared.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-x.shared.done:
		return ErrClosed
	case x.out <- env:
		return nil
	}
}

// Recv receives the next envelope. Envelopes buffered before the pipe was
// closed are still delivered.
func (x *pipePort) Recv(ctx context.Context) (wire.Envelope, error) {
	select {
	case env := <-x.in:
		return env, nil
	default:
	}
	select {
	case <-ctx.Done():
		return wire.Envelope{}, ctx.Err()
	case env := <-x.in:
		return env, nil
	case <-x.shared.done:
		select {
		case env := <-x.in:
			return env, nil
		default:
			return wire.Envelope{}, ErrClosed
		}
	}
}

func (x *pipePort) Close() error {
	x.shared.once.Do(func() { close(x.shared.done) })
	return nil
}
