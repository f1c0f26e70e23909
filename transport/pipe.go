package transport

import (
	"context"
	"sync"

	"github.com/casualjim/strix/wire"
)

const pipeBuffer = 64

// pipeCore is the state both ends of a pipe share. Closing either end
// closes the pipe for both.
type pipeCore struct {
	mu   sync.Mutex
	err  error
	done chan struct{}
	once sync.Once
}

// PipeChannel is one end of an in-process frame pipe. It implements
// Channel; the peer end reads what this end sends.
type PipeChannel struct {
	core *pipeCore
	send chan wire.Frame
	recv chan wire.Frame
}

// Pipe returns two connected channel ends. Frames sent on one end are
// received on the other, in order, through a small buffer.
func Pipe() (*PipeChannel, *PipeChannel) {
	core := &pipeCore{done: make(chan struct{})}
	ab := make(chan wire.Frame, pipeBuffer)
	ba := make(chan wire.Frame, pipeBuffer)
	a := &PipeChannel{core: core, send: ab, recv: ba}
	b := &PipeChannel{core: core, send: ba, recv: ab}
	return a, b
}

// Send queues f for the peer end.
func (p *PipeChannel) Send(ctx context.Context, f wire.Frame) error {
	select {
	case <-p.core.done:
		return p.closeErr()
	default:
	}
	select {
	case p.send <- f:
		return nil
	case <-p.core.done:
		return p.closeErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv blocks for the next frame from the peer end. Frames queued before
// the pipe closed still drain.
func (p *PipeChannel) Recv(ctx context.Context) (wire.Frame, error) {
	select {
	case f := <-p.recv:
		return f, nil
	case <-p.core.done:
		select {
		case f := <-p.recv:
			return f, nil
		default:
		}
		return wire.Frame{}, p.closeErr()
	case <-ctx.Done():
		return wire.Frame{}, ctx.Err()
	}
}

// Closed reports when either end closed the pipe.
func (p *PipeChannel) Closed() <-chan struct{} { return p.core.done }

// Err returns the close cause, nil for a clean close or while open.
func (p *PipeChannel) Err() error {
	p.core.mu.Lock()
	defer p.core.mu.Unlock()
	return p.core.err
}

// Close shuts the pipe down cleanly for both ends.
func (p *PipeChannel) Close() error { return p.CloseWithError(nil) }

// CloseWithError shuts the pipe down for both ends, recording err as the
// cause watchers will observe. Only the first close wins.
func (p *PipeChannel) CloseWithError(err error) error {
	p.core.once.Do(func() {
		p.core.mu.Lock()
		p.core.err = err
		p.core.mu.Unlock()
		close(p.core.done)
	})
	return nil
}

func (p *PipeChannel) closeErr() error {
	if err := p.Err(); err != nil {
		return err
	}
	return ErrClosed
}
