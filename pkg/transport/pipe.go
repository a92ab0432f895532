package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrPipeFull is returned when a pipe write would exceed the peer's buffer.
var ErrPipeFull = errors.New("pipe buffer full")

// Pipe is an in-process Transport. NewPipe returns two connected ends: a
// frame written to one end arrives on the other's Frames channel. It backs
// the registry and bridge tests, which need deterministic control over frame
// delivery and disconnects without a network.
type Pipe struct {
	peer *Pipe
	addr string

	mu     sync.Mutex
	closed bool
	in     chan []byte
	done   chan struct{}

	closeOnce sync.Once
}

// NewPipe returns two connected pipe ends. Closing either end closes both.
func NewPipe() (*Pipe, *Pipe) {
	a := &Pipe{addr: "pipe:a", in: make(chan []byte, frameBuffer), done: make(chan struct{})}
	b := &Pipe{addr: "pipe:b", in: make(chan []byte, frameBuffer), done: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

// Write implements Transport.
func (p *Pipe) Write(_ context.Context, frame []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	return p.peer.deliver(frame)
}

// deliver hands a frame to this end's inbound channel. The mutex keeps the
// send from racing the channel close in Close.
func (p *Pipe) deliver(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	select {
	case p.in <- frame:
		return nil
	default:
		return ErrPipeFull
	}
}

// Frames implements Transport.
func (p *Pipe) Frames() <-chan []byte {
	return p.in
}

// Done implements Transport.
func (p *Pipe) Done() <-chan struct{} {
	return p.done
}

// Close implements Transport.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.done)
		close(p.in)
		p.mu.Unlock()

		_ = p.peer.Close()
	})
	return nil
}

// RemoteAddr implements Transport.
func (p *Pipe) RemoteAddr() string {
	return p.peer.addr
}

var _ Transport = (*Pipe)(nil)
