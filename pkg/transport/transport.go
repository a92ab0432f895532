// Package transport defines the frame-level connection abstraction between
// the bridge and a device, plus the JSON-RPC 2.0 envelope that travels over
// it. The concrete implementation is a WebSocket connection; tests substitute
// in-memory pipes.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Write after the transport has been closed.
var ErrClosed = errors.New("transport closed")

// Transport is one device's duplex frame stream. Implementations must make
// Write safe for concurrent use and must close Done exactly once, whether the
// shutdown was local (Close) or remote (peer disconnect, read error).
type Transport interface {
	// Write sends one frame. It fails with ErrClosed once the transport is
	// down and respects ctx for send deadlines.
	Write(ctx context.Context, frame []byte) error

	// Frames delivers inbound frames in arrival order. The channel is
	// closed when the transport shuts down.
	Frames() <-chan []byte

	// Done is closed when the transport has fully shut down.
	Done() <-chan struct{}

	// Close tears the connection down. Safe to call more than once.
	Close() error

	// RemoteAddr identifies the peer, for logging and rate limiting.
	RemoteAddr() string
}
