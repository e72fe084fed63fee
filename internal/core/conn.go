package core

import "errors"

// Transports return these from TrySend so the router can tell a slow peer
// from a gone one.
var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is one encoded signaling message.
type Frame []byte

type ConnID string

// Conn abstracts a participant's messaging transport.
// Owned by the adapter; the adapter must Close() it. The relay only keeps
// references keyed by ID and never outlives the adapter's lifecycle.
type Conn interface {
	ID() ConnID
	// TrySend enqueues f without blocking. Safe for concurrent use.
	TrySend(Frame) error
	Close()
}

// Pinger is implemented by transports that can probe the remote end out of
// band (WebSocket control frames). Polled transports prove liveness by
// polling instead.
type Pinger interface {
	Ping() error
}

// ClosedReporter is implemented by connections whose Close can run on
// another goroutine than the one feeding Handle.
type ClosedReporter interface {
	Closed() bool
}

// IsClosed reports whether c is known to be closed.
func IsClosed(c Conn) bool {
	r, ok := c.(ClosedReporter)
	return ok && r.Closed()
}
