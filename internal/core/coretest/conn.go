// Package coretest provides in-memory connections for tests.
package coretest

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/CamRelay/internal/core"
	"github.com/dkeye/CamRelay/internal/domain"
)

var (
	ErrFull   = fmt.Errorf("coretest: queue full: %w", core.ErrBackpressure)
	ErrClosed = fmt.Errorf("coretest: %w", core.ErrConnClosed)
)

// Conn records every frame sent to it.
type Conn struct {
	id core.ConnID

	mu     sync.Mutex
	frames []core.Frame
	closed bool
	full   bool
}

func NewConn(id string) *Conn {
	return &Conn{id: core.ConnID(id)}
}

func (c *Conn) ID() core.ConnID { return c.id }

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.full {
		return ErrFull
	}
	c.frames = append(c.frames, bytes.Clone(f))
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SetFull makes TrySend fail with ErrFull.
func (c *Conn) SetFull(full bool) {
	c.mu.Lock()
	c.full = full
	c.mu.Unlock()
}

func (c *Conn) Frames() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

// Messages decodes every recorded frame.
func (c *Conn) Messages(t testing.TB) []domain.Message {
	t.Helper()
	frames := c.Frames()
	out := make([]domain.Message, 0, len(frames))
	for _, f := range frames {
		m, err := domain.Decode(f)
		require.NoError(t, err, "frame %s", f)
		out = append(out, m)
	}
	return out
}

// Types returns the type of every recorded frame in order.
func (c *Conn) Types(t testing.TB) []domain.MessageType {
	t.Helper()
	msgs := c.Messages(t)
	out := make([]domain.MessageType, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Type)
	}
	return out
}

func (c *Conn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// PingConn is a Conn that also implements core.Pinger.
type PingConn struct {
	*Conn

	mu      sync.Mutex
	pings   int
	pingErr error
}

func NewPingConn(id string) *PingConn {
	return &PingConn{Conn: NewConn(id)}
}

func (c *PingConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return c.pingErr
}

func (c *PingConn) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

func (c *PingConn) FailPings(err error) {
	c.mu.Lock()
	c.pingErr = err
	c.mu.Unlock()
}
