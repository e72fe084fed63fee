// Package poll is a request/response transport for clients that cannot keep
// a WebSocket open. Outbound frames queue per connection until the client
// polls for them.
package poll

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/CamRelay/internal/app/orch"
	"github.com/dkeye/CamRelay/internal/core"
	"github.com/dkeye/CamRelay/internal/metrics"
)

var (
	ErrBackpressure = fmt.Errorf("poll queue full: %w", core.ErrBackpressure)
	ErrConnClosed   = core.ErrConnClosed
	ErrUnknownConn  = errors.New("unknown connection")
)

const transportName = "poll"

// PollConn is a core.Conn whose frames wait in a bounded queue.
type PollConn struct {
	id    core.ConnID
	limit int
	hub   *Hub

	mu     sync.Mutex
	queue  []core.Frame
	closed bool
	once   sync.Once
}

func (c *PollConn) ID() core.ConnID { return c.id }

func (c *PollConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if len(c.queue) >= c.limit {
		return ErrBackpressure
	}
	c.queue = append(c.queue, f)
	return nil
}

func (c *PollConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Drain removes and returns every queued frame.
func (c *PollConn) Drain() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.queue
	c.queue = nil
	return out
}

// Close detaches the connection. It runs once no matter who calls it: the
// client, the liveness supervisor or the backpressure policy.
func (c *PollConn) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.queue = nil
		c.mu.Unlock()
		c.hub.remove(c)
	})
}

// Hub owns every open polled connection.
type Hub struct {
	orch      *orch.Orchestrator
	metrics   *metrics.Metrics
	queueSize int

	mu    sync.RWMutex
	conns map[core.ConnID]*PollConn
}

func NewHub(o *orch.Orchestrator, m *metrics.Metrics, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Hub{
		orch:      o,
		metrics:   m,
		queueSize: queueSize,
		conns:     make(map[core.ConnID]*PollConn),
	}
}

func (h *Hub) Open() *PollConn {
	c := &PollConn{
		id:    core.ConnID(uuid.NewString()),
		limit: h.queueSize,
		hub:   h,
	}
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	h.metrics.ConnOpened(transportName)
	h.orch.Attach(c)
	log.Info().Str("module", "poll").Str("conn", string(c.id)).Msg("poll connection opened")
	return c
}

func (h *Hub) Get(id core.ConnID) (*PollConn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	return c, ok
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Send hands one inbound frame to the orchestrator.
func (h *Hub) Send(id core.ConnID, raw []byte) error {
	c, ok := h.Get(id)
	if !ok {
		return ErrUnknownConn
	}
	h.orch.Handle(c, raw)
	return nil
}

// Receive drains the queue of id. A poll counts as proof of life.
func (h *Hub) Receive(id core.ConnID) ([]core.Frame, error) {
	c, ok := h.Get(id)
	if !ok {
		return nil, ErrUnknownConn
	}
	h.orch.Touch(id)
	return c.Drain(), nil
}

func (h *Hub) Close(id core.ConnID) error {
	c, ok := h.Get(id)
	if !ok {
		return ErrUnknownConn
	}
	c.Close()
	return nil
}

func (h *Hub) remove(c *PollConn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()

	h.orch.Detach(c)
	h.metrics.ConnClosed(transportName)
	log.Info().Str("module", "poll").Str("conn", string(c.id)).Msg("poll connection closed")
}
