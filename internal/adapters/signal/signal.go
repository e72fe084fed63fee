package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/CamRelay/internal/app/orch"
	"github.com/dkeye/CamRelay/internal/core"
	"github.com/dkeye/CamRelay/internal/metrics"
)

var (
	ErrBackpressure = core.ErrBackpressure
	ErrConnClosed   = core.ErrConnClosed
)

const transportName = "ws"

// Options tune a single WebSocket connection.
type Options struct {
	ReadLimit  int64
	WriteWait  time.Duration
	SendBuffer int
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Metrics *metrics.Metrics
	Opts    Options
}

func NewSignalWSController(o *orch.Orchestrator, m *metrics.Metrics, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch:    o,
		Metrics: m,
		Opts:    opts.withDefaults(),
	}
}

// WsSignalConn is a core.Conn backed by a WebSocket. Frames are queued on
// send and written by a single writePump goroutine.
type WsSignalConn struct {
	id        core.ConnID
	conn      *websocket.Conn
	send      chan core.Frame
	writeWait time.Duration

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, opts Options) *WsSignalConn {
	return &WsSignalConn{
		id:        core.ConnID(uuid.NewString()),
		conn:      ws,
		send:      make(chan core.Frame, opts.SendBuffer),
		writeWait: opts.WriteWait,
	}
}

func (c *WsSignalConn) ID() core.ConnID { return c.id }

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Ping writes a control ping. WriteControl may run concurrently with the
// write pump.
func (c *WsSignalConn) Ping() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

func (c *WsSignalConn) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := newWsSignalConn(ws, ctl.Opts)
	log.Info().Str("module", "signal").Str("conn", string(conn.ID())).
		Str("client", c.GetString("client_token")).Str("remote", c.ClientIP()).Msg("new WS connection")

	ctl.Metrics.ConnOpened(transportName)
	ctl.Orch.Attach(conn)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(conn)
}
