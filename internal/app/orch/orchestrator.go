package orch

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/CamRelay/internal/app"
	"github.com/dkeye/CamRelay/internal/core"
	"github.com/dkeye/CamRelay/internal/domain"
	"github.com/dkeye/CamRelay/internal/metrics"
)

// Orchestrator routes signaling messages between the connections of a
// session. Transports call Attach once per accepted connection, Handle for
// every inbound frame (sequentially per connection) and Detach exactly once
// when the connection is gone.
type Orchestrator struct {
	Registry *app.Registry
	Policy   app.Policy
	Liveness *app.Supervisor
	Limiter  *app.RateLimiter
	Metrics  *metrics.Metrics
}

func (o *Orchestrator) Attach(conn core.Conn) {
	if o.Liveness != nil {
		o.Liveness.Track(conn)
	}
	log.Info().Str("module", "orch").Str("conn", string(conn.ID())).Msg("connection attached")
}

func (o *Orchestrator) Detach(conn core.Conn) {
	if o.Liveness != nil {
		o.Liveness.Forget(conn.ID())
	}
	o.Limiter.Forget(conn.ID())
	o.Disconnect(conn)
	log.Info().Str("module", "orch").Str("conn", string(conn.ID())).Msg("connection detached")
}

// Touch records proof of life for a connection, such as a pong or a poll.
func (o *Orchestrator) Touch(id core.ConnID) {
	if o.Liveness != nil {
		o.Liveness.Touch(id)
	}
}

// Handle processes one inbound frame from conn. Every failure becomes an
// error reply to conn; nothing propagates past this call.
func (o *Orchestrator) Handle(conn core.Conn, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "orch").Str("conn", string(conn.ID())).Interface("panic", r).Msg("handler panic")
			o.reply(conn, domain.Error("Internal error"))
		}
	}()

	if core.IsClosed(conn) {
		log.Debug().Str("module", "orch").Str("conn", string(conn.ID())).Msg("frame from closed connection ignored")
		return
	}
	o.Touch(conn.ID())
	if !o.Limiter.Allow(conn.ID()) {
		o.Metrics.Dropped(metrics.DropRateLimited)
		o.reply(conn, domain.Error("Rate limit exceeded"))
		return
	}

	msg, err := domain.Decode(raw)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("conn", string(conn.ID())).Msg("invalid message format")
		o.Metrics.Dropped(metrics.DropInvalid)
		o.reply(conn, domain.Error("Invalid message format"))
		return
	}
	o.Metrics.Received(metricType(msg.Type))

	switch msg.Type {
	case domain.TypeRegister:
		o.handleRegister(conn, msg)
	case domain.TypeOffer:
		o.handleOffer(conn, msg)
	case domain.TypeAnswer, domain.TypeCandidate, domain.TypeHangup:
		o.handleRelay(conn, msg)
	case domain.TypePing:
		o.handlePing(conn, msg)
	case domain.TypeRequestICERestart:
		o.handleICERestart(conn, msg)
	default:
		log.Warn().Str("module", "orch").Str("conn", string(conn.ID())).Str("type", string(msg.Type)).Msg("unknown message type")
		o.reply(conn, domain.Error("Unknown message type: "+string(msg.Type)))
	}
}

// reply sends a relay-built message to a single connection.
func (o *Orchestrator) reply(conn core.Conn, m domain.Message) {
	f, err := domain.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode reply")
		return
	}
	o.deliver([]core.Conn{conn}, "", f, m.Type)
}

// deliver fans f out to targets except from and applies the backpressure
// policy to every target whose queue was full. Closed targets only count as
// drops; their own disconnect path cleans them up.
func (o *Orchestrator) deliver(targets []core.Conn, from core.ConnID, f core.Frame, t domain.MessageType) int {
	res := core.Fanout(targets, from, f)
	o.Metrics.Forwarded(metricType(t), res.SendTo)
	for _, slow := range res.Dropped {
		o.onBackpressure(slow)
	}
	for _, gone := range res.Failed {
		o.Metrics.Dropped(metrics.DropClosed)
		log.Debug().Str("module", "orch").Str("conn", string(gone.ID())).Str("type", string(t)).Msg("target closed, frame dropped")
	}
	return res.SendTo
}

func (o *Orchestrator) onBackpressure(conn core.Conn) {
	o.Metrics.Dropped(metrics.DropBackpressure)
	if o.Policy == nil {
		return
	}
	b, _ := o.Registry.BindingOf(conn.ID())
	switch o.Policy.OnBackPressure(conn, b) {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("conn", string(conn.ID())).Str("sid", string(b.SessionID)).Msg("kicking slow connection")
		conn.Close()
	case app.DropFrame, app.NoAction:
	}
}

func metricType(t domain.MessageType) string {
	switch t {
	case domain.TypeRegister, domain.TypeRegistered, domain.TypeOffer, domain.TypeAnswer,
		domain.TypeCandidate, domain.TypeHangup, domain.TypePing, domain.TypePong,
		domain.TypeRequestICERestart, domain.TypeICERestartRequest, domain.TypePeerDisconnected,
		domain.TypeStreamerConnected, domain.TypeError, domain.TypeInfo:
		return string(t)
	}
	return "unknown"
}
