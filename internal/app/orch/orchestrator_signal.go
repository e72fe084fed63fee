package orch

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/CamRelay/internal/app"
	"github.com/dkeye/CamRelay/internal/core"
	"github.com/dkeye/CamRelay/internal/domain"
	"github.com/dkeye/CamRelay/internal/metrics"
)

// routed is a validated relayable message.
type routed struct {
	sid    domain.SessionID
	origin domain.Role
	frame  core.Frame
}

// route validates sessionId and origin. When origin is absent it is taken
// from the sender's own registration in the same session and attached to a
// fresh frame; otherwise the inbound bytes are forwarded untouched.
func (o *Orchestrator) route(conn core.Conn, msg domain.Message) (routed, bool) {
	if msg.SessionID == "" {
		return routed{}, false
	}
	sid, err := domain.NewSessionID(msg.SessionID)
	if err != nil {
		return routed{}, false
	}
	if msg.Origin != "" {
		return routed{sid: sid, origin: msg.Origin, frame: msg.Raw()}, true
	}
	b, ok := o.Registry.BindingOf(conn.ID())
	if !ok || b.SessionID != sid {
		return routed{}, false
	}
	f, err := msg.WithOrigin(b.Role)
	if err != nil {
		return routed{}, false
	}
	return routed{sid: sid, origin: b.Role, frame: f}, true
}

func (o *Orchestrator) handleOffer(conn core.Conn, msg domain.Message) {
	r, ok := o.route(conn, msg)
	if !ok || !msg.HasPayload() {
		o.reply(conn, domain.Error("SessionId, offer data, and origin required."))
		return
	}
	if !r.origin.Producer() {
		o.reply(conn, domain.Error("Invalid origin for offer."))
		return
	}

	receivers, err := o.Registry.StorePendingOffer(r.sid, r.origin, r.frame)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(r.sid)).Msg("offer rejected")
		if errors.Is(err, app.ErrNotFound) {
			o.reply(conn, domain.Error(fmt.Sprintf("Session %s is not registered.", r.sid)))
			return
		}
		o.reply(conn, domain.Error(err.Error()))
		return
	}

	target, _ := r.origin.Target()
	if len(receivers) == 0 {
		log.Info().Str("module", "orch").Str("sid", string(r.sid)).Str("origin", string(r.origin)).Msg("no receiver, offer stored")
		o.reply(conn, domain.Info(fmt.Sprintf("No %s connected for session %s. Offer stored.", target, r.sid)))
		return
	}
	n := o.deliver(receivers, conn.ID(), r.frame, msg.Type)
	log.Info().Str("module", "orch").Str("sid", string(r.sid)).Str("origin", string(r.origin)).Int("receivers", n).Msg("forwarded offer")
}

// handleRelay forwards answer, candidate and hangup along the role table.
func (o *Orchestrator) handleRelay(conn core.Conn, msg domain.Message) {
	r, ok := o.route(conn, msg)
	if !ok {
		o.reply(conn, domain.Error(fmt.Sprintf("SessionId and origin required for %s", msg.Type)))
		return
	}
	if !msg.HasPayload() {
		o.reply(conn, domain.Error(fmt.Sprintf("%s data required.", msg.Type)))
		return
	}
	target, ok := r.origin.Target()
	if !ok {
		o.reply(conn, domain.Error("Cannot determine target for origin "+string(r.origin)))
		return
	}

	targets, err := o.Registry.Lookup(r.sid, target)
	if err != nil {
		o.Metrics.Dropped(metrics.DropNoTarget)
		log.Debug().Err(err).Str("module", "orch").Str("sid", string(r.sid)).Str("type", string(msg.Type)).Msg("no target, dropped")
		return
	}
	n := o.deliver(targets, conn.ID(), r.frame, msg.Type)
	log.Debug().Str("module", "orch").Str("sid", string(r.sid)).Str("type", string(msg.Type)).
		Str("origin", string(r.origin)).Str("target", string(target)).Int("sent_to", n).Msg("forwarded")
}

func (o *Orchestrator) handlePing(conn core.Conn, msg domain.Message) {
	sid, err := domain.NewSessionID(msg.SessionID)
	if err != nil {
		o.reply(conn, domain.Error("SessionId required for ping."))
		return
	}
	o.reply(conn, domain.Pong(sid))
}

func (o *Orchestrator) handleICERestart(conn core.Conn, msg domain.Message) {
	r, ok := o.route(conn, msg)
	if !ok {
		o.reply(conn, domain.Error("SessionId and origin required for ICE restart."))
		return
	}
	target, ok := r.origin.RestartTarget()
	if !ok {
		log.Info().Str("module", "orch").Str("sid", string(r.sid)).Str("origin", string(r.origin)).Msg("ice restart from non-consumer ignored")
		return
	}
	targets, err := o.Registry.Lookup(r.sid, target)
	if err != nil {
		o.Metrics.Dropped(metrics.DropNoTarget)
		log.Info().Err(err).Str("module", "orch").Str("sid", string(r.sid)).Msg("ice restart target missing")
		return
	}
	f, err := domain.Encode(domain.ICERestartRequest(r.sid, r.origin))
	if err != nil {
		return
	}
	o.deliver(targets, conn.ID(), f, domain.TypeICERestartRequest)
	log.Info().Str("module", "orch").Str("sid", string(r.sid)).Str("origin", string(r.origin)).Str("target", string(target)).Msg("ice restart requested")
}
