package orch

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/CamRelay/internal/app"
	"github.com/dkeye/CamRelay/internal/core"
	"github.com/dkeye/CamRelay/internal/domain"
)

func (o *Orchestrator) handleRegister(conn core.Conn, msg domain.Message) {
	if msg.SessionID == "" || msg.PeerType == "" {
		o.reply(conn, domain.Error("SessionId and peerType required for registration."))
		return
	}
	sid, err := domain.NewSessionID(msg.SessionID)
	if err != nil {
		o.reply(conn, domain.Error("Invalid sessionId."))
		return
	}
	if !msg.PeerType.Valid() {
		o.reply(conn, domain.Error("Invalid peerType: "+string(msg.PeerType)))
		return
	}

	res, err := o.Registry.Register(sid, msg.PeerType, conn)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("conn", string(conn.ID())).Msg("register failed")
		o.reply(conn, domain.Error(err.Error()))
		return
	}
	if res.Vacated != nil {
		o.notifyVacancy(*res.Vacated)
	}
	// A close that won the race against Register already ran its cleanup.
	// Closed is set before that cleanup starts, so checking after Register
	// catches every interleaving.
	if core.IsClosed(conn) {
		log.Warn().Str("module", "orch").Str("conn", string(conn.ID())).Str("sid", string(sid)).Msg("connection closed during register, rolling back")
		o.Disconnect(conn)
		return
	}

	o.reply(conn, domain.Registered(sid, msg.PeerType))

	if res.PendingOffer != nil {
		o.deliver([]core.Conn{conn}, "", res.PendingOffer, domain.TypeOffer)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("role", string(msg.PeerType)).Msg("replayed cached offer")
	}
	if len(res.Notify) > 0 {
		f, err := domain.Encode(domain.StreamerConnected(sid))
		if err == nil {
			o.deliver(res.Notify, conn.ID(), f, domain.TypeStreamerConnected)
		}
	}
}

// Disconnect runs cleanup for a closed or failed connection. Connections
// without a registration are ignored.
func (o *Orchestrator) Disconnect(conn core.Conn) {
	vac, ok := o.Registry.Unregister(conn)
	if !ok {
		return
	}
	o.notifyVacancy(vac)
}

// notifyVacancy tells the complementary occupants that a role slot emptied.
func (o *Orchestrator) notifyVacancy(vac app.Vacancy) {
	if len(vac.Peers) == 0 {
		return
	}
	f, err := domain.Encode(domain.PeerDisconnected(vac.SessionID, vac.Role))
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode peer_disconnected")
		return
	}
	n := o.deliver(vac.Peers, "", f, domain.TypePeerDisconnected)
	log.Info().Str("module", "orch").Str("sid", string(vac.SessionID)).Str("role", string(vac.Role)).Int("notified", n).Msg("peer disconnected")
}
