package app

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/CamRelay/internal/core"
)

type peerState struct {
	conn   core.Conn
	missed int
}

// Supervisor probes every tracked connection once per period. A connection
// that stays silent for more than maxMissed periods is closed; closing it
// runs the transport's normal disconnect path.
type Supervisor struct {
	clock     clock.Clock
	period    time.Duration
	maxMissed int

	mu    sync.Mutex
	peers map[core.ConnID]*peerState
}

func NewSupervisor(clk clock.Clock, period time.Duration, maxMissed int) *Supervisor {
	if clk == nil {
		clk = clock.New()
	}
	if maxMissed < 1 {
		maxMissed = 1
	}
	return &Supervisor{
		clock:     clk,
		period:    period,
		maxMissed: maxMissed,
		peers:     make(map[core.ConnID]*peerState),
	}
}

func (s *Supervisor) Track(c core.Conn) {
	s.mu.Lock()
	s.peers[c.ID()] = &peerState{conn: c}
	s.mu.Unlock()
}

func (s *Supervisor) Forget(id core.ConnID) {
	s.mu.Lock()
	delete(s.peers, id)
	s.mu.Unlock()
}

// Touch records proof of life: a pong, a poll, or any inbound message.
func (s *Supervisor) Touch(id core.ConnID) {
	s.mu.Lock()
	if p, ok := s.peers[id]; ok {
		p.missed = 0
	}
	s.mu.Unlock()
}

func (s *Supervisor) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Sweep runs one supervision round and returns the connections it closed.
func (s *Supervisor) Sweep() []core.ConnID {
	var expired, probe []core.Conn

	s.mu.Lock()
	for id, p := range s.peers {
		if p.missed >= s.maxMissed {
			expired = append(expired, p.conn)
			delete(s.peers, id)
			continue
		}
		p.missed++
		probe = append(probe, p.conn)
	}
	s.mu.Unlock()

	for _, c := range probe {
		pinger, ok := c.(core.Pinger)
		if !ok {
			continue
		}
		if err := pinger.Ping(); err != nil {
			log.Warn().Err(err).Str("module", "app.liveness").Str("conn", string(c.ID())).Msg("ping failed")
			s.Forget(c.ID())
			expired = append(expired, c)
		}
	}

	out := make([]core.ConnID, 0, len(expired))
	for _, c := range expired {
		log.Info().Str("module", "app.liveness").Str("conn", string(c.ID())).Msg("peer unreachable, closing")
		c.Close()
		out = append(out, c.ID())
	}
	return out
}

// Run sweeps every period until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.period)
	defer ticker.Stop()
	log.Info().Str("module", "app.liveness").Dur("period", s.period).Int("max_missed", s.maxMissed).Msg("supervisor started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.liveness").Msg("supervisor stopped")
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}
