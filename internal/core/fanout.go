package core

import (
	"errors"

	"github.com/rs/zerolog/log"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo int
	// Dropped are targets whose queue was full.
	Dropped []Conn
	// Failed are targets that were closed or otherwise refused the frame.
	Failed []Conn
}

// Fanout sends f to every conn except the one with id from.
// It never closes adapter-owned resources.
func Fanout(conns []Conn, from ConnID, f Frame) PublishResult {
	res := PublishResult{}
	for _, c := range conns {
		if c.ID() == from {
			continue
		}
		if err := c.TrySend(f); err != nil {
			if errors.Is(err, ErrBackpressure) {
				res.Dropped = append(res.Dropped, c)
			} else {
				res.Failed = append(res.Failed, c)
			}
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.fanout").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Int("failed", len(res.Failed)).Msg("fanout result")
	return res
}
