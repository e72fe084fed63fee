// Package domain contains the signaling vocabulary: roles, session ids and
// wire messages. No transport or lifecycle logic here.
package domain

type Role string

const (
	RoleInitiator Role = "initiator"
	RoleViewer    Role = "viewer"
	RoleHost      Role = "host"
	RoleStreamer  Role = "streamer"
)

// Valid reports whether r is one of the four recognized roles.
func (r Role) Valid() bool {
	switch r {
	case RoleInitiator, RoleViewer, RoleHost, RoleStreamer:
		return true
	}
	return false
}

// Multi reports whether the role slot holds a set of connections.
func (r Role) Multi() bool { return r == RoleViewer }

// Producer reports whether the role sends offers.
func (r Role) Producer() bool { return r == RoleInitiator || r == RoleStreamer }

// Target is the role that receives messages originated by r:
// initiator <-> viewer, streamer <-> host.
func (r Role) Target() (Role, bool) {
	switch r {
	case RoleInitiator:
		return RoleViewer, true
	case RoleViewer:
		return RoleInitiator, true
	case RoleStreamer:
		return RoleHost, true
	case RoleHost:
		return RoleStreamer, true
	}
	return "", false
}

// RestartTarget is the producer an ICE restart request from r is sent to.
func (r Role) RestartTarget() (Role, bool) {
	switch r {
	case RoleViewer:
		return RoleInitiator, true
	case RoleHost:
		return RoleStreamer, true
	}
	return "", false
}

// OfferSource is the producer whose cached offer is replayed to a newly
// registered r.
func (r Role) OfferSource() (Role, bool) {
	switch r {
	case RoleViewer:
		return RoleInitiator, true
	case RoleHost:
		return RoleStreamer, true
	}
	return "", false
}
