package app

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/CamRelay/internal/core"
	"github.com/dkeye/CamRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
)

// Binding ties a connection to one role in one session.
type Binding struct {
	SessionID domain.SessionID
	Role      domain.Role
}

// Vacancy is a role slot a connection left, with the complementary
// occupants that should hear about it.
type Vacancy struct {
	Binding
	Peers []core.Conn
}

type RegisterResult struct {
	Created bool
	// Displaced is the previous occupant of a single role slot. It is
	// neither notified nor closed.
	Displaced core.Conn
	// Vacated is set when the connection moved from another slot.
	Vacated *Vacancy
	// PendingOffer is the cached offer of the complementary producer.
	PendingOffer core.Frame
	// Notify lists occupants to tell about the arrival (a host when a
	// streamer registers).
	Notify []core.Conn
}

type session struct {
	single        map[domain.Role]core.Conn
	viewers       map[core.ConnID]core.Conn
	pendingOffers map[domain.Role]core.Frame
}

func newSession() *session {
	return &session{
		single:        make(map[domain.Role]core.Conn),
		viewers:       make(map[core.ConnID]core.Conn),
		pendingOffers: make(map[domain.Role]core.Frame),
	}
}

func (s *session) empty() bool { return len(s.single) == 0 && len(s.viewers) == 0 }

func (s *session) occupants(role domain.Role) []core.Conn {
	if role.Multi() {
		out := make([]core.Conn, 0, len(s.viewers))
		for _, c := range s.viewers {
			out = append(out, c)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
		return out
	}
	if c, ok := s.single[role]; ok {
		return []core.Conn{c}
	}
	return nil
}

// Registry is the only owner of session membership and the offer cache.
//
// All state sits behind one mutex. Critical sections only touch maps; every
// method returns copies so callers send on connections after the lock is
// released.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*session
	bindings map[core.ConnID]Binding
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.SessionID]*session),
		bindings: make(map[core.ConnID]Binding),
	}
}

// Register binds conn to role in session sid, creating the session when it
// does not exist yet.
func (r *Registry) Register(sid domain.SessionID, role domain.Role, conn core.Conn) (RegisterResult, error) {
	if sid == "" {
		return RegisterResult{}, fmt.Errorf("%w: empty session id", ErrInvalidRequest)
	}
	if !role.Valid() {
		return RegisterResult{}, fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, role)
	}
	id := conn.ID()
	want := Binding{SessionID: sid, Role: role}

	r.mu.Lock()
	defer r.mu.Unlock()

	var res RegisterResult
	if prev, ok := r.bindings[id]; ok && prev != want {
		if vac, ok := r.removeLocked(id, prev); ok {
			res.Vacated = &vac
		}
	}

	s, ok := r.sessions[sid]
	if !ok {
		s = newSession()
		r.sessions[sid] = s
		res.Created = true
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("session created")
	}

	if role.Multi() {
		s.viewers[id] = conn
	} else {
		if old, ok := s.single[role]; ok && old.ID() != id {
			res.Displaced = old
			delete(r.bindings, old.ID())
			// The cached offer belongs to the displaced producer.
			if role.Producer() {
				delete(s.pendingOffers, role)
			}
			log.Warn().Str("module", "app.registry").Str("sid", string(sid)).Str("role", string(role)).
				Str("old", string(old.ID())).Str("conn", string(id)).Msg("overwriting existing occupant")
		}
		s.single[role] = conn
	}
	r.bindings[id] = want

	if src, ok := role.OfferSource(); ok {
		if f, ok := s.pendingOffers[src]; ok {
			res.PendingOffer = bytes.Clone(f)
		}
	}
	if role == domain.RoleStreamer {
		res.Notify = s.occupants(domain.RoleHost)
	}

	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("role", string(role)).Str("conn", string(id)).Msg("registered")
	return res, nil
}

// Unregister removes conn from whatever slot it holds. It reports false when
// conn held no registration.
func (r *Registry) Unregister(conn core.Conn) (Vacancy, bool) {
	id := conn.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[id]
	if !ok {
		return Vacancy{}, false
	}
	return r.removeLocked(id, b)
}

// removeLocked must be called with mu held.
func (r *Registry) removeLocked(id core.ConnID, b Binding) (Vacancy, bool) {
	delete(r.bindings, id)
	vac := Vacancy{Binding: b}

	s, ok := r.sessions[b.SessionID]
	if !ok {
		return vac, false
	}
	if b.Role.Multi() {
		if _, ok := s.viewers[id]; !ok {
			return vac, false
		}
		delete(s.viewers, id)
	} else {
		// A displaced connection must not clear the slot of its successor.
		cur, ok := s.single[b.Role]
		if !ok || cur.ID() != id {
			return vac, false
		}
		delete(s.single, b.Role)
	}
	if b.Role.Producer() {
		delete(s.pendingOffers, b.Role)
	}
	if target, ok := b.Role.Target(); ok {
		vac.Peers = s.occupants(target)
	}
	log.Info().Str("module", "app.registry").Str("sid", string(b.SessionID)).Str("role", string(b.Role)).Str("conn", string(id)).Msg("unregistered")

	if s.empty() {
		delete(r.sessions, b.SessionID)
		log.Info().Str("module", "app.registry").Str("sid", string(b.SessionID)).Msg("session closed")
	}
	return vac, true
}

// Lookup returns the occupants of role in session sid.
func (r *Registry) Lookup(sid domain.SessionID, role domain.Role) ([]core.Conn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sid]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sid)
	}
	conns := s.occupants(role)
	if len(conns) == 0 {
		return nil, fmt.Errorf("%w: %s in session %s", ErrNotFound, role, sid)
	}
	return conns, nil
}

// StorePendingOffer caches f as the latest offer of producer role and
// returns the connections currently able to receive it. The cache write and
// the receiver snapshot happen atomically, so a receiver registering
// concurrently gets the offer exactly once: by replay or by forward.
func (r *Registry) StorePendingOffer(sid domain.SessionID, role domain.Role, f core.Frame) ([]core.Conn, error) {
	target, ok := role.Target()
	if !ok || !role.Producer() {
		return nil, fmt.Errorf("%w: %q cannot send offers", ErrInvalidRequest, role)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sid]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sid)
	}
	s.pendingOffers[role] = bytes.Clone(f)
	return s.occupants(target), nil
}

// ConsumePendingOffer reads the cached offer of producer role without
// clearing it; it stays until the producer leaves.
func (r *Registry) ConsumePendingOffer(sid domain.SessionID, role domain.Role) (core.Frame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sid]
	if !ok {
		return nil, false
	}
	f, ok := s.pendingOffers[role]
	if !ok {
		return nil, false
	}
	return bytes.Clone(f), true
}

func (r *Registry) BindingOf(id core.ConnID) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[id]
	return b, ok
}

func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) BindingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

var roleOrder = []domain.Role{domain.RoleInitiator, domain.RoleStreamer, domain.RoleHost}

func (r *Registry) SessionInfo(sid domain.SessionID) (core.SessionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sid]
	if !ok {
		return core.SessionInfo{}, false
	}
	return s.info(sid), true
}

func (r *Registry) Sessions() []core.SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.SessionInfo, 0, len(r.sessions))
	for sid, s := range r.sessions {
		out = append(out, s.info(sid))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *session) info(sid domain.SessionID) core.SessionInfo {
	info := core.SessionInfo{
		ID:            sid,
		Roles:         []domain.Role{},
		ViewerCount:   len(s.viewers),
		PendingOffers: []domain.Role{},
	}
	for _, role := range roleOrder {
		if _, ok := s.single[role]; ok {
			info.Roles = append(info.Roles, role)
		}
	}
	if len(s.viewers) > 0 {
		info.Roles = append(info.Roles, domain.RoleViewer)
	}
	for _, role := range []domain.Role{domain.RoleInitiator, domain.RoleStreamer} {
		if _, ok := s.pendingOffers[role]; ok {
			info.PendingOffers = append(info.PendingOffers, role)
		}
	}
	return info
}
