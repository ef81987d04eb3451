package pairing

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-matchmaker/internal/metrics"
)

type sessionState int

const (
	sessionActive sessionState = iota
	sessionClosed
)

type session struct {
	id        SessionID
	members   [2]ConnectionID
	createdAt time.Time

	mu    sync.Mutex
	state sessionState
}

func (s *session) partnerOf(conn ConnectionID) (ConnectionID, bool) {
	switch conn {
	case s.members[0]:
		return s.members[1], true
	case s.members[1]:
		return s.members[0], true
	default:
		return "", false
	}
}

// RegistryConfig configures a Registry. Zero values select defaults.
type RegistryConfig struct {
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
	// NewID allocates session identifiers. Defaults to random UUIDs.
	NewID func() (string, error)
}

// Registry owns all active sessions and the connection -> session index.
//
// The table and index are guarded by mu; each session additionally has its
// own mutex so relays on distinct sessions proceed in parallel while relay and
// teardown on one session are serialized.
type Registry struct {
	notifier Notifier
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
	newID    func() (string, error)

	mu       sync.RWMutex
	sessions map[SessionID]*session
	byConn   map[ConnectionID]SessionID
}

func NewRegistry(n Notifier, cfg RegistryConfig) *Registry {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = newRandomID
	}
	return &Registry{
		notifier: n,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		now:      cfg.Now,
		newID:    cfg.NewID,
		sessions: make(map[SessionID]*session),
		byConn:   make(map[ConnectionID]SessionID),
	}
}

var errSessionIDExhausted = errors.New("pairing: failed to allocate unique session id")

// CreateSession pairs initiator and responder in a new Active session and
// sends EventPaired to both. The registry lock is held until both
// notifications are queued, so no relay on the new session can overtake
// them.
func (r *Registry) CreateSession(initiator, responder ConnectionID) (SessionID, error) {
	if initiator == responder {
		return "", ErrSelfPairing
	}

	for attempt := 0; attempt < 3; attempt++ {
		raw, err := r.newID()
		if err != nil {
			return "", fmt.Errorf("allocate session id: %w", err)
		}
		id := SessionID(raw)

		r.mu.Lock()
		if _, ok := r.byConn[initiator]; ok {
			r.mu.Unlock()
			return "", ErrAlreadyInSession
		}
		if _, ok := r.byConn[responder]; ok {
			r.mu.Unlock()
			return "", ErrAlreadyInSession
		}
		if _, ok := r.sessions[id]; ok {
			r.mu.Unlock()
			continue
		}

		s := &session{
			id:        id,
			members:   [2]ConnectionID{initiator, responder},
			createdAt: r.now(),
			state:     sessionActive,
		}
		r.sessions[id] = s
		r.byConn[initiator] = id
		r.byConn[responder] = id

		r.notifier.Notify(initiator, Event{Kind: EventPaired, SessionID: id, Initiator: true})
		r.notifier.Notify(responder, Event{Kind: EventPaired, SessionID: id})
		r.mu.Unlock()

		r.metrics.Inc(metrics.SessionsCreated)
		r.log.Debug("session created", "session_id", id, "initiator", initiator, "responder", responder)
		return id, nil
	}
	return "", errSessionIDExhausted
}

// Relay forwards payload from a session member to the other member.
//
// Unknown or closed sessions and non-member senders are dropped silently;
// these are the expected result of a relay racing a teardown.
func (r *Registry) Relay(from ConnectionID, id SessionID, payload []byte) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		r.metrics.Inc(metrics.DropReasonStaleSignal)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != sessionActive {
		r.metrics.Inc(metrics.DropReasonStaleSignal)
		return
	}
	to, ok := s.partnerOf(from)
	if !ok {
		r.metrics.Inc(metrics.DropReasonForeignSignal)
		return
	}
	r.notifier.Notify(to, Event{Kind: EventSignal, SessionID: id, Payload: payload})
	r.metrics.Inc(metrics.SignalsRelayed)
}

// Disconnect tears down conn's session, if any, and sends exactly one
// EventPartnerDisconnected to the partner. The partner becomes Idle.
//
// The partner is notified before its index entry becomes visible as Idle to
// other callers, so a subsequent pairing of the partner is always observed
// after the teardown notification.
func (r *Registry) Disconnect(conn ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byConn[conn]
	if !ok {
		return
	}
	s := r.sessions[id]
	delete(r.sessions, id)
	for _, m := range s.members {
		delete(r.byConn, m)
	}

	s.mu.Lock()
	s.state = sessionClosed
	partner, _ := s.partnerOf(conn)
	r.notifier.Notify(partner, Event{Kind: EventPartnerDisconnected, SessionID: id})
	s.mu.Unlock()

	r.metrics.Inc(metrics.SessionsClosed)
	r.metrics.Inc(metrics.PartnerDisconnected)
	r.log.Debug("session closed",
		"session_id", id,
		"disconnected", conn,
		"partner", partner,
		"duration_ms", r.now().Sub(s.createdAt).Milliseconds(),
	)
}

// SessionOf returns the session conn currently belongs to.
func (r *Registry) SessionOf(conn ConnectionID) (SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byConn[conn]
	return id, ok
}

// Members returns the two members of an active session.
func (r *Registry) Members(id SessionID) ([2]ConnectionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return [2]ConnectionID{}, false
	}
	return s.members, true
}

func (r *Registry) ActiveSessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
