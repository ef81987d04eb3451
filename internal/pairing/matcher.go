package pairing

import (
	"log/slog"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-matchmaker/internal/metrics"
)

const defaultEvictInterval = time.Second

// MatcherConfig configures a Matcher. Zero values select defaults.
type MatcherConfig struct {
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time

	// MaxWait evicts connections that have waited in the pool longer than
	// this. Zero disables eviction.
	MaxWait time.Duration
	// EvictInterval is how often the pool is scanned when MaxWait is set.
	EvictInterval time.Duration
}

// Matcher owns the waiting pool and turns join requests into either a
// waiting state or a new session.
type Matcher struct {
	registry *Registry
	notifier Notifier
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
	maxWait  time.Duration

	mu   sync.Mutex
	pool *waitingPool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewMatcher(registry *Registry, n Notifier, cfg MatcherConfig) *Matcher {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = defaultEvictInterval
	}

	m := &Matcher{
		registry: registry,
		notifier: n,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		now:      cfg.Now,
		maxWait:  cfg.MaxWait,
		pool:     newWaitingPool(),
		stopCh:   make(chan struct{}),
	}

	if m.maxWait > 0 {
		m.wg.Add(1)
		go m.evictLoop(cfg.EvictInterval)
	}
	return m
}

// Join requests a partner for conn.
//
// A connection that is already waiting is left untouched. A connection that
// is in a session skips its partner: the session is torn down as if conn had
// disconnected, then conn is matched again from Idle.
//
// The pool check and the removal of the chosen partner happen under one lock,
// so two concurrent joins can never claim the same partner.
func (m *Matcher) Join(conn ConnectionID) {
	m.metrics.Inc(metrics.JoinRequests)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pool.contains(conn) {
		m.metrics.Inc(metrics.JoinDuplicate)
		return
	}

	if _, ok := m.registry.SessionOf(conn); ok {
		m.registry.Disconnect(conn)
		m.metrics.Inc(metrics.SessionSkips)
	}

	partner, ok := m.pool.popOldest()
	if !ok {
		m.enqueueLocked(conn)
		return
	}

	if _, err := m.registry.CreateSession(partner, conn); err != nil {
		// Only reachable if session id allocation fails. Both connections
		// stay matchable; the partner keeps its place ahead of conn.
		m.log.Error("failed to create session", "err", err, "conn", conn, "partner", partner)
		m.pool.push(partner, m.now())
		m.enqueueLocked(conn)
	}
}

func (m *Matcher) enqueueLocked(conn ConnectionID) {
	m.pool.push(conn, m.now())
	m.metrics.Inc(metrics.PoolEnqueued)
	m.notifier.Notify(conn, Event{Kind: EventWaiting})
}

// Leave removes conn from the pool. It is a no-op if conn is not waiting.
func (m *Matcher) Leave(conn ConnectionID) {
	m.mu.Lock()
	removed := m.pool.remove(conn)
	m.mu.Unlock()
	if removed {
		m.metrics.Inc(metrics.PoolLeft)
	}
}

// EvictExpired removes connections that have waited longer than MaxWait and
// notifies each with EventWaitExpired. It returns the number evicted.
func (m *Matcher) EvictExpired() int {
	if m.maxWait <= 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expired := m.pool.expire(m.now().Add(-m.maxWait))
	for _, conn := range expired {
		m.notifier.Notify(conn, Event{Kind: EventWaitExpired})
	}
	if len(expired) > 0 {
		m.metrics.Add(metrics.WaitExpired, uint64(len(expired)))
		m.log.Debug("evicted waiting connections", "count", len(expired), "max_wait", m.maxWait)
	}
	return len(expired)
}

func (m *Matcher) evictLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.EvictExpired()
		case <-m.stopCh:
			return
		}
	}
}

// Waiting returns the number of connections in the pool.
func (m *Matcher) Waiting() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool.len()
}

// WaitingConnections returns the pool in arrival order.
func (m *Matcher) WaitingConnections() []ConnectionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool.members()
}

// State reports conn's current state. The result is consistent with the
// pool and the session index at a single instant.
func (m *Matcher) State(conn ConnectionID) ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pool.contains(conn) {
		return StateWaiting
	}
	if _, ok := m.registry.SessionOf(conn); ok {
		return StateInSession
	}
	return StateIdle
}

// Close stops the eviction loop.
func (m *Matcher) Close() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}
