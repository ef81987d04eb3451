package metrics

import "sync"

// Event counters. Lifecycle events are counted once per occurrence; drop
// reasons are counted once per discarded message.
const (
	ConnectionsOpened   = "connections_opened"
	ConnectionsClosed   = "connections_closed"
	JoinRequests        = "join_requests"
	JoinDuplicate       = "join_duplicate"
	SessionSkips        = "session_skips"
	PoolEnqueued        = "pool_enqueued"
	PoolLeft            = "pool_left"
	WaitExpired         = "wait_expired"
	SessionsCreated     = "sessions_created"
	SessionsClosed      = "sessions_closed"
	SignalsRelayed      = "signals_relayed"
	PartnerDisconnected = "partner_disconnected"
	ProtocolErrors      = "protocol_errors"

	DropReasonTooManyConnections = "too_many_connections"
	DropReasonStaleSignal        = "drop_stale_signal"
	DropReasonForeignSignal      = "drop_foreign_signal"
	DropReasonUndeliverable      = "drop_undeliverable"
	DropReasonRateLimited        = "rate_limited"
	DropReasonSlowConsumer       = "slow_consumer"
)

// Metrics is a minimal, concurrency-safe counter registry.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
