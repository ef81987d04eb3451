package pairing

import (
	"log/slog"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-matchmaker/internal/metrics"
)

// Config wires the matchmaking components together.
type Config struct {
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time

	// MaxConnections caps concurrently open connections. <= 0 means unlimited.
	MaxConnections int
	MaxWait        time.Duration
	EvictInterval  time.Duration
}

// Lifecycle binds transport-level connection events to the Matcher and
// Registry. Transports call Open when a channel is established, Join/Signal
// for inbound messages, and Close exactly once when the channel goes away.
type Lifecycle struct {
	Directory *Directory
	Registry  *Registry
	Matcher   *Matcher

	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewLifecycle(cfg Config) *Lifecycle {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	dir := NewDirectory(cfg.Metrics, cfg.MaxConnections)
	reg := NewRegistry(dir, RegistryConfig{
		Metrics: cfg.Metrics,
		Logger:  cfg.Logger,
		Now:     cfg.Now,
	})
	m := NewMatcher(reg, dir, MatcherConfig{
		Metrics:       cfg.Metrics,
		Logger:        cfg.Logger,
		Now:           cfg.Now,
		MaxWait:       cfg.MaxWait,
		EvictInterval: cfg.EvictInterval,
	})

	return &Lifecycle{
		Directory: dir,
		Registry:  reg,
		Matcher:   m,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
	}
}

func (l *Lifecycle) Metrics() *metrics.Metrics { return l.metrics }

// Open registers a new connection. The connection starts Idle.
func (l *Lifecycle) Open(sink Sink) (ConnectionID, error) {
	id, err := l.Directory.Register(sink)
	if err != nil {
		return "", err
	}
	l.metrics.Inc(metrics.ConnectionsOpened)
	l.log.Debug("connection opened", "conn", id)
	return id, nil
}

func (l *Lifecycle) Join(id ConnectionID) {
	l.Matcher.Join(id)
}

func (l *Lifecycle) Signal(id ConnectionID, session SessionID, payload []byte) {
	l.Registry.Relay(id, session, payload)
}

// Close removes every trace of the connection: it leaves the pool if
// waiting, tears down its session if paired (notifying the partner), and is
// unregistered from the directory.
func (l *Lifecycle) Close(id ConnectionID) {
	l.Matcher.Leave(id)
	l.Registry.Disconnect(id)
	l.Directory.Unregister(id)
	l.metrics.Inc(metrics.ConnectionsClosed)
	l.log.Debug("connection closed", "conn", id)
}

// Gauges reports current state for metrics exposition.
func (l *Lifecycle) Gauges() map[string]int64 {
	return map[string]int64{
		"connections":     int64(l.Directory.Len()),
		"waiting":         int64(l.Matcher.Waiting()),
		"active_sessions": int64(l.Registry.ActiveSessions()),
	}
}

// Shutdown stops background work. Open connections are closed by their
// transports.
func (l *Lifecycle) Shutdown() {
	l.Matcher.Close()
}
