package pairing

import (
	"sync"

	"github.com/wilsonzlin/aero/proxy/webrtc-matchmaker/internal/metrics"
)

// Sink accepts events for one connection. Deliver must not block; it reports
// false when the event could not be queued (e.g. the channel is closing).
type Sink interface {
	Deliver(ev Event) bool
}

// Directory maps live connections to their outbound sinks. It is the
// Notifier used by the Matcher and Registry.
type Directory struct {
	metrics        *metrics.Metrics
	maxConnections int
	newID          func() (string, error)

	mu    sync.RWMutex
	sinks map[ConnectionID]Sink
}

func NewDirectory(m *metrics.Metrics, maxConnections int) *Directory {
	if m == nil {
		m = metrics.New()
	}
	return &Directory{
		metrics:        m,
		maxConnections: maxConnections,
		newID:          newRandomID,
		sinks:          make(map[ConnectionID]Sink),
	}
}

// Register allocates a fresh ConnectionID for sink.
func (d *Directory) Register(sink Sink) (ConnectionID, error) {
	for {
		raw, err := d.newID()
		if err != nil {
			return "", err
		}
		id := ConnectionID(raw)

		d.mu.Lock()
		if d.maxConnections > 0 && len(d.sinks) >= d.maxConnections {
			d.mu.Unlock()
			d.metrics.Inc(metrics.DropReasonTooManyConnections)
			return "", ErrTooManyConnections
		}
		if _, taken := d.sinks[id]; taken {
			d.mu.Unlock()
			continue
		}
		d.sinks[id] = sink
		d.mu.Unlock()
		return id, nil
	}
}

func (d *Directory) Unregister(id ConnectionID) {
	d.mu.Lock()
	delete(d.sinks, id)
	d.mu.Unlock()
}

func (d *Directory) Notify(id ConnectionID, ev Event) {
	d.mu.RLock()
	sink, ok := d.sinks[id]
	d.mu.RUnlock()
	if !ok || !sink.Deliver(ev) {
		d.metrics.Inc(metrics.DropReasonUndeliverable)
	}
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sinks)
}
