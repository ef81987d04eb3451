package pairing

import (
	"sync"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-matchmaker/internal/metrics"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events map[ConnectionID][]Event
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{events: make(map[ConnectionID][]Event)}
}

func (n *recordingNotifier) Notify(conn ConnectionID, ev Event) {
	n.mu.Lock()
	n.events[conn] = append(n.events[conn], ev)
	n.mu.Unlock()
}

func (n *recordingNotifier) For(conn ConnectionID) []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Event, len(n.events[conn]))
	copy(out, n.events[conn])
	return out
}

func (n *recordingNotifier) Count(conn ConnectionID, kind EventKind) int {
	count := 0
	for _, ev := range n.For(conn) {
		if ev.Kind == kind {
			count++
		}
	}
	return count
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	notifier *recordingNotifier
	registry *Registry
	matcher  *Matcher
	metrics  *metrics.Metrics
	clock    *fakeClock
}

func newHarness(t *testing.T, maxWait time.Duration) *harness {
	t.Helper()
	h := &harness{
		notifier: newRecordingNotifier(),
		metrics:  metrics.New(),
		clock:    &fakeClock{now: time.Unix(1_700_000_000, 0)},
	}
	h.registry = NewRegistry(h.notifier, RegistryConfig{Metrics: h.metrics, Now: h.clock.Now})
	h.matcher = NewMatcher(h.registry, h.notifier, MatcherConfig{
		Metrics: h.metrics,
		Now:     h.clock.Now,
		MaxWait: maxWait,
		// Keep the background loop out of the way; tests call EvictExpired.
		EvictInterval: time.Hour,
	})
	t.Cleanup(h.matcher.Close)
	return h
}

func (h *harness) lastEvent(t *testing.T, conn ConnectionID) Event {
	t.Helper()
	evs := h.notifier.For(conn)
	if len(evs) == 0 {
		t.Fatalf("no events for %s", conn)
	}
	return evs[len(evs)-1]
}
