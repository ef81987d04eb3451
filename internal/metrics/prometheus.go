package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const (
	eventsMetricName = "aero_webrtc_matchmaker_events_total"
	gaugeMetricName  = "aero_webrtc_matchmaker_current"
)

// GaugeFunc reports point-in-time values (e.g. connections waiting in the
// pool) that are sampled on every scrape.
type GaugeFunc func() map[string]int64

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
//
// Counters are exported as a single metric with an `event` label; gauges (if
// any) as a single metric with a `state` label.
func PrometheusHandler(m *Metrics, gauges GaugeFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		snap := m.Snapshot()
		_, _ = fmt.Fprintf(w, "# HELP %s Internal event counters.\n", eventsMetricName)
		_, _ = fmt.Fprintf(w, "# TYPE %s counter\n", eventsMetricName)
		for _, k := range sortedKeys(snap) {
			_, _ = fmt.Fprintf(w, "%s{event=\"%s\"} %d\n", eventsMetricName, escapeLabel(k), snap[k])
		}

		if gauges == nil {
			return
		}
		values := gauges()
		_, _ = fmt.Fprintf(w, "# HELP %s Current matchmaking state.\n", gaugeMetricName)
		_, _ = fmt.Fprintf(w, "# TYPE %s gauge\n", gaugeMetricName)
		for _, k := range sortedKeys(values) {
			_, _ = fmt.Fprintf(w, "%s{state=\"%s\"} %d\n", gaugeMetricName, escapeLabel(k), values[k])
		}
	})
}

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

func escapeLabel(v string) string {
	return labelEscaper.Replace(v)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
