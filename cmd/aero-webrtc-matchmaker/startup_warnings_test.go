package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-matchmaker/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
	groups  []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	logger := slog.New(&recordingHandler{mu: mu, records: records})
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *recordingHandler) clone() *recordingHandler {
	return &recordingHandler{
		mu:      h.mu,
		records: h.records,
		attrs:   append([]slog.Attr(nil), h.attrs...),
		groups:  append([]string(nil), h.groups...),
	}
}

func (h *recordingHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return strings.Join(h.groups, ".") + "." + k
}

func warningCodes(records []recordedLog) map[string]recordedLog {
	out := make(map[string]recordedLog)
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			out[code] = r
		}
	}
	return out
}

// quietConfig triggers no warnings.
func quietConfig() config.Config {
	return config.Config{
		Mode:                     config.ModeProd,
		MaxConnections:           1000,
		MaxSignalingMessageBytes: config.DefaultMaxSignalingMessageBytes,
		ICEServers:               []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}},
	}
}

func TestStartupSecurityWarnings_NoneForHardenedConfig(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, quietConfig())

	if got := warningCodes(records()); len(got) != 0 {
		t.Fatalf("unexpected warnings: %#v", got)
	}
}

func TestStartupSecurityWarnings_AllowedOriginsWildcard(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := quietConfig()
	cfg.AllowedOrigins = []string{"https://app.example.com", "*"}
	logStartupSecurityWarnings(logger, cfg)

	if _, ok := warningCodes(records())["allowed_origins_wildcard"]; !ok {
		t.Fatalf("expected warning_code=allowed_origins_wildcard, got %#v", records())
	}
}

func TestStartupSecurityWarnings_UnlimitedConnectionsOnlyInProd(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := quietConfig()
	cfg.MaxConnections = 0
	logStartupSecurityWarnings(logger, cfg)

	r, ok := warningCodes(records())["max_connections_unlimited_in_prod"]
	if !ok {
		t.Fatalf("expected warning_code=max_connections_unlimited_in_prod, got %#v", records())
	}
	if r.attrs["mode"] != config.ModeProd {
		t.Fatalf("mode attr = %#v, want %q", r.attrs["mode"], config.ModeProd)
	}

	logger, records = newRecordingLogger()
	cfg.Mode = config.ModeDev
	logStartupSecurityWarnings(logger, cfg)
	if _, ok := warningCodes(records())["max_connections_unlimited_in_prod"]; ok {
		t.Fatalf("unexpected max_connections warning in dev mode")
	}
}

func TestStartupSecurityWarnings_LargeLimits(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := quietConfig()
	cfg.MaxSignalingMessageBytes = 4 << 20
	cfg.TURNREST = config.TurnRESTConfig{SharedSecret: "s", TTLSeconds: 7 * 24 * 60 * 60, UsernamePrefix: "aero"}
	logStartupSecurityWarnings(logger, cfg)

	codes := warningCodes(records())
	for _, want := range []string{"max_signaling_message_bytes_large", "turn_rest_ttl_large"} {
		if _, ok := codes[want]; !ok {
			t.Fatalf("expected warning_code=%s, got %#v", want, records())
		}
	}
}

func TestStartupSecurityWarnings_NoICEServers(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := quietConfig()
	cfg.ICEServers = nil
	logStartupSecurityWarnings(logger, cfg)

	if _, ok := warningCodes(records())["no_ice_servers"]; !ok {
		t.Fatalf("expected warning_code=no_ice_servers, got %#v", records())
	}
}
