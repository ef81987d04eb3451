package config

import (
	"errors"
	"flag"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(noEnv, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.MaxWait != 0 {
		t.Fatalf("MaxWait=%v, want 0 (eviction disabled)", cfg.MaxWait)
	}
	if cfg.MaxConnections != 0 {
		t.Fatalf("MaxConnections=%d, want 0", cfg.MaxConnections)
	}
	if cfg.SendQueueMessages != DefaultSendQueueMessages {
		t.Fatalf("SendQueueMessages=%d, want %d", cfg.SendQueueMessages, DefaultSendQueueMessages)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Fatalf("MaxSignalingMessageBytes=%d, want %d", cfg.MaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	}
	if cfg.SignalingWSPingInterval != DefaultSignalingWSPingInterval || cfg.SignalingWSIdleTimeout != DefaultSignalingWSIdleTimeout {
		t.Fatalf("ping=%v idle=%v, want %v/%v", cfg.SignalingWSPingInterval, cfg.SignalingWSIdleTimeout, DefaultSignalingWSPingInterval, DefaultSignalingWSIdleTimeout)
	}
	if len(cfg.ICEServers) != 0 {
		t.Fatalf("ICEServers=%v, want none", cfg.ICEServers)
	}
	if cfg.TURNREST.Enabled() {
		t.Fatalf("TURN REST enabled by default")
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(noEnv, []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
}

func TestLogFormatExplicitOverride(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarMode:      "prod",
		envVarLogFormat: "text",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarListenAddr:     "0.0.0.0:9000",
		envVarMaxWait:        "30s",
		envVarMaxConnections: "100",
	}), []string{"--listen-addr", "127.0.0.1:9001", "--max-wait", "45s"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9001" {
		t.Fatalf("ListenAddr=%q, want flag value", cfg.ListenAddr)
	}
	if cfg.MaxWait != 45*time.Second {
		t.Fatalf("MaxWait=%v, want 45s", cfg.MaxWait)
	}
	if cfg.MaxConnections != 100 {
		t.Fatalf("MaxConnections=%d, want 100 from env", cfg.MaxConnections)
	}
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "bad duration env", env: map[string]string{envVarMaxWait: "soon"}},
		{name: "negative max wait", args: []string{"--max-wait", "-1s"}},
		{name: "bad int env", env: map[string]string{envVarMaxConnections: "lots"}},
		{name: "negative max connections", args: []string{"--max-connections", "-1"}},
		{name: "zero message size", args: []string{"--max-signaling-message-bytes", "0"}},
		{name: "zero rate", args: []string{"--max-signaling-messages-per-second", "0"}},
		{name: "zero send queue", args: []string{"--send-queue-messages", "0"}},
		{name: "ping not below idle", args: []string{"--signaling-ws-ping-interval", "10s", "--signaling-ws-idle-timeout", "10s"}},
		{name: "bad mode", args: []string{"--mode", "staging"}},
		{name: "bad log level", args: []string{"--log-level", "loud"}},
		{name: "bad origin", env: map[string]string{envVarAllowedOrigins: "example.com"}},
		{name: "stray args", args: []string{"extra"}},
		{name: "turn rest bad prefix", env: map[string]string{envVarTURNRESTSharedSecret: "s", envVarTURNRESTUsernamePrefix: "a:b"}},
		{name: "turn rest bad ttl", env: map[string]string{envVarTURNRESTSharedSecret: "s", envVarTURNRESTTTLSeconds: "0"}},
		{name: "turn without creds", env: map[string]string{envTurnURLs: "turn:turn.example:3478"}},
	}
	for _, tc := range cases {
		if _, err := load(lookupMap(tc.env), tc.args); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestLoad_Help(t *testing.T) {
	_, err := load(noEnv, []string{"-h"})
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("err=%v, want flag.ErrHelp", err)
	}
}

func TestLoad_PingAndIdleMayBeDisabled(t *testing.T) {
	cfg, err := load(noEnv, []string{"--signaling-ws-ping-interval", "0", "--signaling-ws-idle-timeout", "0"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SignalingWSPingInterval != 0 || cfg.SignalingWSIdleTimeout != 0 {
		t.Fatalf("ping=%v idle=%v, want both 0", cfg.SignalingWSPingInterval, cfg.SignalingWSIdleTimeout)
	}
}

func TestTURNRESTAllowsTURNWithoutStaticCreds(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarTURNRESTSharedSecret: "secret",
		envStunURLs:                "stun:stun.example:3478",
		envTurnURLs:                "turn:turn.example:3478?transport=udp",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.TURNREST.Enabled() {
		t.Fatalf("TURN REST not enabled")
	}
	if cfg.TURNREST.TTLSeconds != DefaultTURNRESTTTLSeconds || cfg.TURNREST.UsernamePrefix != DefaultTURNRESTUsernamePrefix {
		t.Fatalf("TURNREST=%+v, want defaults", cfg.TURNREST)
	}
	if len(cfg.ICEServers) != 2 {
		t.Fatalf("ICEServers=%d, want 2", len(cfg.ICEServers))
	}
}

func TestParseAllowedOrigins_NormalizesAndValidates(t *testing.T) {
	got, err := parseAllowedOrigins(" HTTPS://Example.com:443 , http://localhost:5173/ ,*")
	if err != nil {
		t.Fatalf("parseAllowedOrigins: %v", err)
	}
	want := []string{"https://example.com", "http://localhost:5173", "*"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("origins=%v, want %v", got, want)
	}

	for _, bad := range []string{"null", "https://example.com/path", "https://user@example.com"} {
		if _, err := parseAllowedOrigins(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestOriginPolicy(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envVarAllowedOrigins: "*"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.OriginPolicy().AllowsAny() {
		t.Fatalf("wildcard ALLOWED_ORIGINS did not produce an allow-any policy")
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		if _, err := NewLogger(Config{LogFormat: format}); err != nil {
			t.Fatalf("NewLogger(%s): %v", format, err)
		}
	}
	if _, err := NewLogger(Config{LogFormat: "xml"}); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
