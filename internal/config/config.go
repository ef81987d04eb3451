package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-matchmaker/internal/origin"
)

const (
	envVarListenAddr      = "AERO_WEBRTC_MATCHMAKER_LISTEN_ADDR"
	envVarLogFormat       = "AERO_WEBRTC_MATCHMAKER_LOG_FORMAT"
	envVarLogLevel        = "AERO_WEBRTC_MATCHMAKER_LOG_LEVEL"
	envVarShutdownTimeout = "AERO_WEBRTC_MATCHMAKER_SHUTDOWN_TIMEOUT"
	envVarMode            = "AERO_WEBRTC_MATCHMAKER_MODE"
	envVarStaticDir       = "AERO_WEBRTC_MATCHMAKER_STATIC_DIR"
	envVarMaxWait         = "AERO_WEBRTC_MATCHMAKER_MAX_WAIT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// Signaling WebSocket hardening.
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSendQueueMessages             = "SEND_QUEUE_MESSAGES"
	envVarMaxConnections                = "MAX_CONNECTIONS"

	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"
)

const (
	DefaultListenAddr = "127.0.0.1:8080"
	DefaultMode       = ModeDev
	DefaultShutdown   = 15 * time.Second

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = 64 * 1024
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultSendQueueMessages             = 64

	DefaultTURNRESTTTLSeconds     = 3600
	DefaultTURNRESTUsernamePrefix = "aero"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	// StaticDir, when set, is served at / (the browser client build).
	StaticDir string

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SendQueueMessages             int

	// MaxConnections caps concurrent signaling connections (0 = unlimited).
	MaxConnections int
	// MaxWait evicts connections that sit in the waiting pool longer than this
	// (0 = wait forever).
	MaxWait time.Duration

	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig
}

// OriginPolicy returns the browser origin policy for HTTP and WebSocket
// requests.
func (c Config) OriginPolicy() *origin.Policy {
	return origin.NewPolicy(c.AllowedOrigins)
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	modeDefault := envOrDefault(lookup, envVarMode, string(DefaultMode))

	envLogFormat := envOrDefault(lookup, envVarLogFormat, "")
	envLogLevel := envOrDefault(lookup, envVarLogLevel, "")

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	staticDir := envOrDefault(lookup, envVarStaticDir, "")
	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")
	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)

	turnRESTTTLSeconds, err := envInt64OrDefault(lookup, envVarTURNRESTTTLSeconds, DefaultTURNRESTTTLSeconds)
	if err != nil {
		return Config{}, err
	}
	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	maxWait, err := envDurationOrDefault(lookup, envVarMaxWait, 0)
	if err != nil {
		return Config{}, err
	}
	signalingWSIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	signalingWSPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	maxSignalingMessageBytes, err := envInt64OrDefault(lookup, envVarMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	sendQueueMessages, err := envIntOrDefault(lookup, envVarSendQueueMessages, DefaultSendQueueMessages)
	if err != nil {
		return Config{}, err
	}
	maxConnections, err := envIntOrDefault(lookup, envVarMaxConnections, 0)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("aero-webrtc-matchmaker", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", envLogFormat, "Log format: text or json (default depends on mode)")
	fs.StringVar(&logLevelStr, "log-level", envLogLevel, "Log level: debug, info, warn, error (default depends on mode)")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.StringVar(&staticDir, "static-dir", staticDir, "Directory of client files served at / (env "+envVarStaticDir+")")
	fs.DurationVar(&maxWait, "max-wait", maxWait, "Evict connections waiting longer than this for a partner (0 = never; env "+envVarMaxWait+")")

	fs.DurationVar(&signalingWSIdleTimeout, "signaling-ws-idle-timeout", signalingWSIdleTimeout, "Close signaling WebSockets idle for this long (0 = never; env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&signalingWSPingInterval, "signaling-ws-ping-interval", signalingWSPingInterval, "Interval between server pings (0 = disabled; env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling message size (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound signaling messages/sec per connection (env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&sendQueueMessages, "send-queue-messages", sendQueueMessages, "Outbound messages buffered per connection before it is dropped (env "+envVarSendQueueMessages+")")
	fs.IntVar(&maxConnections, "max-connections", maxConnections, "Maximum concurrent signaling connections (0 = unlimited)")

	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret ("+envVarTURNRESTSharedSecret+")")
	fs.Int64Var(&turnRESTTTLSeconds, "turn-rest-ttl-seconds", turnRESTTTLSeconds, "TURN REST credential TTL seconds ("+envVarTURNRESTTTLSeconds+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix ("+envVarTURNRESTUsernamePrefix+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(logFormatStr) == "" {
		logFormatStr = defaultLogFormatForMode(mode)
	}
	if strings.TrimSpace(logLevelStr) == "" {
		logLevelStr = defaultLogLevelForMode(mode)
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}

	if strings.TrimSpace(listenAddr) == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0 (got %s)", shutdownTimeout)
	}
	if maxWait < 0 {
		return Config{}, fmt.Errorf("invalid %s/--max-wait %s: must be >= 0", envVarMaxWait, maxWait)
	}
	if signalingWSIdleTimeout < 0 || signalingWSPingInterval < 0 {
		return Config{}, fmt.Errorf("signaling WebSocket idle timeout and ping interval must be >= 0")
	}
	if signalingWSIdleTimeout > 0 && signalingWSPingInterval > 0 && signalingWSPingInterval >= signalingWSIdleTimeout {
		return Config{}, fmt.Errorf("--signaling-ws-ping-interval (%s) must be less than --signaling-ws-idle-timeout (%s)", signalingWSPingInterval, signalingWSIdleTimeout)
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("invalid %s/--max-signaling-message-bytes %d: must be > 0", envVarMaxSignalingMessageBytes, maxSignalingMessageBytes)
	}
	if maxSignalingMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("invalid %s/--max-signaling-messages-per-second %d: must be > 0", envVarMaxSignalingMessagesPerSecond, maxSignalingMessagesPerSecond)
	}
	if sendQueueMessages <= 0 {
		return Config{}, fmt.Errorf("invalid %s/--send-queue-messages %d: must be > 0", envVarSendQueueMessages, sendQueueMessages)
	}
	if maxConnections < 0 {
		return Config{}, fmt.Errorf("invalid %s/--max-connections %d: must be >= 0", envVarMaxConnections, maxConnections)
	}

	turnREST := TurnRESTConfig{
		SharedSecret:   turnRESTSharedSecret,
		TTLSeconds:     turnRESTTTLSeconds,
		UsernamePrefix: turnRESTUsernamePrefix,
	}
	if turnREST.Enabled() {
		if turnREST.TTLSeconds <= 0 {
			return Config{}, fmt.Errorf("invalid %s/--turn-rest-ttl-seconds %d: must be > 0", envVarTURNRESTTTLSeconds, turnREST.TTLSeconds)
		}
		if turnREST.UsernamePrefix == "" || strings.Contains(turnREST.UsernamePrefix, ":") {
			return Config{}, fmt.Errorf("invalid %s/--turn-rest-username-prefix %q: must be non-empty and must not contain ':'", envVarTURNRESTUsernamePrefix, turnREST.UsernamePrefix)
		}
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential, turnREST.Enabled())
	if err != nil {
		return Config{}, err
	}

	return Config{
		ListenAddr:      listenAddr,
		AllowedOrigins:  allowedOrigins,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,
		StaticDir:       strings.TrimSpace(staticDir),

		SignalingWSIdleTimeout:        signalingWSIdleTimeout,
		SignalingWSPingInterval:       signalingWSPingInterval,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,
		SendQueueMessages:             sendQueueMessages,
		MaxConnections:                maxConnections,
		MaxWait:                       maxWait,

		ICEServers: iceServers,
		TURNREST:   turnREST,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envInt64OrDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevelForMode(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	var out []string
	for _, entry := range splitCommaSeparated(raw) {
		if entry == "*" {
			out = append(out, entry)
			continue
		}
		normalized, _, ok := origin.NormalizeHeader(entry)
		if !ok || normalized == "null" {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}
