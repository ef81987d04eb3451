package main

import (
	"log/slog"
	"slices"

	"github.com/wilsonzlin/aero/proxy/webrtc-matchmaker/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxConnections <= 0 {
		logger.Warn("startup security warning: MAX_CONNECTIONS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_connections_unlimited_in_prod",
			"max_connections", cfg.MaxConnections,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (relayed payloads are buffered per connection)",
			"warning_code", "max_signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.TURNREST.Enabled() && cfg.TURNREST.TTLSeconds > 24*60*60 {
		logger.Warn("startup security warning: TURN_REST_TTL_SECONDS exceeds one day (leaked credentials stay valid longer)",
			"warning_code", "turn_rest_ttl_large",
			"turn_rest_ttl_seconds", cfg.TURNREST.TTLSeconds,
			"mode", cfg.Mode,
		)
	}

	if len(cfg.ICEServers) == 0 {
		logger.Warn("startup warning: no ICE servers configured; peers behind NAT may fail to connect",
			"warning_code", "no_ice_servers",
			"mode", cfg.Mode,
		)
	}
}
