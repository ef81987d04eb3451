package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/webrtc-matchmaker/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-matchmaker/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-matchmaker/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-matchmaker/internal/pairing"
	"github.com/wilsonzlin/aero/proxy/webrtc-matchmaker/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting aero-webrtc-matchmaker",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"max_connections", cfg.MaxConnections,
		"max_wait", cfg.MaxWait,
		"ice_servers", len(cfg.ICEServers),
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
		"static_dir_set", cfg.StaticDir != "",
	)

	logStartupSecurityWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)

	lifecycle := pairing.NewLifecycle(pairing.Config{
		Logger:         logger,
		MaxConnections: cfg.MaxConnections,
		MaxWait:        cfg.MaxWait,
	})
	defer lifecycle.Shutdown()

	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})
	sig := signaling.NewServer(signaling.Config{
		Lifecycle: lifecycle,
		Logger:    logger,
		Origins:   cfg.OriginPolicy(),

		MaxSignalingMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SendQueueMessages:             cfg.SendQueueMessages,
		SignalingWSPingInterval:       cfg.SignalingWSPingInterval,
		SignalingWSIdleTimeout:        cfg.SignalingWSIdleTimeout,
	})
	sig.RegisterRoutes(srv.Mux())

	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(lifecycle.Metrics(), lifecycle.Gauges))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		sig.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			lifecycle.Shutdown()
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSockets are not tracked by http.Server.Shutdown, so close
	// them first; each teardown still notifies its partner.
	sig.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		lifecycle.Shutdown()
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// ldflags values win; otherwise fall back to VCS stamps from the Go build
	// info (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
