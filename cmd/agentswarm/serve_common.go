package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shurlinet/agentswarm/internal/config"
	"github.com/shurlinet/agentswarm/pkg/agent"
	"github.com/shurlinet/agentswarm/pkg/overlay"
)

// loggingHandler logs every inbound message at info level. It stands in
// for an embedder's application-level MessageHandler in the standalone
// CLI, where there is no wired-in application to hand messages to.
func loggingHandler(agentName string) agent.MessageHandlerFunc {
	return func(_ context.Context, senderID peer.ID, data []byte, timeMs int64) {
		slog.Info("agentswarm: message received", "agent", agentName, "from", senderID, "bytes", len(data), "time_ms", timeMs)
	}
}

// blockingProcessor runs until ctx is cancelled. The standalone CLI has no
// application task of its own; its agents exist purely to relay messages
// between embedders, so "the work" is just staying up.
func blockingProcessor() agent.ProcessorFunc {
	return func(ctx context.Context, _ []byte) {
		<-ctx.Done()
	}
}

// discoveryOptions adapts a loaded DiscoveryConfig into the overlay's
// peer-construction options, resolving MDNSEnabled's nil-default-true rule.
func discoveryOptions(cfg config.DiscoveryConfig) overlay.DiscoveryOptions {
	return overlay.DiscoveryOptions{
		Network:     cfg.Network,
		MDNSEnabled: cfg.IsMDNSEnabled(),
	}
}

// serveMetrics starts a background HTTP server exposing reg on /metrics if
// telemetry.metrics.enabled is set, returning a shutdown func (no-op if
// disabled).
func serveMetrics(cfg config.TelemetryConfig, reg *overlay.Metrics) func() {
	if !cfg.Metrics.Enabled {
		return func() {}
	}
	addr := cfg.Metrics.ListenAddress
	if addr == "" {
		addr = "127.0.0.1:9091"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("agentswarm: metrics server exited", "error", err)
		}
	}()
	slog.Info("agentswarm: metrics endpoint listening", "address", addr)

	return func() {
		_ = srv.Close()
	}
}
