package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-onewire/internal/bridges/onewire"
	"github.com/nerrad567/gray-logic-onewire/internal/infrastructure/logging"
)

const (
	metricsReadHeaderTimeout = 5 * time.Second
	metricsShutdownTimeout   = 5 * time.Second
)

// healthSource reports the bridge health for the /health endpoint.
type healthSource interface {
	Health() onewire.HealthMessage
}

// newMetricsRegistry registers the runtime collector and build info.
func newMetricsRegistry(metrics *onewire.Metrics) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics)
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "owbridge_build_info",
		Help:        "Build information",
		ConstLabels: prometheus.Labels{"version": version, "commit": commit},
	}, func() float64 { return 1 }))
	return reg
}

func newMetricsServer(addr string, reg *prometheus.Registry, health healthSource) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", healthHandler(health))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}
}

// healthHandler serves the current health message, with 503 unless healthy.
func healthHandler(health healthSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		msg := health.Health()

		w.Header().Set("Content-Type", "application/json")
		if msg.Status != onewire.HealthHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(msg) //nolint:errcheck // Client went away
	}
}

func serveMetrics(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func shutdownMetrics(srv *http.Server, log *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()

	log.Info("stopping metrics server")
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("error stopping metrics server", "error", err)
	}
}
