// Package observability exposes pipeline metrics over Prometheus and
// a minimal health endpoint.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	EventsTotal       prometheus.Counter
	EventsDropped     prometheus.Counter
	Classifications   *prometheus.CounterVec
	PublishErrors     *prometheus.CounterVec
	ClassifierLatency prometheus.Histogram
}

// NewMetrics creates and registers the collectors on the default
// registerer.
func NewMetrics() *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yaic_events_total",
			Help: "Inbound image events accepted for processing.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yaic_events_dropped_total",
			Help: "Inbound events dropped before processing (queue full, source cap, malformed payload).",
		}),
		Classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yaic_classifications_total",
			Help: "Completed classification attempts by outcome.",
		}, []string{"outcome"}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yaic_publish_errors_total",
			Help: "Failed publishes by output target.",
		}, []string{"target"}),
		ClassifierLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "yaic_classifier_latency_seconds",
			Help:    "Remote classifier round-trip latency including retries.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}

	prometheus.MustRegister(
		m.EventsTotal,
		m.EventsDropped,
		m.Classifications,
		m.PublishErrors,
		m.ClassifierLatency,
	)

	return m
}

// Server serves /metrics and /healthz.
type Server struct {
	srv *http.Server
}

// NewServer builds the HTTP server on the given port.
func NewServer(port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
