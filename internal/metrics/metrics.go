// Package metrics exposes Prometheus collectors for the bridge daemon:
// request counts by method and error code, budget-denied counts, relay
// connection gauges, and notification counts. Everything is registered
// against a dedicated registry rather than the global DefaultRegisterer
// so a daemon can run multiple instances (tests, multi-node dev setups)
// in the same process without collector-already-registered panics.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the daemon records against. All
// fields are safe for concurrent use, being prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	BudgetDeniedTotal  *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	RelayConnected     *prometheus.GaugeVec
	RelayReconnects    *prometheus.CounterVec
}

// New builds a fresh registry with the standard process/Go collectors
// plus the bridge's own, mirroring how the rest of the corpus wires
// promauto against a non-default registry instead of the package-level
// global.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nip47_requests_total",
			Help: "Total NIP-47 requests handled, by method and result code.",
		}, []string{"method", "code"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nip47_request_duration_seconds",
			Help:    "Time spent handling a NIP-47 request, by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),

		BudgetDeniedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nip47_budget_denied_total",
			Help: "Requests rejected for insufficient budget, by connection.",
		}, []string{"connection"}),

		NotificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nip47_notifications_total",
			Help: "Notification events published, by notification_type.",
		}, []string{"notification_type"}),

		RelayConnected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nip47_relay_connected",
			Help: "Whether the pool currently holds a live connection to a relay (1) or not (0).",
		}, []string{"relay"}),

		RelayReconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nip47_relay_reconnects_total",
			Help: "Relay reconnect attempts, by relay URL.",
		}, []string{"relay"}),
	}

	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// ObserveRequest records one dispatched request's outcome and latency.
func (m *Metrics) ObserveRequest(method, code string, seconds float64) {
	m.RequestsTotal.WithLabelValues(method, code).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(seconds)
}

// ObserveBudgetDenied records one request rejected by the ledger.
func (m *Metrics) ObserveBudgetDenied(connection string) {
	m.BudgetDeniedTotal.WithLabelValues(connection).Inc()
}

// ObserveNotification records one published notification event.
func (m *Metrics) ObserveNotification(notificationType string) {
	m.NotificationsTotal.WithLabelValues(notificationType).Inc()
}

// ConnectedGauge adapts to relaypool.WithConnectedGauge's callback shape.
func (m *Metrics) ConnectedGauge(relayURL string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	m.RelayConnected.WithLabelValues(relayURL).Set(v)
}

// ReconnectCounter adapts to relaypool.WithReconnectCounter's callback shape.
func (m *Metrics) ReconnectCounter(relayURL string) {
	m.RelayReconnects.WithLabelValues(relayURL).Inc()
}

// Server serves the registry's metrics over HTTP, matching the
// nip47-metrics-addr plugin option: when addr is empty, serving is
// skipped entirely and Run returns nil immediately.
type Server struct {
	addr   string
	server *http.Server
}

// NewServer builds an HTTP server exposing m at /metrics on addr. A
// blank addr means metrics serving is disabled.
func NewServer(addr string, m *Metrics) *Server {
	if addr == "" {
		return &Server{}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return &Server{addr: addr, server: &http.Server{Addr: addr, Handler: mux}}
}

// Run blocks serving metrics until ctx is canceled, or returns
// immediately if the server was disabled.
func (s *Server) Run(ctx context.Context) error {
	if s.server == nil {
		<-ctx.Done()
		return nil
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.server.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
