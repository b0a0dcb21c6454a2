package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestObserveRequestIncrementsCounterAndHistogram(t *testing.T) {
	m := New()
	m.ObserveRequest("get_info", "ok", 0.01)
	m.ObserveRequest("pay_invoice", "insufficient_balance", 0.02)

	require.Equal(t, float64(1), testCounterValue(t, m.RequestsTotal.WithLabelValues("get_info", "ok")))
	require.Equal(t, float64(1), testCounterValue(t, m.RequestsTotal.WithLabelValues("pay_invoice", "insufficient_balance")))
}

func TestObserveBudgetDeniedAndNotification(t *testing.T) {
	m := New()
	m.ObserveBudgetDenied("alice")
	m.ObserveBudgetDenied("alice")
	m.ObserveNotification("payment_received")

	require.Equal(t, float64(2), testCounterValue(t, m.BudgetDeniedTotal.WithLabelValues("alice")))
	require.Equal(t, float64(1), testCounterValue(t, m.NotificationsTotal.WithLabelValues("payment_received")))
}

func TestConnectedGaugeReflectsRelayState(t *testing.T) {
	m := New()
	m.ConnectedGauge("wss://relay.example", true)
	require.Equal(t, float64(1), testGaugeValue(t, m.RelayConnected.WithLabelValues("wss://relay.example")))

	m.ConnectedGauge("wss://relay.example", false)
	require.Equal(t, float64(0), testGaugeValue(t, m.RelayConnected.WithLabelValues("wss://relay.example")))
}

func TestReconnectCounterIncrements(t *testing.T) {
	m := New()
	m.ReconnectCounter("wss://relay.example")
	m.ReconnectCounter("wss://relay.example")
	require.Equal(t, float64(2), testCounterValue(t, m.RelayReconnects.WithLabelValues("wss://relay.example")))
}

func TestServerDisabledWhenAddrEmptyReturnsOnCancel(t *testing.T) {
	s := NewServer("", New())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))
}

func TestServerServesMetricsEndpoint(t *testing.T) {
	m := New()
	m.ObserveNotification("payment_sent")

	s := NewServer("127.0.0.1:19947", m)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get("http://127.0.0.1:19947/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "nip47_notifications_total")

	cancel()
	require.NoError(t, <-done)
}

func testCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, c.Write(&metric))
	return metric.GetCounter().GetValue()
}

func testGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, g.Write(&metric))
	return metric.GetGauge().GetValue()
}
