package monitor

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the assistant's Prometheus collectors on a private registry.
// Every method is safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	quotes            *prometheus.CounterVec
	connectionState   prometheus.Gauge
	reconnects        prometheus.Counter
	heartbeatFailures prometheus.Counter
	tradeAttempts     *prometheus.CounterVec
	droppedEvents     *prometheus.GaugeVec

	OrderLatency *LatencyHistogram
	CloseLatency *LatencyHistogram
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		quotes: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "assistant_quotes_total", Help: "Quotes received from the host"},
			[]string{"symbol"},
		),
		connectionState: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "assistant_connection_state", Help: "Connection state ordinal"},
		),
		reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "assistant_reconnects_total", Help: "Scheduled reconnect attempts"},
		),
		heartbeatFailures: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "assistant_heartbeat_failures_total", Help: "Failed heartbeat pings"},
		),
		tradeAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "assistant_trade_attempts_total", Help: "Trade attempts by action and outcome"},
			[]string{"action", "outcome"},
		),
		droppedEvents: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "assistant_dropped_events", Help: "Events dropped for slow subscribers"},
			[]string{"topic"},
		),
		OrderLatency: NewLatencyHistogram(1000),
		CloseLatency: NewLatencyHistogram(1000),
	}
	m.registry.MustRegister(
		m.quotes,
		m.connectionState,
		m.reconnects,
		m.heartbeatFailures,
		m.tradeAttempts,
		m.droppedEvents,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the gatherer for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) QuoteReceived(symbol string) {
	if m == nil {
		return
	}
	m.quotes.WithLabelValues(symbol).Inc()
}

func (m *Metrics) SetConnectionState(ordinal int) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(ordinal))
}

func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) HeartbeatFailed() {
	if m == nil {
		return
	}
	m.heartbeatFailures.Inc()
}

// TradeAttempt counts a finished trade attempt; outcome is success, failed,
// rejected or cancelled.
func (m *Metrics) TradeAttempt(action, outcome string) {
	if m == nil {
		return
	}
	m.tradeAttempts.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) SetDropped(topic string, n uint64) {
	if m == nil {
		return
	}
	m.droppedEvents.WithLabelValues(topic).Set(float64(n))
}

func (m *Metrics) RecordOrderLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.OrderLatency.RecordDuration(d)
}

func (m *Metrics) RecordCloseLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.CloseLatency.RecordDuration(d)
}

// MetricsSnapshot is the runtime section of the system status.
type MetricsSnapshot struct {
	OrderLatency   LatencyStats `json:"order_latency"`
	CloseLatency   LatencyStats `json:"close_latency"`
	GoroutineCount int          `json:"goroutine_count"`
	HeapAlloc      uint64       `json:"heap_alloc_bytes"`
	Timestamp      time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	snap := MetricsSnapshot{
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      memStats.HeapAlloc,
		Timestamp:      time.Now(),
	}
	if m != nil {
		snap.OrderLatency = m.OrderLatency.Stats()
		snap.CloseLatency = m.CloseLatency.Stats()
	}
	return snap
}
