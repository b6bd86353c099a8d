package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Message directions
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// MetricsConfig configures the metrics collectors
type MetricsConfig struct {
	// Service identification
	ServiceName    string
	ServiceVersion string

	// Prometheus configuration
	Namespace        string    // Prometheus namespace (default: mcp)
	Subsystem        string    // Prometheus subsystem
	HistogramBuckets []float64 // Custom histogram buckets for latency in milliseconds

	// Registerer receives the collectors. A private registry is created when
	// nil so several engines can live in one process.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	// Address of the optional metrics endpoint started by Start
	Addr        string
	MetricsPath string

	// Labels to add to all metrics
	ConstLabels prometheus.Labels
}

// Metrics holds the engine's Prometheus collectors. All methods are safe on a
// nil receiver, which disables collection.
type Metrics struct {
	config MetricsConfig
	server *http.Server

	messagesTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	rateLimitedTotal   *prometheus.CounterVec
	activeSessions     prometheus.Gauge
	sseEventsTotal     prometheus.Counter
	sseReplayedTotal   prometheus.Counter
	protocolViolations *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	if config.Namespace == "" {
		config.Namespace = "mcp"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.HistogramBuckets == nil {
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}
	}
	if config.Registerer == nil {
		reg := prometheus.NewRegistry()
		config.Registerer = reg
		config.Gatherer = reg
	}
	if config.Gatherer == nil {
		if g, ok := config.Registerer.(prometheus.Gatherer); ok {
			config.Gatherer = g
		} else {
			config.Gatherer = prometheus.DefaultGatherer
		}
	}
	if config.ConstLabels == nil {
		config.ConstLabels = prometheus.Labels{}
	}
	if config.ServiceName != "" {
		config.ConstLabels["service"] = config.ServiceName
	}
	if config.ServiceVersion != "" {
		config.ConstLabels["version"] = config.ServiceVersion
	}

	m := &Metrics{config: config}
	m.initializeMetrics()
	if err := m.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return m, nil
}

// initializeMetrics creates all metric collectors
func (m *Metrics) initializeMetrics() {
	m.messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   m.config.Subsystem,
			Name:        "messages_total",
			Help:        "Total number of JSON-RPC messages by direction and kind",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"direction", "kind"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   m.config.Subsystem,
			Name:        "request_duration_milliseconds",
			Help:        "Duration of MCP requests in milliseconds",
			Buckets:     m.config.HistogramBuckets,
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"direction", "method", "outcome"},
	)

	m.rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   m.config.Subsystem,
			Name:        "rate_limited_total",
			Help:        "Total number of events rejected by the rate limiter",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"category"},
	)

	m.activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   m.config.Subsystem,
			Name:        "active_sessions",
			Help:        "Number of live connections and HTTP sessions",
			ConstLabels: m.config.ConstLabels,
		},
	)

	m.sseEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   m.config.Subsystem,
			Name:        "sse_events_total",
			Help:        "Total number of server-sent events appended to session history",
			ConstLabels: m.config.ConstLabels,
		},
	)

	m.sseReplayedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   m.config.Subsystem,
			Name:        "sse_replayed_total",
			Help:        "Total number of events replayed after a Last-Event-ID reconnect",
			ConstLabels: m.config.ConstLabels,
		},
	)

	m.protocolViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.config.Namespace,
			Subsystem:   m.config.Subsystem,
			Name:        "protocol_violations_total",
			Help:        "Total number of dropped or rejected malformed messages",
			ConstLabels: m.config.ConstLabels,
		},
		[]string{"reason"},
	)
}

// registerMetrics registers all metrics with the configured registerer
func (m *Metrics) registerMetrics() error {
	collectors := []prometheus.Collector{
		m.messagesTotal,
		m.requestDuration,
		m.rateLimitedTotal,
		m.activeSessions,
		m.sseEventsTotal,
		m.sseReplayedTotal,
		m.protocolViolations,
	}
	for _, c := range collectors {
		if err := m.config.Registerer.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordMessage counts one message.
func (m *Metrics) RecordMessage(direction, kind string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(direction, kind).Inc()
}

// RecordRequest observes a finished request. outcome is "ok" or an error
// kind.
func (m *Metrics) RecordRequest(direction, method, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(direction, method, outcome).Observe(float64(duration.Milliseconds()))
}

// RecordRateLimited counts one rejected event.
func (m *Metrics) RecordRateLimited(category string) {
	if m == nil {
		return
	}
	m.rateLimitedTotal.WithLabelValues(category).Inc()
}

// RecordSessionDelta adjusts the active sessions gauge.
func (m *Metrics) RecordSessionDelta(delta int) {
	if m == nil {
		return
	}
	m.activeSessions.Add(float64(delta))
}

// RecordSSEEvent counts one event appended to a session stream.
func (m *Metrics) RecordSSEEvent() {
	if m == nil {
		return
	}
	m.sseEventsTotal.Inc()
}

// RecordSSEReplay counts events resent after a reconnect.
func (m *Metrics) RecordSSEReplay(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sseReplayedTotal.Add(float64(n))
}

// RecordProtocolViolation counts one malformed or illegal message.
func (m *Metrics) RecordProtocolViolation(reason string) {
	if m == nil {
		return
	}
	m.protocolViolations.WithLabelValues(reason).Inc()
}

// Handler exposes the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.config.Gatherer, promhttp.HandlerOpts{})
}

// Start serves the metrics endpoint on config.Addr in the background.
func (m *Metrics) Start(ctx context.Context) error {
	if m == nil || m.config.Addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(m.config.MetricsPath, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		_ = m.server.ListenAndServe()
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics server
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
