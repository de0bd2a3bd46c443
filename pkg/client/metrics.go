package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures client metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "taskwire").
	Namespace string

	// Subsystem is the metrics subsystem (default: "client").
	Subsystem string

	// ConstLabels are added to every metric.
	ConstLabels prometheus.Labels

	// Buckets are the request duration histogram buckets.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry defaults to prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// MetricsOption configures NewMetrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "taskwire",
		Subsystem: "client",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics records client activity. A nil *Metrics records nothing, so
// clients built without WithMetrics pay no cost.
type Metrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	pendingRequests   prometheus.Gauge
	reconnectAttempts *prometheus.CounterVec
	pushesTotal       *prometheus.CounterVec
	decodeErrors      prometheus.Counter
	connectionState   prometheus.Gauge
}

// NewMetrics registers the client metrics. Registering twice against the
// same registry panics, as with any promauto collector.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "requests_total",
			Help:        "Requests completed, by route and outcome status",
			ConstLabels: config.ConstLabels,
		}, []string{"route", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "request_duration_seconds",
			Help:        "Time from send to response, timeout or failure",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"route"}),

		pendingRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "pending_requests",
			Help:        "Requests awaiting a response",
			ConstLabels: config.ConstLabels,
		}),

		reconnectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "reconnect_attempts_total",
			Help:        "Reconnect dials, by result",
			ConstLabels: config.ConstLabels,
		}, []string{"result"}),

		pushesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "pushes_total",
			Help:        "Server pushes received, by event",
			ConstLabels: config.ConstLabels,
		}, []string{"event"}),

		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "decode_errors_total",
			Help:        "Inbound frames dropped because they could not be decoded",
			ConstLabels: config.ConstLabels,
		}),

		connectionState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connection_state",
			Help:        "Current client state (0 init .. 5 closed)",
			ConstLabels: config.ConstLabels,
		}),
	}
}

func (m *Metrics) observeRequest(route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, status).Inc()
	m.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pendingRequests.Set(float64(n))
}

func (m *Metrics) reconnectAttempt(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.reconnectAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) push(event string) {
	if m == nil {
		return
	}
	m.pushesTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) decodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(s))
}
