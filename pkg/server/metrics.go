package server

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	sessions      prometheus.Gauge
	accepted      prometheus.Counter
	rejected      prometheus.Counter
	requestsTotal *prometheus.CounterVec
	pushesTotal   *prometheus.CounterVec
	decodeErrors  prometheus.Counter
	writeErrors   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, namespace string) *metrics {
	factory := promauto.With(reg)
	const subsystem = "server"
	return &metrics{
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Currently connected sessions.",
		}),
		accepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_accepted_total",
			Help:      "Websocket upgrades accepted.",
		}),
		rejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions_rejected_total",
			Help:      "Websocket upgrades refused while not accepting.",
		}),
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Requests answered, by route and status.",
		}, []string{"route", "status"}),
		pushesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pushes_total",
			Help:      "Pushes queued to sessions, by event.",
		}, []string{"event"}),
		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "decode_errors_total",
			Help:      "Inbound frames that failed to decode.",
		}),
		writeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "write_errors_total",
			Help:      "Outbound frames that failed to encode or write.",
		}),
	}
}

func (m *metrics) request(route string, status int) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
