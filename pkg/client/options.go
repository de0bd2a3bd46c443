package client

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/taskwire/internal/clock"
	"github.com/vango-dev/taskwire/pkg/protocol"
)

const (
	// DefaultRequestTimeout bounds every request.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultHeartbeat is the interval between client pings.
	DefaultHeartbeat = 55 * time.Second

	// DefaultDialTimeout bounds a single dial.
	DefaultDialTimeout = 10 * time.Second

	tracerName = "github.com/vango-dev/taskwire/pkg/client"
)

type options struct {
	logger      *slog.Logger
	clock       clock.Clock
	codec       protocol.Codec
	dialer      Dialer
	timeout     time.Duration
	reconnect   ReconnectPolicy
	heartbeat   time.Duration
	dialTimeout time.Duration
	metrics     *Metrics
	tracer      trace.Tracer
	ids         IDGenerator
}

func defaultOptions() options {
	return options{
		clock:       clock.Real(),
		codec:       protocol.Default,
		timeout:     DefaultRequestTimeout,
		reconnect:   DefaultReconnectPolicy(),
		heartbeat:   DefaultHeartbeat,
		dialTimeout: DefaultDialTimeout,
		ids:         UUIDGenerator{},
	}
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger. Default: slog.Default() tagged with
// component=taskwire.client.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock replaces the time source used for deadlines, reconnect
// spacing and heartbeats.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithCodec selects the wire codec. Default: protocol.JSONCodec.
func WithCodec(codec protocol.Codec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// WithDialer replaces the transport dialer. Default: a WebsocketDialer.
func WithDialer(d Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// WithRequestTimeout sets the per-request deadline. Non-positive values
// are ignored.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithReconnectPolicy sets the reconnect budget. Attempts of zero closes
// the client on the first unexpected disconnect.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(o *options) {
		if p.Attempts < 0 {
			p.Attempts = 0
		}
		if p.Interval < 0 {
			p.Interval = 0
		}
		o.reconnect = p
	}
}

// WithHeartbeat sets the ping interval. Zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) {
		if d < 0 {
			d = 0
		}
		o.heartbeat = d
	}
}

// WithDialTimeout bounds each dial. Zero leaves dials bounded only by the
// caller's context.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = d
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTracer sets the tracer for request spans. Default: the global
// OpenTelemetry provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// WithIDGenerator replaces the correlation id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) {
		o.ids = g
	}
}

func (o *options) finish() {
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "taskwire.client")
	if o.codec == nil {
		o.codec = protocol.Default
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}
	if o.dialer == nil {
		o.dialer = &WebsocketDialer{ReadLimit: protocol.MaxFrameSize}
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	if o.ids == nil {
		o.ids = UUIDGenerator{}
	}
}
