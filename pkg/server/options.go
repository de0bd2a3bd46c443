package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/taskwire/pkg/protocol"
)

const (
	// DefaultPath is where the websocket endpoint is mounted.
	DefaultPath = "/ws"

	// DefaultWriteTimeout bounds each frame write.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultSendQueue is the per-session outbound buffer. A session whose
	// queue fills up is dropped.
	DefaultSendQueue = 256

	// DefaultShutdownTimeout bounds Run's graceful shutdown.
	DefaultShutdownTimeout = 5 * time.Second
)

type options struct {
	logger       *slog.Logger
	codec        protocol.Codec
	registry     *prometheus.Registry
	namespace    string
	path         string
	writeTimeout time.Duration
	sendQueue    int
	checkOrigin  func(*http.Request) bool
}

// Option configures a Server.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCodec sets the wire codec every session uses.
func WithCodec(codec protocol.Codec) Option {
	return func(o *options) {
		if codec != nil {
			o.codec = codec
		}
	}
}

// WithRegistry registers server metrics on reg and serves reg at /metrics.
// Without it each Server gets a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithNamespace sets the metrics namespace (default "taskwire").
func WithNamespace(ns string) Option {
	return func(o *options) { o.namespace = ns }
}

// WithPath mounts the websocket endpoint somewhere other than /ws.
func WithPath(path string) Option {
	return func(o *options) { o.path = path }
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithSendQueue sets the per-session outbound buffer size.
func WithSendQueue(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.sendQueue = n
		}
	}
}

// WithCheckOrigin overrides the upgrader origin check. The default accepts
// every origin.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(o *options) { o.checkOrigin = fn }
}

func (o *options) finish() {
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.codec == nil {
		o.codec = protocol.Default
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}
	if o.namespace == "" {
		o.namespace = "taskwire"
	}
	if o.path == "" {
		o.path = DefaultPath
	}
	if o.writeTimeout == 0 {
		o.writeTimeout = DefaultWriteTimeout
	}
	if o.sendQueue == 0 {
		o.sendQueue = DefaultSendQueue
	}
	if o.checkOrigin == nil {
		o.checkOrigin = func(*http.Request) bool { return true }
	}
}
