package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/taskwire/pkg/protocol"
)

// Server accepts websocket sessions and routes their requests.
type Server struct {
	opts     options
	logger   *slog.Logger
	metrics  *metrics
	upgrader websocket.Upgrader
	router   chi.Router

	accepting atomic.Bool
	nextID    atomic.Uint64

	mu        sync.RWMutex
	handlers  map[string]HandlerFunc
	sessions  map[*Session]struct{}
	onConnect []func(*Session)
}

// New returns a server that accepts connections.
func New(opts ...Option) *Server {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	o.finish()

	s := &Server{
		opts:    o,
		logger:  o.logger.With("component", "taskwire.server"),
		metrics: newMetrics(o.registry, o.namespace),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     o.checkOrigin,
		},
		handlers: make(map[string]HandlerFunc),
		sessions: make(map[*Session]struct{}),
	}
	s.accepting.Store(true)
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(s.opts.path, s.HandleWebSocket)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.registry, promhttp.HandlerOpts{}))
	return r
}

// Handle registers h for route, replacing any earlier handler.
func (s *Server) Handle(route string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[route] = h
}

// OnConnect registers fn to run for every new session after it starts.
func (s *Server) OnConnect(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = append(s.onConnect, fn)
}

func (s *Server) handler(route string) HandlerFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers[route]
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetAccepting controls whether new upgrades are accepted. Refused upgrades
// get 503.
func (s *Server) SetAccepting(ok bool) {
	s.accepting.Store(ok)
	s.logger.Info("accepting changed", "accepting", ok)
}

// Accepting reports whether new upgrades are accepted.
func (s *Server) Accepting() bool { return s.accepting.Load() }

// Sessions returns the number of live sessions.
func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Server) snapshot() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// HandleWebSocket upgrades the request and runs the session until it ends.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.accepting.Load() {
		s.metrics.rejected.Inc()
		http.Error(w, "not accepting connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(protocol.MaxFrameSize)

	sess := newSession(s, conn, s.nextID.Add(1))
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	hooks := slices.Clone(s.onConnect)
	s.mu.Unlock()

	s.metrics.accepted.Inc()
	s.metrics.sessions.Inc()
	sess.logger.Info("session opened", "remote", sess.RemoteAddr())

	go sess.writeLoop()
	for _, fn := range hooks {
		fn(sess)
	}
	sess.readLoop()
}

func (s *Server) remove(sess *Session) {
	s.mu.Lock()
	_, ok := s.sessions[sess]
	delete(s.sessions, sess)
	s.mu.Unlock()
	if ok {
		s.metrics.sessions.Dec()
	}
}

// Broadcast queues a push to every live session and returns how many
// accepted it.
func (s *Server) Broadcast(event string, status protocol.Status, data any) (int, error) {
	p, err := protocol.NewPush(event, status, data)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sess := range s.snapshot() {
		if sess.enqueue(p) == nil {
			n++
		}
	}
	s.metrics.pushesTotal.WithLabelValues(event).Add(float64(n))
	return n, nil
}

// DropConnections closes every live session without a close handshake and
// returns how many were dropped.
func (s *Server) DropConnections() int {
	sessions := s.snapshot()
	for _, sess := range sessions {
		sess.drop()
	}
	if len(sessions) > 0 {
		s.logger.Info("dropped connections", "count", len(sessions))
	}
	return len(sessions)
}

// CloseSessions closes every live session with a normal close frame.
func (s *Server) CloseSessions() {
	for _, sess := range s.snapshot() {
		sess.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"sessions":  s.Sessions(),
		"accepting": s.Accepting(),
		"codec":     s.opts.codec.Name(),
	})
}

// Run serves on ln until ctx is cancelled, then closes sessions and shuts
// the HTTP server down.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", ln.Addr().String(), "codec", s.opts.codec.Name())
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	s.SetAccepting(false)
	s.CloseSessions()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}
	s.logger.Info("server shutdown complete")
	return nil
}
