package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/taskwire/pkg/protocol"
)

var (
	// ErrSessionClosed is returned when pushing to a closed session.
	ErrSessionClosed = errors.New("server: session closed")

	// ErrQueueFull is returned when a session's outbound queue is full. The
	// session is dropped.
	ErrQueueFull = errors.New("server: send queue full")
)

// Session is one connected peer.
type Session struct {
	id     uint64
	server *Server
	conn   *websocket.Conn
	codec  protocol.Codec
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	send      chan protocol.Message
	done      chan struct{}
	closeOnce sync.Once
	graceful  bool
}

func newSession(s *Server, conn *websocket.Conn, id uint64) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:     id,
		server: s,
		conn:   conn,
		codec:  s.opts.codec,
		logger: s.logger.With("session", id),
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan protocol.Message, s.opts.sendQueue),
		done:   make(chan struct{}),
	}
}

// ID returns the session id, unique per server.
func (s *Session) ID() uint64 { return s.id }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// Context is cancelled when the session ends.
func (s *Session) Context() context.Context { return s.ctx }

// Push queues a push for this session only.
func (s *Session) Push(event string, status protocol.Status, data any) error {
	p, err := protocol.NewPush(event, status, data)
	if err != nil {
		return err
	}
	if err := s.enqueue(p); err != nil {
		return err
	}
	s.server.metrics.pushesTotal.WithLabelValues(event).Inc()
	return nil
}

// Close ends the session with a normal close frame.
func (s *Session) Close() { s.shutdown(true) }

func (s *Session) drop() { s.shutdown(false) }

func (s *Session) shutdown(graceful bool) {
	s.closeOnce.Do(func() {
		s.graceful = graceful
		s.cancel()
		close(s.done)
		if !graceful {
			_ = s.conn.Close()
		}
		s.server.remove(s)
	})
}

func (s *Session) enqueue(m protocol.Message) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- m:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		s.logger.Warn("send queue full, dropping session")
		s.drop()
		return ErrQueueFull
	}
}

// readLoop decodes inbound frames until the connection fails.
func (s *Session) readLoop() {
	defer s.drop()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseGoingAway,
					websocket.CloseAbnormalClosure,
					websocket.CloseNormalClosure) {
					s.logger.Warn("read error", "error", err)
				}
				s.logger.Info("session closed")
			}
			return
		}

		m, err := s.codec.Decode(data)
		if err != nil {
			s.server.metrics.decodeErrors.Inc()
			s.logger.Warn("frame decode error", "error", err)
			continue
		}

		switch m := m.(type) {
		case *protocol.Ping:
			_ = s.enqueue(protocol.NewPong())
		case *protocol.Request:
			go s.serve(m)
		default:
			s.logger.Debug("ignoring frame", "kind", m.Kind())
		}
	}
}

// writeLoop serializes queued frames onto the connection.
func (s *Session) writeLoop() {
	mt := websocket.TextMessage
	if s.codec.Binary() {
		mt = websocket.BinaryMessage
	}

	for {
		select {
		case m := <-s.send:
			data, err := s.codec.Encode(m)
			if err != nil {
				s.server.metrics.writeErrors.Inc()
				s.logger.Error("encode error", "kind", m.Kind(), "error", err)
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.server.opts.writeTimeout))
			if err := s.conn.WriteMessage(mt, data); err != nil {
				s.server.metrics.writeErrors.Inc()
				s.logger.Warn("write error", "error", err)
				s.drop()
				return
			}

		case <-s.done:
			if s.graceful {
				deadline := time.Now().Add(s.server.opts.writeTimeout)
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
				_ = s.conn.Close()
			}
			return
		}
	}
}

// serve runs the route handler for req and queues the response.
func (s *Session) serve(req *protocol.Request) {
	status, data := s.invoke(req)
	resp, err := protocol.NewResponse(req.Sequence, status, data)
	if err != nil {
		s.logger.Error("response encode error", "route", req.Route, "error", err)
		status = protocol.StatusInternalError
		resp, _ = protocol.NewResponse(req.Sequence, status, err.Error())
	}
	s.server.metrics.request(req.Route, int(status))
	if err := s.enqueue(resp); err != nil {
		s.logger.Debug("response dropped", "route", req.Route, "sequence", req.Sequence, "error", err)
	}
}

func (s *Session) invoke(req *protocol.Request) (status protocol.Status, data any) {
	h := s.server.handler(req.Route)
	if h == nil {
		return protocol.StatusNotFound, "unknown route " + req.Route
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic",
				"route", req.Route,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			status, data = protocol.StatusInternalError, fmt.Sprintf("panic: %v", r)
		}
	}()

	out, err := h(s.ctx, req)
	if err != nil {
		code, msg := statusOf(err)
		return code, msg
	}
	return protocol.StatusOK, out
}
