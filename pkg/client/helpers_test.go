package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/taskwire/internal/clock"
	"github.com/vango-dev/taskwire/pkg/protocol"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

var errPipeClosed = errors.New("pipe closed")

type memFrame struct {
	mt   int
	data []byte
}

// memConn is one end of an in-memory transport.
type memConn struct {
	in     chan memFrame
	peer   *memConn
	closed chan struct{}
	once   sync.Once
}

func memPipe() (*memConn, *memConn) {
	a := &memConn{in: make(chan memFrame, 64), closed: make(chan struct{})}
	b := &memConn{in: make(chan memFrame, 64), closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (c *memConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.in:
		return f.mt, f.data, nil
	case <-c.closed:
		return 0, nil, errPipeClosed
	case <-c.peer.closed:
		return 0, nil, errPipeClosed
	}
}

func (c *memConn) WriteMessage(mt int, data []byte) error {
	if mt == websocket.CloseMessage {
		return nil
	}
	select {
	case <-c.closed:
		return errPipeClosed
	case <-c.peer.closed:
		return errPipeClosed
	default:
	}
	select {
	case c.peer.in <- memFrame{mt: mt, data: append([]byte(nil), data...)}:
		return nil
	case <-c.closed:
		return errPipeClosed
	case <-c.peer.closed:
		return errPipeClosed
	}
}

func (c *memConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakePeer plays the server side of memPipe connections.
type fakePeer struct {
	t     *testing.T
	codec protocol.Codec
	conns chan *memConn
	fails atomic.Int32 // number of upcoming dials to fail
	down  atomic.Bool  // fail every dial while set
	dials atomic.Int32
}

func newFakePeer(t *testing.T) *fakePeer {
	return &fakePeer{t: t, codec: protocol.JSONCodec{}, conns: make(chan *memConn, 16)}
}

func (p *fakePeer) Dial(ctx context.Context, url string) (Conn, error) {
	p.dials.Add(1)
	if p.down.Load() {
		return nil, errors.New("connection refused")
	}
	if p.fails.Load() > 0 {
		p.fails.Add(-1)
		return nil, errors.New("connection refused")
	}
	client, server := memPipe()
	p.conns <- server
	return client, nil
}

// accept returns the server end of the next dialed connection.
func (p *fakePeer) accept() *serverEnd {
	p.t.Helper()
	select {
	case c := <-p.conns:
		return &serverEnd{t: p.t, conn: c, codec: p.codec}
	case <-time.After(2 * time.Second):
		p.t.Fatal("no connection dialed")
		return nil
	}
}

type serverEnd struct {
	t     *testing.T
	conn  *memConn
	codec protocol.Codec
}

func (s *serverEnd) recv() protocol.Message {
	s.t.Helper()
	type read struct {
		data []byte
		err  error
	}
	ch := make(chan read, 1)
	go func() {
		_, data, err := s.conn.ReadMessage()
		ch <- read{data, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			s.t.Fatalf("server read: %v", r.err)
		}
		m, err := s.codec.Decode(r.data)
		if err != nil {
			s.t.Fatalf("server decode: %v", err)
		}
		return m
	case <-time.After(2 * time.Second):
		s.t.Fatal("server received nothing")
		return nil
	}
}

func (s *serverEnd) recvRequest() *protocol.Request {
	s.t.Helper()
	m := s.recv()
	req, ok := m.(*protocol.Request)
	if !ok {
		s.t.Fatalf("server got %T, want *protocol.Request", m)
	}
	return req
}

func (s *serverEnd) send(m protocol.Message) {
	s.t.Helper()
	frame, err := s.codec.Encode(m)
	if err != nil {
		s.t.Fatal(err)
	}
	mt := websocket.TextMessage
	if s.codec.Binary() {
		mt = websocket.BinaryMessage
	}
	if err := s.conn.WriteMessage(mt, frame); err != nil {
		s.t.Fatalf("server write: %v", err)
	}
}

func (s *serverEnd) respond(seq string, status protocol.Status, payload any) {
	s.t.Helper()
	resp, err := protocol.NewResponse(seq, status, payload)
	if err != nil {
		s.t.Fatal(err)
	}
	s.send(resp)
}

func (s *serverEnd) push(event string, payload any) {
	s.t.Helper()
	p, err := protocol.NewPush(event, protocol.StatusOK, payload)
	if err != nil {
		s.t.Fatal(err)
	}
	s.send(p)
}

func (s *serverEnd) writeRaw(data string) {
	s.t.Helper()
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		s.t.Fatal(err)
	}
}

func (s *serverEnd) drop() { _ = s.conn.Close() }

type harness struct {
	t      *testing.T
	clock  *clock.FakeClock
	peer   *fakePeer
	client *Client
}

// newHarness builds a client over fakePeer with a fake clock and no
// heartbeat. Extra options are applied last.
func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{t: t, clock: clock.Fake(epoch), peer: newFakePeer(t)}
	base := []Option{
		WithClock(h.clock),
		WithDialer(h.peer),
		WithHeartbeat(0),
		WithIDGenerator(&CounterGenerator{Prefix: "seq-"}),
	}
	h.client = New("ws://peer.test/ws", append(base, opts...)...)
	t.Cleanup(func() { _ = h.client.Close() })
	return h
}

// connect connects the client and returns the server end.
func (h *harness) connect() *serverEnd {
	h.t.Helper()
	if err := h.client.Connect(context.Background()); err != nil {
		h.t.Fatalf("Connect: %v", err)
	}
	return h.peer.accept()
}

type reqResult struct {
	resp *protocol.Response
	err  error
}

// goRequest issues a request on its own goroutine.
func (h *harness) goRequest(ctx context.Context, route string, payload any) <-chan reqResult {
	ch := make(chan reqResult, 1)
	go func() {
		resp, err := h.client.Request(ctx, route, payload)
		ch <- reqResult{resp, err}
	}()
	return ch
}

func waitResult(t *testing.T, ch <-chan reqResult) reqResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("request did not resolve")
		return reqResult{}
	}
}

func waitState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", c.State(), want)
}

func rawString(t *testing.T, data json.RawMessage) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("payload %s is not a string: %v", data, err)
	}
	return s
}
