package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vango-dev/taskwire/pkg/protocol"
)

func TestConnectAndRequest(t *testing.T) {
	h := newHarness(t)
	srv := h.connect()

	if got := h.client.State(); got != StateConnected {
		t.Fatalf("State = %s, want connected", got)
	}

	res := h.goRequest(context.Background(), "/task/list", map[string]int{"page": 1})
	req := srv.recvRequest()
	if req.Route != "/task/list" || req.Sequence != "seq-1" {
		t.Fatalf("server got %+v", req)
	}
	srv.respond(req.Sequence, protocol.StatusOK, []string{"a", "b"})

	r := waitResult(t, res)
	if r.err != nil {
		t.Fatalf("Request: %v", r.err)
	}
	if string(r.resp.Data) != `["a","b"]` {
		t.Errorf("Data = %s", r.resp.Data)
	}
	if n := h.client.Pending(); n != 0 {
		t.Errorf("Pending = %d, want 0", n)
	}
}

func TestConcurrentRequestsNoCrossTalk(t *testing.T) {
	h := newHarness(t)
	srv := h.connect()

	routes := []string{"/task/list", "/wxuser/list", "/task/add"}
	results := make([]<-chan reqResult, len(routes))
	for i, r := range routes {
		results[i] = h.goRequest(context.Background(), r, nil)
	}

	var reqs []*protocol.Request
	for range routes {
		reqs = append(reqs, srv.recvRequest())
	}
	// Answer in reverse arrival order, echoing each route.
	for i := len(reqs) - 1; i >= 0; i-- {
		srv.respond(reqs[i].Sequence, protocol.StatusOK, reqs[i].Route)
	}

	for i, ch := range results {
		r := waitResult(t, ch)
		if r.err != nil {
			t.Fatalf("%s: %v", routes[i], r.err)
		}
		if got := rawString(t, r.resp.Data); got != routes[i] {
			t.Errorf("request %s got response for %s", routes[i], got)
		}
	}
}

func TestRequestTimeout(t *testing.T) {
	h := newHarness(t)
	srv := h.connect()

	res := h.goRequest(context.Background(), "/task/list", nil)
	req := srv.recvRequest()

	h.clock.Advance(9 * time.Second)
	select {
	case <-res:
		t.Fatal("resolved before the deadline")
	default:
	}

	h.clock.Advance(time.Second)
	r := waitResult(t, res)

	var te *TimeoutError
	if !errors.As(r.err, &te) || !errors.Is(r.err, ErrRequestTimeout) {
		t.Fatalf("err = %v, want *TimeoutError", r.err)
	}
	if te.Route != "/task/list" || te.Sequence != req.Sequence {
		t.Errorf("TimeoutError = %+v", te)
	}
	if r.resp == nil || r.resp.Status != protocol.StatusTimeout || rawString(t, r.resp.Data) != "timeout" {
		t.Errorf("synthetic response = %+v", r.resp)
	}
	if n := h.client.Pending(); n != 0 {
		t.Errorf("Pending = %d after timeout, want 0", n)
	}

	// A late response is discarded without effect.
	srv.respond(req.Sequence, protocol.StatusOK, "late")
	res2 := h.goRequest(context.Background(), "/task/list", nil)
	req2 := srv.recvRequest()
	srv.respond(req2.Sequence, protocol.StatusOK, "fresh")
	if r := waitResult(t, res2); r.err != nil || rawString(t, r.resp.Data) != "fresh" {
		t.Errorf("follow-up request = %+v", r)
	}
}

func TestRequestFailsFastWhenNotConnected(t *testing.T) {
	h := newHarness(t)

	_, err := h.client.Request(context.Background(), "/task/list", nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if h.client.Pending() != 0 {
		t.Error("request was queued")
	}

	_ = h.client.Close()
	_, err = h.client.Request(context.Background(), "/task/list", nil)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("after Close err = %v, want ErrClosed", err)
	}
}

func TestRequestEmptyRoute(t *testing.T) {
	h := newHarness(t)
	h.connect()
	if _, err := h.client.Request(context.Background(), "", nil); err == nil {
		t.Fatal("empty route accepted")
	}
}

func TestServerErrorStatus(t *testing.T) {
	h := newHarness(t)
	srv := h.connect()

	errs := make(chan error, 1)
	h.client.OnError(func(err error) { errs <- err })

	res := h.goRequest(context.Background(), "/task/edit", nil)
	req := srv.recvRequest()
	srv.respond(req.Sequence, protocol.StatusInternalError, "task not found")

	r := waitResult(t, res)
	var se *ServerError
	if !errors.As(r.err, &se) {
		t.Fatalf("err = %v, want *ServerError", r.err)
	}
	if se.Status != protocol.StatusInternalError || se.Message != "task not found" || se.Route != "/task/edit" {
		t.Errorf("ServerError = %+v", se)
	}
	if r.resp == nil || r.resp.Status != protocol.StatusInternalError {
		t.Errorf("response = %+v", r.resp)
	}

	// Status >= 400 is connection-fatal.
	waitState(t, h.client, StateReconnecting)
	select {
	case err := <-errs:
		if !errors.As(err, &se) {
			t.Errorf("error event = %v, want *ServerError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error event")
	}
}

func TestStaleFatalResponseKeepsConnection(t *testing.T) {
	h := newHarness(t)
	srv := h.connect()

	res := h.goRequest(context.Background(), "/task/list", nil)
	req := srv.recvRequest()

	srv.respond("seq-unknown", protocol.StatusInternalError, "late")
	srv.respond(req.Sequence, protocol.StatusOK, []int{})
	if r := waitResult(t, res); r.err != nil {
		t.Fatalf("in-flight request failed: %v", r.err)
	}
	if h.client.State() != StateConnected {
		t.Errorf("State = %s, want connected", h.client.State())
	}
}

func TestNonFatalNonOKStatus(t *testing.T) {
	h := newHarness(t)
	srv := h.connect()

	res := h.goRequest(context.Background(), "/task/add", nil)
	req := srv.recvRequest()
	srv.respond(req.Sequence, 201, "created")

	r := waitResult(t, res)
	var se *ServerError
	if !errors.As(r.err, &se) || se.Status != 201 {
		t.Fatalf("err = %v, want *ServerError with 201", r.err)
	}
	if h.client.State() != StateConnected {
		t.Errorf("State = %s, want connected", h.client.State())
	}
}

func TestContextCancelStopsWaitOnly(t *testing.T) {
	h := newHarness(t)
	srv := h.connect()

	ctx, cancel := context.WithCancel(context.Background())
	res := h.goRequest(ctx, "/task/list", nil)
	req := srv.recvRequest()
	cancel()

	r := waitResult(t, res)
	if !errors.Is(r.err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", r.err)
	}
	if h.client.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1 (entry survives cancellation)", h.client.Pending())
	}

	srv.respond(req.Sequence, protocol.StatusOK, nil)
	deadline := time.Now().Add(2 * time.Second)
	for h.client.Pending() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if h.client.Pending() != 0 {
		t.Error("late response did not clear the entry")
	}
}

func TestConnectFailureReturnsToInit(t *testing.T) {
	h := newHarness(t)
	h.peer.fails.Store(1)

	err := h.client.Connect(context.Background())
	var ce *ConnectError
	if !errors.As(err, &ce) || !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("err = %v, want *ConnectError", err)
	}
	if h.client.State() != StateInit {
		t.Fatalf("State = %s, want init", h.client.State())
	}
	if h.peer.dials.Load() != 1 {
		t.Errorf("dials = %d, want 1 (no automatic retry)", h.peer.dials.Load())
	}

	h.connect()
	if h.client.State() != StateConnected {
		t.Errorf("State = %s after second Connect", h.client.State())
	}
}

func TestConnectIdempotent(t *testing.T) {
	h := newHarness(t)
	h.connect()

	connects := 0
	h.client.OnConnect(func() { connects++ })
	for i := 0; i < 3; i++ {
		if err := h.client.Connect(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if h.peer.dials.Load() != 1 || connects != 0 {
		t.Errorf("dials = %d, connect events = %d; want 1, 0", h.peer.dials.Load(), connects)
	}
}

func TestCloseFailsPendingAndKeepsSubscriptions(t *testing.T) {
	h := newHarness(t)
	srv := h.connect()

	h.client.Subscribe("info", func(*protocol.Push) {})
	closed := make(chan error, 1)
	h.client.OnClose(func(err error) { closed <- err })

	res := h.goRequest(context.Background(), "/task/list", nil)
	srv.recvRequest()

	if err := h.client.Close(); err != nil {
		t.Fatal(err)
	}
	if r := waitResult(t, res); !errors.Is(r.err, ErrClosed) {
		t.Errorf("pending err = %v, want ErrClosed", r.err)
	}
	if err := <-closed; err != nil {
		t.Errorf("close event err = %v, want nil", err)
	}
	if h.client.State() != StateClosed {
		t.Errorf("State = %s", h.client.State())
	}
	if n := h.client.Listeners("info"); n != 1 {
		t.Errorf("Listeners = %d, want 1", n)
	}
	if err := h.client.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Close = %v, want ErrClosed", err)
	}
	if err := h.client.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	select {
	case <-h.client.Done():
	default:
		t.Error("Done not closed")
	}
}

func TestCloseSuppressesReconnect(t *testing.T) {
	h := newHarness(t)
	srv := h.connect()

	errs := make(chan error, 1)
	h.client.OnError(func(err error) { errs <- err })

	_ = h.client.Close()
	srv.drop()

	select {
	case err := <-errs:
		t.Fatalf("disconnect during close surfaced: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	if h.peer.dials.Load() != 1 {
		t.Errorf("dials = %d, want 1", h.peer.dials.Load())
	}
}

func TestServerPingGetsPong(t *testing.T) {
	h := newHarness(t)
	srv := h.connect()

	srv.send(protocol.NewPing())
	if m := srv.recv(); m.Kind() != protocol.KindPong {
		t.Fatalf("server got %s, want pong", m.Kind())
	}
}

func TestHeartbeat(t *testing.T) {
	h := newHarness(t, WithHeartbeat(DefaultHeartbeat))
	srv := h.connect()

	h.clock.WaitForTimers(1)
	h.clock.Advance(DefaultHeartbeat)
	if m := srv.recv(); m.Kind() != protocol.KindPing {
		t.Fatalf("server got %s, want ping", m.Kind())
	}
	srv.send(protocol.NewPong())
}

func TestUndecodableFrameDropped(t *testing.T) {
	h := newHarness(t)
	srv := h.connect()

	srv.writeRaw(`{"ctype":"mystery"}`)
	srv.writeRaw(`not json`)

	res := h.goRequest(context.Background(), "/task/list", nil)
	req := srv.recvRequest()
	srv.respond(req.Sequence, protocol.StatusOK, nil)
	if r := waitResult(t, res); r.err != nil {
		t.Fatalf("connection unusable after bad frames: %v", r.err)
	}
	if h.client.State() != StateConnected {
		t.Errorf("State = %s", h.client.State())
	}
}

func TestCall(t *testing.T) {
	h := newHarness(t)
	srv := h.connect()

	type task struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	done := make(chan struct{})
	var got []task
	var err error
	go func() {
		defer close(done)
		got, err = Call[[]task](context.Background(), h.client, "/task/list", nil)
	}()
	req := srv.recvRequest()
	srv.respond(req.Sequence, protocol.StatusOK, []task{{1, "daily report"}})
	<-done

	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "daily report" {
		t.Errorf("Call = %+v", got)
	}
}

func TestBinaryCodecEndToEnd(t *testing.T) {
	h := newHarness(t, WithCodec(protocol.MsgpackCodec{}))
	h.peer.codec = protocol.MsgpackCodec{}
	srv := h.connect()

	res := h.goRequest(context.Background(), "/wxuser/list", nil)
	req := srv.recvRequest()
	srv.respond(req.Sequence, protocol.StatusOK, []string{"wx-1"})
	if r := waitResult(t, res); r.err != nil || string(r.resp.Data) != `["wx-1"]` {
		t.Fatalf("result = %+v", r)
	}
}

func TestWriteFailureFailsRequest(t *testing.T) {
	h := newHarness(t)
	h.connect()

	// Close the client end underneath the client.
	h.client.mu.Lock()
	conn := h.client.link.conn
	h.client.mu.Unlock()
	_ = conn.Close()

	_, err := h.client.Request(context.Background(), "/task/list", nil)
	if err == nil {
		t.Fatal("request on broken transport succeeded")
	}
	if errors.Is(err, ErrNotConnected) {
		// The read loop noticed first; equally valid.
		return
	}
	if !errors.Is(err, errPipeClosed) {
		t.Errorf("err = %v, want wrapped write error", err)
	}
}
