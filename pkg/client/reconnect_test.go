package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vango-dev/taskwire/pkg/protocol"
)

func TestReconnectResetsPendingRequests(t *testing.T) {
	h := newHarness(t)
	srv := h.connect()

	connects := make(chan struct{}, 4)
	h.client.OnConnect(func() { connects <- struct{}{} })

	// Two requests complete normally.
	for i := 0; i < 2; i++ {
		res := h.goRequest(context.Background(), "/task/list", nil)
		req := srv.recvRequest()
		srv.respond(req.Sequence, protocol.StatusOK, nil)
		if r := waitResult(t, res); r.err != nil {
			t.Fatalf("request %d: %v", i, r.err)
		}
	}

	// Five more stay outstanding.
	var pending []<-chan reqResult
	for i := 0; i < 5; i++ {
		pending = append(pending, h.goRequest(context.Background(), "/task/list", nil))
	}
	for i := 0; i < 5; i++ {
		srv.recvRequest()
	}
	if n := h.client.Pending(); n != 5 {
		t.Fatalf("Pending = %d, want 5", n)
	}

	// Drop the connection; the first two reconnect dials fail.
	h.peer.fails.Store(2)
	srv.drop()
	waitState(t, h.client, StateReconnecting)

	// Five request deadlines plus one reconnect wait.
	for attempt := 1; attempt <= 3; attempt++ {
		h.clock.WaitForTimers(6)
		h.clock.Advance(3 * time.Second)
		if attempt < 3 {
			waitDials(t, h.peer, int32(1+attempt))
		}
	}
	srv2 := h.peer.accept()
	waitState(t, h.client, StateConnected)

	for i, ch := range pending {
		r := waitResult(t, ch)
		if !errors.Is(r.err, ErrConnectionReset) {
			t.Errorf("pending %d: err = %v, want ErrConnectionReset", i, r.err)
		}
	}
	if h.client.Pending() != 0 {
		t.Errorf("Pending = %d after reconnect", h.client.Pending())
	}
	select {
	case <-connects:
	case <-time.After(2 * time.Second):
		t.Fatal("no connect event after reconnect")
	}

	// The new connection carries traffic.
	res := h.goRequest(context.Background(), "/task/list", nil)
	req := srv2.recvRequest()
	srv2.respond(req.Sequence, protocol.StatusOK, "ok")
	if r := waitResult(t, res); r.err != nil {
		t.Fatalf("request after reconnect: %v", r.err)
	}
}

func TestReconnectExhaustion(t *testing.T) {
	h := newHarness(t, WithRequestTimeout(time.Hour))
	srv := h.connect()

	closed := make(chan error, 1)
	h.client.OnClose(func(err error) { closed <- err })
	errs := make(chan error, 1)
	h.client.OnError(func(err error) { errs <- err })

	res := h.goRequest(context.Background(), "/task/list", nil)
	srv.recvRequest()

	h.peer.down.Store(true)
	srv.drop()
	waitState(t, h.client, StateReconnecting)
	select {
	case <-errs:
	case <-time.After(2 * time.Second):
		t.Fatal("no error event for the disconnect")
	}

	// One request deadline plus one reconnect wait per attempt.
	for attempt := 1; attempt <= 10; attempt++ {
		h.clock.WaitForTimers(2)
		h.clock.Advance(3 * time.Second)
		waitDials(t, h.peer, int32(1+attempt))
	}

	var err error
	select {
	case err = <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("no close event after exhausting reconnects")
	}
	var tce *TerminalCloseError
	if !errors.As(err, &tce) || tce.Attempts != 10 || !errors.Is(err, ErrTerminalClose) {
		t.Fatalf("close err = %v, want *TerminalCloseError after 10 attempts", err)
	}
	if got := h.peer.dials.Load(); got != 11 {
		t.Errorf("dials = %d, want 1 + 10", got)
	}
	if h.client.State() != StateClosed {
		t.Errorf("State = %s, want closed", h.client.State())
	}
	if r := waitResult(t, res); !errors.Is(r.err, ErrTerminalClose) {
		t.Errorf("pending err = %v, want ErrTerminalClose", r.err)
	}
	if err := h.client.Connect(context.Background()); !errors.Is(err, ErrTerminalClose) {
		t.Errorf("Connect after terminal close = %v", err)
	}
	if _, err := h.client.Request(context.Background(), "/task/list", nil); !errors.Is(err, ErrTerminalClose) {
		t.Errorf("Request after terminal close = %v", err)
	}
}

func TestRequestDuringReconnectFailsFast(t *testing.T) {
	h := newHarness(t)
	srv := h.connect()
	h.peer.down.Store(true)
	srv.drop()
	waitState(t, h.client, StateReconnecting)

	if _, err := h.client.Request(context.Background(), "/task/list", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestConnectWaitsForReconnect(t *testing.T) {
	h := newHarness(t)
	srv := h.connect()
	srv.drop()
	waitState(t, h.client, StateReconnecting)

	done := make(chan error, 1)
	go func() { done <- h.client.Connect(context.Background()) }()

	select {
	case err := <-done:
		t.Fatalf("Connect returned %v while reconnecting", err)
	case <-time.After(20 * time.Millisecond):
	}

	h.clock.WaitForTimers(1)
	h.clock.Advance(3 * time.Second)
	h.peer.accept()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Connect = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after reconnect")
	}
}

func TestZeroAttemptPolicyClosesImmediately(t *testing.T) {
	h := newHarness(t, WithReconnectPolicy(ReconnectPolicy{Attempts: 0, Interval: time.Second}))
	srv := h.connect()

	closed := make(chan error, 1)
	h.client.OnClose(func(err error) { closed <- err })
	srv.drop()

	select {
	case err := <-closed:
		if !errors.Is(err, ErrTerminalClose) {
			t.Fatalf("close err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client did not close")
	}
}

func waitDials(t *testing.T, p *fakePeer, n int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.dials.Load() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("dials = %d, want %d", p.dials.Load(), n)
}
