package client

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/taskwire/internal/clock"
	"github.com/vango-dev/taskwire/pkg/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTable(ids IDGenerator) (*pendingTable, *clock.FakeClock) {
	clk := clock.Fake(epoch)
	return newPendingTable(ids, clk, 10*time.Second, discardLogger(), nil), clk
}

func TestPendingCompleteOnce(t *testing.T) {
	table, _ := newTestTable(&CounterGenerator{})
	p, err := table.register("/task/list")
	if err != nil {
		t.Fatal(err)
	}
	if !p.deadline.Equal(epoch.Add(10 * time.Second)) {
		t.Errorf("deadline = %v", p.deadline)
	}

	resp := &protocol.Response{Sequence: p.sequence, Status: protocol.StatusOK}
	route, ok := table.complete(resp)
	if !ok || route != "/task/list" {
		t.Fatalf("complete = %q, %v", route, ok)
	}
	if _, ok := table.complete(resp); ok {
		t.Error("second complete succeeded")
	}
	if table.fail(p.sequence, io.EOF) {
		t.Error("fail after complete succeeded")
	}

	r := <-p.done
	if r.resp != resp || r.err != nil {
		t.Errorf("result = %+v", r)
	}
	select {
	case extra := <-p.done:
		t.Fatalf("second result delivered: %+v", extra)
	default:
	}
}

func TestPendingExpire(t *testing.T) {
	table, clk := newTestTable(&CounterGenerator{})
	p, _ := table.register("/task/list")

	clk.Advance(10 * time.Second)

	r := <-p.done
	if !errors.Is(r.err, ErrRequestTimeout) {
		t.Fatalf("err = %v", r.err)
	}
	if r.resp.Status != protocol.StatusTimeout || r.resp.Sequence != p.sequence {
		t.Errorf("synthetic response = %+v", r.resp)
	}
	if table.len() != 0 {
		t.Errorf("len = %d", table.len())
	}
	if _, ok := table.complete(&protocol.Response{Sequence: p.sequence}); ok {
		t.Error("complete after expiry succeeded")
	}
}

func TestPendingCompleteStopsTimer(t *testing.T) {
	table, clk := newTestTable(&CounterGenerator{})
	p, _ := table.register("/r")
	table.complete(&protocol.Response{Sequence: p.sequence, Status: protocol.StatusOK})
	if n := clk.PendingTimers(); n != 0 {
		t.Errorf("PendingTimers = %d, want 0", n)
	}
}

func TestPendingFailAll(t *testing.T) {
	table, clk := newTestTable(&CounterGenerator{})
	var entries []*pendingRequest
	for i := 0; i < 5; i++ {
		p, err := table.register("/task/list")
		if err != nil {
			t.Fatal(err)
		}
		entries = append(entries, p)
	}

	if n := table.failAll(ErrConnectionReset); n != 5 {
		t.Fatalf("failAll = %d, want 5", n)
	}
	for _, p := range entries {
		if r := <-p.done; !errors.Is(r.err, ErrConnectionReset) {
			t.Errorf("%s: err = %v", p.sequence, r.err)
		}
	}
	if clk.PendingTimers() != 0 || table.len() != 0 {
		t.Errorf("timers = %d, entries = %d", clk.PendingTimers(), table.len())
	}
}

// repeatGenerator returns ids from a fixed script.
type repeatGenerator struct {
	mu  sync.Mutex
	ids []string
}

func (g *repeatGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.ids[0]
	if len(g.ids) > 1 {
		g.ids = g.ids[1:]
	}
	return id
}

func TestPendingRetriesOutstandingID(t *testing.T) {
	table, _ := newTestTable(&repeatGenerator{ids: []string{"a", "a", "", "b"}})

	first, err := table.register("/r")
	if err != nil || first.sequence != "a" {
		t.Fatalf("first = %v, %v", first, err)
	}
	second, err := table.register("/r")
	if err != nil {
		t.Fatal(err)
	}
	if second.sequence != "b" {
		t.Errorf("second sequence = %q, want b", second.sequence)
	}
}

func TestPendingGivesUpOnStuckGenerator(t *testing.T) {
	table, _ := newTestTable(&repeatGenerator{ids: []string{"same"}})
	if _, err := table.register("/r"); err != nil {
		t.Fatal(err)
	}
	if _, err := table.register("/r"); err == nil {
		t.Fatal("register with a stuck generator succeeded")
	}
}

func TestUUIDGeneratorUnique(t *testing.T) {
	seen := make(map[string]bool)
	g := UUIDGenerator{}
	for i := 0; i < 1000; i++ {
		id := g.Next()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
