package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/taskwire/internal/clock"
	"github.com/vango-dev/taskwire/pkg/protocol"
)

// maxIDAttempts bounds how often register asks the generator for a fresh
// id when the previous one is still outstanding.
const maxIDAttempts = 8

type result struct {
	resp *protocol.Response
	err  error
}

// pendingRequest is one outstanding request. done has capacity one and
// receives exactly one result.
type pendingRequest struct {
	sequence string
	route    string
	done     chan result
	deadline time.Time
	timer    *clock.Timer
}

// pendingTable correlates responses with outstanding requests. Whoever
// removes an entry from the map under mu is its only resolver.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingRequest

	ids     IDGenerator
	clock   clock.Clock
	timeout time.Duration
	log     *slog.Logger
	metrics *Metrics
}

func newPendingTable(ids IDGenerator, clk clock.Clock, timeout time.Duration, log *slog.Logger, m *Metrics) *pendingTable {
	return &pendingTable{
		entries: make(map[string]*pendingRequest),
		ids:     ids,
		clock:   clk,
		timeout: timeout,
		log:     log,
		metrics: m,
	}
}

// register allocates a fresh sequence and arms its deadline.
func (t *pendingTable) register(route string) (*pendingRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var seq string
	for i := 0; ; i++ {
		if i == maxIDAttempts {
			return nil, fmt.Errorf("taskwire: id generator returned %d outstanding ids in a row", maxIDAttempts)
		}
		seq = t.ids.Next()
		if _, busy := t.entries[seq]; seq != "" && !busy {
			break
		}
	}

	p := &pendingRequest{
		sequence: seq,
		route:    route,
		done:     make(chan result, 1),
		deadline: t.clock.Now().Add(t.timeout),
	}
	t.entries[seq] = p
	p.timer = t.clock.AfterFunc(t.timeout, func() { t.expire(seq) })
	t.metrics.setPending(len(t.entries))
	return p, nil
}

// take removes and returns the entry for seq, or nil.
func (t *pendingTable) take(seq string) *pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[seq]
	if !ok {
		return nil
	}
	delete(t.entries, seq)
	t.metrics.setPending(len(t.entries))
	return p
}

// complete resolves the entry matching resp and returns its route.
// Responses for unknown or already resolved sequences are discarded.
func (t *pendingTable) complete(resp *protocol.Response) (string, bool) {
	p := t.take(resp.Sequence)
	if p == nil {
		t.log.Debug("discarding response for unknown sequence",
			"sequence", resp.Sequence,
			"status", int(resp.Status),
		)
		return "", false
	}
	p.timer.Stop()
	p.done <- result{resp: resp}
	return p.route, true
}

// expire resolves seq with a synthetic timeout response if it is still
// outstanding.
func (t *pendingTable) expire(seq string) {
	p := t.take(seq)
	if p == nil {
		return
	}
	resp := &protocol.Response{
		Sequence: seq,
		Status:   protocol.StatusTimeout,
		Data:     json.RawMessage(`"timeout"`),
		SendTime: t.clock.Now().UnixMilli(),
	}
	t.log.Warn("request timed out", "sequence", seq, "route", p.route, "timeout", t.timeout)
	p.done <- result{resp: resp, err: &TimeoutError{
		Route:    p.route,
		Sequence: seq,
		Timeout:  t.timeout,
		Response: resp,
	}}
}

// fail resolves a single entry with err.
func (t *pendingTable) fail(seq string, err error) bool {
	p := t.take(seq)
	if p == nil {
		return false
	}
	p.timer.Stop()
	p.done <- result{err: err}
	return true
}

// failAll resolves every outstanding entry with err and returns how many
// there were.
func (t *pendingTable) failAll(err error) int {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*pendingRequest)
	t.metrics.setPending(0)
	t.mu.Unlock()

	for _, p := range entries {
		p.timer.Stop()
		p.done <- result{err: err}
	}
	if len(entries) > 0 {
		t.log.Info("failed pending requests", "count", len(entries), "error", err)
	}
	return len(entries)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
