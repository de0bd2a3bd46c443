// Package pool shares one taskwire client per server address among many
// consumers.
//
// Each consumer acquires a Handle and releases it when done. The client is
// closed when its last handle is released. A client that has closed for
// good, for example after exhausting its reconnect budget, is replaced on
// the next Acquire.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/vango-dev/taskwire/pkg/client"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("pool: closed")

// Factory builds the client for an address.
type Factory func(addr string) *client.Client

// Pool holds at most one live client per address.
type Pool struct {
	factory Factory
	log     *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

type entry struct {
	client *client.Client
	refs   int
}

// New returns a pool that builds clients with factory. A nil factory
// builds clients with default options.
func New(factory Factory, log *slog.Logger) *Pool {
	if factory == nil {
		factory = func(addr string) *client.Client { return client.New(addr) }
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		factory: factory,
		log:     log.With("component", "taskwire.pool"),
		entries: make(map[string]*entry),
	}
}

// Handle is one consumer's reference to a shared client.
type Handle struct {
	pool *Pool
	addr string
	e    *entry
	once sync.Once
}

// Client returns the shared client.
func (h *Handle) Client() *client.Client { return h.e.client }

// Addr returns the address the handle was acquired for.
func (h *Handle) Addr() string { return h.addr }

// Release drops the reference. The client is closed when no handles
// remain. Release is idempotent.
func (h *Handle) Release() {
	h.once.Do(func() { h.pool.release(h.addr, h.e) })
}

// Acquire returns a handle to the client for addr, creating and connecting
// it if needed. If the connect fails the reference is dropped and the error
// returned.
func (p *Pool) Acquire(ctx context.Context, addr string) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	e, ok := p.entries[addr]
	if ok && e.client.State() == client.StateClosed {
		p.log.Info("replacing closed client", "addr", addr, "error", e.client.Err())
		ok = false
	}
	if !ok {
		e = &entry{client: p.factory(addr)}
		p.entries[addr] = e
	}
	e.refs++
	p.mu.Unlock()

	h := &Handle{pool: p, addr: addr, e: e}
	if err := e.client.Connect(ctx); err != nil {
		h.Release()
		return nil, err
	}
	return h, nil
}

func (p *Pool) release(addr string, e *entry) {
	p.mu.Lock()
	e.refs--
	last := e.refs == 0
	if last && p.entries[addr] == e {
		delete(p.entries, addr)
	}
	p.mu.Unlock()

	if last {
		p.log.Debug("closing idle client", "addr", addr)
		_ = e.client.Close()
	}
}

// Len returns the number of addresses with a live entry.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Refs returns the number of outstanding handles for addr.
func (p *Pool) Refs(addr string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[addr]; ok {
		return e.refs
	}
	return 0
}

// Close closes every client and rejects further Acquires. Outstanding
// handles stay valid to Release.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	entries := p.entries
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := e.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
