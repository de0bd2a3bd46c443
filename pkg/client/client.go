package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/taskwire/internal/clock"
	"github.com/vango-dev/taskwire/pkg/protocol"
)

// Client multiplexes requests and server pushes over one connection and
// reconnects after unexpected disconnects.
type Client struct {
	url     string
	opts    options
	log     *slog.Logger
	clock   clock.Clock
	metrics *Metrics
	pending *pendingTable
	events  *eventBus

	// ctx is cancelled when the client reaches Closing or Closed.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	link    *link
	gen     uint64
	settled chan struct{} // closed when the in-flight dial settles
	err     error         // why the client closed
	done    chan struct{}
}

// New returns an unconnected client for url.
func New(url string, opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.finish()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:     url,
		opts:    o,
		log:     o.logger.With("url", url),
		clock:   o.clock,
		metrics: o.metrics,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.pending = newPendingTable(o.ids, o.clock, o.timeout, c.log, o.metrics)
	c.events = newEventBus(c.log, o.metrics)
	c.metrics.setState(StateInit)
	return c
}

// URL returns the address the client dials.
func (c *Client) URL() string { return c.url }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int { return c.pending.len() }

// Done is closed once the client reaches StateClosed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the client closed: ErrClosed after Close, a
// *TerminalCloseError after reconnects ran out, nil while open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// setStateLocked records a transition. c.mu must be held.
func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	if c.state.transient() && !s.transient() && c.settled != nil {
		close(c.settled)
		c.settled = nil
	}
	if s.transient() && c.settled == nil {
		c.settled = make(chan struct{})
	}
	c.log.Debug("state change", "from", c.state.String(), "to", s.String())
	c.state = s
	c.metrics.setState(s)
}

// Connect opens the connection. It returns immediately when already
// connected, waits for a dial already in flight, and fails with ErrClosed
// once the client has closed. A failed initial dial returns a
// *ConnectError and leaves the client in StateInit.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	for c.state.transient() {
		wait := c.settled
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
	}

	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateClosing, StateClosed:
		err := c.closedErrLocked()
		c.mu.Unlock()
		return err
	}

	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	c.log.Info("connecting")
	conn, err := c.dial(ctx)

	c.mu.Lock()
	if c.state != StateConnecting {
		// Closed while dialing.
		err := c.closedErrLocked()
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return err
	}
	if err != nil {
		c.setStateLocked(StateInit)
		c.mu.Unlock()
		c.log.Warn("connect failed", "error", err)
		return &ConnectError{URL: c.url, Err: err}
	}
	c.attachLocked(conn)
	c.mu.Unlock()

	c.log.Info("connected")
	c.events.emitConnect()
	return nil
}

func (c *Client) closedErrLocked() error {
	if c.err != nil {
		return c.err
	}
	return ErrClosed
}

// attachLocked installs conn as the live transport and starts its
// goroutines. c.mu must be held.
func (c *Client) attachLocked(conn Conn) {
	c.gen++
	l := newLink(conn, c.gen, c.opts.codec)
	c.link = l
	c.setStateLocked(StateConnected)

	go c.readLoop(l)
	if c.opts.heartbeat > 0 {
		go c.heartbeat(l, c.clock.NewTicker(c.opts.heartbeat))
	}
}

// disconnected handles an unexpected loss of the transport attached in
// generation gen. Stale generations and losses during Close are ignored.
func (c *Client) disconnected(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	l := c.link
	c.link = nil
	c.setStateLocked(StateReconnecting)
	c.mu.Unlock()

	l.close(false)
	c.log.Warn("connection lost", "error", cause, "pending", c.pending.len())
	c.events.emitError(cause)
	go c.reconnect()
}

// terminate closes the client after the reconnect budget ran out.
func (c *Client) terminate(cause *TerminalCloseError) {
	c.mu.Lock()
	if c.state.closing() {
		c.mu.Unlock()
		return
	}
	c.err = cause
	l := c.link
	c.link = nil
	c.setStateLocked(StateClosed)
	c.cancel()
	close(c.done)
	c.mu.Unlock()

	if l != nil {
		l.close(false)
	}
	c.pending.failAll(cause)
	c.log.Error("connection closed", "error", cause)
	c.events.emitClose(cause)
	c.events.stop()
}

// Close closes the connection and fails every pending request with
// ErrClosed. Subscriptions are kept. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state.closing() {
		c.mu.Unlock()
		return nil
	}
	l := c.link
	c.link = nil
	c.setStateLocked(StateClosing)
	c.cancel()
	c.mu.Unlock()

	if l != nil {
		l.close(true)
	}
	c.pending.failAll(ErrClosed)

	c.mu.Lock()
	c.err = ErrClosed
	c.setStateLocked(StateClosed)
	close(c.done)
	c.mu.Unlock()

	c.log.Info("closed")
	c.events.emitClose(nil)
	c.events.stop()
	return nil
}

// Request sends payload to route and waits for the matching response.
//
// It fails fast with ErrNotConnected, or ErrClosed, when no connection is
// live. A response with a status other than 200 is returned together with
// a *ServerError. A timeout returns the synthetic 408 response with a
// *TimeoutError. Cancelling ctx stops the wait only; the request itself
// still resolves by response, timeout or failure.
func (c *Client) Request(ctx context.Context, route string, payload any) (*protocol.Response, error) {
	ctx, span := c.opts.tracer.Start(ctx, "taskwire.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("taskwire.route", route)),
	)
	defer span.End()

	start := c.clock.Now()
	resp, seq, err := c.request(ctx, route, payload)
	elapsed := c.clock.Now().Sub(start)

	outcome := "error"
	if resp != nil {
		outcome = strconv.Itoa(int(resp.Status))
		span.SetAttributes(attribute.Int("taskwire.status", int(resp.Status)))
	} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		outcome = "canceled"
	}
	if seq != "" {
		span.SetAttributes(attribute.String("taskwire.sequence", seq))
		c.metrics.observeRequest(route, outcome, elapsed)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

func (c *Client) request(ctx context.Context, route string, payload any) (*protocol.Response, string, error) {
	if route == "" {
		return nil, "", fmt.Errorf("taskwire: empty route")
	}
	req, err := protocol.NewRequest("", route, payload)
	if err != nil {
		return nil, "", err
	}

	c.mu.Lock()
	switch c.state {
	case StateConnected:
	case StateClosing, StateClosed:
		err := c.closedErrLocked()
		c.mu.Unlock()
		return nil, "", err
	default:
		c.mu.Unlock()
		return nil, "", ErrNotConnected
	}
	p, err := c.pending.register(route)
	l := c.link
	c.mu.Unlock()
	if err != nil {
		return nil, "", err
	}

	req.Sequence = p.sequence
	if err := l.send(req); err != nil {
		c.pending.fail(p.sequence, fmt.Errorf("taskwire: send %s: %w", route, err))
		c.disconnected(l.gen, err)
	} else {
		c.log.Debug("request sent", "sequence", p.sequence, "route", route)
	}

	select {
	case res := <-p.done:
		if res.err != nil {
			return res.resp, p.sequence, res.err
		}
		if !res.resp.Status.OK() {
			return res.resp, p.sequence, newServerError(route, res.resp)
		}
		return res.resp, p.sequence, nil
	case <-ctx.Done():
		return nil, p.sequence, ctx.Err()
	}
}

// Call sends a request and decodes a successful response payload into T.
func Call[T any](ctx context.Context, c *Client, route string, payload any) (T, error) {
	var out T
	resp, err := c.Request(ctx, route, payload)
	if err != nil {
		return out, err
	}
	if err := resp.Decode(&out); err != nil {
		return out, fmt.Errorf("taskwire: %s: %w", route, err)
	}
	return out, nil
}

// Subscribe registers fn for pushes named event. Pushes are delivered one
// at a time, in arrival order, on a delivery goroutine separate from the
// read loop; listeners of one push run in registration order. A listener
// may call Request, but a slow listener delays later pushes.
func (c *Client) Subscribe(event string, fn func(*protocol.Push)) (*Subscription, error) {
	if err := validateEvent(event); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("taskwire: nil listener for %q", event)
	}
	return c.events.add(EventPush, event, listener{push: fn}), nil
}

// SubscribeJSON registers fn for pushes named event, decoding each payload
// into T. Payloads that do not decode are logged and skipped.
func SubscribeJSON[T any](c *Client, event string, fn func(T)) (*Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("taskwire: nil listener for %q", event)
	}
	return c.Subscribe(event, func(p *protocol.Push) {
		var v T
		if err := p.Decode(&v); err != nil {
			c.log.Warn("push payload does not decode", "event", p.Event, "error", err)
			return
		}
		fn(v)
	})
}

// OnConnect registers fn for every successful connect and reconnect.
func (c *Client) OnConnect(fn func()) *Subscription {
	return c.events.add(EventConnect, "connect", listener{connect: fn})
}

// OnClose registers fn for the close event. err is nil after Close and a
// *TerminalCloseError when reconnects ran out.
func (c *Client) OnClose(fn func(err error)) *Subscription {
	return c.events.add(EventClose, "close", listener{closed: fn})
}

// OnError registers fn for transient disconnects.
func (c *Client) OnError(fn func(err error)) *Subscription {
	return c.events.add(EventError, "error", listener{err: fn})
}

// Unsubscribe removes a listener. It reports whether it was registered.
func (c *Client) Unsubscribe(sub *Subscription) bool {
	return c.events.remove(sub)
}

// Listeners returns the number of listeners for a push event, or for a
// lifecycle event when given "connect", "close" or "error".
func (c *Client) Listeners(event string) int {
	return c.events.count(event)
}
