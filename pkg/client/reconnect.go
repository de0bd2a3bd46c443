package client

import (
	"context"
	"time"
)

// ReconnectPolicy bounds automatic reconnection after an unexpected
// disconnect: up to Attempts dials, each preceded by Interval.
type ReconnectPolicy struct {
	Attempts int
	Interval time.Duration
}

// DefaultReconnectPolicy is 10 attempts spaced 3 seconds apart.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{Attempts: 10, Interval: 3 * time.Second}
}

// reconnect runs on its own goroutine while the client is
// StateReconnecting. It ends Connected, Closed, or silently when the owner
// closes the client.
func (c *Client) reconnect() {
	policy := c.opts.reconnect
	var lastErr error

	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		select {
		case <-c.clock.After(policy.Interval):
		case <-c.ctx.Done():
			return
		}
		if c.State() != StateReconnecting {
			return
		}

		log := c.log.With("attempt", attempt, "of", policy.Attempts)
		log.Info("reconnecting")

		conn, err := c.dial(c.ctx)
		if err != nil {
			lastErr = err
			c.metrics.reconnectAttempt(false)
			log.Warn("reconnect attempt failed", "error", err)
			continue
		}

		c.mu.Lock()
		if c.state != StateReconnecting {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		reset := c.pending.failAll(ErrConnectionReset)
		c.attachLocked(conn)
		c.mu.Unlock()

		c.metrics.reconnectAttempt(true)
		log.Info("reconnected", "reset_requests", reset)
		c.events.emitConnect()
		return
	}

	c.terminate(&TerminalCloseError{Attempts: policy.Attempts, Err: lastErr})
}

// dial applies the configured dial timeout.
func (c *Client) dial(ctx context.Context) (Conn, error) {
	if c.opts.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.dialTimeout)
		defer cancel()
	}
	return c.opts.dialer.Dial(ctx, c.url)
}
