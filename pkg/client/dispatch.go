package client

import (
	"github.com/vango-dev/taskwire/internal/clock"
	"github.com/vango-dev/taskwire/pkg/protocol"
)

// readLoop owns reads on l until the transport fails.
func (c *Client) readLoop(l *link) {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			c.disconnected(l.gen, err)
			return
		}
		c.dispatch(l, data)
	}
}

// dispatch routes one inbound frame. Undecodable frames are logged,
// counted and dropped.
func (c *Client) dispatch(l *link, data []byte) {
	msg, err := l.codec.Decode(data)
	if err != nil {
		c.metrics.decodeError()
		c.log.Warn("dropping undecodable frame", "error", err, "size", len(data))
		return
	}

	switch m := msg.(type) {
	case *protocol.Ping:
		if err := l.send(protocol.NewPong()); err != nil {
			c.disconnected(l.gen, err)
		}

	case *protocol.Pong:
		c.log.Debug("pong", "sendTime", m.SendTime)

	case *protocol.Response:
		route, matched := c.pending.complete(m)
		if !m.Status.Fatal() {
			break
		}
		if !matched {
			// A late rejection of a request that already timed out.
			c.log.Warn("ignoring fatal status for unknown sequence",
				"sequence", m.Sequence, "status", int(m.Status))
			break
		}
		// The server rejects the connection along with the request.
		c.disconnected(l.gen, newServerError(route, m))

	case *protocol.Push:
		c.events.enqueue(m)

	case *protocol.Request:
		c.log.Warn("ignoring request from server", "route", m.Route, "sequence", m.Sequence)
	}
}

// heartbeat pings the server every tick until l closes. A failed ping is
// treated as a lost connection.
func (c *Client) heartbeat(l *link, ticker *clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := l.send(protocol.NewPing()); err != nil {
				c.disconnected(l.gen, err)
				return
			}
		case <-l.done:
			return
		}
	}
}
