// Package client is the taskwire duplex messaging client.
//
// A Client holds one long-lived websocket connection and multiplexes two
// kinds of traffic over it: request/response exchanges correlated by
// sequence id, and server pushes delivered to subscribers by event name.
//
//	c := client.New("ws://localhost:8787/ws")
//	if err := c.Connect(ctx); err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	c.Subscribe("block_num", func(p *protocol.Push) {
//	    var n int
//	    _ = p.Decode(&n)
//	})
//
//	tasks, err := client.Call[[]Task](ctx, c, "/task/list", nil)
//
// # Requests
//
// Every request gets a fresh sequence and a deadline (10 seconds by
// default). It resolves exactly once: by its response, by a synthetic
// status 408 response when the deadline passes, or by a failure when the
// connection is replaced or closed. Requests are never queued; while the
// client is not connected Request fails fast with ErrNotConnected.
//
// # Reconnection
//
// An unexpected disconnect moves the client to StateReconnecting and
// starts the ReconnectPolicy: by default 10 dials spaced 3 seconds apart.
// Requests still pending when a dial succeeds fail with
// ErrConnectionReset. When the budget runs out the client closes for good,
// pending requests fail with a *TerminalCloseError and OnClose listeners
// are told why. A response with status 400 or above is treated as fatal
// for the connection and also triggers reconnection.
//
// Subscriptions survive reconnects.
package client
