// Package server is a websocket peer that speaks the taskwire protocol.
//
// It exists to serve the CLI's serve command and to give the client an
// honest counterpart in tests. Requests are routed by their route to a
// HandlerFunc; each connected session answers pings and receives
// broadcast pushes.
//
// # Architecture
//
// Every accepted connection gets a session with two goroutines:
//
//   - readLoop: decodes frames, answers pings, runs request handlers
//   - writeLoop: serializes outbound frames from a buffered queue
//
// Handlers run on their own goroutine so a slow route never blocks the
// read loop. A handler error becomes a response whose status is taken
// from a *StatusError, or 500 otherwise.
//
// # HTTP surface
//
// Handler returns a chi router with:
//
//	GET /ws       websocket endpoint
//	GET /healthz  liveness probe
//	GET /metrics  Prometheus exposition
//
// # Failure injection
//
// DropConnections closes every live session without a close handshake, and
// SetAccepting(false) refuses new upgrades with 503. Together they let
// tests drive a client through its reconnect path.
package server
