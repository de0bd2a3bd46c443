// Package protocol defines the taskwire message model and its wire codecs.
//
// Every frame on the connection is one of five messages:
//
//   - Request: a client call to a route, carrying a correlation Sequence
//   - Response: the answer to the Request with the same Sequence
//   - Push: a server-initiated notification named by Event
//   - Ping / Pong: keep-alive
//
// Payloads are opaque JSON documents in every codec.
//
// # Codecs
//
// JSONCodec sends text frames, one JSON object per frame, discriminated by
// the "ctype" field:
//
//	{"ctype":"push","event":"block_num","sendTime":1700000000000,"status":200,"data":7}
//
// MsgpackCodec and CBORCodec send binary frames: one kind byte followed by
// the envelope.
//
//	┌───────────┬──────────────────────────────────────────────┐
//	│ Kind      │ Envelope (msgpack or CBOR map)               │
//	│ (1 byte)  │ sequence, url, event, sendTime, status, data │
//	└───────────┴──────────────────────────────────────────────┘
//
// Kind bytes are '1' push, '2' request, '3' response, '4' ping and
// '5' pong. The data field holds the JSON payload as a byte string.
//
// # Errors
//
// Decode never panics. Every failure is a *DecodeError that matches
// ErrMalformedFrame or ErrUnknownKind with errors.Is:
//
//	msg, err := codec.Decode(frame)
//	var derr *protocol.DecodeError
//	if errors.As(err, &derr) {
//	    log.Warn("dropping frame", "reason", derr.Reason)
//	}
package protocol
