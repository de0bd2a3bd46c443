package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the wire discriminant of a message.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindPush     Kind = "push"
	KindPing     Kind = "ping"
	KindPong     Kind = "pong"
)

// Valid reports whether k is one of the five known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindRequest, KindResponse, KindPush, KindPing, KindPong:
		return true
	default:
		return false
	}
}

// Status is the numeric status carried by responses and pushes.
type Status int

const (
	StatusOK            Status = 200
	StatusBadRequest    Status = 400
	StatusNotFound      Status = 404
	StatusTimeout       Status = 408 // synthetic, never sent by the server
	StatusInternalError Status = 500
)

// OK reports whether s is the success status.
func (s Status) OK() bool { return s == StatusOK }

// Fatal reports whether s is a server rejection. A response carrying a
// fatal status is treated as connection-fatal by the client.
func (s Status) Fatal() bool { return s >= 400 }

// String returns the name of well-known statuses and the number otherwise.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusBadRequest:
		return "BadRequest"
	case StatusNotFound:
		return "NotFound"
	case StatusTimeout:
		return "Timeout"
	case StatusInternalError:
		return "InternalError"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Message is one of *Request, *Response, *Push, *Ping or *Pong.
type Message interface {
	Kind() Kind
	Time() time.Time
}

// Request is a client call awaiting exactly one Response with the same
// Sequence.
type Request struct {
	Sequence string
	Route    string
	Data     json.RawMessage
	SendTime int64 // epoch millis
}

// Response answers the Request with the same Sequence.
type Response struct {
	Sequence string
	Status   Status
	Data     json.RawMessage
	SendTime int64
}

// Push is a server-initiated notification dispatched by Event.
type Push struct {
	Event    string
	Status   Status
	Data     json.RawMessage
	SendTime int64
}

// Ping asks the peer for a Pong.
type Ping struct {
	SendTime int64
}

// Pong answers a Ping.
type Pong struct {
	SendTime int64
}

func (*Request) Kind() Kind  { return KindRequest }
func (*Response) Kind() Kind { return KindResponse }
func (*Push) Kind() Kind     { return KindPush }
func (*Ping) Kind() Kind     { return KindPing }
func (*Pong) Kind() Kind     { return KindPong }

func (m *Request) Time() time.Time  { return time.UnixMilli(m.SendTime) }
func (m *Response) Time() time.Time { return time.UnixMilli(m.SendTime) }
func (m *Push) Time() time.Time     { return time.UnixMilli(m.SendTime) }
func (m *Ping) Time() time.Time     { return time.UnixMilli(m.SendTime) }
func (m *Pong) Time() time.Time     { return time.UnixMilli(m.SendTime) }

// now is replaced in tests.
var now = time.Now

func nowMillis() int64 { return now().UnixMilli() }

// NewRequest builds a Request, marshaling payload to JSON. A nil payload
// is sent as an empty object, matching what servers expect for
// parameterless routes.
func NewRequest(sequence, route string, payload any) (*Request, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode request %s: %w", route, err)
	}
	return &Request{
		Sequence: sequence,
		Route:    route,
		Data:     data,
		SendTime: nowMillis(),
	}, nil
}

// NewResponse builds a Response with the given status and payload.
func NewResponse(sequence string, status Status, payload any) (*Response, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode response %s: %w", sequence, err)
	}
	return &Response{
		Sequence: sequence,
		Status:   status,
		Data:     data,
		SendTime: nowMillis(),
	}, nil
}

// NewPush builds a Push for event.
func NewPush(event string, status Status, payload any) (*Push, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode push %s: %w", event, err)
	}
	return &Push{
		Event:    event,
		Status:   status,
		Data:     data,
		SendTime: nowMillis(),
	}, nil
}

// NewPing returns a Ping stamped with the current time.
func NewPing() *Ping { return &Ping{SendTime: nowMillis()} }

// NewPong returns a Pong stamped with the current time.
func NewPong() *Pong { return &Pong{SendTime: nowMillis()} }

// Decode unmarshals the response payload into v.
func (m *Response) Decode(v any) error { return decodePayload(m.Data, v) }

// Decode unmarshals the push payload into v.
func (m *Push) Decode(v any) error { return decodePayload(m.Data, v) }

// Decode unmarshals the request payload into v.
func (m *Request) Decode(v any) error { return decodePayload(m.Data, v) }

// Text returns the payload as a string when it is a JSON string, and the
// raw JSON otherwise. Servers report errors as bare strings.
func (m *Response) Text() string {
	var s string
	if err := json.Unmarshal(m.Data, &s); err == nil {
		return s
	}
	return string(m.Data)
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage(`{}`), nil
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("invalid raw JSON payload")
		}
		return p, nil
	default:
		return json.Marshal(payload)
	}
}

func decodePayload(data json.RawMessage, v any) error {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("protocol: decode payload: %w", err)
	}
	return nil
}
