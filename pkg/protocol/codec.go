package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Codec converts messages to and from wire frames.
type Codec interface {
	// Name is the registry name ("json", "msgpack", "cbor").
	Name() string
	// Binary reports whether frames go out as websocket binary messages.
	Binary() bool
	Encode(Message) ([]byte, error)
	// Decode never panics; failures are *DecodeError.
	Decode([]byte) (Message, error)
}

var codecs = map[string]Codec{
	"json":    JSONCodec{},
	"msgpack": MsgpackCodec{},
	"cbor":    CBORCodec{},
}

// Default is the codec used when none is configured.
var Default Codec = JSONCodec{}

// Lookup resolves a codec by name. The empty name selects Default.
func Lookup(name string) (Codec, error) {
	if name == "" {
		return Default, nil
	}
	c, ok := codecs[name]
	if !ok {
		return nil, fmt.Errorf("protocol: unknown codec %q (have %v)", name, Names())
	}
	return c, nil
}

// Names lists registered codec names in sorted order.
func Names() []string {
	names := make([]string, 0, len(codecs))
	for n := range codecs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// fields is the codec-independent envelope every wire format is
// parsed into before validation.
type fields struct {
	kind     Kind
	sequence string
	route    string
	event    string
	sendTime int64
	status   *int
	data     json.RawMessage
}

// assemble validates f against the required fields of its kind and
// builds the message.
func assemble(codec string, f fields) (Message, error) {
	if f.sendTime == 0 {
		f.sendTime = nowMillis()
	}
	if len(f.data) > 0 && !json.Valid(f.data) {
		return nil, malformed(codec, f.kind, "data is not valid JSON")
	}

	switch f.kind {
	case KindRequest:
		if f.sequence == "" {
			return nil, malformed(codec, f.kind, "missing sequence")
		}
		if f.route == "" {
			return nil, malformed(codec, f.kind, "missing url")
		}
		return &Request{Sequence: f.sequence, Route: f.route, Data: f.data, SendTime: f.sendTime}, nil

	case KindResponse:
		if f.sequence == "" {
			return nil, malformed(codec, f.kind, "missing sequence")
		}
		if f.status == nil {
			return nil, malformed(codec, f.kind, "missing status")
		}
		return &Response{Sequence: f.sequence, Status: Status(*f.status), Data: f.data, SendTime: f.sendTime}, nil

	case KindPush:
		if f.event == "" {
			return nil, malformed(codec, f.kind, "missing event")
		}
		status := StatusOK
		if f.status != nil {
			status = Status(*f.status)
		}
		return &Push{Event: f.event, Status: status, Data: f.data, SendTime: f.sendTime}, nil

	case KindPing:
		return &Ping{SendTime: f.sendTime}, nil

	case KindPong:
		return &Pong{SendTime: f.sendTime}, nil

	case "":
		return nil, malformed(codec, "", "missing message kind")

	default:
		return nil, unknownKind(codec, f.kind)
	}
}

// explode is the inverse of assemble.
func explode(m Message) (fields, error) {
	switch v := m.(type) {
	case *Request:
		return fields{kind: KindRequest, sequence: v.Sequence, route: v.Route, sendTime: v.SendTime, data: v.Data}, nil
	case *Response:
		s := int(v.Status)
		return fields{kind: KindResponse, sequence: v.Sequence, sendTime: v.SendTime, status: &s, data: v.Data}, nil
	case *Push:
		s := int(v.Status)
		return fields{kind: KindPush, event: v.Event, sendTime: v.SendTime, status: &s, data: v.Data}, nil
	case *Ping:
		return fields{kind: KindPing, sendTime: v.SendTime}, nil
	case *Pong:
		return fields{kind: KindPong, sendTime: v.SendTime}, nil
	case nil:
		return fields{}, fmt.Errorf("protocol: encode nil message")
	default:
		return fields{}, fmt.Errorf("protocol: encode unsupported message %T", m)
	}
}
