package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func binaryCodecs() []Codec {
	return []Codec{MsgpackCodec{}, CBORCodec{}}
}

func TestBinaryRoundTrip(t *testing.T) {
	msgs := []Message{
		&Request{Sequence: "r1", Route: "/task/list", Data: json.RawMessage(`{"page":1}`), SendTime: 100},
		&Response{Sequence: "r1", Status: StatusBadRequest, Data: json.RawMessage(`"bad input"`), SendTime: 101},
		&Push{Event: "task-list/update", Status: StatusOK, Data: json.RawMessage(`[{"id":1}]`), SendTime: 102},
		&Ping{SendTime: 103},
		&Pong{SendTime: 104},
	}

	for _, c := range binaryCodecs() {
		for _, m := range msgs {
			t.Run(c.Name()+"/"+string(m.Kind()), func(t *testing.T) {
				frame, err := c.Encode(m)
				if err != nil {
					t.Fatalf("Encode: %v", err)
				}
				if frame[0] != kindBytes[m.Kind()] {
					t.Errorf("kind byte = %q, want %q", frame[0], kindBytes[m.Kind()])
				}
				got, err := c.Decode(frame)
				if err != nil {
					t.Fatalf("Decode: %v", err)
				}
				if got.Kind() != m.Kind() {
					t.Fatalf("Kind = %s, want %s", got.Kind(), m.Kind())
				}
				if !sameMessage(got, m) {
					t.Errorf("round trip = %+v, want %+v", got, m)
				}
			})
		}
	}
}

func sameMessage(a, b Message) bool {
	fa, _ := explode(a)
	fb, _ := explode(b)
	if fa.kind != fb.kind || fa.sequence != fb.sequence || fa.route != fb.route ||
		fa.event != fb.event || fa.sendTime != fb.sendTime || !bytes.Equal(fa.data, fb.data) {
		return false
	}
	if (fa.status == nil) != (fb.status == nil) {
		return false
	}
	return fa.status == nil || *fa.status == *fb.status
}

func TestKindBytes(t *testing.T) {
	want := map[Kind]byte{KindPush: '1', KindRequest: '2', KindResponse: '3'}
	for k, b := range want {
		if kindBytes[k] != b {
			t.Errorf("kindBytes[%s] = %q, want %q", k, kindBytes[k], b)
		}
	}
}

func TestCBORDeterministic(t *testing.T) {
	m := &Push{Event: "block_num", Status: StatusOK, Data: json.RawMessage(`7`), SendTime: 1}
	a, err := CBORCodec{}.Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	b, err := CBORCodec{}.Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("equal messages produced different CBOR frames")
	}
}

func TestBinaryDecodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		frame  []byte
		target error
	}{
		{"empty", nil, ErrMalformedFrame},
		{"unknown kind byte", []byte{'9', 0x80}, ErrUnknownKind},
		{"truncated body", []byte{'3', 0x85}, ErrMalformedFrame},
		{"response missing fields", []byte{'3'}, ErrMalformedFrame},
	}

	for _, c := range binaryCodecs() {
		for _, tc := range tests {
			t.Run(c.Name()+"/"+tc.name, func(t *testing.T) {
				_, err := c.Decode(tc.frame)
				if !errors.Is(err, tc.target) {
					t.Fatalf("Decode err = %v, want %v", err, tc.target)
				}
				var derr *DecodeError
				if !errors.As(err, &derr) || derr.Codec != c.Name() {
					t.Errorf("err = %#v, want *DecodeError from %s", err, c.Name())
				}
			})
		}
	}
}

func TestBinaryRejectsInvalidJSONData(t *testing.T) {
	for _, c := range binaryCodecs() {
		frame, err := c.Encode(&Push{Event: "x", Data: json.RawMessage(`{not json`)})
		if err != nil {
			t.Fatalf("%s Encode: %v", c.Name(), err)
		}
		if _, err := c.Decode(frame); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("%s Decode err = %v, want ErrMalformedFrame", c.Name(), err)
		}
	}
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"json", "msgpack", "cbor"} {
		c, err := Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", name, err)
		}
		if c.Name() != name {
			t.Errorf("Lookup(%q).Name() = %q", name, c.Name())
		}
	}
	if c, err := Lookup(""); err != nil || c.Name() != "json" {
		t.Errorf("Lookup(\"\") = %v, %v; want json", c, err)
	}
	if _, err := Lookup("protobuf"); err == nil {
		t.Error("Lookup(protobuf) succeeded")
	}
}
