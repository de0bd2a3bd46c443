package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Binary frames are one kind byte followed by the encoded envelope.
const (
	kindBytePush     byte = '1'
	kindByteRequest  byte = '2'
	kindByteResponse byte = '3'
	kindBytePing     byte = '4'
	kindBytePong     byte = '5'
)

var kindBytes = map[Kind]byte{
	KindPush:     kindBytePush,
	KindRequest:  kindByteRequest,
	KindResponse: kindByteResponse,
	KindPing:     kindBytePing,
	KindPong:     kindBytePong,
}

func kindOf(b byte) (Kind, bool) {
	for k, v := range kindBytes {
		if v == b {
			return k, true
		}
	}
	return "", false
}

// envelope carries the payload as an opaque byte string holding JSON.
type envelope struct {
	Sequence string `msgpack:"sequence,omitempty" cbor:"sequence,omitempty"`
	URL      string `msgpack:"url,omitempty" cbor:"url,omitempty"`
	Event    string `msgpack:"event,omitempty" cbor:"event,omitempty"`
	SendTime int64  `msgpack:"sendTime" cbor:"sendTime"`
	Status   *int   `msgpack:"status,omitempty" cbor:"status,omitempty"`
	Data     []byte `msgpack:"data,omitempty" cbor:"data,omitempty"`
}

// MsgpackCodec frames messages as a kind byte plus a msgpack envelope.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Binary() bool { return true }

func (c MsgpackCodec) Encode(m Message) ([]byte, error) {
	return encodeBinary(m, msgpack.Marshal)
}

func (c MsgpackCodec) Decode(data []byte) (Message, error) {
	return decodeBinary(c.Name(), data, msgpack.Unmarshal)
}

// CBORCodec frames messages as a kind byte plus a CBOR envelope in Core
// Deterministic Encoding, so equal messages produce equal bytes.
type CBORCodec struct{}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		MaxNestedLevels: 16,
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

func (CBORCodec) Name() string { return "cbor" }

func (CBORCodec) Binary() bool { return true }

func (c CBORCodec) Encode(m Message) ([]byte, error) {
	return encodeBinary(m, cborEnc.Marshal)
}

func (c CBORCodec) Decode(data []byte) (Message, error) {
	return decodeBinary(c.Name(), data, cborDec.Unmarshal)
}

func encodeBinary(m Message, marshal func(any) ([]byte, error)) ([]byte, error) {
	f, err := explode(m)
	if err != nil {
		return nil, err
	}
	body, err := marshal(envelope{
		Sequence: f.sequence,
		URL:      f.route,
		Event:    f.event,
		SendTime: f.sendTime,
		Status:   f.status,
		Data:     f.data,
	})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", f.kind, err)
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, kindBytes[f.kind])
	return append(out, body...), nil
}

func decodeBinary(name string, data []byte, unmarshal func([]byte, any) error) (msg Message, err error) {
	if derr := checkSize(name, data); derr != nil {
		return nil, derr
	}
	kind, ok := kindOf(data[0])
	if !ok {
		return nil, unknownKind(name, Kind(fmt.Sprintf("0x%02x", data[0])))
	}

	defer func() {
		if r := recover(); r != nil {
			msg = nil
			err = malformed(name, kind, "decoder panic: %v", r)
		}
	}()

	var env envelope
	if len(data) > 1 {
		if err := unmarshal(data[1:], &env); err != nil {
			return nil, wrapped(name, err)
		}
	}
	return assemble(name, fields{
		kind:     kind,
		sequence: env.Sequence,
		route:    env.URL,
		event:    env.Event,
		sendTime: env.SendTime,
		status:   env.Status,
		data:     env.Data,
	})
}
