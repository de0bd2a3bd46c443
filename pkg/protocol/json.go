package protocol

import (
	"bytes"
	"encoding/json"
	"math"
)

// JSONCodec is the default text codec. A frame is one JSON object:
//
//	{"ctype":"request","sequence":"…","url":"/task/list","sendTime":1700000000000,"data":{}}
//	{"ctype":"response","sequence":"…","sendTime":…,"status":200,"data":[…]}
//	{"ctype":"push","event":"block_num","sendTime":…,"status":200,"data":7}
//	{"ctype":"ping","sendTime":…}
//
// Decode also accepts "type" as the discriminant, "route" in place of
// "url" and "correlation_id" in place of "sequence", as older servers send
// them.
type JSONCodec struct{}

type jsonFrame struct {
	CType    Kind            `json:"ctype"`
	Sequence string          `json:"sequence,omitempty"`
	URL      string          `json:"url,omitempty"`
	Event    string          `json:"event,omitempty"`
	SendTime int64           `json:"sendTime"`
	Status   *int            `json:"status,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// jsonInbound accepts floats for sendTime and status.
type jsonInbound struct {
	CType    Kind            `json:"ctype"`
	Type     Kind            `json:"type"`
	Sequence json.RawMessage `json:"sequence"`
	CorrID   json.RawMessage `json:"correlation_id"`
	URL      string          `json:"url"`
	Route    string          `json:"route"`
	Event    string          `json:"event"`
	SendTime json.Number     `json:"sendTime"`
	Status   json.Number     `json:"status"`
	Data     json.RawMessage `json:"data"`
}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Binary() bool { return false }

// Encode renders m as a single JSON object.
func (JSONCodec) Encode(m Message) ([]byte, error) {
	f, err := explode(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonFrame{
		CType:    f.kind,
		Sequence: f.sequence,
		URL:      f.route,
		Event:    f.event,
		SendTime: f.sendTime,
		Status:   f.status,
		Data:     f.data,
	})
}

// Decode parses a JSON frame.
func (JSONCodec) Decode(data []byte) (Message, error) {
	const name = "json"
	if derr := checkSize(name, data); derr != nil {
		return nil, derr
	}

	var in jsonInbound
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&in); err != nil {
		return nil, wrapped(name, err)
	}

	f := fields{
		kind:  in.CType,
		route: in.URL,
		event: in.Event,
		data:  in.Data,
	}
	if f.kind == "" {
		f.kind = in.Type
	}
	if f.route == "" {
		f.route = in.Route
	}
	if isNull(f.data) {
		f.data = nil
	}

	rawSeq := in.Sequence
	if isNull(rawSeq) {
		rawSeq = in.CorrID
	}
	seq, ok := sequenceString(rawSeq)
	if !ok {
		return nil, malformed(name, f.kind, "sequence must be a string or number")
	}
	f.sequence = seq

	if in.SendTime != "" {
		ms, ok := integral(in.SendTime)
		if !ok {
			return nil, malformed(name, f.kind, "sendTime %q is not a timestamp", in.SendTime)
		}
		f.sendTime = ms
	}
	if in.Status != "" {
		st, ok := integral(in.Status)
		if !ok || st < math.MinInt32 || st > math.MaxInt32 {
			return nil, malformed(name, f.kind, "status %q is not an integer", in.Status)
		}
		s := int(st)
		f.status = &s
	}

	return assemble(name, f)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// sequenceString accepts string ids and, for counter-based peers, plain
// integers.
func sequenceString(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if _, ok := integral(n); ok {
			return n.String(), true
		}
	}
	return "", false
}

func integral(n json.Number) (int64, bool) {
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
