package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vango-dev/taskwire/internal/clock"
	"github.com/vango-dev/taskwire/pkg/client"
	"github.com/vango-dev/taskwire/pkg/protocol"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type memSink struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newMemSink() *memSink { return &memSink{objects: map[string][]byte{}} }

func (m *memSink) Put(ctx context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.objects[key] = append([]byte(nil), body...)
	return nil
}

func (m *memSink) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *memSink) records(t *testing.T) []Record {
	t.Helper()
	var out []Record
	for _, k := range m.keys() {
		m.mu.Lock()
		body := m.objects[k]
		m.mu.Unlock()
		recs, err := Decode(k, body)
		if err != nil {
			t.Fatalf("decode %s: %v", k, err)
		}
		out = append(out, recs...)
	}
	return out
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func push(t *testing.T, event string, data any) *protocol.Push {
	t.Helper()
	p, err := protocol.NewPush(event, protocol.StatusOK, data)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

var keyPattern = regexp.MustCompile(`^pushes/20260301/090000-[0-9a-f]{16}\.jsonl(\.zst|\.lz4)?$`)

func TestBatchBySize(t *testing.T) {
	sink := newMemSink()
	clk := clock.Fake(epoch)
	r := New(sink, WithBatchSize(3), WithClock(clk), WithPrefix("/pushes/"), WithLogger(quiet()))

	for i := 0; i < 7; i++ {
		r.Record(push(t, "block_num", i))
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	keys := sink.keys()
	if len(keys) != 3 {
		t.Fatalf("keys = %v, want 3 batches", keys)
	}
	for _, k := range keys {
		if !keyPattern.MatchString(k) {
			t.Errorf("key %q has wrong shape", k)
		}
	}
	recs := sink.records(t)
	if len(recs) != 7 {
		t.Fatalf("records = %d", len(recs))
	}
	if recorded, written := r.Stats(); recorded != 7 || written != 7 {
		t.Errorf("stats = %d, %d", recorded, written)
	}
}

func TestBatchByInterval(t *testing.T) {
	sink := newMemSink()
	clk := clock.Fake(epoch)
	r := New(sink, WithFlushInterval(30*time.Second), WithClock(clk), WithLogger(quiet()))
	defer r.Close()

	r.Record(push(t, "info", map[string]string{"msg": "hello"}))
	clk.Advance(29 * time.Second)
	if n := len(sink.keys()); n != 0 {
		t.Fatalf("flushed early: %d", n)
	}
	clk.Advance(time.Second)

	deadline := time.Now().Add(5 * time.Second)
	for len(sink.keys()) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("interval flush never happened")
		}
		time.Sleep(time.Millisecond)
	}
	recs := sink.records(t)
	if recs[0].Event != "info" || string(recs[0].Data) != `{"msg":"hello"}` || !recs[0].ReceivedAt.Equal(epoch) {
		t.Errorf("record = %+v", recs[0])
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(string(c), func(t *testing.T) {
			sink := newMemSink()
			r := New(sink, WithCompression(c), WithClock(clock.Fake(epoch)), WithLogger(quiet()))
			r.Record(push(t, "task-item/add", []map[string]any{{"id": 1, "name": "x"}}))
			r.Record(push(t, "block_num", 9))
			if err := r.Close(); err != nil {
				t.Fatal(err)
			}
			keys := sink.keys()
			if len(keys) != 1 || !strings.HasSuffix(keys[0], ".jsonl"+c.Ext()) {
				t.Fatalf("keys = %v", keys)
			}
			recs := sink.records(t)
			if len(recs) != 2 || recs[1].Event != "block_num" || string(recs[1].Data) != "9" {
				t.Errorf("records = %+v", recs)
			}
		})
	}
}

func TestParseCompression(t *testing.T) {
	if c, err := ParseCompression(""); err != nil || c != CompressionZstd {
		t.Errorf("empty = %v, %v", c, err)
	}
	if _, err := ParseCompression("gzip"); err == nil {
		t.Error("gzip accepted")
	}
}

func TestWriteErrorsReturnedByClose(t *testing.T) {
	sink := newMemSink()
	sink.err = errors.New("disk full")
	r := New(sink, WithClock(clock.Fake(epoch)), WithLogger(quiet()))
	r.Record(push(t, "info", nil))
	if err := r.Close(); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("Close = %v", err)
	}
	r.Record(push(t, "info", nil))
	if recorded, _ := r.Stats(); recorded != 1 {
		t.Errorf("record after close counted: %d", recorded)
	}
}

type fakeSubscriber struct {
	mu        sync.Mutex
	listeners map[string]func(*protocol.Push)
}

func (f *fakeSubscriber) Subscribe(event string, fn func(*protocol.Push)) (*client.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listeners == nil {
		f.listeners = map[string]func(*protocol.Push){}
	}
	f.listeners[event] = fn
	return &client.Subscription{}, nil
}

func TestAttach(t *testing.T) {
	sink := newMemSink()
	r := New(sink, WithClock(clock.Fake(epoch)), WithLogger(quiet()))
	sub := &fakeSubscriber{}
	if err := r.Attach(sub, "block_num", "info"); err != nil {
		t.Fatal(err)
	}
	sub.listeners["block_num"](push(t, "block_num", 1))
	sub.listeners["info"](push(t, "info", map[string]int{"status": 1}))
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if recs := sink.records(t); len(recs) != 2 {
		t.Errorf("records = %d", len(recs))
	}
	if err := r.Attach(sub, "late"); !errors.Is(err, ErrClosed) {
		t.Errorf("Attach after close = %v", err)
	}
}

func TestDirSink(t *testing.T) {
	root := t.TempDir()
	r := New(DirSink{Root: root}, WithPrefix("archive"), WithClock(clock.Fake(epoch)), WithLogger(quiet()))
	r.Record(push(t, "block_num", 5))
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	matches, err := filepath.Glob(filepath.Join(root, "archive", "20260301", "090000-*.jsonl.zst"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("files = %v, %v", matches, err)
	}
	body, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	recs, err := Decode(matches[0], body)
	if err != nil || len(recs) != 1 || string(recs[0].Data) != "5" {
		t.Errorf("records = %+v, %v", recs, err)
	}
}

type fakeS3 struct {
	in *s3.PutObjectInput
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	return &s3.PutObjectOutput{}, nil
}

func TestS3Sink(t *testing.T) {
	api := &fakeS3{}
	sink := NewS3Sink(api, "pushes-bucket")
	if err := sink.Put(context.Background(), "a/b.jsonl", []byte("{}\n")); err != nil {
		t.Fatal(err)
	}
	if aws.ToString(api.in.Bucket) != "pushes-bucket" || aws.ToString(api.in.Key) != "a/b.jsonl" {
		t.Errorf("input = %+v", api.in)
	}
	if aws.ToString(api.in.ContentType) != "application/x-ndjson" {
		t.Errorf("content type = %s", aws.ToString(api.in.ContentType))
	}
	body, _ := io.ReadAll(api.in.Body)
	if string(body) != "{}\n" {
		t.Errorf("body = %q", body)
	}
}
