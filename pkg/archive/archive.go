// Package archive records pushes as compressed JSON-lines batches.
//
// A Recorder subscribes to push events, buffers each one as a Record and
// hands full batches to a Sink. A batch is flushed when it reaches the
// batch size, when the flush interval has passed since its first record,
// and on Close. Object keys look like
//
//	prefix/20260301/090000-1a2b3c4d5e6f7a8b.jsonl.zst
//
// where the hex part is the BLAKE3 digest of the uncompressed batch.
package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"

	"github.com/vango-dev/taskwire/internal/clock"
	"github.com/vango-dev/taskwire/pkg/client"
	"github.com/vango-dev/taskwire/pkg/protocol"
)

const (
	DefaultBatchSize     = 500
	DefaultFlushInterval = time.Minute
)

// ErrClosed is returned by Attach after Close.
var ErrClosed = errors.New("archive: recorder closed")

// Record is one archived push.
type Record struct {
	Event      string          `json:"event"`
	Status     int             `json:"status"`
	SendTime   int64           `json:"sendTime"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Data       json.RawMessage `json:"data"`
}

// Subscriber registers push listeners. *client.Client satisfies it.
type Subscriber interface {
	Subscribe(event string, fn func(*protocol.Push)) (*client.Subscription, error)
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithBatchSize flushes once n records are buffered.
func WithBatchSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithFlushInterval flushes a partial batch d after its first record.
func WithFlushInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithCompression sets the batch compression.
func WithCompression(c Compression) Option {
	return func(r *Recorder) { r.compression = c }
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(r *Recorder) { r.prefix = strings.Trim(prefix, "/") }
}

// WithClock sets the clock for timestamps and the flush timer.
func WithClock(c clock.Clock) Option {
	return func(r *Recorder) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Recorder) { r.log = log }
}

// Recorder batches pushes into a Sink.
type Recorder struct {
	sink        Sink
	clock       clock.Clock
	log         *slog.Logger
	batchSize   int
	interval    time.Duration
	compression Compression
	prefix      string

	mu      sync.Mutex
	buf     []Record
	timer   *clock.Timer
	closed  bool
	gen     uint64
	subs    []*client.Subscription
	batches chan []Record
	wg      sync.WaitGroup

	errMu sync.Mutex
	errs  []error

	records atomic.Int64
	written atomic.Int64
}

// New returns a recorder writing to sink and starts its writer.
func New(sink Sink, opts ...Option) *Recorder {
	r := &Recorder{
		sink:        sink,
		batchSize:   DefaultBatchSize,
		interval:    DefaultFlushInterval,
		compression: CompressionZstd,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.clock == nil {
		r.clock = clock.Real()
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	r.log = r.log.With("component", "taskwire.archive")
	r.batches = make(chan []Record, 4)

	r.wg.Add(1)
	go r.writer()
	return r
}

// Attach subscribes the recorder to each event on s.
func (r *Recorder) Attach(s Subscriber, events ...string) error {
	for _, event := range events {
		r.mu.Lock()
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return ErrClosed
		}
		sub, err := s.Subscribe(event, r.Record)
		if err != nil {
			return fmt.Errorf("archive: subscribe %q: %w", event, err)
		}
		r.mu.Lock()
		r.subs = append(r.subs, sub)
		r.mu.Unlock()
	}
	return nil
}

// Unsubscriber removes listeners. *client.Client satisfies it.
type Unsubscriber interface {
	Unsubscribe(sub *client.Subscription) bool
}

// Detach removes the recorder's subscriptions from c.
func (r *Recorder) Detach(c Unsubscriber) {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()
	for _, sub := range subs {
		c.Unsubscribe(sub)
	}
}

// Record buffers one push. Pushes after Close are dropped.
func (r *Recorder) Record(p *protocol.Push) {
	rec := Record{
		Event:      p.Event,
		Status:     int(p.Status),
		SendTime:   p.SendTime,
		ReceivedAt: r.clock.Now().UTC(),
		Data:       p.Data,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.records.Add(1)
	r.buf = append(r.buf, rec)
	if len(r.buf) >= r.batchSize {
		r.queueLocked()
		return
	}
	if len(r.buf) == 1 {
		gen := r.gen
		r.timer = r.clock.AfterFunc(r.interval, func() { r.flushDue(gen) })
	}
}

func (r *Recorder) flushDue(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || gen != r.gen {
		return
	}
	r.queueLocked()
}

// queueLocked hands the buffer to the writer. r.mu must be held.
func (r *Recorder) queueLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if len(r.buf) == 0 {
		return
	}
	batch := r.buf
	r.buf = nil
	r.gen++
	r.batches <- batch
}

func (r *Recorder) writer() {
	defer r.wg.Done()
	for batch := range r.batches {
		if err := r.write(context.Background(), batch); err != nil {
			r.log.Error("batch write failed", "records", len(batch), "error", err)
			r.errMu.Lock()
			r.errs = append(r.errs, err)
			r.errMu.Unlock()
		}
	}
}

func (r *Recorder) write(ctx context.Context, batch []Record) error {
	body, err := encodeBatch(batch)
	if err != nil {
		return err
	}
	key := r.key(body)
	packed, err := compress(r.compression, body)
	if err != nil {
		return err
	}
	if err := r.sink.Put(ctx, key, packed); err != nil {
		return err
	}
	r.written.Add(int64(len(batch)))
	r.log.Info("batch archived", "key", key, "records", len(batch), "bytes", len(packed))
	return nil
}

func (r *Recorder) key(body []byte) string {
	sum := blake3.Sum256(body)
	now := r.clock.Now().UTC()
	name := fmt.Sprintf("%s-%s.jsonl%s",
		now.Format("150405"), hex.EncodeToString(sum[:8]), r.compression.Ext())
	return path.Join(r.prefix, now.Format("20060102"), name)
}

// Stats reports how many records were buffered and how many reached the
// sink.
func (r *Recorder) Stats() (recorded, written int64) {
	return r.records.Load(), r.written.Load()
}

// Close flushes the partial batch, waits for the writer and returns every
// write error seen. Close is idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.wg.Wait()
		return r.err()
	}
	r.queueLocked()
	r.closed = true
	close(r.batches)
	r.mu.Unlock()

	r.wg.Wait()
	return r.err()
}

func (r *Recorder) err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return errors.Join(r.errs...)
}

func encodeBatch(batch []Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range batch {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("archive: encode record: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// Decode reads a stored batch back into records. The compression is taken
// from the key's extension.
func Decode(key string, body []byte) ([]Record, error) {
	c := CompressionNone
	switch {
	case strings.HasSuffix(key, CompressionZstd.Ext()):
		c = CompressionZstd
	case strings.HasSuffix(key, CompressionLZ4.Ext()):
		c = CompressionLZ4
	}
	raw, err := decompress(c, body)
	if err != nil {
		return nil, err
	}
	var out []Record
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), protocol.MaxFrameSize*2)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("archive: decode record: %w", err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}
