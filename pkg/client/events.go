package client

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/vango-dev/taskwire/pkg/protocol"
)

// EventKind distinguishes lifecycle events from named server pushes.
type EventKind int

const (
	EventPush EventKind = iota
	EventConnect
	EventClose
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventPush:
		return "push"
	case EventConnect:
		return "connect"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// reservedTopics are lifecycle names that cannot be used as push events.
var reservedTopics = map[string]EventKind{
	"connect": EventConnect,
	"close":   EventClose,
	"error":   EventError,
}

// Subscription identifies one registered listener. Pass it to
// Client.Unsubscribe to remove the listener.
type Subscription struct {
	id    uint64
	kind  EventKind
	topic string
}

// Kind reports which kind of event the listener receives.
func (s *Subscription) Kind() EventKind { return s.kind }

// Topic is the push event name, or the lifecycle event name.
func (s *Subscription) Topic() string { return s.topic }

type listener struct {
	id      uint64
	push    func(*protocol.Push)
	connect func()
	closed  func(error)
	err     func(error)
}

// eventBus holds push listeners by event name and lifecycle listeners by
// kind. Dispatch order is registration order. Listeners survive
// reconnects.
//
// Pushes are queued by the read goroutine and delivered by a separate
// delivery goroutine, so a push listener may call back into the client.
type eventBus struct {
	mu        sync.RWMutex
	nextID    uint64
	topics    map[string][]listener
	lifecycle map[EventKind][]listener

	qmu     sync.Mutex
	queue   []*protocol.Push
	stopped bool
	wake    chan struct{}

	log     *slog.Logger
	metrics *Metrics
}

func newEventBus(log *slog.Logger, m *Metrics) *eventBus {
	b := &eventBus{
		topics:    make(map[string][]listener),
		lifecycle: make(map[EventKind][]listener),
		wake:      make(chan struct{}, 1),
		log:       log,
		metrics:   m,
	}
	go b.deliver()
	return b
}

func validateEvent(event string) error {
	if event == "" {
		return fmt.Errorf("%w: empty", ErrInvalidEvent)
	}
	if _, reserved := reservedTopics[event]; reserved {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidEvent, event)
	}
	return nil
}

func (b *eventBus) add(kind EventKind, topic string, l listener) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	l.id = b.nextID
	if kind == EventPush {
		b.topics[topic] = append(b.topics[topic], l)
	} else {
		b.lifecycle[kind] = append(b.lifecycle[kind], l)
	}
	return &Subscription{id: l.id, kind: kind, topic: topic}
}

func (b *eventBus) remove(sub *Subscription) bool {
	if sub == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var ls []listener
	if sub.kind == EventPush {
		ls = b.topics[sub.topic]
	} else {
		ls = b.lifecycle[sub.kind]
	}
	for i, l := range ls {
		if l.id != sub.id {
			continue
		}
		next := make([]listener, 0, len(ls)-1)
		next = append(next, ls[:i]...)
		next = append(next, ls[i+1:]...)
		switch {
		case sub.kind != EventPush:
			b.lifecycle[sub.kind] = next
		case len(next) == 0:
			delete(b.topics, sub.topic)
		default:
			b.topics[sub.topic] = next
		}
		return true
	}
	return false
}

// snapshot returns the push listeners for topic. Slices are replaced,
// never mutated in place, so callers may iterate without the lock.
func (b *eventBus) snapshot(topic string) []listener {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.topics[topic]
}

func (b *eventBus) lifecycleSnapshot(kind EventKind) []listener {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lifecycle[kind]
}

// count returns the listeners for a push event or a lifecycle name.
func (b *eventBus) count(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if kind, ok := reservedTopics[topic]; ok {
		return len(b.lifecycle[kind])
	}
	return len(b.topics[topic])
}

// enqueue hands p to the delivery goroutine. Pushes arriving after stop
// are dropped.
func (b *eventBus) enqueue(p *protocol.Push) {
	b.metrics.push(p.Event)
	b.qmu.Lock()
	if b.stopped {
		b.qmu.Unlock()
		b.log.Debug("dropping push after close", "event", p.Event)
		return
	}
	b.queue = append(b.queue, p)
	b.qmu.Unlock()
	b.signal()
}

func (b *eventBus) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// stop lets the delivery goroutine finish what is queued and exit.
func (b *eventBus) stop() {
	b.qmu.Lock()
	b.stopped = true
	b.qmu.Unlock()
	b.signal()
}

// deliver publishes queued pushes in arrival order until stopped and
// drained.
func (b *eventBus) deliver() {
	for {
		b.qmu.Lock()
		batch := b.queue
		b.queue = nil
		stopped := b.stopped
		b.qmu.Unlock()

		for _, p := range batch {
			b.publish(p)
		}
		if len(batch) > 0 {
			continue
		}
		if stopped {
			return
		}
		<-b.wake
	}
}

// publish delivers p to every listener of p.Event in order. Having no
// listener is not an error.
func (b *eventBus) publish(p *protocol.Push) {
	ls := b.snapshot(p.Event)
	if len(ls) == 0 {
		b.log.Debug("push without listeners", "event", p.Event)
		return
	}
	for _, l := range ls {
		b.invoke(p.Event, func() { l.push(p) })
	}
}

func (b *eventBus) emitConnect() {
	for _, l := range b.lifecycleSnapshot(EventConnect) {
		b.invoke("connect", l.connect)
	}
}

func (b *eventBus) emitClose(err error) {
	for _, l := range b.lifecycleSnapshot(EventClose) {
		b.invoke("close", func() { l.closed(err) })
	}
}

func (b *eventBus) emitError(err error) {
	for _, l := range b.lifecycleSnapshot(EventError) {
		b.invoke("error", func() { l.err(err) })
	}
}

// invoke runs fn, recovering and logging a panic so one listener cannot
// stop delivery to the rest.
func (b *eventBus) invoke(topic string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("listener panicked",
				"event", topic,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}
