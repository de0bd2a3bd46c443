// Package ratelimit enforces a minimum interval between invocations of
// keyed operations.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/vango-dev/taskwire/internal/clock"
)

// Throttle runs each key at most once per interval. Calls inside the
// window are coalesced into a single trailing call at the end of it, so
// the last request made during a burst always runs.
type Throttle struct {
	clock    clock.Clock
	interval time.Duration

	mu    sync.Mutex
	slots map[string]*slot
	done  bool
}

type slot struct {
	last    time.Time
	ran     bool
	pending func()       // trailing call, latest wins
	timer   *clock.Timer // armed while pending is set
}

// New returns a Throttle with the given minimum interval. A nil clock
// means the real clock.
func New(interval time.Duration, clk clock.Clock) *Throttle {
	if clk == nil {
		clk = clock.Real()
	}
	return &Throttle{
		clock:    clk,
		interval: interval,
		slots:    make(map[string]*slot),
	}
}

// Interval returns the minimum spacing between runs of one key.
func (t *Throttle) Interval() time.Duration { return t.interval }

// Do runs fn now if key has not run within the interval and reports
// true. Otherwise fn replaces any queued call for key, runs when the
// window ends, and Do reports false. After Stop, Do drops fn.
func (t *Throttle) Do(key string, fn func()) bool {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return false
	}
	s := t.slot(key)
	now := t.clock.Now()
	if wait := t.remaining(s, now); wait > 0 {
		s.pending = fn
		if s.timer == nil {
			s.timer = t.clock.AfterFunc(wait, func() { t.fire(key) })
		}
		t.mu.Unlock()
		return false
	}
	s.last, s.ran = now, true
	t.mu.Unlock()

	fn()
	return true
}

// Allow records a run of key and reports true if the interval has passed
// since the previous one. It never queues.
func (t *Throttle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return false
	}
	s := t.slot(key)
	now := t.clock.Now()
	if t.remaining(s, now) > 0 {
		return false
	}
	s.last, s.ran = now, true
	return true
}

// Wait blocks until key may run, records the run and returns nil. It
// returns ctx.Err() if ctx ends first.
func (t *Throttle) Wait(ctx context.Context, key string) error {
	for {
		t.mu.Lock()
		s := t.slot(key)
		now := t.clock.Now()
		wait := t.remaining(s, now)
		if wait <= 0 {
			s.last, s.ran = now, true
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()

		select {
		case <-t.clock.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop cancels every queued trailing call.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	for _, s := range t.slots {
		s.timer.Stop()
		s.timer = nil
		s.pending = nil
	}
}

func (t *Throttle) slot(key string) *slot {
	s, ok := t.slots[key]
	if !ok {
		s = &slot{}
		t.slots[key] = s
	}
	return s
}

func (t *Throttle) remaining(s *slot, now time.Time) time.Duration {
	if !s.ran {
		return 0
	}
	return s.last.Add(t.interval).Sub(now)
}

func (t *Throttle) fire(key string) {
	t.mu.Lock()
	s := t.slots[key]
	if s == nil || s.pending == nil {
		t.mu.Unlock()
		return
	}
	fn := s.pending
	s.pending = nil
	s.timer = nil
	s.last, s.ran = t.clock.Now(), true
	t.mu.Unlock()

	fn()
}
