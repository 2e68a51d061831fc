package transport

import "sync"

type queuedEvent struct {
	gen  uint64
	fn   func()
	keep bool
}

// Queue carries events from I/O goroutines to the polling goroutine. Every
// event is tagged with the session generation it belongs to; Reset starts a
// new generation, so events raised by connections of a stopped session are
// discarded instead of leaking into the next one.
type Queue struct {
	mu     sync.Mutex
	gen    uint64
	events []queuedEvent
}

// NewQueue creates an empty queue at generation zero.
func NewQueue() *Queue {
	return &Queue{}
}

// Generation returns the current generation.
func (q *Queue) Generation() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gen
}

// Reset drops pending session events and returns the new generation.
// Events queued with Notify survive.
func (q *Queue) Reset() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gen++
	kept := q.events[:0]
	for _, ev := range q.events {
		if ev.keep {
			kept = append(kept, ev)
		}
	}
	q.events = kept
	return q.gen
}

// Push enqueues fn for generation gen. It reports false, and drops fn, when
// gen is no longer current.
func (q *Queue) Push(gen uint64, fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.gen {
		return false
	}
	q.events = append(q.events, queuedEvent{gen: gen, fn: fn})
	return true
}

// Notify enqueues fn outside any generation. It runs on the next Drain even
// if the session that raised it has been reset since.
func (q *Queue) Notify(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, queuedEvent{fn: fn, keep: true})
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Drain runs every event queued before the call, in order, on the calling
// goroutine. An event whose generation was reset by an earlier event in the
// same drain is skipped unless it was queued with Notify. Events pushed
// while draining wait for the next call.
func (q *Queue) Drain() {
	q.mu.Lock()
	pending := q.events
	q.events = nil
	q.mu.Unlock()

	for _, ev := range pending {
		if !ev.keep && ev.gen != q.Generation() {
			continue
		}
		ev.fn()
	}
}
