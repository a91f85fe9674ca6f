// Package timer implements the single-threaded timer service described in
// spec.md §4.B: named one-shot or periodic timers with Add/Set/Get/Del,
// dispatched in non-decreasing deadline order with ties broken by insertion
// order.
//
// There is no synchronization here by design (spec.md §5): the Wheel is
// driven exclusively by the event dispatcher's single goroutine, and every
// callback re-resolves whatever state it needs by key rather than holding a
// pointer across suspension points (spec.md §9).
package timer

import (
	"container/heap"
	"time"
)

// Handle identifies a scheduled timer. The zero Handle means "no timer" —
// Del returns it so call sites can write `h = wheel.Del(h)` to clear their
// stored handle and cancel the timer in one expression.
type Handle uint64

// Callback is invoked when a timer fires. now is the dispatch time used for
// this tick, not necessarily time.Now() at the instant the callback runs.
type Callback func(now time.Time)

type entry struct {
	handle   Handle
	deadline time.Time
	period   time.Duration // 0 for one-shot
	seq      uint64        // insertion order, breaks deadline ties
	cb       Callback
	index    int // heap index, -1 when not queued
}

// Wheel is a monotonic, single-threaded timer service.
type Wheel struct {
	entries map[Handle]*entry
	pq      timerHeap
	nextID  Handle
	seq     uint64
}

// New returns an empty Wheel.
func New() *Wheel {
	return &Wheel{entries: make(map[Handle]*entry)}
}

// Add schedules a callback to run once after initial elapses, and then
// (if period > 0) every period thereafter, relative to now.
func (w *Wheel) Add(now time.Time, initial, period time.Duration, cb Callback) Handle {
	w.nextID++
	h := w.nextID
	w.seq++
	e := &entry{
		handle:   h,
		deadline: now.Add(initial),
		period:   period,
		seq:      w.seq,
		cb:       cb,
		index:    -1,
	}
	w.entries[h] = e
	heap.Push(&w.pq, e)
	return h
}

// Set reschedules an existing timer to fire after d elapses from now,
// discarding any remaining time on its current deadline. Set on an unknown
// or already-fired handle is a no-op.
func (w *Wheel) Set(now time.Time, h Handle, d time.Duration) {
	e, ok := w.entries[h]
	if !ok {
		return
	}
	w.seq++
	e.seq = w.seq
	e.deadline = now.Add(d)
	if e.index >= 0 {
		heap.Fix(&w.pq, e.index)
	} else {
		heap.Push(&w.pq, e)
	}
}

// Get returns the remaining time on h in milliseconds, or 0 if h is unknown,
// already fired, or already due.
func (w *Wheel) Get(now time.Time, h Handle) int64 {
	e, ok := w.entries[h]
	if !ok {
		return 0
	}
	remaining := e.deadline.Sub(now).Milliseconds()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Del cancels h, preventing any queued-but-not-yet-dispatched callback from
// running, and returns the zero Handle so callers can write
// `g.handle = wheel.Del(g.handle)` to make "cancel and clear" atomic.
// Cancelling an already-fired (or unknown) handle is a no-op.
func (w *Wheel) Del(h Handle) Handle {
	e, ok := w.entries[h]
	if !ok {
		return 0
	}
	if e.index >= 0 {
		heap.Remove(&w.pq, e.index)
	}
	delete(w.entries, h)
	return 0
}

// NextDeadline returns the deadline of the earliest pending timer and true,
// or the zero time and false if no timer is scheduled. The dispatcher uses
// this as the timeout for its blocking I/O wait.
func (w *Wheel) NextDeadline() (time.Time, bool) {
	if len(w.pq) == 0 {
		return time.Time{}, false
	}
	return w.pq[0].deadline, true
}

// Tick runs every callback whose deadline is at or before now, in
// non-decreasing deadline order with ties broken by insertion order. A
// callback that reschedules or deletes a timer from within Tick is safe: the
// heap is only consulted between callback invocations, and Tick snapshots
// nothing that a callback scheduled from inside another callback could run
// in this same pass (spec.md §5 — "a callback scheduled from inside a
// callback is never run in that same pass").
func (w *Wheel) Tick(now time.Time) {
	var due []*entry
	for len(w.pq) > 0 && !w.pq[0].deadline.After(now) {
		e := heap.Pop(&w.pq).(*entry)
		e.index = -1
		due = append(due, e)
	}

	for _, e := range due {
		if _, alive := w.entries[e.handle]; !alive {
			continue // deleted by an earlier callback in this same pass
		}
		if e.period > 0 {
			w.seq++
			e.seq = w.seq
			e.deadline = e.deadline.Add(e.period)
			heap.Push(&w.pq, e)
		} else {
			delete(w.entries, e.handle)
		}
		e.cb(now)
	}
}

type timerHeap []*entry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
