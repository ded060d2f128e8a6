// Package eventqueue is a time-ordered queue of callbacks drained without blocking.
package eventqueue

import (
	"container/heap"
	"sync"
	"time"
)

// PanicHandler receives the value recovered from a panicking callback.
type PanicHandler func(at time.Time, recovered interface{})

// Queue holds callbacks keyed by (time, priority, insertion order).
type Queue struct {
	mu      sync.Mutex
	h       entryHeap
	seq     uint64
	onPanic PanicHandler
}

type entry struct {
	at       time.Time
	priority int
	seq      uint64
	fn       func()
}

// New creates an empty queue. onPanic may be nil.
func New(onPanic PanicHandler) *Queue {
	return &Queue{onPanic: onPanic}
}

// Enter schedules fn to run at at. Lower priorities run first among entries
// with the same time; equal priorities run in insertion order.
func (q *Queue) Enter(at time.Time, priority int, fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	heap.Push(&q.h, &entry{at: at, priority: priority, seq: q.seq, fn: fn})
}

// Len returns the number of pending callbacks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// Next returns the time of the earliest pending callback.
func (q *Queue) Next() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return time.Time{}, false
	}
	return q.h[0].at, true
}

// DropBefore discards every callback due strictly before t and returns how
// many were removed.
func (q *Queue) DropBefore(t time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := 0
	for len(q.h) > 0 && q.h[0].at.Before(t) {
		heap.Pop(&q.h)
		dropped++
	}
	return dropped
}

// RunPending runs, in order, every callback due at or before now and returns
// the delay until the next pending callback. ok is false when nothing is left.
// Callbacks run without the queue lock held and may enter new callbacks; a
// panic in one callback is recovered and does not stop the others.
func (q *Queue) RunPending(now time.Time) (delay time.Duration, ok bool) {
	for {
		e := q.popDue(now)
		if e == nil {
			break
		}
		q.run(e)
	}

	next, ok := q.Next()
	if !ok {
		return 0, false
	}
	delay = next.Sub(now)
	if delay < 0 {
		delay = 0
	}
	return delay, true
}

func (q *Queue) popDue(now time.Time) *entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 || q.h[0].at.After(now) {
		return nil
	}
	return heap.Pop(&q.h).(*entry)
}

func (q *Queue) run(e *entry) {
	defer func() {
		if r := recover(); r != nil && q.onPanic != nil {
			q.onPanic(e.at, r)
		}
	}()
	e.fn()
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if !h[i].at.Equal(h[j].at) {
		return h[i].at.Before(h[j].at)
	}
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
