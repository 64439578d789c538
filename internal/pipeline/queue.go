package pipeline

import (
	"sync/atomic"
	"time"
)

// Queue is the bounded FIFO buffer between sensor workers and the
// single consumer. Enqueue never blocks; a full queue drops the
// arriving event (drop-newest) and counts it.
type Queue struct {
	ch      chan Event
	dropped uint64
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Event, capacity)}
}

// TryEnqueue offers an event without blocking. It reports false and
// increments the drop counter when the queue is full.
func (q *Queue) TryEnqueue(ev Event) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		atomic.AddUint64(&q.dropped, 1)
		return false
	}
}

// Dequeue takes the oldest event, waiting up to timeout. The second
// return value is false when nothing arrived in time.
func (q *Queue) Dequeue(timeout time.Duration) (Event, bool) {
	select {
	case ev := <-q.ch:
		return ev, true
	case <-time.After(timeout):
		return Event{}, false
	}
}

// TryDequeue takes the oldest event without waiting.
func (q *Queue) TryDequeue() (Event, bool) {
	select {
	case ev := <-q.ch:
		return ev, true
	default:
		return Event{}, false
	}
}

func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Dropped returns the number of enqueue attempts rejected because the
// queue was full. The counter only resets with the process.
func (q *Queue) Dropped() uint64 {
	return atomic.LoadUint64(&q.dropped)
}
