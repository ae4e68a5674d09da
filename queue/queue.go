// Package queue implements the thread-safe blocking priority queue
// described in §4.C: requests are ordered by (priority desc, sequence
// asc), where the sequence already encodes the FIFO/LIFO choice made at
// enqueue time.
//
// Grounded on the teacher's pkg/iobuf/blockfile.go and
// api/defined/v1/storage/object/object.go uses of kelindar/bitmap as a
// presence mask; here the bitmap tracks which of the five priority
// buckets currently hold items so Take can skip straight to the highest
// populated bucket instead of comparing across all of them on every pop.
package queue

import (
	"container/heap"
	"sync"

	"github.com/kelindar/bitmap"
)

// NumPriorities is the number of distinct priority buckets (§4.F).
const NumPriorities = 5

// Item is anything orderable by the queue: a priority ordinal in
// [0, NumPriorities) (higher is more urgent) and a monotonically assigned
// sequence number (ascending for FIFO, descending-encoded for LIFO).
type Item interface {
	QueuePriority() int
	QueueSequence() int64
}

// Queue is a blocking, priority-then-sequence ordered queue. The zero
// value is not usable; construct with New.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets [NumPriorities]seqHeap
	present bitmap.Bitmap
	closed  bool
}

func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put enqueues item. It is dropped silently if the queue has been closed
// (mirrors a dispatcher that has already quit discarding late work).
func (q *Queue) Put(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	p := item.QueuePriority()
	heap.Push(&q.buckets[p], item)
	q.present.Set(uint32(p))
	q.cond.Signal()
}

// Take blocks until an item is available and returns the highest-priority,
// lowest-sequence one. ok is false only once the queue has been closed and
// drained — the dispatcher's cue to exit its loop (§4.H "interrupt their
// blocking take").
func (q *Queue) Take() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		for p := NumPriorities - 1; p >= 0; p-- {
			if !q.present.Contains(uint32(p)) {
				continue
			}
			item := heap.Pop(&q.buckets[p]).(Item)
			if len(q.buckets[p]) == 0 {
				q.present.Remove(uint32(p))
			}
			return item, true
		}
		if q.closed {
			return nil, false
		}
		q.cond.Wait()
	}
}

// Len returns the total number of items currently queued, across all
// priority buckets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for p := range q.buckets {
		n += len(q.buckets[p])
	}
	return n
}

// Close marks the queue closed and wakes every blocked Take. Any items
// still queued are drained by Take (returning ok=true) before Take starts
// returning ok=false — Close stops future blocking, it does not discard
// work already staged.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// seqHeap is a container/heap.Interface ordered by ascending sequence
// number — within one priority bucket, lowest sequence (oldest, for FIFO;
// most-recently-submitted, for LIFO sequences) comes out first.
type seqHeap []Item

func (h seqHeap) Len() int { return len(h) }
func (h seqHeap) Less(i, j int) bool {
	return h[i].QueueSequence() < h[j].QueueSequence()
}
func (h seqHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *seqHeap) Push(x any)   { *h = append(*h, x.(Item)) }
func (h *seqHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
