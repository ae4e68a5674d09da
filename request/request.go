// Package request implements the per-request lifecycle state machine
// (§4.F): priority/sequence comparator, cancellation and delivery
// tracking, and duplicate-coalescing via a join-parent list.
package request

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omalloc/reqqueue/cache"
	"github.com/omalloc/reqqueue/transport"
)

// ParsedResponse is what a Parser produces from a NetworkResponse: the
// typed value to deliver, and, when the request is cacheable, the cache
// entry to persist.
type ParsedResponse struct {
	Result     any
	CacheEntry *cache.Entry
	Cacheable  bool
}

// Parser is the body→value contract request subclasses implement (§1,
// out of scope beyond its shape). SerializesParsing reports whether this
// parser must run under the network dispatcher pool's global parse mutex
// (true for memory-hungry kinds like images).
type Parser interface {
	ParseNetworkResponse(resp *transport.NetworkResponse) (*ParsedResponse, error)
	ParseNetworkError(err error) error
	SerializesParsing() bool
}

// Listener receives a request's terminal outcome.
type Listener interface {
	OnResponse(result any)
	OnError(err error)
}

// Request is one in-flight unit of work through the pipeline (§3).
type Request struct {
	ID     uuid.UUID
	Method string
	URL    string
	Tag    any

	Priority        Priority
	FIFO            bool
	ShouldCache     bool
	// ShouldCacheInstantly skips write-behind batching for this request's
	// cache write — put(instant=true) runs synchronously on the network
	// dispatcher instead of being staged and flushed after the delay
	// (§4.E step 6). Cheap, infrequently-written responses (e.g. a
	// once-per-session manifest) set this so a crash can't lose them even
	// before the write-behind journal would have covered it.
	ShouldCacheInstantly bool
	OfflineCache         bool
	ReturnStrategy       ReturnStrategy
	TTLOverride          time.Duration
	SoftTTLOverride      time.Duration

	RetryPolicy RetryPolicy
	Parser      Parser
	Listener    Listener

	// CacheEntry is the previously-cached header used to build conditional
	// revalidation headers (If-None-Match / If-Modified-Since), set by the
	// cache dispatcher before staging for network.
	CacheEntry *cache.Header

	seq int64

	mu                      sync.Mutex
	cancelled               bool
	finished                bool
	deliveryType            DeliveryType
	hasHadResponseDelivered bool
	joined                  bool
	waiters                 []*Request
	onFinish                func()
}

// SetOnFinish registers a hook invoked exactly once, the first time Finish
// runs, before waiters are fanned out. The queue facade (§4.H) uses this to
// deregister the request from its in-flight bookkeeping without every
// dispatcher needing to know about that table.
func (r *Request) SetOnFinish(fn func()) {
	r.mu.Lock()
	r.onFinish = fn
	r.mu.Unlock()
}

// New constructs a Request with NORMAL priority, FIFO ordering, caching
// enabled, and the DOUBLE return strategy — the defaults named in §4.F.
func New(method, url string) *Request {
	return &Request{
		ID:             uuid.New(),
		Method:         method,
		URL:            url,
		Priority:       Normal,
		FIFO:           true,
		ShouldCache:    true,
		ReturnStrategy: Double,
	}
}

// CacheKey is the request's cache identity (§3 "identity = (method, url)").
func (r *Request) CacheKey() string {
	return r.Method + " " + r.URL
}

// QueuePriority and QueueSequence satisfy queue.Item.
func (r *Request) QueuePriority() int   { return int(r.Priority) }
func (r *Request) QueueSequence() int64 { return r.seq }

// StampSequence assigns this request's sequence number from a monotonic
// counter shared across the queue's lifetime. FIFO requests get ascending
// sequences; LIFO requests get descending ones, so that within one
// priority level all FIFO requests drain before any LIFO ones (their
// sequences are numerically larger) — §4.C.
func (r *Request) StampSequence(next int64) {
	if r.FIFO {
		r.seq = next
	} else {
		r.seq = maxSequence - next
	}
}

const maxSequence = int64(1)<<63 - 1

// Cancel marks the request cancelled. Cancellation is monotonic (§3):
// once true, it never reverts.
func (r *Request) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = true
}

// Cancelled reports whether Cancel has been called.
func (r *Request) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// MarkDelivered records that a delivery of kind dt has occurred.
func (r *Request) MarkDelivered(dt DeliveryType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveryType = dt
	r.hasHadResponseDelivered = true
}

// HasHadResponseDelivered reports whether any delivery (cache or network)
// has occurred yet.
func (r *Request) HasHadResponseDelivered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasHadResponseDelivered
}

// DeliveryKind returns the last recorded delivery channel.
func (r *Request) DeliveryKind() DeliveryType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deliveryType
}

// IsFinished reports whether Finish has already run.
func (r *Request) IsFinished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// Finish runs the terminal transition: marks the request finished and
// fans out its last delivered result to any joined waiters. It is a
// no-op if already finished (§3 "once finished=true no further delivery
// occurs").
func (r *Request) Finish(deliver func(*Request)) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true
	waiters := r.waiters
	r.waiters = nil
	onFinish := r.onFinish
	r.mu.Unlock()

	if onFinish != nil {
		onFinish()
	}

	for _, w := range waiters {
		deliver(w)
		w.Finish(deliver)
	}
}

// Join attaches this request as a duplicate waiting on parent's result
// instead of executing itself (§3 "a request joined to a parent never
// executes itself"). It returns false if parent has already finished —
// the caller should then enqueue normally instead.
func (r *Request) Join(parent *Request) bool {
	parent.mu.Lock()
	defer parent.mu.Unlock()
	if parent.finished {
		return false
	}
	r.mu.Lock()
	r.joined = true
	r.mu.Unlock()
	parent.waiters = append(parent.waiters, r)
	return true
}

// Joined reports whether this request is coalesced onto another's result.
func (r *Request) Joined() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joined
}

// Deliver invokes the listener with result, unless the request is
// cancelled, in which case delivery is a no-op but the request still
// needs Finish called by the caller (§4.G).
func (r *Request) Deliver(result any) {
	if r.Cancelled() || r.Listener == nil {
		return
	}
	r.Listener.OnResponse(result)
}

// DeliverError invokes the listener's error path, subject to the same
// cancellation no-op rule.
func (r *Request) DeliverError(err error) {
	if r.Cancelled() || r.Listener == nil {
		return
	}
	r.Listener.OnError(err)
}
