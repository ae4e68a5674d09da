// Package delivery posts request outcomes onto a single logical delivery
// context (§4.G), guaranteeing total ordering of deliveries for a given
// request and turning deliveries against an already-cancelled request
// into a no-op-but-finish.
//
// Grounded on server/mod/accesslog.go's single-goroutine event loop
// pattern (teacher posts access-log records onto one ordered channel
// rather than logging from arbitrary goroutines) generalized here to
// posting response/error callbacks.
package delivery

import (
	"sync"

	"github.com/omalloc/reqqueue/internal/constants"
	"github.com/omalloc/reqqueue/request"
)

// CacheStatus annotates a delivered response with how the cache engine
// handled it — a supplemental affordance (SPEC_FULL.md) analogous to an
// HTTP X-Cache response header.
type CacheStatus int

const (
	StatusUnknown CacheStatus = iota
	StatusHit
	StatusStaleHit
	StatusMiss
	StatusNetwork
)

func (s CacheStatus) String() string {
	switch s {
	case StatusHit:
		return "HIT"
	case StatusStaleHit:
		return "STALE"
	case StatusMiss:
		return "MISS"
	case StatusNetwork:
		return "NETWORK"
	default:
		return "UNKNOWN"
	}
}

// HeaderName is the response header (internal/constants.HeaderCacheStatus)
// an HTTP-facing caller should set to s.String().
func (s CacheStatus) HeaderName() string { return constants.HeaderCacheStatus }

// Delivery is a single posted outcome.
type Delivery struct {
	Req         *request.Request
	Result      any
	Err         error
	CacheStatus CacheStatus
	Run         func() // optional extra runnable, posted alongside the result (§4.G)
}

// Context is the delivery component: a single serialized queue of
// deliveries, drained by one worker goroutine so that deliveries for any
// given request (and across requests) are totally ordered.
type Context struct {
	mu       sync.Mutex
	queue    []Delivery
	notEmpty chan struct{}
	stop     chan struct{}
	done     chan struct{}
}

// NewContext starts a delivery context's worker goroutine.
func NewContext() *Context {
	c := &Context{
		notEmpty: make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.loop()
	return c
}

// Post enqueues d for delivery. An HTTP-facing caller translates
// d.CacheStatus into a response header; this package only carries the
// value.
func (c *Context) Post(d Delivery) {
	c.mu.Lock()
	c.queue = append(c.queue, d)
	c.mu.Unlock()

	select {
	case c.notEmpty <- struct{}{}:
	default:
	}
}

func (c *Context) loop() {
	defer close(c.done)
	for {
		c.mu.Lock()
		pending := c.queue
		c.queue = nil
		c.mu.Unlock()

		for _, d := range pending {
			c.deliver(d)
		}

		select {
		case <-c.stop:
			// drain whatever was posted before Stop was observed
			c.mu.Lock()
			rest := c.queue
			c.queue = nil
			c.mu.Unlock()
			for _, d := range rest {
				c.deliver(d)
			}
			return
		case <-c.notEmpty:
			continue
		}
	}
}

func (c *Context) deliver(d Delivery) {
	if d.Req.Cancelled() {
		// no-op-but-finish (§4.G)
		d.Req.Finish(func(w *request.Request) {})
		return
	}

	if d.Err != nil {
		d.Req.DeliverError(d.Err)
	} else {
		d.Req.Deliver(d.Result)
	}
	if d.Run != nil {
		d.Run()
	}
}

// Stop terminates the delivery context after draining whatever was
// already posted.
func (c *Context) Stop() {
	close(c.stop)
	<-c.done
}
