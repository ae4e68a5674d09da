// Package reqqueue is the request queue facade (§4.H): it joins the cache
// dispatcher, the network dispatcher pool, and the delivery context into
// one client-facing entry point — Add a request, get delivery callbacks
// back, Stop to tear everything down.
//
// Grounded on storage/storage.go's Storage as the top-level owner that
// wires bucket/selector/indexdb collaborators together and exposes a
// small public surface (Open/Close/Get/Put/...); here the collaborators
// are the queue, cache, and dispatcher packages instead of storage
// buckets.
package reqqueue

import (
	"sync"
	"sync/atomic"

	"dario.cat/mergo"

	"github.com/omalloc/reqqueue/cache"
	"github.com/omalloc/reqqueue/contrib/log"
	"github.com/omalloc/reqqueue/delivery"
	"github.com/omalloc/reqqueue/dispatch"
	"github.com/omalloc/reqqueue/internal/constants"
	"github.com/omalloc/reqqueue/queue"
	"github.com/omalloc/reqqueue/request"
	"github.com/omalloc/reqqueue/transport"
)

// Defaults are per-queue fallback values merged onto a request at Add time
// via dario.cat/mergo (§4.H "Default per-call request options are merged
// with queue-wide defaults"), so callers building a *request.Request only
// need to set the fields they want to override.
//
// Caveat (DESIGN.md): mergo fills only zero-valued fields, and
// request.Background, request.Double, FIFO=false (LIFO) and
// ShouldCache=false are all zero values — a caller who explicitly sets any
// of them is indistinguishable from one who left the field unset, and gets
// the queue default instead. Add applies this merge to every request, so
// such a value survives Add only when the queue's own Defaults carry the
// same zero value.
type Defaults struct {
	Priority       request.Priority
	FIFO           bool
	ShouldCache    bool
	ReturnStrategy request.ReturnStrategy
}

// DefaultDefaults mirrors request.New's own defaults (§4.F).
func DefaultDefaults() Defaults {
	return Defaults{
		Priority:       request.Normal,
		FIFO:           true,
		ShouldCache:    true,
		ReturnStrategy: request.Double,
	}
}

// Options configures a Queue.
type Options struct {
	Cache           cache.Options
	NetworkPoolSize int // default constants.DefaultNetworkPoolSize
	Transport       transport.Transport
	Defaults        Defaults
}

// Queue is the request queue facade (§4.H).
type Queue struct {
	cache     cache.Cache
	cacheQ    *queue.Queue
	networkQ  *queue.Queue
	cacheD    *dispatch.CacheDispatcher
	networkP  *dispatch.NetworkDispatcherPool
	delivery  *delivery.Context
	defaults  Defaults
	log       *log.Helper

	mu       sync.Mutex
	inflight map[string]*request.Request // cache-key -> the in-flight "parent" request, for join coalescing
	current  map[*request.Request]struct{} // every added, not-yet-finished request, for cancelAll

	seq     int64 // atomic, next sequence to assign (§4.C/§4.F)
	started bool
}

// New builds a Queue. Cache.Root must be set; everything else defaults
// per §6.
func New(opts Options) *Queue {
	if opts.NetworkPoolSize <= 0 {
		opts.NetworkPoolSize = constants.DefaultNetworkPoolSize
	}
	if opts.Cache.MaxBytes <= 0 {
		opts.Cache.MaxBytes = constants.DefaultMaxCacheBytes
	}
	if opts.Transport == nil {
		opts.Transport = transport.NewHTTPTransport(nil)
	}
	if (opts.Defaults == Defaults{}) {
		opts.Defaults = DefaultDefaults()
	}

	c := cache.New(opts.Cache)
	cacheQ := queue.New()
	networkQ := queue.New()
	deliveryCtx := delivery.NewContext()

	q := &Queue{
		cache:    c,
		cacheQ:   cacheQ,
		networkQ: networkQ,
		cacheD:   dispatch.NewCacheDispatcher(cacheQ, networkQ, c, deliveryCtx),
		networkP: dispatch.NewNetworkDispatcherPool(networkQ, c, deliveryCtx, opts.Transport, opts.NetworkPoolSize),
		delivery: deliveryCtx,
		defaults: opts.Defaults,
		log:      log.NewHelper(log.GetLogger()),
		inflight: make(map[string]*request.Request),
		current:  make(map[*request.Request]struct{}),
	}
	return q
}

// Start initializes the cache engine synchronously, then starts the cache
// dispatcher and the network dispatcher pool (§4.H "start()").
func (q *Queue) Start() error {
	if err := q.cache.Initialize(); err != nil {
		return err
	}
	q.cacheD.Start()
	q.networkP.Start()
	q.started = true
	return nil
}

// Stop closes both staging queues — interrupting every dispatcher's
// blocking Take() (§4.H "stop()") — waits for them to drain, and tears
// down the delivery context and cache engine.
func (q *Queue) Stop() {
	q.cacheQ.Close()
	q.networkQ.Close()
	q.cacheD.Wait()
	q.networkP.Wait()
	q.delivery.Stop()
	_ = q.cache.Close()
}

// Add submits req: stamps its sequence, applies queue-wide defaults,
// and either routes it straight to the network staging queue (when
// caching is disabled or the return strategy is NETWORK_ONLY) or
// deduplicates it against any identical in-flight cache key before
// staging it for the cache dispatcher (§4.H "add()").
func (q *Queue) Add(req *request.Request) {
	q.applyDefaults(req)
	req.StampSequence(atomic.AddInt64(&q.seq, 1))

	req.SetOnFinish(func() { q.finish(req) })

	q.mu.Lock()
	q.current[req] = struct{}{}
	q.mu.Unlock()

	if !req.ShouldCache || req.ReturnStrategy == request.NetworkOnly {
		q.networkQ.Put(req)
		return
	}

	key := req.CacheKey()
	q.mu.Lock()
	if parent, ok := q.inflight[key]; ok && parent != req {
		joined := req.Join(parent)
		q.mu.Unlock()
		if joined {
			return
		}
		// parent finished in the race between the lookup and Join: fall
		// through and make this request the new in-flight head.
		q.mu.Lock()
	}
	q.inflight[key] = req
	q.mu.Unlock()

	q.cacheQ.Put(req)
}

// finish is req's onFinish hook: deregisters it from both the in-flight
// join table and the cancelAll set (§4.H "finish(request)").
func (q *Queue) finish(req *request.Request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.current, req)
	if key := req.CacheKey(); q.inflight[key] == req {
		delete(q.inflight, key)
	}
}

// CancelAll cancels every currently-added, not-yet-finished request for
// which match returns true (§4.H "cancelAll(tag | predicate)"). Passing a
// predicate that only compares Tag reproduces Volley's tag-based
// cancelAll; any predicate works.
func (q *Queue) CancelAll(match func(*request.Request) bool) {
	q.mu.Lock()
	victims := make([]*request.Request, 0, len(q.current))
	for req := range q.current {
		if match(req) {
			victims = append(victims, req)
		}
	}
	q.mu.Unlock()

	for _, req := range victims {
		req.Cancel()
	}
}

// CancelTag cancels every request whose Tag equals tag.
func (q *Queue) CancelTag(tag any) {
	q.CancelAll(func(r *request.Request) bool { return r.Tag == tag })
}

// Cache exposes the underlying disk cache engine for callers that need a
// direct purge/invalidate/clear outside the request pipeline.
func (q *Queue) Cache() cache.Cache { return q.cache }

func (q *Queue) applyDefaults(req *request.Request) {
	type defaultable struct {
		Priority       request.Priority
		FIFO           bool
		ShouldCache    bool
		ReturnStrategy request.ReturnStrategy
	}
	d := defaultable{
		Priority:       req.Priority,
		FIFO:           req.FIFO,
		ShouldCache:    req.ShouldCache,
		ReturnStrategy: req.ReturnStrategy,
	}
	if err := mergo.Merge(&d, defaultable(q.defaults)); err != nil {
		q.log.Warnf("reqqueue: default merge failed, using request as given: %v", err)
		return
	}
	req.Priority = d.Priority
	req.FIFO = d.FIFO
	req.ShouldCache = d.ShouldCache
	req.ReturnStrategy = d.ReturnStrategy
}
