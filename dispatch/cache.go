// Package dispatch implements the cache dispatcher (§4.D) and network
// dispatcher pool (§4.E): the two worker layers that drain the cache and
// network staging queues built by the reqqueue facade.
//
// Grounded on server/middleware/caching/caching.go's
// preCacheProcessor/postCacheProcessor split (look up a cache-key, serve
// on hit, otherwise fall through to the proxy) generalized from one HTTP
// middleware hop into a standalone worker loop over a priority queue.
package dispatch

import (
	"time"

	"github.com/omalloc/reqqueue/cache"
	"github.com/omalloc/reqqueue/contrib/log"
	"github.com/omalloc/reqqueue/delivery"
	"github.com/omalloc/reqqueue/queue"
	"github.com/omalloc/reqqueue/request"
)

// nowFunc is overridable in tests that need deterministic expiry checks.
var nowFunc = time.Now

// CacheDispatcher is the single worker draining the cache staging queue
// (§4.D).
type CacheDispatcher struct {
	in       *queue.Queue
	network  *queue.Queue
	cache    cache.Cache
	delivery *delivery.Context
	log      *log.Helper

	stop chan struct{}
	done chan struct{}
}

func NewCacheDispatcher(in, network *queue.Queue, c cache.Cache, d *delivery.Context) *CacheDispatcher {
	return &CacheDispatcher{
		in:       in,
		network:  network,
		cache:    c,
		delivery: d,
		log:      log.NewHelper(log.GetLogger()),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the dispatcher loop in its own goroutine.
func (d *CacheDispatcher) Start() {
	go d.loop()
}

// Stop requests the loop exit; it does not block waiting for in-flight work.
func (d *CacheDispatcher) Stop() {
	close(d.stop)
}

// Wait blocks until the loop has exited.
func (d *CacheDispatcher) Wait() { <-d.done }

func (d *CacheDispatcher) loop() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		default:
		}

		item, ok := d.in.Take()
		if !ok {
			return
		}
		req := item.(*request.Request)
		d.process(req)
	}
}

// process implements §4.D's per-request steps.
func (d *CacheDispatcher) process(req *request.Request) {
	if req.Cancelled() {
		finishWithoutDelivery(req)
		return
	}

	if req.ReturnStrategy == request.NetworkOnly {
		d.network.Put(req)
		return
	}

	entry, hit := d.cache.Get(req.CacheKey())
	if !hit {
		d.network.Put(req)
		return
	}

	now := nowMillis()
	header := cache.Header{
		Key: entry.Key, ETag: entry.ETag, ServerDate: entry.ServerDate,
		TTL: entry.TTL, SoftTTL: entry.SoftTTL, KeepUntil: entry.KeepUntil,
		IsImage: entry.IsImage, ResponseHeaders: entry.ResponseHeaders,
	}

	if header.Expired(now) {
		// hard-expired: still stage for network, but let the request carry
		// the stale headers along for conditional revalidation.
		req.CacheEntry = &header
		d.network.Put(req)
		return
	}

	del := delivery.Delivery{Req: req, Result: entry.Body}

	if header.SoftExpired(now) {
		// soft-expired: deliver what we have, then still go refresh over
		// the network (both reads happen, §4.E DOUBLE strategy default).
		// The request stays open — the network dispatcher finishes it.
		del.CacheStatus = delivery.StatusStaleHit
		post(d.delivery, request.DeliveryCache, del)
		req.CacheEntry = &header
		d.network.Put(req)
		return
	}

	del.CacheStatus = delivery.StatusHit
	deliverAndFinish(d.delivery, request.DeliveryCache, del)
}

func nowMillis() int64 { return nowFunc().UnixMilli() }
