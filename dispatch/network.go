package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/omalloc/reqqueue/cache"
	"github.com/omalloc/reqqueue/contrib/log"
	"github.com/omalloc/reqqueue/delivery"
	"github.com/omalloc/reqqueue/internal/constants"
	"github.com/omalloc/reqqueue/pkg/errors"
	"github.com/omalloc/reqqueue/queue"
	"github.com/omalloc/reqqueue/request"
	"github.com/omalloc/reqqueue/transport"
)

// NetworkDispatcherPool is the fixed-size worker pool draining the network
// staging queue (§4.E): performs the HTTP round trip, parses the body,
// writes eligible responses back to the cache, and posts the outcome for
// delivery, honoring each request's return strategy.
//
// Grounded on queue/queue.go's blocking Take() loop (the same shape
// CacheDispatcher uses) with lifecycle supervision borrowed from the
// teacher's go.mod golang.org/x/sync dependency: N goroutines under one
// errgroup.Group so a pool-wide Wait surfaces the first worker error
// instead of each goroutine failing silently (§9 design note on worker
// supervision; SPEC_FULL.md §4.D/4.E).
type NetworkDispatcherPool struct {
	in        *queue.Queue
	cache     cache.Cache
	delivery  *delivery.Context
	transport transport.Transport
	size      int

	// parseMu serializes ParseNetworkResponse for parsers that declare
	// SerializesParsing() true, capping peak heap across every worker in
	// the pool (§4.E "Parse serialization"). It is a field the pool owns
	// and injects into each worker rather than a package-level variable,
	// per §9's "inject as explicit collaborators; no process-global
	// mutable state".
	parseMu *sync.Mutex

	// TagTraffic, if set, is invoked with each request's Tag before the
	// transport call (§4.E step 2 "Apply traffic-stats tag") — an
	// optional collaborator hook for bandwidth/telemetry instrumentation,
	// left nil by default.
	TagTraffic func(tag any)

	log *log.Helper

	group *errgroup.Group
	done  chan struct{}
}

// NewNetworkDispatcherPool builds a pool of size workers (default 4 if
// size <= 0, per §6's configuration default) draining in and writing
// through c.
func NewNetworkDispatcherPool(in *queue.Queue, c cache.Cache, d *delivery.Context, t transport.Transport, size int) *NetworkDispatcherPool {
	if size <= 0 {
		size = 4
	}
	return &NetworkDispatcherPool{
		in:        in,
		cache:     c,
		delivery:  d,
		transport: t,
		size:      size,
		parseMu:   &sync.Mutex{},
		log:       log.NewHelper(log.GetLogger()),
	}
}

// Start launches size worker goroutines under one errgroup.
func (p *NetworkDispatcherPool) Start() {
	p.done = make(chan struct{})
	g := &errgroup.Group{}
	p.group = g
	for i := 0; i < p.size; i++ {
		g.Go(p.worker)
	}
	go func() {
		if err := g.Wait(); err != nil {
			p.log.Errorf("network dispatcher pool: worker exited with error: %v", err)
		}
		close(p.done)
	}()
}

// Wait blocks until every worker has exited (normally after the shared
// network staging queue is closed by the facade's Stop()).
func (p *NetworkDispatcherPool) Wait() { <-p.done }

func (p *NetworkDispatcherPool) worker() error {
	for {
		item, ok := p.in.Take()
		if !ok {
			return nil
		}
		req := item.(*request.Request)
		p.safeProcess(req)
	}
}

// safeProcess recovers a panicking request handler: §7 "Fatal: none at the
// dispatcher level — a dispatcher catching any unexpected error logs it,
// converts it into a generic error delivery, and continues its loop."
func (p *NetworkDispatcherPool) safeProcess(req *request.Request) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("network dispatcher: recovered panic processing %s %s: %v", req.Method, req.URL, r)
			deliverAndFinish(p.delivery, request.DeliveryNetwork, delivery.Delivery{
				Req:         req,
				Err:         errors.New(errors.KindUnknown).WithCause(fmt.Errorf("%v", r)),
				CacheStatus: delivery.StatusNetwork,
			})
		}
	}()
	p.process(req)
}

func (p *NetworkDispatcherPool) process(req *request.Request) {
	// Step 1: pre-dispatch cancellation check (§5 "three check points").
	if req.Cancelled() {
		p.log.Debugf("network-discard-cancelled: %s %s", req.Method, req.URL)
		finishWithoutDelivery(req)
		return
	}

	// Step 2: traffic-stats tag.
	if p.TagTraffic != nil {
		p.TagTraffic(req.Tag)
	}

	// Step 3: transport round trip. The request id rides along in the
	// context so error logs below can be correlated back to it.
	ctx := log.NewContext(context.Background(), log.With(log.GetLogger(), constants.InternalTraceKey, req.ID.String()))
	tr := buildTransportRequest(req)
	resp, terr := p.transport.PerformRequest(ctx, tr)

	// Post-transport cancellation check: the syscall already ran to
	// completion (§5 "a cancellation never aborts an in-flight transport
	// syscall"); the response is parsed then discarded below by the
	// delivery context's no-op-but-finish rule, so there's nothing extra
	// to special-case here beyond letting the normal path run.

	// Step 4: suppress a redundant delivery for a 304 that only confirms
	// the cache response already sent.
	if resp != nil && resp.NotModified && req.HasHadResponseDelivered() {
		finishWithoutDelivery(req)
		return
	}

	if terr != nil {
		p.deliverNetworkError(req, terr)
		return
	}

	p.deliverNetworkResponse(req, resp)
}

func (p *NetworkDispatcherPool) deliverNetworkError(req *request.Request, terr error) {
	refined := terr
	if req.Parser != nil {
		refined = req.Parser.ParseNetworkError(terr)
	}

	// §4.E step 7 / §7: CACHE_IF_NETWORK_FAILS and NETWORK_IF_NO_CACHE
	// both suppress a network-side failure once a cache response already
	// satisfied the request.
	if req.HasHadResponseDelivered() && suppressesOnCacheAlreadyDelivered(req.ReturnStrategy) {
		finishWithoutDelivery(req)
		return
	}

	deliverAndFinish(p.delivery, request.DeliveryNetwork, delivery.Delivery{
		Req:         req,
		Err:         refined,
		CacheStatus: delivery.StatusNetwork,
	})
}

func (p *NetworkDispatcherPool) deliverNetworkResponse(req *request.Request, resp *transport.NetworkResponse) {
	var parsed *request.ParsedResponse
	var perr error

	if req.Parser != nil {
		serialize := req.Parser.SerializesParsing()
		if serialize {
			p.parseMu.Lock()
		}
		parsed, perr = req.Parser.ParseNetworkResponse(resp)
		if serialize {
			p.parseMu.Unlock()
		}
	}

	if perr != nil {
		// Parse errors always deliver — no fallback (§7).
		refined := perr
		if req.Parser != nil {
			refined = req.Parser.ParseNetworkError(perr)
		}
		deliverAndFinish(p.delivery, request.DeliveryNetwork, delivery.Delivery{
			Req:         req,
			Err:         refined,
			CacheStatus: delivery.StatusNetwork,
		})
		return
	}

	// Step 6: write through to the cache if cacheable.
	if req.ShouldCache && parsed != nil && parsed.Cacheable && parsed.CacheEntry != nil {
		if parsed.CacheEntry.Key == "" {
			parsed.CacheEntry.Key = req.CacheKey()
		}
		p.cache.Put(req.CacheKey(), parsed.CacheEntry, req.ShouldCacheInstantly)
	}

	// Step 7: NETWORK_IF_NO_CACHE cancels further delivery once the cache
	// leg already fired.
	if req.HasHadResponseDelivered() && req.ReturnStrategy == request.NetworkIfNoCache {
		finishWithoutDelivery(req)
		return
	}

	var result any
	if parsed != nil {
		result = parsed.Result
	}

	// Step 8: mark delivered (Network), post the parsed response.
	deliverAndFinish(p.delivery, request.DeliveryNetwork, delivery.Delivery{
		Req:         req,
		Result:      result,
		CacheStatus: delivery.StatusNetwork,
	})
}

// suppressesOnCacheAlreadyDelivered reports whether strategy drops a
// network-side failure once a cache response already satisfied the
// request (§4.E "Return strategies").
func suppressesOnCacheAlreadyDelivered(strategy request.ReturnStrategy) bool {
	switch strategy {
	case request.CacheIfNetworkFails, request.NetworkIfNoCache:
		return true
	default:
		return false
	}
}

// buildTransportRequest frames the wire-level request, attaching
// conditional-GET headers from any stale cache entry the cache dispatcher
// annotated onto req (§4.D step 4 "annotate request with the stale entry
// for conditional GET").
func buildTransportRequest(req *request.Request) *transport.Request {
	tr := &transport.Request{
		Method:  req.Method,
		URL:     req.URL,
		Headers: make(http.Header),
	}
	tr.Headers.Set(constants.HeaderRequestID, req.ID.String())
	if req.CacheEntry == nil {
		return tr
	}
	if req.CacheEntry.ETag != "" {
		tr.Headers.Set(constants.HeaderIfNoneMatch, req.CacheEntry.ETag)
	}
	if lm := req.CacheEntry.ResponseHeaders[constants.HeaderLastModified]; lm != "" {
		tr.Headers.Set(constants.HeaderIfModSince, lm)
	}
	return tr
}
