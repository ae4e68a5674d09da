package reqqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/reqqueue/cache"
	"github.com/omalloc/reqqueue/request"
	"github.com/omalloc/reqqueue/transport"
)

type stubTransport struct {
	mu    sync.Mutex
	calls int
	resp  *transport.NetworkResponse
	err   error
}

func (t *stubTransport) PerformRequest(ctx context.Context, req *transport.Request) (*transport.NetworkResponse, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	return t.resp, t.err
}

func (t *stubTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

type capturingListener struct {
	results chan any
	errs    chan error
}

func newCapturingListener() *capturingListener {
	return &capturingListener{results: make(chan any, 8), errs: make(chan error, 8)}
}
func (l *capturingListener) OnResponse(result any) { l.results <- result }
func (l *capturingListener) OnError(err error)     { l.errs <- err }

func newTestQueue(t *testing.T, tr transport.Transport) *Queue {
	t.Helper()
	q := New(Options{
		Cache:           cache.Options{Root: t.TempDir(), MaxBytes: 1 << 20},
		NetworkPoolSize: 2,
		Transport:       tr,
	})
	require.NoError(t, q.Start())
	t.Cleanup(q.Stop)
	return q
}

func TestAddColdCacheDeliversNetworkResponse(t *testing.T) {
	tr := &stubTransport{resp: &transport.NetworkResponse{StatusCode: 200, Body: []byte("hello")}}
	q := newTestQueue(t, tr)

	l := newCapturingListener()
	r := request.New("GET", "https://example.com/a")
	r.Listener = l
	q.Add(r)

	select {
	case <-l.results:
	case err := <-l.errs:
		t.Fatalf("unexpected error delivery: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("cold-cache request never delivered")
	}
}

func TestAddDuplicateRequestsJoinOnSameCacheKey(t *testing.T) {
	release := make(chan struct{})
	tr := &blockingTransport{release: release, resp: &transport.NetworkResponse{StatusCode: 200, Body: []byte("hello")}}
	q := newTestQueue(t, tr)

	l1, l2 := newCapturingListener(), newCapturingListener()
	r1 := request.New("GET", "https://example.com/dup")
	r1.Listener = l1
	r2 := request.New("GET", "https://example.com/dup")
	r2.Listener = l2

	q.Add(r1)
	// Give r1 time to become the in-flight parent before r2 arrives.
	time.Sleep(20 * time.Millisecond)
	q.Add(r2)

	close(release)

	for _, l := range []*capturingListener{l1, l2} {
		select {
		case <-l.results:
		case <-time.After(2 * time.Second):
			t.Fatal("joined duplicate never received the parent's delivery")
		}
	}
	assert.Equal(t, 1, tr.callCountOnce(), "a joined duplicate must not trigger its own network round trip")
}

type blockingTransport struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
	resp    *transport.NetworkResponse
	err     error
}

func (t *blockingTransport) PerformRequest(ctx context.Context, req *transport.Request) (*transport.NetworkResponse, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	<-t.release
	return t.resp, t.err
}

func (t *blockingTransport) callCountOnce() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func TestCancelTagCancelsMatchingInFlightRequests(t *testing.T) {
	release := make(chan struct{})
	tr := &blockingTransport{release: release, resp: &transport.NetworkResponse{StatusCode: 200, Body: []byte("x")}}
	q := newTestQueue(t, tr)

	l := newCapturingListener()
	r := request.New("GET", "https://example.com/tagged")
	r.Listener = l
	r.Tag = "group-1"
	r.ReturnStrategy = request.NetworkOnly
	q.Add(r)

	q.CancelTag("group-1")
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for !r.IsFinished() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.True(t, r.IsFinished())
	select {
	case <-l.results:
		t.Fatal("a cancelled request must not deliver a result")
	default:
	}
}

func TestApplyDefaultsFillsZeroValueFields(t *testing.T) {
	tr := &stubTransport{resp: &transport.NetworkResponse{StatusCode: 200, Body: []byte("x")}}
	q := New(Options{
		Cache:     cache.Options{Root: t.TempDir(), MaxBytes: 1 << 20},
		Transport: tr,
		Defaults: Defaults{
			Priority:       request.High,
			FIFO:           true,
			ShouldCache:    true,
			ReturnStrategy: request.NetworkIfNoCache,
		},
	})

	r := &request.Request{Method: "GET", URL: "https://example.com/a"}
	q.applyDefaults(r)

	assert.Equal(t, request.High, r.Priority)
	assert.Equal(t, request.NetworkIfNoCache, r.ReturnStrategy)
}

func TestNewAppliesConstructorDefaults(t *testing.T) {
	q := New(Options{Cache: cache.Options{Root: t.TempDir()}})
	assert.Equal(t, DefaultDefaults(), q.defaults)
	assert.NotNil(t, q.cache)
}
