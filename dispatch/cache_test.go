package dispatch

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/reqqueue/cache"
	"github.com/omalloc/reqqueue/delivery"
	"github.com/omalloc/reqqueue/queue"
	"github.com/omalloc/reqqueue/request"
)

type fakeCache struct {
	entries map[string]*cache.Entry
}

func newFakeCache() *fakeCache { return &fakeCache{entries: make(map[string]*cache.Entry)} }

func (f *fakeCache) Initialize() error                         { return nil }
func (f *fakeCache) Get(key string) (*cache.Entry, bool)       { e, ok := f.entries[key]; return e, ok }
func (f *fakeCache) GetHeaders(key string) (*cache.Header, bool) { return nil, false }
func (f *fakeCache) Put(key string, entry *cache.Entry, instant bool) { f.entries[key] = entry }
func (f *fakeCache) Invalidate(key string, full bool)          {}
func (f *fakeCache) Remove(key string)                         { delete(f.entries, key) }
func (f *fakeCache) Clear()                                    { f.entries = make(map[string]*cache.Entry) }
func (f *fakeCache) UpdateEntry(key string, entry *cache.Entry) {}
func (f *fakeCache) Purge(key string)                          { delete(f.entries, key) }
func (f *fakeCache) Close() error                              { return nil }

var _ cache.Cache = (*fakeCache)(nil)

type recordingListener struct {
	results chan any
	errs    chan error
}

func newRecordingListener() *recordingListener {
	return &recordingListener{results: make(chan any, 8), errs: make(chan error, 8)}
}
func (l *recordingListener) OnResponse(result any) { l.results <- result }
func (l *recordingListener) OnError(err error)      { l.errs <- err }

// newTestRequest builds a GET request whose CacheKey() equals key. key is
// expected in "METHOD path" form (e.g. "GET /a") to match how fakeCache
// fixtures are keyed throughout this package's tests.
func newTestRequest(key string, l *recordingListener) *request.Request {
	url := strings.TrimPrefix(key, "GET ")
	r := request.New("GET", url)
	r.Listener = l
	return r
}

func awaitResult(t *testing.T, ch chan any) any {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a delivered result")
		return nil
	}
}

func TestCacheDispatcherHitDelivers(t *testing.T) {
	now := time.Now()
	nowFunc = func() time.Time { return now }
	defer func() { nowFunc = time.Now }()

	c := newFakeCache()
	c.entries["GET /a"] = &cache.Entry{
		Key: "GET /a", Body: []byte("cached-body"),
		TTL: now.Add(time.Hour).UnixMilli(), SoftTTL: now.Add(time.Hour).UnixMilli(),
	}

	in, network := queue.New(), queue.New()
	d := delivery.NewContext()
	defer d.Stop()

	cd := NewCacheDispatcher(in, network, c, d)
	cd.Start()
	defer func() { in.Close(); network.Close(); cd.Wait() }()

	l := newRecordingListener()
	r := newTestRequest("GET /a", l)
	in.Put(r)

	got := awaitResult(t, l.results)
	assert.Equal(t, []byte("cached-body"), got)
	assert.Equal(t, 0, network.Len(), "a fresh hit must not also stage for network")
}

func TestCacheDispatcherMissStagesForNetwork(t *testing.T) {
	c := newFakeCache()
	in, network := queue.New(), queue.New()
	d := delivery.NewContext()
	defer d.Stop()

	cd := NewCacheDispatcher(in, network, c, d)
	cd.Start()
	defer func() { in.Close(); network.Close(); cd.Wait() }()

	r := newTestRequest("GET /missing", newRecordingListener())
	in.Put(r)

	item, ok := network.Take()
	require.True(t, ok)
	assert.Same(t, r, item.(*request.Request))
}

func TestCacheDispatcherSoftExpiredDeliversThenStagesForNetwork(t *testing.T) {
	now := time.Now()
	nowFunc = func() time.Time { return now }
	defer func() { nowFunc = time.Now }()

	c := newFakeCache()
	c.entries["GET /a"] = &cache.Entry{
		Key: "GET /a", Body: []byte("stale-body"),
		TTL:     now.Add(time.Hour).UnixMilli(),
		SoftTTL: now.Add(-time.Minute).UnixMilli(),
	}

	in, network := queue.New(), queue.New()
	d := delivery.NewContext()
	defer d.Stop()

	cd := NewCacheDispatcher(in, network, c, d)
	cd.Start()
	defer func() { in.Close(); network.Close(); cd.Wait() }()

	l := newRecordingListener()
	r := newTestRequest("GET /a", l)
	in.Put(r)

	got := awaitResult(t, l.results)
	assert.Equal(t, []byte("stale-body"), got)
	assert.False(t, r.IsFinished(), "a soft-expired hit stays open for the network leg")

	item, ok := network.Take()
	require.True(t, ok)
	assert.Same(t, r, item.(*request.Request))
	require.NotNil(t, r.CacheEntry, "the stale entry must be annotated for conditional revalidation")
}

func TestCacheDispatcherHardExpiredStagesForNetworkWithoutDelivery(t *testing.T) {
	now := time.Now()
	nowFunc = func() time.Time { return now }
	defer func() { nowFunc = time.Now }()

	c := newFakeCache()
	c.entries["GET /a"] = &cache.Entry{
		Key: "GET /a", Body: []byte("old-body"),
		TTL: now.Add(-time.Hour).UnixMilli(), SoftTTL: now.Add(-time.Hour).UnixMilli(),
		ETag: `"old-etag"`,
	}

	in, network := queue.New(), queue.New()
	d := delivery.NewContext()
	defer d.Stop()

	cd := NewCacheDispatcher(in, network, c, d)
	cd.Start()
	defer func() { in.Close(); network.Close(); cd.Wait() }()

	l := newRecordingListener()
	r := newTestRequest("GET /a", l)
	in.Put(r)

	item, ok := network.Take()
	require.True(t, ok)
	assert.Same(t, r, item.(*request.Request))
	require.NotNil(t, r.CacheEntry)
	assert.Equal(t, `"old-etag"`, r.CacheEntry.ETag)

	select {
	case <-l.results:
		t.Fatal("a hard-expired entry must not deliver before revalidation")
	default:
	}
}

func TestCacheDispatcherCancelledRequestFinishesWithoutDelivery(t *testing.T) {
	c := newFakeCache()
	in, network := queue.New(), queue.New()
	d := delivery.NewContext()
	defer d.Stop()

	cd := NewCacheDispatcher(in, network, c, d)
	cd.Start()
	defer func() { in.Close(); network.Close(); cd.Wait() }()

	r := newTestRequest("GET /a", newRecordingListener())
	r.Cancel()
	in.Put(r)

	deadline := time.Now().Add(time.Second)
	for !r.IsFinished() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.True(t, r.IsFinished())
	assert.Equal(t, 0, network.Len())
}

func TestCacheDispatcherNetworkOnlySkipsLookup(t *testing.T) {
	c := newFakeCache()
	c.entries["GET /a"] = &cache.Entry{Key: "GET /a", Body: []byte("should-not-be-used")}

	in, network := queue.New(), queue.New()
	d := delivery.NewContext()
	defer d.Stop()

	cd := NewCacheDispatcher(in, network, c, d)
	cd.Start()
	defer func() { in.Close(); network.Close(); cd.Wait() }()

	r := newTestRequest("GET /a", newRecordingListener())
	r.ReturnStrategy = request.NetworkOnly
	in.Put(r)

	item, ok := network.Take()
	require.True(t, ok)
	assert.Same(t, r, item.(*request.Request))
}
