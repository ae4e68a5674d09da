// Package cache implements the bounded, content-addressed disk cache
// engine (§4.B): a hand-rolled binary record format (pkg/codec), an
// access-ordered in-memory index for LRU pruning, write-behind batching
// with a crash-durability journal, and hysteretic four-pass eviction.
//
// Grounded on storage/bucket/disk/disk.go's diskBucket (workdir setup,
// background worker goroutine with a stop channel, ratecounter-driven
// telemetry) generalized from a multi-bucket reverse-proxy object store
// down to the single-root, whole-body cache this spec describes.
package cache

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/omalloc/reqqueue/contrib/log"
	"github.com/omalloc/reqqueue/internal/constants"
	"github.com/omalloc/reqqueue/pkg/bandwidth"
	"github.com/omalloc/reqqueue/pkg/codec"
)

// Cache is the disk cache engine's public surface (§4.B).
type Cache interface {
	Initialize() error
	Get(key string) (*Entry, bool)
	GetHeaders(key string) (*Header, bool)
	Put(key string, entry *Entry, instant bool)
	Invalidate(key string, full bool)
	Remove(key string)
	Clear()
	UpdateEntry(key string, entry *Entry)
	Purge(key string) // supplemental: invalidate(full=true), then remove the entry
	Close() error
}

// Options configures a DiskCache.
type Options struct {
	Root             string
	MaxBytes         int64
	WriteBehindDelay time.Duration
	Registerer       prometheus.Registerer
	Bandwidth        *bandwidth.Ring
	Clock            func() time.Time
}

// DiskCache is the concrete Cache implementation.
type DiskCache struct {
	root             string
	maxBytes         int64
	writeBehindDelay time.Duration

	mu  sync.Mutex // guards idx and file operations (§5)
	idx *index

	pending sync.Map // key -> *Entry; shadows disk for unflushed writes (§4.B)

	wb      *writeBehindWorker
	journal *journal
	metrics *cacheMetrics
	bw      *bandwidth.Ring
	clock   func() time.Time
	log     *log.Helper
}

var _ Cache = (*DiskCache)(nil)

func New(opts Options) *DiskCache {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	delay := opts.WriteBehindDelay
	if delay <= 0 {
		delay = constants.DefaultWriteBehindDelayMS * time.Millisecond
	}

	c := &DiskCache{
		root:             opts.Root,
		maxBytes:         opts.MaxBytes,
		writeBehindDelay: delay,
		idx:              newIndex(),
		journal:          newJournal(opts.Root),
		metrics:          newCacheMetrics(opts.Registerer),
		bw:               opts.Bandwidth,
		clock:            clock,
		log:              log.NewHelper(log.GetLogger()),
	}
	return c
}

// Initialize creates the cache root if missing, scans existing files
// (headers only), registers them into the index, and starts the
// write-behind worker (§4.B).
func (c *DiskCache) Initialize() error {
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return err
	}

	_ = filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Base(path) == filepath.Base(c.journal.path) {
			return nil
		}

		f, openErr := os.Open(path)
		if openErr != nil {
			return nil
		}
		info, statErr := f.Stat()
		rec, _, decErr := codec.DecodeHeader(f)
		f.Close()

		if decErr != nil || statErr != nil {
			c.log.Warnf("cache: discarding unreadable file %s: %v", path, decErr)
			_ = os.Remove(path)
			return nil
		}

		c.mu.Lock()
		c.idx.Put(headerFromRecord(rec, info.Size()))
		c.mu.Unlock()
		return nil
	})

	c.wb = newWriteBehindWorker(c)
	c.replayJournal()

	c.metrics.bytes.Set(float64(c.idx.totalSize))
	c.metrics.entries.Set(float64(c.idx.Len()))
	return nil
}

func (c *DiskCache) replayJournal() {
	for _, rec := range c.journal.Load() {
		c.mu.Lock()
		h, present := c.idx.Peek(rec.Key)
		c.mu.Unlock()
		if present && h.ServerDate > rec.Entry.ServerDate {
			continue
		}
		c.pending.Store(rec.Key, rec.Entry)
		c.wb.schedulePut(rec.Key, rec.Entry, c.clock())
	}
	c.syncJournal()
}

// Get returns the full record for key, consulting the write-behind
// shadow map first (§4.B "get").
func (c *DiskCache) Get(key string) (*Entry, bool) {
	if v, ok := c.pending.Load(key); ok {
		c.metrics.hits.Inc()
		return cloneEntry(v.(*Entry)), true
	}

	path := c.path(key)
	f, err := os.Open(path)
	if err != nil {
		c.removeIndexAndFile(key)
		c.metrics.misses.Inc()
		return nil, false
	}
	defer f.Close()

	info, statErr := f.Stat()
	rec, headerBytes, decErr := codec.DecodeHeader(f)
	if decErr != nil || rec.Key != key {
		c.removeIndexAndFile(key)
		c.metrics.misses.Inc()
		return nil, false
	}

	bodyLen := int64(0)
	if statErr == nil {
		bodyLen = info.Size() - headerBytes
		if bodyLen < 0 {
			bodyLen = 0
		}
	}

	body, ok := readBody(f, bodyLen)
	if !ok {
		// readBody fails on an allocation failure or on a short read;
		// either way this returns a miss and leaves the index entry and
		// the file in place (§4.B).
		c.metrics.misses.Inc()
		return nil, false
	}
	rec.Body = body

	c.metrics.hits.Inc()
	return recordToEntry(rec), true
}

// GetHeaders returns the header-only projection for key (§4.B).
func (c *DiskCache) GetHeaders(key string) (*Header, bool) {
	if v, ok := c.pending.Load(key); ok {
		e := v.(*Entry)
		return headerOf(e, int64(len(e.Body))), true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idx.Get(key)
}

// Put stages (instant=false) or immediately persists (instant=true) entry
// under key (§4.B).
func (c *DiskCache) Put(key string, entry *Entry, instant bool) {
	if !instant {
		staged := cloneEntry(entry)
		c.pending.Store(key, staged)
		c.syncJournal()
		c.wb.schedulePut(key, staged, c.clock().Add(c.writeBehindDelay))
		return
	}
	c.putInstant(key, entry)
}

// putInstant is put(instant=true): prune, write the file, register the
// header. On any failure the partial file and pending entry are removed.
func (c *DiskCache) putInstant(key string, entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneIfNeeded(int64(len(entry.Body)))

	path := c.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		c.log.Errorf("cache: mkdir for %s failed: %v", path, err)
	}

	start := c.clock()
	f, err := os.Create(path)
	if err != nil {
		c.log.Errorf("cache: create %s failed: %v", path, err)
		c.evictPendingOnFailure(key)
		return
	}

	rec := entryToRecord(entry)
	headerBytes, encErr := codec.EncodeHeader(f, rec)
	if encErr == nil {
		_, encErr = f.Write(entry.Body)
	}
	closeErr := f.Close()

	if encErr != nil || closeErr != nil {
		_ = os.Remove(path)
		c.log.Errorf("cache: write %s failed: enc=%v close=%v", path, encErr, closeErr)
		c.evictPendingOnFailure(key)
		return
	}

	h := headerOf(entry, headerBytes+int64(len(entry.Body)))
	c.idx.Put(h)
	c.metrics.bytes.Set(float64(c.idx.totalSize))
	c.metrics.entries.Set(float64(c.idx.Len()))

	if c.bw != nil {
		c.bw.Record(int64(len(entry.Body)), c.clock().Sub(start))
	}
}

// flushPending is the write-behind worker's deferred-flush callback. It is
// a no-op if the pending entry was superseded or removed since scheduling
// (§4.B "If the entry is removed from the map before the delay fires...").
func (c *DiskCache) flushPending(key string, entry *Entry) {
	if cur, ok := c.pending.Load(key); !ok || cur.(*Entry) != entry {
		return
	}
	c.putInstant(key, entry)
	c.pending.Delete(key)
	c.syncJournal()
}

func (c *DiskCache) evictPendingOnFailure(key string) {
	c.pending.Delete(key)
	c.syncJournal()
}

// Invalidate marks key stale (softTtl=0) and, if full, also expired
// (ttl=0), re-persisting it instantly (§4.B).
func (c *DiskCache) Invalidate(key string, full bool) {
	entry, ok := c.Get(key)
	if !ok {
		return
	}
	entry.SoftTTL = 0
	if full {
		entry.TTL = 0
	}
	c.putInstant(key, entry)
}

// Purge is the supplemental single-key purge convenience (SPEC_FULL.md).
func (c *DiskCache) Purge(key string) {
	c.Invalidate(key, true)
	c.Remove(key)
}

// UpdateEntry asynchronously overlays only entry's metadata fields onto
// the currently-stored record, preserving its body (§4.B). Dropped if the
// record is no longer present.
func (c *DiskCache) UpdateEntry(key string, entry *Entry) {
	c.wb.postUpdate(func() {
		cur, ok := c.Get(key)
		if !ok {
			return
		}
		cur.ETag = entry.ETag
		cur.ServerDate = entry.ServerDate
		cur.TTL = entry.TTL
		cur.SoftTTL = entry.SoftTTL
		cur.KeepUntil = entry.KeepUntil
		cur.IsImage = entry.IsImage
		cur.ResponseHeaders = entry.ResponseHeaders
		c.putInstant(key, cur)
	})
}

// Remove deletes key from the cache entirely.
func (c *DiskCache) Remove(key string) {
	c.pending.Delete(key)
	c.syncJournal()

	c.mu.Lock()
	c.idx.Remove(key)
	c.metrics.bytes.Set(float64(c.idx.totalSize))
	c.metrics.entries.Set(float64(c.idx.Len()))
	c.mu.Unlock()

	_ = c.removeFile(key)
}

// Clear empties the cache root, the index, the write-behind map, and the
// journal (§4.B).
func (c *DiskCache) Clear() {
	c.pending.Range(func(k, _ any) bool {
		c.pending.Delete(k)
		return true
	})
	c.wb.dropAll()
	c.syncJournal()

	c.mu.Lock()
	_ = filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		_ = os.Remove(path)
		return nil
	})
	c.idx.Clear()
	c.metrics.bytes.Set(0)
	c.metrics.entries.Set(0)
	c.mu.Unlock()
}

func (c *DiskCache) Close() error {
	if c.wb != nil {
		c.wb.shutdown()
	}
	return nil
}

func (c *DiskCache) syncJournal() {
	snapshot := make(map[string]*Entry)
	c.pending.Range(func(k, v any) bool {
		snapshot[k.(string)] = v.(*Entry)
		return true
	})
	c.journal.Sync(snapshot)
}

func (c *DiskCache) path(key string) string {
	return filepath.Join(c.root, filenameFor(key))
}

func (c *DiskCache) removeFile(key string) error {
	err := os.Remove(c.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (c *DiskCache) removeIndexAndFile(key string) {
	c.mu.Lock()
	c.idx.Remove(key)
	c.metrics.bytes.Set(float64(c.idx.totalSize))
	c.metrics.entries.Set(float64(c.idx.Len()))
	c.mu.Unlock()
	_ = c.removeFile(key)
}

func readBody(r io.Reader, n int64) (body []byte, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			body, ok = nil, false
		}
	}()
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, false
	}
	return buf, true
}

func headerFromRecord(rec *codec.Record, size int64) *Header {
	return &Header{
		Key:             rec.Key,
		Size:            size,
		ETag:            rec.ETag,
		ServerDate:      rec.ServerDate,
		TTL:             rec.TTL,
		SoftTTL:         rec.SoftTTL,
		KeepUntil:       rec.KeepUntil,
		IsImage:         rec.IsImage,
		ResponseHeaders: rec.ResponseHeaders,
	}
}

func recordToEntry(rec *codec.Record) *Entry {
	return &Entry{
		Key:             rec.Key,
		Body:            rec.Body,
		ETag:            rec.ETag,
		ServerDate:      rec.ServerDate,
		TTL:             rec.TTL,
		SoftTTL:         rec.SoftTTL,
		KeepUntil:       rec.KeepUntil,
		IsImage:         rec.IsImage,
		ResponseHeaders: rec.ResponseHeaders,
	}
}

func entryToRecord(e *Entry) *codec.Record {
	return &codec.Record{
		Key:             e.Key,
		ETag:            e.ETag,
		ServerDate:      e.ServerDate,
		TTL:             e.TTL,
		SoftTTL:         e.SoftTTL,
		KeepUntil:       e.KeepUntil,
		IsImage:         e.IsImage,
		ResponseHeaders: e.ResponseHeaders,
		Body:            e.Body,
	}
}

func cloneEntry(e *Entry) *Entry {
	body := make([]byte, len(e.Body))
	copy(body, e.Body)
	headers := make(map[string]string, len(e.ResponseHeaders))
	for k, v := range e.ResponseHeaders {
		headers[k] = v
	}
	clone := *e
	clone.Body = body
	clone.ResponseHeaders = headers
	return &clone
}
