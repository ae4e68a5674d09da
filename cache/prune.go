package cache

import "github.com/omalloc/reqqueue/internal/constants"

// pruneIfNeeded implements the four-pass eviction protocol in §4.B.
// Callers must hold c.mu. It is a no-op unless totalSize+needed has
// reached maxBytes, and it stops as soon as the hysteresis goal
// (maxBytes * 0.9) is reached.
func (c *DiskCache) pruneIfNeeded(needed int64) {
	if c.idx.totalSize+needed < c.maxBytes {
		return
	}

	goal := int64(float64(c.maxBytes) * constants.PruneHysteresis)
	now := c.clock().UnixMilli()

	type pass struct {
		name  string
		match func(*Header) bool
	}
	passes := []pass{
		{"EXPIRED", func(h *Header) bool { return h.Expired(now) }},
		{"IMAGES", func(h *Header) bool { return h.IsImage && !h.Protected(now) }},
		{"EVICTABLE", func(h *Header) bool { return !h.Protected(now) }},
		{"ALL", func(h *Header) bool { return true }},
	}

	for _, p := range passes {
		if c.idx.totalSize+needed < goal {
			return
		}
		c.idx.OldestFirst(func(h *Header) bool {
			if c.idx.totalSize+needed < goal {
				return false
			}
			if !p.match(h) {
				return true
			}
			c.evictLocked(h, p.name)
			return true
		})
	}
}

// evictLocked removes h from disk and from the index. File deletion
// failures are logged but never abort pruning (§4.B "Failure handling").
func (c *DiskCache) evictLocked(h *Header, pass string) {
	if err := c.removeFile(h.Key); err != nil {
		c.log.Warnf("prune: failed to delete file for key %q: %v", h.Key, err)
	}
	c.idx.Remove(h.Key)
	c.metrics.pruneEvictions.WithLabelValues(pass).Inc()
}
