package cache

// Entry is the in-memory shape of a CacheRecord (§3): a full record with
// its body. Timestamps are epoch milliseconds, matching the on-disk codec.
type Entry struct {
	Key             string
	Body            []byte
	ETag            string
	ServerDate      int64
	TTL             int64
	SoftTTL         int64
	KeepUntil       int64
	IsImage         bool
	ResponseHeaders map[string]string
}

// Header is the index-resident projection of an Entry: every field except
// Body (§3 "size attribute on the in-memory header equals the on-disk file
// length; body bytes are not held in the index").
type Header struct {
	Key             string
	Size            int64
	ETag            string
	ServerDate      int64
	TTL             int64
	SoftTTL         int64
	KeepUntil       int64
	IsImage         bool
	ResponseHeaders map[string]string
}

func headerOf(e *Entry, size int64) *Header {
	return &Header{
		Key:             e.Key,
		Size:            size,
		ETag:            e.ETag,
		ServerDate:      e.ServerDate,
		TTL:             e.TTL,
		SoftTTL:         e.SoftTTL,
		KeepUntil:       e.KeepUntil,
		IsImage:         e.IsImage,
		ResponseHeaders: e.ResponseHeaders,
	}
}

// Expired reports whether h's hard TTL has passed nowMS.
func (h *Header) Expired(nowMS int64) bool { return h.TTL < nowMS }

// SoftExpired reports whether h's freshness horizon has passed nowMS.
func (h *Header) SoftExpired(nowMS int64) bool { return h.SoftTTL < nowMS }

// Protected reports whether h is still inside its keepUntil window.
func (h *Header) Protected(nowMS int64) bool { return h.KeepUntil >= nowMS }
