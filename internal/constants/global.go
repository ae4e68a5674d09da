package constants

const AppName = "reqqueue"

// HTTP header names the pipeline reads from or writes to network responses.
const (
	HeaderRequestID    = "X-Request-ID"
	HeaderCacheStatus  = "X-Cache"
	HeaderCacheControl = "Cache-Control"
	HeaderExpires      = "Expires"
	HeaderDate         = "Date"
	HeaderETag         = "ETag"
	HeaderLastModified = "Last-Modified"
	HeaderIfNoneMatch  = "If-None-Match"
	HeaderIfModSince   = "If-Modified-Since"

	InternalTraceKey = "i-xtrace"
)

// DefaultMaxCacheBytes is the default disk cache budget (20 MiB, per spec §6).
const DefaultMaxCacheBytes int64 = 20 * 1024 * 1024

// DefaultNetworkPoolSize is the default count of network dispatcher workers.
const DefaultNetworkPoolSize = 4

// DefaultWriteBehindDelayMS is the default deferral, in milliseconds,
// before a staged cache write is flushed to disk.
const DefaultWriteBehindDelayMS = 5000

// PruneHysteresis is the multiplicative floor pruning targets (§4.B).
const PruneHysteresis = 0.9

// RecordMagic is the little-endian magic stamped at the start of every
// on-disk cache record (§4.A/§6).
const RecordMagic uint32 = 0x20150218
