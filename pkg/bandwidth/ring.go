// Package bandwidth tracks recent cache-write throughput and derives a
// hysteretic low/high-bandwidth flag (§3 "Bandwidth ring"), built on the
// same github.com/paulbellamy/ratecounter primitive the teacher uses for
// its load metrics (storage/bucket/disk/disk.go).
package bandwidth

import (
	"sync"
	"time"

	"github.com/paulbellamy/ratecounter"
)

// Ring is a fixed-capacity FIFO of (bytes, elapsed) samples. It is an
// optional collaborator: callers that don't need bandwidth-aware behavior
// can leave it nil.
type Ring struct {
	mu       sync.Mutex
	capacity int
	samples  []sample
	head     int
	filled   bool

	bytes *ratecounter.RateCounter

	lowWatermark  int64 // bytes/sec below which Low() is true
	highWatermark int64 // bytes/sec above which High() is true
}

type sample struct {
	bytes   int64
	elapsed time.Duration
}

// New builds a Ring with the given sample capacity and bandwidth
// thresholds in bytes/sec.
func New(capacity int, lowWatermark, highWatermark int64) *Ring {
	return &Ring{
		capacity:      capacity,
		samples:       make([]sample, capacity),
		bytes:         ratecounter.NewRateCounter(time.Second),
		lowWatermark:  lowWatermark,
		highWatermark: highWatermark,
	}
}

// Record appends one (bytes, elapsed) sample, evicting the oldest if full.
func (r *Ring) Record(bytes int64, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples[r.head] = sample{bytes: bytes, elapsed: elapsed}
	r.head = (r.head + 1) % r.capacity
	if r.head == 0 {
		r.filled = true
	}
	r.bytes.Incr(bytes)
}

// BytesPerSecond averages throughput across the currently-held samples.
func (r *Ring) BytesPerSecond() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.head
	if r.filled {
		n = r.capacity
	}
	if n == 0 {
		return 0
	}

	var totalBytes int64
	var totalElapsed time.Duration
	for i := 0; i < n; i++ {
		totalBytes += r.samples[i].bytes
		totalElapsed += r.samples[i].elapsed
	}
	if totalElapsed <= 0 {
		return 0
	}
	return int64(float64(totalBytes) / totalElapsed.Seconds())
}

// Low reports whether recent throughput has fallen under the low watermark.
func (r *Ring) Low() bool {
	return r.BytesPerSecond() < r.lowWatermark
}

// High reports whether recent throughput is above the high watermark.
func (r *Ring) High() bool {
	return r.BytesPerSecond() > r.highWatermark
}
