// Package cachecontrol parses the Cache-Control header and, together with
// Expires/Date, derives a record's ttl and softTtl
// (§6 "Cache-control inputs"). The parser shape mirrors the teacher's
// pkg/x/http/cachecontrol contract (referenced from pkg/x/http/header.go
// and tests/mockserver/middleware/cachecontrol), whose implementation
// wasn't part of the retrieved files, so it's rebuilt here against that
// call site.
package cachecontrol

import "strconv"
import "strings"
import "time"

import "github.com/omalloc/reqqueue/internal/constants"

// ControlValue is the parsed directive set of one Cache-Control header.
type ControlValue struct {
	noStore         bool
	noCache         bool
	private         bool
	maxAge          time.Duration
	sMaxAge         time.Duration
	hasMaxAge       bool
	staleWhileRevalidate time.Duration
}

// Parse splits a raw Cache-Control header value into directives.
func Parse(raw string) ControlValue {
	cv := ControlValue{}
	if raw == "" {
		return cv
	}

	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.Trim(strings.TrimSpace(value), `"`)

		switch name {
		case "no-store":
			cv.noStore = true
		case "no-cache":
			cv.noCache = true
		case "private":
			cv.private = true
		case "max-age":
			if secs, err := strconv.Atoi(value); err == nil {
				cv.maxAge = time.Duration(secs) * time.Second
				cv.hasMaxAge = true
			}
		case "s-maxage":
			if secs, err := strconv.Atoi(value); err == nil {
				cv.sMaxAge = time.Duration(secs) * time.Second
			}
		case "stale-while-revalidate":
			if secs, err := strconv.Atoi(value); err == nil {
				cv.staleWhileRevalidate = time.Duration(secs) * time.Second
			}
		}
	}
	return cv
}

// MaxAge returns the max-age directive, or 0 if absent.
func (c ControlValue) MaxAge() time.Duration { return c.maxAge }

// HasMaxAge reports whether max-age was present at all (vs. defaulting to 0).
func (c ControlValue) HasMaxAge() bool { return c.hasMaxAge }

// StaleWhileRevalidate is the soft-TTL extension window, if present.
func (c ControlValue) StaleWhileRevalidate() time.Duration { return c.staleWhileRevalidate }

// Cacheable reports whether the response may be cached at all.
func (c ControlValue) Cacheable() bool {
	return !c.noStore && !c.noCache
}

// DefaultSoftTTLFraction is how much of the hard TTL window is treated as
// fresh before a soft-refresh is triggered, when the server gives no more
// specific signal (no stale-while-revalidate, no explicit soft-TTL override).
const DefaultSoftTTLFraction = 0.9

// Times is the pair of absolute deadlines §3 calls ttl (hard expiry) and
// softTtl (freshness horizon).
type Times struct {
	TTL       time.Time
	SoftTTL   time.Time
	Cacheable bool
}

// FromHeaders derives ttl/softTtl from a response's Cache-Control, Expires
// and Date headers (§6). now is the instant the response was received.
func FromHeaders(header Header, now time.Time) Times {
	cc := Parse(header.Get(constants.HeaderCacheControl))
	if !cc.Cacheable() {
		return Times{Cacheable: false}
	}

	serverDate := now
	if d := header.Get(constants.HeaderDate); d != "" {
		if t, err := time.Parse(time.RFC1123, d); err == nil {
			serverDate = t
		}
	}

	var ttl time.Time
	switch {
	case cc.HasMaxAge():
		ttl = serverDate.Add(cc.maxAge)
	default:
		if exp := header.Get(constants.HeaderExpires); exp != "" {
			if t, err := time.Parse(time.RFC1123, exp); err == nil {
				ttl = t
			}
		}
	}
	if ttl.IsZero() {
		return Times{Cacheable: false}
	}

	softTTL := ttl
	if swr := cc.StaleWhileRevalidate(); swr > 0 {
		softTTL = ttl.Add(swr)
	} else {
		window := ttl.Sub(now)
		if window > 0 {
			softTTL = now.Add(time.Duration(float64(window) * DefaultSoftTTLFraction))
		}
	}

	return Times{TTL: ttl, SoftTTL: softTTL, Cacheable: true}
}

// Header is the minimal header-lookup contract FromHeaders needs, so
// callers can pass an http.Header without this package importing net/http.
type Header interface {
	Get(string) string
}
