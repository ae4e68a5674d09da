// Package errors defines the error kinds the pipeline surfaces to callers
// (§7). Internal faults (CacheError, Framing) never leave the cache engine;
// they degrade to a miss and a log line instead.
package errors

import (
	"fmt"
	"net/http"
	"time"
)

// Kind is one of the error kinds named in §7.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthFailure
	KindNoConnection
	KindNetwork
	KindServerError
	KindTimeout
	KindParseError
	KindCacheError
	KindFraming
)

func (k Kind) String() string {
	switch k {
	case KindAuthFailure:
		return "AuthFailure"
	case KindNoConnection:
		return "NoConnection"
	case KindNetwork:
		return "NetworkError"
	case KindServerError:
		return "ServerError"
	case KindTimeout:
		return "TimeoutError"
	case KindParseError:
		return "ParseError"
	case KindCacheError:
		return "CacheError"
	case KindFraming:
		return "Framing"
	default:
		return "Unknown"
	}
}

// Error carries the kind, an optional HTTP status and response headers
// (when the fault came from a network round trip), and network timing.
type Error struct {
	Kind      Kind
	Status    int
	Headers   http.Header
	NetworkMS time.Duration
	cause     error
}

func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: status=%d cause=%v", e.Kind, e.Status, e.cause)
	}
	return fmt.Sprintf("%s: status=%d", e.Kind, e.Status)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

func (e *Error) WithHeaders(h http.Header) *Error {
	e.Headers = h
	return e
}

func (e *Error) WithNetworkTiming(d time.Duration) *Error {
	e.NetworkMS = d
	return e
}

func AuthFailure() *Error   { return New(KindAuthFailure) }
func NoConnection() *Error  { return New(KindNoConnection) }
func Network() *Error       { return New(KindNetwork) }
func ServerError() *Error   { return New(KindServerError) }
func Timeout() *Error       { return New(KindTimeout) }
func ParseError() *Error    { return New(KindParseError) }
func CacheError() *Error    { return New(KindCacheError) }
func FramingError() *Error  { return New(KindFraming) }

// Is reports whether err is a *Error of the given kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	for err != nil {
		if ae, ok := err.(*Error); ok {
			return ae.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
