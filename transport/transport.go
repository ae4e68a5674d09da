// Package transport defines the HTTP execution contract the network
// dispatcher pool drives (§4.E) and a default net/http-backed
// implementation. Transport adapters are explicitly out of scope for the
// pipeline itself (§1 Non-goals) — only the contract and one concrete,
// swappable implementation live here.
package transport

import (
	"context"
	"net/http"
	"time"
)

// NetworkResponse is what a Transport returns for one request/response
// cycle: status, headers, body bytes, elapsed time, and whether the
// server reported 304 Not Modified.
type NetworkResponse struct {
	StatusCode  int
	Headers     http.Header
	Body        []byte
	NotModified bool
	NetworkTime time.Duration
}

// Transport performs exactly one request/response cycle. Implementations
// must respect ctx cancellation.
type Transport interface {
	PerformRequest(ctx context.Context, req *Request) (*NetworkResponse, error)
}

// Request is the minimal wire shape a Transport needs — deliberately
// decoupled from the request package's richer state-machine Request so
// transport has no dependency on scheduling concerns.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}
