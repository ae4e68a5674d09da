package transport

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/omalloc/reqqueue/pkg/errors"
)

// HTTPTransport is the default Transport, backed by net/http. Grounded on
// proxy/proxy.go's ReverseProxy.Do/uncompress: a single long-lived client
// tuned for connection reuse, with gzip/brotli response decompression
// applied uniformly so parsers never see compressed bytes.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport builds an HTTPTransport. A nil client gets reasonable
// pooling defaults.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxConnsPerHost:       100,
				MaxIdleConns:          1000,
				MaxIdleConnsPerHost:   100,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				DisableCompression:    true,
			},
		}
	}
	return &HTTPTransport{client: client}
}

func (t *HTTPTransport) PerformRequest(ctx context.Context, req *Request) (*NetworkResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, nil)
	if err != nil {
		return nil, errors.ParseError().WithCause(err)
	}
	if req.Headers != nil {
		httpReq.Header = req.Headers.Clone()
	}
	if len(req.Body) > 0 {
		httpReq, err = http.NewRequestWithContext(ctx, req.Method, req.URL, io.NopCloser(newByteReader(req.Body)))
		if err != nil {
			return nil, errors.ParseError().WithCause(err)
		}
		httpReq.Header = req.Headers.Clone()
	}

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Timeout().WithCause(err).WithNetworkTiming(elapsed)
		}
		return nil, errors.NoConnection().WithCause(err).WithNetworkTiming(elapsed)
	}
	defer resp.Body.Close()

	body, decompressed, err := uncompress(resp)
	if err != nil {
		return nil, errors.ParseError().WithCause(err).WithStatus(resp.StatusCode).WithNetworkTiming(elapsed)
	}
	raw, err := io.ReadAll(decompressed)
	if err != nil {
		return nil, errors.Network().WithCause(err).WithStatus(resp.StatusCode).WithNetworkTiming(elapsed)
	}
	_ = body

	out := &NetworkResponse{
		StatusCode:  resp.StatusCode,
		Headers:     resp.Header,
		Body:        raw,
		NotModified: resp.StatusCode == http.StatusNotModified,
		NetworkTime: elapsed,
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return out, errors.ServerError().WithStatus(resp.StatusCode).WithHeaders(resp.Header).WithNetworkTiming(elapsed)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return out, errors.AuthFailure().WithStatus(resp.StatusCode).WithHeaders(resp.Header).WithNetworkTiming(elapsed)
	}
	return out, nil
}

// uncompress mirrors proxy/proxy.go's (*ReverseProxy).uncompress: gzip and
// brotli bodies are transparently decoded so downstream parsers always see
// plain bytes.
func uncompress(resp *http.Response) (*http.Response, io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		r, err := gzip.NewReader(resp.Body)
		if err != nil {
			return resp, nil, err
		}
		return resp, r, nil
	case "br":
		return resp, brotli.NewReader(resp.Body), nil
	default:
		return resp, resp.Body, nil
	}
}

type byteReader struct {
	b   []byte
	pos int
}

func newByteReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
