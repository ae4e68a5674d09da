// Package parser provides ready-made request.Parser implementations for
// the common body formats (§1 "request subclasses that parse specific
// body formats"). Parsing itself stays outside the pipeline's core
// concerns — these are conveniences, not requirements.
package parser

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/omalloc/reqqueue/cache"
	"github.com/omalloc/reqqueue/internal/constants"
	"github.com/omalloc/reqqueue/pkg/cachecontrol"
	"github.com/omalloc/reqqueue/pkg/errors"
	"github.com/omalloc/reqqueue/request"
	"github.com/omalloc/reqqueue/transport"
)

// cacheEntryFromResponse builds a cache.Entry out of a network response,
// deriving ttl/softTtl from its headers (§6). key identifies the request;
// isImage tags the parser kind for the disk cache's pruning passes.
func cacheEntryFromResponse(key string, resp *transport.NetworkResponse, now time.Time, isImage bool) *cache.Entry {
	times := cachecontrol.FromHeaders(resp.Headers, now)
	if !times.Cacheable {
		return nil
	}

	headers := make(map[string]string, len(resp.Headers))
	for k := range resp.Headers {
		headers[k] = resp.Headers.Get(k)
	}

	return &cache.Entry{
		Key:             key,
		Body:            resp.Body,
		ETag:            resp.Headers.Get(constants.HeaderETag),
		ServerDate:      now.UnixMilli(),
		TTL:             times.TTL.UnixMilli(),
		SoftTTL:         times.SoftTTL.UnixMilli(),
		KeepUntil:       times.SoftTTL.UnixMilli(),
		IsImage:         isImage,
		ResponseHeaders: headers,
	}
}

// StringParser delivers the response body as a plain string.
type StringParser struct {
	Key     string // cache key; defaults to request method+url if empty
	IsImage bool
}

func (p *StringParser) SerializesParsing() bool { return false }

func (p *StringParser) ParseNetworkResponse(resp *transport.NetworkResponse) (*request.ParsedResponse, error) {
	entry := cacheEntryFromResponse(p.Key, resp, time.Now(), false)
	return &request.ParsedResponse{
		Result:     string(resp.Body),
		CacheEntry: entry,
		Cacheable:  entry != nil,
	}, nil
}

func (p *StringParser) ParseNetworkError(err error) error { return err }

// JSONParser decodes the response body into a caller-supplied value via
// goccy/go-json (chosen over encoding/json across the pack for its
// closely-compatible, allocation-lighter decoder).
type JSONParser struct {
	Key      string
	newValue func() any
}

// NewJSONParser builds a JSONParser that decodes into a fresh value
// produced by newValue on every parse (e.g. `func() any { return new(Widget) }`).
func NewJSONParser(key string, newValue func() any) *JSONParser {
	return &JSONParser{Key: key, newValue: newValue}
}

func (p *JSONParser) SerializesParsing() bool { return false }

func (p *JSONParser) ParseNetworkResponse(resp *transport.NetworkResponse) (*request.ParsedResponse, error) {
	v := p.newValue()
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return nil, errors.ParseError().WithCause(err).WithStatus(resp.StatusCode)
	}
	entry := cacheEntryFromResponse(p.Key, resp, time.Now(), false)
	return &request.ParsedResponse{
		Result:     v,
		CacheEntry: entry,
		Cacheable:  entry != nil,
	}, nil
}

func (p *JSONParser) ParseNetworkError(err error) error { return err }

// Image is the decoded-raster contract image parsing produces; actual
// decoding is an out-of-scope collaborator (§1) — ImageParser only
// frames the bytes for it.
type Image struct {
	Encoded []byte
	Width   int
	Height  int
}

// ImageParser decodes image bytes. It declares SerializesParsing() true so
// the network dispatcher pool's shared parse mutex (§4.E "Parse
// serialization", §9 "inject as explicit collaborators") wraps the call —
// the parser itself holds no lock of its own, since the constraint is a
// property of the dispatcher pool, not of any one parser instance.
type ImageParser struct {
	Key    string
	Decode func(encoded []byte) (width, height int, err error)
}

func (p *ImageParser) SerializesParsing() bool { return true }

func (p *ImageParser) ParseNetworkResponse(resp *transport.NetworkResponse) (*request.ParsedResponse, error) {
	img := &Image{Encoded: resp.Body}
	if p.Decode != nil {
		w, h, err := p.Decode(resp.Body)
		if err != nil {
			return nil, errors.ParseError().WithCause(err).WithStatus(resp.StatusCode)
		}
		img.Width, img.Height = w, h
	}

	entry := cacheEntryFromResponse(p.Key, resp, time.Now(), true)
	return &request.ParsedResponse{
		Result:     img,
		CacheEntry: entry,
		Cacheable:  entry != nil,
	}, nil
}

func (p *ImageParser) ParseNetworkError(err error) error { return err }
