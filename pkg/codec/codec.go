// Package codec implements the cache record's hand-rolled binary format
// (§4.A). It is deliberately built on encoding/binary rather than a
// reflective serializer (cbor/json/gob): the on-disk layout is a fixed,
// length-prefixed byte stream that the engine recomputes body length from
// file size, which a general-purpose codec has no vocabulary for.
package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/omalloc/reqqueue/internal/constants"
)

// ErrFraming is returned for any short-read, magic mismatch, or reserved
// sentinel found while decoding a record (§4.A, §7).
type ErrFraming struct {
	Reason string
}

func (e *ErrFraming) Error() string { return "codec: framing error: " + e.Reason }

func framingf(format string, args ...any) error {
	return &ErrFraming{Reason: fmt.Sprintf(format, args...)}
}

// MaxInt64 is the reserved sentinel for ttl/softTtl (§3, §9): such records
// must never be persisted and must fail to decode if found on disk.
const MaxInt64 = int64(math.MaxInt64)

// Record is the on-disk layout described in §4.A:
//
//	magic(u32) | key(string) | etag(string) | serverDate(i64) | ttl(i64) |
//	softTtl(i64) | keepUntil(i64) | isImage(u32) | responseHeaders(string_map) | body(...to EOF)
type Record struct {
	Key             string
	ETag            string
	ServerDate      int64
	TTL             int64
	SoftTTL         int64
	KeepUntil       int64
	IsImage         bool
	ResponseHeaders map[string]string
	Body            []byte
}

// EncodeHeader writes every field except Body and returns the number of
// header bytes written, so callers can derive body length as
// fileLength - headerBytes without re-parsing.
func EncodeHeader(w io.Writer, r *Record) (int64, error) {
	if r.TTL == MaxInt64 || r.SoftTTL == MaxInt64 {
		return 0, framingf("refusing to persist reserved sentinel ttl/softTtl")
	}

	cw := &countingWriter{w: w}

	if err := writeU32(cw, constants.RecordMagic); err != nil {
		return cw.n, err
	}
	if err := writeString(cw, r.Key); err != nil {
		return cw.n, err
	}
	if err := writeString(cw, r.ETag); err != nil {
		return cw.n, err
	}
	if err := writeI64(cw, r.ServerDate); err != nil {
		return cw.n, err
	}
	if err := writeI64(cw, r.TTL); err != nil {
		return cw.n, err
	}
	if err := writeI64(cw, r.SoftTTL); err != nil {
		return cw.n, err
	}
	if err := writeI64(cw, r.KeepUntil); err != nil {
		return cw.n, err
	}
	isImage := uint32(0)
	if r.IsImage {
		isImage = 1
	}
	if err := writeU32(cw, isImage); err != nil {
		return cw.n, err
	}
	if err := writeStringMap(cw, r.ResponseHeaders); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

// Encode writes the full record (header + body) to w.
func Encode(w io.Writer, r *Record) error {
	if _, err := EncodeHeader(w, r); err != nil {
		return err
	}
	_, err := w.Write(r.Body)
	return err
}

// DecodeHeader reads every field except Body from r, returning the record
// (without Body) and the count of header bytes consumed. It reads r
// directly rather than through a buffered reader: callers that go on to
// read the body from the same underlying file (fileSize - headerBytes
// bytes from the current position) rely on r's position landing exactly at the end
// of the header, which a buffering reader's read-ahead would overrun.
func DecodeHeader(r io.Reader) (*Record, int64, error) {
	cr := &countingReader{r: r}

	magic, err := readU32(cr)
	if err != nil {
		return nil, cr.n, err
	}
	if magic != constants.RecordMagic {
		return nil, cr.n, framingf("bad magic %#x", magic)
	}

	key, err := readString(cr)
	if err != nil {
		return nil, cr.n, err
	}
	etag, err := readString(cr)
	if err != nil {
		return nil, cr.n, err
	}
	serverDate, err := readI64(cr)
	if err != nil {
		return nil, cr.n, err
	}
	ttl, err := readI64(cr)
	if err != nil {
		return nil, cr.n, err
	}
	softTTL, err := readI64(cr)
	if err != nil {
		return nil, cr.n, err
	}
	if ttl == MaxInt64 || softTTL == MaxInt64 {
		return nil, cr.n, framingf("record carries reserved sentinel ttl/softTtl")
	}
	keepUntil, err := readI64(cr)
	if err != nil {
		return nil, cr.n, err
	}
	isImageU, err := readU32(cr)
	if err != nil {
		return nil, cr.n, err
	}
	headers, err := readStringMap(cr)
	if err != nil {
		return nil, cr.n, err
	}

	return &Record{
		Key:             key,
		ETag:            etag,
		ServerDate:      serverDate,
		TTL:             ttl,
		SoftTTL:         softTTL,
		KeepUntil:       keepUntil,
		IsImage:         isImageU != 0,
		ResponseHeaders: headers,
	}, cr.n, nil
}

// Decode reads a full record, including the remaining bytes as Body.
func Decode(r io.Reader) (*Record, error) {
	rec, _, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	rec.Body = body
	return rec, nil
}

// --- primitives ---

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, framingf("short read u32: %v", err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeI64(w io.Writer, v int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

func readI64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, framingf("short read i64: %v", err)
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

func writeString(w io.Writer, s string) error {
	if err := writeI64(w, int64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readI64(r)
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", framingf("negative string length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", framingf("short read string(%d): %v", n, err)
	}
	return string(buf), nil
}

func writeStringMap(w io.Writer, m map[string]string) error {
	if err := writeU32(w, uint32(len(m))); err != nil {
		return err
	}
	for k, v := range m {
		if err := writeString(w, k); err != nil {
			return err
		}
		if err := writeString(w, v); err != nil {
			return err
		}
	}
	return nil
}

func readStringMap(r io.Reader) (map[string]string, error) {
	count, err := readU32(r)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, count)
	for i := uint32(0); i < count; i++ {
		k, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := readString(r)
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
