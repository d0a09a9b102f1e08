// Package body implements the Body & Transfer-Coding Codec: the polymorphic
// Body value, the chunked transfer-coding encoder/decoder, and optional
// content-coding decompression, per spec.md §4.2.
package body

import (
	"bytes"
	"io"

	cherrors "github.com/corehttp/corehttp/pkg/errors"
)

// Body is the payload carried by a Request or Response. The stream-backed
// variants (Reader, Sized, Chunked) support at most one read pass; Empty,
// Bytes and Buffered return a fresh reader from every Reader call, which is
// what lets the Client Engine resend a body across a redirect.
type Body interface {
	// Reader returns the stream to read the payload from.
	Reader() io.Reader
	// Len returns the exact payload length and true, or (0, false) if the
	// length is not known up front (the caller must chunk it or read it to
	// EOF to discover the length).
	Len() (int64, bool)
	// Close releases any resources (open files, pipes) backing the body.
	Close() error
}

// Empty is a zero-length Body, used for requests/responses with no body
// section (GET requests, 204/304 responses, HEAD responses).
type Empty struct{}

func (Empty) Reader() io.Reader   { return bytes.NewReader(nil) }
func (Empty) Len() (int64, bool)  { return 0, true }
func (Empty) Close() error        { return nil }

// Bytes is an owned in-memory Body with a known length.
type Bytes struct {
	Data []byte
}

// NewBytes returns a Body wrapping an owned copy of data.
func NewBytes(data []byte) Bytes {
	return Bytes{Data: append([]byte(nil), data...)}
}

func (b Bytes) Reader() io.Reader  { return bytes.NewReader(b.Data) }
func (b Bytes) Len() (int64, bool) { return int64(len(b.Data)), true }
func (b Bytes) Close() error       { return nil }

// Reader is a borrowed stream of unknown length. The codec must send it
// chunked (on the wire) since no Content-Length can be computed up front.
type Reader struct {
	Src io.Reader
	C   io.Closer // optional; nil if Src needs no explicit close
}

// NewReader wraps src as a Body of unknown length.
func NewReader(src io.Reader) Reader {
	c, _ := src.(io.Closer)
	return Reader{Src: src, C: c}
}

func (r Reader) Reader() io.Reader { return r.Src }
func (r Reader) Len() (int64, bool) { return 0, false }
func (r Reader) Close() error {
	if r.C != nil {
		return r.C.Close()
	}
	return nil
}

// Sized is a borrowed stream with a caller-declared length, sent with
// Content-Length framing instead of chunked coding.
type Sized struct {
	Src    io.Reader
	C      io.Closer
	Length int64
}

// NewSized wraps src as a Body of the given declared length.
func NewSized(src io.Reader, length int64) Sized {
	c, _ := src.(io.Closer)
	return Sized{Src: src, C: c, Length: length}
}

func (s Sized) Reader() io.Reader  { return s.Src }
func (s Sized) Len() (int64, bool) { return s.Length, true }
func (s Sized) Close() error {
	if s.C != nil {
		return s.C.Close()
	}
	return nil
}

// Chunked wraps a stream that the codec reads and re-frames with
// chunked transfer-coding as it is written to the wire (used when
// forwarding an already-chunked incoming body without fully buffering it).
type Chunked struct {
	Src io.Reader
	C   io.Closer
}

// NewChunked wraps src as a Body to be sent with chunked transfer-coding
// regardless of whether its length happens to be knowable.
func NewChunked(src io.Reader) Chunked {
	c, _ := src.(io.Closer)
	return Chunked{Src: src, C: c}
}

func (c Chunked) Reader() io.Reader  { return c.Src }
func (c Chunked) Len() (int64, bool) { return 0, false }
func (c Chunked) Close() error {
	if c.C != nil {
		return c.C.Close()
	}
	return nil
}

// RequiresBody reports whether, per the message presence rule, a message
// with this method (for requests) or status (for responses) must carry a
// body section on the wire (even if empty, e.g. "Content-Length: 0").
// method is the request method in a request context, or "" for a response.
func RequiresBody(method string, status int) bool {
	if method != "" {
		return method == "POST" || method == "PUT" || method == "PATCH"
	}
	if status/100 == 1 || status == 204 || status == 304 {
		return false
	}
	return true
}

// ErrBodyTooLarge is returned by a capped reader once its limit is exceeded.
var ErrBodyTooLarge = cherrors.NewBodyTooLargeError("body exceeds configured limit")
