// Package header implements the Header & Start-Line Codec: RFC 9112
// request-line, status-line, and header-block parsing and serialization,
// with the size caps and singleton-field rules spec.md §4.1 requires.
package header

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/corehttp/corehttp/pkg/constants"
	cherrors "github.com/corehttp/corehttp/pkg/errors"
)

// Header is an ordered multimap of field name to values, preserving the
// original casing of each name for echo while comparing case-insensitively.
type Header struct {
	// names preserves insertion order and original casing.
	names []string
	// values maps the canonical (lower-case) key to its values, in the
	// order they were added.
	values map[string][]string
	// original maps the canonical key to the first-seen original casing.
	original map[string]string
}

// New returns an empty Header.
func New() *Header {
	return &Header{
		values:   make(map[string][]string),
		original: make(map[string]string),
	}
}

func canon(name string) string { return strings.ToLower(name) }

// Add appends a value under name, validating both per the RFC 7230 token and
// visible-ASCII-plus-HTAB grammars.
func (h *Header) Add(name, value string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ValidateValue(value); err != nil {
		return err
	}
	h.addUnchecked(name, value)
	return nil
}

// addUnchecked appends a value without validation, for internal codec use
// once validity has already been established by the parser.
func (h *Header) addUnchecked(name, value string) {
	key := canon(name)
	if _, ok := h.original[key]; !ok {
		h.original[key] = name
		h.names = append(h.names, key)
	}
	h.values[key] = append(h.values[key], value)
}

// Set replaces all values for name with a single value.
func (h *Header) Set(name, value string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ValidateValue(value); err != nil {
		return err
	}
	key := canon(name)
	if _, ok := h.original[key]; !ok {
		h.names = append(h.names, key)
	}
	h.original[key] = name
	h.values[key] = []string{value}
	return nil
}

// Get returns the first value for name, or "" if absent.
func (h *Header) Get(name string) string {
	vals := h.values[canon(name)]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// Values returns all values for name in the order they were added.
func (h *Header) Values(name string) []string {
	return h.values[canon(name)]
}

// Has reports whether name was set at least once.
func (h *Header) Has(name string) bool {
	_, ok := h.values[canon(name)]
	return ok
}

// Del removes all values for name.
func (h *Header) Del(name string) {
	key := canon(name)
	if _, ok := h.values[key]; !ok {
		return
	}
	delete(h.values, key)
	delete(h.original, key)
	for i, n := range h.names {
		if n == key {
			h.names = append(h.names[:i], h.names[i+1:]...)
			break
		}
	}
}

// Names returns the distinct field names in first-seen order, in their
// original casing.
func (h *Header) Names() []string {
	out := make([]string, 0, len(h.names))
	for _, key := range h.names {
		out = append(out, h.original[key])
	}
	return out
}

// Clone returns a deep copy.
func (h *Header) Clone() *Header {
	c := New()
	for _, key := range h.names {
		name := h.original[key]
		for _, v := range h.values[key] {
			c.addUnchecked(name, v)
		}
	}
	return c
}

// WriteTo serializes the header block (one "Name: value\r\n" line per value,
// preserving field order) followed by the terminating CRLF. hostFirst, when
// non-empty, is emitted as the first "Host: value" line ahead of all other
// fields, per spec.md §4.1 ("Host is emitted first in client requests").
func (h *Header) WriteTo(w io.Writer, hostFirst string) error {
	bw := bufWriter(w)

	if hostFirst != "" {
		if _, err := fmt.Fprintf(bw, "Host: %s\r\n", hostFirst); err != nil {
			return err
		}
	}
	for _, key := range h.names {
		if hostFirst != "" && key == "host" {
			continue
		}
		name := h.original[key]
		for _, v := range h.values[key] {
			if strings.ContainsAny(v, "\r\n") {
				return cherrors.NewValidationError("header value contains CR or LF: " + name)
			}
			if _, err := fmt.Fprintf(bw, "%s: %s\r\n", name, v); err != nil {
				return err
			}
		}
	}
	if _, err := io.WriteString(bw, "\r\n"); err != nil {
		return err
	}
	return nil
}

func bufWriter(w io.Writer) io.Writer {
	if bw, ok := w.(*bufio.Writer); ok {
		return bw
	}
	return w
}

// ValidateName reports whether name is a valid RFC 7230 §3.2.6 token:
// 1..=N bytes from the token character set.
func ValidateName(name string) error {
	if name == "" {
		return cherrors.NewValidationError("header name must not be empty")
	}
	for i := 0; i < len(name); i++ {
		if !isTokenChar(name[i]) {
			return cherrors.NewValidationError(fmt.Sprintf("invalid header name %q", name))
		}
	}
	return nil
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		return true
	default:
		return false
	}
}

// ValidateValue reports whether value is visible ASCII plus HTAB/SP, with no
// CR or LF, per spec.md's HeaderValue invariant.
func ValidateValue(value string) error {
	for i := 0; i < len(value); i++ {
		c := value[i]
		if c == '\t' || c == ' ' {
			continue
		}
		if c < 0x21 || c > 0x7e {
			return cherrors.NewValidationError(fmt.Sprintf("invalid header value byte 0x%02x", c))
		}
	}
	return nil
}

// singletonFields are the header names this codec treats as unique: later
// duplicate parses are collapsed (if equal) or rejected (if they disagree).
var singletonFields = map[string]bool{
	"content-length":    true,
	"host":              true,
	"transfer-encoding": true,
}

// ContentLength parses and validates the Content-Length header, returning
// -1 if absent. Disagreeing duplicate values are rejected at parse time
// (see ParseHeaderBlock), so by the time this is called there is at most
// one distinct value.
func (h *Header) ContentLength() (int64, error) {
	v := h.Get("Content-Length")
	if v == "" {
		return -1, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0, cherrors.NewBadRequestError("invalid Content-Length", err)
	}
	if n > constants.MaxContentLength {
		return 0, cherrors.NewBadRequestError("Content-Length too large", nil)
	}
	return n, nil
}

// IsChunked reports whether Transfer-Encoding names chunked coding.
func (h *Header) IsChunked() bool {
	return strings.EqualFold(strings.TrimSpace(h.Get("Transfer-Encoding")), "chunked")
}

// ConnectionClose reports whether the Connection header requests closing.
func (h *Header) ConnectionClose() bool {
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "close") {
				return true
			}
		}
	}
	return false
}

// ConnectionKeepAlive reports whether the Connection header explicitly
// requests keep-alive (used to upgrade HTTP/1.0 requests).
func (h *Header) ConnectionKeepAlive() bool {
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "keep-alive") {
				return true
			}
		}
	}
	return false
}
