package header

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/corehttp/corehttp/pkg/constants"
	cherrors "github.com/corehttp/corehttp/pkg/errors"
)

// RequestLine is the parsed "METHOD target HTTP/version" line.
type RequestLine struct {
	Method  string
	Target  string
	Version string
}

// StatusLine is the parsed "HTTP/version status reason" line.
type StatusLine struct {
	Version string
	Status  int
	Reason  string
}

// ParseRequestLine parses a single request-line, already stripped of its
// trailing line terminator.
func ParseRequestLine(line string) (RequestLine, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return RequestLine{}, cherrors.NewBadRequestError("malformed request line", nil)
	}
	if parts[0] == "" || parts[1] == "" {
		return RequestLine{}, cherrors.NewBadRequestError("malformed request line", nil)
	}
	if !strings.HasPrefix(parts[2], "HTTP/") {
		return RequestLine{}, cherrors.NewBadRequestError("malformed request line version", nil)
	}
	return RequestLine{Method: parts[0], Target: parts[1], Version: parts[2]}, nil
}

// WriteRequestLine serializes rl as "METHOD target HTTP/version\r\n".
func WriteRequestLine(w *bufio.Writer, rl RequestLine) error {
	_, err := fmt.Fprintf(w, "%s %s %s\r\n", rl.Method, rl.Target, rl.Version)
	return err
}

// ParseStatusLine parses a single status-line, already stripped of its
// trailing line terminator.
func ParseStatusLine(line string) (StatusLine, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return StatusLine{}, cherrors.NewProtocolError("malformed status line", nil)
	}
	if !strings.HasPrefix(parts[0], "HTTP/") {
		return StatusLine{}, cherrors.NewProtocolError("malformed status line version", nil)
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil || status < 100 || status > 599 {
		return StatusLine{}, cherrors.NewProtocolError("malformed status code", err)
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}
	return StatusLine{Version: parts[0], Status: status, Reason: reason}, nil
}

// WriteStatusLine serializes sl as "HTTP/version status reason\r\n".
func WriteStatusLine(w *bufio.Writer, sl StatusLine) error {
	_, err := fmt.Fprintf(w, "%s %d %s\r\n", sl.Version, sl.Status, sl.Reason)
	return err
}

// readLine reads one line terminated by LF, tolerating a bare LF as well as
// CRLF on receive (spec §4.1: "tolerant of LF without CR on read, but always
// emits CRLF on write"). The returned string has the terminator stripped.
// budget bounds the total bytes consumed across the whole header block;
// exceeding it returns a HeaderTooLarge error.
func readLine(r *bufio.Reader, budget *int) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	*budget -= len(line)
	if *budget < 0 {
		return "", cherrors.NewHeaderTooLargeError(constants.MaxHeaderBytes)
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

// ReadRequestLine reads and parses the request-line from r, enforcing the
// header size budget.
func ReadRequestLine(r *bufio.Reader, budget *int) (RequestLine, error) {
	line, err := readLine(r, budget)
	if err != nil {
		if errors.Is(err, io.EOF) {
			// A peer that disconnects before sending any bytes of a new
			// request is not a protocol error; the caller distinguishes
			// this from a malformed request via errors.Is(err, io.EOF).
			return RequestLine{}, err
		}
		var chErr *cherrors.Error
		if errors.As(err, &chErr) {
			return RequestLine{}, err
		}
		return RequestLine{}, cherrors.NewBadRequestError("reading request line", err)
	}
	return ParseRequestLine(line)
}

// ReadStatusLine reads and parses the status-line from r, enforcing the
// header size budget.
func ReadStatusLine(r *bufio.Reader, budget *int) (StatusLine, error) {
	line, err := readLine(r, budget)
	if err != nil {
		var chErr *cherrors.Error
		if errors.As(err, &chErr) {
			return StatusLine{}, err
		}
		return StatusLine{}, cherrors.NewProtocolError("reading status line", err)
	}
	return ParseStatusLine(line)
}

// ParseHeaderBlock reads header field lines from r until the terminating
// blank line, enforcing the combined start-line-plus-headers budget
// (constants.MaxHeaderBytes by default, tracked via the shared budget
// counter) and rejecting obsolete line folding (a continuation line
// beginning with SP or HTAB), which RFC 9112 §5.2 forbids for a compliant
// recipient. Duplicate singleton fields (Host, Content-Length,
// Transfer-Encoding) are collapsed if their values agree and rejected
// otherwise.
func ParseHeaderBlock(r *bufio.Reader, budget *int) (*Header, error) {
	h := New()
	for {
		line, err := readLine(r, budget)
		if err != nil {
			return nil, err
		}
		if line == "" {
			if h.Has("Content-Length") && h.IsChunked() {
				// A message carrying both framing headers is rejected
				// outright rather than preferring one (request smuggling
				// relevant, RFC 9112 §6.1).
				return nil, cherrors.NewBadRequestError(
					"message has both Content-Length and Transfer-Encoding: chunked", nil)
			}
			return h, nil
		}
		if line[0] == ' ' || line[0] == '\t' {
			return nil, cherrors.NewBadRequestError("obsolete line folding is not supported", nil)
		}
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			return nil, cherrors.NewBadRequestError("malformed header field: "+line, nil)
		}
		name := line[:colon]
		value := strings.TrimSpace(line[colon+1:])
		if err := ValidateName(name); err != nil {
			return nil, cherrors.NewBadRequestError("invalid header name", err)
		}
		if err := ValidateValue(value); err != nil {
			return nil, cherrors.NewBadRequestError("invalid header value", err)
		}

		key := canon(name)
		if singletonFields[key] && h.Has(name) {
			existing := h.Get(name)
			if existing != value {
				return nil, cherrors.NewBadRequestError(
					fmt.Sprintf("conflicting duplicate %s header", name), nil)
			}
			continue
		}
		h.addUnchecked(name, value)
	}
}
