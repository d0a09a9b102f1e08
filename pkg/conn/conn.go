// Package conn implements the Connection component: a buffered wrapper
// around one net.Conn that knows how to serialize and parse whole
// HTTP/1.1 messages, and whether the stream can be reused afterward.
// Spec.md §4.3.
package conn

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/corehttp/corehttp/pkg/body"
	"github.com/corehttp/corehttp/pkg/constants"
	cherrors "github.com/corehttp/corehttp/pkg/errors"
	"github.com/corehttp/corehttp/pkg/header"
	"github.com/corehttp/corehttp/pkg/message"
)

// Connection wraps one net.Conn (plain or TLS) with buffered I/O sized per
// constants.DefaultConnBufferSize, and tracks whether the underlying stream
// remains usable for a further request/response exchange.
type Connection struct {
	nc       net.Conn
	br       *bufio.Reader
	bw       *bufio.Writer
	reusable bool
	// closed once a framing or I/O error has been observed, marking the
	// stream permanently unfit for reuse regardless of reusable.
	broken bool
}

// New wraps nc with buffered I/O and enables TCP_NODELAY where supported,
// per spec.md §4.3 (change log 0.2.5: "disable Nagle's algorithm").
func New(nc net.Conn) *Connection {
	if tc, ok := nc.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	return &Connection{
		nc:       nc,
		br:       bufio.NewReaderSize(nc, constants.DefaultConnBufferSize),
		bw:       bufio.NewWriterSize(nc, constants.DefaultConnBufferSize),
		reusable: true,
	}
}

// RemoteAddr returns the address of the remote connection endpoint.
func (c *Connection) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// SetDeadline sets a single deadline covering the entire next exchange, per
// spec.md §4.3 ("a single read/write deadline per exchange, not one per
// syscall").
func (c *Connection) SetDeadline(d time.Time) error { return c.nc.SetDeadline(d) }

// Close closes the underlying connection.
func (c *Connection) Close() error { return c.nc.Close() }

// IsReusable reports whether the connection can be handed back to the pool
// (client side) or kept open for another request (server side): no framing
// error has occurred, neither side's message carried Connection: close, and
// no unread bytes remain buffered from a short body read.
func (c *Connection) IsReusable() bool {
	return c.reusable && !c.broken && c.br.Buffered() == 0
}

// markBroken flags the stream as unusable for reuse after any error.
func (c *Connection) markBroken() { c.broken = true }

// SendRequest serializes req onto the wire: request-line, headers (with
// Host emitted first), then the body framed per RequiresBody/Len.
func (c *Connection) SendRequest(req *message.Request) error {
	target := req.URL.RequestURI()
	rl := header.RequestLine{Method: req.Method, Target: target, Version: req.Version}
	if err := header.WriteRequestLine(c.bw, rl); err != nil {
		c.markBroken()
		return cherrors.NewIOError("writing request line", err)
	}

	host := req.URL.Host
	if err := writeFramingHeaders(req.Header, req.Body, req.Method, 0); err != nil {
		c.markBroken()
		return err
	}
	if err := req.Header.WriteTo(c.bw, host); err != nil {
		c.markBroken()
		return cherrors.NewIOError("writing request headers", err)
	}

	if err := c.writeBody(req.Body); err != nil {
		c.markBroken()
		return err
	}
	if err := c.bw.Flush(); err != nil {
		c.markBroken()
		return cherrors.NewIOError("flushing request", err)
	}
	if req.Header.ConnectionClose() {
		c.reusable = false
	}
	return nil
}

// RecvResponse parses one response off the wire. headBudget bounds the
// combined status-line-plus-headers size. method is the request method
// this response answers, needed to apply the HEAD/1xx/204/304 "no body"
// rule.
func (c *Connection) RecvResponse(method string, headBudget int) (*message.Response, error) {
	budget := headBudget
	sl, err := header.ReadStatusLine(c.br, &budget)
	if err != nil {
		c.markBroken()
		return nil, err
	}
	h, err := header.ParseHeaderBlock(c.br, &budget)
	if err != nil {
		c.markBroken()
		return nil, err
	}

	resp := &message.Response{Version: sl.Version, Status: sl.Status, Reason: sl.Reason, Header: h}

	hasBody := method != "HEAD" && body.RequiresBody("", sl.Status)
	if !hasBody {
		resp.Body = body.Empty{}
	} else {
		b, err := c.readFramedBody(h)
		if err != nil {
			c.markBroken()
			return nil, err
		}
		resp.Body = b
	}

	if h.ConnectionClose() || sl.Version == "HTTP/1.0" && !h.ConnectionKeepAlive() {
		c.reusable = false
	}
	return resp, nil
}

// RecvRequest parses one request off the wire (server side).
func (c *Connection) RecvRequest(headBudget int) (*message.Request, error) {
	budget := headBudget
	rl, err := header.ReadRequestLine(c.br, &budget)
	if err != nil {
		c.markBroken()
		return nil, err
	}
	h, err := header.ParseHeaderBlock(c.br, &budget)
	if err != nil {
		c.markBroken()
		return nil, err
	}

	u, uerr := url.ParseRequestURI(rl.Target)
	if uerr != nil {
		c.markBroken()
		return nil, cherrors.NewBadRequestError("invalid request target", uerr)
	}
	if host := h.Get("Host"); host != "" {
		u.Host = host
	}

	req := &message.Request{Method: rl.Method, URL: u, Version: rl.Version, Header: h}

	// A request with neither framing header carries a zero-length body.
	hasBody := h.Has("Content-Length") || h.IsChunked()
	if !hasBody {
		req.Body = body.Empty{}
	} else {
		b, err := c.readFramedBody(h)
		if err != nil {
			c.markBroken()
			return nil, err
		}
		req.Body = b
	}

	if h.ConnectionClose() || rl.Version == "HTTP/1.0" && !h.ConnectionKeepAlive() {
		c.reusable = false
	}
	return req, nil
}

// SendResponse serializes resp onto the wire.
func (c *Connection) SendResponse(resp *message.Response) error {
	sl := header.StatusLine{Version: resp.Version, Status: resp.Status, Reason: resp.Reason}
	if err := header.WriteStatusLine(c.bw, sl); err != nil {
		c.markBroken()
		return cherrors.NewIOError("writing status line", err)
	}

	if err := writeFramingHeaders(resp.Header, resp.Body, "", resp.Status); err != nil {
		c.markBroken()
		return err
	}
	if err := resp.Header.WriteTo(c.bw, ""); err != nil {
		c.markBroken()
		return cherrors.NewIOError("writing response headers", err)
	}

	if err := c.writeBody(resp.Body); err != nil {
		c.markBroken()
		return err
	}
	if err := c.bw.Flush(); err != nil {
		c.markBroken()
		return cherrors.NewIOError("flushing response", err)
	}
	if resp.Header.ConnectionClose() {
		c.reusable = false
	}
	return nil
}

// writeFramingHeaders sets (or clears) Content-Length / Transfer-Encoding on
// h to match b's framing, per the message presence rule: a body section (and
// its framing header) is only emitted when the method/status requires one
// or the caller supplied a body other than body.Empty (a zero-length Bytes
// body still gets "Content-Length: 0").
func writeFramingHeaders(h *header.Header, b body.Body, method string, status int) error {
	h.Del("Content-Length")
	h.Del("Transfer-Encoding")

	_, isEmpty := b.(body.Empty)
	if isEmpty && !body.RequiresBody(method, status) {
		return nil
	}
	if n, ok := b.Len(); ok {
		return h.Set("Content-Length", strconv.FormatInt(n, 10))
	}
	return h.Set("Transfer-Encoding", "chunked")
}

func (c *Connection) writeBody(b body.Body) error {
	if b == nil {
		return nil
	}
	if _, ok := b.Len(); ok {
		if _, err := io.Copy(c.bw, b.Reader()); err != nil {
			return cherrors.NewIOError("writing body", err)
		}
		return nil
	}
	cw := body.NewChunkedWriter(c.bw)
	if err := body.CopyChunked(cw, b.Reader(), constants.DefaultConnBufferSize); err != nil {
		return cherrors.NewIOError("writing chunked body", err)
	}
	return nil
}

// readFramedBody decides, from h, whether the body is chunked,
// Content-Length-framed, or (lacking both, HTTP/1.0 response semantics)
// close-delimited, and returns a Body that reads exactly that much from c.
// readFramedBody picks the framing a received message actually used.
// header.ParseHeaderBlock already rejects a header block carrying both
// Content-Length and a chunked Transfer-Encoding, so at most one of these
// two branches ever applies.
func (c *Connection) readFramedBody(h *header.Header) (body.Body, error) {
	if h.IsChunked() {
		return body.NewReader(body.NewChunkedReader(c.br, constants.MaxChunkLineBytes)), nil
	}
	n, err := h.ContentLength()
	if err != nil {
		return nil, err
	}
	if n >= 0 {
		return body.NewSized(body.NewSizedReader(c.br, n), n), nil
	}
	// No framing header at all: read until the peer closes (legal only for
	// a server's final, connection-closing response).
	c.reusable = false
	return body.NewReader(c.br), nil
}

// Key identifies a pool slot: connections to the same (scheme, host, port)
// are interchangeable.
type Key struct {
	Scheme string
	Host   string
	Port   int
}

func (k Key) String() string {
	return fmt.Sprintf("%s://%s:%d", k.Scheme, k.Host, k.Port)
}
