// Package client implements the Client Engine: request dispatch over a
// pooled connection, redirect following, and optional upstream proxy
// dialing. Spec.md §4.4.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/corehttp/corehttp/pkg/body"
	"github.com/corehttp/corehttp/pkg/conn"
	"github.com/corehttp/corehttp/pkg/constants"
	cherrors "github.com/corehttp/corehttp/pkg/errors"
	"github.com/corehttp/corehttp/pkg/message"
	"github.com/corehttp/corehttp/pkg/pool"
	"github.com/corehttp/corehttp/pkg/timing"
	"github.com/corehttp/corehttp/pkg/tlsconfig"
)

// DefaultRedirectLimit is the hop budget applied when Options.RedirectLimit
// is left at its zero value, meaning "follow no redirects" per spec.md §4.4
// ("redirect_limit default 0").
const DefaultRedirectLimit = 0

// Options configures a Client.
type Options struct {
	// RedirectLimit caps the number of redirect hops followed. Once
	// exhausted, the redirect response itself is returned to the caller
	// rather than being followed further. 0 means redirects are not
	// followed at all.
	RedirectLimit int
	ConnTimeout   time.Duration
	ReadTimeout   time.Duration
	TLSBackend    tlsconfig.Backend
	UserAgent     string
	Proxy         *ProxyConfig
	IdleTTL       time.Duration
}

func (o Options) withDefaults() Options {
	if o.ConnTimeout <= 0 {
		o.ConnTimeout = constants.DefaultConnTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = constants.DefaultReadTimeout
	}
	if o.UserAgent == "" {
		o.UserAgent = "corehttp/1.0"
	}
	return o
}

// Client is the Client Engine: it dispatches a Request over a pooled
// connection and follows redirects per Options.
type Client struct {
	opts Options
	pool *pool.Pool
}

// New builds a Client with the given Options.
func New(opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{opts: opts, pool: pool.New(opts.IdleTTL)}
}

// PoolStats reports the underlying connection pool's counters.
func (c *Client) PoolStats() pool.Stats { return c.pool.Stats() }

// Close releases all idle pooled connections.
func (c *Client) Close() { c.pool.CloseIdle() }

// Do sends req and returns the final response, following redirects up to
// Options.RedirectLimit. The returned Response's Body must be closed by the
// caller once consumed.
func (c *Client) Do(ctx context.Context, req *message.Request) (*message.Response, error) {
	if c.opts.RedirectLimit > 0 {
		// A 307/308 redirect must resend the original body unchanged. A
		// body backed by a single-use stream can't be replayed across hops,
		// so capture it once into a Buffered body (spilling to disk above
		// the default memory threshold) before the first send.
		if err := makeBodyReplayable(req); err != nil {
			return nil, err
		}
	}

	remaining := c.opts.RedirectLimit
	current := req
	for {
		resp, err := c.doOnce(ctx, current)
		if err != nil {
			return nil, err
		}
		// Per spec.md §4.4 step 6/7: follow only while a redirect budget
		// remains and a Location header is present; otherwise return the
		// Response to the caller as-is, including on 301/302/303/307/308 at
		// budget 0 ("follow none" is the documented default, not an error).
		if !message.IsRedirect(resp.Status) || remaining <= 0 || resp.Header.Get("Location") == "" {
			return resp, nil
		}

		next, err := buildRedirectRequest(current, resp)
		// The response body must be fully drained (and the old one
		// discarded) before following a redirect, per spec.md §4.4.
		io.Copy(io.Discard, resp.Body.Reader())
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		current = next
		remaining--
	}
}

// makeBodyReplayable drains req.Body into an in-memory (or disk-spilled)
// Buffered body when it isn't already one of the reusable body kinds, so a
// 307/308 redirect can resend it without re-reading its original source.
func makeBodyReplayable(req *message.Request) error {
	switch req.Body.(type) {
	case body.Empty, body.Bytes, body.Buffered:
		return nil
	}
	buffered, err := body.Drain(req.Body.Reader(), 0)
	if err != nil {
		return cherrors.NewIOError("buffering request body for redirect replay", err)
	}
	req.Body.Close()
	req.Body = buffered
	return nil
}

// buildRedirectRequest constructs the request for the next redirect hop per
// spec.md §4.4: 301/302/303 downgrade to GET and drop the body; 307/308
// preserve method and body.
func buildRedirectRequest(prev *message.Request, resp *message.Response) (*message.Request, error) {
	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, cherrors.NewProtocolError("redirect response missing Location header", nil)
	}
	target, err := prev.URL.Parse(loc)
	if err != nil {
		return nil, cherrors.NewProtocolError("invalid redirect Location", err)
	}

	next := message.NewRequest(prev.Method, target)
	next.Header = prev.Header.Clone()
	next.Body = prev.Body

	if message.RedirectDowngradesToGET(resp.Status) {
		next.Method = "GET"
		next.Body = body.Empty{}
		next.Header.Del("Content-Length")
		next.Header.Del("Transfer-Encoding")
		next.Header.Del("Content-Type")
	}
	next.Header.Set("Host", target.Host)
	return next, nil
}

// doOnce performs a single request/response exchange, with no redirect
// handling: acquire (or dial) a connection for req's ConnectionKey, send
// the request, read the response, and return the connection to the pool
// when (and only when) it remains reusable.
func (c *Client) doOnce(ctx context.Context, req *message.Request) (*message.Response, error) {
	key, err := connectionKey(req.URL)
	if err != nil {
		return nil, err
	}

	injectStandardHeaders(req, c.opts.UserAgent)

	timer := timing.NewTimer()
	cn, reused := c.pool.Get(key)
	if !reused {
		cn, err = c.dial(ctx, key, timer)
		if err != nil {
			return nil, err
		}
	}

	resp, err := c.exchange(cn, req, timer)
	if err != nil {
		cn.Close()
		if reused {
			// A pooled connection may have gone stale between Put and Get;
			// retry once on a fresh dial rather than surfacing a spurious
			// failure to the caller.
			return c.doOnceFreshDial(ctx, req, key)
		}
		return nil, err
	}

	resp.Body = &pooledBody{Body: resp.Body, onClose: func() { c.pool.Put(key, cn) }}
	return resp, nil
}

func (c *Client) doOnceFreshDial(ctx context.Context, req *message.Request, key conn.Key) (*message.Response, error) {
	timer := timing.NewTimer()
	cn, err := c.dial(ctx, key, timer)
	if err != nil {
		return nil, err
	}
	resp, err := c.exchange(cn, req, timer)
	if err != nil {
		cn.Close()
		return nil, err
	}
	resp.Body = &pooledBody{Body: resp.Body, onClose: func() { c.pool.Put(key, cn) }}
	return resp, nil
}

// exchange sends req and reads the response on an already-established
// connection, recording time-to-first-byte on timer.
func (c *Client) exchange(cn *conn.Connection, req *message.Request, timer *timing.Timer) (*message.Response, error) {
	cn.SetDeadline(time.Now().Add(c.opts.ReadTimeout))

	if err := cn.SendRequest(req); err != nil {
		return nil, err
	}

	timer.StartTTFB()
	resp, err := cn.RecvResponse(req.Method, constants.MaxHeaderBytes)
	timer.EndTTFB()
	if err != nil {
		return nil, err
	}
	resp.Timing = timer.GetMetrics()
	return resp, nil
}

// pooledBody defers returning the connection to the pool until the body is
// closed, so the connection is not handed out again while the caller may
// still be reading the previous response body.
type pooledBody struct {
	body.Body
	onClose func()
	done    bool
}

func (p *pooledBody) Close() error {
	if p.done {
		return nil
	}
	p.done = true
	err := p.Body.Close()
	p.onClose()
	return err
}

func (c *Client) dial(ctx context.Context, key conn.Key, timer *timing.Timer) (*conn.Connection, error) {
	addr := net.JoinHostPort(key.Host, strconv.Itoa(key.Port))
	var nc net.Conn
	var err error

	timer.StartTCP()
	if c.opts.Proxy != nil {
		nc, err = dialViaProxy(ctx, c.opts.Proxy, addr, c.opts.ConnTimeout)
	} else {
		dialer := &net.Dialer{Timeout: c.opts.ConnTimeout}
		nc, err = dialer.DialContext(ctx, "tcp", addr)
	}
	timer.EndTCP()
	if err != nil {
		return nil, cherrors.NewConnectionError(key.Host, key.Port, err)
	}

	if key.Scheme == "https" {
		cfg, terr := tlsconfig.Shared(tlsconfig.Options{Backend: c.opts.TLSBackend})
		if terr != nil {
			nc.Close()
			return nil, cherrors.NewTLSError(key.Host, key.Port, terr)
		}
		cfg = tlsconfig.WithServerName(cfg, key.Host)
		tlsConn := tls.Client(nc, cfg)
		timer.StartTLS()
		herr := tlsConn.HandshakeContext(ctx)
		timer.EndTLS()
		if herr != nil {
			nc.Close()
			return nil, cherrors.NewTLSError(key.Host, key.Port, herr)
		}
		nc = tlsConn
	}

	return conn.New(nc), nil
}

// connectionKey computes the (scheme, host, port) pool key for u, applying
// the scheme's default port when u has none.
func connectionKey(u *url.URL) (conn.Key, error) {
	scheme := u.Scheme
	if scheme != "http" && scheme != "https" {
		return conn.Key{}, cherrors.NewValidationError(fmt.Sprintf("unsupported scheme: %s", scheme))
	}
	host := u.Hostname()
	if host == "" {
		return conn.Key{}, cherrors.NewValidationError("request URL has no host")
	}
	port := 80
	if scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return conn.Key{}, cherrors.NewValidationError("invalid port in request URL")
		}
		port = n
	}
	return conn.Key{Scheme: scheme, Host: host, Port: port}, nil
}

// injectStandardHeaders sets Host and User-Agent on req if not already
// present, per spec.md §4.4.
func injectStandardHeaders(req *message.Request, userAgent string) {
	if req.Header.Get("Host") == "" {
		req.Header.Set("Host", req.URL.Host)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
}
