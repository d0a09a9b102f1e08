// Package server implements the Server Engine: bounded-concurrency
// connection dispatch, sequential per-connection request handling, and
// synthetic error responses, per spec.md §4.5.
package server

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/corehttp/corehttp/pkg/body"
	"github.com/corehttp/corehttp/pkg/conn"
	"github.com/corehttp/corehttp/pkg/constants"
	cherrors "github.com/corehttp/corehttp/pkg/errors"
	"github.com/corehttp/corehttp/pkg/logging"
	"github.com/corehttp/corehttp/pkg/message"
)

// Handler answers one request. A panic from Handle is recovered by the
// Server and converted into a 500 response (spec.md §4.5, §7).
type Handler interface {
	Handle(ctx context.Context, req *message.Request) *message.Response
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req *message.Request) *message.Response {
	return f(ctx, req)
}

// Options configures a Server.
type Options struct {
	// MaxConcurrentConnections bounds the number of connections processed
	// at once, across every bound listener. 0 means unbounded.
	MaxConcurrentConnections int
	// GlobalTimeout, if set, bounds the lifetime of a single connection
	// (accept to close), covering all requests served on it.
	GlobalTimeout time.Duration
	ReadTimeout   time.Duration
	ServerName    string
	Logger        logging.Logger
}

func (o Options) withDefaults() Options {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = constants.DefaultReadTimeout
	}
	if o.ServerName == "" {
		o.ServerName = "corehttp"
	}
	if o.Logger.IsZero() {
		o.Logger = logging.Nop()
	}
	return o
}

// Server is the Server Engine: it binds one or more listeners and dispatches
// accepted connections to Handler, bounding how many run concurrently.
type Server struct {
	opts    Options
	handler Handler

	mu        sync.Mutex
	listeners []net.Listener
	wg        sync.WaitGroup

	// permits is a counting semaphore of size MaxConcurrentConnections. A
	// nil channel (MaxConcurrentConnections == 0) means unbounded.
	permits chan struct{}

	shutdown   chan struct{}
	shutdownOn sync.Once
}

// New builds a Server dispatching accepted connections to handler.
func New(handler Handler, opts Options) *Server {
	opts = opts.withDefaults()
	s := &Server{opts: opts, handler: handler, shutdown: make(chan struct{})}
	if opts.MaxConcurrentConnections > 0 {
		s.permits = make(chan struct{}, opts.MaxConcurrentConnections)
	}
	return s
}

// Bind listens on addr and starts accepting connections for it. Bind may be
// called multiple times to serve several addresses from one Server.
func (s *Server) Bind(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return cherrors.NewConnectionError(addr, 0, err)
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the address of the first bound listener, or nil if none.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) == 0 {
		return nil
	}
	return s.listeners[0].Addr()
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	backoff := 5 * time.Millisecond
	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(backoff)
				if backoff < time.Second {
					backoff *= 2
				}
				continue
			}
			return
		}
		backoff = 5 * time.Millisecond
		s.acquirePermit()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.releasePermit()
			s.serveConn(nc)
		}()
	}
}

func (s *Server) acquirePermit() {
	if s.permits != nil {
		s.permits <- struct{}{}
	}
}

func (s *Server) releasePermit() {
	if s.permits != nil {
		<-s.permits
	}
}

// serveConn runs the sequential (non-pipelined) request loop for one
// connection: read a request, dispatch it, write the response, repeat until
// the connection is no longer reusable or the peer disconnects.
func (s *Server) serveConn(nc net.Conn) {
	c := conn.New(nc)
	defer c.Close()

	if s.opts.GlobalTimeout > 0 {
		c.SetDeadline(time.Now().Add(s.opts.GlobalTimeout))
	}

	for {
		if s.opts.GlobalTimeout <= 0 {
			c.SetDeadline(time.Now().Add(s.opts.ReadTimeout))
		}

		req, err := c.RecvRequest(constants.MaxHeaderBytes)
		if err != nil {
			s.handlePreResponseError(c, err)
			return
		}

		resp := s.dispatch(req)
		if req.Body != nil {
			io.Copy(io.Discard, req.Body.Reader())
			req.Body.Close()
		}

		applyServerHeaders(resp, s.opts.ServerName)
		if err := c.SendResponse(resp); err != nil {
			return
		}
		if resp.Body != nil {
			resp.Body.Close()
		}
		if !c.IsReusable() {
			return
		}
	}
}

// handlePreResponseError handles a failure to read the request line or
// headers: a structured protocol-level error (header too large, malformed
// request) gets a synthetic response before the connection closes; a
// disconnect before any bytes arrived is handled silently, per spec.md §7
// ("pre-request client disconnect is not logged").
func (s *Server) handlePreResponseError(c *conn.Connection, err error) {
	status := cherrors.StatusFor(err)
	if status == 0 {
		return
	}
	resp := syntheticErrorResponse(status)
	applyServerHeaders(resp, s.opts.ServerName)
	resp.Header.Set("Connection", "close")
	c.SendResponse(resp)
}

// dispatch invokes the Handler, recovering a panic into a 500 response per
// spec.md §4.5 and §7's error table.
func (s *Server) dispatch(req *message.Request) (resp *message.Response) {
	defer func() {
		if r := recover(); r != nil {
			err := cherrors.NewHandlerPanicError(r)
			s.opts.Logger.Errorf("handler panic: %v", err)
			resp = syntheticErrorResponse(500)
		}
	}()
	return s.handler.Handle(context.Background(), req)
}

func applyServerHeaders(resp *message.Response, serverName string) {
	if resp.Header == nil {
		return
	}
	if resp.Header.Get("Server") == "" {
		resp.Header.Set("Server", serverName)
	}
	if resp.Header.Get("Date") == "" {
		resp.Header.Set("Date", time.Now().UTC().Format(time.RFC1123))
	}
}

// syntheticErrorResponse builds the plain-text error response the Server
// writes for a codec-level failure (431, 400, 413, 500), per spec.md §7.
func syntheticErrorResponse(status int) *message.Response {
	reason := reasonPhrase(status)
	resp := message.NewResponse(status, reason)
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp.Body = body.NewBytes([]byte(reason + "\n"))
	return resp
}

func reasonPhrase(status int) string {
	switch status {
	case 400:
		return "Bad Request"
	case 413:
		return "Payload Too Large"
	case 431:
		return "Request Header Fields Too Large"
	case 500:
		return "Internal Server Error"
	default:
		return "Error"
	}
}

// Shutdown stops accepting new connections and closes every bound
// listener, then waits for in-flight connections to finish.
func (s *Server) Shutdown() {
	s.shutdownOn.Do(func() { close(s.shutdown) })
	s.mu.Lock()
	for _, ln := range s.listeners {
		ln.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
