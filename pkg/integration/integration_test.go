// Package integration exercises the Client and Server Engines together
// end-to-end over real TCP sockets.
package integration

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/corehttp/corehttp/pkg/body"
	"github.com/corehttp/corehttp/pkg/client"
	"github.com/corehttp/corehttp/pkg/message"
	"github.com/corehttp/corehttp/pkg/server"
)

func startServer(t *testing.T, h server.Handler, opts server.Options) (*server.Server, string) {
	t.Helper()
	s := server.New(h, opts)
	if err := s.Bind("127.0.0.1:0"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	t.Cleanup(s.Shutdown)
	return s, s.Addr().String()
}

// Scenario 1: GET / returns 200 "home".
func TestEndToEndGETHome(t *testing.T) {
	_, addr := startServer(t, server.HandlerFunc(func(ctx context.Context, req *message.Request) *message.Response {
		resp := message.NewResponse(200, "OK")
		resp.Body = body.NewBytes([]byte("home"))
		return resp
	}), server.Options{})

	c := client.New(client.Options{})
	defer c.Close()
	u, _ := url.Parse("http://" + addr + "/")
	resp, err := c.Do(context.Background(), message.NewRequest("GET", u))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body.Reader())
	if resp.Status != 200 || string(data) != "home" {
		t.Fatalf("status=%d body=%q", resp.Status, data)
	}
}

// Scenario 2: keep-alive reuses the same client-local connection for two
// requests to the same host.
func TestEndToEndKeepAliveReuse(t *testing.T) {
	var hits int
	_, addr := startServer(t, server.HandlerFunc(func(ctx context.Context, req *message.Request) *message.Response {
		hits++
		resp := message.NewResponse(200, "OK")
		resp.Body = body.NewBytes([]byte("ok"))
		return resp
	}), server.Options{})

	c := client.New(client.Options{})
	defer c.Close()
	u, _ := url.Parse("http://" + addr + "/")

	for i := 0; i < 2; i++ {
		resp, err := c.Do(context.Background(), message.NewRequest("GET", u))
		if err != nil {
			t.Fatalf("Do #%d: %v", i, err)
		}
		io.Copy(io.Discard, resp.Body.Reader())
		resp.Body.Close()
	}
	time.Sleep(20 * time.Millisecond)

	stats := c.PoolStats()
	if stats.Hits < 1 {
		t.Fatalf("pool stats = %+v, want at least one connection reuse hit", stats)
	}
	if hits != 2 {
		t.Fatalf("server saw %d requests, want 2", hits)
	}
}

// Scenario 3: a redirect chain is followed up to redirect_limit and no
// further; redirect_limit 0 means the first redirect response is returned
// verbatim.
func TestEndToEndRedirectChainRespectsLimit(t *testing.T) {
	_, addr := startServer(t, server.HandlerFunc(func(ctx context.Context, req *message.Request) *message.Response {
		resp := message.NewResponse(302, "Found")
		resp.Header.Set("Location", "/next")
		resp.Body = body.Empty{}
		return resp
	}), server.Options{})

	u, _ := url.Parse("http://" + addr + "/start")

	noFollow := client.New(client.Options{RedirectLimit: 0})
	defer noFollow.Close()
	resp, err := noFollow.Do(context.Background(), message.NewRequest("GET", u))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.Status != 302 {
		t.Fatalf("redirect_limit 0: status = %d, want 302", resp.Status)
	}
	resp.Body.Close()

	oneHop := client.New(client.Options{RedirectLimit: 1})
	defer oneHop.Close()
	resp, err = oneHop.Do(context.Background(), message.NewRequest("GET", u))
	if err != nil {
		t.Fatalf("redirect_limit 1: Do: %v", err)
	}
	if resp.Status != 302 {
		t.Fatalf("redirect_limit 1: status = %d, want 302 (one hop followed, then the next redirect returned as-is)", resp.Status)
	}
	resp.Body.Close()
}

// Scenario 4: a chunked upload is echoed back exactly.
func TestEndToEndChunkedUploadEcho(t *testing.T) {
	_, addr := startServer(t, server.HandlerFunc(func(ctx context.Context, req *message.Request) *message.Response {
		data, err := io.ReadAll(req.Body.Reader())
		if err != nil {
			return message.NewResponse(400, "Bad Request")
		}
		resp := message.NewResponse(200, "OK")
		resp.Body = body.NewBytes(data)
		return resp
	}), server.Options{})

	c := client.New(client.Options{})
	defer c.Close()
	u, _ := url.Parse("http://" + addr + "/echo")
	req := message.NewRequest("POST", u)
	r, w := io.Pipe()
	req.Body = body.NewReader(r)
	go func() {
		w.Write([]byte("abcde"))
		w.Close()
	}()

	resp, err := c.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body.Reader())
	if string(data) != "abcde" {
		t.Fatalf("echoed body = %q, want %q", data, "abcde")
	}
}

// Scenario 5: an oversize header produces 431 without the server ever
// allocating the full header value.
func TestEndToEndOversizeHeaderRejected(t *testing.T) {
	_, addr := startServer(t, server.HandlerFunc(func(ctx context.Context, req *message.Request) *message.Response {
		t.Fatal("handler must not be invoked for a request that fails header parsing")
		return nil
	}), server.Options{})

	nc, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer nc.Close()

	huge := strings.Repeat("a", 1024*1024)
	raw := fmt.Sprintf("GET / HTTP/1.1\r\nHost: example.com\r\nX-Big: %s\r\n\r\n", huge)
	nc.Write([]byte(raw))

	buf := make([]byte, 64)
	nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := nc.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(string(buf[:n]), "HTTP/1.1 431") {
		t.Fatalf("got %q, want 431 response", buf[:n])
	}
}

// Scenario 6: a client that disconnects before sending a request is
// handled silently and its permit is freed for the next connection.
func TestEndToEndPreRequestDisconnectFreesPermit(t *testing.T) {
	_, addr := startServer(t, server.HandlerFunc(func(ctx context.Context, req *message.Request) *message.Response {
		resp := message.NewResponse(200, "OK")
		resp.Body = body.NewBytes([]byte("ok"))
		return resp
	}), server.Options{MaxConcurrentConnections: 1})

	nc, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	nc.Close() // disconnect before sending any bytes

	time.Sleep(20 * time.Millisecond)

	c := client.New(client.Options{})
	defer c.Close()
	u, _ := url.Parse("http://" + addr + "/")
	resp, err := c.Do(context.Background(), message.NewRequest("GET", u))
	if err != nil {
		t.Fatalf("Do after peer disconnect: %v", err)
	}
	defer resp.Body.Close()
	if resp.Status != 200 {
		t.Fatalf("status = %d, want 200 (permit should have been freed)", resp.Status)
	}
}
