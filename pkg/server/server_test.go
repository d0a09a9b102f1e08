package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/corehttp/corehttp/pkg/body"
	"github.com/corehttp/corehttp/pkg/message"
)

func dialAndExchange(t *testing.T, addr string, raw string) string {
	t.Helper()
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer nc.Close()
	if _, err := nc.Write([]byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
	nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	br := bufio.NewReader(nc)
	statusLine, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	var sb strings.Builder
	sb.WriteString(statusLine)
	for {
		line, err := br.ReadString('\n')
		sb.WriteString(line)
		if err != nil || line == "\r\n" {
			break
		}
	}
	return sb.String()
}

func TestServerServesSimpleGET(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, req *message.Request) *message.Response {
		resp := message.NewResponse(200, "OK")
		resp.Body = body.NewBytes([]byte("home"))
		return resp
	})
	s := New(h, Options{})
	if err := s.Bind("127.0.0.1:0"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer s.Shutdown()

	out := dialAndExchange(t, s.Addr().String(), "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")
	if !strings.HasPrefix(out, "HTTP/1.1 200") {
		t.Fatalf("got %q", out)
	}
}

func TestServerKeepAliveReusesSamePort(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, req *message.Request) *message.Response {
		resp := message.NewResponse(200, "OK")
		resp.Body = body.NewBytes([]byte("ok"))
		return resp
	})
	s := New(h, Options{})
	if err := s.Bind("127.0.0.1:0"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer s.Shutdown()

	nc, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer nc.Close()
	localPort := nc.LocalAddr().String()

	for i := 0; i < 2; i++ {
		if _, err := nc.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
		nc.SetReadDeadline(time.Now().Add(2 * time.Second))
		br := bufio.NewReader(nc)
		statusLine, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("iteration %d: read status: %v", i, err)
		}
		if !strings.HasPrefix(statusLine, "HTTP/1.1 200") {
			t.Fatalf("iteration %d: status = %q", i, statusLine)
		}
		for {
			line, err := br.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		bodyBuf := make([]byte, 2)
		io.ReadFull(br, bodyBuf)
	}

	if nc.LocalAddr().String() != localPort {
		t.Fatal("expected same local connection reused across both requests")
	}
}

func TestServerRejectsOversizeHeaderWith431(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, req *message.Request) *message.Response {
		return message.NewResponse(200, "OK")
	})
	s := New(h, Options{})
	if err := s.Bind("127.0.0.1:0"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer s.Shutdown()

	huge := strings.Repeat("a", 1024*1024)
	raw := fmt.Sprintf("GET / HTTP/1.1\r\nHost: example.com\r\nX-Big: %s\r\n\r\n", huge)
	out := dialAndExchange(t, s.Addr().String(), raw)
	if !strings.HasPrefix(out, "HTTP/1.1 431") {
		t.Fatalf("got %q, want 431 response", out)
	}
}

func TestServerRecoversHandlerPanic(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, req *message.Request) *message.Response {
		panic("boom")
	})
	s := New(h, Options{})
	if err := s.Bind("127.0.0.1:0"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer s.Shutdown()

	out := dialAndExchange(t, s.Addr().String(), "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")
	if !strings.HasPrefix(out, "HTTP/1.1 500") {
		t.Fatalf("got %q, want 500 after recovered panic", out)
	}
}

func TestServerBoundsConcurrency(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 10)
	h := HandlerFunc(func(ctx context.Context, req *message.Request) *message.Response {
		entered <- struct{}{}
		<-release
		return message.NewResponse(200, "OK")
	})
	s := New(h, Options{MaxConcurrentConnections: 1})
	if err := s.Bind("127.0.0.1:0"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer s.Shutdown()

	go func() {
		nc, _ := net.Dial("tcp", s.Addr().String())
		nc.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
		<-release
		nc.Close()
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first request never entered handler")
	}

	secondDone := make(chan struct{})
	go func() {
		nc, err := net.Dial("tcp", s.Addr().String())
		if err == nil {
			nc.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
			nc.Close()
		}
		close(secondDone)
	}()

	select {
	case <-entered:
		close(release)
		t.Fatal("second request entered handler while first was still in flight")
	case <-time.After(150 * time.Millisecond):
	}
	close(release)
	<-secondDone
}
