// Command corehttpd runs a small demo server built on the corehttp Server
// Engine: a static "home" route and an echo route that reads back
// whatever body it was sent (chunked or Content-Length framed alike).
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/corehttp/corehttp/pkg/body"
	"github.com/corehttp/corehttp/pkg/logging"
	"github.com/corehttp/corehttp/pkg/message"
	"github.com/corehttp/corehttp/pkg/server"
)

func handle(ctx context.Context, req *message.Request) *message.Response {
	switch req.URL.Path {
	case "/":
		resp := message.NewResponse(200, "OK")
		resp.Body = body.NewBytes([]byte("home"))
		return resp
	case "/echo":
		data, err := io.ReadAll(req.Body.Reader())
		if err != nil {
			resp := message.NewResponse(400, "Bad Request")
			resp.Body = body.NewBytes([]byte(err.Error()))
			return resp
		}
		resp := message.NewResponse(200, "OK")
		resp.Body = body.NewBytes(data)
		return resp
	default:
		resp := message.NewResponse(404, "Not Found")
		resp.Body = body.NewBytes([]byte("not found"))
		return resp
	}
}

func main() {
	log := logging.New(logging.LevelInfo)

	s := server.New(server.HandlerFunc(handle), server.Options{
		MaxConcurrentConnections: 256,
		Logger:                   log,
	})

	addr := "127.0.0.1:8080"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}
	if err := s.Bind(addr); err != nil {
		fmt.Fprintf(os.Stderr, "bind %s: %v\n", addr, err)
		os.Exit(1)
	}

	log.Infof("corehttpd listening on %s", s.Addr())
	select {}
}
