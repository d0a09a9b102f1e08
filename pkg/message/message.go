// Package message defines the Request and Response value types exchanged by
// the Client and Server Engines. The HTTP value types themselves (methods,
// status codes, the request target) are modeled on the public net/url
// shapes rather than reinvented; only the Body variants are specific to
// this codec (spec.md §3: "not part of the core this system defines").
package message

import (
	"net/url"

	"github.com/corehttp/corehttp/pkg/body"
	"github.com/corehttp/corehttp/pkg/header"
	"github.com/corehttp/corehttp/pkg/timing"
)

// Request is one HTTP/1.1 request, ready for the Header & Start-Line Codec
// and Body Codec to serialize onto the wire, or as parsed off it.
type Request struct {
	Method  string
	URL     *url.URL
	Version string
	Header  *header.Header
	Body    body.Body
}

// NewRequest builds a Request with an empty header set and body, for the
// caller to populate before sending.
func NewRequest(method string, u *url.URL) *Request {
	return &Request{
		Method:  method,
		URL:     u,
		Version: "HTTP/1.1",
		Header:  header.New(),
		Body:    body.Empty{},
	}
}

// Response is one HTTP/1.1 response.
type Response struct {
	Version string
	Status  int
	Reason  string
	Header  *header.Header
	Body    body.Body

	// Timing holds the Client Engine's per-exchange timing breakdown
	// (TCP/TLS/TTFB/total). Name resolution is counted inside TCPConnect;
	// DNSLookup is not measured separately and stays zero. Left zero-valued
	// for responses produced directly by the Server Engine, which has no
	// dial phase to measure.
	Timing timing.Metrics
}

// NewResponse builds a Response with an empty header set and body.
func NewResponse(status int, reason string) *Response {
	return &Response{
		Version: "HTTP/1.1",
		Status:  status,
		Reason:  reason,
		Header:  header.New(),
		Body:    body.Empty{},
	}
}

// IsRedirect reports whether status is one of the redirect statuses the
// Client Engine's redirect loop acts on.
func IsRedirect(status int) bool {
	switch status {
	case 301, 302, 303, 307, 308:
		return true
	default:
		return false
	}
}

// RedirectDowngradesToGET reports whether following this redirect status
// downgrades the method to GET and drops the body (301, 302, 303), as
// opposed to preserving method and body (307, 308).
func RedirectDowngradesToGET(status int) bool {
	switch status {
	case 301, 302, 303:
		return true
	default:
		return false
	}
}
