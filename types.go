package engine

import (
	"context"

	"github.com/andycostintoma/engine/internal/body"
	"github.com/andycostintoma/engine/internal/httpx"
	"github.com/andycostintoma/engine/internal/iox"
)

// Transport is a full-duplex byte stream a connection reads and writes
// through. Both protocol engines are driven entirely through this
// interface; TLS, plain TCP, and in-memory pipes all satisfy it equally.
type Transport = iox.Transport

// Sleep is a resettable, stoppable timer fire.
type Sleep = iox.Sleep

// Timer is the injected clock/sleep capability used by the HTTP/2 ping
// controller; a nil Timer selects the system clock.
type Timer = iox.Timer

// Executor spawns a function to run independently of the caller, used for
// the one-task-per-H2-stream spawn point.
type Executor = iox.Executor

// Request is one HTTP request, protocol-version-agnostic: Path/Authority
// serve both HTTP/1.1's request-line and HTTP/2's :path/:authority
// pseudo-headers, and Scheme is populated (and meaningful) for HTTP/2 only.
type Request struct {
	Method    string
	Path      string
	Scheme    string
	Authority string

	ProtoMajor, ProtoMinor int

	Header httpx.Header
	Body   body.Body
}

// Response is one HTTP response returned by a Service.
type Response struct {
	StatusCode int
	// Reason is the HTTP/1.1 status reason phrase; HTTP/2 has none and
	// ignores it.
	Reason string

	Header httpx.Header
	Body   body.Body
}

// Service is the user's request handler, called once per request on
// either protocol engine.
type Service interface {
	// Call handles one request, returning the response to write back.
	Call(ctx context.Context, req *Request) (*Response, error)
	// PollReady reports whether the service is currently able to accept a
	// new request; a non-nil error fails that request without calling
	// Call, e.g. for a service that sheds load under backpressure.
	PollReady(ctx context.Context) error
}

// NewResponse builds a minimal Response, for services that don't need a
// reason phrase or pre-populated headers.
func NewResponse(status int, body body.Body) *Response {
	return &Response{StatusCode: status, Header: make(httpx.Header), Body: body}
}
