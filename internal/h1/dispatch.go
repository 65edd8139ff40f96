package h1

import (
	"context"
	"errors"
	"io"

	"github.com/andycostintoma/engine/internal/body"
	"github.com/andycostintoma/engine/internal/dispatch"
	"github.com/andycostintoma/engine/internal/errs"
)

// Message pairs a parsed (or to-be-serialized) head with its body stream.
type Message struct {
	Head Head
	Body body.Body
}

// Service is the narrow interface the server dispatcher calls into for
// each request. It is satisfied by an adapter over the engine's public
// Service type; kept minimal here so this package never imports the root
// package.
type Service interface {
	Call(ctx context.Context, req Message) (Message, error)
}

// bodyLengthOf derives the BodyLength to frame an outgoing message with,
// from its body's declared size hint.
func bodyLengthOf(b body.Body) BodyLength {
	hint := b.SizeHint()
	if hint.Kind == body.SizeExact {
		return BodyLength{Kind: LengthFixed, N: int64(hint.N)}
	}
	return BodyLength{Kind: LengthChunked}
}

// pumpReadBody drains conn's current request/response body through the
// decoder into sender, stopping at end-of-stream, sender abort, or a
// decode error (forwarded to the sender so the service observes it).
func pumpReadBody(ctx context.Context, conn *Conn, sender *body.Sender) {
	defer sender.Close()
	for {
		chunk, eof, err := conn.ReadBodyChunk(ctx)
		if err != nil {
			sender.Abort(err)
			return
		}
		if len(chunk) > 0 {
			if err := sender.SendData(ctx, chunk); err != nil {
				return
			}
		}
		if eof {
			return
		}
	}
}

// pumpWriteBody drains resp (the service's response body, or a client
// request body) into conn's current encoder, then finalizes with
// trailers or a plain end.
func pumpWriteBody(ctx context.Context, conn *Conn, b body.Body) error {
	for {
		frame, ok, err := b.PollFrame(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return conn.EndWrite()
		}
		switch frame.Kind {
		case body.FrameData:
			if err := conn.WriteBodyChunk(frame.Data); err != nil {
				return err
			}
		case body.FrameTrailers:
			return conn.WriteTrailers(frame.Trailers)
		}
	}
}

// ServeConn drives conn as a server connection against svc until the
// connection closes (keep-alive exhausted, an error, or ctx cancellation),
// implementing the five-step server loop: parse head, pump the request
// body concurrently with the service call, write the response head, pump
// the response body, then attempt keep-alive.
func ServeConn(ctx context.Context, conn *Conn, svc Service) error {
	for {
		head, err := conn.ReadHead(ctx)
		if err != nil {
			if errs.IsUnexpectedEOF(err) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		reqBody, sender := body.NewChannel(requestLengthHint(head), false)

		if conn.AwaitingContinue() {
			// The service decides whether it wants the body before any
			// interim response is sent; here it always does, matching a
			// server that reads bodies eagerly.
			if err := conn.ConfirmContinue(); err != nil {
				return err
			}
		}

		go pumpReadBody(ctx, conn, sender)

		resp, callErr := svc.Call(ctx, Message{Head: head, Body: reqBody})
		if callErr != nil {
			return errs.Wrap(errs.ErrUserService, "h1: service call failed: %v", callErr)
		}

		if err := conn.WriteHead(resp.Head, bodyLengthOf(resp.Body)); err != nil {
			return err
		}
		if err := pumpWriteBody(ctx, conn, resp.Body); err != nil {
			return err
		}
		if !conn.ShouldDeferFlush() {
			if err := conn.Flush(ctx); err != nil {
				return err
			}
		}

		persist := conn.ResolveKeepAlive()
		if !persist {
			if err := conn.Flush(ctx); err != nil {
				return err
			}
			return nil
		}
	}
}

func requestLengthHint(head Head) body.SizeHint {
	length, err := DecideRequestBodyLength(head.Header)
	if err != nil || length.Kind != LengthFixed {
		return body.Unknown()
	}
	return body.Exact(uint64(length.N))
}

// ClientRequest is one outbound request queued through a client dispatch
// channel, alongside the body the connection should stream.
type ClientRequest struct {
	Head Head
	Body body.Body
}

// ClientResponse is delivered back to the caller once the response head has
// been parsed; Body continues streaming independently as the connection
// reads more of the wire.
type ClientResponse struct {
	Head Head
	Body body.Body
}

// RunClient drives conn as a client connection, popping one queued request
// at a time from recv, writing it, parsing the response head, handing the
// response (with a live streaming body) back through the envelope's
// callback, then streaming the response body before looping for the next
// request.
func RunClient(ctx context.Context, conn *Conn, recv *dispatch.Receiver[ClientRequest, ClientResponse]) error {
	for {
		env, err := recv.PollRecv(ctx)
		if err != nil {
			return err
		}
		if env == nil {
			return nil // sender gone, nothing left to send
		}

		if err := conn.WriteHead(env.Request.Head, bodyLengthOf(env.Request.Body)); err != nil {
			env.Callback <- dispatch.Result[ClientResponse]{Err: err}
			return err
		}
		if err := pumpWriteBody(ctx, conn, env.Request.Body); err != nil {
			env.Callback <- dispatch.Result[ClientResponse]{Err: err}
			return err
		}
		if err := conn.Flush(ctx); err != nil {
			env.Callback <- dispatch.Result[ClientResponse]{Err: err}
			return err
		}

		head, err := conn.ReadHead(ctx)
		if err != nil {
			env.Callback <- dispatch.Result[ClientResponse]{Err: err}
			return err
		}

		respBody, sender := body.NewChannel(responseLengthHint(conn, head), true)
		env.Callback <- dispatch.Result[ClientResponse]{Value: ClientResponse{Head: head, Body: respBody}}

		pumpReadBody(ctx, conn, sender)

		if !conn.ResolveKeepAlive() {
			return nil
		}
	}
}

func responseLengthHint(conn *Conn, head Head) body.SizeHint {
	length, err := DecideResponseBodyLength(conn.peerMethod, head.StatusCode, head.Header)
	if err != nil || length.Kind != LengthFixed {
		return body.Unknown()
	}
	return body.Exact(uint64(length.N))
}
