package body

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/andycostintoma/engine/internal/errs"
	"github.com/andycostintoma/engine/internal/httpx"
)

// NewChannel creates a connected Channel body and its Sender. length is the
// declared total byte count (SizeExact) when known; wanter, when true,
// gates the sender's readiness on the reader having polled at least once
// (see wantState).
func NewChannel(length SizeHint, wanter bool) (Body, *Sender) {
	ch := &channelBody{
		hint:  length,
		data:  make(chan Frame, 1),
		done:  make(chan struct{}),
		want:  newWantState(wanter),
		ready: make(chan struct{}, 1),
	}
	s := &Sender{body: ch}
	return ch, s
}

type channelBody struct {
	hint SizeHint

	data  chan Frame
	ready chan struct{}
	done  chan struct{}
	want  *wantState

	mu       sync.Mutex
	closed   bool
	abortErr error

	ended bool
}

func (c *channelBody) PollFrame(ctx context.Context) (Frame, bool, error) {
	c.want.markPolled()

	if c.ended {
		return Frame{}, false, nil
	}

	select {
	case f, ok := <-c.data:
		if !ok {
			c.ended = true
			return Frame{}, false, c.endErr()
		}
		return f, true, nil
	case <-c.done:
		// Drain any frame raced in ahead of the close signal.
		select {
		case f, ok := <-c.data:
			if ok {
				return f, true, nil
			}
		default:
		}
		c.ended = true
		return Frame{}, false, c.endErr()
	case <-ctx.Done():
		return Frame{}, false, ctx.Err()
	}
}

func (c *channelBody) endErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abortErr
}

func (c *channelBody) IsEndStream() bool {
	return c.ended || (c.hint.Kind == SizeExact && c.hint.N == 0)
}

func (c *channelBody) SizeHint() SizeHint { return c.hint }

// Sender is the write side of a Channel body, held by whichever party
// produces the outgoing payload: the connection (parsing an incoming
// request/response body) or the user (constructing an outbound one).
type Sender struct {
	body *channelBody
	sent atomic.Uint64
}

// PollReady reports whether the sender may send without blocking, gated by
// the body's wanter flag so a producer cannot outrun a reader that never
// asked for data.
func (s *Sender) PollReady(ctx context.Context) (bool, error) {
	if s.body.want.ready() {
		return true, nil
	}
	select {
	case <-s.body.want.wake:
		return true, nil
	case <-s.body.done:
		return false, errs.ErrBodyWriteAborted
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// SendData sends one data frame. Over-send past a declared exact length
// panics (see debugAssertOverSend); under-send is only detected when the
// reader observes end-of-stream before the declared length was reached.
func (s *Sender) SendData(ctx context.Context, data []byte) error {
	total := s.sent.Add(uint64(len(data)))
	if s.body.hint.Kind == SizeExact {
		debugAssertOverSend(total, s.body.hint.N)
	}
	select {
	case s.body.data <- Frame{Kind: FrameData, Data: data}:
		return nil
	case <-s.body.done:
		return errs.ErrBodyWriteAborted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendTrailers sends the trailers frame and closes the body's data channel.
func (s *Sender) SendTrailers(ctx context.Context, h httpx.Header) error {
	select {
	case s.body.data <- Frame{Kind: FrameTrailers, Trailers: h}:
	case <-s.body.done:
		return errs.ErrBodyWriteAborted
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Close()
}

// Close ends the body's data stream cleanly (normal end-of-stream, no
// trailers).
func (s *Sender) Close() error {
	s.body.mu.Lock()
	if s.body.closed {
		s.body.mu.Unlock()
		return nil
	}
	s.body.closed = true
	s.body.mu.Unlock()
	close(s.body.data)
	return nil
}

// Abort ends the body with an error. Abort always succeeds even when the
// data channel is full: it signals through the done channel rather than
// the buffered data channel.
func (s *Sender) Abort(err error) {
	s.body.mu.Lock()
	defer s.body.mu.Unlock()
	if s.body.closed {
		return
	}
	s.body.closed = true
	if err == nil {
		err = errs.ErrBodyWriteAborted
	}
	s.body.abortErr = err
	close(s.body.done)
}
