package dispatch

import (
	"context"
	"sync"

	"github.com/andycostintoma/engine/internal/errs"
)

// Result is delivered to a Sender's caller once the driver has produced a
// response (or failed to).
type Result[Resp any] struct {
	Value Resp
	Err   error
}

// Envelope pairs one request with the channel its eventual Result is
// delivered on.
type Envelope[Req, Resp any] struct {
	Request  Req
	Callback chan Result[Resp]
}

// ErrNotReady is returned by Sender.TrySend when the driver has not polled
// for capacity since the last message was taken. It carries the message
// back so the caller loses nothing and may retry once notified.
type ErrNotReady[Req any] struct {
	Message Req
}

func (e *ErrNotReady[Req]) Error() string { return "engine: dispatch channel has no capacity" }

type chanState[Req, Resp any] struct {
	mu         sync.Mutex
	slot       *Envelope[Req, Resp]
	driverGone bool
	wake       chan struct{}
}

func (c *chanState[Req, Resp]) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Sender is the request-producing side of a dispatch channel: the user's
// handle for issuing outbound client requests, or the connection's handle
// for handing a parsed request to the server dispatcher.
type Sender[Req, Resp any] struct {
	c     *chanState[Req, Resp]
	taker *Taker
}

// Receiver is the driver side: it pulls at most one envelope at a time and
// must Give() before each receive to advertise capacity.
type Receiver[Req, Resp any] struct {
	c     *chanState[Req, Resp]
	giver *Giver
}

// NewChannel builds a connected Sender/Receiver pair with room for exactly
// one buffered envelope, matching the "at most one message buffered before
// the driver has polled" backpressure contract.
func NewChannel[Req, Resp any]() (*Sender[Req, Resp], *Receiver[Req, Resp]) {
	g, t := NewWant()
	c := &chanState[Req, Resp]{wake: make(chan struct{}, 1)}
	return &Sender[Req, Resp]{c: c, taker: t}, &Receiver[Req, Resp]{c: c, giver: g}
}

// TrySend attempts to hand req to the driver. It succeeds only once the
// driver has called Receiver.PollRecv (or Give) since the last successful
// send; otherwise it returns *ErrNotReady carrying req back unchanged.
func (s *Sender[Req, Resp]) TrySend(req Req) (<-chan Result[Resp], error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if s.c.driverGone {
		return nil, errs.ErrDispatchGone
	}
	if s.c.slot != nil || !s.taker.s.given.Load() {
		return nil, &ErrNotReady[Req]{Message: req}
	}

	cb := make(chan Result[Resp], 1)
	s.c.slot = &Envelope[Req, Resp]{Request: req, Callback: cb}
	s.taker.s.given.Store(false)
	s.c.notify()
	return cb, nil
}

// Close marks the sender side gone. A driver blocked in PollWant wakes and
// observes no further capacity is needed; SenderGone reports this to the
// driver's idle-shutdown logic.
func (s *Sender[Req, Resp]) Close() {
	s.taker.Close()
}

// PollRecv advertises capacity and waits for the next envelope, or for ctx
// to end. Returns (nil, nil) once the sender side has closed with no
// envelope pending.
func (r *Receiver[Req, Resp]) PollRecv(ctx context.Context) (*Envelope[Req, Resp], error) {
	r.giver.Give()
	for {
		r.c.mu.Lock()
		if r.c.slot != nil {
			env := r.c.slot
			r.c.slot = nil
			r.c.mu.Unlock()
			return env, nil
		}
		r.c.mu.Unlock()

		if r.giver.s.closed.Load() {
			return nil, nil
		}

		select {
		case <-r.c.wake:
			continue
		case <-r.giver.s.wake:
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close marks the driver side gone; a Sender's next TrySend returns
// errs.ErrDispatchGone.
func (r *Receiver[Req, Resp]) Close() {
	r.c.mu.Lock()
	r.c.driverGone = true
	r.c.mu.Unlock()
	r.c.notify()
}

// SenderGone reports whether the sender side has closed, used by a client
// dispatcher to decide whether an idle connection may be torn down.
func (r *Receiver[Req, Resp]) SenderGone() bool {
	return r.giver.s.closed.Load()
}
