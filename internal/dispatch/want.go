// Package dispatch implements the single-producer single-consumer channel
// that hands requests from a user-facing sender to the connection driver,
// and back again for responses: a single-envelope slot gated by a cooperative
// readiness signal so the sender can never buffer more than one message
// ahead of what the driver has asked for.
package dispatch

import (
	"context"
	"sync/atomic"
)

// Giver is held by the driver side of a want signal. Give advertises that
// the driver is ready to accept one more message; PollWant blocks (in the
// cooperative sense) until the sender side has asked for capacity.
type Giver struct {
	s *wantSignal
}

// Taker is held by the sender side. Want requests capacity; Close releases
// the signal, notifying the driver side the sender is gone.
type Taker struct {
	s *wantSignal
}

type wantSignal struct {
	given  atomic.Bool
	wanted atomic.Bool
	closed atomic.Bool
	wake   chan struct{}
}

// NewWant builds a connected Giver/Taker pair.
func NewWant() (*Giver, *Taker) {
	s := &wantSignal{wake: make(chan struct{}, 1)}
	return &Giver{s: s}, &Taker{s: s}
}

// Give advertises that the driver can accept one message. Idempotent.
func (g *Giver) Give() {
	if g.s.given.CompareAndSwap(false, true) {
		g.s.notify()
	}
}

// PollWant reports whether the sender has requested capacity, blocking
// (cooperatively, via ctx) until either the sender wants or the taker side
// closed.
func (g *Giver) PollWant(ctx context.Context) (granted bool, err error) {
	for {
		if g.s.wanted.Load() {
			return true, nil
		}
		if g.s.closed.Load() {
			return false, nil
		}
		select {
		case <-g.s.wake:
			continue
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// Want requests capacity from the driver side.
func (t *Taker) Want() {
	if t.s.wanted.CompareAndSwap(false, true) {
		t.s.notify()
	}
}

// Cancel withdraws a previously issued Want, e.g. when the sender gives up
// waiting before the driver granted capacity.
func (t *Taker) Cancel() {
	t.s.wanted.Store(false)
}

// Close marks the taker side gone, unblocking any pending PollWant.
func (t *Taker) Close() {
	if t.s.closed.CompareAndSwap(false, true) {
		t.s.notify()
	}
}

func (s *wantSignal) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
