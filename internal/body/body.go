// Package body implements the streaming message body: a lazy,
// non-restartable sequence of data frames optionally followed by a
// trailers frame, with backpressure and a content-length size hint,
// exposed as a poll-based interface rather than a blocking io.Reader.
package body

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/andycostintoma/engine/internal/httpx"
)

// SizeHintKind classifies how precisely a Body's remaining length is known.
type SizeHintKind int

const (
	SizeUnknown SizeHintKind = iota
	SizeAtLeast
	SizeExact
)

// SizeHint reports a Body's known or estimated remaining length.
type SizeHint struct {
	Kind SizeHintKind
	N    uint64
}

// Exact reports n as an exact size hint.
func Exact(n uint64) SizeHint { return SizeHint{Kind: SizeExact, N: n} }

// AtLeast reports n as a lower-bound size hint.
func AtLeast(n uint64) SizeHint { return SizeHint{Kind: SizeAtLeast, N: n} }

// Unknown reports no size information is available.
func Unknown() SizeHint { return SizeHint{Kind: SizeUnknown} }

// FrameKind distinguishes the two frame payloads a Body may yield.
type FrameKind int

const (
	FrameData FrameKind = iota
	FrameTrailers
)

// Frame is one unit yielded by Body.PollFrame: either an opaque data chunk
// or a trailers header map.
type Frame struct {
	Kind     FrameKind
	Data     []byte
	Trailers httpx.Header
}

// Body is a lazy, non-restartable stream of Frames. Implementations must
// be safe to call PollFrame on repeatedly after end-of-stream, returning
// (Frame{}, io.EOF)-equivalent via the ok=false return below.
type Body interface {
	// PollFrame returns the next frame. ok is false once the stream has
	// ended (including the zero-length Empty body, for which the very
	// first call reports ok=false).
	PollFrame(ctx context.Context) (frame Frame, ok bool, err error)

	// IsEndStream reports whether the body is known, without polling, to
	// have no more frames (e.g. an Empty body, or a Channel body whose
	// declared length is zero).
	IsEndStream() bool

	// SizeHint reports the body's known or estimated remaining length.
	SizeHint() SizeHint
}

// Empty returns a Body that yields no frames.
func Empty() Body { return emptyBody{} }

type emptyBody struct{}

func (emptyBody) PollFrame(context.Context) (Frame, bool, error) { return Frame{}, false, nil }
func (emptyBody) IsEndStream() bool                              { return true }
func (emptyBody) SizeHint() SizeHint                              { return Exact(0) }

// UserPullFunc produces the next frame for a User body. ok=false with a nil
// error signals end-of-stream.
type UserPullFunc func(ctx context.Context) (frame Frame, ok bool, err error)

// NewUser wraps an arbitrary pull function as a Body, for bodies the user
// constructs directly (e.g. from an in-memory buffer or a custom reader)
// rather than receiving from the connection or a Channel sender.
func NewUser(hint SizeHint, pull UserPullFunc) Body {
	return &userBody{hint: hint, pull: pull}
}

type userBody struct {
	hint SizeHint
	pull UserPullFunc
	done bool
}

func (u *userBody) PollFrame(ctx context.Context) (Frame, bool, error) {
	if u.done {
		return Frame{}, false, nil
	}
	f, ok, err := u.pull(ctx)
	if !ok || err != nil {
		u.done = true
	}
	return f, ok, err
}
func (u *userBody) IsEndStream() bool { return u.done }
func (u *userBody) SizeHint() SizeHint { return u.hint }

// debugAssertOverSend panics when a Channel sender is sent more bytes than
// its declared exact length: sending past a declared Content-Length is a
// programming error in the caller, not a recoverable runtime condition.
// Compiled unconditionally rather than gated behind a build tag, since Go
// has no cheap equivalent of a strip-in-release debug_assert!.
func debugAssertOverSend(sent, declared uint64) {
	if sent > declared {
		panic(fmt.Sprintf("engine/body: sent %d bytes, exceeding declared length %d", sent, declared))
	}
}

// wantState is the "wanter" gate: when true, a Channel sender cannot
// become ready until the reader has polled the body at least once, so the
// connection never buffers a request body the service never reads.
type wantState struct {
	wanter      atomic.Bool
	readerAsked atomic.Bool
	mu          sync.Mutex
	wake        chan struct{}
}

func newWantState(wanter bool) *wantState {
	w := &wantState{wake: make(chan struct{}, 1)}
	w.wanter.Store(wanter)
	return w
}

func (w *wantState) markPolled() {
	if w.readerAsked.CompareAndSwap(false, true) {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

func (w *wantState) ready() bool {
	return !w.wanter.Load() || w.readerAsked.Load()
}
