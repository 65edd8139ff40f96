package body

import (
	"context"

	"github.com/andycostintoma/engine/internal/httpx"
)

// HeaderOrNil distinguishes "no trailers" from "an empty trailer block".
type HeaderOrNil = httpx.HeaderOrNil

// RecvStream is the minimal surface an H2 body needs from the stream's
// receive side: pull the next DATA frame (or trailers), and release flow
// control capacity back to the peer once the user has consumed a frame.
// Implemented by internal/h2 atop golang.org/x/net/http2.
type RecvStream interface {
	PollData(ctx context.Context) (data []byte, eos bool, err error)
	PollTrailers(ctx context.Context) (HeaderOrNil, error)
	ReleaseCapacity(n int) error
}

// PingRecorder is notified of bytes received on an H2 stream so the
// connection-level ping controller can sample BDP; see internal/h2/ping.go.
type PingRecorder interface {
	RecordData(n int)
}

// NewH2 wraps an H2 stream's receive side as a Body. Each delivered data
// frame releases an equal amount of flow-control capacity back to the peer
// before the next poll returns, so a slow reader throttles the peer's send
// window instead of letting unbounded data accumulate in memory.
func NewH2(length SizeHint, recv RecvStream, ping PingRecorder) Body {
	return &h2Body{hint: length, recv: recv, ping: ping}
}

type h2Body struct {
	hint SizeHint
	recv RecvStream
	ping PingRecorder
	done bool
}

func (b *h2Body) PollFrame(ctx context.Context) (Frame, bool, error) {
	if b.done {
		return Frame{}, false, nil
	}
	data, eos, err := b.recv.PollData(ctx)
	if err != nil {
		b.done = true
		return Frame{}, false, err
	}
	if len(data) > 0 {
		if b.ping != nil {
			b.ping.RecordData(len(data))
		}
		if relErr := b.recv.ReleaseCapacity(len(data)); relErr != nil {
			b.done = true
			return Frame{}, false, relErr
		}
		return Frame{Kind: FrameData, Data: data}, true, nil
	}
	if eos {
		trailers, terr := b.recv.PollTrailers(ctx)
		if terr != nil {
			b.done = true
			return Frame{}, false, terr
		}
		b.done = true
		if trailers.Present {
			return Frame{Kind: FrameTrailers, Trailers: trailers.Header}, true, nil
		}
		return Frame{}, false, nil
	}
	return Frame{Kind: FrameData, Data: nil}, true, nil
}

func (b *h2Body) IsEndStream() bool  { return b.done }
func (b *h2Body) SizeHint() SizeHint { return b.hint }
