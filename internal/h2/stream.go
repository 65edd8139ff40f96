package h2

import (
	"context"
	"sync"

	"github.com/andycostintoma/engine/internal/body"
	"github.com/andycostintoma/engine/internal/errs"
	"github.com/andycostintoma/engine/internal/httpx"
)

// streamState tracks one HTTP/2 stream's lifecycle, independent for the
// local and remote directions.
type streamState int

const (
	streamOpen streamState = iota
	streamHalfClosedLocal
	streamHalfClosedRemote
	streamClosed
)

// Head is the pseudo-header-derived request or response line for a stream,
// alongside its regular header fields.
type Head struct {
	// Request pseudo-headers (server role, or echoed back for a client's
	// own request).
	Method    string
	Path      string
	Scheme    string
	Authority string
	// Protocol carries the :protocol pseudo-header of an RFC 8441 extended
	// CONNECT request (e.g. "websocket"); empty for an ordinary request or
	// a plain CONNECT tunnel.
	Protocol string

	// Response pseudo-header (client role).
	StatusCode int

	Header httpx.Header
}

// stream is one HTTP/2 stream's state: the frames it has received, its
// flow-control windows in both directions, and the channel its body reads
// incoming DATA frames from.
type stream struct {
	id   uint32
	conn *Conn

	mu    sync.Mutex
	state streamState

	recvWindow  int32 // this stream's local (receive-side) window, decremented as DATA arrives
	sendWindow  int32 // this stream's remote (send-side) window, decremented as we send DATA
	sendWindowC chan struct{}

	data     chan dataChunk
	trailers chan httpx.HeaderOrNil
	head     chan Head
	closed   chan struct{}
	closeErr error
}

type dataChunk struct {
	p   []byte
	eos bool
}

func newStream(id uint32, c *Conn, initWindow int32) *stream {
	return &stream{
		id:          id,
		conn:        c,
		recvWindow:  initWindow,
		sendWindow:  initWindow,
		sendWindowC: make(chan struct{}, 1),
		data:        make(chan dataChunk, 8),
		trailers:    make(chan httpx.HeaderOrNil, 1),
		head:        make(chan Head, 1),
		closed:      make(chan struct{}),
	}
}

// deliverHead is called from the read loop when a response HEADERS frame
// arrives on a stream the client already opened for its request.
func (s *stream) deliverHead(h Head) {
	select {
	case s.head <- h:
	case <-s.closed:
	}
}

// awaitResponseHead blocks until the response HEADERS frame for this
// client-initiated stream has been decoded.
func (s *stream) awaitResponseHead(ctx context.Context) (Head, error) {
	select {
	case h := <-s.head:
		return h, nil
	case <-s.closed:
		s.mu.Lock()
		err := s.closeErr
		s.mu.Unlock()
		return Head{}, err
	case <-ctx.Done():
		return Head{}, ctx.Err()
	}
}

// deliverData is called from the connection's read loop when a DATA frame
// arrives for this stream.
func (s *stream) deliverData(p []byte, endStream bool) {
	select {
	case s.data <- dataChunk{p: p, eos: endStream}:
	case <-s.closed:
	}
}

// deliverTrailers is called from the read loop when a trailing HEADERS
// frame (one with no pseudo-headers, following a prior HEADERS or DATA on
// this stream) arrives.
func (s *stream) deliverTrailers(h httpx.Header) {
	select {
	case s.trailers <- httpx.HeaderOrNil{Present: true, Header: h}:
	case <-s.closed:
	}
}

// endNoTrailers unblocks a pending PollTrailers call when the stream ended
// via a DATA frame's END_STREAM flag rather than a trailing HEADERS frame.
func (s *stream) endNoTrailers() {
	select {
	case s.trailers <- httpx.HeaderOrNil{}:
	default:
	}
}

// abort fails every pending and future read on this stream with err, used
// on RST_STREAM or connection teardown.
func (s *stream) abort(err error) {
	s.mu.Lock()
	if s.closeErr == nil {
		s.closeErr = err
	}
	s.mu.Unlock()
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
}

// PollData implements body.RecvStream.
func (s *stream) PollData(ctx context.Context) ([]byte, bool, error) {
	select {
	case c := <-s.data:
		return c.p, c.eos, nil
	case <-s.closed:
		s.mu.Lock()
		err := s.closeErr
		s.mu.Unlock()
		return nil, false, err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// PollTrailers implements body.RecvStream.
func (s *stream) PollTrailers(ctx context.Context) (httpx.HeaderOrNil, error) {
	select {
	case h := <-s.trailers:
		return h, nil
	case <-s.closed:
		s.mu.Lock()
		err := s.closeErr
		s.mu.Unlock()
		return httpx.HeaderOrNil{}, err
	case <-ctx.Done():
		return httpx.HeaderOrNil{}, ctx.Err()
	}
}

// ReleaseCapacity implements body.RecvStream: it credits n bytes back to
// both the stream-level and connection-level receive windows via
// WINDOW_UPDATE frames, keeping the peer able to keep sending.
func (s *stream) ReleaseCapacity(n int) error {
	if n <= 0 {
		return nil
	}
	if err := s.conn.sendWindowUpdate(s.id, uint32(n)); err != nil {
		return err
	}
	return s.conn.sendWindowUpdate(0, uint32(n))
}

// awaitSendWindow blocks until this stream's send-side window has at least
// one byte of capacity, or ctx is done.
func (s *stream) awaitSendWindow(ctx context.Context) error {
	for {
		s.mu.Lock()
		ok := s.sendWindow > 0
		s.mu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-s.sendWindowC:
			continue
		case <-s.closed:
			s.mu.Lock()
			err := s.closeErr
			s.mu.Unlock()
			if err == nil {
				err = errs.NewCanceled("h2: stream closed while awaiting send window")
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *stream) creditSendWindow(n int32) {
	s.mu.Lock()
	s.sendWindow += n
	s.mu.Unlock()
	select {
	case s.sendWindowC <- struct{}{}:
	default:
	}
}

func (s *stream) debitSendWindow(n int32) {
	s.mu.Lock()
	s.sendWindow -= n
	s.mu.Unlock()
}

// maxSendChunk caps a single DATA frame write to the lesser of the
// remaining send window and the peer's advertised max frame size.
func (s *stream) maxSendChunk(want int, maxFrame int) int {
	s.mu.Lock()
	avail := int(s.sendWindow)
	s.mu.Unlock()
	if avail < want {
		want = avail
	}
	if want > maxFrame {
		want = maxFrame
	}
	return want
}

// responseBody adapts a stream's receive side into a body.Body for the
// dispatcher, wiring in the connection's ping controller so inbound DATA
// feeds BDP sampling.
func (s *stream) responseBody(hint body.SizeHint) body.Body {
	return body.NewH2(hint, s, s.conn.ping)
}
