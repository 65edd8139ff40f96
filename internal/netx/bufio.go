// Package netx implements the buffered, adaptive IO layer the H1 and H2
// connections read and write through: a growable read buffer and a write
// buffer that can either flatten everything into one owned slice or queue
// borrowed buffers for a vectored write.
package netx

import (
	"context"
	"net"

	"github.com/andycostintoma/engine/internal/errs"
	"github.com/andycostintoma/engine/internal/iox"
)

const (
	initialReadBuf = 8 << 10   // 8 KiB
	minBufSize     = 8 << 10   // 8 KiB
	defaultMaxBuf  = 400 << 10 // ~400 KiB
	maxQueuedBufs  = 16
)

// WriteStrategy selects how BufferedIO accumulates pending writes.
type WriteStrategy int

const (
	// StrategyQueue pushes borrowed buffers and writes them vectored when
	// the transport supports it. Cheap for transports that like
	// scatter/gather writes (plain TCP).
	StrategyQueue WriteStrategy = iota
	// StrategyFlatten always copies into one owned buffer before writing.
	// Used for transports that dislike vectored writes (most TLS stacks).
	StrategyFlatten
)

// BufferedIO wraps a duplex iox.Transport with an adaptive read buffer and
// a write buffer supporting both flatten and queue strategies.
type BufferedIO struct {
	t iox.Transport

	readBuf    []byte
	readOff    int // consumed prefix
	maxBufSize int

	strategy WriteStrategy
	owned    []byte   // reused owned buffer for StrategyFlatten and the first queued segment
	queued   [][]byte // borrowed segments pending write, for StrategyQueue
}

// Option configures a new BufferedIO.
type Option func(*BufferedIO)

// WithMaxBufSize overrides the read buffer cap (floored at 8 KiB).
func WithMaxBufSize(n int) Option {
	return func(b *BufferedIO) {
		if n < minBufSize {
			n = minBufSize
		}
		b.maxBufSize = n
	}
}

// WithWriteStrategy picks the write buffering strategy explicitly,
// overriding the transport's IsWriteVectored auto-selection.
func WithWriteStrategy(s WriteStrategy) Option {
	return func(b *BufferedIO) { b.strategy = s }
}

// New wraps t in a BufferedIO, auto-selecting the write strategy from
// t.IsWriteVectored() unless overridden by WithWriteStrategy.
func New(t iox.Transport, opts ...Option) *BufferedIO {
	b := &BufferedIO{
		t:          t,
		maxBufSize: defaultMaxBuf,
		strategy:   StrategyFlatten,
	}
	if t.IsWriteVectored() {
		b.strategy = StrategyQueue
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Pending reports the unconsumed bytes currently buffered from the
// transport (the portion available to a parser).
func (b *BufferedIO) Pending() []byte { return b.readBuf[b.readOff:] }

// Consume advances past n already-parsed bytes of Pending().
func (b *BufferedIO) Consume(n int) {
	b.readOff += n
	if b.readOff == len(b.readBuf) {
		b.readBuf = b.readBuf[:0]
		b.readOff = 0
	}
}

// ReadFrom performs one read from the transport into the tail of the read
// buffer, growing it in 8 KiB increments up to maxBufSize. Returns the
// number of bytes newly available.
func (b *BufferedIO) ReadFrom(ctx context.Context) (int, error) {
	if b.readOff > 0 && b.readOff == len(b.readBuf) {
		b.readBuf = b.readBuf[:0]
		b.readOff = 0
	}
	if len(b.readBuf) >= b.maxBufSize {
		return 0, errs.ErrTooLarge
	}

	used := len(b.readBuf)
	want := used + initialReadBuf
	if want > b.maxBufSize {
		want = b.maxBufSize
	}
	if cap(b.readBuf) < want {
		grown := make([]byte, used, want)
		copy(grown, b.readBuf)
		b.readBuf = grown
	}

	tail := b.readBuf[used:want]
	n, err := b.t.ReadContext(ctx, tail)
	b.readBuf = b.readBuf[:used+n]
	if err != nil {
		return n, err
	}
	return n, nil
}

// ReadMem reads up to maxLen bytes of already-buffered data, pulling one
// more chunk from the transport if the buffer is currently empty.
func (b *BufferedIO) ReadMem(ctx context.Context, maxLen int) ([]byte, error) {
	if len(b.Pending()) == 0 {
		if _, err := b.ReadFrom(ctx); err != nil {
			return nil, err
		}
	}
	p := b.Pending()
	if len(p) > maxLen {
		p = p[:maxLen]
	}
	b.Consume(len(p))
	return p, nil
}

// Parse repeatedly invokes parseFn over the buffered prefix, reading more
// from the transport on errs.ErrNeedMore and consuming the parsed prefix
// on success. Returns errs.ErrTooLarge if the buffer reaches maxBufSize
// without a completed parse.
func Parse[H any](ctx context.Context, b *BufferedIO, parseFn func([]byte) (H, int, error)) (H, error) {
	for {
		head, n, err := parseFn(b.Pending())
		if err == nil {
			b.Consume(n)
			return head, nil
		}
		if err != errs.ErrNeedMore {
			var zero H
			return zero, err
		}
		if _, rerr := b.ReadFrom(ctx); rerr != nil {
			var zero H
			return zero, rerr
		}
	}
}

// ConsumeLeadingLines skips stray CRLF garbage between pipelined requests.
func (b *BufferedIO) ConsumeLeadingLines() {
	n := ConsumeLeadingLines(b.Pending())
	b.Consume(n)
}

// QueueWrite enqueues buf for a future Flush. Under StrategyQueue, buf is
// retained by reference (the caller must not mutate it before Flush); under
// StrategyFlatten, it is copied into the owned buffer immediately. Once
// maxQueuedBufs segments are queued, they and buf are copied into the owned
// buffer in order, so the write order is kept.
func (b *BufferedIO) QueueWrite(buf []byte) {
	if len(buf) == 0 {
		return
	}
	if b.strategy == StrategyFlatten || len(b.queued) >= maxQueuedBufs {
		for _, seg := range b.queued {
			b.owned = append(b.owned, seg...)
		}
		b.queued = b.queued[:0]
		b.owned = append(b.owned, buf...)
		return
	}
	b.queued = append(b.queued, buf)
}

// Flush drains the write buffer to the transport, using a vectored write
// when the strategy and transport both support it.
func (b *BufferedIO) Flush(ctx context.Context) error {
	for len(b.owned) > 0 || len(b.queued) > 0 {
		if len(b.owned) > 0 && len(b.queued) == 0 {
			n, err := b.t.WriteContext(ctx, b.owned)
			if err != nil {
				return errs.IO(err)
			}
			if n == 0 {
				return errs.ErrWriteZero
			}
			b.owned = b.owned[:copy(b.owned, b.owned[n:])]
			continue
		}

		if b.strategy == StrategyQueue && b.t.IsWriteVectored() {
			bufs := make(net.Buffers, 0, len(b.queued)+1)
			if len(b.owned) > 0 {
				bufs = append(bufs, b.owned)
			}
			for _, seg := range b.queued {
				bufs = append(bufs, seg)
			}
			n, err := b.t.WriteVectored(ctx, bufs)
			if err != nil {
				return errs.IO(err)
			}
			if n == 0 {
				return errs.ErrWriteZero
			}
			b.advanceAfterVectoredWrite(n)
			continue
		}

		// Flatten remaining queued segments into owned and retry.
		for _, seg := range b.queued {
			b.owned = append(b.owned, seg...)
		}
		b.queued = b.queued[:0]
	}
	return b.t.Flush(ctx)
}

func (b *BufferedIO) advanceAfterVectoredWrite(n int64) {
	remaining := n
	if len(b.owned) > 0 {
		if remaining >= int64(len(b.owned)) {
			remaining -= int64(len(b.owned))
			b.owned = b.owned[:0]
		} else {
			b.owned = b.owned[:copy(b.owned, b.owned[remaining:])]
			return
		}
	}
	i := 0
	for i < len(b.queued) {
		seg := b.queued[i]
		if remaining >= int64(len(seg)) {
			remaining -= int64(len(seg))
			i++
			continue
		}
		b.queued[i] = seg[remaining:]
		break
	}
	b.queued = b.queued[i:]
}

// HasPendingWrites reports whether Flush still has work to do.
func (b *BufferedIO) HasPendingWrites() bool {
	return len(b.owned) > 0 || len(b.queued) > 0
}

// Release detaches the underlying transport for a protocol upgrade,
// returning it alongside a copy of any bytes already read but not yet
// consumed by the H1 parser (the tunneled protocol's opening bytes).
// The BufferedIO must not be used again after Release.
func (b *BufferedIO) Release() (iox.Transport, []byte) {
	leftover := append([]byte(nil), b.Pending()...)
	t := b.t
	b.t = nil
	b.readBuf = nil
	return t, leftover
}
