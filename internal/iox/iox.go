// Package iox defines the capability interfaces the engine core is driven
// through: a duplex transport, a timer and an executor. They are collected
// in one leaf package so every internal package can depend on them without
// importing the public engine package, which holds the Service interface.
package iox

import (
	"context"
	"net"
	"time"
)

// Transport is a full-duplex byte stream the engine reads and writes
// through. Implementations are expected to be context-aware and
// non-blocking in spirit: a call returning early with ctx.Err() is expected
// to be retried once the caller's wake condition fires.
type Transport interface {
	ReadContext(ctx context.Context, p []byte) (int, error)
	WriteContext(ctx context.Context, p []byte) (int, error)
	Flush(ctx context.Context) error
	CloseWrite(ctx context.Context) error

	// WriteVectored writes bufs in order. Implementations that cannot do
	// a true vectored write may fall back to sequential WriteContext calls.
	WriteVectored(ctx context.Context, bufs net.Buffers) (int64, error)
	// IsWriteVectored hints whether WriteVectored is cheaper than flattening
	// into one buffer first. TLS transports typically return false.
	IsWriteVectored() bool
}

// Sleep is a resettable, stoppable timer fire as returned by Timer.Sleep.
type Sleep interface {
	C() <-chan time.Time
	Reset(at time.Time)
	Stop()
}

// Timer is the injected clock/sleep capability used by the HTTP/2 ping
// controller (keep-alive interval/timeout, BDP probe timing). internal/h2
// falls back to the system clock when none is supplied; the HTTP/1 header
// read timeout uses a context deadline instead.
type Timer interface {
	Sleep(d time.Duration) Sleep
	Now() time.Time
}

// Executor spawns a function to run independently of the caller. Used by
// the H2 engine to run one task per stream.
type Executor interface {
	Execute(fn func(context.Context))
}
