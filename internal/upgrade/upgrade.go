// Package upgrade implements the handoff from an HTTP/1.x connection to a
// tunneled protocol: CONNECT and Upgrade: <token> requests that end with a
// 101 (or, for CONNECT, a 2xx) response after which the core stops
// speaking HTTP on the transport.
package upgrade

import (
	"sync"

	"github.com/andycostintoma/engine/internal/errs"
	"github.com/andycostintoma/engine/internal/iox"
)

// Upgraded is a type-erased handle to an upgraded connection's raw
// transport, returned by Pending.OnUpgrade. Take hands over the transport
// together with any bytes already read off the wire but not yet consumed
// by the HTTP parser (the tunneled protocol's opening bytes, for a client
// that pipelined past the 101 response); those bytes are returned
// separately and are not pushed back into the transport.
type Upgraded struct {
	mu       sync.Mutex
	taken    bool
	leftover []byte
	parked   func() (iox.Transport, []byte)
}

// New wraps a deferred take function: the connection has decided an
// upgrade will happen (it saw the right headers) but hasn't necessarily
// flushed the 101/CONNECT response yet. take is called lazily, the first
// time the user actually asks for the transport.
func New(take func() (iox.Transport, []byte)) *Upgraded {
	return &Upgraded{parked: take}
}

// Take detaches the underlying transport for the caller's exclusive use.
// It may be called at most once; a second call returns
// errs.ErrUserManualUpgrade since the first caller already owns the
// connection.
func (u *Upgraded) Take() (iox.Transport, []byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.taken {
		return nil, nil, errs.Wrap(errs.ErrUserManualUpgrade, "upgrade: connection already taken")
	}
	u.taken = true
	t, leftover := u.parked()
	return t, leftover, nil
}

// pendingUpgrade is the server-side or client-side bookkeeping a
// connection keeps between "this request/response looked like an upgrade"
// and "the interim/final response was written and flushed, so the
// transport may now be handed off".
type pendingUpgrade struct {
	mu    sync.Mutex
	ready bool
	u     *Upgraded
	wake  chan struct{}
}

// NewPending creates a Pending that resolves once MarkReady (or Cancel) is
// called, for a connection that detected upgrade-eligible headers but must
// finish writing its response first.
func NewPending(take func() (iox.Transport, []byte)) *Pending {
	u := New(take)
	return &Pending{
		state: &pendingUpgrade{wake: make(chan struct{}), u: u},
		u:     u,
	}
}

// Pending is the user-facing half of an in-flight upgrade: OnUpgrade
// blocks until the connection marks the upgrade ready (its response has
// been flushed) or decides no upgrade will happen after all.
type Pending struct {
	state *pendingUpgrade
	u     *Upgraded
}

// MarkReady signals that the connection has flushed its switching
// response and the transport may now be taken.
func (p *Pending) MarkReady() {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	if p.state.ready {
		return
	}
	p.state.ready = true
	close(p.state.wake)
}

// Cancel signals that no upgrade will happen (e.g. the service never
// called OnUpgrade, or the peer declined), unblocking OnUpgrade with
// ErrUserNoUpgrade.
func (p *Pending) Cancel() {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	if p.state.ready {
		return
	}
	p.state.ready = true
	p.state.u = nil
	close(p.state.wake)
}

// OnUpgrade blocks until the upgrade resolves, returning the Upgraded
// handle on success or errs.ErrUserNoUpgrade if the connection canceled it.
func (p *Pending) OnUpgrade() (*Upgraded, error) {
	<-p.state.wake
	if p.state.u == nil {
		return nil, errs.ErrUserNoUpgrade
	}
	return p.u, nil
}
