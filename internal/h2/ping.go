// Package h2 implements the HTTP/2 engine as a thin adapter over
// golang.org/x/net/http2's Framer and hpack codec: stream multiplexing,
// flow-control-aware body streaming, BDP window tuning, and the keep-alive
// ping state machine.
package h2

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/andycostintoma/engine/internal/errs"
	"github.com/andycostintoma/engine/internal/iox"
)

// PingConfig carries the keep-alive and BDP ping controller's knobs.
type PingConfig struct {
	// KeepAliveInterval is how long the connection may sit idle before a
	// keep-alive PING is sent. Zero disables keep-alive pings.
	KeepAliveInterval time.Duration
	// KeepAliveTimeout bounds how long a keep-alive PING may go
	// unacknowledged before the connection is considered dead.
	KeepAliveTimeout time.Duration
	// KeepAliveWhileIdle, when true, keeps sending pings even if there are
	// no open streams; otherwise keep-alive only runs while streams are live.
	KeepAliveWhileIdle bool

	// BDPEnabled turns on adaptive connection-window tuning from sampled
	// round-trip time.
	BDPEnabled bool
	// InitialConnWindow is the starting connection-level flow-control
	// window, before any BDP samples have arrived.
	InitialConnWindow uint32
	// MaxConnWindow caps how large BDP tuning may grow the connection
	// window.
	MaxConnWindow uint32
}

// DefaultPingConfig matches the values a freshly dialed connection without
// explicit keep-alive or BDP configuration would use: no keep-alive pings,
// BDP tuning on with a 64 KiB floor and 16 MiB ceiling.
func DefaultPingConfig() PingConfig {
	return PingConfig{
		BDPEnabled:        true,
		InitialConnWindow: 64 << 10,
		MaxConnWindow:     16 << 20,
	}
}

// pingState is which phase of the keep-alive ping cycle the controller is
// in.
type pingState int

const (
	pingIdle pingState = iota
	pingScheduled
	pingSent
)

// PingController drives both the keep-alive ping/pong cycle and BDP window
// estimation for one connection. It owns no socket; NextDeadline and Poll
// report when the caller should act (send a PING, or fail the connection with
// ErrKeepAliveTimedOut) and the caller feeds RTT samples back in via
// OnPong. BDP probing uses its own dedicated PING, distinct from the
// keep-alive PING, so window growth is driven by an actual measured
// throughput sample rather than by the unrelated keep-alive cycle.
type PingController struct {
	cfg   PingConfig
	timer iox.Timer

	mu          sync.Mutex
	state       pingState
	lastActive  time.Time
	sentAt      time.Time
	pingPayload uint64
	streamsLive int

	sendFunc func(payload uint64) error

	// BDP probe state: bdpBytes counts bytes received since the
	// outstanding probe (if any) was armed.
	bdpOutstanding bool
	bdpPayload     uint64
	bdpSentAt      time.Time
	bdpBytes       int64
	bdpNextAllowed time.Time

	rttEWMA     time.Duration
	haveSample  bool
	bandwidth   float64 // last bytes/(1.5*rttEWMA) sample, bytes/sec
	connWindow  uint32
}

// NewPingController builds a controller seeded with cfg's initial window,
// considered active as of now.
func NewPingController(cfg PingConfig, timer iox.Timer, now time.Time) *PingController {
	if cfg.InitialConnWindow == 0 {
		cfg.InitialConnWindow = DefaultPingConfig().InitialConnWindow
	}
	if cfg.MaxConnWindow == 0 {
		cfg.MaxConnWindow = DefaultPingConfig().MaxConnWindow
	}
	return &PingController{
		cfg:        cfg,
		timer:      timer,
		lastActive: now,
		connWindow: cfg.InitialConnWindow,
	}
}

// SetSender wires the PING frame sender a BDP probe triggers in-band from
// RecordData. Set once, after the Conn that owns this controller exists
// (NewConn can't pass its own not-yet-constructed method value).
func (p *PingController) SetSender(send func(payload uint64) error) {
	p.mu.Lock()
	p.sendFunc = send
	p.mu.Unlock()
}

// StreamOpened and StreamClosed track the live-stream count, used when
// KeepAliveWhileIdle is false to suspend pinging once nothing is
// outstanding.
func (p *PingController) StreamOpened() {
	p.mu.Lock()
	p.streamsLive++
	p.mu.Unlock()
}

func (p *PingController) StreamClosed() {
	p.mu.Lock()
	if p.streamsLive > 0 {
		p.streamsLive--
	}
	p.mu.Unlock()
}

// OnFrame marks the connection active, resetting the keep-alive idle clock.
func (p *PingController) OnFrame(now time.Time) {
	p.mu.Lock()
	p.lastActive = now
	p.mu.Unlock()
}

// NextDeadline reports when the caller should next call Poll: either the
// moment a keep-alive PING becomes due, or the moment an outstanding PING
// times out.
func (p *PingController) NextDeadline() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.KeepAliveInterval <= 0 {
		return time.Time{}
	}
	switch p.state {
	case pingSent:
		return p.sentAt.Add(p.cfg.KeepAliveTimeout)
	default:
		if !p.cfg.KeepAliveWhileIdle && p.streamsLive == 0 {
			return time.Time{}
		}
		return p.lastActive.Add(p.cfg.KeepAliveInterval)
	}
}

// Poll checks whether a PING should be sent or an outstanding one has timed
// out. payload is the 8-byte opaque value to send when wantSend is true.
func (p *PingController) Poll(now time.Time) (wantSend bool, payload uint64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.KeepAliveInterval <= 0 {
		return false, 0, nil
	}

	if p.state == pingSent {
		if now.Sub(p.sentAt) >= p.cfg.KeepAliveTimeout {
			return false, 0, errs.ErrKeepAliveTimedOut
		}
		return false, 0, nil
	}

	if !p.cfg.KeepAliveWhileIdle && p.streamsLive == 0 {
		return false, 0, nil
	}
	if now.Sub(p.lastActive) < p.cfg.KeepAliveInterval {
		return false, 0, nil
	}

	p.pingPayload = rand.Uint64()
	p.sentAt = now
	p.state = pingSent
	return true, p.pingPayload, nil
}

// bdpMinProbeInterval bounds how often a new BDP probe PING may be armed,
// so probing never competes for bandwidth with the data it's measuring.
const bdpMinProbeInterval = 50 * time.Millisecond

// OnPong records a PING acknowledgment. It first checks whether payload
// answers the keep-alive ping, then whether it answers an outstanding BDP
// probe; the two cycles run independently and share nothing but the wire.
// newWindow/grow report a BDP-driven connection window increase, non-zero
// only when payload matched the probe and the sample justified growth.
func (p *PingController) OnPong(now time.Time, payload uint64) (newWindow uint32, grow bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == pingSent && payload == p.pingPayload {
		p.state = pingIdle
		p.lastActive = now
	}

	if !p.bdpOutstanding || payload != p.bdpPayload {
		return 0, false
	}
	rtt := now.Sub(p.bdpSentAt)
	bytes := p.bdpBytes
	p.bdpOutstanding = false
	return p.evaluateBDP(bytes, rtt)
}

// evaluateBDP folds rtt into an exponentially weighted moving average (1/8
// weight on the new sample, matching the smoothing factor a TCP RTT
// estimator uses) and estimates bandwidth as bytes/(1.5*rttEWMA). The probe
// only grew the window worth growing if the peer managed to fill at least
// two thirds of the currently advertised window during the probe interval
// (bytes >= connWindow*2/3); when it did, the window doubles to 2*bytes,
// capped at cfg.MaxConnWindow.
func (p *PingController) evaluateBDP(bytes int64, rtt time.Duration) (uint32, bool) {
	if !p.haveSample {
		p.rttEWMA = rtt
		p.haveSample = true
	} else {
		p.rttEWMA += (rtt - p.rttEWMA) / 8
	}
	if p.rttEWMA <= 0 || bytes <= 0 {
		return 0, false
	}
	p.bandwidth = float64(bytes) / (1.5 * p.rttEWMA.Seconds())

	if uint64(bytes) < uint64(p.connWindow)*2/3 {
		return 0, false
	}
	bdp := uint64(bytes) * 2
	if bdp > uint64(p.cfg.MaxConnWindow) {
		bdp = uint64(p.cfg.MaxConnWindow)
	}
	if bdp <= uint64(p.connWindow) {
		return 0, false
	}
	p.connWindow = uint32(bdp)
	return p.connWindow, true
}

// ConnWindow reports the controller's current best estimate of the right
// connection-level flow-control window.
func (p *PingController) ConnWindow() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connWindow
}

// RecordData implements body.PingRecorder: it marks the connection active
// whenever a stream's body delivers data, independent of the read loop's
// own OnFrame call, since body delivery happens on a per-stream goroutine.
// When BDP tuning is enabled it also accumulates n into the outstanding
// probe's byte counter, arming a fresh probe PING if none is outstanding
// and the minimum probe interval has passed.
func (p *PingController) RecordData(n int) {
	if p.timer == nil {
		return
	}
	now := p.timer.Now()
	p.OnFrame(now)

	if !p.cfg.BDPEnabled || n <= 0 {
		return
	}

	p.mu.Lock()
	if p.bdpOutstanding {
		p.bdpBytes += int64(n)
		p.mu.Unlock()
		return
	}
	if now.Before(p.bdpNextAllowed) {
		p.mu.Unlock()
		return
	}
	send := p.sendFunc
	p.bdpOutstanding = true
	p.bdpPayload = rand.Uint64()
	p.bdpSentAt = now
	p.bdpBytes = int64(n)
	p.bdpNextAllowed = now.Add(bdpMinProbeInterval)
	payload := p.bdpPayload
	p.mu.Unlock()

	if send == nil {
		return
	}
	if err := send(payload); err != nil {
		p.mu.Lock()
		p.bdpOutstanding = false
		p.mu.Unlock()
	}
}

// Run drives the keep-alive cycle using timer, invoking sendPing whenever a
// PING is due. It returns errs.ErrKeepAliveTimedOut once an outstanding
// ping times out, a wrapped error if sendPing fails, or ctx.Err(); it
// blocks until ctx is canceled or one of those errors occurs.
func (p *PingController) Run(ctx context.Context, sendPing func(payload uint64) error) error {
	for {
		deadline := p.NextDeadline()
		if deadline.IsZero() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.resyncInterval()):
				continue
			}
		}

		sleep := p.timer.Sleep(time.Until(deadline))
		select {
		case <-ctx.Done():
			sleep.Stop()
			return ctx.Err()
		case <-sleep.C():
		}

		wantSend, payload, err := p.Poll(p.timer.Now())
		if err != nil {
			return err
		}
		if wantSend {
			if err := sendPing(payload); err != nil {
				return errs.Wrap(err, "h2: sending keep-alive ping")
			}
		}
	}
}

// systemTimer is the default iox.Timer used when a caller doesn't inject
// one: the real wall clock and real timers.
type systemTimer struct{}

func (systemTimer) Now() time.Time { return time.Now() }
func (systemTimer) Sleep(d time.Duration) iox.Sleep {
	t := time.NewTimer(d)
	return &systemSleep{t: t}
}

type systemSleep struct{ t *time.Timer }

func (s *systemSleep) C() <-chan time.Time { return s.t.C }
func (s *systemSleep) Reset(at time.Time)  { s.t.Reset(time.Until(at)) }
func (s *systemSleep) Stop()               { s.t.Stop() }

// resyncInterval bounds how long Run waits before re-checking NextDeadline
// when keep-alive is currently suspended (no interval configured, or idle
// with KeepAliveWhileIdle off): long enough to not busy-loop, short enough
// that a stream opening is noticed promptly.
func (cfg PingConfig) resyncInterval() time.Duration {
	if cfg.KeepAliveInterval > 0 {
		return cfg.KeepAliveInterval
	}
	return 30 * time.Second
}
