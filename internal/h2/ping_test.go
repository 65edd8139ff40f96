package h2

import (
	"testing"
	"time"

	"github.com/andycostintoma/engine/internal/iox"
)

type fakeTimer struct{ now time.Time }

func (f *fakeTimer) Now() time.Time { return f.now }
func (f *fakeTimer) Sleep(d time.Duration) iox.Sleep {
	return &fakeSleep{c: make(chan time.Time, 1)}
}

type fakeSleep struct{ c chan time.Time }

func (s *fakeSleep) C() <-chan time.Time { return s.c }
func (s *fakeSleep) Reset(time.Time)     {}
func (s *fakeSleep) Stop()               {}

func TestPingControllerSendsAfterInterval(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewPingController(PingConfig{KeepAliveInterval: time.Second, KeepAliveTimeout: 5 * time.Second, KeepAliveWhileIdle: true}, nil, base)

	send, _, err := p.Poll(base.Add(500 * time.Millisecond))
	if err != nil || send {
		t.Fatalf("expected no ping before interval elapses, got send=%v err=%v", send, err)
	}

	send, payload, err := p.Poll(base.Add(2 * time.Second))
	if err != nil || !send {
		t.Fatalf("expected ping due, got send=%v err=%v", send, err)
	}
	if payload == 0 {
		t.Fatal("expected nonzero payload")
	}
}

func TestPingControllerTimesOut(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewPingController(PingConfig{KeepAliveInterval: time.Second, KeepAliveTimeout: 2 * time.Second, KeepAliveWhileIdle: true}, nil, base)

	_, _, err := p.Poll(base.Add(2 * time.Second))
	if err != nil {
		t.Fatalf("unexpected error arming ping: %v", err)
	}

	_, _, err = p.Poll(base.Add(5 * time.Second))
	if err == nil {
		t.Fatal("expected keep-alive timeout error")
	}
}

func TestPingControllerOnPongGrowsWindowFromBDPProbe(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	timer := &fakeTimer{now: base}
	p := NewPingController(PingConfig{
		BDPEnabled:        true,
		InitialConnWindow: 64 << 10,
		MaxConnWindow:     1 << 20,
	}, timer, base)

	var sentPayload uint64
	var sends int
	p.SetSender(func(payload uint64) error {
		sentPayload = payload
		sends++
		return nil
	})

	// A large chunk of received DATA arms a BDP probe PING.
	p.RecordData(128 << 10)
	if sends != 1 {
		t.Fatalf("expected one probe PING sent, got %d", sends)
	}

	// More data arriving before the probe's ack just accumulates bytes.
	timer.now = base.Add(10 * time.Millisecond)
	p.RecordData(128 << 10)
	if sends != 1 {
		t.Fatalf("expected no second probe while one is outstanding, got %d", sends)
	}

	newWindow, grow := p.OnPong(base.Add(20*time.Millisecond), sentPayload)
	if !grow {
		t.Fatal("expected OnPong to grow the window from the BDP probe's byte sample")
	}
	if newWindow <= 64<<10 {
		t.Fatalf("expected window to grow past initial, got %d", newWindow)
	}
	if p.ConnWindow() != newWindow {
		t.Fatalf("ConnWindow() = %d, want %d", p.ConnWindow(), newWindow)
	}
}

func TestPingControllerOrdinaryPongDoesNotGrowWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewPingController(PingConfig{
		KeepAliveInterval:  time.Second,
		KeepAliveTimeout:   5 * time.Second,
		KeepAliveWhileIdle: true,
		BDPEnabled:         true,
		InitialConnWindow:  64 << 10,
		MaxConnWindow:      1 << 20,
	}, nil, base)

	_, payload, err := p.Poll(base.Add(2 * time.Second))
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}

	// No BDP probe is outstanding, so an ordinary keep-alive pong must not
	// move the window at all.
	newWindow, grow := p.OnPong(base.Add(2100*time.Millisecond), payload)
	if grow {
		t.Fatalf("expected keep-alive pong not to grow the window, got newWindow=%d", newWindow)
	}
	if p.ConnWindow() != 64<<10 {
		t.Fatalf("ConnWindow() = %d, want unchanged initial", p.ConnWindow())
	}
}

func TestPingControllerIdleSuspendsWithoutStreams(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewPingController(PingConfig{KeepAliveInterval: time.Second, KeepAliveTimeout: 5 * time.Second, KeepAliveWhileIdle: false}, nil, base)

	send, _, err := p.Poll(base.Add(10 * time.Second))
	if err != nil || send {
		t.Fatalf("expected no ping while idle with no streams, got send=%v err=%v", send, err)
	}

	p.StreamOpened()
	p.OnFrame(base.Add(10 * time.Second))
	send, _, err = p.Poll(base.Add(12 * time.Second))
	if err != nil || !send {
		t.Fatalf("expected ping once a stream is live, got send=%v err=%v", send, err)
	}
}
