package body

import (
	"context"
	"testing"
	"time"
)

func TestEmptyBody(t *testing.T) {
	b := Empty()
	if !b.IsEndStream() {
		t.Fatal("Empty() should report end-of-stream immediately")
	}
	_, ok, err := b.PollFrame(context.Background())
	if ok || err != nil {
		t.Fatalf("PollFrame on Empty = ok=%v err=%v, want ok=false err=nil", ok, err)
	}
}

func TestChannelBodyRoundTrip(t *testing.T) {
	b, s := NewChannel(Exact(5), false)

	go func() {
		_ = s.SendData(context.Background(), []byte("hel"))
		_ = s.SendData(context.Background(), []byte("lo"))
		_ = s.Close()
	}()

	var got []byte
	for {
		f, ok, err := b.PollFrame(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, f.Data...)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestChannelBodyAbort(t *testing.T) {
	b, s := NewChannel(Unknown(), false)
	wantErr := errDummy{}
	s.Abort(wantErr)

	_, ok, err := b.PollFrame(context.Background())
	if ok {
		t.Fatal("expected end-of-stream after abort")
	}
	if err != wantErr {
		t.Fatalf("got err=%v, want %v", err, wantErr)
	}
}

type errDummy struct{}

func (errDummy) Error() string { return "dummy abort error" }

// TestChannelBodyBackpressure exercises testable property 5: with
// wanter=true, the sender's ready future stays pending until the reader
// has polled the body at least once.
func TestChannelBodyBackpressure(t *testing.T) {
	b, s := NewChannel(Unknown(), true)

	readyCh := make(chan error, 1)
	go func() {
		_, err := s.PollReady(context.Background())
		readyCh <- err
	}()

	select {
	case <-readyCh:
		t.Fatal("PollReady resolved before the reader polled the body")
	case <-time.After(30 * time.Millisecond):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	go func() { _, _, _ = b.PollFrame(ctx) }()

	select {
	case err := <-readyCh:
		if err != nil {
			t.Fatalf("PollReady error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("PollReady never resolved after the reader polled")
	}
}
