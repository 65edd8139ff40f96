package dispatch

import (
	"context"
	"testing"
	"time"
)

func TestChannelNotReadyBeforeFirstPoll(t *testing.T) {
	s, _ := NewChannel[string, string]()
	if _, err := s.TrySend("hello"); err == nil {
		t.Fatal("expected ErrNotReady before any PollRecv")
	}
}

func TestChannelRoundTrip(t *testing.T) {
	s, r := NewChannel[string, string]()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	recvDone := make(chan *Envelope[string, string], 1)
	go func() {
		env, err := r.PollRecv(ctx)
		if err != nil {
			t.Errorf("PollRecv: %v", err)
		}
		recvDone <- env
	}()

	deadline := time.After(time.Second)
	var cb <-chan Result[string]
	for cb == nil {
		var err error
		cb, err = s.TrySend("request")
		if err != nil {
			select {
			case <-deadline:
				t.Fatal("timed out waiting for capacity")
			case <-time.After(time.Millisecond):
			}
		}
	}

	env := <-recvDone
	if env.Request != "request" {
		t.Fatalf("got request %q", env.Request)
	}
	env.Callback <- Result[string]{Value: "response"}

	select {
	case res := <-cb:
		if res.Value != "response" {
			t.Fatalf("got response %q", res.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestChannelDriverGoneRejectsSend(t *testing.T) {
	s, r := NewChannel[string, string]()
	r.Close()
	if _, err := s.TrySend("x"); err == nil {
		t.Fatal("expected error after Receiver.Close")
	}
}

func TestChannelSenderGoneObservedByDriver(t *testing.T) {
	s, r := NewChannel[string, string]()
	s.Close()
	if !r.SenderGone() {
		t.Fatal("expected SenderGone after Sender.Close")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	env, err := r.PollRecv(ctx)
	if err != nil {
		t.Fatalf("PollRecv: %v", err)
	}
	if env != nil {
		t.Fatal("expected no envelope once sender is gone")
	}
}
