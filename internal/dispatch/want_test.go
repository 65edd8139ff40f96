package dispatch

import (
	"context"
	"testing"
	"time"
)

func TestWantGrantedAfterWant(t *testing.T) {
	g, tk := NewWant()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		granted, err := g.PollWant(ctx)
		if err != nil {
			t.Errorf("PollWant: %v", err)
		}
		done <- granted
	}()

	time.Sleep(10 * time.Millisecond)
	tk.Want()

	select {
	case granted := <-done:
		if !granted {
			t.Fatal("expected granted=true")
		}
	case <-time.After(time.Second):
		t.Fatal("PollWant never returned")
	}
}

func TestWantClosedUnblocksPollWant(t *testing.T) {
	g, tk := NewWant()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		granted, err := g.PollWant(ctx)
		if err != nil {
			t.Errorf("PollWant: %v", err)
		}
		if granted {
			t.Error("expected granted=false after Close")
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	tk.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PollWant never unblocked after Close")
	}
}
