package upgrade

import (
	"context"
	"net"
	"testing"

	"github.com/andycostintoma/engine/internal/iox"
)

type fakeTransport struct{ net.Conn }

func (fakeTransport) ReadContext(context.Context, []byte) (int, error)    { return 0, nil }
func (fakeTransport) WriteContext(context.Context, []byte) (int, error)   { return 0, nil }
func (fakeTransport) Flush(context.Context) error                        { return nil }
func (fakeTransport) CloseWrite(context.Context) error                   { return nil }
func (fakeTransport) WriteVectored(context.Context, net.Buffers) (int64, error) { return 0, nil }
func (fakeTransport) IsWriteVectored() bool                              { return false }

func TestPendingResolvesAfterMarkReady(t *testing.T) {
	var took iox.Transport = fakeTransport{}
	p := NewPending(func() (iox.Transport, []byte) { return took, []byte("leftover") })

	done := make(chan error, 1)
	var result *Upgraded
	go func() {
		u, err := p.OnUpgrade()
		result = u
		done <- err
	}()

	p.MarkReady()
	if err := <-done; err != nil {
		t.Fatalf("OnUpgrade: %v", err)
	}

	tr, leftover, err := result.Take()
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if tr != took {
		t.Fatal("expected the parked transport back")
	}
	if string(leftover) != "leftover" {
		t.Fatalf("leftover = %q", leftover)
	}

	if _, _, err := result.Take(); err == nil {
		t.Fatal("expected second Take to fail")
	}
}

func TestPendingCanceledReturnsNoUpgrade(t *testing.T) {
	p := NewPending(func() (iox.Transport, []byte) { return nil, nil })

	done := make(chan error, 1)
	go func() {
		_, err := p.OnUpgrade()
		done <- err
	}()

	p.Cancel()
	if err := <-done; err == nil {
		t.Fatal("expected ErrUserNoUpgrade")
	}
}
