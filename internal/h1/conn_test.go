package h1

import (
	"bytes"
	"context"
	"net"
	"testing"

	"github.com/andycostintoma/engine/internal/httpx"
	"github.com/andycostintoma/engine/internal/netx"
)

type fakeTransport struct {
	in  *bytes.Reader
	out bytes.Buffer
}

func newFakeTransport(in string) *fakeTransport {
	return &fakeTransport{in: bytes.NewReader([]byte(in))}
}

func (f *fakeTransport) ReadContext(_ context.Context, p []byte) (int, error) {
	return f.in.Read(p)
}
func (f *fakeTransport) WriteContext(_ context.Context, p []byte) (int, error) {
	return f.out.Write(p)
}
func (f *fakeTransport) Flush(context.Context) error      { return nil }
func (f *fakeTransport) CloseWrite(context.Context) error { return nil }
func (f *fakeTransport) WriteVectored(ctx context.Context, bufs net.Buffers) (int64, error) {
	var total int64
	for _, b := range bufs {
		n, err := f.WriteContext(ctx, b)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
func (f *fakeTransport) IsWriteVectored() bool { return false }

func TestConnServerRoundTripKeepsAlive(t *testing.T) {
	ft := newFakeTransport("GET /widgets HTTP/1.1\r\nHost: example.com\r\n\r\n")
	bio := netx.New(ft)
	conn := NewConn(bio, Config{Role: RoleServer, KeepAliveEnabled: true})

	head, err := conn.ReadHead(context.Background())
	if err != nil {
		t.Fatalf("ReadHead: %v", err)
	}
	if head.Method != "GET" || head.RequestURI != "/widgets" {
		t.Fatalf("unexpected head: %+v", head)
	}
	if conn.ReadState() != ReadBody {
		t.Fatalf("read state = %v, want ReadBody", conn.ReadState())
	}

	chunk, eof, err := conn.ReadBodyChunk(context.Background())
	if err != nil || !eof || len(chunk) != 0 {
		t.Fatalf("ReadBodyChunk: chunk=%v eof=%v err=%v", chunk, eof, err)
	}
	if conn.ReadState() != ReadKeepAlive {
		t.Fatalf("read state = %v, want ReadKeepAlive", conn.ReadState())
	}

	respHeader := make(httpx.Header)
	respHead := Head{
		Subject:    SubjectResponse,
		StatusCode: 200,
		Reason:     "OK",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     respHeader,
	}
	body := []byte("hello")
	if err := conn.WriteHead(respHead, BodyLength{Kind: LengthFixed, N: int64(len(body))}); err != nil {
		t.Fatalf("WriteHead: %v", err)
	}
	if err := conn.WriteBodyChunk(body); err != nil {
		t.Fatalf("WriteBodyChunk: %v", err)
	}
	if err := conn.EndWrite(); err != nil {
		t.Fatalf("EndWrite: %v", err)
	}
	if conn.WriteState() != WriteKeepAlive {
		t.Fatalf("write state = %v, want WriteKeepAlive", conn.WriteState())
	}

	if !conn.ResolveKeepAlive() {
		t.Fatal("expected keep-alive to persist")
	}
	if conn.ReadState() != ReadInit || conn.WriteState() != WriteInit {
		t.Fatalf("expected both halves reset to Init, got read=%v write=%v", conn.ReadState(), conn.WriteState())
	}

	if err := conn.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	out := ft.out.String()
	if !bytes.Contains([]byte(out), []byte("HTTP/1.1 200 OK\r\n")) {
		t.Fatalf("missing status line in output: %q", out)
	}
	if !bytes.Contains([]byte(out), []byte("Content-Length: 5\r\n")) {
		t.Fatalf("missing content-length in output: %q", out)
	}
	if !bytes.Contains([]byte(out), []byte("hello")) {
		t.Fatalf("missing body in output: %q", out)
	}
}

func TestConnConnectionCloseForcesClose(t *testing.T) {
	ft := newFakeTransport("GET / HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n")
	bio := netx.New(ft)
	conn := NewConn(bio, Config{Role: RoleServer, KeepAliveEnabled: true})

	if _, err := conn.ReadHead(context.Background()); err != nil {
		t.Fatalf("ReadHead: %v", err)
	}
	if _, _, err := conn.ReadBodyChunk(context.Background()); err != nil {
		t.Fatalf("ReadBodyChunk: %v", err)
	}

	h := make(httpx.Header)
	respHead := Head{Subject: SubjectResponse, StatusCode: 200, Reason: "OK", ProtoMajor: 1, ProtoMinor: 1, Header: h}
	if err := conn.WriteHead(respHead, BodyLength{Kind: LengthFixed, N: 0}); err != nil {
		t.Fatalf("WriteHead: %v", err)
	}
	if err := conn.EndWrite(); err != nil {
		t.Fatalf("EndWrite: %v", err)
	}

	if conn.ResolveKeepAlive() {
		t.Fatal("expected Connection: close to prevent keep-alive")
	}
	if conn.ReadState() != ReadClosed || conn.WriteState() != WriteClosed {
		t.Fatalf("expected both halves Closed, got read=%v write=%v", conn.ReadState(), conn.WriteState())
	}
}

func TestConnExpect100Continue(t *testing.T) {
	ft := newFakeTransport("POST /upload HTTP/1.1\r\nHost: example.com\r\nExpect: 100-continue\r\nContent-Length: 5\r\n\r\nhello")
	bio := netx.New(ft)
	conn := NewConn(bio, Config{Role: RoleServer})

	if _, err := conn.ReadHead(context.Background()); err != nil {
		t.Fatalf("ReadHead: %v", err)
	}
	if !conn.AwaitingContinue() {
		t.Fatal("expected AwaitingContinue after Expect: 100-continue")
	}
	if err := conn.ConfirmContinue(); err != nil {
		t.Fatalf("ConfirmContinue: %v", err)
	}
	if conn.ReadState() != ReadBody {
		t.Fatalf("read state = %v, want ReadBody", conn.ReadState())
	}

	chunk, eof, err := conn.ReadBodyChunk(context.Background())
	if err != nil {
		t.Fatalf("ReadBodyChunk: %v", err)
	}
	if !eof || string(chunk) != "hello" {
		t.Fatalf("chunk=%q eof=%v", chunk, eof)
	}

	if err := conn.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !bytes.Contains(ft.out.Bytes(), []byte("100 Continue")) {
		t.Fatalf("missing 100 Continue in output: %q", ft.out.String())
	}
}
