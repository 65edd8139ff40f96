package engine

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andycostintoma/engine/internal/body"
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

type alwaysReadyService struct {
	call func(ctx context.Context, req *Request) (*Response, error)
}

func (s alwaysReadyService) PollReady(context.Context) error { return nil }
func (s alwaysReadyService) Call(ctx context.Context, req *Request) (*Response, error) {
	return s.call(ctx, req)
}

func TestServeConnDispatchesH1(t *testing.T) {
	ft := newFakeTransport("GET /hello HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n")

	svc := alwaysReadyService{call: func(ctx context.Context, req *Request) (*Response, error) {
		if req.Path != "/hello" {
			t.Fatalf("unexpected path: %q", req.Path)
		}
		return NewResponse(200, body.Empty()), nil
	}}

	cfg := DefaultConfig()
	err := ServeConn(context.Background(), ft, cfg, nil, nil, svc)
	require.NoError(t, err)
	require.Contains(t, ft.out.String(), "HTTP/1.1 200")
}

func TestServeConnDetectsH2Preface(t *testing.T) {
	// Only the preface is sent; serveH2 takes over, writes its SETTINGS,
	// and the read loop then hits EOF on the exhausted fake transport.
	ft := newFakeTransport("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

	svc := alwaysReadyService{call: func(ctx context.Context, req *Request) (*Response, error) {
		return NewResponse(200, body.Empty()), nil
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := ServeConn(ctx, ft, DefaultConfig(), nil, nil, svc)
	require.Error(t, err, "expected ServeConn to report an error once the H2 read loop hits EOF/cancellation")
}
