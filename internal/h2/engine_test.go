package h2

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"

	"github.com/andycostintoma/engine/internal/body"
	"github.com/andycostintoma/engine/internal/dispatch"
	"github.com/andycostintoma/engine/internal/httpx"
	"github.com/andycostintoma/engine/internal/iox"
)

type realTimer struct{}

func (realTimer) Now() time.Time { return time.Now() }
func (realTimer) Sleep(d time.Duration) iox.Sleep {
	t := time.NewTimer(d)
	return &realSleep{t: t}
}

type realSleep struct{ t *time.Timer }

func (s *realSleep) C() <-chan time.Time { return s.t.C }
func (s *realSleep) Reset(at time.Time)  { s.t.Reset(time.Until(at)) }
func (s *realSleep) Stop()               { s.t.Stop() }

type echoService struct{}

func (echoService) Call(ctx context.Context, req Message) (Message, error) {
	frame, ok, err := req.Body.PollFrame(ctx)
	if err != nil {
		return Message{}, err
	}
	var data []byte
	if ok && frame.Kind == body.FrameData {
		data = frame.Data
	}
	respBody := body.NewUser(body.Exact(uint64(len(data))), func(ctx context.Context) (body.Frame, bool, error) {
		if data == nil {
			return body.Frame{}, false, nil
		}
		d := data
		data = nil
		return body.Frame{Kind: body.FrameData, Data: d}, true, nil
	})
	return Message{
		Head: Head{StatusCode: 200, Header: make(httpx.Header)},
		Body: respBody,
	}, nil
}

func TestServeAndRunClientRoundTrip(t *testing.T) {
	serverConnSide, clientConnSide := net.Pipe()
	defer serverConnSide.Close()
	defer clientConnSide.Close()

	serverFramer := http2.NewFramer(serverConnSide, serverConnSide)
	clientFramer := http2.NewFramer(clientConnSide, clientConnSide)

	serverConn := NewConn(DefaultConfig(RoleServer), serverFramer, realTimer{}, nil)
	clientConn := NewConn(DefaultConfig(RoleClient), clientFramer, realTimer{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ServeConn(ctx, serverConn, echoService{})

	sender, recv := dispatch.NewChannel[ClientRequest, ClientResponse]()
	go RunClient(ctx, clientConn, recv)

	reqBody := body.NewUser(body.Exact(5), func(ctx context.Context) (body.Frame, bool, error) {
		return body.Frame{Kind: body.FrameData, Data: []byte("hello")}, true, nil
	})

	var cb <-chan dispatch.Result[ClientResponse]
	var err error
	deadline := time.After(5 * time.Second)
	for {
		cb, err = sender.TrySend(ClientRequest{
			Head: Head{Method: "POST", Path: "/echo", Scheme: "http", Authority: "example.com", Header: make(httpx.Header)},
			Body: reqBody,
		})
		if err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for send capacity: %v", err)
		default:
		}
	}

	select {
	case result := <-cb:
		require.NoError(t, result.Err)
		require.Equal(t, 200, result.Value.Head.StatusCode)
		frame, ok, err := result.Value.Body.PollFrame(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "hello", string(frame.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for response")
	}
}
