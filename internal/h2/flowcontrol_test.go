package h2

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"

	"github.com/andycostintoma/engine/internal/body"
	"github.com/andycostintoma/engine/internal/dispatch"
	"github.com/andycostintoma/engine/internal/httpx"
)

// bufferingEchoService reads a request body to completion before replying,
// unlike echoService's single-PollFrame shortcut; large bodies exercise
// the receive-window credit-back path across many DATA frames.
type bufferingEchoService struct{}

func (bufferingEchoService) Call(ctx context.Context, req Message) (Message, error) {
	var buf bytes.Buffer
	for {
		frame, ok, err := req.Body.PollFrame(ctx)
		if err != nil {
			return Message{}, err
		}
		if !ok {
			break
		}
		if frame.Kind == body.FrameData {
			buf.Write(frame.Data)
		}
	}

	data := buf.Bytes()
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

// TestLargeBodyDoesNotStallConnectionWindow sends a body well past the
// default 64 KiB connection-level receive window in one call; without a
// WINDOW_UPDATE(stream 0) credit-back as each chunk is consumed, the peer
// would stall forever after the first 64 KiB.
func TestLargeBodyDoesNotStallConnectionWindow(t *testing.T) {
	serverConnSide, clientConnSide := net.Pipe()
	defer serverConnSide.Close()
	defer clientConnSide.Close()

	serverFramer := http2.NewFramer(serverConnSide, serverConnSide)
	clientFramer := http2.NewFramer(clientConnSide, clientConnSide)

	serverConn := NewConn(DefaultConfig(RoleServer), serverFramer, realTimer{}, nil)
	clientConn := NewConn(DefaultConfig(RoleClient), clientFramer, realTimer{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ServeConn(ctx, serverConn, bufferingEchoService{})

	sender, recv := dispatch.NewChannel[ClientRequest, ClientResponse]()
	go RunClient(ctx, clientConn, recv)

	const size = 3 * (64 << 10) // triple the default connection window
	payload := bytes.Repeat([]byte("x"), size)
	sent := false
	reqBody := body.NewUser(body.Exact(uint64(size)), func(ctx context.Context) (body.Frame, bool, error) {
		if sent {
			return body.Frame{}, false, nil
		}
		sent = true
		return body.Frame{Kind: body.FrameData, Data: payload}, true, nil
	})

	var cb <-chan dispatch.Result[ClientResponse]
	var err error
	deadline := time.After(10 * time.Second)
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

		var got bytes.Buffer
		for {
			frame, ok, err := result.Value.Body.PollFrame(context.Background())
			require.NoError(t, err)
			if !ok {
				break
			}
			if frame.Kind == body.FrameData {
				got.Write(frame.Data)
			}
		}
		require.Equal(t, size, got.Len())
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for response: connection-level window likely stalled")
	}
}
