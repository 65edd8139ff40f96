package h1

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andycostintoma/engine/internal/body"
	"github.com/andycostintoma/engine/internal/dispatch"
	"github.com/andycostintoma/engine/internal/httpx"
	"github.com/andycostintoma/engine/internal/netx"
)

type echoService struct{}

func (echoService) Call(ctx context.Context, req Message) (Message, error) {
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

	h := make(httpx.Header)
	respBody := body.NewUser(body.Exact(uint64(buf.Len())), func(ctx context.Context) (body.Frame, bool, error) {
		if buf.Len() == 0 {
			return body.Frame{}, false, nil
		}
		data := append([]byte(nil), buf.Bytes()...)
		buf.Reset()
		return body.Frame{Kind: body.FrameData, Data: data}, true, nil
	})
	return Message{
		Head: Head{Subject: SubjectResponse, StatusCode: 200, Reason: "OK", ProtoMajor: 1, ProtoMinor: 1, Header: h},
		Body: respBody,
	}, nil
}

func TestServeConnEchoesRequestBody(t *testing.T) {
	ft := newFakeTransport("POST /echo HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello")
	bio := netx.New(ft)
	conn := NewConn(bio, Config{Role: RoleServer, KeepAliveEnabled: true})

	err := ServeConn(context.Background(), conn, echoService{})
	require.NoError(t, err)

	out := ft.out.String()
	require.Contains(t, out, "HTTP/1.1 200 OK\r\n")
	require.Contains(t, out, "hello")
}

func TestRunClientDeliversResponse(t *testing.T) {
	ft := newFakeTransport("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
	bio := netx.New(ft)
	conn := NewConn(bio, Config{Role: RoleClient, KeepAliveEnabled: true})

	sender, recv := dispatch.NewChannel[ClientRequest, ClientResponse]()

	done := make(chan error, 1)
	go func() { done <- RunClient(context.Background(), conn, recv) }()

	reqBody := body.Empty()
	var cb <-chan dispatch.Result[ClientResponse]
	var err error
	for {
		cb, err = sender.TrySend(ClientRequest{
			Head: Head{Subject: SubjectRequest, Method: "GET", RequestURI: "/", ProtoMajor: 1, ProtoMinor: 1, Header: make(httpx.Header)},
			Body: reqBody,
		})
		if err == nil {
			break
		}
	}

	result := <-cb
	require.NoError(t, result.Err)
	require.Equal(t, 200, result.Value.Head.StatusCode)

	frame, ok, frameErr := result.Value.Body.PollFrame(context.Background())
	require.NoError(t, frameErr)
	require.True(t, ok)
	require.Equal(t, "ok", string(frame.Data))

	sender.Close()
	require.NoError(t, <-done)
}
