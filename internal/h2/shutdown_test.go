package h2

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
)

func TestConnShutdownSendsGoAwayAndResetsStreams(t *testing.T) {
	serverConnSide, clientConnSide := net.Pipe()
	defer serverConnSide.Close()
	defer clientConnSide.Close()

	serverFramer := http2.NewFramer(serverConnSide, serverConnSide)
	clientFramer := http2.NewFramer(clientConnSide, clientConnSide)

	serverConn := NewConn(DefaultConfig(RoleServer), serverFramer, realTimer{}, nil)

	const openStreamID = 3
	serverConn.streamsMu.Lock()
	serverConn.streams[openStreamID] = newStream(openStreamID, serverConn, int32(serverConn.cfg.InitialStreamWindow))
	serverConn.streamsMu.Unlock()

	done := make(chan error, 1)
	go func() { done <- serverConn.Shutdown(0) }()

	goAway, err := clientFramer.ReadFrame()
	require.NoError(t, err)
	g, ok := goAway.(*http2.GoAwayFrame)
	require.True(t, ok, "expected a GOAWAY frame, got %T", goAway)
	require.Equal(t, uint32(0), g.LastStreamID)

	reset, err := clientFramer.ReadFrame()
	require.NoError(t, err)
	r, ok := reset.(*http2.RSTStreamFrame)
	require.True(t, ok, "expected a RST_STREAM frame, got %T", reset)
	require.Equal(t, uint32(openStreamID), r.StreamID)

	require.NoError(t, <-done)
}
