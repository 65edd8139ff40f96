package h1

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andycostintoma/engine/internal/netx"
)

// TestPreserveCaseRoundTripsWireCasing parses a request whose header names
// don't match their canonical form, then re-serializes the same head (as a
// transparent relay would) and asserts the original casing survives.
func TestPreserveCaseRoundTripsWireCasing(t *testing.T) {
	ft := newFakeTransport("GET / HTTP/1.1\r\nx-CUSTOM-Header: v1\r\nx-CUSTOM-Header: v2\r\nHost: example.com\r\n\r\n")
	bio := netx.New(ft)
	conn := NewConn(bio, Config{Role: RoleServer, Parser: ParserConfig{PreserveCase: true}, Serialize: SerializeConfig{PreserveCase: true}})

	head, err := conn.ReadHead(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"x-CUSTOM-Header", "x-CUSTOM-Header"}, head.RawHeaderNames["X-Custom-Header"])

	require.NoError(t, conn.WriteHead(head, BodyLength{Kind: LengthFixed, N: 0}))
	require.NoError(t, conn.EndWrite())
	require.NoError(t, conn.Flush(context.Background()))

	out := ft.out.String()
	require.Contains(t, out, "x-CUSTOM-Header: v1\r\n")
	require.Contains(t, out, "x-CUSTOM-Header: v2\r\n")
}

// TestPreserveCaseOffCanonicalizes confirms the default (PreserveCase off)
// behavior is unaffected: headers serialize with their canonical key.
func TestPreserveCaseOffCanonicalizes(t *testing.T) {
	ft := newFakeTransport("GET / HTTP/1.1\r\nx-custom-header: v1\r\nHost: example.com\r\n\r\n")
	bio := netx.New(ft)
	conn := NewConn(bio, Config{Role: RoleServer})

	head, err := conn.ReadHead(context.Background())
	require.NoError(t, err)
	require.Nil(t, head.RawHeaderNames)

	require.NoError(t, conn.WriteHead(head, BodyLength{Kind: LengthFixed, N: 0}))
	require.NoError(t, conn.EndWrite())
	require.NoError(t, conn.Flush(context.Background()))

	require.Contains(t, ft.out.String(), "X-Custom-Header: v1\r\n")
}
