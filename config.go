package engine

import (
	"time"

	"github.com/andycostintoma/engine/internal/logging"
)

// Config carries every behavioral knob the HTTP/1.1 and HTTP/2 engines
// share, plus the protocol-specific ones each delegates to its internal
// Config (internal/h1.Config, internal/h2.Config) once a connection's
// version is known.
type Config struct {
	// HalfClose permits a peer to finish writing its request body after
	// the connection's write half has already reached keep-alive, rather
	// than treating a mid-body EOF as a connection error.
	HalfClose bool
	// KeepAlive enables persistent connections between messages.
	KeepAlive bool
	// PipelineFlush batches the flush of a pipelined response until the
	// next request head has also been parsed, cutting write syscalls for
	// back-to-back pipelined requests.
	PipelineFlush bool

	// TitleCaseHeaders writes HTTP/1 header field names in Title-Case (the
	// CanonicalHeaderKey form). Keys added through Header.Add/Set already
	// have that form, so it only changes keys inserted into the map directly.
	TitleCaseHeaders bool
	// PreserveHeaderCase makes the HTTP/1 parser record each header's
	// original wire case alongside its canonical key. Request and Response
	// do not carry that record, so heads written from them use canonical keys.
	PreserveHeaderCase bool
	// PreserveHeaderOrder makes the HTTP/1 parser record the position of each
	// parsed header line. Serialization does not use it: written headers
	// follow the header map's iteration order.
	PreserveHeaderOrder bool

	// HTTP09Responses permits parsing a bodyless, headerless HTTP/0.9
	// response on the client side.
	HTTP09Responses bool
	// EnableConnectProtocol advertises and accepts the extended CONNECT
	// method (RFC 8441) for HTTP/2 WebSocket-style tunnels.
	EnableConnectProtocol bool

	// MaxHeaders caps the number of header fields a single message may
	// carry.
	MaxHeaders int
	// MaxBufSize caps the read buffer's growth (floored at 8 KiB).
	MaxBufSize int
	// ReadBufExactSize is carried for configuration completeness. Neither
	// engine reads it: the read buffer always grows in 8 KiB increments.
	ReadBufExactSize bool

	// HeaderReadTimeout bounds how long a connection may wait for a full
	// message head before it is abandoned.
	HeaderReadTimeout time.Duration
	// KeepAliveInterval is the idle time after which the H2 ping controller
	// reports a keep-alive PING as due. ServeConn and DialH2 do not run the
	// controller's timer loop (h2.PingController.Run), so no keep-alive PING
	// is sent on a connection.
	KeepAliveInterval time.Duration
	// KeepAliveTimeout bounds how long the ping controller lets a keep-alive
	// PING go unacknowledged; like KeepAliveInterval, it is not enforced on
	// a connection, since the controller's timer loop is not run.
	KeepAliveTimeout time.Duration

	// MaxConcurrentStreams caps simultaneously open H2 streams.
	MaxConcurrentStreams uint32
	// MaxSendBufSize is carried for configuration completeness. Neither
	// engine reads it; no send-buffer cap is applied.
	MaxSendBufSize int
	// InitialStreamWindowSize is each H2 stream's starting flow-control
	// window.
	InitialStreamWindowSize uint32
	// InitialConnectionWindowSize is the H2 connection-level starting
	// flow-control window, before BDP tuning adjusts it.
	InitialConnectionWindowSize uint32
	// MaxFrameSize is the largest H2 frame this side accepts, advertised to
	// the peer as SETTINGS_MAX_FRAME_SIZE.
	MaxFrameSize uint32
	// MaxHeaderListSize is carried for configuration completeness. The H2
	// engine neither advertises nor enforces it.
	MaxHeaderListSize uint32
	// MaxPendingAcceptResetStreams is carried for configuration
	// completeness. The H2 engine does not read it; no such limit applies.
	MaxPendingAcceptResetStreams int
	// MaxLocalErrorResetStreams is carried for configuration completeness.
	// The H2 engine does not read it; local resets are not rate-limited.
	MaxLocalErrorResetStreams int

	// Allow103 is carried for configuration completeness. Neither engine
	// reads it, and neither sends informational 103 responses.
	Allow103 bool
	// AutoDateHeader fills an HTTP/1 response's Date header from the wall
	// clock when the service didn't set one. HTTP/2 response heads are
	// written without a Date header unless the service sets one.
	AutoDateHeader bool

	// Logger receives connection lifecycle events (established, protocol
	// detected, closed). A nil Logger discards them.
	Logger *logging.Logger
}

// DefaultConfig matches the values a connection configured with no
// overrides uses.
func DefaultConfig() Config {
	return Config{
		KeepAlive:                   true,
		MaxHeaders:                  100,
		MaxBufSize:                  400 << 10,
		MaxConcurrentStreams:        200,
		InitialStreamWindowSize:     65535,
		InitialConnectionWindowSize: 64 << 10,
		MaxFrameSize:                16 << 10,
		MaxHeaderListSize:           1 << 20,
		MaxPendingAcceptResetStreams: 20,
		MaxLocalErrorResetStreams:    1024,
		AutoDateHeader:               true,
		Logger:                       logging.Nop(),
	}
}
