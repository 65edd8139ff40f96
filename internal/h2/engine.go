package h2

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/andycostintoma/engine/internal/body"
	"github.com/andycostintoma/engine/internal/dispatch"
	"github.com/andycostintoma/engine/internal/errs"
	"github.com/andycostintoma/engine/internal/httpx"
	"github.com/andycostintoma/engine/internal/iox"
)

// Role distinguishes which side of the connection this engine drives.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

const defaultMaxFrameSize = 16 << 10

// settingEnableConnectProtocol is SETTINGS_ENABLE_CONNECT_PROTOCOL from
// RFC 8441 §3; golang.org/x/net/http2 has no exported constant for it.
const settingEnableConnectProtocol http2.SettingID = 0x8

// Config carries a connection's HTTP/2-specific knobs.
type Config struct {
	Role Role

	MaxConcurrentStreams uint32
	InitialStreamWindow  uint32
	MaxFrameSize         uint32

	Ping PingConfig

	EnableConnectProtocol bool
}

// DefaultConfig uses 100 concurrent streams, the RFC 9113 initial stream
// window of 65535 bytes and 16 KiB frames, BDP tuning on.
func DefaultConfig(role Role) Config {
	return Config{
		Role:                 role,
		MaxConcurrentStreams: 100,
		InitialStreamWindow:  65535,
		MaxFrameSize:         defaultMaxFrameSize,
		Ping:                 DefaultPingConfig(),
	}
}

// Message pairs a stream's Head with its body, mirroring internal/h1's
// Message so the root package can adapt one user Service across both
// protocol engines.
type Message struct {
	Head Head
	Body body.Body
}

// Service is the narrow interface the server loop calls into per stream.
type Service interface {
	Call(ctx context.Context, req Message) (Message, error)
}

// Conn drives one HTTP/2 connection atop an already-established duplex
// transport: a framer for reading and writing frames, an hpack codec pair,
// and a table of live streams. The client's connection preface (the magic
// string) is assumed already written or consumed by the caller before
// NewConn; this side's initial SETTINGS frame is sent afterwards with
// WriteSettings.
type Conn struct {
	cfg    Config
	framer *http2.Framer

	hpackDec *hpack.Decoder
	headerMu sync.Mutex

	writeMu  sync.Mutex
	hpackEnc *hpack.Encoder
	hpackBuf *bytesBuffer

	streamsMu    sync.Mutex
	streams      map[uint32]*stream
	nextClientID uint32

	peerMaxFrameSize uint32

	connSendWindow int32
	connSendCond   chan struct{}
	connSendMu     sync.Mutex

	// connRecvWindowTarget is the connection-level window this side has
	// last advertised to the peer (via the initial default plus any
	// WINDOW_UPDATE(stream 0) growth sent so far). growConnRecvWindow
	// uses it to compute the increment a wider target requires.
	connRecvWindowTarget uint32
	connRecvMu           sync.Mutex

	// peerConnectProtocol records whether the peer's SETTINGS advertised
	// SETTINGS_ENABLE_CONNECT_PROTOCOL=1, gating whether this side may send
	// an extended CONNECT (:protocol) request.
	peerConnectProtocol atomic.Bool

	ping *PingController

	exec iox.Executor

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// bytesBuffer is the tiny io.Writer hpack.Encoder needs; kept as a named
// type so its reuse across header blocks is visible at the call site.
type bytesBuffer struct{ b []byte }

func (w *bytesBuffer) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}
func (w *bytesBuffer) reset() []byte {
	b := w.b
	w.b = nil
	return b
}

// NewConn builds a Conn from a framer and timer/executor dependencies.
// Callers construct the framer over their transport (http2.NewFramer) and
// are responsible for having already exchanged the connection preface.
func NewConn(cfg Config, framer *http2.Framer, timer iox.Timer, exec iox.Executor) *Conn {
	if timer == nil {
		timer = systemTimer{}
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = defaultMaxFrameSize
	}
	if cfg.InitialStreamWindow == 0 {
		cfg.InitialStreamWindow = DefaultConfig(cfg.Role).InitialStreamWindow
	}
	buf := &bytesBuffer{}
	c := &Conn{
		cfg:              cfg,
		framer:           framer,
		hpackDec:         hpack.NewDecoder(4096, nil),
		hpackEnc:         hpack.NewEncoder(buf),
		hpackBuf:         buf,
		streams:          make(map[uint32]*stream),
		peerMaxFrameSize: defaultMaxFrameSize,
		connSendWindow:   65535,
		connSendCond:     make(chan struct{}, 1),
		connRecvWindowTarget: 65535,
		ping:             NewPingController(cfg.Ping, timer, timer.Now()),
		exec:             exec,
		closed:           make(chan struct{}),
	}
	if cfg.Role == RoleClient {
		c.nextClientID = 1
	}
	c.ping.SetSender(c.sendPing)
	return c
}

func (c *Conn) fail(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.closed)
		c.streamsMu.Lock()
		for _, s := range c.streams {
			s.abort(err)
		}
		c.streamsMu.Unlock()
	})
}

// WriteSettings sends this side's initial SETTINGS frame. Call once, before
// ServeConn/RunClient's read loop starts consuming the peer's frames. Unlike
// the per-stream window (set via SETTINGS_INITIAL_WINDOW_SIZE), the
// connection-level window has no SETTINGS equivalent and defaults to 65535
// per RFC 7540 §6.9.2; if cfg.Ping.InitialConnWindow asks for more, the
// difference is credited with an immediate WINDOW_UPDATE(stream 0).
func (c *Conn) WriteSettings() error {
	settings := []http2.Setting{
		{ID: http2.SettingMaxConcurrentStreams, Val: c.cfg.MaxConcurrentStreams},
		{ID: http2.SettingInitialWindowSize, Val: c.cfg.InitialStreamWindow},
		{ID: http2.SettingMaxFrameSize, Val: c.cfg.MaxFrameSize},
	}
	if c.cfg.EnableConnectProtocol {
		settings = append(settings, http2.Setting{ID: settingEnableConnectProtocol, Val: 1})
	}
	c.writeMu.Lock()
	err := c.framer.WriteSettings(settings...)
	c.writeMu.Unlock()
	if err != nil {
		return err
	}
	if c.cfg.Ping.InitialConnWindow > c.connRecvWindowTarget {
		return c.growConnRecvWindow(c.cfg.Ping.InitialConnWindow)
	}
	return nil
}

func (c *Conn) sendWindowUpdate(streamID uint32, n uint32) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WriteWindowUpdate(streamID, n)
}

// growConnRecvWindow raises the connection-level receive window this side
// advertises to target, sending the peer the delta as a single
// WINDOW_UPDATE(stream 0, delta). It is a no-op if target isn't larger than
// what's already been advertised.
func (c *Conn) growConnRecvWindow(target uint32) error {
	c.connRecvMu.Lock()
	if target <= c.connRecvWindowTarget {
		c.connRecvMu.Unlock()
		return nil
	}
	delta := target - c.connRecvWindowTarget
	c.connRecvWindowTarget = target
	c.connRecvMu.Unlock()
	return c.sendWindowUpdate(0, delta)
}

func (c *Conn) sendRSTStream(streamID uint32, code http2.ErrCode) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WriteRSTStream(streamID, code)
}

func (c *Conn) sendPing(payload uint64) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	var p [8]byte
	for i := 0; i < 8; i++ {
		p[i] = byte(payload >> (8 * (7 - i)))
	}
	return c.framer.WritePing(false, p)
}

func (c *Conn) sendPong(payload [8]byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WritePing(true, payload)
}

// GoAway sends a GOAWAY frame announcing the last stream ID this side will
// process, for graceful shutdown.
func (c *Conn) GoAway(lastStreamID uint32, code http2.ErrCode) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WriteGoAway(lastStreamID, code, nil)
}

// Shutdown begins a graceful close: it announces lastStreamID via GOAWAY,
// then resets every stream opened above it so the peer learns those won't
// be processed. Failures to write either kind of frame are aggregated
// rather than abandoning the rest of the shutdown at the first error.
func (c *Conn) Shutdown(lastStreamID uint32) error {
	var result *multierror.Error
	if err := c.GoAway(lastStreamID, http2.ErrCodeNo); err != nil {
		result = multierror.Append(result, err)
	}

	c.streamsMu.Lock()
	var rejected []uint32
	for id := range c.streams {
		if id > lastStreamID {
			rejected = append(rejected, id)
		}
	}
	c.streamsMu.Unlock()

	for _, id := range rejected {
		if err := c.sendRSTStream(id, http2.ErrCodeRefusedStream); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func pseudoHeaders(fields []hpack.HeaderField) (Head, httpx.Header) {
	head := Head{Header: make(httpx.Header)}
	for _, f := range fields {
		switch f.Name {
		case ":method":
			head.Method = f.Value
		case ":path":
			head.Path = f.Value
		case ":scheme":
			head.Scheme = f.Value
		case ":authority":
			head.Authority = f.Value
		case ":protocol":
			head.Protocol = f.Value
		case ":status":
			head.StatusCode = parseStatus(f.Value)
		default:
			head.Header.Add(f.Name, f.Value)
		}
	}
	return head, head.Header
}

func parseStatus(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// isTrailerBlock reports whether a HEADERS frame carries trailers rather
// than a request/response head: no pseudo-headers present.
func isTrailerBlock(fields []hpack.HeaderField) bool {
	for _, f := range fields {
		if len(f.Name) > 0 && f.Name[0] == ':' {
			return false
		}
	}
	return true
}

// readLoop consumes frames from the peer until the connection closes or a
// connection-level error occurs. onHead is invoked for each new
// server-role stream's request head (ServeConn), or left nil for a client
// connection driven by RunClient's stream-keyed response delivery below.
func (c *Conn) readLoop(ctx context.Context, onHead func(s *stream, head Head)) error {
	for {
		frame, err := c.framer.ReadFrame()
		if err != nil {
			c.fail(err)
			return err
		}
		c.ping.OnFrame(time.Now())

		switch f := frame.(type) {
		case *http2.HeadersFrame:
			fields, err := c.hpackDec.DecodeFull(f.HeaderBlockFragment())
			if err != nil {
				c.fail(err)
				return err
			}
			if isTrailerBlock(fields) {
				c.streamsMu.Lock()
				s := c.streams[f.StreamID]
				c.streamsMu.Unlock()
				if s != nil {
					_, h := pseudoHeaders(fields)
					s.deliverTrailers(h)
					if f.StreamEnded() {
						s.mu.Lock()
						s.state = streamHalfClosedRemote
						s.mu.Unlock()
					}
				}
				continue
			}
			head, _ := pseudoHeaders(fields)

			c.streamsMu.Lock()
			existing := c.streams[f.StreamID]
			c.streamsMu.Unlock()

			if existing != nil {
				// A response head for a stream the client already opened.
				existing.deliverHead(head)
				if f.StreamEnded() {
					existing.endNoTrailers()
				}
				continue
			}

			if head.Protocol != "" && !c.cfg.EnableConnectProtocol {
				c.sendRSTStream(f.StreamID, http2.ErrCodeRefusedStream)
				continue
			}

			s := newStream(f.StreamID, c, int32(c.cfg.InitialStreamWindow))
			c.streamsMu.Lock()
			c.streams[f.StreamID] = s
			c.streamsMu.Unlock()
			c.ping.StreamOpened()
			if f.StreamEnded() {
				s.endNoTrailers()
			}
			if onHead != nil {
				onHead(s, head)
			}

		case *http2.DataFrame:
			c.streamsMu.Lock()
			s := c.streams[f.StreamID]
			c.streamsMu.Unlock()
			if s == nil {
				continue
			}
			payload := append([]byte(nil), f.Data()...)
			s.deliverData(payload, f.StreamEnded())
			if f.StreamEnded() {
				s.endNoTrailers()
			}

		case *http2.WindowUpdateFrame:
			if f.StreamID == 0 {
				c.connSendMu.Lock()
				c.connSendWindow += int32(f.Increment)
				c.connSendMu.Unlock()
				select {
				case c.connSendCond <- struct{}{}:
				default:
				}
				continue
			}
			c.streamsMu.Lock()
			s := c.streams[f.StreamID]
			c.streamsMu.Unlock()
			if s != nil {
				s.creditSendWindow(int32(f.Increment))
			}

		case *http2.SettingsFrame:
			if f.IsAck() {
				continue
			}
			f.ForeachSetting(func(s http2.Setting) error {
				switch s.ID {
				case http2.SettingMaxFrameSize:
					c.peerMaxFrameSize = s.Val
				case settingEnableConnectProtocol:
					c.peerConnectProtocol.Store(s.Val == 1)
				}
				return nil
			})
			c.writeMu.Lock()
			err := c.framer.WriteSettingsAck()
			c.writeMu.Unlock()
			if err != nil {
				c.fail(err)
				return err
			}

		case *http2.PingFrame:
			if f.IsAck() {
				if newWindow, grow := c.ping.OnPong(time.Now(), payloadToUint64(f.Data)); grow {
					if err := c.growConnRecvWindow(newWindow); err != nil {
						c.fail(err)
						return err
					}
				}
				continue
			}
			if err := c.sendPong(f.Data); err != nil {
				c.fail(err)
				return err
			}

		case *http2.RSTStreamFrame:
			c.streamsMu.Lock()
			s := c.streams[f.StreamID]
			delete(c.streams, f.StreamID)
			c.streamsMu.Unlock()
			if s != nil {
				c.ping.StreamClosed()
				s.abort(errs.NewCanceled("h2: stream reset by peer (%s)", f.ErrCode))
			}

		case *http2.GoAwayFrame:
			c.fail(errs.NewCanceled("h2: received GOAWAY (%s)", f.ErrCode))
			return c.closeErr

		default:
			// Unhandled frame types (PRIORITY, PUSH_PROMISE, CONTINUATION
			// handled inline by the framer) are ignored.
		}

		select {
		case <-ctx.Done():
			c.fail(ctx.Err())
			return ctx.Err()
		default:
		}
	}
}

func payloadToUint64(p [8]byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(p[i])
	}
	return v
}

// writeHead encodes head's pseudo-headers plus regular fields and writes a
// HEADERS frame for streamID, split across CONTINUATION frames if the
// caller's hpack buffer exceeds peerMaxFrameSize.
func (c *Conn) writeHead(streamID uint32, head Head, endStream bool) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.Role == RoleClient {
		c.hpackEnc.WriteField(hpack.HeaderField{Name: ":method", Value: head.Method})
		c.hpackEnc.WriteField(hpack.HeaderField{Name: ":scheme", Value: head.Scheme})
		c.hpackEnc.WriteField(hpack.HeaderField{Name: ":authority", Value: head.Authority})
		c.hpackEnc.WriteField(hpack.HeaderField{Name: ":path", Value: head.Path})
		if head.Protocol != "" && c.cfg.EnableConnectProtocol && c.peerConnectProtocol.Load() {
			c.hpackEnc.WriteField(hpack.HeaderField{Name: ":protocol", Value: head.Protocol})
		}
	} else {
		c.hpackEnc.WriteField(hpack.HeaderField{Name: ":status", Value: itoa(head.StatusCode)})
	}
	for k, vals := range head.Header {
		for _, v := range vals {
			c.hpackEnc.WriteField(hpack.HeaderField{Name: k, Value: v})
		}
	}

	block := c.hpackBuf.reset()
	return c.writeHeaderBlock(streamID, block, endStream)
}

func (c *Conn) writeTrailers(streamID uint32, h httpx.Header) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for k, vals := range h {
		for _, v := range vals {
			c.hpackEnc.WriteField(hpack.HeaderField{Name: k, Value: v})
		}
	}
	block := c.hpackBuf.reset()
	return c.writeHeaderBlock(streamID, block, true)
}

// writeHeaderBlock must be called with writeMu held.
func (c *Conn) writeHeaderBlock(streamID uint32, block []byte, endStream bool) error {
	max := int(c.peerMaxFrameSize)
	first := block
	rest := []byte(nil)
	if len(first) > max {
		rest = first[max:]
		first = first[:max]
	}
	if err := c.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: first,
		EndHeaders:    rest == nil,
		EndStream:     endStream,
	}); err != nil {
		return err
	}
	for len(rest) > 0 {
		chunk := rest
		last := true
		if len(chunk) > max {
			chunk = chunk[:max]
			last = false
		}
		if err := c.framer.WriteContinuation(streamID, last, chunk); err != nil {
			return err
		}
		rest = rest[len(chunk):]
	}
	return nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// writeData writes chunk for streamID as one or more DATA frames, blocking
// on both the stream's and the connection's send windows as needed.
func (c *Conn) writeData(ctx context.Context, s *stream, chunk []byte, endStream bool) error {
	for len(chunk) > 0 {
		if err := s.awaitSendWindow(ctx); err != nil {
			return err
		}
		if err := c.awaitConnSendWindow(ctx); err != nil {
			return err
		}
		n := s.maxSendChunk(len(chunk), int(c.peerMaxFrameSize))
		if n <= 0 {
			continue
		}
		write := chunk[:n]
		last := endStream && len(chunk) == n

		c.writeMu.Lock()
		err := c.framer.WriteData(s.id, last, write)
		c.writeMu.Unlock()
		if err != nil {
			return err
		}
		s.debitSendWindow(int32(n))
		c.connSendMu.Lock()
		c.connSendWindow -= int32(n)
		c.connSendMu.Unlock()
		chunk = chunk[n:]
	}
	if endStream && len(chunk) == 0 {
		return c.writeEmptyEndStream(s)
	}
	return nil
}

func (c *Conn) writeEmptyEndStream(s *stream) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.framer.WriteData(s.id, true, nil)
}

func (c *Conn) awaitConnSendWindow(ctx context.Context) error {
	for {
		c.connSendMu.Lock()
		ok := c.connSendWindow > 0
		c.connSendMu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-c.connSendCond:
			continue
		case <-c.closed:
			return c.closeErr
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pumpResponseBody writes b's frames to streamID until end-of-stream,
// finishing with a trailing HEADERS frame when trailers were sent and a
// zero-length END_STREAM DATA frame otherwise.
func (c *Conn) pumpResponseBody(ctx context.Context, s *stream, b body.Body) error {
	for {
		frame, ok, err := b.PollFrame(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return c.writeData(ctx, s, nil, true)
		}
		switch frame.Kind {
		case body.FrameData:
			if err := c.writeData(ctx, s, frame.Data, false); err != nil {
				return err
			}
		case body.FrameTrailers:
			return c.writeTrailers(s.id, frame.Trailers)
		}
	}
}

// ServeConn drives conn as a server connection: for each incoming request
// stream, spawns a task (via exec, falling back to an inline goroutine)
// that calls svc and writes its response.
func ServeConn(ctx context.Context, conn *Conn, svc Service) error {
	return conn.readLoop(ctx, func(s *stream, head Head) {
		run := func(ctx context.Context) {
			reqBody := s.responseBody(requestLengthHint(head.Header))
			resp, err := svc.Call(ctx, Message{Head: head, Body: reqBody})
			if err != nil {
				conn.sendRSTStream(s.id, http2.ErrCodeInternal)
				return
			}
			if err := conn.writeHead(s.id, resp.Head, resp.Body.IsEndStream()); err != nil {
				return
			}
			if resp.Body.IsEndStream() {
				return
			}
			conn.pumpResponseBody(ctx, s, resp.Body)
		}
		if conn.exec != nil {
			conn.exec.Execute(run)
		} else {
			go run(ctx)
		}
	})
}

func requestLengthHint(h httpx.Header) body.SizeHint {
	if cl := h.Get("Content-Length"); cl != "" {
		n := int64(0)
		for _, r := range cl {
			if r < '0' || r > '9' {
				return body.Unknown()
			}
			n = n*10 + int64(r-'0')
		}
		return body.Exact(uint64(n))
	}
	return body.Unknown()
}

// ClientRequest is one outbound request queued for a client connection.
type ClientRequest struct {
	Head Head
	Body body.Body
}

// ClientResponse is delivered once the response HEADERS frame has been
// decoded; Body streams independently as the read loop keeps running.
type ClientResponse struct {
	Head Head
	Body body.Body
}

// RunClient drives conn as a client connection, pulling queued requests
// from recv, opening a new client-initiated stream per request, and
// resolving each request's callback once the response head arrives.
func RunClient(ctx context.Context, conn *Conn, recv *dispatch.Receiver[ClientRequest, ClientResponse]) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readErr := make(chan error, 1)
	go func() {
		err := conn.readLoop(ctx, nil)
		readErr <- err
		cancel()
	}()

	for {
		env, err := recv.PollRecv(ctx)
		if err != nil {
			select {
			case rerr := <-readErr:
				return rerr
			default:
				return err
			}
		}
		if env == nil {
			return nil
		}

		id := atomic.AddUint32(&conn.nextClientID, 2) - 2
		s := newStream(id, conn, int32(conn.cfg.InitialStreamWindow))
		conn.streamsMu.Lock()
		conn.streams[id] = s
		conn.streamsMu.Unlock()
		conn.ping.StreamOpened()

		endStream := env.Request.Body.IsEndStream()
		if err := conn.writeHead(id, env.Request.Head, endStream); err != nil {
			env.Callback <- dispatch.Result[ClientResponse]{Err: err}
			continue
		}
		if !endStream {
			if err := conn.pumpResponseBody(ctx, s, env.Request.Body); err != nil {
				env.Callback <- dispatch.Result[ClientResponse]{Err: err}
				continue
			}
		}

		head, err := s.awaitResponseHead(ctx)
		if err != nil {
			env.Callback <- dispatch.Result[ClientResponse]{Err: err}
			continue
		}
		env.Callback <- dispatch.Result[ClientResponse]{
			Value: ClientResponse{Head: head, Body: s.responseBody(requestLengthHint(head.Header))},
		}
	}
}
