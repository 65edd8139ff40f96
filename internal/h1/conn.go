package h1

import (
	"context"
	"strings"
	"time"

	"github.com/andycostintoma/engine/internal/errs"
	"github.com/andycostintoma/engine/internal/httpx"
	"github.com/andycostintoma/engine/internal/iox"
	"github.com/andycostintoma/engine/internal/netx"
)

// Role distinguishes which side of the connection this engine drives: the
// server parses requests and writes responses, the client writes requests
// and parses responses.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// Config carries a connection's behavioral knobs.
type Config struct {
	Role Role

	PipelineFlush    bool
	KeepAliveEnabled bool
	HalfCloseEnabled bool

	HeaderReadTimeout time.Duration

	Parser    ParserConfig
	Serialize SerializeConfig

	EnableConnectProtocol bool
}

// ReadState is the read half's sub-state, advanced one message at a time.
type ReadState int

const (
	ReadInit ReadState = iota
	ReadContinue
	ReadBody
	ReadKeepAlive
	ReadClosed
)

// WriteState is the write half's sub-state.
type WriteState int

const (
	WriteInit WriteState = iota
	WriteBody
	WriteKeepAlive
	WriteClosed
)

// Conn drives one HTTP/1.x connection: a read half and a write half, each
// advancing independently through the states above, with pipelining
// permitted between them (the dispatcher may have begun parsing request
// N+1 while response N is still being written).
type Conn struct {
	bio *netx.BufferedIO
	cfg Config

	readState  ReadState
	writeState WriteState

	decoder Decoder
	encoder Encoder

	lastReadHead  Head
	lastWriteHead Head

	// peerMethod is, for a server, the method of the request currently
	// being responded to; for a client, the method of the request that
	// produced the response currently being parsed. DecideResponseBodyLength
	// needs it to frame a response body.
	peerMethod string

	readClosedByEOF bool
}

// NewConn wraps bio as an HTTP/1.x connection driven according to cfg.
func NewConn(bio *netx.BufferedIO, cfg Config) *Conn {
	return &Conn{bio: bio, cfg: cfg}
}

func (c *Conn) ReadState() ReadState   { return c.readState }
func (c *Conn) WriteState() WriteState { return c.writeState }

// ReadHead parses the next message head, deciding its body framing and,
// for a server connection that received "Expect: 100-continue", entering
// ReadContinue instead of ReadBody so the dispatcher can ask the service
// whether it wants the body before an interim response is sent.
func (c *Conn) ReadHead(ctx context.Context) (Head, error) {
	if c.readState != ReadInit {
		return Head{}, errs.NewCanceled("h1: ReadHead called outside ReadInit")
	}

	if c.cfg.HeaderReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.HeaderReadTimeout)
		defer cancel()
	}

	c.bio.ConsumeLeadingLines()

	var head Head
	var err error
	if c.cfg.Role == RoleServer {
		head, err = netx.Parse(ctx, c.bio, func(buf []byte) (Head, int, error) {
			return ParseRequestHead(buf, c.cfg.Parser)
		})
	} else {
		head, err = netx.Parse(ctx, c.bio, func(buf []byte) (Head, int, error) {
			return ParseResponseHead(buf, c.cfg.Parser)
		})
	}
	if err != nil {
		c.readState = ReadClosed
		if ctx.Err() == context.DeadlineExceeded {
			return Head{}, errs.NewCanceled("h1: header read timed out")
		}
		return Head{}, err
	}

	var length BodyLength
	if c.cfg.Role == RoleServer {
		length, err = DecideRequestBodyLength(head.Header)
		if err == nil {
			c.peerMethod = head.Method
		}
	} else {
		length, err = DecideResponseBodyLength(c.peerMethod, head.StatusCode, head.Header)
	}
	if err != nil {
		c.readState = ReadClosed
		return Head{}, err
	}

	c.lastReadHead = head
	c.decoder = NewDecoder(length)

	if c.cfg.Role == RoleServer && hasExpect100Continue(head.Header) {
		c.readState = ReadContinue
	} else {
		c.readState = ReadBody
	}
	return head, nil
}

func hasExpect100Continue(h httpx.Header) bool {
	return strings.EqualFold(strings.TrimSpace(h.Get("Expect")), "100-continue")
}

// AwaitingContinue reports whether the read half is parked in ReadContinue,
// waiting for the dispatcher's ConfirmContinue or SkipContinue.
func (c *Conn) AwaitingContinue() bool { return c.readState == ReadContinue }

// ConfirmContinue queues the "100 Continue" interim response and transitions
// the read half to ReadBody. Call once the service has signaled it is ready
// to read the request body.
func (c *Conn) ConfirmContinue() error {
	if c.readState != ReadContinue {
		return errs.NewCanceled("h1: ConfirmContinue called outside ReadContinue")
	}
	c.bio.QueueWrite([]byte("HTTP/1.1 100 Continue\r\n\r\n"))
	c.readState = ReadBody
	return nil
}

// SkipContinue transitions straight to ReadBody without sending an interim
// response, for when the service produced a final response instead of
// asking for the body.
func (c *Conn) SkipContinue() error {
	if c.readState != ReadContinue {
		return errs.NewCanceled("h1: SkipContinue called outside ReadContinue")
	}
	c.readState = ReadBody
	return nil
}

// ReadBodyChunk pulls the next chunk of the current message's body. On
// end-of-stream it advances to ReadKeepAlive; on error, to ReadClosed
// (unless half-close is enabled and the error is a clean transport EOF, in
// which case the read side closes without failing the connection).
func (c *Conn) ReadBodyChunk(ctx context.Context) ([]byte, bool, error) {
	if c.readState != ReadBody {
		return nil, false, errs.NewCanceled("h1: ReadBodyChunk called outside ReadBody")
	}
	chunk, eof, err := c.decoder.Decode(ctx, c.bio)
	if err != nil {
		if c.cfg.HalfCloseEnabled && errs.IsUnexpectedEOF(err) {
			c.readState = ReadClosed
			c.readClosedByEOF = true
			return nil, true, nil
		}
		c.readState = ReadClosed
		return nil, false, err
	}
	if eof {
		c.readState = ReadKeepAlive
	}
	return chunk, eof, nil
}

// WriteHead serializes head (auto-filling Content-Length or
// Transfer-Encoding from length) and begins the write half's Body state.
func (c *Conn) WriteHead(head Head, length BodyLength) error {
	if c.writeState != WriteInit {
		return errs.NewCanceled("h1: WriteHead called outside WriteInit")
	}

	var exact *uint64
	if length.Kind == LengthFixed {
		n := uint64(length.N)
		exact = &n
	}
	forbids := head.Subject == SubjectResponse && ForbidsBody(head.StatusCode)
	FillContentLengthOrChunked(head.Header, exact, forbids)

	switch head.Subject {
	case SubjectRequest:
		SerializeRequestHead(c.bio, head.Method, head.RequestURI, head.ProtoMajor, head.ProtoMinor, head.Header, head.RawHeaderNames, c.cfg.Serialize)
		c.peerMethod = head.Method
	default:
		SerializeResponseHead(c.bio, head.ProtoMajor, head.ProtoMinor, head.StatusCode, head.Reason, head.Header, head.RawHeaderNames, c.cfg.Serialize)
	}

	c.lastWriteHead = head
	if forbids {
		c.encoder = nil
	} else {
		c.encoder = NewEncoder(length, trailerFieldSet(head.Header.Values("Trailer")))
	}
	c.writeState = WriteBody
	return nil
}

// WriteBodyChunk encodes one chunk of the outgoing body.
func (c *Conn) WriteBodyChunk(chunk []byte) error {
	if c.writeState != WriteBody {
		return errs.NewCanceled("h1: WriteBodyChunk called outside WriteBody")
	}
	if c.encoder == nil {
		return nil
	}
	return c.encoder.Encode(c.bio, chunk)
}

// WriteTrailers encodes a trailers frame (chunked framing only; a no-op
// terminator otherwise) and advances to WriteKeepAlive.
func (c *Conn) WriteTrailers(h httpx.Header) error {
	if c.writeState != WriteBody {
		return errs.NewCanceled("h1: WriteTrailers called outside WriteBody")
	}
	if ce, ok := c.encoder.(*chunkedEncoder); ok {
		if err := ce.EncodeTrailers(c.bio, h); err != nil {
			c.writeState = WriteClosed
			return err
		}
	} else if c.encoder != nil {
		if err := c.encoder.End(c.bio); err != nil {
			c.writeState = WriteClosed
			return err
		}
	}
	c.writeState = WriteKeepAlive
	return nil
}

// EndWrite closes the outgoing body with no trailers and advances to
// WriteKeepAlive.
func (c *Conn) EndWrite() error {
	if c.writeState != WriteBody {
		return errs.NewCanceled("h1: EndWrite called outside WriteBody")
	}
	if c.encoder != nil {
		if err := c.encoder.End(c.bio); err != nil {
			c.writeState = WriteClosed
			return err
		}
	}
	c.writeState = WriteKeepAlive
	return nil
}

// Flush drains the write buffer to the transport.
func (c *Conn) Flush(ctx context.Context) error {
	return c.bio.Flush(ctx)
}

// ShouldDeferFlush reports whether the caller may skip flushing a just-
// written response: PipelineFlush is enabled and the peer has already
// pipelined its next request onto the wire, so that request's own flush
// (or, failing that, the final flush before the connection closes) carries
// this response out too, saving a syscall.
func (c *Conn) ShouldDeferFlush() bool {
	return c.cfg.PipelineFlush && len(c.bio.Pending()) > 0
}

// ResolveKeepAlive is called once both halves reach KeepAlive for a
// message. It decides persistence from both heads' Connection headers and
// protocol versions, resetting both halves to Init when the connection
// continues or marking them Closed otherwise.
func (c *Conn) ResolveKeepAlive() bool {
	if c.readState != ReadKeepAlive || c.writeState != WriteKeepAlive {
		return false
	}
	persist := c.cfg.KeepAliveEnabled &&
		connectionPersists(c.lastReadHead.Header, c.lastReadHead.ProtoMajor, c.lastReadHead.ProtoMinor) &&
		connectionPersists(c.lastWriteHead.Header, c.lastWriteHead.ProtoMajor, c.lastWriteHead.ProtoMinor)

	if persist {
		c.readState = ReadInit
		c.writeState = WriteInit
		c.decoder = nil
		c.encoder = nil
	} else {
		c.readState = ReadClosed
		c.writeState = WriteClosed
	}
	return persist
}

func connectionPersists(h httpx.Header, major, minor int) bool {
	conn := strings.ToLower(h.Get("Connection"))
	tokens := strings.Split(conn, ",")
	has := func(tok string) bool {
		for _, t := range tokens {
			if strings.TrimSpace(t) == tok {
				return true
			}
		}
		return false
	}
	if has("close") {
		return false
	}
	if major == 1 && minor == 0 {
		return has("keep-alive")
	}
	return true
}

func trailerFieldSet(fields []string) map[string]struct{} {
	if len(fields) == 0 {
		return nil
	}
	set := make(map[string]struct{})
	for _, f := range fields {
		for _, name := range strings.Split(f, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				set[httpx.CanonicalHeaderKey(name)] = struct{}{}
			}
		}
	}
	return set
}

// ForbidsBody reports whether a response with this status code must never
// carry a body, regardless of what headers are attached.
func ForbidsBody(status int) bool {
	if status >= 100 && status < 200 {
		return true
	}
	return status == 204 || status == 304
}

// IsUpgradeRequest reports whether a request head carries upgrade
// semantics: an Upgrade header with Connection: upgrade, or CONNECT.
func IsUpgradeRequest(head Head) bool {
	if head.Subject != SubjectRequest {
		return false
	}
	if strings.EqualFold(head.Method, "CONNECT") {
		return true
	}
	if head.Header.Get("Upgrade") == "" {
		return false
	}
	return connectionHasToken(head.Header, "upgrade")
}

// IsUpgradeResponse reports whether a response head completes an upgrade:
// 101 Switching Protocols, or a 2xx reply to CONNECT.
func IsUpgradeResponse(head Head, requestMethod string) bool {
	if head.Subject != SubjectResponse {
		return false
	}
	if head.StatusCode == 101 {
		return true
	}
	return strings.EqualFold(requestMethod, "CONNECT") && head.StatusCode >= 200 && head.StatusCode < 300
}

func connectionHasToken(h httpx.Header, tok string) bool {
	for _, v := range h.Values("Connection") {
		for _, t := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(t), tok) {
				return true
			}
		}
	}
	return false
}

// TakeUpgrade detaches the connection's transport and any leftover buffered
// bytes for handoff to the tunneled protocol, once the upgrade response has
// been written and flushed. The Conn must not be used afterward.
func (c *Conn) TakeUpgrade() (iox.Transport, []byte) {
	c.readState = ReadClosed
	c.writeState = WriteClosed
	return c.bio.Release()
}
