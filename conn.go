package engine

import (
	"context"
	"io"

	"github.com/google/uuid"
	"golang.org/x/net/http2"
	"go.uber.org/zap"

	"github.com/andycostintoma/engine/internal/dispatch"
	"github.com/andycostintoma/engine/internal/h1"
	"github.com/andycostintoma/engine/internal/h2"
	"github.com/andycostintoma/engine/internal/logging"
	"github.com/andycostintoma/engine/internal/netx"
)

// connLogger returns cfg's logger (or a no-op one) tagged with a freshly
// generated connection ID, so every lifecycle line for one connection can
// be correlated in aggregate log output.
func connLogger(cfg Config) (*logging.Logger, string) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	id := uuid.NewString()
	return logger.With(zap.String("conn_id", id)), id
}

func toH1Config(cfg Config) h1.Config {
	return h1.Config{
		Role:                  h1.RoleServer,
		PipelineFlush:         cfg.PipelineFlush,
		KeepAliveEnabled:      cfg.KeepAlive,
		HalfCloseEnabled:      cfg.HalfClose,
		HeaderReadTimeout:     cfg.HeaderReadTimeout,
		EnableConnectProtocol: cfg.EnableConnectProtocol,
		Parser: h1.ParserConfig{
			MaxHeaders:    cfg.MaxHeaders,
			PreserveCase:  cfg.PreserveHeaderCase,
			PreserveOrder: cfg.PreserveHeaderOrder,
			AllowHTTP09:   cfg.HTTP09Responses,
		},
		Serialize: h1.SerializeConfig{
			TitleCaseHeaders: cfg.TitleCaseHeaders,
			PreserveCase:     cfg.PreserveHeaderCase,
			AutoDateHeader:   cfg.AutoDateHeader,
		},
	}
}

func toH2Config(cfg Config) h2.Config {
	return h2.Config{
		Role:                  h2.RoleServer,
		MaxConcurrentStreams:  cfg.MaxConcurrentStreams,
		InitialStreamWindow:   cfg.InitialStreamWindowSize,
		MaxFrameSize:          cfg.MaxFrameSize,
		EnableConnectProtocol: cfg.EnableConnectProtocol,
		Ping: h2.PingConfig{
			KeepAliveInterval:  cfg.KeepAliveInterval,
			KeepAliveTimeout:   cfg.KeepAliveTimeout,
			KeepAliveWhileIdle: true,
			BDPEnabled:         true,
			InitialConnWindow:  cfg.InitialConnectionWindowSize,
			MaxConnWindow:      cfg.InitialConnectionWindowSize * 256,
		},
	}
}

// ServeConn drives t as a server connection, auto-detecting HTTP/1.1 vs.
// HTTP/2 from the first bytes on the wire (the fixed HTTP/2 connection
// preface vs. anything else) and dispatching every request to svc.
func ServeConn(ctx context.Context, t Transport, cfg Config, timer Timer, exec Executor, svc Service) error {
	logger, _ := connLogger(cfg)
	logger.Debug("connection established")

	bio := netx.New(t, netx.WithMaxBufSize(cfg.MaxBufSize))

	for {
		match, complete := h1.IsH2Preface(bio.Pending())
		if !match {
			break
		}
		if complete {
			bio.Consume(len(h1.H2Preface))
			return serveH2(ctx, bio, t, cfg, timer, exec, svc, logger)
		}
		if _, err := bio.ReadFrom(ctx); err != nil {
			logger.Warn("connection closed before HTTP/2 preface completed", zap.Error(err))
			return err
		}
	}

	logger.Debug("serving as HTTP/1.1")
	conn := h1.NewConn(bio, toH1Config(cfg))
	err := h1.ServeConn(ctx, conn, h1Adapter{svc: svc})
	if err != nil {
		logger.Warn("connection ended with error", zap.Error(err))
	} else {
		logger.Debug("connection closed")
	}
	return err
}

func serveH2(ctx context.Context, bio *netx.BufferedIO, t Transport, cfg Config, timer Timer, exec Executor, svc Service, logger *logging.Logger) error {
	logger.Debug("serving as HTTP/2")
	leftover := append([]byte(nil), bio.Pending()...)
	rw := &transportIO{ctx: ctx, t: t, pending: leftover}
	framer := http2.NewFramer(rw, rw)

	conn := h2.NewConn(toH2Config(cfg), framer, timer, exec)
	if err := conn.WriteSettings(); err != nil {
		logger.Warn("failed writing initial SETTINGS", zap.Error(err))
		return err
	}
	err := h2.ServeConn(ctx, conn, h2Adapter{svc: svc})
	if err != nil {
		logger.Warn("connection ended with error", zap.Error(err))
	} else {
		logger.Debug("connection closed")
	}
	return err
}

// transportIO adapts a Transport, plus any bytes already buffered ahead of
// it, into the blocking io.Reader/io.Writer pair golang.org/x/net/http2's
// Framer is built around.
type transportIO struct {
	ctx     context.Context
	t       Transport
	pending []byte
}

func (a *transportIO) Read(p []byte) (int, error) {
	if len(a.pending) > 0 {
		n := copy(p, a.pending)
		a.pending = a.pending[n:]
		return n, nil
	}
	return a.t.ReadContext(a.ctx, p)
}

func (a *transportIO) Write(p []byte) (int, error) {
	n, err := a.t.WriteContext(a.ctx, p)
	if err != nil {
		return n, err
	}
	if err := a.t.Flush(a.ctx); err != nil {
		return n, err
	}
	return n, nil
}

var _ io.ReadWriter = (*transportIO)(nil)

// Client dispatches requests over a single persistent connection, either
// HTTP/1.1 or HTTP/2, to a server. Requests submitted concurrently are
// queued one at a time through the connection's dispatch channel.
type Client struct {
	version int // 1 or 2
	h1c     *dispatch.Sender[h1.ClientRequest, h1.ClientResponse]
	h2c     *dispatch.Sender[h2.ClientRequest, h2.ClientResponse]
}

// DialH1 drives t as an HTTP/1.1 client connection in the background,
// returning a Client whose Do method submits requests to it.
func DialH1(ctx context.Context, t Transport, cfg Config) (*Client, <-chan error) {
	logger, _ := connLogger(cfg)
	logger.Debug("client connection dialed", zap.String("protocol", "h1"))

	bio := netx.New(t, netx.WithMaxBufSize(cfg.MaxBufSize))
	h1cfg := toH1Config(cfg)
	h1cfg.Role = h1.RoleClient
	conn := h1.NewConn(bio, h1cfg)

	sender, recv := dispatch.NewChannel[h1.ClientRequest, h1.ClientResponse]()
	done := make(chan error, 1)
	go func() {
		err := h1.RunClient(ctx, conn, recv)
		if err != nil {
			logger.Warn("client connection ended with error", zap.Error(err))
		} else {
			logger.Debug("client connection closed")
		}
		done <- err
	}()
	return &Client{version: 1, h1c: sender}, done
}

// DialH2 is DialH1's HTTP/2 counterpart; t must already be positioned past
// any negotiation (ALPN or prior-knowledge) and ready for the client
// connection preface.
func DialH2(ctx context.Context, t Transport, cfg Config, timer Timer, exec Executor) (*Client, <-chan error) {
	logger, _ := connLogger(cfg)
	logger.Debug("client connection dialed", zap.String("protocol", "h2"))

	rw := &transportIO{ctx: ctx, t: t}
	if _, err := rw.Write([]byte(h1.H2Preface)); err != nil {
		logger.Warn("failed writing HTTP/2 connection preface", zap.Error(err))
		errCh := make(chan error, 1)
		errCh <- err
		return nil, errCh
	}
	framer := http2.NewFramer(rw, rw)
	h2cfg := toH2Config(cfg)
	h2cfg.Role = h2.RoleClient
	conn := h2.NewConn(h2cfg, framer, timer, exec)

	done := make(chan error, 1)
	if err := conn.WriteSettings(); err != nil {
		logger.Warn("failed writing initial SETTINGS", zap.Error(err))
		done <- err
		return &Client{version: 2}, done
	}

	sender, recv := dispatch.NewChannel[h2.ClientRequest, h2.ClientResponse]()
	go func() {
		err := h2.RunClient(ctx, conn, recv)
		if err != nil {
			logger.Warn("client connection ended with error", zap.Error(err))
		} else {
			logger.Debug("client connection closed")
		}
		done <- err
	}()
	return &Client{version: 2, h2c: sender}, done
}

// Do submits req, blocking until the connection has capacity to accept it,
// then returns the response once its head has been parsed (the response
// body continues streaming independently).
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	switch c.version {
	case 1:
		return c.doH1(ctx, req)
	case 2:
		return c.doH2(ctx, req)
	default:
		panic("engine: Client used before Dial completed")
	}
}

func (c *Client) doH1(ctx context.Context, req *Request) (*Response, error) {
	cb, err := c.awaitSendH1(ctx, req)
	if err != nil {
		return nil, err
	}
	select {
	case result := <-cb:
		if result.Err != nil {
			return nil, result.Err
		}
		return &Response{
			StatusCode: result.Value.Head.StatusCode,
			Reason:     result.Value.Head.Reason,
			Header:     result.Value.Head.Header,
			Body:       result.Value.Body,
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) awaitSendH1(ctx context.Context, req *Request) (<-chan dispatch.Result[h1.ClientResponse], error) {
	h1req := h1.ClientRequest{
		Head: h1.Head{
			Subject:    h1.SubjectRequest,
			Method:     req.Method,
			RequestURI: req.Path,
			ProtoMajor: req.ProtoMajor,
			ProtoMinor: req.ProtoMinor,
			Header:     req.Header,
		},
		Body: req.Body,
	}
	for {
		cb, err := c.h1c.TrySend(h1req)
		if err == nil {
			return cb, nil
		}
		if _, ok := err.(*dispatch.ErrNotReady[h1.ClientRequest]); !ok {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}

func (c *Client) doH2(ctx context.Context, req *Request) (*Response, error) {
	cb, err := c.awaitSendH2(ctx, req)
	if err != nil {
		return nil, err
	}
	select {
	case result := <-cb:
		if result.Err != nil {
			return nil, result.Err
		}
		return &Response{
			StatusCode: result.Value.Head.StatusCode,
			Header:     result.Value.Head.Header,
			Body:       result.Value.Body,
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) awaitSendH2(ctx context.Context, req *Request) (<-chan dispatch.Result[h2.ClientResponse], error) {
	h2req := h2.ClientRequest{
		Head: h2.Head{
			Method:    req.Method,
			Path:      req.Path,
			Scheme:    req.Scheme,
			Authority: req.Authority,
			Header:    req.Header,
		},
		Body: req.Body,
	}
	for {
		cb, err := c.h2c.TrySend(h2req)
		if err == nil {
			return cb, nil
		}
		if _, ok := err.(*dispatch.ErrNotReady[h2.ClientRequest]); !ok {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}

// Close releases the client's dispatch channel, letting the connection's
// driver loop exit once any in-flight request finishes.
func (c *Client) Close() {
	switch c.version {
	case 1:
		c.h1c.Close()
	case 2:
		c.h2c.Close()
	}
}
