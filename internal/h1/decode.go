// Package h1 implements the HTTP/1.x wire protocol: decoders and encoders
// for the three transfer framings, request-line/status-line/header
// parsing and serialization, the per-connection state machine, and the
// dispatcher that drives it, all built on the poll-based BufferedIO model
// the rest of the engine uses rather than blocking io.Reader/io.Writer.
package h1

import (
	"context"
	"errors"
	"io"

	"github.com/andycostintoma/engine/internal/errs"
	"github.com/andycostintoma/engine/internal/netx"
)

// Decoder turns raw bytes pulled from a netx.BufferedIO into body frames.
// Decode returns the next available chunk (possibly empty), whether the
// body has reached end-of-stream, and any error.
type Decoder interface {
	Decode(ctx context.Context, bio *netx.BufferedIO) (chunk []byte, eof bool, err error)
}

// NewDecoder builds the decoder matching a BodyLength.
func NewDecoder(length BodyLength) Decoder {
	switch length.Kind {
	case LengthChunked:
		return newChunkedDecoder()
	case LengthClose:
		return &eofDecoder{}
	default:
		return &lengthDecoder{remaining: length.N}
	}
}

// -----------------------------------------------------------------------
// Length(n) decoder
// -----------------------------------------------------------------------

type lengthDecoder struct {
	remaining int64
}

func (d *lengthDecoder) Decode(ctx context.Context, bio *netx.BufferedIO) ([]byte, bool, error) {
	if d.remaining == 0 {
		return nil, true, nil
	}
	max := d.remaining
	if max > 64<<10 {
		max = 64 << 10
	}
	chunk, err := bio.ReadMem(ctx, int(max))
	if err != nil {
		if d.remaining > 0 && errors.Is(err, io.EOF) {
			return nil, false, errs.Wrap(errs.ErrUnexpectedEOF, "h1: length body closed early")
		}
		return nil, false, err
	}
	if len(chunk) == 0 {
		return nil, false, errs.Wrap(errs.ErrUnexpectedEOF, "h1: length body closed early")
	}
	d.remaining -= int64(len(chunk))
	return chunk, d.remaining == 0, nil
}

// -----------------------------------------------------------------------
// Chunked decoder: 10-state machine walking size, extension, body, and
// terminator bytes one at a time off the shared read buffer.
// -----------------------------------------------------------------------

type chunkState int

const (
	stSize chunkState = iota
	stSizeLWS
	stExtension
	stSizeLF
	stBody
	stBodyCR
	stBodyLF
	stEndCR
	stEndLF
	stEnd
)

type chunkedDecoder struct {
	state   chunkState
	sizeBuf []byte
	remain  int64
}

func newChunkedDecoder() *chunkedDecoder { return &chunkedDecoder{state: stSize} }

func (d *chunkedDecoder) Decode(ctx context.Context, bio *netx.BufferedIO) ([]byte, bool, error) {
	for {
		switch d.state {
		case stEnd:
			return nil, true, nil

		case stSize, stSizeLWS, stExtension, stSizeLF:
			b, err := d.readByte(ctx, bio)
			if err != nil {
				return nil, false, err
			}
			if err := d.stepSize(b); err != nil {
				return nil, false, err
			}
			continue

		case stBody:
			if d.remain == 0 {
				d.state = stBodyCR
				continue
			}
			max := d.remain
			if max > 64<<10 {
				max = 64 << 10
			}
			chunk, err := bio.ReadMem(ctx, int(max))
			if err != nil {
				return nil, false, err
			}
			if len(chunk) == 0 {
				return nil, false, errs.Wrap(errs.ErrUnexpectedEOF, "h1: chunked body closed mid-chunk")
			}
			d.remain -= int64(len(chunk))
			return chunk, false, nil

		case stBodyCR, stBodyLF, stEndCR, stEndLF:
			b, err := d.readByte(ctx, bio)
			if err != nil {
				return nil, false, err
			}
			if err := d.stepCRLF(b); err != nil {
				return nil, false, err
			}
			continue

		default:
			return nil, false, errs.NewParseError(errs.ParseMalformedLine, "h1: invalid chunk decoder state %d", d.state)
		}
	}
}

func (d *chunkedDecoder) readByte(ctx context.Context, bio *netx.BufferedIO) (byte, error) {
	b, err := bio.ReadMem(ctx, 1)
	if err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, errs.Wrap(errs.ErrUnexpectedEOF, "h1: chunked body closed mid-header")
	}
	return b[0], nil
}

func (d *chunkedDecoder) stepSize(b byte) error {
	switch d.state {
	case stSize:
		switch {
		case isHex(b):
			d.sizeBuf = append(d.sizeBuf, b)
			return nil
		case b == ' ' || b == '\t':
			d.state = stSizeLWS
			return nil
		case b == ';':
			d.state = stExtension
			return nil
		case b == '\r':
			d.state = stSizeLF
			return nil
		default:
			return errs.NewParseError(errs.ParseMalformedLine, "h1: invalid chunk size byte %q", b)
		}
	case stSizeLWS:
		switch {
		case b == ' ' || b == '\t':
			return nil
		case b == ';':
			d.state = stExtension
			return nil
		case b == '\r':
			d.state = stSizeLF
			return nil
		default:
			return errs.NewParseError(errs.ParseMalformedLine, "h1: invalid byte after chunk size %q", b)
		}
	case stExtension:
		if b == '\r' {
			d.state = stSizeLF
		}
		return nil
	case stSizeLF:
		if b != '\n' {
			return errs.NewParseError(errs.ParseMalformedLine, "h1: expected LF after chunk size CR")
		}
		n, err := parseHexSize(d.sizeBuf)
		if err != nil {
			return err
		}
		d.sizeBuf = d.sizeBuf[:0]
		if n == 0 {
			d.state = stEndCR
			return nil
		}
		d.remain = n
		d.state = stBody
		return nil
	}
	return nil
}

func (d *chunkedDecoder) stepCRLF(b byte) error {
	switch d.state {
	case stBodyCR:
		if b != '\r' {
			return errs.NewParseError(errs.ParseMalformedLine, "h1: expected CR after chunk data")
		}
		d.state = stBodyLF
		return nil
	case stBodyLF:
		if b != '\n' {
			return errs.NewParseError(errs.ParseMalformedLine, "h1: expected LF after chunk data CR")
		}
		d.state = stSize
		return nil
	case stEndCR:
		// Trailer fields are not parsed on the decode path: this decoder
		// only recognizes the bare "0\r\n\r\n" terminator and rejects
		// anything else after the last chunk as a parse error.
		if b != '\r' {
			return errs.NewParseError(errs.ParseMalformedLine, "h1: chunked trailers unsupported on decode path")
		}
		d.state = stEndLF
		return nil
	case stEndLF:
		if b != '\n' {
			return errs.NewParseError(errs.ParseMalformedLine, "h1: expected LF terminating chunked body")
		}
		d.state = stEnd
		return nil
	}
	return nil
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func parseHexSize(buf []byte) (int64, error) {
	if len(buf) == 0 {
		return 0, errs.NewParseError(errs.ParseMalformedLine, "h1: empty chunk size")
	}
	var n int64
	for _, c := range buf {
		n <<= 4
		switch {
		case c >= '0' && c <= '9':
			n |= int64(c - '0')
		case c >= 'a' && c <= 'f':
			n |= int64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			n |= int64(c-'A') + 10
		default:
			return 0, errs.NewParseError(errs.ParseMalformedLine, "h1: invalid hex digit %q", c)
		}
	}
	return n, nil
}

// -----------------------------------------------------------------------
// EOF-delimited decoder
// -----------------------------------------------------------------------

type eofDecoder struct {
	done bool
}

func (d *eofDecoder) Decode(ctx context.Context, bio *netx.BufferedIO) ([]byte, bool, error) {
	if d.done {
		return nil, true, nil
	}
	chunk, err := bio.ReadMem(ctx, 64<<10)
	if err != nil {
		if errors.Is(err, io.EOF) {
			d.done = true
			return nil, true, nil
		}
		return nil, false, err
	}
	if len(chunk) == 0 {
		d.done = true
		return nil, true, nil
	}
	return chunk, false, nil
}
