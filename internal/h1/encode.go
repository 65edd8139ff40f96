package h1

import (
	"strconv"

	"github.com/andycostintoma/engine/internal/errs"
	"github.com/andycostintoma/engine/internal/httpx"
	"github.com/andycostintoma/engine/internal/netx"
)

// Encoder writes body chunks to a netx.BufferedIO's write buffer in one of
// three transfer framings: fixed length, chunked, or close-delimited.
type Encoder interface {
	Encode(bio *netx.BufferedIO, chunk []byte) error
	End(bio *netx.BufferedIO) error
	IsEOF() bool
}

// NewEncoder builds the encoder matching a BodyLength.
func NewEncoder(length BodyLength, trailerFields map[string]struct{}) Encoder {
	switch length.Kind {
	case LengthChunked:
		return &chunkedEncoder{trailerFields: trailerFields}
	case LengthClose:
		return &closeDelimitedEncoder{}
	default:
		return &lengthEncoder{remaining: length.N}
	}
}

// -----------------------------------------------------------------------
// Length(n) encoder
// -----------------------------------------------------------------------

type lengthEncoder struct {
	remaining int64
}

func (e *lengthEncoder) Encode(bio *netx.BufferedIO, chunk []byte) error {
	n := int64(len(chunk))
	if n > e.remaining {
		n = e.remaining
	}
	if n > 0 {
		bio.QueueWrite(chunk[:n])
		e.remaining -= n
	}
	return nil
}

func (e *lengthEncoder) End(bio *netx.BufferedIO) error {
	if e.remaining > 0 {
		return errs.ErrNotEOF
	}
	return nil
}

func (e *lengthEncoder) IsEOF() bool { return e.remaining == 0 }

// -----------------------------------------------------------------------
// Chunked encoder
// -----------------------------------------------------------------------

type chunkedEncoder struct {
	trailerFields map[string]struct{}
	ended         bool
}

func (e *chunkedEncoder) Encode(bio *netx.BufferedIO, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	bio.QueueWrite([]byte(strconv.FormatInt(int64(len(chunk)), 16)))
	bio.QueueWrite(crlf)
	bio.QueueWrite(chunk)
	bio.QueueWrite(crlf)
	return nil
}

func (e *chunkedEncoder) End(bio *netx.BufferedIO) error {
	if e.ended {
		return nil
	}
	e.ended = true
	bio.QueueWrite(zeroChunkCRLFCRLF)
	return nil
}

// EncodeTrailers emits "0 CRLF <fields> CRLF", restricted to header names
// declared in the Trailer list and outside the hop-by-hop blacklist.
func (e *chunkedEncoder) EncodeTrailers(bio *netx.BufferedIO, h httpx.Header) error {
	if e.ended {
		return nil
	}
	e.ended = true
	bio.QueueWrite(zeroChunkCRLF)
	for name, vals := range h {
		if _, blacklisted := trailerBlacklist[name]; blacklisted {
			continue
		}
		if _, declared := e.trailerFields[name]; !declared {
			continue
		}
		for _, v := range vals {
			bio.QueueWrite([]byte(name))
			bio.QueueWrite([]byte(": "))
			bio.QueueWrite([]byte(v))
			bio.QueueWrite(crlf)
		}
	}
	bio.QueueWrite(crlf)
	return nil
}

func (e *chunkedEncoder) IsEOF() bool { return e.ended }

var (
	crlf              = []byte("\r\n")
	zeroChunkCRLF     = []byte("0\r\n")
	zeroChunkCRLFCRLF = []byte("0\r\n\r\n")
)

// -----------------------------------------------------------------------
// Close-delimited encoder (server-only)
// -----------------------------------------------------------------------

type closeDelimitedEncoder struct{}

func (closeDelimitedEncoder) Encode(bio *netx.BufferedIO, chunk []byte) error {
	if len(chunk) > 0 {
		bio.QueueWrite(chunk)
	}
	return nil
}

func (closeDelimitedEncoder) End(*netx.BufferedIO) error { return nil }
func (closeDelimitedEncoder) IsEOF() bool                { return false }

// EncodeAndEnd encodes a body whose full contents are known up front and
// ends it in one call: body + terminator instead of per-chunk framing
// overhead. No code in this module calls it; the dispatcher encodes frame
// by frame.
func EncodeAndEnd(bio *netx.BufferedIO, enc Encoder, full []byte) error {
	if err := enc.Encode(bio, full); err != nil {
		return err
	}
	return enc.End(bio)
}
