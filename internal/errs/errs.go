// Package errs collects the error taxonomy the engine core surfaces.
// Wrapping uses github.com/pkg/errors so that parse/IO failures keep a
// stack trace from the point they were first observed.
package errs

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors. Compare with errors.Is; wrapped instances retain these
// as their cause.
var (
	// ErrTooLarge is returned when a head or buffer exceeds its configured cap.
	ErrTooLarge = errors.New("engine: buffer at capacity")

	// ErrUnexpectedEOF is returned when the transport closes mid-body.
	ErrUnexpectedEOF = errors.New("engine: unexpected EOF in body")

	// ErrWriteZero is returned when a write buffer flush makes no progress.
	ErrWriteZero = errors.New("engine: zero-byte write with non-empty buffer")

	// ErrNotEOF is returned by Encoder.End when the caller under-wrote a
	// Length-delimited body.
	ErrNotEOF = errors.New("engine: encoder ended before declared length was written")

	// ErrBodyWrite covers a peer reset or internal pipe failure while
	// streaming a body.
	ErrBodyWrite = errors.New("engine: body write failed")

	// ErrBodyWriteAborted is returned to a body's reader after its sender
	// called Abort.
	ErrBodyWriteAborted = errors.New("engine: body write aborted")

	// ErrUserService wraps an error returned by the user's Service.Call.
	ErrUserService = errors.New("engine: service returned an error")

	// ErrUserUnsupportedVersion is returned when a response is invalid for
	// the negotiated wire version.
	ErrUserUnsupportedVersion = errors.New("engine: response unsupported for this HTTP version")

	// ErrUserUnsupportedStatusCode is returned when a status code forbids
	// the body the service attached (e.g. 1xx with body).
	ErrUserUnsupportedStatusCode = errors.New("engine: status code does not allow a body")

	// ErrUserNoUpgrade is returned by OnUpgrade when no upgrade occurred.
	ErrUserNoUpgrade = errors.New("engine: no upgrade available on this connection")

	// ErrUserManualUpgrade is returned when upgrades are handled externally
	// and the core's upgrade plumbing was bypassed.
	ErrUserManualUpgrade = errors.New("engine: upgrade is handled manually for this connection")

	// ErrKeepAliveTimedOut is raised by the H2 ping controller.
	ErrKeepAliveTimedOut = errors.New("engine: keep-alive ping timed out")

	// ErrVersionH2 describes the HTTP/2 connection preface seen where an
	// HTTP/1 request line was expected. No code path returns it: the root
	// ServeConn detects the preface with h1.IsH2Preface and serves HTTP/2.
	ErrVersionH2 = errors.New("engine: observed HTTP/2 preface on an HTTP/1 parser")

	// ErrDispatchGone is returned to a sender once the driver side of a
	// dispatch channel has been dropped.
	ErrDispatchGone = errors.New("engine: dispatch driver is gone")

	// ErrNeedMore signals a partial parse that requires more bytes; it is
	// never returned to a user, only used between BufferedIO and a parser.
	ErrNeedMore = errors.New("engine: need more bytes")

	// ErrSuspended signals the transport was not ready; callers should
	// retry once their wake condition fires.
	ErrSuspended = errors.New("engine: operation suspended, transport not ready")
)

// Canceled represents a cancellation with a human-readable reason.
type Canceled struct {
	Reason string
}

func (c *Canceled) Error() string { return "engine: canceled: " + c.Reason }

// NewCanceled builds a Canceled error with a formatted reason.
func NewCanceled(format string, args ...any) error {
	return &Canceled{Reason: fmt.Sprintf(format, args...)}
}

// ParseError identifies one of the parser's named failure modes alongside
// the underlying cause.
type ParseError struct {
	Kind ParseErrorKind
	Err  error
}

// ParseErrorKind enumerates the parser's named failure sub-kinds.
type ParseErrorKind int

const (
	ParseOversizeHead ParseErrorKind = iota
	ParseMalformedLine
	ParseInvalidHeaderSyntax
	ParseConflictingContentLength
	ParseForbiddenTransferEncoding
	ParseUnsupportedVersion
)

func (k ParseErrorKind) String() string {
	switch k {
	case ParseOversizeHead:
		return "oversize-head"
	case ParseMalformedLine:
		return "malformed-line"
	case ParseInvalidHeaderSyntax:
		return "invalid-header-syntax"
	case ParseConflictingContentLength:
		return "conflicting-content-length"
	case ParseForbiddenTransferEncoding:
		return "forbidden-transfer-encoding"
	case ParseUnsupportedVersion:
		return "unsupported-version"
	default:
		return "unknown"
	}
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine: parse error (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("engine: parse error (%s)", e.Kind)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NewParseError builds a ParseError, wrapping cause with pkg/errors so a
// stack trace is captured at the call site.
func NewParseError(kind ParseErrorKind, format string, args ...any) error {
	return &ParseError{Kind: kind, Err: errors.Errorf(format, args...)}
}

// Wrap attaches a stack trace to err the first time a package boundary is
// crossed, mirroring packetd's per-package newError convention.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}

// IO wraps a transport-level error.
func IO(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, "engine: io error")
}

// IsUnexpectedEOF reports whether err is (or wraps) ErrUnexpectedEOF: the
// transport closed before a length- or chunk-framed body finished. Used by
// the connection to decide whether half-close should swallow the error
// instead of failing the connection.
func IsUnexpectedEOF(err error) bool {
	return stderrors.Is(err, ErrUnexpectedEOF)
}
