package netx

import (
	"bytes"

	"github.com/andycostintoma/engine/internal/errs"
)

// ScanLine finds the next CRLF- or bare-LF-terminated line in buf starting
// at offset 0 and returns the trimmed line plus the number of bytes
// consumed from buf (including the terminator). If no terminator has
// arrived yet, it returns errs.ErrNeedMore so the caller (BufferedIO.Parse)
// can read more from the transport and retry; it never blocks.
//
// ScanLine operates on an already-buffered slice rather than wrapping an
// io.Reader, because BufferedIO owns the read buffer and the H1 parser
// must never block inside a parse attempt.
func ScanLine(buf []byte, max int) (line []byte, consumed int, err error) {
	if max <= 0 {
		max = len(buf)
	}
	limit := len(buf)
	if limit > max {
		limit = max
	}
	idx := bytes.IndexByte(buf[:limit], '\n')
	if idx < 0 {
		if len(buf) >= max {
			return nil, 0, errs.ErrTooLarge
		}
		return nil, 0, errs.ErrNeedMore
	}
	end := idx
	if end > 0 && buf[end-1] == '\r' {
		end--
	}
	return buf[:end], idx + 1, nil
}

// ConsumeLeadingLines skips any run of bare CRLF/LF "garbage" lines at the
// front of buf (RFC 7230 §3.5 lenience between pipelined messages) and
// returns the number of bytes to discard.
func ConsumeLeadingLines(buf []byte) int {
	n := 0
	for n < len(buf) {
		if buf[n] == '\r' {
			n++
			continue
		}
		if buf[n] == '\n' {
			n++
			continue
		}
		break
	}
	return n
}

// Peek returns the first n bytes of buf without consuming them, or
// errs.ErrNeedMore if buf is shorter than n.
func Peek(buf []byte, n int) ([]byte, error) {
	if len(buf) < n {
		return nil, errs.ErrNeedMore
	}
	return buf[:n], nil
}
