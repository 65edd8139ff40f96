package h1

import (
	"strconv"
	"strings"

	"github.com/andycostintoma/engine/internal/errs"
	"github.com/andycostintoma/engine/internal/httpx"
	"github.com/andycostintoma/engine/internal/netx"
)

// LengthKind classifies a decoded message's transfer framing.
type LengthKind int

const (
	LengthFixed LengthKind = iota
	LengthChunked
	LengthClose
)

// BodyLength is the parser's decision about how a message body is framed.
type BodyLength struct {
	Kind LengthKind
	N    int64 // valid when Kind == LengthFixed
}

// SubjectKind distinguishes a request-line from a status-line.
type SubjectKind int

const (
	SubjectRequest SubjectKind = iota
	SubjectResponse
)

// Head is the non-body portion of an HTTP/1.x message: request-line or
// status-line plus headers.
type Head struct {
	Subject SubjectKind

	// Request fields.
	Method     string
	RequestURI string
	URL        *httpx.URL

	// Response fields.
	StatusCode int
	Reason     string

	ProtoMajor int
	ProtoMinor int

	Header httpx.Header

	// Optional side extensions, populated when ParserConfig enables them.
	// RawHeaderNames maps a canonical header key to its original wire
	// casing, one entry per occurrence in the same order as Header's
	// values for that key, so a later serialization pass can reproduce
	// exactly what was received instead of the canonicalized form.
	RawHeaderNames map[string][]string
	HeaderOrder    []int // one entry per kept header line, in parse order: its position among the parsed lines
}

// ParserConfig carries the parser's configurable knobs, all off by default
// except MaxHeaders.
type ParserConfig struct {
	MaxHeaders               int
	LenientWhitespace        bool
	ObsoleteLineFold         bool
	IgnoreInvalidHeaderLines bool
	AllowHTTP09              bool
	PreserveCase             bool
	PreserveOrder            bool
	StrictConnectAuthority   bool
}

// DefaultParserConfig returns the conservative defaults: 100 max headers,
// every lenience knob off.
func DefaultParserConfig() ParserConfig {
	return ParserConfig{MaxHeaders: 100}
}

// ParseRequestHead parses a request-line and header block from buf,
// returning (head, consumed, err). err is errs.ErrNeedMore if buf doesn't
// yet contain a full head.
func ParseRequestHead(buf []byte, cfg ParserConfig) (Head, int, error) {
	line, lineLen, err := netx.ScanLine(buf, maxLineBytes(cfg))
	if err != nil {
		return Head{}, 0, err
	}
	method, requestURI, major, minor, err := parseRequestLine(line, cfg)
	if err != nil {
		return Head{}, 0, err
	}

	u, err := parseRequestTarget(method, requestURI, cfg)
	if err != nil {
		return Head{}, 0, err
	}

	head := Head{
		Subject:    SubjectRequest,
		Method:     method,
		RequestURI: requestURI,
		URL:        u,
		ProtoMajor: major,
		ProtoMinor: minor,
		Header:     make(httpx.Header),
	}

	consumed := lineLen
	n, err := parseHeaderBlock(buf[consumed:], &head, cfg)
	if err != nil {
		return Head{}, 0, err
	}
	consumed += n
	return head, consumed, nil
}

// ParseResponseHead parses a status-line and header block.
func ParseResponseHead(buf []byte, cfg ParserConfig) (Head, int, error) {
	line, lineLen, err := netx.ScanLine(buf, maxLineBytes(cfg))
	if err != nil {
		return Head{}, 0, err
	}

	major, minor, code, reason, err := parseStatusLine(line, cfg)
	if err != nil {
		return Head{}, 0, err
	}

	head := Head{
		Subject:    SubjectResponse,
		StatusCode: code,
		Reason:     reason,
		ProtoMajor: major,
		ProtoMinor: minor,
		Header:     make(httpx.Header),
	}

	consumed := lineLen
	n, err := parseHeaderBlock(buf[consumed:], &head, cfg)
	if err != nil {
		return Head{}, 0, err
	}
	consumed += n
	return head, consumed, nil
}

func maxLineBytes(cfg ParserConfig) int {
	return 64 << 10
}

// H2Preface is the fixed byte sequence (RFC 9113 §3.4) that distinguishes
// an HTTP/2 connection attempt from HTTP/1.
const H2Preface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// IsH2Preface reports whether buf begins with (a prefix of) the HTTP/2
// connection preface, used by the root package's ServeConn to detect an
// HTTP/2 client speaking directly to a port that defaulted to HTTP/1.1.
func IsH2Preface(buf []byte) (match bool, complete bool) {
	n := len(buf)
	if n > len(H2Preface) {
		n = len(H2Preface)
	}
	if n == 0 {
		return true, false
	}
	if string(buf[:n]) != H2Preface[:n] {
		return false, false
	}
	return true, len(buf) >= len(H2Preface)
}

func parseRequestLine(line []byte, cfg ParserConfig) (method, uri string, major, minor int, err error) {
	fields := strings.Fields(string(line))
	if len(fields) != 3 {
		return "", "", 0, 0, errs.NewParseError(errs.ParseMalformedLine, "h1: malformed request line %q", line)
	}
	method = fields[0]
	uri = fields[1]
	proto := fields[2]
	for i := 0; i < len(method); i++ {
		c := method[i]
		if c < 'A' || c > 'Z' {
			return "", "", 0, 0, errs.NewParseError(errs.ParseMalformedLine, "h1: invalid method %q", method)
		}
	}
	major, minor, err = parseHTTPVersion(proto)
	if err != nil {
		return "", "", 0, 0, err
	}
	return method, uri, major, minor, nil
}

func parseStatusLine(line []byte, cfg ParserConfig) (major, minor, code int, reason string, err error) {
	s := string(line)
	if cfg.AllowHTTP09 && !strings.HasPrefix(s, "HTTP/") {
		return 0, 9, 200, "", nil
	}
	parts := strings.SplitN(s, " ", 3)
	if len(parts) < 2 {
		return 0, 0, 0, "", errs.NewParseError(errs.ParseMalformedLine, "h1: malformed status line %q", line)
	}
	major, minor, err = parseHTTPVersion(parts[0])
	if err != nil {
		return 0, 0, 0, "", err
	}
	code, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, 0, "", errs.NewParseError(errs.ParseMalformedLine, "h1: invalid status code %q", parts[1])
	}
	if len(parts) == 3 {
		reason = parts[2]
	}
	return major, minor, code, reason, nil
}

func parseHTTPVersion(proto string) (major, minor int, err error) {
	if !strings.HasPrefix(proto, "HTTP/") {
		return 0, 0, errs.NewParseError(errs.ParseUnsupportedVersion, "h1: invalid protocol %q", proto)
	}
	ver := strings.TrimPrefix(proto, "HTTP/")
	dot := strings.IndexByte(ver, '.')
	if dot < 0 {
		return 0, 0, errs.NewParseError(errs.ParseUnsupportedVersion, "h1: invalid HTTP version %q", proto)
	}
	maj, err1 := strconv.Atoi(ver[:dot])
	min, err2 := strconv.Atoi(ver[dot+1:])
	if err1 != nil || err2 != nil {
		return 0, 0, errs.NewParseError(errs.ParseUnsupportedVersion, "h1: invalid HTTP version numbers %q", proto)
	}
	return maj, min, nil
}

func parseRequestTarget(method, raw string, cfg ParserConfig) (*httpx.URL, error) {
	if method == "CONNECT" && cfg.StrictConnectAuthority {
		return httpx.ParseAuthorityForm(raw)
	}
	u, err := httpx.ParseRequestURI(raw)
	if err != nil {
		return nil, errs.NewParseError(errs.ParseMalformedLine, "h1: invalid request-target: %v", err)
	}
	return u, nil
}

// parseHeaderBlock parses header lines until the terminating blank line,
// filling head.Header (and, when enabled, the side-index extensions).
// Returns the number of bytes consumed from buf (including the terminator).
func parseHeaderBlock(buf []byte, head *Head, cfg ParserConfig) (int, error) {
	consumed := 0
	count := 0
	for {
		line, n, err := netx.ScanLine(buf[consumed:], maxLineBytes(cfg))
		if err != nil {
			return 0, err
		}
		consumed += n
		if len(line) == 0 {
			return consumed, nil
		}

		max := cfg.MaxHeaders
		if max <= 0 {
			max = 100
		}
		count++
		if count > max {
			return 0, errs.NewParseError(errs.ParseOversizeHead, "h1: too many header fields (max %d)", max)
		}

		name, value, ok := splitHeaderLine(string(line), cfg)
		if !ok {
			if cfg.IgnoreInvalidHeaderLines {
				continue
			}
			return 0, errs.NewParseError(errs.ParseInvalidHeaderSyntax, "h1: invalid header line %q", line)
		}

		canon := httpx.CanonicalHeaderKey(name)
		head.Header.Add(canon, value)
		if cfg.PreserveCase {
			if head.RawHeaderNames == nil {
				head.RawHeaderNames = make(map[string][]string)
			}
			head.RawHeaderNames[canon] = append(head.RawHeaderNames[canon], name)
		}
		if cfg.PreserveOrder {
			head.HeaderOrder = append(head.HeaderOrder, count-1)
		}
	}
}

func splitHeaderLine(line string, cfg ParserConfig) (name, value string, ok bool) {
	colon := strings.IndexByte(line, ':')
	if colon <= 0 {
		return "", "", false
	}
	name = line[:colon]
	rest := line[colon+1:]

	if !cfg.LenientWhitespace {
		for _, c := range name {
			if c == ' ' || c == '\t' {
				return "", "", false
			}
		}
	} else {
		name = strings.TrimRight(name, " \t")
	}

	value = strings.Trim(rest, " \t")
	if cfg.ObsoleteLineFold {
		value = strings.ReplaceAll(value, "\r\n", " ")
		value = strings.ReplaceAll(value, "\n", " ")
	}
	return name, value, true
}

// DecideRequestBodyLength resolves a request's body framing from its
// Transfer-Encoding and Content-Length headers, rejecting a message that
// carries both.
func DecideRequestBodyLength(h httpx.Header) (BodyLength, error) {
	te := h.Get("Transfer-Encoding")
	cl := h.Get("Content-Length")

	chunked := hasChunkedCoding(te)
	if chunked && cl != "" {
		return BodyLength{}, errs.NewParseError(errs.ParseForbiddenTransferEncoding, "h1: request has both Content-Length and Transfer-Encoding: chunked")
	}
	if chunked {
		return BodyLength{Kind: LengthChunked}, nil
	}
	if cl != "" {
		n, err := parseContentLength(h)
		if err != nil {
			return BodyLength{}, err
		}
		return BodyLength{Kind: LengthFixed, N: n}, nil
	}
	return BodyLength{Kind: LengthFixed, N: 0}, nil
}

// DecideResponseBodyLength resolves a response's body framing, accounting
// for status codes and request methods that forbid a body regardless of
// what the headers claim.
func DecideResponseBodyLength(method string, status int, h httpx.Header) (BodyLength, error) {
	if status >= 100 && status < 200 {
		return BodyLength{Kind: LengthFixed, N: 0}, nil
	}
	if status == 204 || status == 304 {
		return BodyLength{Kind: LengthFixed, N: 0}, nil
	}
	if method == "HEAD" {
		return BodyLength{Kind: LengthFixed, N: 0}, nil
	}
	if method == "CONNECT" && status >= 200 && status < 300 {
		return BodyLength{Kind: LengthFixed, N: 0}, nil
	}

	te := h.Get("Transfer-Encoding")
	if hasChunkedCoding(te) {
		return BodyLength{Kind: LengthChunked}, nil
	}
	if cl := h.Get("Content-Length"); cl != "" {
		n, err := parseContentLength(h)
		if err != nil {
			return BodyLength{}, err
		}
		return BodyLength{Kind: LengthFixed, N: n}, nil
	}
	return BodyLength{Kind: LengthClose}, nil
}

func hasChunkedCoding(te string) bool {
	if te == "" {
		return false
	}
	codings := strings.Split(te, ",")
	last := strings.TrimSpace(codings[len(codings)-1])
	return strings.EqualFold(last, "chunked")
}

func parseContentLength(h httpx.Header) (int64, error) {
	vals := h.Values("Content-Length")
	if len(vals) == 0 {
		return 0, errs.NewParseError(errs.ParseConflictingContentLength, "h1: missing content-length")
	}
	first := strings.TrimSpace(vals[0])
	n, err := strconv.ParseInt(first, 10, 64)
	if err != nil || n < 0 {
		return 0, errs.NewParseError(errs.ParseConflictingContentLength, "h1: invalid content-length %q", vals[0])
	}
	for _, v := range vals[1:] {
		if strings.TrimSpace(v) != first {
			return 0, errs.NewParseError(errs.ParseConflictingContentLength, "h1: conflicting content-length values %v", vals)
		}
	}
	return n, nil
}
