package h1

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/andycostintoma/engine/internal/httpx"
	"github.com/andycostintoma/engine/internal/netx"
)

// SerializeConfig controls head serialization: title-casing, case
// preservation, and whether a Date header is auto-injected.
type SerializeConfig struct {
	TitleCaseHeaders bool
	PreserveCase     bool
	AutoDateHeader   bool
}

// SerializeRequestHead writes a request-line and headers to bio's write
// buffer. raw, when non-nil and cfg.PreserveCase is set, supplies each
// header's original wire casing (see Head.RawHeaderNames).
func SerializeRequestHead(bio *netx.BufferedIO, method, requestURI string, major, minor int, h httpx.Header, raw map[string][]string, cfg SerializeConfig) {
	bio.QueueWrite([]byte(method))
	bio.QueueWrite([]byte(" "))
	bio.QueueWrite([]byte(requestURI))
	bio.QueueWrite([]byte(fmt.Sprintf(" HTTP/%d.%d\r\n", major, minor)))
	writeHeaders(bio, h, raw, cfg, false)
}

// SerializeResponseHead writes a status-line and headers to bio's write
// buffer. When cfg.AutoDateHeader is set and no Date header is present, the
// shared cached Date header is appended. raw is as in SerializeRequestHead.
func SerializeResponseHead(bio *netx.BufferedIO, major, minor, status int, reason string, h httpx.Header, raw map[string][]string, cfg SerializeConfig) {
	bio.QueueWrite([]byte(fmt.Sprintf("HTTP/%d.%d %d %s\r\n", major, minor, status, reason)))
	writeHeaders(bio, h, raw, cfg, cfg.AutoDateHeader && h.Get("Date") == "")
}

func writeHeaders(bio *netx.BufferedIO, h httpx.Header, raw map[string][]string, cfg SerializeConfig, injectDate bool) {
	for name, vals := range h {
		for i, v := range vals {
			out := name
			if cfg.PreserveCase {
				if names := raw[name]; i < len(names) {
					out = names[i]
				}
			} else if cfg.TitleCaseHeaders {
				out = httpx.CanonicalHeaderKey(name)
			}
			bio.QueueWrite([]byte(out))
			bio.QueueWrite([]byte(": "))
			bio.QueueWrite([]byte(v))
			bio.QueueWrite(crlf)
		}
	}
	if injectDate {
		bio.QueueWrite([]byte("Date: "))
		bio.QueueWrite([]byte(CachedDate()))
		bio.QueueWrite(crlf)
	}
	bio.QueueWrite(crlf)
}

// FillContentLengthOrChunked auto-fills Content-Length from an exact size
// hint, or injects Transfer-Encoding: chunked otherwise, unless the status
// forbids a body.
func FillContentLengthOrChunked(h httpx.Header, exact *uint64, forbidsBody bool) {
	if forbidsBody {
		return
	}
	if h.Get("Content-Length") != "" || h.Get("Transfer-Encoding") != "" {
		return
	}
	if exact != nil {
		h.Set("Content-Length", strconv.FormatUint(*exact, 10))
		return
	}
	h.Set("Transfer-Encoding", "chunked")
}

// -----------------------------------------------------------------------
// Shared Date header: updated at most once per second, avoiding a format
// call per request.
// -----------------------------------------------------------------------

var dateCache struct {
	mu      sync.Mutex
	value   string
	lastSec int64
}

// CachedDate returns an RFC 1123 formatted current time, refreshed lazily
// at most once per second.
func CachedDate() string {
	now := time.Now()
	sec := now.Unix()

	dateCache.mu.Lock()
	defer dateCache.mu.Unlock()
	if dateCache.lastSec != sec {
		dateCache.value = now.UTC().Format(http1123)
		dateCache.lastSec = sec
	}
	return dateCache.value
}

const http1123 = "Mon, 02 Jan 2006 15:04:05 GMT"
