package h1

// trailerBlacklist is the set of hop-by-hop / already-framed header fields
// that must never be re-emitted as chunked trailers.
var trailerBlacklist = map[string]struct{}{
	"Authorization":     {},
	"Cache-Control":     {},
	"Content-Encoding":  {},
	"Content-Length":    {},
	"Content-Range":     {},
	"Content-Type":      {},
	"Host":              {},
	"Max-Forwards":      {},
	"Set-Cookie":        {},
	"Te":                {},
	"Trailer":           {},
	"Transfer-Encoding": {},
}

// hopByHopHeaders lists the connection-specific header fields that HTTP/2
// forbids on the wire. No code path reads it: internal/h2 writes response
// heads with whatever fields the service set, without stripping these.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Transfer-Encoding",
	"Upgrade",
}
