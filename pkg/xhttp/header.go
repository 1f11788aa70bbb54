// Package xhttp collects small net/http header and request helpers
// shared between the server and its middleware.
//
// Grounded on the teacher's pkg/x/http/header.go and request.go,
// narrowed to the subset the caching proxy actually needs (no
// cache-control parsing: this proxy's freshness policy is "cache
// forever, evict by LRU budget", not origin Cache-Control directives).
package xhttp

import (
	"net/http"
	"net/textproto"
	"strings"
)

// CopyHeader copies every header from src into dst.
func CopyHeader(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append([]string(nil), vv...)
	}
}

// hopHeaders are stripped before a response crosses the proxy boundary,
// per RFC 7230 §6.1 / RFC 2616 §13.5.1.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RemoveHopByHopHeaders strips hop-by-hop headers from h in place.
func RemoveHopByHopHeaders(h http.Header) {
	for _, f := range h["Connection"] {
		for _, sf := range strings.Split(f, ",") {
			if sf = textproto.TrimString(sf); sf != "" {
				h.Del(sf)
			}
		}
	}
	for _, f := range hopHeaders {
		h.Del(f)
	}
}

// ClientIP extracts the caller's address, preferring the first hop of
// X-Forwarded-For when present, else falling back to r.RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}
