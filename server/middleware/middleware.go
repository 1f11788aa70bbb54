// Package middleware defines the RoundTripper-chain composition used to
// wrap the origin fetch path with cross-cutting behavior (panic
// recovery, caching).
//
// Grounded on the teacher's server/middleware/middleware.go, with the
// Factory/Register plugin-config machinery dropped: this deployment's
// middleware chain is fixed at startup (recovery -> caching), not
// assembled from a dynamically configured plugin list, so there is no
// registry to populate.
package middleware

import "net/http"

// Middleware wraps a RoundTripper with additional behavior.
type Middleware func(http.RoundTripper) http.RoundTripper

// RoundTripperFunc adapts an ordinary function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

// RoundTrip calls f(req).
func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Chain composes middlewares so the first one listed is outermost.
func Chain(m ...Middleware) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		for i := len(m) - 1; i >= 0; i-- {
			next = m[i](next)
		}
		return next
	}
}
