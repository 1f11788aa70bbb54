// Package recovery provides a RoundTripper middleware that turns a
// panic anywhere downstream (notably inside the caching middleware's
// read-plan execution) into a 500 instead of taking down the listener
// goroutine.
//
// Grounded on the teacher's server/middleware/recovery/recovery.go,
// with the config.Unmarshal-driven options struct dropped since this
// middleware takes no options.
package recovery

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/devojony/mediacache/contrib/log"
	"github.com/devojony/mediacache/server/middleware"
)

// Middleware recovers from a panic in the wrapped RoundTripper and
// reports it as an error instead of propagating the panic.
func Middleware(origin http.RoundTripper) http.RoundTripper {
	return middleware.RoundTripperFunc(func(req *http.Request) (resp *http.Response, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Context(req.Context()).Errorf("recovered from panic: %v\n%s", r, debug.Stack())
				err = fmt.Errorf("internal error: %v", r)
			}
		}()
		return origin.RoundTrip(req)
	})
}
