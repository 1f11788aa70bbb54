package mod

import (
	"net/http"

	"github.com/devojony/mediacache/metrics"
	"github.com/devojony/mediacache/pkg/xhttp"
)

func fillRequest(req *http.Request) {
	if req.URL.Scheme == "" {
		req.URL.Scheme = "http"
		if req.TLS != nil {
			req.URL.Scheme = "https"
		}
	}
	if req.URL.Host == "" {
		req.URL.Host = req.Host
	}
}

// wrap attaches a RequestMetric and a ResponseRecorder without writing
// an access-log line, used when access logging is disabled but the
// metric still needs to exist for /metrics and the X-Cache header.
func wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		fillRequest(req)

		req, metric := metrics.WithRequestMetric(req)

		rw := xhttp.NewResponseRecorder(w)
		defer func() {
			metric.SentResp = rw.SentBytes()
		}()

		next(rw, req)
	}
}
