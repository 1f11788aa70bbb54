package mod

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/devojony/mediacache/metrics"
	"github.com/devojony/mediacache/pkg/xhttp"
)

const layout = "[02/Jan/2006:15:04:05 -0700]"

// WithNormalFields renders one access-log line for req/resp, grounded on
// the teacher's server/mod/field.go layout (client-ip, host, content
// type, timestamp, request line, status, bytes sent, referer,
// user-agent, latency, body size, range header, X-Forwarded-For, and
// this cache's own cache-status/request-id fields in place of the
// teacher's upstream-store fields).
func WithNormalFields(req *http.Request, resp *xhttp.ResponseRecorder) []byte {
	metric := metrics.FromContext(req.Context())

	buf := NewFieldBuffer(' ')

	buf.Append(xhttp.ClientIP(req))
	buf.Append(req.Host)
	buf.FAppend(resp.Header().Get("Content-Type"))
	buf.Append(time.Now().Format(layout))
	buf.FAppend(fmt.Sprintf("%s %s %s", req.Method, req.URL, req.Proto))
	buf.Append(strconv.Itoa(resp.Status()))
	buf.Append(strconv.FormatUint(resp.SentBytes(), 10))
	buf.FAppend(req.Header.Get("Referer"))
	buf.FAppend(req.Header.Get("User-Agent"))
	buf.Append(strconv.FormatInt(time.Since(metric.StartAt).Milliseconds(), 10))
	buf.Append(strconv.FormatUint(resp.Size(), 10))
	buf.FAppend(req.Header.Get("Range"))
	buf.FAppend(req.Header.Get("X-Forwarded-For"))
	buf.Append(string(metric.CacheStatus))
	buf.Append(metric.RequestID)

	return buf.Bytes()
}
