package originfetcher

import (
	"net/http"
	"net/url"
	"strconv"
)

// These headers form the synthetic protocol caching/Middleware speaks
// to RoundTrip: they never go out over the wire (FetchRange/Probe build
// their own real origin requests), they just let a *Fetcher stand in as
// the innermost http.RoundTripper in the recovery -> caching -> origin
// chain, mirroring the teacher's proxy.ReverseProxy.Do occupying that
// same slot.
const (
	opHeader   = "X-Mediacache-Op"
	opProbe    = "probe"
	opRange    = "range"
	rangeStart = "X-Mediacache-Range-Start"
	rangeEnd   = "X-Mediacache-Range-End" // exclusive

	RespTotalSize     = "X-Mediacache-Total-Size"
	RespContentType   = "X-Mediacache-Content-Type"
	RespAcceptsRanges = "X-Mediacache-Accepts-Ranges"
)

// NewProbeRequest builds the synthetic request RoundTrip interprets as
// "discover this resource's metadata".
func NewProbeRequest(rawURL string) *http.Request {
	req := &http.Request{Header: make(http.Header)}
	req.URL, _ = parseURL(rawURL)
	req.Header.Set(opHeader, opProbe)
	return req
}

// NewRangeRequest builds the synthetic request RoundTrip interprets as
// "fetch [start, end) from this resource".
func NewRangeRequest(rawURL string, start, end int64) *http.Request {
	req := &http.Request{Header: make(http.Header)}
	req.URL, _ = parseURL(rawURL)
	req.Header.Set(opHeader, opRange)
	req.Header.Set(rangeStart, strconv.FormatInt(start, 10))
	req.Header.Set(rangeEnd, strconv.FormatInt(end, 10))
	return req
}

func parseURL(raw string) (*url.URL, error) { return url.Parse(raw) }

// RoundTrip lets *Fetcher serve as the innermost http.RoundTripper in
// the server's middleware chain: caching.Middleware calls
// origin.RoundTrip(req) for both the initial metadata probe and for
// fetching a missing byte range, using req as a small synthetic
// envelope rather than a literal outgoing HTTP request.
func (f *Fetcher) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	rawURL := req.URL.String()

	switch req.Header.Get(opHeader) {
	case opProbe:
		p, err := f.Probe(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		h := make(http.Header)
		h.Set(RespTotalSize, strconv.FormatInt(p.TotalSize, 10))
		h.Set(RespContentType, p.ContentType)
		h.Set(RespAcceptsRanges, strconv.FormatBool(p.AcceptsRanges))
		return &http.Response{StatusCode: http.StatusOK, Header: h, Body: http.NoBody}, nil

	default:
		start, _ := strconv.ParseInt(req.Header.Get(rangeStart), 10, 64)
		end, _ := strconv.ParseInt(req.Header.Get(rangeEnd), 10, 64)

		res, err := f.FetchRange(ctx, rawURL, start, end)
		if err != nil {
			return nil, err
		}
		h := make(http.Header)
		h.Set("Content-Type", res.ContentType)
		return &http.Response{
			StatusCode:    res.StatusCode,
			Header:        h,
			Body:          res.Body,
			ContentLength: end - start,
		}, nil
	}
}
