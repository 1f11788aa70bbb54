// Package caching implements the per-request orchestration described in
// SPEC_FULL.md §4.5: validate the request, acquire the resource's chunk
// store, probe the origin if its size/type is still unknown, parse the
// Range header, compute how much of the requested window is already
// cached, and stream the rest by splicing a cached-bytes reader with a
// teed origin fetch that simultaneously fills the store.
//
// Grounded on the teacher's server/middleware/caching/caching.go: same
// RoundTripper-middleware shape (Middleware wraps the next
// http.RoundTripper), same lazilyRespond/doProxy split between serving
// from disk and falling through to origin, same teed body used to fill
// the cache while streaming to the client (there: SavepartReader: here:
// iobuf.BoundedTee over an io.Pipe feeding chunkstore.Store.WriteStream
// directly, since chunkstore already knows how to consume a plain
// io.Reader instead of the teacher's per-block callback).
package caching

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/devojony/mediacache/internal/cachemanager"
	"github.com/devojony/mediacache/internal/constants"
	"github.com/devojony/mediacache/internal/originfetcher"
	"github.com/devojony/mediacache/internal/rangeparser"
	"github.com/devojony/mediacache/contrib/log"
	"github.com/devojony/mediacache/metrics"
	"github.com/devojony/mediacache/pkg/iobuf"
	"github.com/devojony/mediacache/server/middleware"
)

// OriginError wraps any error encountered talking to the origin
// (probe or range fetch), distinguishing it from local storage errors
// so the server can answer 502 instead of 500.
type OriginError struct{ Err error }

func (e *OriginError) Error() string { return "caching: origin: " + e.Err.Error() }
func (e *OriginError) Unwrap() error { return e.Err }

// DefaultTeeBufSlots bounds how many reads of the origin body the
// client's consumption may lag behind the background store-fill write.
const DefaultTeeBufSlots = 4

// Middleware returns the caching stage of the RoundTripper chain. The
// RoundTripper it wraps (origin) is expected to be an
// *originfetcher.Fetcher (or a test double speaking the same synthetic
// probe/range-request protocol).
func Middleware(manager *cachemanager.Manager, teeBufSlots int) middleware.Middleware {
	if teeBufSlots <= 0 {
		teeBufSlots = DefaultTeeBufSlots
	}
	return func(origin http.RoundTripper) http.RoundTripper {
		return middleware.RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			return serve(req, manager, origin, teeBufSlots)
		})
	}
}

func serve(req *http.Request, manager *cachemanager.Manager, origin http.RoundTripper, teeBufSlots int) (*http.Response, error) {
	ctx := req.Context()
	clog := log.Context(ctx)

	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return &http.Response{StatusCode: http.StatusMethodNotAllowed, Header: make(http.Header), Body: http.NoBody}, nil
	}

	rawURL := req.URL.Query().Get("url")
	if rawURL == "" {
		return &http.Response{StatusCode: http.StatusBadRequest, Header: make(http.Header), Body: http.NoBody}, nil
	}
	if target, err := url.Parse(rawURL); err != nil || target.Scheme == "" || target.Host == "" {
		return &http.Response{StatusCode: http.StatusBadRequest, Header: make(http.Header), Body: http.NoBody}, nil
	}

	entry, err := manager.Acquire(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("caching: acquire cache entry: %w", err)
	}
	store := entry.Store

	if store.TotalSize() <= 0 || store.ContentType() == "" {
		presp, err := origin.RoundTrip(originfetcher.NewProbeRequest(rawURL))
		if err != nil {
			return nil, &OriginError{Err: err}
		}
		totalSize, _ := strconv.ParseInt(presp.Header.Get(originfetcher.RespTotalSize), 10, 64)
		if totalSize <= 0 {
			return nil, &OriginError{Err: errors.New("origin reported an empty or unknown-size resource")}
		}
		if err := store.SetProbeResult(totalSize, presp.Header.Get(originfetcher.RespContentType)); err != nil {
			return nil, fmt.Errorf("caching: persist probe result: %w", err)
		}
	}

	totalSize := store.TotalSize()
	contentType := store.ContentType()

	rng, err := rangeparser.Parse(req.Header.Get("Range"), totalSize)
	if err != nil {
		h := make(http.Header)
		h.Set("Content-Range", rangeparser.NotSatisfiableContentRange(totalSize))
		return &http.Response{StatusCode: http.StatusRequestedRangeNotSatisfiable, Header: h, Body: http.NoBody}, nil
	}
	partial := rangeparser.HasRange(req.Header.Get("Range"))

	status := http.StatusOK
	h := make(http.Header)
	h.Set("Content-Type", contentType)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Length", strconv.FormatInt(rng.Len(), 10))
	if partial {
		status = http.StatusPartialContent
		h.Set("Content-Range", rng.ContentRange(totalSize))
	}

	cacheStatus := cacheStatusFor(store.CachedRangeSize(rng.Start, rng.End), rng.Len())
	h.Set(constants.CacheStatusHeader, string(cacheStatus))
	if m := metrics.FromContext(ctx); m.StoreURL == "" {
		m.CacheStatus = cacheStatus
		m.StoreURL = rawURL
	}
	metrics.CacheStatusTotal.WithLabelValues(string(cacheStatus)).Inc()

	if req.Method == http.MethodHead {
		return &http.Response{StatusCode: status, Header: h, Body: http.NoBody, ContentLength: rng.Len()}, nil
	}

	body, err := buildBody(ctx, entry, origin, rng, teeBufSlots, clog)
	if err != nil {
		return nil, err
	}

	return &http.Response{
		StatusCode:    status,
		Header:        h,
		Body:          &touchOnCloseBody{ReadCloser: body, manager: manager, entry: entry},
		ContentLength: rng.Len(),
	}, nil
}

// touchOnCloseBody defers cachemanager.Manager.Touch (and the eviction
// pass it schedules) until the response body is actually closed, i.e.
// request completion per SPEC_FULL.md §4.5 step 10 — not plan time, when
// a fetch-and-fill body hasn't written anything to the store yet.
type touchOnCloseBody struct {
	io.ReadCloser
	manager *cachemanager.Manager
	entry   *cachemanager.Entry
	closed  bool
}

func (b *touchOnCloseBody) Close() error {
	err := b.ReadCloser.Close()
	if !b.closed {
		b.closed = true
		b.manager.Touch(b.entry)
	}
	return err
}

// cacheStatusFor reports how much of the requested range was already on
// disk before this request's fetch, for the X-Cache response header and
// the cache_status_total metric.
func cacheStatusFor(cachedLen, wantLen int64) constants.CacheStatus {
	switch {
	case cachedLen >= wantLen:
		return constants.CacheHit
	case cachedLen > 0:
		return constants.CachePartial
	default:
		return constants.CacheMiss
	}
}

// buildBody returns a reader for exactly [rng.Start, rng.End), splicing
// together whatever prefix is already cached with a fetch-and-fill of
// whatever tail is missing.
func buildBody(ctx context.Context, entry *cachemanager.Entry, origin http.RoundTripper, rng rangeparser.Range, teeBufSlots int, clog *log.Helper) (io.ReadCloser, error) {
	store := entry.Store

	cachedLen := store.CachedRangeSize(rng.Start, rng.End)
	if cachedLen == rng.Len() {
		return store.Read(rng.Start, rng.End)
	}

	entry.LockWriter()

	// re-check: another request may have filled this gap while we waited
	// for the writer lock.
	cachedLen = store.CachedRangeSize(rng.Start, rng.End)
	if cachedLen == rng.Len() {
		entry.UnlockWriter()
		return store.Read(rng.Start, rng.End)
	}

	var cachedPart io.ReadCloser
	if cachedLen > 0 {
		rc, err := store.Read(rng.Start, rng.Start+cachedLen)
		if err != nil {
			entry.UnlockWriter()
			return nil, fmt.Errorf("caching: read cached prefix: %w", err)
		}
		cachedPart = rc
	}

	missingStart := rng.Start + cachedLen
	oresp, err := origin.RoundTrip(originfetcher.NewRangeRequest(entry.URL, missingStart, rng.End))
	if err != nil {
		if cachedPart != nil {
			cachedPart.Close()
		}
		entry.UnlockWriter()
		return nil, &OriginError{Err: err}
	}

	originBody := oresp.Body
	if oresp.StatusCode == http.StatusOK {
		// origin doesn't honor Range: its body starts at absolute offset 0,
		// so the bytes before missingStart must be discarded, not stored.
		if _, err := io.CopyN(io.Discard, originBody, missingStart); err != nil {
			originBody.Close()
			if cachedPart != nil {
				cachedPart.Close()
			}
			entry.UnlockWriter()
			return nil, &OriginError{Err: fmt.Errorf("discarding non-range origin prefix: %w", err)}
		}
	}

	limited := io.LimitReader(originBody, rng.End-missingStart)

	pr, pw := io.Pipe()
	teed := iobuf.BoundedTee(limited, pw, teeBufSlots, func(err error) {
		clog.Warnf("caching: store fill write failed for %s: %v", entry.URL, err)
	})

	// The fill must survive the client disconnecting, so it runs off a
	// context of its own rather than ctx (which net/http cancels the
	// moment the client connection closes): bounded only by
	// backgroundFillDeadline, per SPEC_FULL.md §5's per-request inactivity
	// deadline for a best-effort store-side write.
	fillCtx, fillCancel := context.WithTimeout(context.Background(), backgroundFillDeadline)

	writeErrCh := make(chan error, 1)
	go func() {
		defer fillCancel()
		werr := store.WriteStream(fillCtx, pr, missingStart)
		_ = pr.CloseWithError(werr)
		_ = originBody.Close()
		entry.UnlockWriter()
		writeErrCh <- werr
	}()

	fill := &fillBody{r: teed, entry: entry, writeErrCh: writeErrCh, url: entry.URL}

	if cachedPart == nil {
		return fill, nil
	}
	return iobuf.PartsReader(cachedPart, fill), nil
}

// backgroundFillDeadline bounds a store fill that outlives its client
// request, matching SPEC_FULL.md §5's default per-request inactivity
// ceiling for a best-effort background cache fill.
const backgroundFillDeadline = 60 * time.Second

// fillBody is the client-facing half of a cache-fill. Closing it only
// detaches client delivery (teed.Close): the background fetch-and-write
// goroutine it was handed off to keeps running independently, releasing
// the writer lock and reporting its outcome on writeErrCh once the
// origin stream ends, per SPEC_FULL.md §4.5 step 9.
type fillBody struct {
	r          io.ReadCloser
	entry      *cachemanager.Entry
	writeErrCh chan error
	url        string
	closed     bool
}

func (b *fillBody) Read(p []byte) (int, error) { return b.r.Read(p) }

func (b *fillBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true

	err := b.r.Close()

	go func() {
		if werr := <-b.writeErrCh; werr != nil && !errors.Is(werr, io.EOF) && !errors.Is(werr, context.Canceled) && !errors.Is(werr, context.DeadlineExceeded) {
			log.Warnf("caching: background cache fill for %s ended with error: %v", b.url, werr)
		}
	}()

	return err
}
