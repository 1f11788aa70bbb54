package caching

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devojony/mediacache/internal/cachemanager"
	"github.com/devojony/mediacache/internal/originfetcher"
)

func newTestRig(t *testing.T, body []byte, contentType string) (http.RoundTripper, *cachemanager.Manager, string) {
	t.Helper()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(body))
	}))
	t.Cleanup(origin.Close)

	manager, err := cachemanager.New(t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	fetcher := originfetcher.New(originfetcher.Config{})
	tripper := Middleware(manager, 2)(fetcher)

	return tripper, manager, origin.URL
}

func proxyRequest(method, originURL, rangeHeader string) *http.Request {
	u := &url.URL{Path: "/", RawQuery: url.Values{"url": {originURL}}.Encode()}
	req := httptest.NewRequest(method, u.String(), nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	return req
}

func TestServe_ColdFullFetch(t *testing.T) {
	body := make([]byte, 100)
	for i := range body {
		body[i] = byte(i)
	}
	tripper, _, originURL := newTestRig(t, body, "video/mp4")

	resp, err := tripper.RoundTrip(proxyRequest(http.MethodGet, originURL, ""))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestServe_PartialRange(t *testing.T) {
	body := make([]byte, 100)
	for i := range body {
		body[i] = byte(i)
	}
	tripper, _, originURL := newTestRig(t, body, "video/mp4")

	resp, err := tripper.RoundTrip(proxyRequest(http.MethodGet, originURL, "bytes=10-29"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 10-29/100", resp.Header.Get("Content-Range"))

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, body[10:30], got)
}

func TestServe_SecondRequestServesFromCache(t *testing.T) {
	body := make([]byte, 100)
	for i := range body {
		body[i] = byte(i)
	}
	tripper, _, originURL := newTestRig(t, body, "video/mp4")

	resp1, err := tripper.RoundTrip(proxyRequest(http.MethodGet, originURL, ""))
	require.NoError(t, err)
	_, _ = io.ReadAll(resp1.Body)
	resp1.Body.Close()

	resp2, err := tripper.RoundTrip(proxyRequest(http.MethodGet, originURL, "bytes=0-9"))
	require.NoError(t, err)
	defer resp2.Body.Close()

	assert.Equal(t, "HIT", resp2.Header.Get("X-Cache"))
	got, err := io.ReadAll(resp2.Body)
	require.NoError(t, err)
	assert.Equal(t, body[:10], got)
}

func TestServe_HeadReturnsNoBody(t *testing.T) {
	body := make([]byte, 50)
	tripper, _, originURL := newTestRig(t, body, "video/mp4")

	resp, err := tripper.RoundTrip(proxyRequest(http.MethodHead, originURL, ""))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "50", resp.Header.Get("Content-Length"))

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestServe_MissingURLIsBadRequest(t *testing.T) {
	manager, err := cachemanager.New(t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	fetcher := originfetcher.New(originfetcher.Config{})
	tripper := Middleware(manager, 2)(fetcher)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := tripper.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServe_InvalidRangeIsNotSatisfiable(t *testing.T) {
	body := make([]byte, 10)
	tripper, _, originURL := newTestRig(t, body, "video/mp4")

	resp, err := tripper.RoundTrip(proxyRequest(http.MethodGet, originURL, "bytes=20-30"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
	assert.Equal(t, "bytes */10", resp.Header.Get("Content-Range"))
}

func TestServe_NonGetMethodIsNotAllowed(t *testing.T) {
	body := make([]byte, 10)
	tripper, _, originURL := newTestRig(t, body, "video/mp4")

	resp, err := tripper.RoundTrip(proxyRequest(http.MethodPost, originURL, ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
