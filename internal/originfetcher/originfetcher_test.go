package originfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe_Ranged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-0/1000")
		w.Header().Set("Content-Type", "video/mp4")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte{0})
	}))
	defer srv.Close()

	f := New(Config{})
	p, err := f.Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), p.TotalSize)
	assert.Equal(t, "video/mp4", p.ContentType)
	assert.True(t, p.AcceptsRanges)
}

func TestProbe_NonRangingOrigin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", "2048")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	f := New(Config{})
	p, err := f.Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), p.TotalSize)
	assert.False(t, p.AcceptsRanges)
}

func TestProbe_CollapsesConcurrentCalls(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("Content-Range", "bytes 0-0/500")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte{0})
	}))
	defer srv.Close()

	f := New(Config{})
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			_, err := f.Probe(context.Background(), srv.URL)
			assert.NoError(t, err)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))
}

func TestFetchRange_ReturnsBody(t *testing.T) {
	body := []byte("hello world, this is origin content")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-10/36")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(body[:11])
	}))
	defer srv.Close()

	f := New(Config{})
	res, err := f.FetchRange(context.Background(), srv.URL, 0, 11)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, int64(36), res.TotalSize)
}

func TestFetchRange_BadStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{})
	_, err := f.FetchRange(context.Background(), srv.URL, 0, 10)
	assert.ErrorIs(t, err, ErrBadOrigin)
}
