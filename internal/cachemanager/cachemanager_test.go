package cachemanager

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_CreatesAndReuses(t *testing.T) {
	m, err := New(t.TempDir(), 0)
	require.NoError(t, err)
	defer m.Close()

	e1, err := m.Acquire(context.Background(), "https://example.test/a.mp4")
	require.NoError(t, err)
	e2, err := m.Acquire(context.Background(), "https://example.test/a.mp4")
	require.NoError(t, err)
	assert.Same(t, e1, e2)
}

func TestTouch_UpdatesRateAndIndex(t *testing.T) {
	m, err := New(t.TempDir(), 0)
	require.NoError(t, err)
	defer m.Close()

	e, err := m.Acquire(context.Background(), "https://example.test/a.mp4")
	require.NoError(t, err)
	m.Touch(e)

	ts, ok := m.index.Get(e.URL)
	assert.True(t, ok)
	assert.Greater(t, ts, int64(0))
}

func TestEvictIfNeeded_EvictsLeastRecentlyTouched(t *testing.T) {
	m, err := New(t.TempDir(), 40)
	require.NoError(t, err)
	defer m.Close()

	old, err := m.Acquire(context.Background(), "https://example.test/old.mp4")
	require.NoError(t, err)
	require.NoError(t, old.Store.SetProbeResult(32, "video/mp4"))
	require.NoError(t, old.Store.WriteStream(context.Background(), staticReader(32), 0))
	old.lastAccess.Store(time.Now().Add(-time.Hour).UnixNano())

	fresh, err := m.Acquire(context.Background(), "https://example.test/fresh.mp4")
	require.NoError(t, err)
	require.NoError(t, fresh.Store.SetProbeResult(32, "video/mp4"))
	require.NoError(t, fresh.Store.WriteStream(context.Background(), staticReader(32), 0))
	fresh.lastAccess.Store(time.Now().UnixNano())

	m.evictIfNeeded()

	m.mu.RLock()
	_, oldStillThere := m.stores[old.URL]
	_, freshStillThere := m.stores[fresh.URL]
	m.mu.RUnlock()

	assert.False(t, oldStillThere)
	assert.True(t, freshStillThere)
}

func TestEvictIfNeeded_SkipsActiveWriter(t *testing.T) {
	m, err := New(t.TempDir(), 10)
	require.NoError(t, err)
	defer m.Close()

	e, err := m.Acquire(context.Background(), "https://example.test/busy.mp4")
	require.NoError(t, err)
	require.NoError(t, e.Store.SetProbeResult(32, "video/mp4"))
	require.NoError(t, e.Store.WriteStream(context.Background(), staticReader(32), 0))
	e.lastAccess.Store(time.Now().Add(-time.Hour).UnixNano())

	e.LockWriter()
	defer e.UnlockWriter()

	m.evictIfNeeded()

	m.mu.RLock()
	_, stillThere := m.stores[e.URL]
	m.mu.RUnlock()
	assert.True(t, stillThere)
}

type staticByteReader struct {
	remaining int
}

func staticReader(n int) *staticByteReader { return &staticByteReader{remaining: n} }

func (r *staticByteReader) Read(p []byte) (int, error) {
	if r.remaining == 0 {
		return 0, io.EOF
	}
	n := len(p)
	if n > r.remaining {
		n = r.remaining
	}
	for i := 0; i < n; i++ {
		p[i] = 'z'
	}
	r.remaining -= n
	return n, nil
}
