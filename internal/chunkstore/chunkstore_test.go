package chunkstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), "https://example.test/video.mp4")
	require.NoError(t, err)
	s.chunkSize = 16 // tiny chunk size so tests can exercise multi-chunk logic cheaply
	return s
}

func TestWriteStream_SingleFullChunk(t *testing.T) {
	s := smallStore(t)
	require.NoError(t, s.SetProbeResult(16, "video/mp4"))

	require.NoError(t, s.WriteStream(context.Background(), bytes.NewReader(bytes.Repeat([]byte{'a'}, 16)), 0))

	assert.True(t, s.RangeCached(0, 16))
	assert.Equal(t, int64(16), s.Size())

	rc, err := s.Read(0, 16)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{'a'}, 16), data)
}

func TestWriteStream_ShortFinalChunk(t *testing.T) {
	s := smallStore(t)
	require.NoError(t, s.SetProbeResult(20, "video/mp4"))

	require.NoError(t, s.WriteStream(context.Background(), bytes.NewReader(bytes.Repeat([]byte{'b'}, 20)), 0))

	assert.True(t, s.RangeCached(0, 20))
	assert.Equal(t, int64(20), s.Size())
	assert.False(t, s.RangeCached(0, 21)) // beyond totalSize
}

func TestWriteStream_MidChunkStartRebuildsPrefix(t *testing.T) {
	s := smallStore(t)
	require.NoError(t, s.SetProbeResult(32, "video/mp4"))

	// write the first chunk [0,16) in full first
	require.NoError(t, s.WriteStream(context.Background(), bytes.NewReader(bytes.Repeat([]byte{'x'}, 16)), 0))

	// now write starting at offset 20, inside chunk index 1 ([16,32)); the
	// prefix [16,20) doesn't exist yet, so it's zero-filled in memory to
	// assemble a full chunk-sized write, but the chunk must stay marked
	// incomplete even though its length now matches chunkSize: the zeroed
	// prefix is not real resource data and must never be surfaced by
	// RangeCached or Read.
	require.NoError(t, s.WriteStream(context.Background(), bytes.NewReader(bytes.Repeat([]byte{'y'}, 12)), 20))

	ci, ok := s.chunks[1]
	require.True(t, ok)
	assert.False(t, ci.Complete)
	assert.Equal(t, int64(16), ci.Size)

	assert.False(t, s.RangeCached(16, 32))
	_, err := s.Read(16, 32)
	assert.ErrorIs(t, err, ErrChunkMissing)

	// a later write that covers chunk 1 from its true start recovers it.
	require.NoError(t, s.WriteStream(context.Background(), bytes.NewReader(bytes.Repeat([]byte{'z'}, 16)), 16))

	ci, ok = s.chunks[1]
	require.True(t, ok)
	assert.True(t, ci.Complete)

	rc, err := s.Read(16, 32)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{'z'}, 16), data)
}

func TestRangeCached_GapYieldsFalse(t *testing.T) {
	s := smallStore(t)
	require.NoError(t, s.SetProbeResult(48, "video/mp4"))

	// write chunk 0 and chunk 2, skipping chunk 1
	require.NoError(t, s.WriteStream(context.Background(), bytes.NewReader(bytes.Repeat([]byte{'a'}, 16)), 0))
	require.NoError(t, s.WriteStream(context.Background(), bytes.NewReader(bytes.Repeat([]byte{'c'}, 16)), 32))

	assert.True(t, s.RangeCached(0, 16))
	assert.True(t, s.RangeCached(32, 48))
	assert.False(t, s.RangeCached(0, 48))
	assert.False(t, s.RangeCached(0, 20)) // spans into missing chunk 1
}

func TestCachedRangeSize_ContiguousPrefix(t *testing.T) {
	s := smallStore(t)
	require.NoError(t, s.SetProbeResult(48, "video/mp4"))

	require.NoError(t, s.WriteStream(context.Background(), bytes.NewReader(bytes.Repeat([]byte{'a'}, 32)), 0))

	assert.Equal(t, int64(32), s.CachedRangeSize(0, 48))
	assert.Equal(t, int64(0), s.CachedRangeSize(40, 48))
}

func TestOpen_DropsSizeMismatchedChunk(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root, "https://example.test/a.mp4")
	require.NoError(t, err)
	s.chunkSize = 16
	require.NoError(t, s.SetProbeResult(16, "video/mp4"))
	require.NoError(t, s.WriteStream(context.Background(), bytes.NewReader(bytes.Repeat([]byte{'a'}, 16)), 0))

	// corrupt the chunk file on disk behind the store's back
	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "chunk_0"), []byte("short"), 0o644))

	s2, err := Open(root, "https://example.test/a.mp4")
	require.NoError(t, err)
	s2.chunkSize = 16
	assert.False(t, s2.RangeCached(0, 16))
}

func TestOpen_ScrubsTempFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "chunk_0.temp"), []byte("garbage"), 0o644))

	_, err := Open(root, "https://example.test/a.mp4")
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(root, "data", "chunk_0.temp"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestClear_RemovesEverything(t *testing.T) {
	s := smallStore(t)
	require.NoError(t, s.SetProbeResult(16, "video/mp4"))
	require.NoError(t, s.WriteStream(context.Background(), bytes.NewReader(bytes.Repeat([]byte{'a'}, 16)), 0))

	require.NoError(t, s.Clear())
	assert.Equal(t, int64(0), s.Size())
	assert.False(t, s.RangeCached(0, 16))
}
