package cachemanager

import (
	"strconv"

	"github.com/cockroachdb/pebble/v2"
)

// lruIndex is a pebble-backed key/value index from resource URL to last
// access time (unix nanoseconds). It exists purely to make eviction
// ordering survive a restart faster than re-statting every store
// directory's mtime; it is never the source of truth for what's
// cached — internal/chunkstore's own metadata.json is — and can be
// deleted and rebuilt from a directory scan with no data loss.
//
// Grounded on the teacher's storage/indexdb/pebble/pebble.go, narrowed
// to the one url->timestamp mapping cachemanager needs (the teacher's
// IndexDB additionally stores full object metadata; here that's
// chunkstore's job).
type lruIndex struct {
	db *pebble.DB
}

func openLRUIndex(path string) (*lruIndex, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &lruIndex{db: db}, nil
}

func (l *lruIndex) Get(url string) (int64, bool) {
	buf, closer, err := l.db.Get([]byte(url))
	if err != nil {
		return 0, false
	}
	defer closer.Close()
	ts, err := strconv.ParseInt(string(buf), 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// Set is intentionally NoSync: this index is a denormalized, rebuildable
// optimization, not a durability guarantee, so every touch paying an
// fsync would be pure overhead on the request path.
func (l *lruIndex) Set(url string, unixNano int64) error {
	return l.db.Set([]byte(url), []byte(strconv.FormatInt(unixNano, 10)), pebble.NoSync)
}

func (l *lruIndex) Delete(url string) error {
	return l.db.Delete([]byte(url), pebble.NoSync)
}

func (l *lruIndex) Close() error {
	return l.db.Close()
}
