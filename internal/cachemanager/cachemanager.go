// Package cachemanager owns the registry of per-URL chunk stores: it
// hands out the Store for a URL (creating it on first use), enforces
// that a store has at most one in-flight writer at a time, tracks
// recency for LRU eviction, and keeps the whole cache under a total
// byte budget.
//
// Grounded on the teacher's storage/bucket/disk.diskBucket (per-bucket
// registry + startup loadLRU + background evict loop) and
// pkg/algorithm/lru, adapted from the teacher's multi-bucket object
// store to a flat per-URL chunkstore.Store registry.
package cachemanager

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulbellamy/ratecounter"

	"github.com/devojony/mediacache/contrib/log"
	"github.com/devojony/mediacache/internal/chunkstore"
)

const lruIndexDirName = ".lruindex"

// Entry is one registered resource: its chunk store plus the
// bookkeeping cachemanager needs around it.
type Entry struct {
	URL   string
	Store *chunkstore.Store

	writerMu   sync.Mutex
	lastAccess atomic.Int64
}

// LockWriter serializes writers to this entry's store: chunkstore
// itself assumes at most one WriteStream call in flight at a time
// (concurrent writes to the same chunk index are disallowed), and this
// is where that's enforced.
func (e *Entry) LockWriter()   { e.writerMu.Lock() }
func (e *Entry) UnlockWriter() { e.writerMu.Unlock() }

// Manager is the registry of all known resources.
type Manager struct {
	rootDir       string
	maxTotalBytes int64

	mu     sync.RWMutex
	stores map[string]*Entry

	index *lruIndex
	rate  *ratecounter.RateCounter
}

// New opens (or creates) rootDir, rebuilds the registry from whatever
// store directories already exist there, and opens the LRU index.
func New(rootDir string, maxTotalBytes int64) (*Manager, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, err
	}

	idx, err := openLRUIndex(filepath.Join(rootDir, lruIndexDirName))
	if err != nil {
		return nil, err
	}

	m := &Manager{
		rootDir:       rootDir,
		maxTotalBytes: maxTotalBytes,
		stores:        make(map[string]*Entry),
		index:         idx,
		rate:          ratecounter.NewRateCounter(time.Second),
	}

	if err := m.scanExisting(); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return m, nil
}

// scanExisting walks rootDir's immediate subdirectories and reopens any
// that hold a chunk store, per SPEC_FULL.md's startup directory scan.
func (m *Manager) scanExisting() error {
	entries, err := os.ReadDir(m.rootDir)
	if err != nil {
		return err
	}

	for _, de := range entries {
		if !de.IsDir() || de.Name() == lruIndexDirName {
			continue
		}
		storeDir := filepath.Join(m.rootDir, de.Name())
		st, err := chunkstore.Open(storeDir, "")
		if err != nil {
			log.Warnf("cachemanager: skipping unreadable store dir %s: %v", storeDir, err)
			continue
		}
		url := st.OriginURL()
		if url == "" {
			continue // directory with no persisted metadata: nothing to register
		}

		e := &Entry{URL: url, Store: st}
		if ts, ok := m.index.Get(url); ok {
			e.lastAccess.Store(ts)
		} else {
			e.lastAccess.Store(time.Now().UnixNano())
		}
		m.stores[url] = e
	}
	return nil
}

// keyDir names a store's directory: the 32-char hex MD5 of the URL.
func keyDir(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// Acquire returns the Entry for url, creating its on-disk store on
// first use.
func (m *Manager) Acquire(_ context.Context, url string) (*Entry, error) {
	m.mu.RLock()
	if e, ok := m.stores[url]; ok {
		m.mu.RUnlock()
		return e, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.stores[url]; ok { // lost the race to create it
		return e, nil
	}

	st, err := chunkstore.Open(filepath.Join(m.rootDir, keyDir(url)), url)
	if err != nil {
		return nil, err
	}
	e := &Entry{URL: url, Store: st}
	e.lastAccess.Store(time.Now().UnixNano())
	m.stores[url] = e
	return e, nil
}

// Touch records e as just-accessed, bumps the throughput counter, and
// kicks off an eviction pass if the cache is now over budget.
func (m *Manager) Touch(e *Entry) {
	now := time.Now().UnixNano()
	e.lastAccess.Store(now)
	m.rate.Incr(1)
	if err := m.index.Set(e.URL, now); err != nil {
		log.Warnf("cachemanager: lru index update for %s failed: %v", e.URL, err)
	}
	go m.evictIfNeeded()
}

// RequestRate returns the number of Touch calls in roughly the last
// second, for /metrics.
func (m *Manager) RequestRate() int64 {
	return m.rate.Rate()
}

// TotalBytes returns the sum of on-disk complete-chunk bytes across
// every registered store. This, not the LRU index, is the authoritative
// size used to decide whether eviction is needed.
func (m *Manager) TotalBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, e := range m.stores {
		total += e.Store.Size()
	}
	return total
}

// evictIfNeeded clears the least-recently-touched stores until total
// size is back under maxTotalBytes. A store currently being written to
// is skipped for this pass rather than blocked on.
func (m *Manager) evictIfNeeded() {
	if m.maxTotalBytes <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	type candidate struct {
		url  string
		e    *Entry
		size int64
	}

	total := int64(0)
	candidates := make([]candidate, 0, len(m.stores))
	for url, e := range m.stores {
		sz := e.Store.Size()
		total += sz
		candidates = append(candidates, candidate{url: url, e: e, size: sz})
	}
	if total <= m.maxTotalBytes {
		return
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].e.lastAccess.Load() < candidates[j].e.lastAccess.Load()
	})

	for _, c := range candidates {
		if total <= m.maxTotalBytes {
			return
		}
		if !c.e.writerMu.TryLock() {
			continue // mid-write: don't evict out from under an active fill
		}
		if err := c.e.Store.Clear(); err != nil {
			log.Warnf("cachemanager: evicting %s failed: %v", c.url, err)
			c.e.writerMu.Unlock()
			continue
		}
		c.e.writerMu.Unlock()

		total -= c.size
		delete(m.stores, c.url)
		_ = m.index.Delete(c.url)
		log.Infof("cachemanager: evicted %s (%d bytes)", c.url, c.size)
	}
}

// Close releases the LRU index's file handles.
func (m *Manager) Close() error {
	return m.index.Close()
}
