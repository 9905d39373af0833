// Package analyzer — cache.go
//
// SpanCache is the optional cross-request detection cache. Analysis of the
// same text against the same engine and type filter is deterministic, so the
// merged result can be reused; for large documents this skips the NER
// sidecar round trip entirely.
//
// Entries are keyed by a SHA-256 over (engine, language, type filter, text)
// and store offsets and entity types only — the cache file never contains
// the matched PII strings or the document text.
//
// Two implementations are provided:
//   - memoryCache — in-memory only, used in tests and when no path is configured.
//   - bboltCache  — embedded key-value store (bbolt), used in production.
package analyzer

import (
	"encoding/json"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"openanonymiser/internal/logger"
)

// SpanCache stores merged detection results by content hash.
// All implementations must be safe for concurrent use.
type SpanCache interface {
	// Get returns the cached spans for the given key, if present.
	Get(key [32]byte) ([]cachedSpan, bool)

	// Set stores spans under key. Overwrites any existing entry silently.
	Set(key [32]byte, spans []cachedSpan)

	// Close releases any resources held by the cache (e.g. file handles).
	Close() error
}

// NewSpanCache returns a bbolt-backed cache when path is non-empty, and an
// in-memory cache otherwise.
func NewSpanCache(path string, log *logger.Logger) (SpanCache, error) {
	if path == "" {
		return newMemoryCache(), nil
	}
	return newBboltCache(path, log)
}

// --- memoryCache ---------------------------------------------------------

type memoryCache struct {
	mu    sync.RWMutex
	store map[[32]byte][]cachedSpan
}

func newMemoryCache() SpanCache {
	return &memoryCache{store: make(map[[32]byte][]cachedSpan)}
}

func (c *memoryCache) Get(key [32]byte) ([]cachedSpan, bool) {
	c.mu.RLock()
	v, ok := c.store[key]
	c.mu.RUnlock()
	return v, ok
}

func (c *memoryCache) Set(key [32]byte, spans []cachedSpan) {
	c.mu.Lock()
	c.store[key] = spans
	c.mu.Unlock()
}

func (c *memoryCache) Close() error { return nil }

// --- bboltCache ----------------------------------------------------------

const bboltBucket = "span_cache"

// bboltCache is a SpanCache backed by an embedded bbolt database. Entries
// survive process restarts. The database file is created at the given path
// if it does not exist.
type bboltCache struct {
	db  *bolt.DB
	log *logger.Logger
}

func newBboltCache(path string, log *logger.Logger) (SpanCache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open span cache %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bboltBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create span cache bucket: %w", err)
	}

	if log == nil {
		log = logger.New("ANALYZER", "info")
	}
	log.Infof("cache_open", "span cache opened at %s", path)
	return &bboltCache{db: db, log: log}, nil
}

func (c *bboltCache) Get(key [32]byte) ([]cachedSpan, bool) {
	var spans []cachedSpan
	found := false
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		v := b.Get(key[:])
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &spans); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		c.log.Warnf("cache_get", "bbolt read: %v", err)
		return nil, false
	}
	return spans, found
}

func (c *bboltCache) Set(key [32]byte, spans []cachedSpan) {
	data, err := json.Marshal(spans)
	if err != nil {
		c.log.Warnf("cache_set", "marshal: %v", err)
		return
	}
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", bboltBucket)
		}
		return b.Put(key[:], data)
	}); err != nil {
		c.log.Warnf("cache_set", "bbolt write: %v", err)
	}
}

func (c *bboltCache) Close() error {
	return c.db.Close()
}
