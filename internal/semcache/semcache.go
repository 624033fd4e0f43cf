// Package semcache implements the persistent, content-addressed semantic
// vector cache. The cache is a pure function of note content: keyed by
// content hash, never invalidated by time, session or vault path. Removing it
// changes performance, never correctness.
//
// Two tiers: an in-process LRU for the hot set, and a sqlite file that
// outlives the process. Concurrent misses on the same hash are coalesced with
// singleflight so a race costs at most one provider call.
package semcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"

	"github.com/notedrift/geist/internal/embedding"
	"github.com/notedrift/geist/internal/logging"
	"github.com/notedrift/geist/internal/vecmath"
)

// schemaVersion is the on-disk layout this build understands. A newer value
// on disk means another build wrote the file; recomputing over it silently
// could mix normalization schemes, so that is fatal.
const schemaVersion = 1

// ErrCorrupt reports an on-disk schema mismatch or an undecodable row. It is
// fatal by design: the caller should stop rather than recompute incorrectly.
var ErrCorrupt = errors.New("semantic cache corrupt")

// Cache is the semantic vector cache. Safe for concurrent use.
type Cache struct {
	db       *sql.DB
	mem      *lru.Cache[string, []float64]
	provider embedding.Provider
	group    singleflight.Group

	hits          uint64
	misses        uint64
	providerCalls uint64
}

// Open opens or creates the cache database at path and wraps the provider.
// memSize bounds the in-memory tier (<=0 uses 10000, roughly 60MB at 768
// dims).
func Open(path string, provider embedding.Provider, memSize int) (*Cache, error) {
	if memSize <= 0 {
		memSize = 10000
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	// WAL plus a busy timeout so concurrent embed workers sharing the file
	// never surface SQLITE_BUSY as a per-note failure.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cache db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	mem, err := lru.New[string, []float64](memSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create memory tier: %w", err)
	}

	return &Cache{db: db, mem: mem, provider: provider}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS semantic_vectors (
		content_hash TEXT PRIMARY KEY,
		dims INTEGER NOT NULL,
		vector BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`)
	if err != nil {
		return fmt.Errorf("migrate cache: %w", err)
	}

	var version int
	if err := db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("%w: unreadable schema_version: %v", ErrCorrupt, err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: schema version %d, want %d", ErrCorrupt, version, schemaVersion)
	}
	return nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// GetOrCompute returns the L2-normalized semantic vector for the content
// hash. On a hit no provider call is made. On a miss the provider is called
// once (coalesced across concurrent callers), the result normalized, stored,
// and returned. A provider failure leaves the cache untouched.
func (c *Cache) GetOrCompute(ctx context.Context, contentHash, text string) ([]float64, error) {
	if vec, ok := c.mem.Get(contentHash); ok {
		atomic.AddUint64(&c.hits, 1)
		return vec, nil
	}

	if vec, ok, err := c.lookup(contentHash); err != nil {
		return nil, err
	} else if ok {
		atomic.AddUint64(&c.hits, 1)
		c.mem.Add(contentHash, vec)
		return vec, nil
	}

	atomic.AddUint64(&c.misses, 1)

	v, err, _ := c.group.Do(contentHash, func() (any, error) {
		// Another caller may have landed the row while we queued.
		if vec, ok, err := c.lookup(contentHash); err != nil {
			return nil, err
		} else if ok {
			return vec, nil
		}

		atomic.AddUint64(&c.providerCalls, 1)
		raw, err := c.provider.Embed(ctx, text)
		if err != nil {
			return nil, err // typed embedding.ErrUnavailable from the provider
		}
		vec := vecmath.Normalize(raw)
		if err := c.store(contentHash, vec); err != nil {
			return nil, err
		}
		return vec, nil
	})
	if err != nil {
		return nil, err
	}

	vec := v.([]float64)
	c.mem.Add(contentHash, vec)
	return vec, nil
}

// lookup reads one vector from the disk tier.
func (c *Cache) lookup(contentHash string) ([]float64, bool, error) {
	var dims int
	var blob []byte
	err := c.db.QueryRow(
		`SELECT dims, vector FROM semantic_vectors WHERE content_hash = ?`,
		contentHash).Scan(&dims, &blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}

	var vec []float64
	if err := json.Unmarshal(blob, &vec); err != nil || len(vec) != dims {
		return nil, false, fmt.Errorf("%w: undecodable vector for %s", ErrCorrupt, contentHash)
	}
	return vec, true, nil
}

// store writes one vector in a single statement; there is no partial state a
// reader can observe.
func (c *Cache) store(contentHash string, vec []float64) error {
	blob, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("encode vector: %w", err)
	}
	_, err = c.db.Exec(
		`INSERT OR IGNORE INTO semantic_vectors (content_hash, dims, vector) VALUES (?, ?, ?)`,
		contentHash, len(vec), blob)
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Contains reports whether the hash is already cached (either tier), without
// touching the provider.
func (c *Cache) Contains(contentHash string) bool {
	if c.mem.Contains(contentHash) {
		return true
	}
	_, ok, err := c.lookup(contentHash)
	return err == nil && ok
}

// Stats summarizes cache behavior since Open.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	ProviderCalls uint64 `json:"provider_calls"`
	DiskEntries   int    `json:"disk_entries"`
}

// Stats returns hit/miss counters and the disk-tier size.
func (c *Cache) Stats() Stats {
	var entries int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM semantic_vectors`).Scan(&entries); err != nil {
		logging.Debug("semcache", "stats count failed: %v", err)
	}
	return Stats{
		Hits:          atomic.LoadUint64(&c.hits),
		Misses:        atomic.LoadUint64(&c.misses),
		ProviderCalls: atomic.LoadUint64(&c.providerCalls),
		DiskEntries:   entries,
	}
}
