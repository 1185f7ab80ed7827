// Package store persists compiled modules in a SQLite database keyed by the
// SHA-256 of their source text.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/lilium/bytecode"
	"github.com/chazu/lilium/compiler"
)

var log = commonlog.GetLogger("lilium.store")

// ErrClosed is returned by operations on a closed cache.
var ErrClosed = errors.New("module cache is closed")

// Hash is the content address of a source text.
type Hash [32]byte

// HashSource returns the content address of source.
func HashSource(source string) Hash {
	return sha256.Sum256([]byte(source))
}

// String returns the hash in hex.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ModuleCache stores serialized modules in SQLite, fronted by an in-process
// index of decoded modules. Cached modules are shared and must be treated as
// read-only. A ModuleCache is safe for concurrent use.
type ModuleCache struct {
	db   *sql.DB
	path string

	mu     sync.RWMutex
	memo   map[Hash]*bytecode.Module
	closed bool

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Stats reports cache effectiveness since Open.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// Open opens (creating if needed) the cache database at path.
func Open(path string) (*ModuleCache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps writers from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS modules (
		hash       TEXT PRIMARY KEY,
		module     BLOB NOT NULL,
		size       INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &ModuleCache{
		db:   db,
		path: path,
		memo: make(map[Hash]*bytecode.Module),
	}, nil
}

// Path returns the database location.
func (c *ModuleCache) Path() string {
	return c.path
}

// Close closes the database connection.
func (c *ModuleCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.memo = nil
	return c.db.Close()
}

// Get returns the cached module for source. The boolean reports a hit.
// Entries that no longer decode are dropped and reported as misses.
func (c *ModuleCache) Get(ctx context.Context, source string) (*bytecode.Module, bool, error) {
	h := HashSource(source)

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, false, ErrClosed
	}
	m, ok := c.memo[h]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return m, true, nil
	}

	var data []byte
	err := c.db.QueryRowContext(ctx, "SELECT module FROM modules WHERE hash = ?", h.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading module %s: %w", h, err)
	}

	m, err = bytecode.Deserialize(data)
	if err == nil {
		err = m.Validate()
	}
	if err != nil {
		log.Warningf("dropping corrupt cache entry %s: %s", h, err)
		if _, derr := c.db.ExecContext(ctx, "DELETE FROM modules WHERE hash = ?", h.String()); derr != nil {
			return nil, false, fmt.Errorf("deleting module %s: %w", h, derr)
		}
		c.misses.Add(1)
		return nil, false, nil
	}

	c.remember(h, m)
	c.hits.Add(1)
	return m, true, nil
}

// Put stores m as the compiled form of source, replacing any previous entry.
func (c *ModuleCache) Put(ctx context.Context, source string, m *bytecode.Module) error {
	data, err := m.Serialize()
	if err != nil {
		return err
	}
	h := HashSource(source)

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	_, err = c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO modules (hash, module, size, created_at) VALUES (?, ?, ?, ?)",
		h.String(), data, len(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("saving module %s: %w", h, err)
	}
	c.remember(h, m)
	log.Debugf("cached module %s (%d bytes)", h, len(data))
	return nil
}

// Compile returns the cached module for source, compiling and storing it on
// a miss. The boolean reports whether the module came from the cache.
// Compile errors are returned as-is and nothing is stored.
func (c *ModuleCache) Compile(ctx context.Context, source string) (*bytecode.Module, bool, error) {
	m, ok, err := c.Get(ctx, source)
	if err != nil || ok {
		return m, ok, err
	}
	m, err = compiler.Compile(source)
	if err != nil {
		return nil, false, err
	}
	if err := c.Put(ctx, source, m); err != nil {
		return nil, false, err
	}
	return m, false, nil
}

// Purge removes every entry and returns how many were deleted.
func (c *ModuleCache) Purge(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	res, err := c.db.ExecContext(ctx, "DELETE FROM modules")
	if err != nil {
		return 0, fmt.Errorf("purging modules: %w", err)
	}
	clear(c.memo)
	return res.RowsAffected()
}

// Len returns the number of stored modules.
func (c *ModuleCache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM modules").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting modules: %w", err)
	}
	return n, nil
}

// Stats returns hit and miss counters and the number of stored modules.
func (c *ModuleCache) Stats(ctx context.Context) (Stats, error) {
	n, err := c.Len(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: n}, nil
}

func (c *ModuleCache) remember(h Hash, m *bytecode.Module) {
	c.mu.Lock()
	if !c.closed {
		c.memo[h] = m
	}
	c.mu.Unlock()
}
