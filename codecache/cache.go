// Package codecache persists compiled units in a SQLite database, keyed by
// the BLAKE2b-256 digest of the IR source they were selected from.
package codecache

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	"golang.org/x/crypto/blake2b"
	_ "modernc.org/sqlite"

	"github.com/chazu/moth/ir"
	"github.com/chazu/moth/isel"
	"github.com/chazu/moth/vm"
)

var log = commonlog.GetLogger("moth.codecache")

// ErrMiss indicates the requested unit is not cached.
var ErrMiss = errors.New("codecache: miss")

// formatVersion is mixed into every key. Bump it whenever the bytecode
// layout changes so stale units are never loaded.
const formatVersion = 1

// Key identifies a compiled unit by content.
type Key [32]byte

// KeyOf returns the cache key of an IR source document.
func KeyOf(source []byte) Key {
	buf := make([]byte, 0, len(source)+1)
	buf = append(buf, formatVersion)
	buf = append(buf, source...)
	return blake2b.Sum256(buf)
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Stats summarizes the cache contents.
type Stats struct {
	Units int
	Bytes int64
	Hits  int64
}

// Cache stores CBOR-encoded compiled units.
type Cache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens (creating if needed) the cache database at path. The path
// ":memory:" opens a private in-memory cache.
func Open(path string) (*Cache, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	// A single connection keeps ":memory:" databases from splitting.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS units (
		key     BLOB PRIMARY KEY,
		name    TEXT NOT NULL,
		unit    BLOB NOT NULL,
		created INTEGER NOT NULL,
		hits    INTEGER NOT NULL DEFAULT 0
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened cache %s", path)
	return &Cache{db: db, path: path}, nil
}

// Path returns the database location.
func (c *Cache) Path() string { return c.path }

// Close closes the database.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Get loads the unit stored under key. A unit that no longer decodes or
// verifies is dropped and reported as a miss.
func (c *Cache) Get(ctx context.Context, key Key) (*vm.CompiledFunction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var data []byte
	err := c.db.QueryRowContext(ctx, "SELECT unit FROM units WHERE key = ?", key[:]).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("querying unit: %w", err)
	}

	cf, err := vm.UnmarshalUnit(data)
	if err != nil {
		log.Warningf("dropping unreadable unit %s: %s", key, err)
		if _, derr := c.db.ExecContext(ctx, "DELETE FROM units WHERE key = ?", key[:]); derr != nil {
			return nil, fmt.Errorf("deleting unit: %w", derr)
		}
		return nil, fmt.Errorf("%w: %v", ErrMiss, err)
	}

	if _, err := c.db.ExecContext(ctx, "UPDATE units SET hits = hits + 1 WHERE key = ?", key[:]); err != nil {
		return nil, fmt.Errorf("counting hit: %w", err)
	}
	return cf, nil
}

// Put stores cf under key, replacing any previous unit.
func (c *Cache) Put(ctx context.Context, key Key, cf *vm.CompiledFunction) error {
	data, err := vm.MarshalUnit(cf)
	if err != nil {
		return fmt.Errorf("encoding unit: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO units (key, name, unit, created) VALUES (?, ?, ?, ?)",
		key[:], cf.Name, data, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving unit: %w", err)
	}
	return nil
}

// Compile returns the unit for an IR source, selecting and storing it on a
// miss. The boolean reports whether the unit came from the cache.
func (c *Cache) Compile(ctx context.Context, source []byte) (*vm.CompiledFunction, bool, error) {
	key := KeyOf(source)
	cf, err := c.Get(ctx, key)
	if err == nil {
		log.Debugf("hit %s (%s)", key, cf.Name)
		return cf, true, nil
	}
	if !errors.Is(err, ErrMiss) {
		return nil, false, err
	}

	cf, err = CompileSource(source)
	if err != nil {
		return nil, false, err
	}
	if err := c.Put(ctx, key, cf); err != nil {
		return nil, false, err
	}
	log.Debugf("stored %s (%s)", key, cf.Name)
	return cf, false, nil
}

// CompileSource decodes, selects and verifies an IR document without
// caching. Selected code that fails verification is reported as an internal
// compiler error and never returned.
func CompileSource(source []byte) (*vm.CompiledFunction, error) {
	mod, err := ir.Decode(source)
	if err != nil {
		return nil, err
	}
	cf, err := isel.SelectModule(mod)
	if err != nil {
		return nil, err
	}
	if err := vm.Verify(cf); err != nil {
		return nil, fmt.Errorf("%w: %v", isel.ErrInternal, err)
	}
	return cf, nil
}

// Stats reports the number of units, their total encoded size and the
// number of hits served.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s Stats
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(LENGTH(unit)), 0), COALESCE(SUM(hits), 0) FROM units",
	).Scan(&s.Units, &s.Bytes, &s.Hits)
	if err != nil {
		return Stats{}, fmt.Errorf("querying stats: %w", err)
	}
	return s, nil
}

// Purge removes every unit.
func (c *Cache) Purge(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.db.ExecContext(ctx, "DELETE FROM units"); err != nil {
		return fmt.Errorf("purging cache: %w", err)
	}
	return nil
}
