// Package cache stores woven class units keyed by their input and the
// configuration that produced them.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("stmweave.cache")

// Cache is a SQLite table of woven outputs.
type Cache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens the cache database at path, creating it and its directory
// when missing.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS woven (
		key TEXT PRIMARY KEY,
		output BLOB NOT NULL,
		version INTEGER NOT NULL,
		last_attempt INTEGER NOT NULL DEFAULT -1,
		created INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened cache %s", path)
	return &Cache{db: db, path: path}, nil
}

// Key identifies the woven form of input under the configuration with the
// given fingerprint.
func Key(input []byte, fingerprint string) string {
	h := sha256.New()
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})
	h.Write(input)
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached output for key, or false when there is none.
func (c *Cache) Get(key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []byte
	err := c.db.QueryRow(`SELECT output FROM woven WHERE key = ?`, key).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", key, err)
	}
	return out, true, nil
}

// Put stores output for key, replacing any previous entry. version is the
// format version of output and lastAttempt the highest attempt identifier
// baked into it, or -1.
func (c *Cache) Put(key string, output []byte, version int, lastAttempt int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(`INSERT OR REPLACE INTO woven (key, output, version, last_attempt, created) VALUES (?, ?, ?, ?, ?)`,
		key, output, version, lastAttempt, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// NextAttempt returns the first attempt identifier above every identifier
// baked into a cached output. Weaving from there keeps identifiers unique
// across cached and freshly woven classes.
func (c *Cache) NextAttempt() (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var last int32
	if err := c.db.QueryRow(`SELECT COALESCE(MAX(last_attempt), -1) FROM woven`).Scan(&last); err != nil {
		return 0, fmt.Errorf("reading attempt identifiers: %w", err)
	}
	return last + 1, nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM woven`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return n, nil
}

// Close closes the database connection
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
