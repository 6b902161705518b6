// Package cache provides content-addressed, TTL-based persistence for op
// and flow results. Each namespace is one directory holding a payload file
// per key and a sqlite index recording creation time, expiry and payload kind.
package cache

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loomworks/loom/pkg/errors"
)

// Kind identifies the payload serialization.
type Kind string

const (
	KindText  Kind = "text"
	KindJSON  Kind = "json"
	KindTable Kind = "table"
)

var payloadExt = map[Kind]string{
	KindText:  ".txt",
	KindJSON:  ".json",
	KindTable: ".csv",
}

// Cache is one persistent namespace. The zero value is a disabled cache;
// every access to it fails with CodeConfiguration.
type Cache struct {
	dir string
	db  *sql.DB
	ttl time.Duration
}

// Open creates or reopens a cache namespace rooted at dir. A zero ttl
// disables expiry.
func Open(dir string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("open cache index: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			key        TEXT PRIMARY KEY,
			kind       TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure cache schema: %w", err)
	}
	return &Cache{dir: dir, db: db, ttl: ttl}, nil
}

// Close releases the index handle.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Cache) ensureEnabled() error {
	if c == nil || c.db == nil {
		return errors.New(errors.CodeConfiguration, "cache is disabled", nil)
	}
	return nil
}

// put records the index row and writes the payload file.
func (c *Cache) put(ctx context.Context, key string, kind Kind, payload []byte) error {
	if err := c.ensureEnabled(); err != nil {
		return err
	}
	now := time.Now().UTC()
	var expires int64
	if c.ttl > 0 {
		expires = now.Add(c.ttl).Unix()
	}
	if err := os.WriteFile(c.payloadPath(key, kind), payload, 0o644); err != nil {
		return fmt.Errorf("write cache payload: %w", err)
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO entries (key, kind, created_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET kind = excluded.kind,
			created_at = excluded.created_at, expires_at = excluded.expires_at
	`, key, string(kind), now.Unix(), expires)
	return err
}

// get returns the payload for key, reporting a miss for absent or expired
// entries. Expired entries are pruned on access.
func (c *Cache) get(ctx context.Context, key string) ([]byte, Kind, bool, error) {
	if err := c.ensureEnabled(); err != nil {
		return nil, "", false, err
	}
	var kind string
	var expires int64
	err := c.db.QueryRowContext(ctx,
		`SELECT kind, expires_at FROM entries WHERE key = ?`, key).Scan(&kind, &expires)
	if err == sql.ErrNoRows {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, err
	}
	if expires > 0 && time.Now().Unix() >= expires {
		c.evict(ctx, key, Kind(kind))
		return nil, "", false, nil
	}
	payload, err := os.ReadFile(c.payloadPath(key, Kind(kind)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", false, nil
		}
		return nil, "", false, err
	}
	return payload, Kind(kind), true, nil
}

func (c *Cache) evict(ctx context.Context, key string, kind Kind) {
	c.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key)
	os.Remove(c.payloadPath(key, kind))
}

func (c *Cache) payloadPath(key string, kind Kind) string {
	return filepath.Join(c.dir, key+payloadExt[kind])
}

// PutText stores a text payload under key.
func (c *Cache) PutText(ctx context.Context, key, text string) error {
	return c.put(ctx, key, KindText, []byte(text))
}

// GetText returns a text payload and whether it was found unexpired.
func (c *Cache) GetText(ctx context.Context, key string) (string, bool, error) {
	payload, _, ok, err := c.get(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	return string(payload), true, nil
}

// PutJSON stores a structured payload under key.
func (c *Cache) PutJSON(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache payload: %w", err)
	}
	return c.put(ctx, key, KindJSON, payload)
}

// GetJSON decodes a structured payload into out, reporting whether the key
// was found unexpired.
func (c *Cache) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	payload, _, ok, err := c.get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return false, fmt.Errorf("decode cache payload: %w", err)
	}
	return true, nil
}

// PutTable stores tabular rows as CSV under key.
func (c *Cache) PutTable(ctx context.Context, key string, rows [][]string) error {
	var buf bytes.Buffer
	if err := csv.NewWriter(&buf).WriteAll(rows); err != nil {
		return fmt.Errorf("encode cache table: %w", err)
	}
	return c.put(ctx, key, KindTable, buf.Bytes())
}

// GetTable returns tabular rows and whether the key was found unexpired.
func (c *Cache) GetTable(ctx context.Context, key string) ([][]string, bool, error) {
	payload, _, ok, err := c.get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	rows, err := csv.NewReader(bytes.NewReader(payload)).ReadAll()
	if err != nil {
		return nil, false, fmt.Errorf("decode cache table: %w", err)
	}
	return rows, true, nil
}
