package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benwis/bmail/internal/bmail"
	"github.com/benwis/bmail/internal/cache/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteCache persists resolved public keys across runs so a restart does not
// re-fetch every counterpart's profile. The schema is managed by embedded
// migrations.
type SQLiteCache struct {
	db *sql.DB
}

var _ bmail.KeyCache = (*SQLiteCache)(nil)

// NewSQLiteCache opens (or creates) the cache database at path and migrates
// it to the latest schema. path can be ":memory:".
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring cache database: %w", err)
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating cache database: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

func (c *SQLiteCache) Get(did string) (*bmail.PublicKeyRecord, bool, error) {
	row := c.db.QueryRow(
		"SELECT did, handle, public_key, fetched_at FROM public_keys WHERE did = ?", did)

	var rec bmail.PublicKeyRecord
	var fetchedAt time.Time
	err := row.Scan(&rec.Identity.DID, &rec.Identity.Handle, &rec.PublicKey, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cached key: %w", err)
	}
	rec.FetchedAt = fetchedAt.UTC()
	return &rec, true, nil
}

// Put replaces the entire row for the DID. Replacing wholesale (rather than
// updating columns) keeps last-fetched-wins semantics under concurrent
// writers.
func (c *SQLiteCache) Put(record *bmail.PublicKeyRecord) error {
	_, err := c.db.Exec(
		`INSERT INTO public_keys (did, handle, public_key, fetched_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(did) DO UPDATE SET
		   handle = excluded.handle,
		   public_key = excluded.public_key,
		   fetched_at = excluded.fetched_at`,
		record.Identity.DID, record.Identity.Handle, record.PublicKey, record.FetchedAt.UTC())
	if err != nil {
		return fmt.Errorf("caching key: %w", err)
	}
	return nil
}

func (c *SQLiteCache) Delete(did string) error {
	if _, err := c.db.Exec("DELETE FROM public_keys WHERE did = ?", did); err != nil {
		return fmt.Errorf("deleting cached key: %w", err)
	}
	return nil
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
