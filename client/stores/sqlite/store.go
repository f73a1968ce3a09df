// Package sqlite provides a SQLite-backed key-value store for the client,
// for setups where several processes share one token store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iam-ankon/TADREACT-sub005/client"
)

// Store keeps values per origin in a single table
type Store struct {
	db *sql.DB
}

// NewStore opens (and creates if needed) the database at path.
// Use ":memory:" for a throwaway store.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS kv (
            origin TEXT NOT NULL,
            key TEXT NOT NULL,
            value TEXT NOT NULL,
            updated_at TIMESTAMP NOT NULL,
            PRIMARY KEY (origin, key)
        );
    `)
	return err
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// ForOrigin returns a client.KeyValueStore scoped to the origin of serverURL
func (s *Store) ForOrigin(serverURL string) (client.KeyValueStore, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return &originStore{s: s, origin: fmt.Sprintf("%s://%s", u.Scheme, u.Host)}, nil
}

// Get returns the value for origin/key, or "" if absent
func (s *Store) Get(ctx context.Context, origin, key string) (string, error) {
	var value string
	row := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE origin = ? AND key = ?`, origin, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// Set upserts origin/key
func (s *Store) Set(ctx context.Context, origin, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO kv (origin, key, value, updated_at) VALUES (?, ?, ?, ?)
        ON CONFLICT(origin, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
    `, origin, key, value, time.Now().UTC())
	return err
}

// Delete removes origin/key; missing keys are not an error
func (s *Store) Delete(ctx context.Context, origin, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE origin = ? AND key = ?`, origin, key)
	return err
}

type originStore struct {
	s      *Store
	origin string
}

func (o *originStore) Get(key string) (string, error) {
	return o.s.Get(context.Background(), o.origin, key)
}

func (o *originStore) Set(key, value string) error {
	return o.s.Set(context.Background(), o.origin, key, value)
}

func (o *originStore) Delete(key string) error {
	return o.s.Delete(context.Background(), o.origin, key)
}
