// Package sqlite implements the local envelope store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"readinghabits/internal/models"
	"readinghabits/internal/storage"
)

// Store implements storage.Store using SQLite
type Store struct {
	db *sql.DB
}

// NewStore opens the SQLite database at path
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	return &Store{db: db}, nil
}

// Initialize creates the envelopes table
func (s *Store) Initialize(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS envelopes (
		storage_key TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Load returns the envelope stored under key
func (s *Store) Load(ctx context.Context, key string) (models.Envelope, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM envelopes WHERE storage_key = ?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Envelope{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Envelope{}, fmt.Errorf("failed to query envelope: %w", err)
	}
	return storage.Decode([]byte(payload))
}

// Save upserts env under key
func (s *Store) Save(ctx context.Context, key string, env models.Envelope) error {
	data, err := storage.Encode(env)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO envelopes (storage_key, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(storage_key) DO UPDATE SET payload = ?, updated_at = ?`,
		key, string(data), now, string(data), now)
	if err != nil {
		return fmt.Errorf("failed to save envelope: %w", err)
	}
	return nil
}

// Clear deletes the envelope stored under key
func (s *Store) Clear(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM envelopes WHERE storage_key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete envelope: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
