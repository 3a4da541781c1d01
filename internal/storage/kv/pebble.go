// Package kv implements the local envelope store on PebbleDB.
//
// Key schema:
//   - envelope:<storage key> -> envelope JSON
package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble/v2"

	"readinghabits/internal/models"
	"readinghabits/internal/storage"
)

const envelopePrefix = "envelope:"

// Store implements storage.Store using PebbleDB
type Store struct {
	db *pebble.DB
}

// NewStore opens or creates a PebbleDB instance at path
func NewStore(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{
		FormatMajorVersion: pebble.FormatNewest,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open PebbleDB: %w", err)
	}
	return &Store{db: db}, nil
}

func envelopeKey(key string) []byte {
	return []byte(envelopePrefix + key)
}

// Initialize is a no-op, Pebble needs no schema
func (s *Store) Initialize(ctx context.Context) error {
	return nil
}

// Load returns the envelope stored under key
func (s *Store) Load(ctx context.Context, key string) (models.Envelope, error) {
	value, closer, err := s.db.Get(envelopeKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return models.Envelope{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Envelope{}, fmt.Errorf("failed to get envelope: %w", err)
	}
	defer closer.Close()

	return storage.Decode(value)
}

// Save writes env under key, synced to disk
func (s *Store) Save(ctx context.Context, key string, env models.Envelope) error {
	data, err := storage.Encode(env)
	if err != nil {
		return err
	}
	if err := s.db.Set(envelopeKey(key), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to set envelope: %w", err)
	}
	return nil
}

// Clear deletes the envelope stored under key
func (s *Store) Clear(ctx context.Context, key string) error {
	if err := s.db.Delete(envelopeKey(key), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete envelope: %w", err)
	}
	return nil
}

// Close closes the underlying PebbleDB
func (s *Store) Close() error {
	return s.db.Close()
}
