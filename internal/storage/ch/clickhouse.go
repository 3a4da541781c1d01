package ch

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"readinghabits/internal/models"
	"readinghabits/internal/storage"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Store keeps envelopes in a ReplacingMergeTree keyed by user identity
type Store struct {
	conn clickhouse.Conn
	now  func() time.Time
}

// NewStore creates a new ClickHouse database connection
func NewStore(host string, port int, database, user, password string, useTLS bool) (*Store, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
	}

	// Configure TLS if enabled
	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test the connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &Store{conn: conn, now: time.Now}, nil
}

// Initialize is a no-op - tables are managed via migrations
func (s *Store) Initialize(ctx context.Context) error {
	return nil
}

// Load returns the most recent envelope written for key
func (s *Store) Load(ctx context.Context, key string) (models.Envelope, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT payload FROM envelopes FINAL
		WHERE user_id = ?
		ORDER BY updated_at DESC
		LIMIT 1`, key)
	if err != nil {
		return models.Envelope{}, fmt.Errorf("failed to query envelope: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return models.Envelope{}, fmt.Errorf("failed to read envelope: %w", err)
		}
		return models.Envelope{}, storage.ErrNotFound
	}

	var payload string
	if err := rows.Scan(&payload); err != nil {
		return models.Envelope{}, fmt.Errorf("failed to scan envelope: %w", err)
	}
	return storage.Decode([]byte(payload))
}

// Save inserts a new version of the envelope for key
func (s *Store) Save(ctx context.Context, key string, env models.Envelope) error {
	data, err := storage.Encode(env)
	if err != nil {
		return err
	}

	err = s.conn.Exec(ctx, `INSERT INTO envelopes (user_id, payload, updated_at) VALUES (?, ?, ?)`,
		key, string(data), s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save envelope: %w", err)
	}
	return nil
}

// Clear deletes every version of the envelope for key
func (s *Store) Clear(ctx context.Context, key string) error {
	if err := s.conn.Exec(ctx, `DELETE FROM envelopes WHERE user_id = ?`, key); err != nil {
		return fmt.Errorf("failed to clear envelope: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
