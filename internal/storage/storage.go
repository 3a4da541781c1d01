package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"readinghabits/internal/models"
)

// Store defines the interface for envelope persistence. Each storage key holds
// at most one envelope, written and read as a single unit.
type Store interface {
	// Load returns ErrNotFound when nothing is stored under key
	Load(ctx context.Context, key string) (models.Envelope, error)
	Save(ctx context.Context, key string, env models.Envelope) error
	Clear(ctx context.Context, key string) error

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}

// ErrNotFound is returned by Load when no envelope exists for a key
var ErrNotFound = errors.New("envelope not found")

// ErrEmptyKey is returned when an operation is attempted without a key
var ErrEmptyKey = errors.New("storage key is empty")

// Tier names one side of the persistence composite
type Tier string

const (
	TierLocal  Tier = "local"
	TierRemote Tier = "remote"
)

// Op names a persistence operation
type Op string

const (
	OpLoad  Op = "load"
	OpSave  Op = "save"
	OpClear Op = "clear"
)

// PersistenceError reports a failed load, save or clear on one tier
type PersistenceError struct {
	Tier Tier
	Op   Op
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s %s envelope: %v", e.Op, e.Tier, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Identity is the externally supplied owner of a working collection
type Identity struct {
	Key           string
	Authenticated bool
}

// LocalIdentity is used when a surface supplies no identity at all
func LocalIdentity() Identity {
	return Identity{Key: "anon:local"}
}

// TelegramIdentity is the authenticated identity of a Telegram user
func TelegramIdentity(userID int64) Identity {
	return Identity{Key: "tg:" + strconv.FormatInt(userID, 10), Authenticated: true}
}

// Encode serializes an envelope for byte-oriented stores
func Encode(env models.Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses an envelope written by Encode
func Decode(data []byte) (models.Envelope, error) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return models.Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return env, nil
}
