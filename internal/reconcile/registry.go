package reconcile

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"readinghabits/internal/metrics"
	"readinghabits/internal/storage"
)

// Registry hands out one Session per identity
type Registry struct {
	store  Persistence
	opts   []Option
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a registry whose sessions share store and opts
func NewRegistry(store Persistence, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:    store,
		opts:     append([]Option{WithLogger(logger)}, opts...),
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for id, creating and loading it on first use. A
// load failure is returned together with the session, which stays
// registered in its error state so a later upload can recover it.
func (r *Registry) Get(ctx context.Context, id storage.Identity) (*Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[id.Key]; ok {
		r.mu.Unlock()
		return s, nil
	}
	s := NewSession(id, r.store, r.opts...)
	r.sessions[id.Key] = s
	metrics.SetSessions(len(r.sessions))
	r.mu.Unlock()

	r.logger.Debug("Created session", zap.String("identity", id.Key))
	if err := s.Load(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// Len returns the number of sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}
