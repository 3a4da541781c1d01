package storage

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"readinghabits/internal/metrics"
	"readinghabits/internal/models"
)

// Persistence combines an always-available local store with an optional
// remote store used for authenticated identities. Local is the store of
// record: its failures are returned, remote failures are only logged.
type Persistence struct {
	local  Store
	remote Store
	logger *zap.Logger
}

// NewPersistence creates the composite. remote may be nil.
func NewPersistence(local, remote Store, logger *zap.Logger) *Persistence {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persistence{local: local, remote: remote, logger: logger}
}

// HasRemote reports whether a remote tier is configured
func (p *Persistence) HasRemote() bool {
	return p.remote != nil
}

func (p *Persistence) useRemote(id Identity) bool {
	return p.remote != nil && id.Authenticated
}

// Load returns the envelope for id. Authenticated identities read the remote
// tier first and mirror a hit into the local tier; a remote miss or failure
// falls back to local. Returns ErrNotFound when neither tier has data.
func (p *Persistence) Load(ctx context.Context, id Identity) (models.Envelope, error) {
	if id.Key == "" {
		return models.Envelope{}, &PersistenceError{Tier: TierLocal, Op: OpLoad, Err: ErrEmptyKey}
	}

	if p.useRemote(id) {
		env, err := p.remote.Load(ctx, id.Key)
		switch {
		case err == nil:
			if err := p.local.Save(ctx, id.Key, env); err != nil {
				p.remoteFailure(TierLocal, OpSave, id, err)
			}
			return env, nil
		case errors.Is(err, ErrNotFound):
			p.logger.Debug("No remote envelope, falling back to local", zap.String("key", id.Key))
		default:
			p.remoteFailure(TierRemote, OpLoad, id, err)
		}
	}

	env, err := p.local.Load(ctx, id.Key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.Envelope{}, ErrNotFound
		}
		metrics.IncPersistenceFailure(string(TierLocal), string(OpLoad))
		return models.Envelope{}, &PersistenceError{Tier: TierLocal, Op: OpLoad, Err: err}
	}
	return env, nil
}

// Save writes env locally, then remotely for authenticated identities
func (p *Persistence) Save(ctx context.Context, id Identity, env models.Envelope) error {
	if id.Key == "" {
		return &PersistenceError{Tier: TierLocal, Op: OpSave, Err: ErrEmptyKey}
	}

	if err := p.local.Save(ctx, id.Key, env); err != nil {
		metrics.IncPersistenceFailure(string(TierLocal), string(OpSave))
		return &PersistenceError{Tier: TierLocal, Op: OpSave, Err: err}
	}

	if p.useRemote(id) {
		if err := p.remote.Save(ctx, id.Key, env); err != nil {
			p.remoteFailure(TierRemote, OpSave, id, err)
		}
	}
	return nil
}

// Clear removes the envelope from both tiers
func (p *Persistence) Clear(ctx context.Context, id Identity) error {
	if id.Key == "" {
		return &PersistenceError{Tier: TierLocal, Op: OpClear, Err: ErrEmptyKey}
	}

	if err := p.local.Clear(ctx, id.Key); err != nil {
		metrics.IncPersistenceFailure(string(TierLocal), string(OpClear))
		return &PersistenceError{Tier: TierLocal, Op: OpClear, Err: err}
	}

	if p.useRemote(id) {
		if err := p.remote.Clear(ctx, id.Key); err != nil {
			p.remoteFailure(TierRemote, OpClear, id, err)
		}
	}
	return nil
}

// Close closes both tiers
func (p *Persistence) Close() error {
	var errs []error
	if err := p.local.Close(); err != nil {
		errs = append(errs, err)
	}
	if p.remote != nil {
		if err := p.remote.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Persistence) remoteFailure(tier Tier, op Op, id Identity, err error) {
	metrics.IncPersistenceFailure(string(tier), string(op))
	p.logger.Warn("Non-blocking persistence failure",
		zap.String("tier", string(tier)),
		zap.String("op", string(op)),
		zap.String("key", id.Key),
		zap.Error(err),
	)
}
