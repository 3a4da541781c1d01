// Package reconcile keeps a user's working collection, its statistics and
// its goal progress consistent with each other and with persistence.
//
// Every entry point recomputes statistics from the raw books; aggregates
// supplied by callers or found in storage are never trusted. In-memory state
// changes only after the envelope has been verified and written locally.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"readinghabits/internal/goals"
	"readinghabits/internal/goodreads"
	"readinghabits/internal/metrics"
	"readinghabits/internal/models"
	"readinghabits/internal/stats"
	"readinghabits/internal/storage"
)

// State is the lifecycle position of a session
type State string

const (
	StateIdle        State = "idle"
	StateRecomputing State = "recomputing"
	StateReady       State = "ready"
	StateClearing    State = "clearing"
	StateError       State = "error"
)

// Persistence is the envelope port a session reads and writes through
type Persistence interface {
	Load(ctx context.Context, id storage.Identity) (models.Envelope, error)
	Save(ctx context.Context, id storage.Identity, env models.Envelope) error
	Clear(ctx context.Context, id storage.Identity) error
}

// View is the read accessor exposed to surfaces
type View struct {
	ReadingData  []models.ReadBook   `json:"readingData"`
	Stats        models.ReadingStats `json:"stats"`
	GoalProgress models.GoalProgress `json:"goalProgress"`
	Loading      bool                `json:"loading"`
	Error        *ErrorInfo          `json:"error"`
	State        State               `json:"state"`
}

// Option configures a Session
type Option func(*Session)

// WithClock replaces time.Now
func WithClock(clock func() time.Time) Option {
	return func(s *Session) { s.clock = clock }
}

// WithLocation sets the location for calendar buckets and CSV dates
func WithLocation(loc *time.Location) Option {
	return func(s *Session) { s.loc = loc }
}

// WithLogger sets the session logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithDefaultTargets sets the targets used when none are configured
func WithDefaultTargets(t models.Targets) Option {
	return func(s *Session) { s.defaults = goals.WithDefaults(t, goals.DefaultTargets()) }
}

// Session is the reconciliation state machine for one identity
type Session struct {
	identity storage.Identity
	store    Persistence
	logger   *zap.Logger
	clock    func() time.Time
	loc      *time.Location
	defaults models.Targets

	computeStats func([]models.ReadBook, time.Time) models.ReadingStats

	seq      atomic.Uint64
	inflight atomic.Int32

	mu        sync.RWMutex
	committed uint64
	state     State
	books     []models.ReadBook
	stats     models.ReadingStats
	progress  models.GoalProgress
	targets   models.Targets
	err       error
}

// NewSession creates an idle session. Call Load to populate it.
func NewSession(identity storage.Identity, store Persistence, opts ...Option) *Session {
	s := &Session{
		identity:     identity,
		store:        store,
		logger:       zap.NewNop(),
		clock:        time.Now,
		loc:          time.Local,
		defaults:     goals.DefaultTargets(),
		computeStats: stats.Compute,
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("identity", identity.Key))
	s.targets = s.defaults
	s.resetLocked()
	return s
}

// Identity returns the identity the session belongs to
func (s *Session) Identity() storage.Identity {
	return s.identity
}

func (s *Session) now() time.Time {
	return s.clock().In(s.loc)
}

// begin takes an arrival ticket and marks the session as loading. Only
// operations that replace the working collection take a ticket.
func (s *Session) begin() (uint64, func()) {
	s.inflight.Add(1)
	return s.seq.Add(1), func() { s.inflight.Add(-1) }
}

// track marks the session as loading without taking a ticket
func (s *Session) track() func() {
	s.inflight.Add(1)
	return func() { s.inflight.Add(-1) }
}

// View returns a snapshot of the session
func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshotLocked(0)
}

// Targets returns the configured goal targets
func (s *Session) Targets() models.Targets {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.targets
}

// Load reads the persisted envelope and recomputes its aggregates
func (s *Session) Load(ctx context.Context) error {
	ticket, done := s.begin()
	defer done()

	env, loadErr := s.store.Load(ctx, s.identity)

	s.mu.Lock()
	defer s.mu.Unlock()

	if ticket < s.committed {
		return s.supersededLocked(ticket)
	}

	switch {
	case errors.Is(loadErr, storage.ErrNotFound):
		s.logger.Debug("No persisted envelope")
		s.resetLocked()
		s.commitLocked(ticket, StateIdle)
		return nil
	case loadErr != nil:
		return s.failLocked(ticket, loadErr)
	}

	targets := persistedTargets(env.GoalProgress.Targets(), s.defaults)
	if len(env.ReadingData) == 0 {
		s.targets = targets
		s.resetLocked()
		s.commitLocked(ticket, StateIdle)
		return nil
	}

	s.state = StateRecomputing
	return s.applyLocked(ctx, ticket, env.ReadingData, targets)
}

// ProcessNewData replaces the working collection with the books carried by
// payload. The newest arrival wins; an older one that finishes later returns
// ErrSuperseded without touching state.
func (s *Session) ProcessNewData(ctx context.Context, payload Payload) (View, error) {
	if payload == nil {
		return s.View(), fmt.Errorf("%w: empty payload", ErrInvalidImport)
	}

	ticket, done := s.begin()
	defer done()

	metrics.IncUploads(payload.source())

	s.mu.Lock()
	if ticket > s.committed {
		s.state = StateRecomputing
	}
	s.mu.Unlock()

	books, targets, err := s.resolve(payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	if ticket < s.committed {
		return s.viewLocked(), s.supersededLocked(ticket)
	}
	if err != nil {
		return s.viewLocked(), s.failLocked(ticket, err)
	}

	next := s.targets
	if targets != nil {
		next = goals.WithDefaults(*targets, s.targets)
	}
	if err := s.applyLocked(ctx, ticket, books, next); err != nil {
		return s.viewLocked(), err
	}
	return s.viewLocked(), nil
}

// resolve normalizes a payload to the working collection. It runs outside
// the session lock.
func (s *Session) resolve(payload Payload) ([]models.ReadBook, *models.Targets, error) {
	switch p := payload.(type) {
	case CSVUpload:
		if p.Source == nil {
			return nil, nil, &goodreads.SourceReadError{Source: "csv export", Err: errors.New("no data")}
		}
		result, err := goodreads.Parse(p.Source, goodreads.Options{Location: s.loc, Logger: s.logger})
		if err != nil {
			return nil, nil, err
		}
		metrics.AddRowsSkipped(result.Skipped)
		s.logger.Info("Parsed CSV upload",
			zap.Int("rows", result.Rows),
			zap.Int("books", len(result.Books)),
			zap.Int("skipped", result.Skipped),
		)
		return result.Books, nil, nil
	case JSONImport:
		imp, err := DecodeImport(p.Data, s.loc, s.logger)
		if err != nil {
			return nil, nil, err
		}
		metrics.AddRowsSkipped(imp.Skipped)
		s.logger.Info("Decoded JSON import",
			zap.Int("books", len(imp.Books)),
			zap.Int("skipped", imp.Skipped),
		)
		return imp.Books, imp.Targets, nil
	case Books:
		return p.Books, nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: unsupported payload %T", ErrInvalidImport, payload)
	}
}

// UpdateGoals sets new targets and recomputes goal progress. A zero target
// means no goal and reports 0%.
func (s *Session) UpdateGoals(ctx context.Context, yearly, monthly int) (View, error) {
	if yearly < 0 || monthly < 0 {
		return s.View(), fmt.Errorf("%w: yearly=%d monthly=%d", ErrInvalidTargets, yearly, monthly)
	}

	done := s.track()
	defer done()

	s.mu.Lock()
	defer s.mu.Unlock()

	targets := models.Targets{Yearly: yearly, Monthly: monthly}
	env, err := s.computeLocked(s.books, targets)
	if err != nil {
		return s.viewLocked(), s.setErrorLocked(err)
	}
	if err := s.store.Save(ctx, s.identity, env); err != nil {
		return s.viewLocked(), s.setErrorLocked(err)
	}

	s.targets = targets
	s.stats = env.Stats
	s.progress = env.GoalProgress
	s.settleLocked(s.state)
	s.logger.Info("Updated goals", zap.Int("yearly", yearly), zap.Int("monthly", monthly))
	return s.viewLocked(), nil
}

// ClearAll wipes the persisted envelope and resets the session to empty
// defaults, including goal targets
func (s *Session) ClearAll(ctx context.Context) error {
	ticket, done := s.begin()
	defer done()

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.state
	s.state = StateClearing
	if err := s.store.Clear(ctx, s.identity); err != nil {
		s.state = previous
		return s.failLocked(ticket, err)
	}

	s.targets = s.defaults
	s.resetLocked()
	s.commitLocked(ticket, StateIdle)
	s.logger.Info("Cleared reading data")
	return nil
}

// Recalculate rebuilds the aggregates from the working collection and
// replaces the persisted copy with the result. It does not replace the
// collection, so an upload in flight still commits after it.
func (s *Session) Recalculate(ctx context.Context) (View, error) {
	done := s.track()
	defer done()

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.state
	s.state = StateRecomputing
	env, err := s.computeLocked(s.books, s.targets)
	if err != nil {
		return s.viewLocked(), s.setErrorLocked(err)
	}

	if len(s.books) == 0 {
		if err := s.store.Clear(ctx, s.identity); err != nil {
			return s.viewLocked(), s.setErrorLocked(err)
		}
		s.resetLocked()
		s.settleLocked(previous)
		return s.viewLocked(), nil
	}

	// Save replaces the whole envelope, so the old copy survives a failure
	if err := s.store.Save(ctx, s.identity, env); err != nil {
		return s.viewLocked(), s.setErrorLocked(err)
	}

	s.stats = env.Stats
	s.progress = env.GoalProgress
	s.settleLocked(previous)
	s.logger.Info("Recalculated statistics", zap.Int("books", env.Stats.TotalBooks))
	return s.viewLocked(), nil
}

// settleLocked ends an operation that kept the collection. An arrival still
// in flight keeps the recomputing state it set.
func (s *Session) settleLocked(previous State) {
	s.err = nil
	if previous == StateRecomputing && s.seq.Load() > s.committed {
		s.state = StateRecomputing
		return
	}
	s.state = s.settledState()
}

// applyLocked computes, verifies and persists the envelope for books, then
// commits it to memory
func (s *Session) applyLocked(ctx context.Context, ticket uint64, books []models.ReadBook, targets models.Targets) error {
	env, err := s.computeLocked(books, targets)
	if err != nil {
		return s.failLocked(ticket, err)
	}

	if err := s.store.Save(ctx, s.identity, env); err != nil {
		return s.failLocked(ticket, err)
	}

	s.books = env.ReadingData
	s.stats = env.Stats
	s.progress = env.GoalProgress
	s.targets = targets
	s.commitLocked(ticket, s.settledState())

	s.logger.Info("Recomputed statistics",
		zap.Int("books", env.Stats.TotalBooks),
		zap.Int("dated", env.Stats.ReadingPace.BooksPerYear),
	)
	return nil
}

func (s *Session) computeLocked(books []models.ReadBook, targets models.Targets) (env models.Envelope, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &ComputeError{Err: fmt.Errorf("panic: %v", r)}
		}
		metrics.ObserveRecompute(time.Since(start))
		if err != nil {
			metrics.IncRecomputes("error")
		} else {
			metrics.IncRecomputes("ok")
		}
	}()

	now := s.now()
	st := s.computeStats(books, now)
	if err := stats.Consistent(books, st); err != nil {
		return models.Envelope{}, &ComputeError{Err: err}
	}

	return models.Envelope{
		ReadingData:  books,
		Stats:        st,
		GoalProgress: goals.Compute(books, targets, now),
	}, nil
}

// persistedTargets keeps saved targets, including a deliberate zero. An
// envelope with no targets at all, or a negative target, falls back to d.
func persistedTargets(t, d models.Targets) models.Targets {
	if t == (models.Targets{}) {
		return d
	}
	if t.Yearly < 0 {
		t.Yearly = d.Yearly
	}
	if t.Monthly < 0 {
		t.Monthly = d.Monthly
	}
	return t
}

func (s *Session) settledState() State {
	if len(s.books) == 0 {
		return StateIdle
	}
	return StateReady
}

func (s *Session) resetLocked() {
	s.books = nil
	s.stats = stats.Empty(0)
	s.progress = goals.Compute(nil, s.targets, s.now())
}

func (s *Session) commitLocked(ticket uint64, state State) {
	if ticket > s.committed {
		s.committed = ticket
	}
	s.state = state
	s.err = nil
}

// failLocked records err unless a newer arrival already committed
func (s *Session) failLocked(ticket uint64, err error) error {
	if ticket < s.committed {
		return err
	}
	return s.setErrorLocked(err)
}

func (s *Session) setErrorLocked(err error) error {
	s.err = err
	s.state = StateError
	s.logger.Error("Reconciliation failed",
		zap.String("kind", string(Classify(err))),
		zap.Error(err),
	)
	return err
}

func (s *Session) supersededLocked(ticket uint64) error {
	metrics.IncSuperseded()
	s.logger.Info("Discarding superseded arrival",
		zap.Uint64("ticket", ticket),
		zap.Uint64("committed", s.committed),
	)
	return ErrSuperseded
}

// viewLocked is the snapshot returned by an operation, which still counts
// itself as in flight
func (s *Session) viewLocked() View {
	return s.snapshotLocked(1)
}

func (s *Session) snapshotLocked(self int32) View {
	books := make([]models.ReadBook, len(s.books))
	copy(books, s.books)

	return View{
		ReadingData:  books,
		Stats:        s.stats,
		GoalProgress: s.progress,
		Loading:      s.inflight.Load() > self,
		Error:        newErrorInfo(s.err),
		State:        s.state,
	}
}
