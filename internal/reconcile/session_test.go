package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"readinghabits/internal/goodreads"
	"readinghabits/internal/models"
	"readinghabits/internal/stats"
	"readinghabits/internal/storage"
	"readinghabits/internal/storage/stubs"
)

var (
	fixedNow = time.Date(2024, time.March, 20, 10, 0, 0, 0, time.UTC)
	anon     = storage.Identity{Key: "anon:test"}
	user     = storage.Identity{Key: "tg:7", Authenticated: true}
)

type fixture struct {
	local  *stubs.MockStore
	remote *stubs.MockStore
	store  *storage.Persistence
}

func newFixture() *fixture {
	local := stubs.NewMockStore()
	remote := stubs.NewMockStore()
	return &fixture{local: local, remote: remote, store: storage.NewPersistence(local, remote, zap.NewNop())}
}

func (f *fixture) session(id storage.Identity) *Session {
	return NewSession(id, f.store,
		WithClock(func() time.Time { return fixedNow }),
		WithLocation(time.UTC),
		WithLogger(zap.NewNop()),
	)
}

func dated(title, author string, rating, pages int, d time.Time) models.ReadBook {
	return models.ReadBook{Title: title, Author: author, MyRating: rating, Pages: pages, DateRead: &d}
}

func sampleBooks() []models.ReadBook {
	return []models.ReadBook{
		dated("Kindred", "Octavia E. Butler", 5, 264, time.Date(2024, time.January, 3, 0, 0, 0, 0, time.UTC)),
		dated("Parable of the Sower", "Octavia E. Butler", 4, 345, time.Date(2024, time.March, 12, 0, 0, 0, 0, time.UTC)),
		dated("Piranesi", "Susanna Clarke", 4, 272, time.Date(2023, time.October, 1, 0, 0, 0, 0, time.UTC)),
		{Title: "Undated", Author: "Someone", MyRating: 3, Pages: 100},
	}
}

const sampleCSV = "Title,Author,My Rating,Number of Pages,Date Read,Exclusive Shelf\n" +
	"Kindred,Octavia E. Butler,5,264,2024/01/03,read\n" +
	"Dawn,Octavia E. Butler,0,248,,to-read\n" +
	"Piranesi,Susanna Clarke,4,272,2023-10-01,read\n"

// TestSession_ProcessCSVUpload tests the upload path end to end
func TestSession_ProcessCSVUpload(t *testing.T) {
	f := newFixture()
	s := f.session(anon)

	view, err := s.ProcessNewData(context.Background(), CSVUpload{Source: strings.NewReader(sampleCSV)})
	require.NoError(t, err)

	assert.Equal(t, StateReady, view.State)
	assert.Nil(t, view.Error)
	require.Len(t, view.ReadingData, 2)
	assert.Equal(t, 2, view.Stats.TotalBooks)
	assert.Equal(t, map[string]int{"2023": 1, "2024": 1}, view.Stats.ReadingByYear)
	assert.Equal(t, 1, view.GoalProgress.Yearly.Current)
	assert.Equal(t, 52, view.GoalProgress.Yearly.Target)

	persisted, err := f.local.Load(context.Background(), anon.Key)
	require.NoError(t, err)
	assert.Len(t, persisted.ReadingData, 2)
	assert.Equal(t, view.Stats.TotalBooks, persisted.Stats.TotalBooks)
	assert.Empty(t, f.remote.Keys(), "anonymous sessions never write remotely")
}

// TestSession_ImportIgnoresStaleStats tests that supplied aggregates are never trusted
func TestSession_ImportIgnoresStaleStats(t *testing.T) {
	f := newFixture()
	s := f.session(anon)

	data := `{
		"books": [
			{"title": "Kindred", "author": "Octavia E. Butler", "myRating": 5, "pages": 264, "dateRead": "2024-01-03T00:00:00Z"},
			{"title": "Piranesi", "author": "Susanna Clarke", "myRating": 4, "pages": 272, "dateRead": "2023-10-01T00:00:00Z"}
		],
		"stats": {"totalBooks": 999, "averageRating": 1.5, "readingByYear": {"1999": 999}}
	}`

	view, err := s.ProcessNewData(context.Background(), JSONImport{Data: []byte(data)})
	require.NoError(t, err)

	expected := stats.Compute(view.ReadingData, fixedNow)
	if diff := cmp.Diff(expected, view.Stats); diff != "" {
		t.Errorf("exposed stats differ from a fresh computation (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, view.Stats.TotalBooks)
	assert.NotContains(t, view.Stats.ReadingByYear, "1999")
}

// TestSession_ImportKeepsTargets tests that goal targets in a backup are kept as configuration
func TestSession_ImportKeepsTargets(t *testing.T) {
	f := newFixture()
	s := f.session(anon)

	data := `{"readingData": [{"title": "A", "author": "B", "dateRead": "2024-03-01"}],
		"goalProgress": {"yearly": {"current": 40, "target": 24, "percentage": 99}, "monthly": {"current": 0, "target": 0, "percentage": 0}}}`

	view, err := s.ProcessNewData(context.Background(), JSONImport{Data: []byte(data)})
	require.NoError(t, err)

	assert.Equal(t, models.Goal{Current: 1, Target: 24, Percentage: 4}, view.GoalProgress.Yearly)
	assert.Equal(t, models.Goal{Current: 1, Target: 4, Percentage: 25}, view.GoalProgress.Monthly)
	assert.Equal(t, models.Targets{Yearly: 24, Monthly: 4}, s.Targets())
}

// TestSession_LoadRecomputes tests that persisted aggregates are replaced on load
func TestSession_LoadRecomputes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.local.Save(ctx, anon.Key, models.Envelope{
		ReadingData:  sampleBooks(),
		Stats:        models.ReadingStats{TotalBooks: 1, AverageRating: 0.5},
		GoalProgress: models.GoalProgress{Yearly: models.Goal{Current: 99, Target: 30}, Monthly: models.Goal{Target: 3}},
	}))

	s := f.session(anon)
	require.NoError(t, s.Load(ctx))

	view := s.View()
	assert.Equal(t, StateReady, view.State)
	assert.False(t, view.Loading)
	assert.Equal(t, 4, view.Stats.TotalBooks)
	assert.Equal(t, 3, view.Stats.ReadingPace.BooksPerYear)
	assert.Equal(t, models.Goal{Current: 2, Target: 30, Percentage: 7}, view.GoalProgress.Yearly)
	assert.Equal(t, models.Goal{Current: 1, Target: 3, Percentage: 33}, view.GoalProgress.Monthly)

	persisted, err := f.local.Load(ctx, anon.Key)
	require.NoError(t, err)
	assert.Equal(t, 4, persisted.Stats.TotalBooks, "fresh envelope is persisted")
}

// TestSession_LoadEmpty tests empty and missing envelopes
func TestSession_LoadEmpty(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		f := newFixture()
		s := f.session(anon)

		require.NoError(t, s.Load(context.Background()))

		view := s.View()
		assert.Equal(t, StateIdle, view.State)
		assert.Empty(t, view.ReadingData)
		assert.Equal(t, stats.Empty(0), view.Stats)
		assert.Equal(t, 52, view.GoalProgress.Yearly.Target)
	})

	t.Run("empty reading data", func(t *testing.T) {
		f := newFixture()
		ctx := context.Background()
		require.NoError(t, f.local.Save(ctx, anon.Key, models.Envelope{
			ReadingData:  []models.ReadBook{},
			Stats:        models.ReadingStats{TotalBooks: 12},
			GoalProgress: models.GoalProgress{Yearly: models.Goal{Target: 20}},
		}))
		s := f.session(anon)

		require.NoError(t, s.Load(ctx))

		view := s.View()
		assert.Equal(t, StateIdle, view.State)
		assert.Zero(t, view.Stats.TotalBooks)
		assert.Equal(t, models.Targets{Yearly: 20, Monthly: 0}, s.Targets())
	})

	t.Run("no targets", func(t *testing.T) {
		f := newFixture()
		ctx := context.Background()
		require.NoError(t, f.local.Save(ctx, anon.Key, models.Envelope{ReadingData: []models.ReadBook{}}))
		s := f.session(anon)

		require.NoError(t, s.Load(ctx))
		assert.Equal(t, models.Targets{Yearly: 52, Monthly: 4}, s.Targets())
	})
}

// TestSession_LoadFailure tests that a local load failure surfaces as an error state
func TestSession_LoadFailure(t *testing.T) {
	f := newFixture()
	f.local.FailOn(storage.OpLoad, errors.New("corrupt database"))
	s := f.session(anon)

	err := s.Load(context.Background())
	require.Error(t, err)

	view := s.View()
	assert.Equal(t, StateError, view.State)
	require.NotNil(t, view.Error)
	assert.Equal(t, KindPersistence, view.Error.Kind)

	// recoverable by uploading new data
	f.local.FailOn(storage.OpLoad, nil)
	view, err = s.ProcessNewData(context.Background(), Books{Books: sampleBooks()})
	require.NoError(t, err)
	assert.Equal(t, StateReady, view.State)
	assert.Nil(t, view.Error)
}

// TestSession_SourceReadError tests that an unreadable upload keeps the previous collection
func TestSession_SourceReadError(t *testing.T) {
	f := newFixture()
	s := f.session(anon)
	ctx := context.Background()
	_, err := s.ProcessNewData(ctx, Books{Books: sampleBooks()})
	require.NoError(t, err)

	view, err := s.ProcessNewData(ctx, CSVUpload{Source: strings.NewReader("")})

	var srcErr *goodreads.SourceReadError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, StateError, view.State)
	require.NotNil(t, view.Error)
	assert.Equal(t, KindSourceRead, view.Error.Kind)
	assert.Len(t, view.ReadingData, 4)
}

// TestSession_ComputeErrorLeavesPersistedData tests write-after-verify
func TestSession_ComputeErrorLeavesPersistedData(t *testing.T) {
	testCases := []struct {
		name    string
		compute func([]models.ReadBook, time.Time) models.ReadingStats
	}{
		{"panic", func([]models.ReadBook, time.Time) models.ReadingStats { panic("index out of range") }},
		{"inconsistent", func([]models.ReadBook, time.Time) models.ReadingStats { return models.ReadingStats{TotalBooks: -1} }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			s := f.session(anon)
			ctx := context.Background()
			_, err := s.ProcessNewData(ctx, Books{Books: sampleBooks()})
			require.NoError(t, err)
			saves := f.local.Calls(storage.OpSave)

			s.computeStats = tc.compute
			view, err := s.ProcessNewData(ctx, Books{Books: sampleBooks()[:1]})

			var computeErr *ComputeError
			require.ErrorAs(t, err, &computeErr)
			assert.Equal(t, KindCompute, view.Error.Kind)
			assert.Len(t, view.ReadingData, 4, "in-memory collection untouched")
			assert.Equal(t, saves, f.local.Calls(storage.OpSave), "nothing written")

			persisted, err := f.local.Load(ctx, anon.Key)
			require.NoError(t, err)
			assert.Len(t, persisted.ReadingData, 4)
		})
	}
}

// TestSession_LocalSaveFailure tests that a blocking local failure leaves state untouched
func TestSession_LocalSaveFailure(t *testing.T) {
	f := newFixture()
	s := f.session(anon)
	ctx := context.Background()
	_, err := s.ProcessNewData(ctx, Books{Books: sampleBooks()})
	require.NoError(t, err)

	f.local.FailOn(storage.OpSave, errors.New("quota exceeded"))
	view, err := s.ProcessNewData(ctx, Books{Books: sampleBooks()[:2]})

	var perr *storage.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindPersistence, view.Error.Kind)
	assert.Len(t, view.ReadingData, 4)
	assert.Equal(t, 4, view.Stats.TotalBooks)
}

// TestSession_RemoteFailureIsNonBlocking tests that authenticated sessions survive remote outages
func TestSession_RemoteFailureIsNonBlocking(t *testing.T) {
	f := newFixture()
	f.remote.FailOn(storage.OpSave, errors.New("connection refused"))
	s := f.session(user)

	view, err := s.ProcessNewData(context.Background(), Books{Books: sampleBooks()})
	require.NoError(t, err)
	assert.Equal(t, StateReady, view.State)
	assert.Nil(t, view.Error)
	assert.Equal(t, []string{user.Key}, f.local.Keys())
	assert.Empty(t, f.remote.Keys())
}

// TestSession_AuthenticatedWritesRemote tests that authenticated sessions reach the remote tier
func TestSession_AuthenticatedWritesRemote(t *testing.T) {
	f := newFixture()
	s := f.session(user)

	_, err := s.ProcessNewData(context.Background(), Books{Books: sampleBooks()})
	require.NoError(t, err)

	env, err := f.remote.Load(context.Background(), user.Key)
	require.NoError(t, err)
	assert.Len(t, env.ReadingData, 4)
}

// TestSession_UpdateGoals tests target edits
func TestSession_UpdateGoals(t *testing.T) {
	f := newFixture()
	s := f.session(anon)
	ctx := context.Background()
	_, err := s.ProcessNewData(ctx, Books{Books: sampleBooks()})
	require.NoError(t, err)

	view, err := s.UpdateGoals(ctx, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, models.Goal{Current: 2, Target: 10, Percentage: 20}, view.GoalProgress.Yearly)
	assert.Equal(t, models.Goal{Current: 1, Target: 2, Percentage: 50}, view.GoalProgress.Monthly)

	persisted, err := f.local.Load(ctx, anon.Key)
	require.NoError(t, err)
	assert.Equal(t, models.Targets{Yearly: 10, Monthly: 2}, persisted.GoalProgress.Targets())

	// targets survive a reload
	reloaded := f.session(anon)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, models.Targets{Yearly: 10, Monthly: 2}, reloaded.Targets())

	_, err = s.UpdateGoals(ctx, -1, 2)
	assert.ErrorIs(t, err, ErrInvalidTargets)
	assert.Equal(t, KindInvalidInput, Classify(err))
	assert.Equal(t, models.Targets{Yearly: 10, Monthly: 2}, s.Targets())
}

// TestSession_UpdateGoals_ZeroTarget tests that a zero target means no goal
func TestSession_UpdateGoals_ZeroTarget(t *testing.T) {
	f := newFixture()
	s := f.session(anon)
	ctx := context.Background()
	_, err := s.ProcessNewData(ctx, Books{Books: sampleBooks()})
	require.NoError(t, err)

	view, err := s.UpdateGoals(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, models.Goal{Current: 2, Target: 0, Percentage: 0}, view.GoalProgress.Yearly)
	assert.Equal(t, models.Goal{Current: 1, Target: 2, Percentage: 50}, view.GoalProgress.Monthly)

	reloaded := f.session(anon)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, models.Targets{Yearly: 0, Monthly: 2}, reloaded.Targets())
	assert.Equal(t, 0, reloaded.View().GoalProgress.Yearly.Percentage)
}

// TestSession_ClearAll tests wiping the working collection
func TestSession_ClearAll(t *testing.T) {
	f := newFixture()
	s := f.session(user)
	ctx := context.Background()
	_, err := s.ProcessNewData(ctx, Books{Books: sampleBooks()})
	require.NoError(t, err)
	_, err = s.UpdateGoals(ctx, 12, 1)
	require.NoError(t, err)

	require.NoError(t, s.ClearAll(ctx))

	view := s.View()
	assert.Equal(t, StateIdle, view.State)
	assert.Empty(t, view.ReadingData)
	assert.Equal(t, stats.Empty(0), view.Stats)
	assert.Equal(t, models.Targets{Yearly: 52, Monthly: 4}, s.Targets())
	assert.Empty(t, f.local.Keys())
	assert.Empty(t, f.remote.Keys())
}

// TestSession_ClearFailure tests that a failed clear keeps the collection
func TestSession_ClearFailure(t *testing.T) {
	f := newFixture()
	s := f.session(anon)
	ctx := context.Background()
	_, err := s.ProcessNewData(ctx, Books{Books: sampleBooks()})
	require.NoError(t, err)

	f.local.FailOn(storage.OpClear, errors.New("locked"))
	require.Error(t, s.ClearAll(ctx))

	view := s.View()
	assert.Equal(t, StateError, view.State)
	assert.Len(t, view.ReadingData, 4)
}

// TestSession_Recalculate tests rebuilding the persisted copy
func TestSession_Recalculate(t *testing.T) {
	f := newFixture()
	s := f.session(anon)
	ctx := context.Background()
	_, err := s.ProcessNewData(ctx, Books{Books: sampleBooks()})
	require.NoError(t, err)

	view, err := s.Recalculate(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateReady, view.State)
	assert.Zero(t, f.local.Calls(storage.OpClear), "save replaces the envelope in place")

	persisted, err := f.local.Load(ctx, anon.Key)
	require.NoError(t, err)
	assert.Equal(t, 4, persisted.Stats.TotalBooks)
}

// TestSession_RecalculateSaveFailure tests that a failed save keeps the persisted envelope
func TestSession_RecalculateSaveFailure(t *testing.T) {
	f := newFixture()
	s := f.session(anon)
	ctx := context.Background()
	_, err := s.ProcessNewData(ctx, Books{Books: sampleBooks()})
	require.NoError(t, err)

	f.local.FailOn(storage.OpSave, errors.New("disk full"))
	_, err = s.Recalculate(ctx)
	require.Error(t, err)
	assert.Equal(t, KindPersistence, Classify(err))

	persisted, err := f.local.Load(ctx, anon.Key)
	require.NoError(t, err)
	assert.Len(t, persisted.ReadingData, 4)

	view := s.View()
	assert.Equal(t, StateError, view.State)
	assert.Len(t, view.ReadingData, 4)
}

// TestSession_RecalculateEmpty tests that recalculating nothing clears the persisted copy
func TestSession_RecalculateEmpty(t *testing.T) {
	f := newFixture()
	s := f.session(anon)
	ctx := context.Background()

	view, err := s.Recalculate(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, view.State)
	assert.Equal(t, 1, f.local.Calls(storage.OpClear))
}

// blockingReader signals its first read and then waits to be released
type blockingReader struct {
	started chan struct{}
	release chan struct{}
	r       *strings.Reader
	once    bool
}

func (b *blockingReader) Read(p []byte) (int, error) {
	if !b.once {
		b.once = true
		close(b.started)
		<-b.release
	}
	return b.r.Read(p)
}

// TestSession_LastArrivalWins tests that a slow older upload cannot overwrite a newer one
func TestSession_LastArrivalWins(t *testing.T) {
	f := newFixture()
	s := f.session(anon)
	ctx := context.Background()

	slow := &blockingReader{
		started: make(chan struct{}),
		release: make(chan struct{}),
		r:       strings.NewReader(sampleCSV),
	}

	type outcome struct {
		view View
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		view, err := s.ProcessNewData(ctx, CSVUpload{Source: slow})
		done <- outcome{view, err}
	}()

	<-slow.started
	assert.True(t, s.View().Loading)

	newer := []models.ReadBook{dated("Newest", "Author", 5, 100, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))}
	view, err := s.ProcessNewData(ctx, Books{Books: newer})
	require.NoError(t, err)
	assert.Len(t, view.ReadingData, 1)

	close(slow.release)
	older := <-done

	assert.ErrorIs(t, older.err, ErrSuperseded)
	final := s.View()
	require.Len(t, final.ReadingData, 1)
	assert.Equal(t, "Newest", final.ReadingData[0].Title)
	assert.False(t, final.Loading)
	assert.Nil(t, final.Error)

	persisted, err := f.local.Load(ctx, anon.Key)
	require.NoError(t, err)
	require.Len(t, persisted.ReadingData, 1)
	assert.Equal(t, "Newest", persisted.ReadingData[0].Title)
}

// TestSession_UploadDuringRecalculate tests that recalculating does not supersede an upload in flight
func TestSession_UploadDuringRecalculate(t *testing.T) {
	f := newFixture()
	s := f.session(anon)
	ctx := context.Background()
	_, err := s.ProcessNewData(ctx, Books{Books: sampleBooks()})
	require.NoError(t, err)

	slow := &blockingReader{
		started: make(chan struct{}),
		release: make(chan struct{}),
		r:       strings.NewReader(sampleCSV),
	}
	type outcome struct {
		view View
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		view, err := s.ProcessNewData(ctx, CSVUpload{Source: slow})
		done <- outcome{view, err}
	}()

	<-slow.started
	view, err := s.Recalculate(ctx)
	require.NoError(t, err)
	assert.Len(t, view.ReadingData, 4)
	assert.True(t, view.Loading)

	_, err = s.UpdateGoals(ctx, 10, 2)
	require.NoError(t, err)

	close(slow.release)
	upload := <-done
	require.NoError(t, upload.err)

	final := s.View()
	assert.Equal(t, StateReady, final.State)
	assert.Len(t, final.ReadingData, 2)
	assert.Equal(t, models.Targets{Yearly: 10, Monthly: 2}, s.Targets())

	persisted, err := f.local.Load(ctx, anon.Key)
	require.NoError(t, err)
	assert.Len(t, persisted.ReadingData, 2)
}

// TestSession_NilPayload tests rejection of an empty payload
func TestSession_NilPayload(t *testing.T) {
	s := newFixture().session(anon)

	_, err := s.ProcessNewData(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidImport)
}
