package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/titlereportflow/internal/models"
)

type recordingObserver struct {
	mu    sync.Mutex
	snaps []*models.Session
}

func (o *recordingObserver) Observe(_ context.Context, s *models.Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.snaps = append(o.snaps, s)
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	return NewStore(nil, opts...)
}

func TestCreateAndSnapshot(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{}
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	st := newTestStore(t, WithObserver(obs), WithClock(func() time.Time { return fixed }))

	s, err := st.Create(ctx, "s1", "deed.pdf", "abc")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, s.Status)
	assert.Equal(t, models.StageInitialization, s.CurrentStage)
	assert.Equal(t, fixed, s.CreatedAt)
	require.Len(t, obs.snaps, 1)

	_, err = st.Create(ctx, "s1", "deed.pdf", "abc")
	assert.ErrorIs(t, err, ErrSessionExists)

	_, err = st.Snapshot("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSnapshotIsIsolated(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, err := st.Create(ctx, "s1", "", "")
	require.NoError(t, err)
	_, err = st.Update(ctx, "s1", func(s *models.Session) error {
		s.Pages[1] = &models.Page{Number: 1, EditedText: "original"}
		return nil
	})
	require.NoError(t, err)

	snap, err := st.Snapshot("s1")
	require.NoError(t, err)
	snap.Pages[1].EditedText = "mutated"

	p, err := st.Page("s1", 1)
	require.NoError(t, err)
	assert.Equal(t, "original", p.EditedText)
}

func TestUpdateDiscardsFailedMutation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, err := st.Create(ctx, "s1", "", "")
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = st.Update(ctx, "s1", func(s *models.Session) error {
		s.Message = "half done"
		return boom
	})
	require.ErrorIs(t, err, boom)

	snap, err := st.Snapshot("s1")
	require.NoError(t, err)
	assert.Equal(t, "Starting PDF processing", snap.Message)
}

func TestUpdateKeepsProgressMonotonicWithinStage(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, err := st.Create(ctx, "s1", "", "")
	require.NoError(t, err)

	set := func(stage models.Stage, progress float64) *models.Session {
		s, err := st.Update(ctx, "s1", func(s *models.Session) error {
			s.CurrentStage = stage
			s.Progress = progress
			return nil
		})
		require.NoError(t, err)
		return s
	}

	assert.InDelta(t, 0.5, set(models.StageOCRTranslation, 0.5).Progress, 1e-9)
	assert.InDelta(t, 0.5, set(models.StageOCRTranslation, 0.3).Progress, 1e-9)
	// A new stage may restart progress.
	assert.InDelta(t, 0.0, set(models.StageError, 0).Progress, 1e-9)
}

func TestUpdateClampsProcessedPages(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, err := st.Create(ctx, "s1", "", "")
	require.NoError(t, err)

	s, err := st.Update(ctx, "s1", func(s *models.Session) error {
		s.TotalPages = 3
		s.ProcessedPages = 7
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, s.ProcessedPages)
}

func TestSetEditedText(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, err := st.Create(ctx, "s1", "", "")
	require.NoError(t, err)
	_, err = st.Update(ctx, "s1", func(s *models.Session) error {
		s.Pages[1] = &models.Page{Number: 1, TranslatedText: "t", EditedText: "t"}
		return nil
	})
	require.NoError(t, err)

	_, err = st.SetEditedText(ctx, "s1", 1, "edit")
	assert.ErrorIs(t, err, ErrEditRejected, "edits are refused while processing")

	_, err = st.Update(ctx, "s1", func(s *models.Session) error {
		s.Status = models.StatusReadyForReview
		return nil
	})
	require.NoError(t, err)

	_, err = st.SetEditedText(ctx, "s1", 1, "first")
	require.NoError(t, err)
	_, err = st.SetEditedText(ctx, "s1", 1, "second")
	require.NoError(t, err)

	p, err := st.Page("s1", 1)
	require.NoError(t, err)
	assert.Equal(t, "second", p.EditedText)
	assert.Equal(t, "t", p.TranslatedText)

	_, err = st.SetEditedText(ctx, "s1", 9, "x")
	assert.ErrorIs(t, err, ErrPageNotFound)
}

func TestBeginEndCancel(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, err := st.Create(ctx, "s1", "", "")
	require.NoError(t, err)

	assert.ErrorIs(t, st.Cancel("s1"), ErrNotRunning)

	runCtx, err := st.Begin(ctx, "s1", nil)
	require.NoError(t, err)
	assert.True(t, st.Running("s1"))

	_, err = st.Begin(ctx, "s1", nil)
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, st.Delete("s1"), ErrBusy)

	require.NoError(t, st.Cancel("s1"))
	select {
	case <-runCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("stage context was not cancelled")
	}

	st.End("s1")
	assert.False(t, st.Running("s1"))

	_, err = st.Begin(ctx, "s1", func(*models.Session) error { return ErrNoPages })
	assert.ErrorIs(t, err, ErrNoPages)
	assert.False(t, st.Running("s1"), "a refused claim leaves the session idle")

	require.NoError(t, st.Delete("s1"))
	assert.Empty(t, st.IDs())
}

func TestReportGuard(t *testing.T) {
	withPage := map[int]*models.Page{1: {Number: 1}}

	err := ReportGuard(&models.Session{Status: models.StatusProcessing, Pages: withPage})
	assert.ErrorIs(t, err, ErrBusy)

	err = ReportGuard(&models.Session{Status: models.StatusReadyForReview})
	assert.ErrorIs(t, err, ErrNoPages)

	for _, st := range []models.Status{
		models.StatusReadyForReview,
		models.StatusCompleted,
		models.StatusCompletedWithWarning,
		models.StatusError,
		models.StatusCancelled,
	} {
		assert.NoError(t, ReportGuard(&models.Session{Status: st, Pages: withPage}), st)
	}
}

func TestConcurrentUpdatesAcrossSessions(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		_, err := st.Create(ctx, id, "", "")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = st.Update(ctx, id, func(s *models.Session) error {
					s.TotalPages = 1000
					s.ProcessedPages++
					return nil
				})
				_, _ = st.Snapshot(id)
			}()
		}
	}
	wg.Wait()

	for _, id := range ids {
		s, err := st.Snapshot(id)
		require.NoError(t, err)
		assert.Equal(t, 50, s.ProcessedPages)
	}
}

// gatedObserver parks inside Observe for the message named by holdOn until
// release is closed.
type gatedObserver struct {
	holdOn  string
	entered chan struct{}
	release chan struct{}

	mu   sync.Mutex
	last string
}

func (o *gatedObserver) Observe(_ context.Context, s *models.Session) {
	if s.Message == o.holdOn {
		close(o.entered)
		<-o.release
	}
	o.mu.Lock()
	o.last = s.Message
	o.mu.Unlock()
}

func TestObserverNeverSeesOlderSnapshotLast(t *testing.T) {
	ctx := context.Background()
	obs := &gatedObserver{holdOn: "A", entered: make(chan struct{}), release: make(chan struct{})}
	st := newTestStore(t, WithObserver(obs))
	_, err := st.Create(ctx, "s1", "", "")
	require.NoError(t, err)

	setMessage := func(msg string) func(s *models.Session) error {
		return func(s *models.Session) error { s.Message = msg; return nil }
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = st.Update(ctx, "s1", setMessage("A"))
	}()
	<-obs.entered
	go func() {
		defer wg.Done()
		_, _ = st.Update(ctx, "s1", setMessage("B"))
	}()

	require.Eventually(t, func() bool {
		s, err := st.Snapshot("s1")
		return err == nil && s.Message == "B"
	}, time.Second, time.Millisecond)
	close(obs.release)
	wg.Wait()

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, "B", obs.last)
}

func TestObserverDropsStaleSnapshots(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{}
	st := newTestStore(t, WithObserver(obs))
	_, err := st.Create(ctx, "s1", "", "")
	require.NoError(t, err)
	e, err := st.get("s1")
	require.NoError(t, err)

	st.notify(ctx, e, 3, &models.Session{ID: "s1", Message: "newer"})
	st.notify(ctx, e, 2, &models.Session{ID: "s1", Message: "older"})

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.snaps, 2)
	assert.Equal(t, "newer", obs.snaps[1].Message)
}
