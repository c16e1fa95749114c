// Package session holds the authoritative in-memory record of every session.
//
// Each session has its own lock: writers to one session never contend with
// writers to another, and status polling takes only read locks. A session
// also carries a single logical timeline claimed with Begin and released
// with End, so at most one stage runs against it at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Lllllllleong/titlereportflow/internal/models"
)

var (
	ErrSessionNotFound = errors.New("processing session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrPageNotFound    = errors.New("page not found")
	ErrBusy            = errors.New("session has a stage in flight")
	ErrNotRunning      = errors.New("session has no stage in flight")
	ErrNoPages         = errors.New("session has no pages")
	ErrEditRejected    = errors.New("pages cannot be edited while the page pipeline runs")
)

// Observer is notified with a fresh snapshot after every successful update.
type Observer interface {
	Observe(ctx context.Context, s *models.Session)
}

type entry struct {
	mu      sync.RWMutex
	s       *models.Session
	running bool
	cancel  context.CancelFunc

	// seq numbers every installed snapshot. notifyMu serialises delivery
	// and delivered holds the newest seq handed to the observer.
	seq       uint64
	notifyMu  sync.Mutex
	delivered uint64
}

// Store is the concurrent-safe session table.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithObserver registers an observer for session updates.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// WithClock overrides the time source used to stamp updates.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		entries: make(map[string]*entry),
		logger:  logger,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (st *Store) get(id string) (*entry, error) {
	st.mu.RLock()
	e, ok := st.entries[id]
	st.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e, nil
}

// Create registers a new session in the initialization stage.
func (st *Store) Create(ctx context.Context, id, sourceName, sourceHash string) (*models.Session, error) {
	now := st.now().UTC()
	s := &models.Session{
		ID:           id,
		Status:       models.StatusProcessing,
		Message:      "Starting PDF processing",
		CurrentStage: models.StageInitialization,
		SourceName:   sourceName,
		SourceHash:   sourceHash,
		CreatedAt:    now,
		UpdatedAt:    now,
		Pages:        make(map[int]*models.Page),
	}

	st.mu.Lock()
	if _, ok := st.entries[id]; ok {
		st.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	e := &entry{s: s, seq: 1}
	st.entries[id] = e
	st.mu.Unlock()

	snap := s.Clone()
	st.notify(ctx, e, 1, snap)
	return snap, nil
}

// Put installs a session restored from durable storage. An existing entry
// with the same id is replaced.
func (st *Store) Put(s *models.Session) {
	c := s.Clone()
	if c.Pages == nil {
		c.Pages = make(map[int]*models.Page)
	}
	st.mu.Lock()
	st.entries[c.ID] = &entry{s: c}
	st.mu.Unlock()
}

// Snapshot returns a deep copy of the session.
func (st *Store) Snapshot(id string) (*models.Session, error) {
	e, err := st.get(id)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.s.Clone(), nil
}

// Page returns a copy of one page.
func (st *Store) Page(id string, number int) (models.Page, error) {
	e, err := st.get(id)
	if err != nil {
		return models.Page{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.s.Pages[number]
	if !ok {
		return models.Page{}, fmt.Errorf("%w: page %d", ErrPageNotFound, number)
	}
	return *p, nil
}

// Update applies fn to a working copy of the session under its exclusive
// lock and installs the copy only if fn succeeds. Progress never moves
// backwards within an unchanged stage and processed pages never exceed the
// known total.
func (st *Store) Update(ctx context.Context, id string, fn func(s *models.Session) error) (*models.Session, error) {
	e, err := st.get(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	prev := e.s
	next := prev.Clone()
	if err := fn(next); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if next.CurrentStage == prev.CurrentStage && next.Progress < prev.Progress {
		next.Progress = prev.Progress
	}
	if next.TotalPages > 0 && next.ProcessedPages > next.TotalPages {
		next.ProcessedPages = next.TotalPages
	}
	if next.ProcessedPages < prev.ProcessedPages && next.Status == models.StatusProcessing {
		next.ProcessedPages = prev.ProcessedPages
	}
	next.UpdatedAt = st.now().UTC()
	e.s = next
	e.seq++
	seq := e.seq
	snap := next.Clone()
	e.mu.Unlock()

	st.notify(ctx, e, seq, snap)
	return snap, nil
}

// SetEditedText overwrites a page's edited text. The last write wins.
func (st *Store) SetEditedText(ctx context.Context, id string, number int, text string) (*models.Session, error) {
	return st.Update(ctx, id, func(s *models.Session) error {
		if !CanEdit(s.Status) {
			return ErrEditRejected
		}
		p, ok := s.Pages[number]
		if !ok {
			return fmt.Errorf("%w: page %d", ErrPageNotFound, number)
		}
		p.EditedText = text
		return nil
	})
}

// Begin claims the session's timeline for one stage. guard, when non-nil,
// runs under the session lock and may refuse the claim. The returned context
// is cancelled by Cancel or End.
func (st *Store) Begin(parent context.Context, id string, guard func(s *models.Session) error) (context.Context, error) {
	e, err := st.get(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil, fmt.Errorf("%w: %s", ErrBusy, id)
	}
	if guard != nil {
		if err := guard(e.s); err != nil {
			return nil, err
		}
	}
	ctx, cancel := context.WithCancel(parent)
	e.running = true
	e.cancel = cancel
	return ctx, nil
}

// End releases the session's timeline.
func (st *Store) End(id string) {
	e, err := st.get(id)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	e.running = false
	e.cancel = nil
}

// Running reports whether a stage currently holds the session's timeline.
func (st *Store) Running(id string) bool {
	e, err := st.get(id)
	if err != nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Cancel requests cancellation of the in-flight stage.
func (st *Store) Cancel(id string) error {
	e, err := st.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.cancel == nil {
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	e.cancel()
	return nil
}

// Delete removes an idle session. A session with a stage in flight is kept.
func (st *Store) Delete(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	e.mu.RLock()
	running := e.running
	e.mu.RUnlock()
	if running {
		return fmt.Errorf("%w: %s", ErrBusy, id)
	}
	delete(st.entries, id)
	return nil
}

// IDs lists every known session id in sorted order.
func (st *Store) IDs() []string {
	st.mu.RLock()
	ids := make([]string, 0, len(st.entries))
	for id := range st.entries {
		ids = append(ids, id)
	}
	st.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// notify hands a snapshot to the observer in installation order. A snapshot
// older than one already delivered is dropped, so the observer never moves
// back to a stale state.
func (st *Store) notify(ctx context.Context, e *entry, seq uint64, s *models.Session) {
	if st.observer == nil {
		return
	}
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	if seq <= e.delivered {
		return
	}
	e.delivered = seq
	st.observer.Observe(ctx, s)
}
