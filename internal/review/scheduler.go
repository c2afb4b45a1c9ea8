package review

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/conorfennell/knolword/internal/domain"
	"github.com/conorfennell/knolword/internal/recall"
	"github.com/conorfennell/knolword/internal/wordkey"
)

// Store is everything the Scheduler needs from persistence. *storage.DB satisfies it.
type Store interface {
	SessionStore
	DueStore
	FeedbackStore
	recall.KeySource
	recall.Searcher
	EnsureItem(ctx context.Context, key string, initial domain.StrengthState, now time.Time) (*domain.Item, bool, error)
	RemoveItem(ctx context.Context, key string) (int64, error)
	CountDue(ctx context.Context, session domain.SessionID, now time.Time) (int, error)
}

// Recorder receives review events for instrumentation.
type Recorder interface {
	ObserveTracked(created bool)
	ObserveShown()
	ObserveRating(r domain.Rating)
	ObserveFailure(op string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTracked(bool)         {}
func (nopRecorder) ObserveShown()               {}
func (nopRecorder) ObserveRating(domain.Rating) {}
func (nopRecorder) ObserveFailure(string)       {}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the logger used for review events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithMetrics sets the recorder notified of review events.
func WithMetrics(r Recorder) Option {
	return func(s *Scheduler) { s.metrics = r }
}

// WithInitialState sets the strength state given to newly tracked words.
func WithInitialState(st domain.StrengthState) Option {
	return func(s *Scheduler) { s.initial = st }
}

// Scheduler is the entry point for tracking, reviewing and rating words.
// Next, Rate and Track run one at a time; one Scheduler owns one review pass.
type Scheduler struct {
	mu      sync.Mutex
	store   Store
	model   Model
	now     func() time.Time
	log     *slog.Logger
	metrics Recorder
	initial domain.StrengthState

	tracker  *Tracker
	selector *Selector
	applier  *Applicator
	cursor   Cursor
}

// NewScheduler wires the review components over store and model.
func NewScheduler(store Store, model Model, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:   store,
		model:   model,
		now:     time.Now,
		log:     slog.New(slog.DiscardHandler),
		metrics: nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tracker = NewTracker(store, s.now)
	s.selector = NewSelector(store, s.now)
	s.applier = NewApplicator(store, model, s.now)
	return s
}

// Track records a looked-up word, making it due immediately if it is new.
// Words that normalize to nothing or start with whitespace are rejected with
// the wordkey errors.
func (s *Scheduler) Track(ctx context.Context, word string) (*domain.Item, bool, error) {
	key, err := wordkey.Normalize(word)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it, created, err := s.store.EnsureItem(ctx, key, s.initial, s.now())
	if err != nil {
		s.metrics.ObserveFailure("track")
		return nil, false, err
	}
	s.metrics.ObserveTracked(created)
	if created {
		s.log.Debug("tracking new word", "key", key)
	}
	return it, created, nil
}

// Next returns the next item to review in the current pass and marks it shown.
// It returns nil, nil when nothing is left; no session is opened in that case.
func (s *Scheduler) Next(ctx context.Context) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tracker.Peek() == 0 {
		n, err := s.store.CountDue(ctx, 0, s.now())
		if err != nil {
			s.metrics.ObserveFailure("next")
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
	}

	session, err := s.tracker.Current(ctx)
	if err != nil {
		s.metrics.ObserveFailure("next")
		return nil, err
	}
	it, err := s.selector.NextDue(ctx, session, &s.cursor)
	if err != nil {
		s.metrics.ObserveFailure("next")
		return nil, err
	}
	if it == nil {
		s.log.Info("review pass complete", "session", int64(session))
		return nil, nil
	}
	s.metrics.ObserveShown()
	s.log.Debug("showing word", "key", it.Key, "session", int64(session))
	return it, nil
}

// Rate applies rating to key and returns the rescheduled item.
func (s *Scheduler) Rate(ctx context.Context, key string, rating domain.Rating) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, err := s.applier.Apply(ctx, key, rating)
	if err != nil {
		s.metrics.ObserveFailure("rate")
		s.log.Warn("rating failed", "key", key, "rating", rating.String(), "error", err)
		return nil, err
	}
	s.metrics.ObserveRating(rating)
	s.log.Info("rated word", "key", key, "rating", rating.String(), "due", it.DueAt, "phase", it.State.Phase.String())
	return it, nil
}

// Forget removes key and its history, returning the number of items removed.
func (s *Scheduler) Forget(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.store.RemoveItem(ctx, key)
	if err != nil {
		s.metrics.ObserveFailure("forget")
		return 0, err
	}
	if n > 0 {
		s.log.Info("forgot word", "key", key)
	}
	return n, nil
}

// Similar yields stored keys within maxDistance edits of query, or anagrams of it.
// The sequence holds the store's connection while ranging, so callers must
// not call other Scheduler methods from inside the loop.
func (s *Scheduler) Similar(ctx context.Context, query string, maxDistance int) iter.Seq2[string, error] {
	return recall.FindSimilar(ctx, s.store, query, maxDistance)
}

// Search returns up to limit stored keys containing fragment, best match first.
func (s *Scheduler) Search(ctx context.Context, fragment string, limit int) ([]string, error) {
	keys, err := recall.Suggest(ctx, s.store, fragment, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search for %q: %w", fragment, err)
	}
	return keys, nil
}

// Session returns the open session id, or 0 if nothing has been shown yet.
func (s *Scheduler) Session() domain.SessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Peek()
}

// Remaining counts the items still due in the current pass.
func (s *Scheduler) Remaining(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.CountDue(ctx, s.tracker.Peek(), s.now())
}
