package review

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/conorfennell/knolword/internal/domain"
	"github.com/conorfennell/knolword/internal/fsrs"
	"github.com/conorfennell/knolword/internal/storage"
	"github.com/conorfennell/knolword/internal/wordkey"
)

var (
	ctx = context.Background()
	now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func newTestScheduler(t *testing.T, db *storage.DB, opts ...Option) *Scheduler {
	t.Helper()
	opts = append([]Option{WithClock(fixedClock(now)), WithInitialState(fsrs.NewState())}, opts...)
	return NewScheduler(db, fsrs.DefaultParams(), opts...)
}

type failingModel struct{}

func (failingModel) Next(domain.StrengthState, domain.Rating, time.Duration, time.Time) (domain.StrengthState, time.Time, error) {
	return domain.StrengthState{}, time.Time{}, fsrs.ErrInvalidState
}

type countingRecorder struct {
	tracked, created, shown int
	ratings                 map[domain.Rating]int
	failures                map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{ratings: map[domain.Rating]int{}, failures: map[string]int{}}
}

func (r *countingRecorder) ObserveTracked(created bool) {
	r.tracked++
	if created {
		r.created++
	}
}

func (r *countingRecorder) ObserveShown() { r.shown++ }

func (r *countingRecorder) ObserveRating(rt domain.Rating) { r.ratings[rt]++ }

func (r *countingRecorder) ObserveFailure(op string) { r.failures[op]++ }

func TestHelloScenario(t *testing.T) {
	db := openTestDB(t)
	s := newTestScheduler(t, db)

	if _, created, err := s.Track(ctx, "hello"); err != nil || !created {
		t.Fatalf("Track(hello) = created %v, err %v", created, err)
	}

	it, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if it == nil || it.Key != "hello" {
		t.Fatalf("Expected hello, got %+v", it)
	}
	if s.Session() != 1 {
		t.Errorf("Expected session 1, got %d", s.Session())
	}

	rated, err := s.Rate(ctx, "hello", domain.Easy)
	if err != nil {
		t.Fatalf("Rate failed: %v", err)
	}
	if !rated.DueAt.After(now) {
		t.Errorf("Expected due date after %v, got %v", now, rated.DueAt)
	}

	it, err = s.Next(ctx)
	if err != nil || it != nil {
		t.Errorf("Expected pass to be complete, got %+v (%v)", it, err)
	}
}

func TestCatDogScenario(t *testing.T) {
	db := openTestDB(t)
	if _, _, err := db.EnsureItem(ctx, "cat", fsrs.NewState(), now); err != nil {
		t.Fatalf("EnsureItem(cat) failed: %v", err)
	}
	if _, _, err := db.EnsureItem(ctx, "dog", fsrs.NewState(), now.Add(24*time.Hour)); err != nil {
		t.Fatalf("EnsureItem(dog) failed: %v", err)
	}
	s := newTestScheduler(t, db)

	it, err := s.Next(ctx)
	if err != nil || it == nil || it.Key != "cat" {
		t.Fatalf("Expected cat, got %+v (%v)", it, err)
	}
	it, err = s.Next(ctx)
	if err != nil || it != nil {
		t.Errorf("Expected nil after cat, got %+v (%v)", it, err)
	}
}

func TestPassIsExhaustiveWithoutDuplicates(t *testing.T) {
	db := openTestDB(t)
	s := newTestScheduler(t, db)

	const n = 25
	for i := range n {
		if _, _, err := s.Track(ctx, fmt.Sprintf("word-%02d", i)); err != nil {
			t.Fatalf("Track failed: %v", err)
		}
	}

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		it, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if it == nil {
			t.Fatalf("Expected %d items, pass ended after %d", n, i)
		}
		if seen[it.Key] {
			t.Fatalf("Item %s delivered twice", it.Key)
		}
		seen[it.Key] = true
	}

	it, err := s.Next(ctx)
	if err != nil || it != nil {
		t.Errorf("Expected nil after %d items, got %+v (%v)", n, it, err)
	}
	if remaining, err := s.Remaining(ctx); err != nil || remaining != 0 {
		t.Errorf("Expected nothing remaining, got %d (%v)", remaining, err)
	}
}

func TestNextWithoutDueItemsOpensNoSession(t *testing.T) {
	db := openTestDB(t)
	if _, _, err := db.EnsureItem(ctx, "later", fsrs.NewState(), now.Add(time.Hour)); err != nil {
		t.Fatalf("EnsureItem failed: %v", err)
	}
	s := newTestScheduler(t, db)

	it, err := s.Next(ctx)
	if err != nil || it != nil {
		t.Fatalf("Expected nothing due, got %+v (%v)", it, err)
	}
	if s.Session() != 0 {
		t.Errorf("Expected no session, got %d", s.Session())
	}
	stats, err := db.GetStats(ctx, now)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.Sessions != 0 {
		t.Errorf("Expected empty session ledger, got %d sessions", stats.Sessions)
	}
}

func TestNewSchedulerStartsNewPass(t *testing.T) {
	db := openTestDB(t)
	first := newTestScheduler(t, db)
	if _, _, err := first.Track(ctx, "hello"); err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if it, err := first.Next(ctx); err != nil || it == nil {
		t.Fatalf("Expected hello, got %+v (%v)", it, err)
	}

	// hello was never rated, so it is still due for a later pass.
	second := newTestScheduler(t, db)
	it, err := second.Next(ctx)
	if err != nil || it == nil || it.Key != "hello" {
		t.Fatalf("Expected hello in the new pass, got %+v (%v)", it, err)
	}
	if second.Session() <= first.Session() {
		t.Errorf("Expected session id above %d, got %d", first.Session(), second.Session())
	}
}

func TestTrackIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	s := newTestScheduler(t, db)

	if _, _, err := s.Track(ctx, "hello"); err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if _, err := s.Rate(ctx, "hello", domain.Good); err != nil {
		t.Fatalf("Rate failed: %v", err)
	}
	before, err := db.GetItem(ctx, "hello")
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}

	_, created, err := s.Track(ctx, "hello\n")
	if err != nil {
		t.Fatalf("second Track failed: %v", err)
	}
	if created {
		t.Error("Expected second Track to find the existing item")
	}
	after, err := db.GetItem(ctx, "hello")
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if *before != *after {
		t.Errorf("Expected unchanged item, got %+v then %+v", before, after)
	}
}

func TestTrackRejectsIgnoredWords(t *testing.T) {
	s := newTestScheduler(t, openTestDB(t))

	if _, _, err := s.Track(ctx, " secret"); !errors.Is(err, wordkey.ErrIgnored) {
		t.Errorf("Expected ErrIgnored, got %v", err)
	}
	if _, _, err := s.Track(ctx, "\n"); !errors.Is(err, wordkey.ErrEmpty) {
		t.Errorf("Expected ErrEmpty, got %v", err)
	}
}

func TestRateFailuresWriteNothing(t *testing.T) {
	db := openTestDB(t)
	if _, _, err := db.EnsureItem(ctx, "hello", fsrs.NewState(), now.Add(-time.Hour)); err != nil {
		t.Fatalf("EnsureItem failed: %v", err)
	}
	before, err := db.GetItem(ctx, "hello")
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}

	testCases := []struct {
		name    string
		model   Model
		key     string
		rating  domain.Rating
		wantErr error
	}{
		{name: "model error", model: failingModel{}, key: "hello", rating: domain.Good, wantErr: domain.ErrModel},
		{name: "rating too high", model: fsrs.DefaultParams(), key: "hello", rating: domain.Rating(5), wantErr: domain.ErrInvalidRating},
		{name: "rating zero", model: fsrs.DefaultParams(), key: "hello", rating: domain.Rating(0), wantErr: domain.ErrInvalidRating},
		{name: "unknown key", model: fsrs.DefaultParams(), key: "ghost", rating: domain.Good, wantErr: domain.ErrNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := newCountingRecorder()
			s := NewScheduler(db, tc.model, WithClock(fixedClock(now)), WithMetrics(rec))

			if _, err := s.Rate(ctx, tc.key, tc.rating); !errors.Is(err, tc.wantErr) {
				t.Fatalf("Expected %v, got %v", tc.wantErr, err)
			}
			if rec.failures["rate"] != 1 {
				t.Errorf("Expected one recorded rate failure, got %d", rec.failures["rate"])
			}

			after, err := db.GetItem(ctx, "hello")
			if err != nil {
				t.Fatalf("GetItem failed: %v", err)
			}
			if *before != *after {
				t.Errorf("Expected unchanged item, got %+v then %+v", before, after)
			}
			logs, err := db.History(ctx, "hello")
			if err != nil {
				t.Fatalf("History failed: %v", err)
			}
			if len(logs) != 0 {
				t.Errorf("Expected empty history, got %+v", logs)
			}
		})
	}
}

func TestRatePassesElapsedTime(t *testing.T) {
	db := openTestDB(t)
	reviewed := now.Add(-72 * time.Hour)
	if _, _, err := db.EnsureItem(ctx, "hello", fsrs.NewState(), reviewed); err != nil {
		t.Fatalf("EnsureItem failed: %v", err)
	}

	var gotElapsed time.Duration
	model := modelFunc(func(st domain.StrengthState, r domain.Rating, elapsed time.Duration, at time.Time) (domain.StrengthState, time.Time, error) {
		gotElapsed = elapsed
		st.Reps++
		return st, at.Add(time.Hour), nil
	})
	s := NewScheduler(db, model, WithClock(fixedClock(now)))

	it, err := s.Rate(ctx, "hello", domain.Hard)
	if err != nil {
		t.Fatalf("Rate failed: %v", err)
	}
	if gotElapsed != 72*time.Hour {
		t.Errorf("Expected 72h elapsed, got %v", gotElapsed)
	}
	if !it.LastReviewedAt.Equal(now) || !it.DueAt.Equal(now.Add(time.Hour)) {
		t.Errorf("Unexpected rescheduled item %+v", it)
	}
}

type modelFunc func(domain.StrengthState, domain.Rating, time.Duration, time.Time) (domain.StrengthState, time.Time, error)

func (f modelFunc) Next(st domain.StrengthState, r domain.Rating, elapsed time.Duration, at time.Time) (domain.StrengthState, time.Time, error) {
	return f(st, r, elapsed, at)
}

func TestForget(t *testing.T) {
	db := openTestDB(t)
	s := newTestScheduler(t, db)
	if _, _, err := s.Track(ctx, "hello"); err != nil {
		t.Fatalf("Track failed: %v", err)
	}

	if n, err := s.Forget(ctx, "hello"); err != nil || n != 1 {
		t.Errorf("Expected one item forgotten, got %d (%v)", n, err)
	}
	if n, err := s.Forget(ctx, "hello"); err != nil || n != 0 {
		t.Errorf("Expected nothing forgotten, got %d (%v)", n, err)
	}
	if it, err := s.Next(ctx); err != nil || it != nil {
		t.Errorf("Expected nothing due, got %+v (%v)", it, err)
	}
}

func TestSimilarAndSearch(t *testing.T) {
	db := openTestDB(t)
	s := newTestScheduler(t, db)
	for _, w := range []string{"livers", "silver", "interval", "internal"} {
		if _, _, err := s.Track(ctx, w); err != nil {
			t.Fatalf("Track(%s) failed: %v", w, err)
		}
	}

	var similar []string
	for k, err := range s.Similar(ctx, "sliver", 0) {
		if err != nil {
			t.Fatalf("Similar failed: %v", err)
		}
		similar = append(similar, k)
	}
	if !slices.Equal(similar, []string{"livers", "silver"}) {
		t.Errorf("Expected [livers silver], got %v", similar)
	}

	found, err := s.Search(ctx, "interv", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if !slices.Equal(found, []string{"interval"}) {
		t.Errorf("Expected [interval], got %v", found)
	}
}

func TestSchedulerRecordsEvents(t *testing.T) {
	db := openTestDB(t)
	rec := newCountingRecorder()
	s := newTestScheduler(t, db, WithMetrics(rec))

	s.Track(ctx, "hello")
	s.Track(ctx, "hello")
	s.Next(ctx)
	s.Rate(ctx, "hello", domain.Again)

	if rec.tracked != 2 || rec.created != 1 {
		t.Errorf("Expected 2 tracked and 1 created, got %d and %d", rec.tracked, rec.created)
	}
	if rec.shown != 1 {
		t.Errorf("Expected 1 shown, got %d", rec.shown)
	}
	if rec.ratings[domain.Again] != 1 {
		t.Errorf("Expected 1 again rating, got %v", rec.ratings)
	}
}
