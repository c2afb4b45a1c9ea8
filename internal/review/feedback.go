package review

import (
	"context"
	"fmt"
	"time"

	"github.com/conorfennell/knolword/internal/domain"
	"github.com/conorfennell/knolword/internal/storage"
)

// Model computes the strength state and due time that follow a review.
// Implementations must be deterministic.
type Model interface {
	Next(current domain.StrengthState, rating domain.Rating, elapsed time.Duration, now time.Time) (domain.StrengthState, time.Time, error)
}

// FeedbackStore reads an item and writes its next state.
type FeedbackStore interface {
	GetItem(ctx context.Context, key string) (*domain.Item, error)
	UpdateItem(ctx context.Context, u storage.ItemUpdate) error
}

// Applicator applies ratings to stored items.
type Applicator struct {
	store FeedbackStore
	model Model
	now   func() time.Time
}

// NewApplicator returns an Applicator that schedules with model.
func NewApplicator(store FeedbackStore, model Model, now func() time.Time) *Applicator {
	return &Applicator{store: store, model: model, now: now}
}

// Apply rates key and persists the model's result. Nothing is written when
// any step fails.
func (a *Applicator) Apply(ctx context.Context, key string, rating domain.Rating) (*domain.Item, error) {
	if !rating.Valid() {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidRating, int(rating))
	}

	it, err := a.store.GetItem(ctx, key)
	if err != nil {
		return nil, err
	}

	now := a.now()
	elapsed := now.Sub(it.LastReviewedAt)
	if elapsed < 0 {
		elapsed = 0
	}

	state, due, err := a.model.Next(it.State, rating, elapsed, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrModel, key, err)
	}

	u := storage.ItemUpdate{
		Key:        key,
		DueAt:      due,
		State:      state,
		ReviewedAt: now,
		Rating:     rating,
	}
	if err := a.store.UpdateItem(ctx, u); err != nil {
		return nil, err
	}

	it.DueAt = due
	it.State = state
	it.LastReviewedAt = now
	return it, nil
}
