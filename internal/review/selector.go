package review

import (
	"context"
	"fmt"
	"time"

	"github.com/conorfennell/knolword/internal/domain"
)

// DueStore finds items that are eligible for the current pass.
type DueStore interface {
	PickDue(ctx context.Context, session domain.SessionID, after int64, now time.Time) (*domain.Item, error)
	MarkShown(ctx context.Context, key string, session domain.SessionID) error
}

// Cursor remembers how far a pass has scanned the collection.
type Cursor struct {
	After int64 // row ordinal of the last item handed out
}

// Selector picks the next due item of a pass.
type Selector struct {
	store DueStore
	now   func() time.Time
}

// NewSelector returns a Selector reading from store.
func NewSelector(store DueStore, now func() time.Time) *Selector {
	return &Selector{store: store, now: now}
}

// NextDue returns a random due item not yet shown in session and marks it shown.
// Items past the cursor are tried first; if none remain the scan wraps to the
// start of the collection once. A nil item means the pass is complete.
func (s *Selector) NextDue(ctx context.Context, session domain.SessionID, cur *Cursor) (*domain.Item, error) {
	now := s.now()

	it, err := s.store.PickDue(ctx, session, cur.After, now)
	if err != nil {
		return nil, err
	}
	if it == nil && cur.After > 0 {
		it, err = s.store.PickDue(ctx, session, 0, now)
		if err != nil {
			return nil, err
		}
	}
	if it == nil {
		return nil, nil
	}

	if err := s.store.MarkShown(ctx, it.Key, session); err != nil {
		return nil, fmt.Errorf("failed to mark %s as shown: %w", it.Key, err)
	}
	it.Session = session
	cur.After = it.ID
	return it, nil
}
