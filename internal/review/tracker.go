// Package review decides which stored word to show next and applies the
// user's feedback to it.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/conorfennell/knolword/internal/domain"
)

// SessionStore persists the session ledger and the per-item session markers.
type SessionStore interface {
	CreateSession(ctx context.Context, now time.Time) (domain.SessionID, error)
	MarkShown(ctx context.Context, key string, session domain.SessionID) error
}

// Tracker owns the id of the review pass that is currently open.
// It is not safe for concurrent use; Scheduler serializes access.
type Tracker struct {
	store   SessionStore
	now     func() time.Time
	current domain.SessionID
}

// NewTracker returns a Tracker with no open pass.
func NewTracker(store SessionStore, now func() time.Time) *Tracker {
	return &Tracker{store: store, now: now}
}

// Current returns the open session, allocating one from the ledger on first use.
func (t *Tracker) Current(ctx context.Context) (domain.SessionID, error) {
	if t.current != 0 {
		return t.current, nil
	}
	id, err := t.store.CreateSession(ctx, t.now())
	if err != nil {
		return 0, fmt.Errorf("failed to open review session: %w", err)
	}
	t.current = id
	return id, nil
}

// Peek returns the open session or 0 when no item has been shown yet.
func (t *Tracker) Peek() domain.SessionID {
	return t.current
}

// MarkShown records that key was shown in session.
func (t *Tracker) MarkShown(ctx context.Context, key string, session domain.SessionID) error {
	return t.store.MarkShown(ctx, key, session)
}
