package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when an operation references a key that is not stored.
	ErrNotFound = errors.New("item not found")
	// ErrInvalidRating is returned for ratings outside Again..Easy.
	ErrInvalidRating = errors.New("invalid rating")
	// ErrModel marks failures of the scheduler model. No state is written when it occurs.
	ErrModel = errors.New("scheduler model failed")
)

// SessionID identifies one review pass. Zero means no pass has been opened.
type SessionID int64

// Rating is the user's response to a review.
// The values correspond to FSRS ratings:
// 1: Again (Incorrect)
// 2: Hard
// 3: Good
// 4: Easy
type Rating int

const (
	Again Rating = 1
	Hard  Rating = 2
	Good  Rating = 3
	Easy  Rating = 4
)

// ParseRating converts a raw grade into a Rating, rejecting anything outside 1..4.
func ParseRating(grade int) (Rating, error) {
	r := Rating(grade)
	if !r.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRating, grade)
	}
	return r, nil
}

// Valid reports whether r is one of the four ratings.
func (r Rating) Valid() bool {
	return r >= Again && r <= Easy
}

func (r Rating) String() string {
	switch r {
	case Again:
		return "again"
	case Hard:
		return "hard"
	case Good:
		return "good"
	case Easy:
		return "easy"
	default:
		return fmt.Sprintf("rating(%d)", int(r))
	}
}

// Phase is the learning phase of an item.
type Phase int

const (
	New Phase = iota
	Learning
	Review
	Relearning
)

func (p Phase) String() string {
	switch p {
	case New:
		return "new"
	case Learning:
		return "learning"
	case Review:
		return "review"
	case Relearning:
		return "relearning"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// StrengthState is the memory state owned by the scheduler model.
type StrengthState struct {
	Stability     float64
	Difficulty    float64
	ElapsedDays   int64
	ScheduledDays int64
	Reps          int64
	Lapses        int64
	Phase         Phase
}

// Item is a single reviewable word and its scheduling state.
type Item struct {
	ID             int64 // row ordinal, used to resume a review scan
	Key            string
	DueAt          time.Time
	State          StrengthState
	LastReviewedAt time.Time
	CreatedAt      time.Time
	Session        SessionID // last pass the item was shown in, 0 if never
}

// ReviewLog records a single applied rating.
type ReviewLog struct {
	Key           string
	Rating        Rating
	ReviewedAt    time.Time
	ElapsedDays   int64
	ScheduledDays int64
	Phase         Phase
}
