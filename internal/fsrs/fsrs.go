package fsrs

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/conorfennell/knolword/internal/domain"
)

// ErrInvalidState is returned when a strength state cannot be scheduled.
var ErrInvalidState = errors.New("invalid strength state")

const (
	decay  = -0.5
	factor = 19.0 / 81.0
	day    = 24 * time.Hour
)

// Params holds the parameters for the FSRS algorithm.
type Params struct {
	W                [17]float64 // model weights, FSRS-4.5 layout
	DesiredRetention float64     // desired retention rate (e.g., 0.9 for 90%)
	MaximumInterval  int64       // longest interval in days
}

// DefaultParams provides the published FSRS-4.5 default weights.
func DefaultParams() *Params {
	return &Params{
		W: [17]float64{
			0.4872, 1.4003, 3.7145, 13.8206, 5.1618, 1.2298, 0.8975, 0.031,
			1.6474, 0.1367, 1.0461, 2.1072, 0.0793, 0.3246, 1.587, 0.2272, 2.8755,
		},
		DesiredRetention: 0.9,
		MaximumInterval:  36500,
	}
}

// NewState returns the state of an item that has never been reviewed.
func NewState() domain.StrengthState {
	return domain.StrengthState{Phase: domain.New}
}

// Next computes the state and due time that follow a review with the given rating.
// It is a pure function of its inputs.
func (p *Params) Next(current domain.StrengthState, rating domain.Rating, elapsed time.Duration, now time.Time) (domain.StrengthState, time.Time, error) {
	if !rating.Valid() {
		return current, time.Time{}, fmt.Errorf("%w: %d", domain.ErrInvalidRating, int(rating))
	}
	if err := validate(current); err != nil {
		return current, time.Time{}, err
	}

	next := current
	next.Reps++
	if elapsed < 0 {
		elapsed = 0
	}
	next.ElapsedDays = int64(elapsed / day)
	if current.Phase == domain.New {
		next.ElapsedDays = 0
	}

	var due time.Time
	switch current.Phase {
	case domain.New:
		next.Difficulty = p.initDifficulty(rating)
		next.Stability = p.initStability(rating)
		switch rating {
		case domain.Again:
			due = shortStep(&next, now, time.Minute)
		case domain.Hard:
			due = shortStep(&next, now, 5*time.Minute)
		case domain.Good:
			due = shortStep(&next, now, 10*time.Minute)
		case domain.Easy:
			due = p.longStep(&next, now, p.nextInterval(next.Stability))
		}

	case domain.Learning, domain.Relearning:
		next.Difficulty = p.nextDifficulty(current.Difficulty, rating)
		switch rating {
		case domain.Again:
			next.ScheduledDays = 0
			due = now.Add(5 * time.Minute)
		case domain.Hard:
			next.ScheduledDays = 0
			due = now.Add(10 * time.Minute)
		case domain.Good:
			due = p.longStep(&next, now, p.nextInterval(current.Stability))
		case domain.Easy:
			good := p.nextInterval(current.Stability)
			easy := max(p.nextInterval(current.Stability*p.W[16]), good+1)
			next.Stability = current.Stability * p.W[16]
			due = p.longStep(&next, now, easy)
		}

	case domain.Review:
		r := retrievability(next.ElapsedDays, current.Stability)
		next.Difficulty = p.nextDifficulty(current.Difficulty, rating)
		if rating == domain.Again {
			next.Lapses++
			next.Stability = p.forgetStability(current.Difficulty, current.Stability, r)
			next.Phase = domain.Relearning
			next.ScheduledDays = 0
			due = now.Add(5 * time.Minute)
			break
		}
		hardS := p.recallStability(current.Difficulty, current.Stability, r, domain.Hard)
		goodS := p.recallStability(current.Difficulty, current.Stability, r, domain.Good)
		easyS := p.recallStability(current.Difficulty, current.Stability, r, domain.Easy)
		hardI := p.nextInterval(hardS)
		goodI := p.nextInterval(goodS)
		hardI = min(hardI, goodI)
		goodI = max(goodI, hardI+1)
		easyI := max(p.nextInterval(easyS), goodI+1)
		switch rating {
		case domain.Hard:
			next.Stability = hardS
			due = p.longStep(&next, now, hardI)
		case domain.Good:
			next.Stability = goodS
			due = p.longStep(&next, now, goodI)
		case domain.Easy:
			next.Stability = easyS
			due = p.longStep(&next, now, easyI)
		}
	}

	if err := validate(next); err != nil {
		return current, time.Time{}, err
	}
	return next, due, nil
}

// shortStep moves a new item into the learning phase with a same-day step.
func shortStep(s *domain.StrengthState, now time.Time, step time.Duration) time.Time {
	s.Phase = domain.Learning
	s.ScheduledDays = 0
	return now.Add(step)
}

func (p *Params) longStep(s *domain.StrengthState, now time.Time, interval int64) time.Time {
	s.Phase = domain.Review
	s.ScheduledDays = interval
	return now.Add(time.Duration(interval) * day)
}

func (p *Params) initStability(r domain.Rating) float64 {
	return math.Max(p.W[int(r)-1], 0.1)
}

func (p *Params) initDifficulty(r domain.Rating) float64 {
	return clampDifficulty(p.W[4] - float64(r-domain.Good)*p.W[5])
}

func (p *Params) nextDifficulty(d float64, r domain.Rating) float64 {
	next := d - p.W[6]*float64(r-domain.Good)
	// mean reversion towards the difficulty of a first "good" answer
	reverted := p.W[7]*p.initDifficulty(domain.Good) + (1-p.W[7])*next
	return clampDifficulty(reverted)
}

// recallStability applies the FSRS formula for a successful review:
// S' = S * (1 + e^w8 * (11-D) * S^(-w9) * (e^(w10*(1-R)) - 1) * penalty * bonus)
func (p *Params) recallStability(d, s, r float64, rating domain.Rating) float64 {
	hardPenalty, easyBonus := 1.0, 1.0
	if rating == domain.Hard {
		hardPenalty = p.W[15]
	}
	if rating == domain.Easy {
		easyBonus = p.W[16]
	}
	return s * (1 + math.Exp(p.W[8])*(11-d)*math.Pow(s, -p.W[9])*
		(math.Exp((1-r)*p.W[10])-1)*hardPenalty*easyBonus)
}

func (p *Params) forgetStability(d, s, r float64) float64 {
	next := p.W[11] * math.Pow(d, -p.W[12]) * (math.Pow(s+1, p.W[13]) - 1) * math.Exp((1-r)*p.W[14])
	return math.Min(next, s)
}

// nextInterval returns the number of days after which recall probability
// drops to the desired retention.
func (p *Params) nextInterval(stability float64) int64 {
	interval := stability / factor * (math.Pow(p.DesiredRetention, 1/decay) - 1)
	days := int64(math.Round(interval))
	if days < 1 {
		days = 1
	}
	if p.MaximumInterval > 0 && days > p.MaximumInterval {
		days = p.MaximumInterval
	}
	return days
}

func retrievability(elapsedDays int64, stability float64) float64 {
	if stability <= 0 {
		return 0
	}
	return math.Pow(1+factor*float64(elapsedDays)/stability, decay)
}

func clampDifficulty(d float64) float64 {
	return math.Min(math.Max(d, 1), 10)
}

func validate(s domain.StrengthState) error {
	switch s.Phase {
	case domain.New:
		return nil
	case domain.Learning, domain.Review, domain.Relearning:
	default:
		return fmt.Errorf("%w: unknown phase %d", ErrInvalidState, int(s.Phase))
	}
	if math.IsNaN(s.Stability) || math.IsInf(s.Stability, 0) || s.Stability <= 0 {
		return fmt.Errorf("%w: stability %v", ErrInvalidState, s.Stability)
	}
	if math.IsNaN(s.Difficulty) || s.Difficulty < 1 || s.Difficulty > 10 {
		return fmt.Errorf("%w: difficulty %v", ErrInvalidState, s.Difficulty)
	}
	if s.Reps < 0 || s.Lapses < 0 {
		return fmt.Errorf("%w: negative counters", ErrInvalidState)
	}
	return nil
}
