// Package ledger computes and persists the rewards for a proof submission.
//
// Every submission runs as one transaction: lock the (user, thing) streak
// row, authorize, record the proof, classify it against the schedule, update
// the streak, add points, award at most one badge and resolve the level.
// Any failure rolls the whole thing back.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/szhabolcs/something-sub000/internal/interval"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Reason labels a single point award.
type Reason string

const (
	ReasonOnSchedule  Reason = "ON_SCHEDULE"
	ReasonOffSchedule Reason = "OFF_SCHEDULE"
	ReasonStreakKept  Reason = "STREAK_KEPT"
)

var reasonPoints = map[Reason]int{
	ReasonOnSchedule:  20,
	ReasonOffSchedule: 5,
	ReasonStreakKept:  5,
}

// Badge action types.
const (
	ActionCreate   = "create"
	ActionComplete = "complete"
)

var (
	// ErrForbidden means the submitter has no access to the thing.
	ErrForbidden = errors.New("no access to thing")
	// ErrScheduleNotFound means the thing has no schedule to judge against.
	ErrScheduleNotFound = errors.New("schedule not found")
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Submission is an incoming proof for a thing.
type Submission struct {
	UserID   int64
	ThingID  int64
	Filename string
}

// Window is the time-of-day range a thing is scheduled for.
type Window struct {
	Start interval.TimeOfDay
	End   interval.TimeOfDay
}

type PointEntry struct {
	Reason Reason `json:"reason"`
	Points int    `json:"points"`
}

type Streak struct {
	Value int  `json:"value"`
	Reset bool `json:"reset"`
}

type BadgeDefinition struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ActionType  string `json:"action_type"`
	Threshold   int    `json:"action_threshold"`
}

type LevelDefinition struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	MinThreshold int    `json:"min_threshold"`
}

// Level places a score between the reached level and the one after it.
// Either side is nil when the score is below the first or above the last
// definition.
type Level struct {
	Score   int              `json:"score"`
	Current *LevelDefinition `json:"current"`
	Next    *LevelDefinition `json:"next"`
}

// Result is everything a submission earned.
type Result struct {
	ProofID     int64            `json:"proof_id"`
	SubmittedAt time.Time        `json:"submitted_at"`
	Points      []PointEntry     `json:"points"`
	Streak      Streak           `json:"streak"`
	Badge       *BadgeDefinition `json:"badge"`
	Level       Level            `json:"level"`
}

// Total sums all point entries.
func (r *Result) Total() int {
	total := 0
	for _, p := range r.Points {
		total += p.Points
	}
	return total
}

func (r *Result) award(reason Reason) {
	r.Points = append(r.Points, PointEntry{Reason: reason, Points: reasonPoints[reason]})
}

// --------------------------------------------------------------------------
// Persistence contract
// --------------------------------------------------------------------------

// Store runs fn inside a single transaction. A non-nil error from fn rolls
// back every write made through tx.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of reads and writes a submission needs.
type Tx interface {
	// LockStreak creates the streak row if needed, locks it exclusively
	// until the transaction ends and returns its count.
	LockStreak(ctx context.Context, userID, thingID int64) (int, error)
	HasAccess(ctx context.Context, userID, thingID int64) (bool, error)
	// InsertProof records the proof and returns its id and insertion time.
	InsertProof(ctx context.Context, sub Submission) (int64, time.Time, error)
	ScheduleFor(ctx context.Context, thingID int64) (Window, error)
	CountProofs(ctx context.Context, userID, thingID int64, within interval.Interval) (int, error)
	SetStreak(ctx context.Context, userID, thingID int64, count int) error
	// IncrementScore adds delta atomically and returns the new score.
	IncrementScore(ctx context.Context, userID int64, delta int) (int, error)
	CountCompleted(ctx context.Context, userID int64) (int, error)
	// UnearnedBadges returns definitions of actionType with a threshold at
	// most count that the user does not hold yet, lowest threshold first.
	UnearnedBadges(ctx context.Context, userID int64, actionType string, count int) ([]BadgeDefinition, error)
	AwardBadge(ctx context.Context, userID, badgeID int64) error
	Levels(ctx context.Context) ([]LevelDefinition, error)
}

// --------------------------------------------------------------------------
// Ledger
// --------------------------------------------------------------------------

type Ledger struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// Submit records a proof and applies its rewards atomically.
func (l *Ledger) Submit(ctx context.Context, sub Submission) (*Result, error) {
	var res *Result
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		r, err := apply(ctx, tx, sub)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrForbidden) {
			l.logger.Warn("proof submission rolled back",
				"user_id", sub.UserID, "thing_id", sub.ThingID, "error", err)
		}
		return nil, err
	}

	l.logger.Info("Proof recorded",
		"user_id", sub.UserID, "thing_id", sub.ThingID,
		"points", res.Total(), "streak", res.Streak.Value,
		"streak_reset", res.Streak.Reset, "score", res.Level.Score)
	return res, nil
}

func apply(ctx context.Context, tx Tx, sub Submission) (*Result, error) {
	// 1. Serialize submissions for the same (user, thing)
	prev, err := tx.LockStreak(ctx, sub.UserID, sub.ThingID)
	if err != nil {
		return nil, fmt.Errorf("lock streak: %w", err)
	}

	// 2. Authorize
	ok, err := tx.HasAccess(ctx, sub.UserID, sub.ThingID)
	if err != nil {
		return nil, fmt.Errorf("check access: %w", err)
	}
	if !ok {
		return nil, ErrForbidden
	}

	// 3. Record
	proofID, at, err := tx.InsertProof(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("insert proof: %w", err)
	}
	res := &Result{ProofID: proofID, SubmittedAt: at}

	// 4. On or off schedule
	win, err := tx.ScheduleFor(ctx, sub.ThingID)
	if err != nil {
		return nil, fmt.Errorf("resolve schedule: %w", err)
	}
	if interval.ForInstant(win.Start, win.End, at).Contains(at) {
		res.award(ReasonOnSchedule)
	} else {
		res.award(ReasonOffSchedule)
	}

	// 5. Streak
	yesterday := interval.DayWindow(win.Start, win.End, at).Previous()
	n, err := tx.CountProofs(ctx, sub.UserID, sub.ThingID, yesterday)
	if err != nil {
		return nil, fmt.Errorf("count proofs: %w", err)
	}
	if n == 0 {
		res.Streak = Streak{Value: 1, Reset: prev > 1}
	} else {
		res.Streak = Streak{Value: prev + 1}
		res.award(ReasonStreakKept)
	}
	if err := tx.SetStreak(ctx, sub.UserID, sub.ThingID, res.Streak.Value); err != nil {
		return nil, fmt.Errorf("set streak: %w", err)
	}

	// 6. Score
	score, err := tx.IncrementScore(ctx, sub.UserID, res.Total())
	if err != nil {
		return nil, fmt.Errorf("increment score: %w", err)
	}

	// 7. Badge
	completed, err := tx.CountCompleted(ctx, sub.UserID)
	if err != nil {
		return nil, fmt.Errorf("count completed: %w", err)
	}
	badges, err := tx.UnearnedBadges(ctx, sub.UserID, ActionComplete, completed)
	if err != nil {
		return nil, fmt.Errorf("unearned badges: %w", err)
	}
	if len(badges) > 0 {
		b := badges[0]
		if err := tx.AwardBadge(ctx, sub.UserID, b.ID); err != nil {
			return nil, fmt.Errorf("award badge %d: %w", b.ID, err)
		}
		res.Badge = &b
	}

	// 8. Level
	levels, err := tx.Levels(ctx)
	if err != nil {
		return nil, fmt.Errorf("load levels: %w", err)
	}
	res.Level = LevelFor(levels, score)
	return res, nil
}

// LevelFor picks the highest definition reached by score and the lowest one
// still ahead of it. defs need not be sorted.
func LevelFor(defs []LevelDefinition, score int) Level {
	lv := Level{Score: score}
	for i := range defs {
		d := defs[i]
		if d.MinThreshold <= score {
			if lv.Current == nil || d.MinThreshold > lv.Current.MinThreshold {
				lv.Current = &d
			}
		} else if lv.Next == nil || d.MinThreshold < lv.Next.MinThreshold {
			lv.Next = &d
		}
	}
	return lv
}
