package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/szhabolcs/something-sub000/internal/interval"
)

// PGStore runs ledger transactions on Postgres. All statements are the
// ledger_* prepared statements registered by internal/db.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// InTx commits when fn returns nil and rolls back otherwise.
func (s *PGStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

// foreign_key_violation
const fkViolation = "23503"

// missingRefAsForbidden turns the streak row's foreign key violation (unknown
// user or thing) into a rejected submission.
func missingRefAsForbidden(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == fkViolation {
		return ErrForbidden
	}
	return err
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockStreak(ctx context.Context, userID, thingID int64) (int, error) {
	if _, err := t.tx.Exec(ctx, "ledger_ensure_streak", userID, thingID); err != nil {
		return 0, missingRefAsForbidden(err)
	}
	var n int
	err := t.tx.QueryRow(ctx, "ledger_lock_streak", userID, thingID).Scan(&n)
	return n, err
}

func (t *pgTx) HasAccess(ctx context.Context, userID, thingID int64) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx, "ledger_has_access", userID, thingID).Scan(&ok)
	return ok, err
}

func (t *pgTx) InsertProof(ctx context.Context, sub Submission) (int64, time.Time, error) {
	var (
		id int64
		at time.Time
	)
	err := t.tx.QueryRow(ctx, "ledger_insert_proof", sub.UserID, sub.ThingID, sub.Filename).Scan(&id, &at)
	return id, at.UTC(), err
}

func (t *pgTx) ScheduleFor(ctx context.Context, thingID int64) (Window, error) {
	var start, end string
	err := t.tx.QueryRow(ctx, "ledger_schedule_for", thingID).Scan(&start, &end)
	if errors.Is(err, pgx.ErrNoRows) {
		return Window{}, ErrScheduleNotFound
	}
	if err != nil {
		return Window{}, err
	}
	var w Window
	if w.Start, err = interval.ParseTimeOfDay(start); err != nil {
		return Window{}, fmt.Errorf("thing %d: %w", thingID, err)
	}
	if w.End, err = interval.ParseTimeOfDay(end); err != nil {
		return Window{}, fmt.Errorf("thing %d: %w", thingID, err)
	}
	return w, nil
}

func (t *pgTx) CountProofs(ctx context.Context, userID, thingID int64, within interval.Interval) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, "ledger_count_proofs", userID, thingID, within.Start, within.End).Scan(&n)
	return n, err
}

func (t *pgTx) SetStreak(ctx context.Context, userID, thingID int64, count int) error {
	_, err := t.tx.Exec(ctx, "ledger_set_streak", userID, thingID, count)
	return err
}

func (t *pgTx) IncrementScore(ctx context.Context, userID int64, delta int) (int, error) {
	var score int
	err := t.tx.QueryRow(ctx, "ledger_increment_score", userID, delta).Scan(&score)
	return score, err
}

func (t *pgTx) CountCompleted(ctx context.Context, userID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, "ledger_count_completed", userID).Scan(&n)
	return n, err
}

func (t *pgTx) UnearnedBadges(ctx context.Context, userID int64, actionType string, count int) ([]BadgeDefinition, error) {
	rows, err := t.tx.Query(ctx, "ledger_unearned_badges", userID, actionType, count)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []BadgeDefinition
	for rows.Next() {
		var b BadgeDefinition
		if err := rows.Scan(&b.ID, &b.Name, &b.Description, &b.ActionType, &b.Threshold); err != nil {
			return nil, fmt.Errorf("scan badge definition: %w", err)
		}
		defs = append(defs, b)
	}
	return defs, rows.Err()
}

func (t *pgTx) AwardBadge(ctx context.Context, userID, badgeID int64) error {
	_, err := t.tx.Exec(ctx, "ledger_award_badge", userID, badgeID)
	return err
}

func (t *pgTx) Levels(ctx context.Context) ([]LevelDefinition, error) {
	rows, err := t.tx.Query(ctx, "ledger_levels")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []LevelDefinition
	for rows.Next() {
		var d LevelDefinition
		if err := rows.Scan(&d.ID, &d.Name, &d.MinThreshold); err != nil {
			return nil, fmt.Errorf("scan level definition: %w", err)
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}
