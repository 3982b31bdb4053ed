package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/szhabolcs/something-sub000/internal/interval"
)

// PGStore is the Postgres-backed Store. Statements are the notif_*
// prepared statements registered by internal/db.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// ListNonCompleted returns every notification still waiting to fire.
func (s *PGStore) ListNonCompleted(ctx context.Context) ([]Notification, error) {
	rows, err := s.pool.Query(ctx, "notif_list_non_completed")
	if err != nil {
		return nil, fmt.Errorf("list non-completed: %w", err)
	}
	return collectNotifications(rows)
}

// ListForThing returns the non-completed notifications of a thing.
func (s *PGStore) ListForThing(ctx context.Context, thingID int64) ([]Notification, error) {
	rows, err := s.pool.Query(ctx, "notif_list_for_thing", thingID)
	if err != nil {
		return nil, fmt.Errorf("list for thing: %w", err)
	}
	return collectNotifications(rows)
}

func (s *PGStore) Exists(ctx context.Context, userID, thingID int64, iv interval.Interval) (*Notification, error) {
	rows, err := s.pool.Query(ctx, "notif_exists", userID, thingID, iv.Start, iv.End)
	if err != nil {
		return nil, fmt.Errorf("check existing: %w", err)
	}
	found, err := collectNotifications(rows)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

// CreateUnlessExists runs the existence check and the insert in one
// transaction holding an advisory lock on (user, thing), so concurrent
// writers in different processes create at most one record per interval.
func (s *PGStore) CreateUnlessExists(ctx context.Context, n Notification, iv interval.Interval) (Notification, bool, error) {
	created := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "notif_lock_pair", n.UserID, n.ThingID); err != nil {
			return fmt.Errorf("lock pair: %w", err)
		}
		rows, err := tx.Query(ctx, "notif_exists", n.UserID, n.ThingID, iv.Start, iv.End)
		if err != nil {
			return fmt.Errorf("check existing: %w", err)
		}
		found, err := collectNotifications(rows)
		if err != nil {
			return err
		}
		if len(found) > 0 {
			n = found[0]
			return nil
		}
		err = tx.QueryRow(ctx, "notif_create",
			n.UserID, n.ThingID, n.Title, n.Body, n.Payload, n.ScheduledAt, string(n.Status),
		).Scan(&n.ID)
		if err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
		created = true
		return nil
	})
	return n, created, err
}

// Claim marks a scheduled notification completed in a single conditional
// update. Only one caller across all processes gets the row back.
func (s *PGStore) Claim(ctx context.Context, id int64) (Notification, User, error) {
	var (
		n      Notification
		u      User
		status string
	)
	err := s.pool.QueryRow(ctx, "notif_claim", id).Scan(
		&n.ID, &n.UserID, &n.ThingID, &n.Title, &n.Body, &n.Payload, &n.ScheduledAt, &status,
		&u.ID, &u.Username, &u.PushToken,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return n, u, ErrNotFound
	}
	if err != nil {
		return n, u, fmt.Errorf("claim notification %d: %w", id, err)
	}
	n.Status = Status(status)
	return n, u, nil
}

func (s *PGStore) Delete(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, "notif_delete", id)
	return err
}

// ActiveToday returns schedules with an occurrence on today.
func (s *PGStore) ActiveToday(ctx context.Context, today time.Time, weekday time.Weekday, includePersonal bool) ([]ScheduledThing, error) {
	rows, err := s.pool.Query(ctx, "notif_active_today", today, int(weekday), includePersonal)
	if err != nil {
		return nil, fmt.Errorf("active today: %w", err)
	}
	defer rows.Close()

	var out []ScheduledThing
	for rows.Next() {
		st, err := scanScheduledThing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *PGStore) ScheduleForThing(ctx context.Context, thingID int64) (ScheduledThing, error) {
	st, err := scanScheduledThing(s.pool.QueryRow(ctx, "notif_schedule_for_thing", thingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return st, ErrScheduleNotFound
	}
	return st, err
}

// Recipients returns every user with access to the thing.
func (s *PGStore) Recipients(ctx context.Context, thingID int64) ([]User, error) {
	rows, err := s.pool.Query(ctx, "notif_recipients", thingID)
	if err != nil {
		return nil, fmt.Errorf("get recipients: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.PushToken); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func collectNotifications(rows pgx.Rows) ([]Notification, error) {
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		var (
			n      Notification
			status string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.ThingID, &n.Title, &n.Body, &n.Payload, &n.ScheduledAt, &status); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Status = Status(status)
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanScheduledThing(row pgx.Row) (ScheduledThing, error) {
	var (
		st           ScheduledThing
		start, end   string
		repeat       string
		specificDate *time.Time
		dayOfWeek    *int
	)
	err := row.Scan(
		&st.Schedule.ThingID, &start, &end, &repeat, &specificDate, &dayOfWeek,
		&st.Thing.ID, &st.Thing.Name, &st.Thing.Type,
	)
	if err != nil {
		return st, err
	}
	if st.Schedule.Start, err = interval.ParseTimeOfDay(start); err != nil {
		return st, fmt.Errorf("thing %d: %w", st.Thing.ID, err)
	}
	if st.Schedule.End, err = interval.ParseTimeOfDay(end); err != nil {
		return st, fmt.Errorf("thing %d: %w", st.Thing.ID, err)
	}
	st.Schedule.Repeat = Repeat(repeat)
	st.Schedule.SpecificDate = specificDate
	if dayOfWeek != nil {
		wd := time.Weekday(*dayOfWeek)
		st.Schedule.DayOfWeek = &wd
	}
	return st, nil
}
