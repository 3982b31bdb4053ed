// Package db provides a pgxpool-based connection pool with prepared statement
// registration and health checking.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/szhabolcs/something-sub000/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// CleanupCompleted deletes completed notifications scheduled before cutoff
// and returns how many were removed.
func (p *Pool) CleanupCompleted(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.Exec(ctx, "maint_cleanup_completed", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup completed notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Column lists shared by several statements.
const (
	notificationCols = "n.id, n.user_id, n.thing_id, n.title, n.body, n.payload, n.scheduled_at, n.status"
	scheduleCols     = "s.thing_id, to_char(s.start_time, 'HH24:MI'), to_char(s.end_time, 'HH24:MI'), " +
		"s.repeat, s.specific_date, s.day_of_week, t.id, t.name, t.type"
)

// Statements returns every named statement the server and the CLI use.
// Exposed so tests and tooling can inspect the SQL without a connection.
func Statements() map[string]string {
	return map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Ledger: streak row lock
		"ledger_ensure_streak": "INSERT INTO " + config.StreaksTable + " (user_id, thing_id, count) VALUES ($1, $2, 0) " +
			"ON CONFLICT (user_id, thing_id) DO NOTHING",
		"ledger_lock_streak": "SELECT count FROM " + config.StreaksTable + " WHERE user_id = $1 AND thing_id = $2 FOR UPDATE",
		"ledger_set_streak":  "UPDATE " + config.StreaksTable + " SET count = $3 WHERE user_id = $1 AND thing_id = $2",

		// Ledger: proof + schedule
		"ledger_has_access": "SELECT EXISTS (SELECT 1 FROM " + config.ThingAccessTable + " WHERE user_id = $1 AND thing_id = $2)",
		// clock_timestamp: the proof is stamped after the streak lock is held
		"ledger_insert_proof": "INSERT INTO " + config.ImagesTable + " (user_id, thing_id, filename, created_at) " +
			"VALUES ($1, $2, $3, clock_timestamp()) RETURNING id, created_at",
		"ledger_schedule_for": "SELECT to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI') FROM " +
			config.SchedulesTable + " WHERE thing_id = $1",
		"ledger_count_proofs": "SELECT count(*) FROM " + config.ImagesTable +
			" WHERE user_id = $1 AND thing_id = $2 AND created_at >= $3 AND created_at < $4",

		// Ledger: score, badges, levels
		"ledger_increment_score": "INSERT INTO " + config.ScoresTable + " (user_id, value) VALUES ($1, $2) " +
			"ON CONFLICT (user_id) DO UPDATE SET value = " + config.ScoresTable + ".value + EXCLUDED.value RETURNING value",
		"ledger_count_completed": "SELECT count(*) FROM " + config.ImagesTable + " WHERE user_id = $1",
		"ledger_unearned_badges": "SELECT bd.id, bd.name, bd.description, bd.action_type, bd.action_threshold FROM " +
			config.BadgeDefinitionsTable + " bd WHERE bd.action_type = $2 AND bd.action_threshold <= $3 " +
			"AND NOT EXISTS (SELECT 1 FROM " + config.BadgesTable + " b WHERE b.user_id = $1 AND b.badge_definition_id = bd.id) " +
			"ORDER BY bd.action_threshold, bd.id",
		"ledger_award_badge": "INSERT INTO " + config.BadgesTable + " (user_id, badge_definition_id) VALUES ($1, $2) " +
			"ON CONFLICT DO NOTHING",
		"ledger_levels": "SELECT id, name, min_threshold FROM " + config.LevelDefinitionsTable + " ORDER BY min_threshold, id",

		// Notifications
		"notif_list_non_completed": "SELECT " + notificationCols + " FROM " + config.NotificationsTable +
			" n WHERE n.status <> 'completed' ORDER BY n.scheduled_at",
		"notif_list_for_thing": "SELECT " + notificationCols + " FROM " + config.NotificationsTable +
			" n WHERE n.thing_id = $1 AND n.status <> 'completed' ORDER BY n.id",
		"notif_exists": "SELECT " + notificationCols + " FROM " + config.NotificationsTable +
			" n WHERE n.user_id = $1 AND n.thing_id = $2 AND n.scheduled_at >= $3 AND n.scheduled_at < $4 LIMIT 1",
		"notif_lock_pair": "SELECT pg_advisory_xact_lock(hashtextextended('" + config.NotificationsTable +
			":' || $1::bigint || ':' || $2::bigint, 0))",
		"notif_create": "INSERT INTO " + config.NotificationsTable +
			" (user_id, thing_id, title, body, payload, scheduled_at, status) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id",
		"notif_claim": "WITH n AS (UPDATE " + config.NotificationsTable +
			" SET status = 'completed', updated_at = now() WHERE id = $1 AND status = 'scheduled' " +
			"RETURNING id, user_id, thing_id, title, body, payload, scheduled_at, status) SELECT " + notificationCols +
			", u.id, u.username, COALESCE(u.push_token, '') FROM n JOIN " + config.UsersTable + " u ON u.id = n.user_id",
		"notif_delete": "DELETE FROM " + config.NotificationsTable + " WHERE id = $1 AND status = 'scheduled'",
		"notif_active_today": "SELECT " + scheduleCols + " FROM " + config.SchedulesTable + " s JOIN " +
			config.ThingsTable + " t ON t.id = s.thing_id WHERE " +
			"(s.repeat = 'once' AND s.specific_date = $1::date) OR s.repeat = 'daily' " +
			"OR (s.repeat = 'weekly' AND s.day_of_week = $2) OR ($3 AND t.type = 'personal') ORDER BY s.thing_id",
		"notif_schedule_for_thing": "SELECT " + scheduleCols + " FROM " + config.SchedulesTable + " s JOIN " +
			config.ThingsTable + " t ON t.id = s.thing_id WHERE s.thing_id = $1",
		"notif_recipients": "SELECT u.id, u.username, COALESCE(u.push_token, '') FROM " + config.ThingAccessTable +
			" a JOIN " + config.UsersTable + " u ON u.id = a.user_id WHERE a.thing_id = $1 ORDER BY u.id",

		// Maintenance
		"maint_cleanup_completed": "DELETE FROM " + config.NotificationsTable +
			" WHERE status = 'completed' AND scheduled_at < $1",
	}
}

// registerPreparedStatements prepares every statement on a new connection.
// Prepared statements eliminate parse overhead on every request.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	for name, sql := range Statements() {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
