// Command habitctl is the operator CLI for the reminder scheduler.
//
// Usage:
//
//	habitctl rebuild
//	habitctl reconcile --dry-run
//	habitctl interval 22:00 02:00 --at 2024-05-15T01:30:00Z
//	habitctl cleanup --retention 720h
//
// Notifications written by this CLI get their timers from the server's
// adoption sweep; the CLI never fires pushes itself. Creation takes the same
// per-(user, thing) advisory lock as the server, so a rebuild overlapping the
// server's cannot duplicate rows.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/szhabolcs/something-sub000/internal/config"
	"github.com/szhabolcs/something-sub000/internal/db"
	"github.com/szhabolcs/something-sub000/internal/interval"
	"github.com/szhabolcs/something-sub000/internal/maintenance"
	"github.com/szhabolcs/something-sub000/internal/notifications"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	if err := rootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "habitctl",
		Short: "Habit reminder scheduler operator CLI",
	}
	root.SetOut(out)

	root.AddCommand(rebuildCmd())
	root.AddCommand(reconcileCmd())
	root.AddCommand(intervalCmd())
	root.AddCommand(cleanupCmd())
	return root
}

// --------------------------------------------------------------------------
// rebuild command
// --------------------------------------------------------------------------

func rebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Create today's notifications for every active schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithDB(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				sched := offlineScheduler(cfg, pool)
				result, err := sched.Rebuild(ctx)
				if err != nil {
					return err
				}
				logger.Info("Rebuild finished", "summary", result.Summary())
				for _, e := range result.Errors {
					logger.Error("rebuild error", "error", e)
				}
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// reconcile command
// --------------------------------------------------------------------------

func reconcileCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Discard notifications whose time has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithDB(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				store := notifications.NewPGStore(pool.Pool)
				if dryRun {
					pending, err := store.ListNonCompleted(ctx)
					if err != nil {
						return err
					}
					late, future := notifications.SplitLate(pending, time.Now())
					fmt.Fprintf(cmd.OutOrStdout(), "pending=%d late=%d future=%d\n", len(pending), len(late), len(future))
					for _, n := range late {
						fmt.Fprintf(cmd.OutOrStdout(), "late id=%d user=%d thing=%d scheduled_at=%s\n",
							n.ID, n.UserID, n.ThingID, n.ScheduledAt.Format(time.RFC3339))
					}
					return nil
				}
				res, err := offlineScheduler(cfg, pool).Reconcile(ctx)
				if err != nil {
					return err
				}
				logger.Info("Reconcile finished", "summary", res.Summary())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only report late notifications")
	return cmd
}

// --------------------------------------------------------------------------
// interval command
// --------------------------------------------------------------------------

func intervalCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "interval START END",
		Short: "Show the interval a schedule yields for an instant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := interval.ParseTimeOfDay(args[0])
			if err != nil {
				return err
			}
			end, err := interval.ParseTimeOfDay(args[1])
			if err != nil {
				return err
			}
			t := time.Now().UTC()
			if at != "" {
				if t, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("parse --at: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			iv := interval.Compute(start, end, t)
			fmt.Fprintf(out, "today:     %s (%s)\n", iv, iv.Duration())
			fmt.Fprintf(out, "overnight: %v\n", iv.Overnight())
			owner := interval.ForInstant(start, end, t)
			fmt.Fprintf(out, "instant:   %s on schedule=%v\n", owner, owner.Contains(t))
			day := interval.DayWindow(start, end, t)
			fmt.Fprintf(out, "day:       %s\n", day)
			fmt.Fprintf(out, "yesterday: %s\n", day.Previous())
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Instant to evaluate (RFC3339, default now)")
	return cmd
}

// --------------------------------------------------------------------------
// cleanup command
// --------------------------------------------------------------------------

func cleanupCmd() *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete completed notifications older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithDB(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				if retention <= 0 {
					retention = cfg.NotificationRetention
				}
				n := maintenance.Cleanup(ctx, pool, time.Now().Add(-retention), logger)
				fmt.Fprintf(cmd.OutOrStdout(), "deleted=%d\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "Keep completed notifications this long (default NOTIFICATION_RETENTION_DAYS)")
	return cmd
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func runWithDB(fn func(ctx context.Context, cfg *config.Config, pool *db.Pool) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := db.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, cfg, pool)
}

// offlineScheduler writes notifications without arming timers.
func offlineScheduler(cfg *config.Config, pool *db.Pool) *notifications.Scheduler {
	return notifications.New(notifications.NewPGStore(pool.Pool), nil, logger,
		notifications.WithAfterFunc(notifications.NoopAfterFunc),
		notifications.WithWorkers(cfg.RebuildWorkers),
		notifications.WithPersonalAlwaysActive(cfg.PersonalAlwaysActive),
	)
}
