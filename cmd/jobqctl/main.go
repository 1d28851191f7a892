// jobqctl is the operations CLI for a jobq-backed queue: it enqueues,
// cancels, and inspects jobs in the store a dispatcher process works from.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/queueworks/jobq/pkg/config"
	"github.com/queueworks/jobq/pkg/logger"
	"github.com/queueworks/jobq/pkg/pgstore"
	"github.com/queueworks/jobq/pkg/queue"
	"github.com/queueworks/jobq/pkg/sqlitestore"
)

var (
	driver     string
	sqlitePath string

	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "jobqctl",
	Short:         "Operations CLI for the jobq work queue",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log = logger.New(logger.WithDevelopment("jobqctl"))
	},
}

// openStore opens the configured backend and returns its repository surface.
func openStore(ctx context.Context) (queue.QueriesRepository, func(), error) {
	switch driver {
	case "sqlite":
		db, err := sqlitestore.Open(ctx, sqlitePath)
		if err != nil {
			return nil, nil, err
		}
		storage, err := sqlitestore.NewStorage(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return storage, func() { _ = db.Close() }, nil
	case "postgres":
		var cfg pgstore.Config
		if err := config.Load(&cfg); err != nil {
			return nil, nil, err
		}
		pool, err := pgstore.Connect(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		storage, err := pgstore.NewStorage(pool, pgstore.WithLogger(log))
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return storage, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown driver %q: must be postgres or sqlite", driver)
	}
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue entrypoint [payload]",
	Short: "Add a job to the queue",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var payload []byte
		if len(args) == 2 {
			payload = []byte(args[1])
		}
		priority, err := cmd.Flags().GetInt("priority")
		if err != nil {
			return err
		}
		count, err := cmd.Flags().GetInt("count")
		if err != nil {
			return err
		}
		if count < 1 {
			return fmt.Errorf("count must be at least 1")
		}

		repo, cleanup, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		q, err := queue.NewQueries(repo)
		if err != nil {
			return err
		}

		entrypoints := make([]string, count)
		payloads := make([][]byte, count)
		priorities := make([]int, count)
		for i := range count {
			entrypoints[i] = args[0]
			payloads[i] = payload
			priorities[i] = priority
		}

		ids, err := q.Enqueue(ctx, entrypoints, payloads, priorities)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel job-id [job-id...]",
	Short: "Request cancellation of jobs by id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ids := make([]uuid.UUID, 0, len(args))
		for _, arg := range args {
			id, err := uuid.Parse(arg)
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", arg, err)
			}
			ids = append(ids, id)
		}

		repo, cleanup, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		q, err := queue.NewQueries(repo)
		if err != nil {
			return err
		}
		if err := q.MarkJobAsCancelled(ctx, ids...); err != nil {
			return err
		}
		fmt.Printf("cancellation requested for %d job(s)\n", len(ids))
		return nil
	},
}

var sizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Show current job counts grouped by status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		repo, cleanup, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		q, err := queue.NewQueries(repo)
		if err != nil {
			return err
		}
		entries, err := q.QueueSize(ctx)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			fmt.Printf("%-12s %d\n", entry.Status, entry.Count)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate the most recent terminal-transition log rows by status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		tail, err := cmd.Flags().GetInt("tail")
		if err != nil {
			return err
		}

		repo, cleanup, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		q, err := queue.NewQueries(repo)
		if err != nil {
			return err
		}
		entries, err := q.LogStatistics(ctx, tail)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			fmt.Printf("%-12s %d\n", entry.Status, entry.Count)
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Verify connectivity of the configured store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		switch driver {
		case "sqlite":
			db, err := sqlitestore.Open(ctx, sqlitePath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			if err := db.PingContext(ctx); err != nil {
				return err
			}
		case "postgres":
			var cfg pgstore.Config
			if err := config.Load(&cfg); err != nil {
				return err
			}
			pool, err := pgstore.Connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := pgstore.Healthcheck(pool)(ctx); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown driver %q: must be postgres or sqlite", driver)
		}

		fmt.Println("ok")
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations (postgres driver only)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if driver != "postgres" {
			return fmt.Errorf("migrate applies to the postgres driver; the sqlite store bootstraps its own schema on open")
		}

		var cfg pgstore.Config
		if err := config.Load(&cfg); err != nil {
			return err
		}
		pool, err := pgstore.Connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := pgstore.Migrate(ctx, pool); err != nil {
			return err
		}
		log.Info("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&driver, "driver", "postgres", "queue store backend: postgres or sqlite")
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite-path", "jobq.db", "path to the sqlite database (sqlite driver)")

	enqueueCmd.Flags().Int("priority", 0, "job priority, lower values are served first")
	enqueueCmd.Flags().Int("count", 1, "number of identical jobs to enqueue")
	statsCmd.Flags().Int("tail", 1000, "number of most recent log rows to aggregate")

	rootCmd.AddCommand(enqueueCmd, cancelCmd, sizeCmd, statsCmd, healthCmd, migrateCmd)
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
