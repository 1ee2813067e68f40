package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/meal-learner/internal/server"
	"github.com/jonathan/meal-learner/internal/server/ratelimit"
	"github.com/jonathan/meal-learner/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and the run workers",
	Long: `Start an HTTP server that accepts triggers on POST /triggers, together with the worker
pool that executes admitted runs and the sweep that reclaims stale pending runs.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	if a.cfg.Database.MigrateOnStart {
		if err := a.migrate(ctx); err != nil {
			return err
		}
	}

	q, err := a.newQueue(ctx)
	if err != nil {
		return fmt.Errorf("failed to open run queue: %w", err)
	}
	runner, err := a.newRunner(ctx, nil)
	if err != nil {
		return err
	}

	pool := worker.NewPool(q, runner, a.store, worker.Config{
		Concurrency:     a.cfg.Worker.Concurrency,
		PendingTTL:      a.cfg.Guard.PendingTTL,
		ReclaimInterval: a.cfg.Guard.ReclaimInterval,
	}, a.log)
	pool.Start(ctx)

	sc := a.cfg.Server
	var rl *ratelimit.Config
	if sc.RateLimit.Enabled {
		rl = ratelimit.NewConfig(sc.RateLimit.DefaultPerMinute, sc.RateLimit.TriggersPerMinute, sc.RateLimit.CleanupInterval)
	}
	var health server.Pinger
	if a.db != nil {
		health = a.db
	}
	srv := server.New(server.Config{
		Addr:            sc.Addr,
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		ShutdownTimeout: sc.ShutdownTimeout,
		RateLimit:       rl,
	}, a.newService(q), a.store, health, a.log)

	serveErr := srv.Start(ctx)

	// Workers finish the run they hold; queued jobs stay queued (redis) or are reclaimed
	// later as stale
	stop()
	if err := q.Close(); err != nil {
		a.log.Warn("Failed to close run queue", "error", err)
	}
	pool.Wait()
	a.log.Info("Workers stopped")

	return serveErr
}

