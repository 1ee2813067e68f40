package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/meal-learner/internal/worker"
)

var reclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Fail pending runs left behind by a crashed worker",
	Long: `Mark every pending run untouched for longer than guard.pending_ttl as failed with
reason stale_pending_reclaimed, so the user can be admitted again.`,
	RunE: runReclaim,
}

func init() {
	rootCmd.AddCommand(reclaimCmd)
}

func runReclaim(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	pool := worker.NewPool(nil, nil, a.store, worker.Config{PendingTTL: a.cfg.Guard.PendingTTL}, a.log)
	n, err := pool.ReclaimOnce(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to reclaim stale runs: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %d stale pending run(s)\n", n) //nolint:errcheck
	return nil
}
