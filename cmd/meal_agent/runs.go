package main

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/meal-learner/internal/observability"
	"github.com/jonathan/meal-learner/internal/types"
)

var (
	runsUserID string
	runsLimit  int
	runsJSON   bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect learning runs",
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its recorded payload",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's runs, newest first",
	RunE:  runRunsList,
}

func init() {
	runsCmd.PersistentFlags().BoolVar(&runsJSON, "json", false, "Print raw JSON")
	runsListCmd.Flags().StringVar(&runsUserID, "user-id", "", "User UUID (required)")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs")
	_ = runsListCmd.MarkFlagRequired("user-id")

	runsCmd.AddCommand(runsShowCmd, runsListCmd)
	rootCmd.AddCommand(runsCmd)
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	runID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run id: %w", err)
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	run, err := a.store.GetRun(cmd.Context(), runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("run not found: %s", runID)
	}

	if runsJSON {
		return writeJSON(cmd, run)
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintRun(run)
	return nil
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	userID, err := uuid.Parse(runsUserID)
	if err != nil {
		return fmt.Errorf("invalid --user-id: %w", err)
	}
	if runsLimit < 1 {
		return fmt.Errorf("--limit must be positive")
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	runs, err := a.store.ListRunsByUser(cmd.Context(), userID, runsLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if runs == nil {
		runs = []types.LearningRun{}
	}

	if runsJSON {
		return writeJSON(cmd, runs)
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintRunList(runs)
	return nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
