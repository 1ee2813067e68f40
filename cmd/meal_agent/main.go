// Package main provides the meal_agent CLI: the API server with its worker pool, and
// operator commands for submitting triggers and inspecting runs.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonathan/meal-learner/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "meal_agent",
	Short: "Meal recommendation learning pipeline",
	Long: `meal_agent turns app triggers into guarded learning runs: it explores the meal catalog
with an LLM oracle, ranks a short list of recommendations and records every run for audit.`,
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if configPath != "" {
			return os.Setenv(config.ConfigPathEnvVar, configPath)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (overrides CONFIG_PATH)")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
