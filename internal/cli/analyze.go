package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"meter-determinants/internal/app"
)

var (
	analyzeInput  string
	analyzeDryRun bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Compute billing determinants for an input pack",
	RunE: func(cmd *cobra.Command, args []string) error {
		if analyzeInput == "" {
			return fmt.Errorf("--input must be provided")
		}

		opts := app.AnalyzeOptions{
			InputPath: analyzeInput,
			DryRun:    analyzeDryRun,
		}

		return getApp().Analyze(cmd.Context(), opts)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeInput, "input", "", "Path to JSON input pack")
	analyzeCmd.Flags().BoolVar(&analyzeDryRun, "dry-run", false, "Compute and print without persisting or alerting")
}
