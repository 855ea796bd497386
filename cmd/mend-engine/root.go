package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	adminAddr  string
)

var rootCmd = &cobra.Command{
	Use:   "mend-engine",
	Short: "Self-repair control loop for monitored services",
	Long: `mend-engine watches a deployed service, detects failures, applies
rule-based repairs with snapshot rollback, validates the outcome and
escalates what it cannot fix into SLA-tracked incidents.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&adminAddr, "address", "", "admin API address (overrides config)")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
}
