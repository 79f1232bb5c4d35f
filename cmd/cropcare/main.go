package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "cropcare",
	Short: "cropcare - weather-aware plant care plans",
	Long: `cropcare keeps a rolling 7-day care plan for each plant, adapts it to the
local forecast and to active diseases, and tracks treatment progress.`,
	Version: Version,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr    string
	configPath string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7480", "API server address")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.cropcare/config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(plantCmd)
	rootCmd.AddCommand(diseaseCmd)
	rootCmd.AddCommand(actionCmd)
	rootCmd.AddCommand(redeemCmd)
	rootCmd.AddCommand(tuiCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
