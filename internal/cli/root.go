package cli

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	dbPath  string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "splitpage",
	Short: "splitpage - a self-hosted, server-side A/B testing engine for landing pages",
	Long: `splitpage buckets visitors into experiment variants, rewrites landing
page HTML server-side, and tracks impressions and conversions.
Single Go binary, embedded SQLite, no external dependencies.

Running without a subcommand starts the server (same as 'splitpage serve').`,
	RunE: runServe, // Default action is to start the server
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// A local .env is optional; missing files are fine
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", getEnvOrDefault("SP_CONFIG", "./splitpage.yaml"), "config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose logging")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
