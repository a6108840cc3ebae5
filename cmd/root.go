// Package cmd implements the helpdeck command line interface.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/helpdeck/helpdeck/internal/log"
)

var (
	debug   bool
	logJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "helpdeck",
	Short: "HelpDeck - AI customer support query service",
	Long: `HelpDeck answers customer questions for registered businesses using
their own knowledge base. It serves a multi-tenant HTTP API with
streaming responses, per-tenant quotas, and query analytics.

Run 'helpdeck serve' to start the API server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log in JSON format")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// newLogger builds the process logger from the persistent flags. The
// DEBUG environment variable also enables debug logging so containers
// can flip it without changing arguments.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if debug || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: logJSON})
}
