package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/tamperguard/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var logger *slog.Logger

var rootCmd = &cobra.Command{
	Use:   "tamperguard",
	Short: "Tamper detection and recovery for a live page",
	Long: `tamperguard loads a page in Chrome, captures its baseline, watches
the document and its network responses for tampering, and walks the
soft, emergency and lockdown recovery steps when it finds any.

The collector subcommand stores the events engines report.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, _, err = logging.New(logging.FromEnv())
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		slog.SetDefault(logger)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "tamperguard", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
