package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "iochain",
	Short: "iochain: filter-chain pipeline for network sessions",
	Long: `iochain accepts TCP and WebSocket sessions and runs every I/O event
of a session through an ordered chain of named filters: framers, codecs,
rate limits, policy checks, secret scanning and audit logging.

The chain template is read from the config file and can be edited at
runtime through the admin API; new sessions copy the template, live
sessions keep their own chain.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
