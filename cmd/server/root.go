package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"rollcall/internal/config"
	"rollcall/internal/logs"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	Verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "rollcall",
		Short: "Roster-backed attendance service",
		Long: `rollcall checks student ids against a roster kept in Google Sheets,
records attendance in a local log and pushes updates to websocket clients.

Configuration comes from built-in defaults, then the --config YAML file,
then environment variables (SHEET_ID, CLIENT_EMAIL, PRIVATE_KEY, PORT and
ROLLCALL_*).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newRosterCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))

	return cmd
}

// newLogger builds the ring-buffer logger, forwarding to a text handler on
// stderr.
func newLogger(cfg config.Config, verbose bool) *logs.Logger {
	level := logs.ParseLevel(cfg.LogLevel)
	if verbose {
		level = logs.DEBUG
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	return logs.NewLogger(cfg.LogBuffer, level, logs.WithSlog(slog.New(handler)))
}
