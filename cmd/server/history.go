package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"rollcall/internal/config"
	"rollcall/internal/ledger"
	"rollcall/internal/metrics"
)

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the recorded attendance",
		Long: `Print the recorded attendance from the configured log.

Formats: text (table), json, csv (the same file served for download).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(opts.ConfigPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, opts.Verbose)
			log, err := ledger.Open(cfg.LedgerConfig(), logger, metrics.NewRegistry())
			if err != nil {
				return err
			}
			defer log.Close()

			out := cmd.OutOrStdout()
			switch format {
			case "csv":
				return log.Export(out)
			case "json", "text":
			default:
				return fmt.Errorf("invalid format %q: must be one of text, json, csv", format)
			}

			records, err := log.ReadAll()
			if err != nil {
				return err
			}
			if format == "json" {
				if records == nil {
					records = []ledger.Record{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MSSV\tNAME\tMARKED")
			for _, r := range records {
				mark := ""
				if r.Marked {
					mark = "X"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, r.Name, mark)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format (text|json|csv)")
	return cmd
}
