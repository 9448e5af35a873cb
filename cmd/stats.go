package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/slot-ingest/internal/monitoring"
)

var statsHours int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print ingestion health over a lookback window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("stats"); err != nil {
			return err
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		hours := statsHours
		if hours <= 0 {
			hours = cfg.Monitoring.LookbackWindowHours
		}
		snap, err := monitoring.NewCollector(st, nil).Collect(ctx, hours)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"snapshot": snap,
			"alerts":   monitoring.NewAlerter(cfg.Monitoring).Evaluate(snap),
		})
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsHours, "hours", 0, "lookback window in hours (default from config)")
	rootCmd.AddCommand(statsCmd)
}
