package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/slot-ingest/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache maintenance",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired cache rows and stale rate-limit windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("cache"); err != nil {
			return err
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cacheRows, windowRows, err := store.NewRepository(st, cfg, nil).PruneExpired(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("prune complete",
			zap.Int("cache_rows", cacheRows),
			zap.Int("rate_window_rows", windowRows),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %d cache rows, %d rate-limit windows\n", cacheRows, windowRows)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}
