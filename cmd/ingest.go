package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/sells-group/slot-ingest/internal/apperr"
	"github.com/sells-group/slot-ingest/internal/model"
)

var (
	ingestName         string
	ingestProvider     string
	ingestSkipCache    bool
	ingestSkipImage    bool
	ingestForceRefresh bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a single slot and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pipeline.Ingest(ctx, model.SlotRequest{
			Name:         ingestName,
			Provider:     ingestProvider,
			SkipCache:    ingestSkipCache,
			SkipImage:    ingestSkipImage,
			ForceRefresh: ingestForceRefresh,
		})
		if err != nil {
			_ = printJSON(cmd.OutOrStdout(), map[string]any{"ok": false, "error": apperr.Classify(err)})
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	ingestCmd.Flags().StringVar(&ingestName, "name", "", "slot game name (required)")
	ingestCmd.Flags().StringVar(&ingestProvider, "provider", "", "game studio")
	ingestCmd.Flags().BoolVar(&ingestSkipCache, "skip-cache", false, "bypass the cache read")
	ingestCmd.Flags().BoolVar(&ingestSkipImage, "skip-image", false, "skip artwork search")
	ingestCmd.Flags().BoolVar(&ingestForceRefresh, "force-refresh", false, "bypass cache and duplicate checks")
	_ = ingestCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(ingestCmd)
}
