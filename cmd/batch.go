package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/slot-ingest/internal/model"
)

var batchFile string

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Ingest slots listed in a YAML or JSON file, one at a time",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		reqs, err := loadBatchFile(batchFile)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Pipeline.IngestBatch(ctx, reqs)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), summary)
	},
}

type batchItem struct {
	Name         string `yaml:"name"`
	Provider     string `yaml:"provider"`
	SkipCache    bool   `yaml:"skipCache"`
	SkipImage    bool   `yaml:"skipImage"`
	ForceRefresh bool   `yaml:"forceRefresh"`
}

// loadBatchFile reads either a bare list of items or a {batch: [...]}
// document. JSON input parses as YAML.
func loadBatchFile(path string) ([]model.SlotRequest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: read %s", path)
	}

	var items []batchItem
	if listErr := yaml.Unmarshal(raw, &items); listErr != nil {
		var doc struct {
			Batch []batchItem `yaml:"batch"`
		}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, eris.Wrapf(err, "batch: parse %s", path)
		}
		items = doc.Batch
	}

	reqs := make([]model.SlotRequest, len(items))
	for i, it := range items {
		reqs[i] = model.SlotRequest{
			Name:         it.Name,
			Provider:     it.Provider,
			SkipCache:    it.SkipCache,
			SkipImage:    it.SkipImage,
			ForceRefresh: it.ForceRefresh,
		}
	}
	return reqs, nil
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "YAML or JSON file of items (required)")
	_ = batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}
