package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/slot-ingest/internal/config"
	"github.com/sells-group/slot-ingest/internal/cost"
	"github.com/sells-group/slot-ingest/internal/dispatch"
	"github.com/sells-group/slot-ingest/internal/extract"
	"github.com/sells-group/slot-ingest/internal/pipeline"
	"github.com/sells-group/slot-ingest/internal/store"
	"github.com/sells-group/slot-ingest/internal/validate"
	anthropicpkg "github.com/sells-group/slot-ingest/pkg/anthropic"
	"github.com/sells-group/slot-ingest/pkg/gemini"
	"github.com/sells-group/slot-ingest/pkg/imagesearch"
)

const defaultSQLitePath = "slot-ingest.db"

// pipelineEnv holds the initialized store, clients and pipeline used by the
// serve/ingest/batch commands.
type pipelineEnv struct {
	Store    store.Store
	Repo     *store.Repository
	Tasks    *dispatch.Dispatcher
	Pipeline *pipeline.Pipeline
}

// Close drains background writes, then closes the store.
func (pe *pipelineEnv) Close() {
	if pe.Tasks != nil {
		_ = pe.Tasks.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	sc := c.Store
	if sc.Driver == "sqlite" && sc.DatabaseURL == "" {
		sc.DatabaseURL = defaultSQLitePath
	}
	st, err := store.Open(ctx, sc)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

// initPipeline validates config for mode, connects the store and all AI
// clients, and builds the Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env, err := buildEnv(cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return env, nil
}

// buildEnv wires everything above the store.
func buildEnv(c *config.Config, st store.Store) (*pipelineEnv, error) {
	costs := cost.FromConfig(c.Pricing)

	geminiClient := gemini.NewClient(c.Gemini.Key,
		gemini.WithBaseURL(c.Gemini.BaseURL),
		gemini.WithModel(c.Gemini.Model),
		gemini.WithRateLimit(c.Gemini.RequestsPerSecond, 1),
	)
	imageOpts := []imagesearch.Option{
		imagesearch.WithBaseURL(c.ImageSearch.BaseURL),
		imagesearch.WithUserAgent(c.ImageSearch.UserAgent),
		imagesearch.WithMaxImageBytes(c.Vision.MaxImageBytes),
	}
	if c.ImageSearch.TimeoutSecs > 0 {
		imageOpts = append(imageOpts, imagesearch.WithHTTPClient(&http.Client{
			Timeout: time.Duration(c.ImageSearch.TimeoutSecs) * time.Second,
		}))
	}
	imageClient := imagesearch.NewClient(imageOpts...)

	var anthropicClient anthropicpkg.Client
	if c.Anthropic.Key != "" {
		anthropicClient = anthropicpkg.NewClient(c.Anthropic.Key)
	}
	vision, err := extract.NewVisionClassifier(c, geminiClient, anthropicClient, costs)
	if err != nil {
		return nil, err
	}

	extractor := extract.New(c, geminiClient, imageClient, vision, costs)
	validator := validate.New(c.Validation)
	tasks := dispatch.New(c.Dispatch)
	repo := store.NewRepository(st, c, tasks)

	return &pipelineEnv{
		Store:    st,
		Repo:     repo,
		Tasks:    tasks,
		Pipeline: pipeline.New(c, validator, extractor, repo),
	}, nil
}
