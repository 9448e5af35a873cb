// Package extract calls the AI service for slot metadata and runs the image
// safety search.
package extract

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/slot-ingest/internal/apperr"
	"github.com/sells-group/slot-ingest/internal/config"
	"github.com/sells-group/slot-ingest/internal/cost"
	"github.com/sells-group/slot-ingest/internal/model"
	"github.com/sells-group/slot-ingest/internal/resilience"
	"github.com/sells-group/slot-ingest/internal/validate"
	"github.com/sells-group/slot-ingest/pkg/gemini"
	"github.com/sells-group/slot-ingest/pkg/imagesearch"
)

// Extraction is the result of ExtractMetadata.
type Extraction struct {
	Draft         *model.ExtractedDraft
	Source        model.DataSource
	GroundingURLs []string
}

// Extractor owns the AI text calls and the image safety sub-pipeline.
type Extractor struct {
	ai      gemini.Client
	images  imagesearch.Client
	vision  VisionClassifier
	breaker *resilience.CircuitBreaker
	costs   *cost.Calculator
	retry   resilience.RetryConfig

	model           string
	temperature     float64
	maxOutputTokens int
	parametricCap   int
	maxCandidates   int
	blockedKeywords []string
}

// New creates an Extractor. vision may be nil when images are never
// requested; every candidate is then treated as unchecked and safe.
func New(cfg *config.Config, ai gemini.Client, images imagesearch.Client, vision VisionClassifier, costs *cost.Calculator) *Extractor {
	breakerCfg := resilience.FromCircuitConfig(cfg.Vision)
	breakerCfg.OnStateChange = resilience.BreakerLogger("vision")

	if costs == nil {
		costs = cost.FromConfig(cfg.Pricing)
	}
	maxCandidates := cfg.Vision.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = 3
	}

	return &Extractor{
		ai:              ai,
		images:          images,
		vision:          vision,
		breaker:         resilience.NewCircuitBreaker(breakerCfg),
		costs:           costs,
		retry:           resilience.FromRetryConfig(cfg.Retry),
		model:           cfg.Gemini.Model,
		temperature:     cfg.Gemini.Temperature,
		maxOutputTokens: cfg.Gemini.MaxOutputTokens,
		parametricCap:   cfg.Pipeline.ParametricConfidenceCap,
		maxCandidates:   maxCandidates,
		blockedKeywords: cfg.ImageSearch.BlockedKeywords,
	}
}

// ExtractMetadata asks the model about a slot. The grounded call runs
// first; when it fails or yields no JSON object with a name, a parametric
// call without search tools runs instead and its confidence is capped.
func (e *Extractor) ExtractMetadata(ctx context.Context, name, provider string) (*Extraction, error) {
	log := zap.L().With(zap.String("slot", name), zap.String("provider", provider))

	resp, err := e.callModel(ctx, groundedPrompt(name, provider), true, "extract_grounded")
	switch {
	case err == nil:
		draft, perr := ParseDraft(resp.Text())
		if perr == nil && draft.Name != "" {
			log.Debug("extract: grounded extraction succeeded",
				zap.Int("grounding_sources", len(resp.GroundingURLs())),
			)
			return &Extraction{Draft: draft, Source: model.SourceGrounded, GroundingURLs: resp.GroundingURLs()}, nil
		}
		log.Warn("extract: grounded response unusable, falling back to parametric", zap.Error(perr))
	case ctx.Err() != nil:
		return nil, apperr.AI(err, "AI extraction cancelled", map[string]any{"stage": "grounded"})
	default:
		log.Warn("extract: grounded call failed, falling back to parametric", zap.Error(err))
	}

	resp, err = e.callModel(ctx, parametricPrompt(name, provider), false, "extract_parametric")
	if err != nil {
		return nil, apperr.AI(err, "AI extraction failed", map[string]any{"stage": "parametric"})
	}
	draft, err := ParseDraft(resp.Text())
	if err != nil {
		return nil, apperr.AI(err, "AI response contained no usable JSON", map[string]any{"stage": "parametric"})
	}
	e.capConfidence(draft)

	return &Extraction{Draft: draft, Source: model.SourceParametric}, nil
}

// ParametricCap is the confidence ceiling for parametric extractions.
func (e *Extractor) ParametricCap() int { return e.parametricCap }

func (e *Extractor) capConfidence(draft *model.ExtractedDraft) {
	if c, ok := validate.NormalizeConfidence(draft.Confidence); ok && c > e.parametricCap {
		draft.Confidence = e.parametricCap
	}
}

func (e *Extractor) callModel(ctx context.Context, prompt string, grounded bool, purpose string) (*gemini.GenerateResponse, error) {
	temp := e.temperature
	req := gemini.GenerateRequest{
		Model: e.model,
		Contents: []gemini.Content{{
			Role:  "user",
			Parts: []gemini.Part{gemini.TextPart(prompt)},
		}},
		GenerationConfig: &gemini.GenerationConfig{
			Temperature:     &temp,
			MaxOutputTokens: e.maxOutputTokens,
		},
	}
	if grounded {
		req.Tools = gemini.SearchTool()
	}

	rc := e.retry
	rc.OnRetry = resilience.RetryLogger("gemini", purpose)

	resp, err := resilience.DoVal(ctx, rc, func(ctx context.Context) (*gemini.GenerateResponse, error) {
		return e.ai.GenerateContent(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	e.costs.Attribute("gemini", e.model, purpose,
		resp.UsageMetadata.PromptTokenCount, resp.UsageMetadata.CandidatesTokenCount)
	return resp, nil
}

const draftSchema = `{
  "name": "official game title",
  "provider": "studio that made the game",
  "rtp": "return to player percentage, e.g. 96.5",
  "volatility": "low | medium | high | very_high",
  "max_win": "maximum win as a multiplier of the stake, e.g. 5000",
  "theme": "short theme description",
  "features": ["bonus feature names"],
  "release_year": 2021,
  "confidence": "0-100, how sure you are of these facts",
  "sources": ["URLs you used"],
  "twitch_safe": true
}`

func groundedPrompt(name, provider string) string {
	return fmt.Sprintf(`Search the web for the online slot game %s.
Use the game provider's site, slotcatalog.com or other reputable slot review sites.
Respond with only a JSON object in this shape and nothing else:
%s
Use null for any fact you cannot verify.`, subject(name, provider), draftSchema)
}

func parametricPrompt(name, provider string) string {
	return fmt.Sprintf(`From what you already know about the online slot game %s, fill in this JSON object.
Respond with only the JSON object:
%s
Use null for any fact you are not sure of and leave sources empty.`, subject(name, provider), draftSchema)
}

func subject(name, provider string) string {
	if provider == "" {
		return fmt.Sprintf("%q", name)
	}
	return fmt.Sprintf("%q by %s", name, provider)
}
