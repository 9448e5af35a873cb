package extract

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/slot-ingest/internal/config"
	"github.com/sells-group/slot-ingest/internal/cost"
	"github.com/sells-group/slot-ingest/pkg/anthropic"
	"github.com/sells-group/slot-ingest/pkg/gemini"
)

const visionPrompt = `You review promotional artwork for a family-friendly slot game catalog.
Decide whether this image is safe to show publicly. Unsafe means nudity, sexual content,
graphic violence, gore, hate symbols or drug use. Game logos and stylised characters are safe.
Respond with only JSON: {"safe": true|false, "reason": "short explanation"}`

// Verdict is the vision classifier's answer for one image.
type Verdict struct {
	Safe   bool
	Reason string
}

// VisionClassifier decides whether an image is safe to display.
type VisionClassifier interface {
	Classify(ctx context.Context, mimeType, b64 string) (*Verdict, error)
}

// NewVisionClassifier selects the classifier named by vision.provider.
func NewVisionClassifier(cfg *config.Config, g gemini.Client, a anthropic.Client, costs *cost.Calculator) (VisionClassifier, error) {
	switch cfg.Vision.Provider {
	case "", "gemini":
		model := cfg.Gemini.VisionModel
		if model == "" {
			model = cfg.Gemini.Model
		}
		return &GeminiVision{client: g, model: model, costs: costs}, nil
	case "anthropic":
		if a == nil {
			return nil, eris.New("extract: anthropic vision selected without a client")
		}
		return &AnthropicVision{client: a, model: cfg.Anthropic.Model, costs: costs}, nil
	default:
		return nil, eris.Errorf("extract: unknown vision provider %q", cfg.Vision.Provider)
	}
}

// GeminiVision classifies images with a Gemini multimodal call.
type GeminiVision struct {
	client gemini.Client
	model  string
	costs  *cost.Calculator
}

// Classify implements VisionClassifier.
func (v *GeminiVision) Classify(ctx context.Context, mimeType, b64 string) (*Verdict, error) {
	temp := 0.0
	resp, err := v.client.GenerateContent(ctx, gemini.GenerateRequest{
		Model: v.model,
		Contents: []gemini.Content{{
			Role:  "user",
			Parts: []gemini.Part{gemini.ImagePart(mimeType, b64), gemini.TextPart(visionPrompt)},
		}},
		GenerationConfig: &gemini.GenerationConfig{
			Temperature:      &temp,
			MaxOutputTokens:  256,
			ResponseMimeType: "application/json",
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: gemini vision")
	}
	if v.costs != nil {
		v.costs.Attribute("gemini", v.model, "vision",
			resp.UsageMetadata.PromptTokenCount, resp.UsageMetadata.CandidatesTokenCount)
	}
	return parseVerdict(resp.Text())
}

// AnthropicVision classifies images with a Claude message.
type AnthropicVision struct {
	client anthropic.Client
	model  string
	costs  *cost.Calculator
}

// Classify implements VisionClassifier.
func (v *AnthropicVision) Classify(ctx context.Context, mimeType, b64 string) (*Verdict, error) {
	temp := 0.0
	resp, err := v.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       v.model,
		MaxTokens:   256,
		Temperature: &temp,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: visionPrompt,
			Images:  []anthropic.Image{{MediaType: mimeType, Data: b64}},
		}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: anthropic vision")
	}
	if v.costs != nil {
		v.costs.Attribute("anthropic", v.model, "vision",
			int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))
	}
	return parseVerdict(resp.Text())
}

func parseVerdict(text string) (*Verdict, error) {
	var raw struct {
		Safe   *bool  `json:"safe"`
		Reason string `json:"reason"`
	}
	if err := decodeObject(text, &raw); err != nil {
		return nil, eris.Wrap(err, "extract: parse vision verdict")
	}
	if raw.Safe == nil {
		return nil, eris.New("extract: vision verdict has no safe field")
	}
	return &Verdict{Safe: *raw.Safe, Reason: raw.Reason}, nil
}
