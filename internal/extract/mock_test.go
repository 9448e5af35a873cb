package extract

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/slot-ingest/internal/config"
	"github.com/sells-group/slot-ingest/internal/cost"
	"github.com/sells-group/slot-ingest/pkg/anthropic"
	"github.com/sells-group/slot-ingest/pkg/gemini"
	"github.com/sells-group/slot-ingest/pkg/imagesearch"
)

// --- Gemini Mock ---

type mockGemini struct {
	mock.Mock
}

func (m *mockGemini) GenerateContent(ctx context.Context, req gemini.GenerateRequest) (*gemini.GenerateResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gemini.GenerateResponse), args.Error(1)
}

// --- Image Search Mock ---

type mockImages struct {
	mock.Mock
}

func (m *mockImages) Search(ctx context.Context, query string) ([]string, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockImages) FetchImage(ctx context.Context, imageURL string) (*imagesearch.Image, error) {
	args := m.Called(ctx, imageURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*imagesearch.Image), args.Error(1)
}

// --- Vision Mock ---

type mockVision struct {
	mock.Mock
}

func (m *mockVision) Classify(ctx context.Context, mimeType, b64 string) (*Verdict, error) {
	args := m.Called(ctx, mimeType, b64)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Verdict), args.Error(1)
}

// --- Anthropic Mock ---

type mockAnthropic struct {
	mock.Mock
}

func (m *mockAnthropic) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Retry.MaxRetries = 2
	cfg.Retry.InitialBackoffMs = 1
	cfg.Retry.RateLimitBackoffMs = 1
	cfg.Retry.MaxBackoffMs = 2
	return cfg
}

func newTestExtractor(ai gemini.Client, images imagesearch.Client, vision VisionClassifier) *Extractor {
	return New(testConfig(), ai, images, vision, cost.NewCalculator(cost.DefaultRates()))
}

func textResponse(text string) *gemini.GenerateResponse {
	return &gemini.GenerateResponse{
		Candidates: []gemini.Candidate{{
			Content: gemini.Content{Role: "model", Parts: []gemini.Part{{Text: text}}},
		}},
		UsageMetadata: gemini.UsageMetadata{PromptTokenCount: 120, CandidatesTokenCount: 80},
	}
}

func grounded(req gemini.GenerateRequest) bool   { return len(req.Tools) > 0 }
func parametric(req gemini.GenerateRequest) bool { return len(req.Tools) == 0 }
