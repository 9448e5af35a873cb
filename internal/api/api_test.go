package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/slot-ingest/internal/apperr"
	"github.com/sells-group/slot-ingest/internal/config"
	"github.com/sells-group/slot-ingest/internal/model"
	"github.com/sells-group/slot-ingest/internal/store"
)

const testToken = "test-token-12345"

type mockIngester struct {
	mock.Mock
}

func (m *mockIngester) Ingest(ctx context.Context, req model.SlotRequest) (*model.IngestResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.IngestResult), args.Error(1)
}

func (m *mockIngester) IngestBatch(ctx context.Context, reqs []model.SlotRequest) (*model.BatchSummary, error) {
	args := m.Called(ctx, reqs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BatchSummary), args.Error(1)
}

func newTestLimiter(t *testing.T, max int) *store.Repository {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	cfg := config.Default()
	cfg.RateLimit.MaxRequests = max
	return store.NewRepository(st, cfg, nil)
}

func authReq(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testToken)
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func rtp(v float64) *float64 { return &v }

func TestHealth(t *testing.T) {
	h := NewHandler(Deps{Pipeline: &mockIngester{}, Token: testToken})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestIngest_RequiresBearerToken(t *testing.T) {
	p := &mockIngester{}
	h := NewHandler(Deps{Pipeline: p, Token: testToken})

	for _, header := range []string{"", "Bearer wrong", "Basic " + testToken} {
		req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"name":"Mental"}`))
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
		body := decode(t, rec)
		assert.Equal(t, false, body["ok"])
		assert.Equal(t, "auth_error", body["error"].(map[string]any)["type"])
	}
	p.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
}

func TestIngest_Single(t *testing.T) {
	p := &mockIngester{}
	p.On("Ingest", mock.Anything, model.SlotRequest{Name: "Mental", Provider: "Nolimit City", SkipImage: true}).
		Return(&model.IngestResult{
			Success: true,
			Action:  model.ActionInserted,
			Data: &model.ValidatedRecord{
				ID:                "slot-1",
				Name:              "Mental",
				Provider:          "Nolimit City",
				RTP:               rtp(96.08),
				Volatility:        model.VolatilityVeryHigh,
				ConfidenceScore:   85,
				ModerationStatus:  model.ModerationApproved,
				Image:             "https://img.example/mental.png",
				ImageSafetyStatus: model.ImageSafe,
			},
			Source:     model.SourceGrounded,
			DurationMs: 1234,
		}, nil)

	h := NewHandler(Deps{Pipeline: p, Token: testToken})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authReq(`{"name":"Mental","provider":"Nolimit City","skipImage":true}`))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "inserted", body["action"])
	assert.Equal(t, float64(85), body["confidence"])
	assert.Equal(t, "ai_grounded", body["source"])
	assert.Equal(t, false, body["needsReview"])
	assert.Equal(t, "https://img.example/mental.png", body["image"])
	assert.Equal(t, []any{}, body["warnings"])
	assert.Equal(t, float64(1234), body["duration_ms"])
	slot := body["slot"].(map[string]any)
	assert.Equal(t, "slot-1", slot["id"])
	assert.Equal(t, "very_high", slot["volatility"])
	p.AssertExpectations(t)
}

func TestIngest_ErrorBody(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"validation", apperr.Validation("name must be between 2 and 200 characters", map[string]any{"field": "name"}), 400, "validation_error"},
		{"moderation", apperr.Moderation("content blocked by safety filter", nil), 422, "moderation_error"},
		{"ai", apperr.AI(assert.AnError, "AI extraction failed", nil), 502, "ai_error"},
		{"internal", apperr.Internal(assert.AnError, "failed to persist slot record"), 500, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockIngester{}
			p.On("Ingest", mock.Anything, mock.Anything).Return(nil, tt.err)
			h := NewHandler(Deps{Pipeline: p, Token: testToken})

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, authReq(`{"name":"Mental"}`))

			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, false, body["ok"])
			e := body["error"].(map[string]any)
			assert.Equal(t, tt.kind, e["type"])
			assert.NotEmpty(t, e["message"])
			assert.NotEmpty(t, e["timestamp"])
		})
	}
}

func TestIngest_MalformedBody(t *testing.T) {
	p := &mockIngester{}
	h := NewHandler(Deps{Pipeline: p, Token: testToken})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authReq(`{"name":`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decode(t, rec)["error"].(map[string]any)["type"])

	big := `{"name":"` + strings.Repeat("a", maxRequestBodySize) + `"}`
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authReq(big))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "too large")

	p.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
}

func TestIngest_Batch(t *testing.T) {
	p := &mockIngester{}
	want := []model.SlotRequest{
		{Name: "Mental", Provider: "NLC"},
		{Name: "Starburst", ForceRefresh: true},
	}
	p.On("IngestBatch", mock.Anything, want).Return(&model.BatchSummary{
		Total: 2, Succeeded: 2, Inserted: 1, Cached: 1,
		Results: []model.BatchItemResult{
			{Name: "Mental", Success: true, Action: model.ActionInserted},
			{Name: "Starburst", Success: true, Action: model.ActionCached},
		},
	}, nil)

	h := NewHandler(Deps{Pipeline: p, Token: testToken})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authReq(`{"batch":[{"name":"Mental","provider":"NLC"},{"name":"Starburst","forceRefresh":true}]}`))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	summary := body["summary"].(map[string]any)
	assert.Equal(t, float64(2), summary["total"])
	p.AssertExpectations(t)
	p.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
}

func TestIngest_EmptyBatchGoesToBatchRunner(t *testing.T) {
	p := &mockIngester{}
	p.On("IngestBatch", mock.Anything, []model.SlotRequest{}).
		Return(nil, apperr.Validation("batch must contain at least one item", nil))

	h := NewHandler(Deps{Pipeline: p, Token: testToken})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authReq(`{"batch":[]}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	p.AssertExpectations(t)
}

func TestIngest_RateLimited(t *testing.T) {
	p := &mockIngester{}
	p.On("Ingest", mock.Anything, mock.Anything).Return(&model.IngestResult{
		Success: true,
		Action:  model.ActionCached,
		Data:    &model.ValidatedRecord{Name: "Mental", Provider: "Nolimit City"},
		Source:  model.SourceCache,
	}, nil)

	h := NewHandler(Deps{Pipeline: p, Limiter: newTestLimiter(t, 2), Token: testToken})

	for i := range 2 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, authReq(`{"name":"Mental"}`))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authReq(`{"name":"Mental"}`))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	e := decode(t, rec)["error"].(map[string]any)
	assert.Equal(t, "rate_limit_error", e["type"])
	assert.Equal(t, float64(2), e["details"].(map[string]any)["limit"])

	p.AssertNumberOfCalls(t, "Ingest", 2)
}

func TestCallerIdentity(t *testing.T) {
	a := httptest.NewRequest(http.MethodPost, "/v1/ingest", nil)
	a.Header.Set("Authorization", "Bearer one")
	b := httptest.NewRequest(http.MethodPost, "/v1/ingest", nil)
	b.Header.Set("Authorization", "Bearer two")
	anon := httptest.NewRequest(http.MethodPost, "/v1/ingest", nil)
	anon.RemoteAddr = "10.0.0.7:5123"

	assert.True(t, strings.HasPrefix(callerIdentity(a), "token:"))
	assert.NotEqual(t, callerIdentity(a), callerIdentity(b))
	assert.NotContains(t, callerIdentity(a), "one")
	assert.Equal(t, "ip:10.0.0.7", callerIdentity(anon))
}

func TestCORSPreflight(t *testing.T) {
	h := NewHandler(Deps{Pipeline: &mockIngester{}, Token: testToken, CORSOrigins: []string{"https://admin.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/v1/ingest", nil)
	req.Header.Set("Origin", "https://admin.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://admin.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
