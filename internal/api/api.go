// Package api exposes the ingestion pipeline over HTTP.
package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/slot-ingest/internal/apperr"
	"github.com/sells-group/slot-ingest/internal/model"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	ingestEndpoint     = "ingest"
)

// Ingester runs single and batch submissions.
type Ingester interface {
	Ingest(ctx context.Context, req model.SlotRequest) (*model.IngestResult, error)
	IngestBatch(ctx context.Context, reqs []model.SlotRequest) (*model.BatchSummary, error)
}

// RateLimiter counts requests per caller.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, identifier, endpoint string) error
}

// Deps holds the handler's collaborators. Limiter may be nil.
type Deps struct {
	Pipeline    Ingester
	Limiter     RateLimiter
	Token       string
	CORSOrigins []string
}

// NewHandler returns the service router.
func NewHandler(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "apikey", "x-client-info"},
		MaxAge:         300,
	}))

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(d.Token))
		r.Post("/v1/ingest", handleIngest(d.Pipeline, d.Limiter))
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}

// ingestItem is one submission as sent by clients.
type ingestItem struct {
	Name         string `json:"name"`
	Provider     string `json:"provider"`
	SkipCache    bool   `json:"skipCache"`
	SkipImage    bool   `json:"skipImage"`
	ForceRefresh bool   `json:"forceRefresh"`
}

func (i ingestItem) request() model.SlotRequest {
	return model.SlotRequest{
		Name:         i.Name,
		Provider:     i.Provider,
		SkipCache:    i.SkipCache,
		SkipImage:    i.SkipImage,
		ForceRefresh: i.ForceRefresh,
	}
}

type ingestBody struct {
	ingestItem
	Batch *[]ingestItem `json:"batch"`
}

// ingestResponse is the success body for a single submission.
type ingestResponse struct {
	OK          bool                   `json:"ok"`
	Action      model.Action           `json:"action"`
	Slot        *model.ValidatedRecord `json:"slot"`
	Confidence  int                    `json:"confidence"`
	Source      model.DataSource       `json:"source"`
	NeedsReview bool                   `json:"needsReview"`
	Image       string                 `json:"image,omitempty"`
	Warnings    []string               `json:"warnings"`
	DurationMs  int64                  `json:"duration_ms"`
}

type batchResponse struct {
	OK      bool                `json:"ok"`
	Summary *model.BatchSummary `json:"summary"`
}

type errorResponse struct {
	OK    bool          `json:"ok"`
	Error *apperr.Error `json:"error"`
}

func handleIngest(p Ingester, limiter RateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close() //nolint:errcheck

		var body ingestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, apperr.Validation("request body too large", map[string]any{"max_bytes": tooLarge.Limit}))
				return
			}
			writeError(w, apperr.Validation("invalid request body", map[string]any{"reason": err.Error()}))
			return
		}

		if limiter != nil {
			if err := limiter.CheckRateLimit(r.Context(), callerIdentity(r), ingestEndpoint); err != nil {
				writeError(w, err)
				return
			}
		}

		if body.Batch != nil {
			reqs := make([]model.SlotRequest, len(*body.Batch))
			for i, item := range *body.Batch {
				reqs[i] = item.request()
			}
			summary, err := p.IngestBatch(r.Context(), reqs)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, batchResponse{OK: true, Summary: summary})
			return
		}

		res, err := p.Ingest(r.Context(), body.request())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(res))
	}
}

func toResponse(res *model.IngestResult) ingestResponse {
	out := ingestResponse{
		OK:          true,
		Action:      res.Action,
		Slot:        res.Data,
		Source:      res.Source,
		NeedsReview: res.NeedsReview,
		Warnings:    res.Warnings,
		DurationMs:  res.DurationMs,
	}
	if out.Warnings == nil {
		out.Warnings = []string{}
	}
	if res.Data != nil {
		out.Confidence = res.Data.ConfidenceScore
		out.Image = res.Data.Image
	}
	return out
}

// callerIdentity keys rate limiting by a digest of the bearer token, or by
// client address when no token was sent.
func callerIdentity(r *http.Request) string {
	if tok := bearerToken(r); tok != "" {
		sum := sha256.Sum256([]byte(tok))
		return "token:" + hex.EncodeToString(sum[:8])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func writeError(w http.ResponseWriter, err error) {
	ae := apperr.Classify(err)
	if ae.Timestamp.IsZero() {
		ae.Timestamp = time.Now().UTC()
	}
	if ae.Kind == apperr.KindRateLimit {
		if secs, ok := ae.Details["retry_after_seconds"].(int); ok {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}
	if ae.Kind == apperr.KindInternal {
		// Internal causes can carry driver text; keep it in the log only.
		zap.L().Error("api: internal error", zap.Error(err))
	}
	writeJSON(w, ae.StatusCode(), errorResponse{OK: false, Error: ae})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}
