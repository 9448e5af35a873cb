package store

import (
	"context"
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/slot-ingest/internal/apperr"
	"github.com/sells-group/slot-ingest/internal/model"
)

// CheckRateLimit counts a request for identifier against the fixed window
// containing now. It returns a rate limit error once the window is full.
// Store failures let the request through.
func (r *Repository) CheckRateLimit(ctx context.Context, identifier, endpoint string) error {
	now := r.now().UTC()
	start := now.Truncate(r.window)

	w, err := r.store.GetRateWindow(ctx, identifier, endpoint, start)
	if err != nil {
		zap.L().Warn("ratelimit: lookup failed, allowing request",
			zap.String("identifier", identifier),
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
		return nil
	}

	if w != nil && w.RequestCount >= r.maxRequests {
		retry := int(math.Ceil(start.Add(r.window).Sub(now).Seconds()))
		if retry < 1 {
			retry = 1
		}
		return apperr.RateLimit("rate limit exceeded", map[string]any{
			"retry_after_seconds": retry,
			"limit":               r.maxRequests,
			"window_seconds":      int(r.window.Seconds()),
		})
	}

	if w != nil {
		err = r.store.IncrementRateWindow(ctx, identifier, endpoint, start)
	} else {
		err = r.store.InsertRateWindow(ctx, model.RateLimitWindow{
			Identifier:   identifier,
			Endpoint:     endpoint,
			WindowStart:  start,
			RequestCount: 1,
		})
		if errors.Is(err, ErrConflict) {
			// A concurrent request opened the window first.
			err = r.store.IncrementRateWindow(ctx, identifier, endpoint, start)
		}
	}
	if err != nil {
		zap.L().Warn("ratelimit: count failed", zap.String("identifier", identifier), zap.Error(err))
	}
	return nil
}
