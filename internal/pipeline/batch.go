package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/slot-ingest/internal/apperr"
	"github.com/sells-group/slot-ingest/internal/model"
)

// IngestBatch runs reqs one at a time with a pause between items. Item
// failures are recorded in the summary; only an invalid batch is an error.
// Cancelling ctx marks the remaining items failed.
func (p *Pipeline) IngestBatch(ctx context.Context, reqs []model.SlotRequest) (*model.BatchSummary, error) {
	if len(reqs) == 0 {
		return nil, apperr.Validation("batch must contain at least one item", map[string]any{"field": "batch"})
	}
	if len(reqs) > p.batchMax {
		return nil, apperr.Validation(fmt.Sprintf("batch exceeds maximum of %d items", p.batchMax), map[string]any{
			"field": "batch",
			"size":  len(reqs),
			"max":   p.batchMax,
		})
	}

	start := time.Now()
	summary := &model.BatchSummary{
		Total:   len(reqs),
		Results: make([]model.BatchItemResult, 0, len(reqs)),
	}
	log := zap.L().With(zap.Int("batch_size", len(reqs)))
	log.Info("batch: starting")

	for i, req := range reqs {
		if i > 0 {
			if err := p.sleep(ctx, p.batchPause); err != nil {
				p.cancelRemaining(summary, reqs[i:], err)
				break
			}
		}
		if err := ctx.Err(); err != nil {
			p.cancelRemaining(summary, reqs[i:], err)
			break
		}

		res, err := p.Ingest(ctx, req)
		item := model.BatchItemResult{Name: req.Name, Result: res}
		if err != nil {
			item.Error = err.Error()
			item.ErrorType = string(apperr.KindOf(err))
			var ae *apperr.Error
			if errors.As(err, &ae) {
				item.Error = ae.Message
			}
			summary.Failed++
		} else {
			item.Success = true
			item.Action = res.Action
			summary.Succeeded++
			countAction(summary, res.Action)
		}
		summary.Results = append(summary.Results, item)

		log.Debug("batch: item done",
			zap.Int("index", i),
			zap.String("slot", req.Name),
			zap.Bool("success", item.Success),
		)
	}

	summary.DurationMs = time.Since(start).Milliseconds()
	log.Info("batch: complete",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int64("duration_ms", summary.DurationMs),
	)
	return summary, nil
}

func (p *Pipeline) cancelRemaining(summary *model.BatchSummary, rest []model.SlotRequest, cause error) {
	zap.L().Warn("batch: cancelled", zap.Int("remaining", len(rest)), zap.Error(cause))
	for _, req := range rest {
		summary.Results = append(summary.Results, model.BatchItemResult{
			Name:      req.Name,
			Error:     "batch cancelled: " + cause.Error(),
			ErrorType: string(apperr.KindInternal),
		})
		summary.Failed++
	}
}

func countAction(s *model.BatchSummary, a model.Action) {
	switch a {
	case model.ActionInserted:
		s.Inserted++
	case model.ActionUpdated:
		s.Updated++
	case model.ActionCached:
		s.Cached++
	case model.ActionDuplicate:
		s.Duplicates++
	}
}
