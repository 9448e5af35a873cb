// Package pipeline sequences validation, caching, AI extraction, image
// safety and persistence into a single ingestion flow per submission.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/slot-ingest/internal/apperr"
	"github.com/sells-group/slot-ingest/internal/config"
	"github.com/sells-group/slot-ingest/internal/extract"
	"github.com/sells-group/slot-ingest/internal/logging"
	"github.com/sells-group/slot-ingest/internal/model"
	"github.com/sells-group/slot-ingest/internal/store"
	"github.com/sells-group/slot-ingest/internal/validate"
)

// Moderation flags attached to records routed to manual review.
const (
	FlagLowConfidence  = "low_confidence"
	FlagImageSafety    = "ai_image_safety_check_failed"
	moderationPending  = "pending"
	defaultBatchPause  = 2 * time.Second
	defaultBatchMaxLen = 50
)

// Extractor produces slot metadata and artwork.
type Extractor interface {
	ExtractMetadata(ctx context.Context, name, provider string) (*extract.Extraction, error)
	FindSafeImage(ctx context.Context, name, provider string) (*extract.ImageResult, error)
	ParametricCap() int
}

// Repository is the persistence the pipeline needs.
type Repository interface {
	CacheGet(ctx context.Context, key string) *model.CacheEntry
	CacheSet(ctx context.Context, key string, value any)
	CheckDuplicate(ctx context.Context, name, provider string) (model.DuplicateMatch, error)
	UpsertRecord(ctx context.Context, rec *model.ValidatedRecord) (*store.UpsertResult, error)
	LogAudit(e model.AuditEntry)
	LogModeration(e model.ModerationEntry)
	LogSources(slotID string, urls []string)
}

// Pipeline runs ingestions. It holds no per-request state and is safe for
// concurrent use.
type Pipeline struct {
	validator *validate.Validator
	extractor Extractor
	repo      Repository

	threshold     int
	version       string
	batchMax      int
	batchPause    time.Duration
	parametricCap int

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Pipeline.
func New(cfg *config.Config, v *validate.Validator, ex Extractor, repo Repository) *Pipeline {
	p := &Pipeline{
		validator:     v,
		extractor:     ex,
		repo:          repo,
		threshold:     cfg.Pipeline.ConfidenceThreshold,
		version:       cfg.Pipeline.IngestionVersion,
		batchMax:      cfg.Batch.MaxItems,
		batchPause:    time.Duration(cfg.Batch.PauseMs) * time.Millisecond,
		parametricCap: cfg.Pipeline.ParametricConfidenceCap,
		sleep:         sleepCtx,
	}
	if p.batchMax <= 0 {
		p.batchMax = defaultBatchMaxLen
	}
	if p.batchPause < 0 {
		p.batchPause = defaultBatchPause
	}
	if ex != nil && ex.ParametricCap() > 0 {
		p.parametricCap = ex.ParametricCap()
	}
	return p
}

// Ingest runs one submission through every stage. Failures are returned as
// *apperr.Error. An audit entry is written on every exit.
func (p *Pipeline) Ingest(ctx context.Context, req model.SlotRequest) (res *model.IngestResult, err error) {
	start := time.Now()
	pc := &model.ProcessingContext{Stage: model.StageReceived}
	name := strings.TrimSpace(req.Name)
	provider := strings.TrimSpace(req.Provider)
	log := zap.L().With(zap.String("slot", name), zap.String("provider", provider))

	defer func() {
		if err != nil {
			err = apperr.Classify(err)
			log.Warn("pipeline: ingestion failed",
				zap.String("stage", string(pc.Stage)),
				zap.String("error_type", string(apperr.KindOf(err))),
				zap.Error(err),
			)
		}
		p.audit(name, provider, req, pc, res, err, time.Since(start))
	}()

	// 1. Input shape.
	pc.Stage = model.StageValidating
	if err := p.validator.ValidateInput(name, provider); err != nil {
		return nil, err
	}

	// 2. Content safety, before any AI spend.
	pc.Stage = model.StageSafety
	if err := p.validator.CheckRequestSafety(name, provider); err != nil {
		return nil, err
	}

	canonical := ""
	if provider != "" {
		canonical = p.validator.CanonicalProvider(p.validator.Sanitize(provider))
	}
	key := store.CacheKey(name, canonical)

	// 3. Cache.
	if !req.ForceRefresh && !req.SkipCache {
		pc.Stage = model.StageCache
		t := logging.StartTimer(log, string(pc.Stage))
		entry := p.repo.CacheGet(ctx, key)
		t.Stop(zap.Bool("hit", entry != nil))
		if entry != nil {
			var rec model.ValidatedRecord
			if jsonErr := json.Unmarshal(entry.Response, &rec); jsonErr != nil {
				log.Warn("pipeline: cached record unreadable, ignoring", zap.String("cache_key", key), zap.Error(jsonErr))
			} else {
				pc.Source = model.SourceCache
				pc.Stage = model.StageComplete
				logging.Event(log, "cache_hit", zap.String("cache_key", key))
				return p.result(model.ActionCached, &rec, pc, start), nil
			}
		}
	}

	// 4. Duplicate.
	if !req.ForceRefresh {
		pc.Stage = model.StageDuplicate
		t := logging.StartTimer(log, string(pc.Stage))
		match, dupErr := p.repo.CheckDuplicate(ctx, name, canonical)
		t.Stop(zap.Bool("duplicate", match.IsDuplicate))
		if dupErr != nil {
			log.Warn("pipeline: duplicate check failed, continuing", zap.Error(dupErr))
			pc.Warn("duplicate check unavailable")
		} else if match.IsDuplicate {
			pc.Source = model.SourceExistingRecord
			pc.Stage = model.StageComplete
			logging.Event(log, "duplicate_found",
				zap.String("match_type", string(match.MatchType)),
				zap.String("slot_id", match.Existing.ID),
			)
			return p.result(model.ActionDuplicate, match.Existing, pc, start), nil
		}
	}

	// 5. AI extraction.
	pc.Stage = model.StageExtracting
	t := logging.StartTimer(log, string(pc.Stage))
	ext, err := p.extractor.ExtractMetadata(ctx, name, canonical)
	t.Stop()
	if err != nil {
		return nil, err
	}
	pc.Source = ext.Source
	if len(ext.GroundingURLs) > 0 {
		log.Debug("pipeline: grounding sources", zap.Strings("urls", ext.GroundingURLs))
	}

	// 6. Normalize.
	pc.Stage = model.StageValidated
	rec, rejected, err := p.validator.ValidateSlotData(ext.Draft, name, canonical)
	if err != nil {
		return nil, err
	}
	if ext.Source == model.SourceParametric && rec.ConfidenceScore > p.parametricCap {
		rec.ConfidenceScore = p.parametricCap
	}
	if ext.Source == model.SourceParametric {
		pc.Warn("data extracted without web search; verify before publishing")
	}

	// 7. Source compliance. Never fails.
	pc.Stage = model.StageSources
	pc.RejectedSources = rejected
	for _, r := range rejected {
		pc.Warn(fmt.Sprintf("source rejected (%s): %s", r.Reason, r.URL))
	}
	if len(rec.SourceCitations) == 0 {
		pc.Warn("no compliant sources cited")
	}

	// 8. Image.
	pc.Stage = model.StageImage
	if req.SkipImage {
		rec.ImageSafetyStatus = model.ImagePending
	} else {
		t := logging.StartTimer(log, string(pc.Stage))
		img, imgErr := p.extractor.FindSafeImage(ctx, rec.Name, rec.Provider)
		t.Stop()
		if imgErr != nil {
			log.Warn("pipeline: image search failed", zap.Error(imgErr))
			pc.Warn("image search failed")
		}
		if img != nil {
			rec.Image = img.URL
			rec.ImageSafetyStatus = img.Status
		} else {
			rec.ImageSafetyStatus = model.ImageNotFound
		}
		if rec.ImageSafetyStatus == model.ImageQuarantined {
			pc.Flag(FlagImageSafety)
			pc.Warn("image quarantined by safety check")
		}
	}

	// 9. Confidence gate.
	if rec.ConfidenceScore < p.threshold {
		rec.ModerationStatus = model.ModerationManualReview
		pc.Flag(FlagLowConfidence)
		pc.Warn(fmt.Sprintf("confidence %d is below the review threshold of %d; routed to manual review",
			rec.ConfidenceScore, p.threshold))
	} else {
		rec.ModerationStatus = model.ModerationApproved
	}
	rec.IngestionVersion = p.version

	// 10. Persist.
	pc.Stage = model.StagePersisting
	t = logging.StartTimer(log, string(pc.Stage))
	up, err := p.repo.UpsertRecord(ctx, rec)
	t.Stop()
	if err != nil {
		return nil, apperr.Internal(err, "failed to persist slot record")
	}

	// 11. Side effects.
	p.repo.CacheSet(ctx, key, up.Record)
	p.repo.LogSources(up.ID, up.Record.SourceCitations)
	p.logModeration(up, pc)

	action := model.ActionUpdated
	if up.IsNew {
		action = model.ActionInserted
	}
	pc.Stage = model.StageComplete
	logging.Event(log, "slot_ingested",
		zap.String("action", string(action)),
		zap.String("slot_id", up.ID),
		zap.Int("confidence", up.Record.ConfidenceScore),
		zap.String("source", string(pc.Source)),
	)
	return p.result(action, up.Record, pc, start), nil
}

func (p *Pipeline) logModeration(up *store.UpsertResult, pc *model.ProcessingContext) {
	for _, flag := range pc.Flags {
		p.repo.LogModeration(model.ModerationEntry{
			SlotID:         up.ID,
			SlotName:       up.Record.Name,
			Provider:       up.Record.Provider,
			FlaggedReasons: []string{flag},
			Confidence:     up.Record.ConfidenceScore,
			Image:          up.Record.Image,
			Status:         moderationPending,
		})
	}
}

func (p *Pipeline) result(action model.Action, rec *model.ValidatedRecord, pc *model.ProcessingContext, start time.Time) *model.IngestResult {
	return &model.IngestResult{
		Success:     true,
		Action:      action,
		Data:        rec,
		Source:      pc.Source,
		NeedsReview: needsReview(rec),
		Warnings:    pc.Warnings,
		DurationMs:  time.Since(start).Milliseconds(),
		Context:     *pc,
	}
}

func needsReview(rec *model.ValidatedRecord) bool {
	return rec.ModerationStatus == model.ModerationManualReview || rec.ImageSafetyStatus == model.ImageQuarantined
}

func (p *Pipeline) audit(name, provider string, req model.SlotRequest, pc *model.ProcessingContext, res *model.IngestResult, err error, elapsed time.Duration) {
	entry := model.AuditEntry{
		SlotName:   name,
		Provider:   provider,
		Success:    err == nil,
		Source:     pc.Source,
		Stage:      pc.Stage,
		DurationMs: elapsed.Milliseconds(),
		Warnings:   pc.Warnings,
	}
	if res != nil {
		entry.Action = res.Action
		if res.Data != nil {
			c := res.Data.ConfidenceScore
			entry.Confidence = &c
		}
	}
	if err != nil {
		entry.ErrorType = string(apperr.KindOf(err))
		entry.Error = err.Error()
	}

	meta := map[string]any{
		"skip_cache":    req.SkipCache,
		"skip_image":    req.SkipImage,
		"force_refresh": req.ForceRefresh,
	}
	if len(pc.Flags) > 0 {
		meta["flags"] = pc.Flags
	}
	if len(pc.RejectedSources) > 0 {
		meta["rejected_sources"] = pc.RejectedSources
	}
	if raw, jsonErr := json.Marshal(meta); jsonErr == nil {
		entry.Metadata = raw
	}
	p.repo.LogAudit(entry)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
