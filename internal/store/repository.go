package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/slot-ingest/internal/config"
	"github.com/sells-group/slot-ingest/internal/dispatch"
	"github.com/sells-group/slot-ingest/internal/model"
	"github.com/sells-group/slot-ingest/internal/validate"
)

// Repository is the persistence facade used by the pipeline. Cache and log
// writes are best-effort: they go through the dispatcher and their failures
// are logged, never returned.
type Repository struct {
	store       Store
	tasks       *dispatch.Dispatcher
	cacheTTL    time.Duration
	window      time.Duration
	maxRequests int
	now         func() time.Time
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithClock overrides the repository clock.
func WithClock(now func() time.Time) RepositoryOption {
	return func(r *Repository) { r.now = now }
}

// NewRepository wraps s. A nil dispatcher runs side effects inline.
func NewRepository(s Store, cfg *config.Config, tasks *dispatch.Dispatcher, opts ...RepositoryOption) *Repository {
	r := &Repository{
		store:       s,
		tasks:       tasks,
		cacheTTL:    time.Duration(cfg.Pipeline.CacheTTLHours) * time.Hour,
		window:      time.Duration(cfg.RateLimit.WindowSecs) * time.Second,
		maxRequests: cfg.RateLimit.MaxRequests,
		now:         time.Now,
	}
	if r.cacheTTL <= 0 {
		r.cacheTTL = 24 * time.Hour
	}
	if r.window <= 0 {
		r.window = time.Minute
	}
	if r.maxRequests <= 0 {
		r.maxRequests = 30
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Store returns the backing store.
func (r *Repository) Store() Store { return r.store }

var keySpace = regexp.MustCompile(`\s+`)

// CacheKey builds the cache key for a name/provider pair.
func CacheKey(name, provider string) string {
	p := strings.TrimSpace(provider)
	if p == "" {
		p = "_"
	}
	key := "slot:" + p + ":" + strings.TrimSpace(name)
	return keySpace.ReplaceAllString(strings.ToLower(key), "_")
}

// CacheGet returns the live entry for key, or nil on a miss, an expired
// entry, or a store error.
func (r *Repository) CacheGet(ctx context.Context, key string) *model.CacheEntry {
	entry, err := r.store.GetCacheEntry(ctx, key)
	if err != nil {
		zap.L().Warn("cache: lookup failed", zap.String("cache_key", key), zap.Error(err))
		return nil
	}
	if entry == nil {
		zap.L().Debug("cache: miss", zap.String("cache_key", key))
		return nil
	}
	if entry.Expired(r.now()) {
		zap.L().Debug("cache: expired", zap.String("cache_key", key), zap.Time("expires_at", entry.ExpiresAt))
		return nil
	}

	r.submit("cache_hit", func(ctx context.Context) error {
		return r.store.IncrementCacheHit(ctx, key)
	})
	return entry
}

// CacheSet stores value under key for the configured TTL.
func (r *Repository) CacheSet(_ context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		zap.L().Error("cache: marshal failed", zap.String("cache_key", key), zap.Error(err))
		return
	}
	now := r.now().UTC()
	entry := model.CacheEntry{
		Key:       key,
		Response:  raw,
		ExpiresAt: now.Add(r.cacheTTL),
		CreatedAt: now,
	}
	r.submit("cache_set", func(ctx context.Context) error {
		return r.store.SetCacheEntry(ctx, entry)
	})
}

// UpsertResult reports what UpsertRecord did.
type UpsertResult struct {
	ID     string
	IsNew  bool
	Record *model.ValidatedRecord
}

// UpsertRecord inserts rec, or merges it into the existing row for the same
// (name, provider). A merge only writes fields that carry information.
func (r *Repository) UpsertRecord(ctx context.Context, rec *model.ValidatedRecord) (*UpsertResult, error) {
	existing, err := r.store.FindSlot(ctx, rec.Name, rec.Provider)
	if err != nil {
		return nil, eris.Wrap(err, "repository: find existing slot")
	}

	now := r.now().UTC()
	if existing == nil {
		fresh := *rec
		fresh.ID = uuid.NewString()
		fresh.CreatedAt = now
		fresh.UpdatedAt = now
		if fresh.TwitchSafe == nil {
			twitch := false
			fresh.TwitchSafe = &twitch
		}

		err := r.store.InsertSlot(ctx, &fresh)
		if err == nil {
			return &UpsertResult{ID: fresh.ID, IsNew: true, Record: &fresh}, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, eris.Wrap(err, "repository: insert slot")
		}

		// Lost a race with a concurrent first insert; merge into the winner.
		zap.L().Info("repository: insert conflict, merging",
			zap.String("name", rec.Name),
			zap.String("provider", rec.Provider),
		)
		existing, err = r.store.FindSlot(ctx, rec.Name, rec.Provider)
		if err != nil {
			return nil, eris.Wrap(err, "repository: re-read slot after conflict")
		}
		if existing == nil {
			return nil, eris.Errorf("repository: slot %q vanished after conflict", rec.Name)
		}
	}

	patch, merged := mergePatch(existing, rec, now)
	if err := r.store.UpdateSlot(ctx, existing.ID, patch); err != nil {
		return nil, eris.Wrap(err, "repository: update slot")
	}
	return &UpsertResult{ID: existing.ID, IsNew: false, Record: merged}, nil
}

// mergePatch returns the update to apply and the resulting record.
func mergePatch(existing, in *model.ValidatedRecord, now time.Time) (SlotPatch, *model.ValidatedRecord) {
	merged := *existing
	p := SlotPatch{UpdatedAt: now}

	if in.RTP != nil {
		p.RTP = in.RTP
		merged.RTP = in.RTP
	}
	if in.Volatility != "" && in.Volatility != model.VolatilityUnknown {
		v := in.Volatility
		p.Volatility = &v
		merged.Volatility = v
	}
	if in.MaxWinMultiplier != nil {
		p.MaxWinMultiplier = in.MaxWinMultiplier
		merged.MaxWinMultiplier = in.MaxWinMultiplier
	}
	if in.Theme != "" {
		theme := in.Theme
		p.Theme = &theme
		merged.Theme = theme
	}
	if len(in.Features) > 0 {
		p.Features = in.Features
		merged.Features = in.Features
	}
	if in.ReleaseYear != nil {
		p.ReleaseYear = in.ReleaseYear
		merged.ReleaseYear = in.ReleaseYear
	}
	if len(in.SourceCitations) > 0 {
		p.SourceCitations = in.SourceCitations
		merged.SourceCitations = in.SourceCitations
	}
	if in.Image != "" && (in.ImageSafetyStatus == model.ImageSafe || in.ImageSafetyStatus == model.ImageQuarantined) {
		img, status := in.Image, in.ImageSafetyStatus
		p.Image = &img
		p.ImageSafetyStatus = &status
		merged.Image = img
		merged.ImageSafetyStatus = status
	}

	if in.TwitchSafe != nil {
		twitch := *in.TwitchSafe
		p.TwitchSafe = &twitch
		merged.TwitchSafe = &twitch
	}

	conf := in.ConfidenceScore
	mod := in.ModerationStatus
	version := in.IngestionVersion
	p.ConfidenceScore = &conf
	p.ModerationStatus = &mod
	p.IngestionVersion = &version
	merged.ConfidenceScore = conf
	merged.ModerationStatus = mod
	merged.IngestionVersion = version
	merged.UpdatedAt = now

	return p, &merged
}

// LogAudit records an ingestion attempt.
func (r *Repository) LogAudit(e model.AuditEntry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	r.submit("audit_log", func(ctx context.Context) error {
		return r.store.InsertAudit(ctx, e)
	})
}

// LogModeration records a record routed to manual review.
func (r *Repository) LogModeration(e model.ModerationEntry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = "pending"
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	r.submit("moderation_log", func(ctx context.Context) error {
		return r.store.InsertModeration(ctx, e)
	})
}

// LogSources attaches compliant citation URLs to a slot.
func (r *Repository) LogSources(slotID string, urls []string) {
	if slotID == "" || len(urls) == 0 {
		return
	}
	now := r.now().UTC()
	refs := make([]model.SourceReference, 0, len(urls))
	for _, u := range urls {
		refs = append(refs, model.SourceReference{
			SlotID:    slotID,
			URL:       u,
			Domain:    validate.HostOf(u),
			CreatedAt: now,
		})
	}
	r.submit("source_refs", func(ctx context.Context) error {
		return r.store.InsertSourceRefs(ctx, refs)
	})
}

// PruneExpired deletes expired cache rows and rate windows older than two
// windows.
func (r *Repository) PruneExpired(ctx context.Context) (cacheRows, windowRows int, err error) {
	now := r.now().UTC()
	cacheRows, err = r.store.PruneCache(ctx, now)
	if err != nil {
		return 0, 0, eris.Wrap(err, "repository: prune cache")
	}
	windowRows, err = r.store.PruneRateWindows(ctx, now.Add(-2*r.window))
	if err != nil {
		return cacheRows, 0, eris.Wrap(err, "repository: prune rate windows")
	}
	zap.L().Info("repository: pruned expired rows",
		zap.Int("cache_rows", cacheRows),
		zap.Int("rate_window_rows", windowRows),
	)
	return cacheRows, windowRows, nil
}

func (r *Repository) submit(name string, fn dispatch.Func) {
	if r.tasks != nil {
		r.tasks.Submit(name, fn)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		zap.L().Error("repository: side effect failed", zap.String("task", name), zap.Error(err))
	}
}
