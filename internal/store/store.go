package store

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"

	"github.com/sells-group/slot-ingest/internal/config"
	"github.com/sells-group/slot-ingest/internal/model"
)

// ErrConflict is returned when an insert hits a unique constraint.
var ErrConflict = eris.New("store: unique constraint conflict")

// Store defines the row-level persistence the Repository builds on.
// Lookups return (nil, nil) when nothing matches.
type Store interface {
	// Cache
	GetCacheEntry(ctx context.Context, key string) (*model.CacheEntry, error)
	SetCacheEntry(ctx context.Context, entry model.CacheEntry) error
	IncrementCacheHit(ctx context.Context, key string) error

	// Rate limit windows
	GetRateWindow(ctx context.Context, identifier, endpoint string, windowStart time.Time) (*model.RateLimitWindow, error)
	InsertRateWindow(ctx context.Context, w model.RateLimitWindow) error
	IncrementRateWindow(ctx context.Context, identifier, endpoint string, windowStart time.Time) error

	// Slots
	FindSlot(ctx context.Context, name, provider string) (*model.ValidatedRecord, error)
	// SearchSlots returns up to limit rows whose lowercased name matches
	// likePattern, closest in length to nameLen first.
	SearchSlots(ctx context.Context, likePattern string, nameLen, limit int) ([]model.ValidatedRecord, error)
	InsertSlot(ctx context.Context, rec *model.ValidatedRecord) error
	UpdateSlot(ctx context.Context, id string, patch SlotPatch) error

	// Append-only logs
	InsertAudit(ctx context.Context, e model.AuditEntry) error
	InsertModeration(ctx context.Context, e model.ModerationEntry) error
	InsertSourceRefs(ctx context.Context, refs []model.SourceReference) error

	// Reporting
	AuditStats(ctx context.Context, since time.Time) (*model.AuditStats, error)
	CountPendingModeration(ctx context.Context) (int, error)

	// Maintenance
	PruneCache(ctx context.Context, now time.Time) (int, error)
	PruneRateWindows(ctx context.Context, before time.Time) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

const auditStatsColumns = `count(*),
	coalesce(sum(CASE WHEN success THEN 0 ELSE 1 END), 0),
	coalesce(sum(CASE WHEN error_type = 'ai_error' THEN 1 ELSE 0 END), 0)`

// SlotPatch lists the columns a merge writes. Nil fields are left alone.
type SlotPatch struct {
	RTP               *float64
	Volatility        *model.Volatility
	MaxWinMultiplier  *float64
	Theme             *string
	Features          []string
	ReleaseYear       *int
	TwitchSafe        *bool
	ConfidenceScore   *int
	SourceCitations   []string
	ModerationStatus  *model.ModerationStatus
	Image             *string
	ImageSafetyStatus *model.ImageStatus
	IngestionVersion  *string
	UpdatedAt         time.Time
}

// updateQuery renders the patch as an UPDATE. timeArg adapts timestamps
// to the driver.
func (p SlotPatch) updateQuery(id string, ph sq.PlaceholderFormat, timeArg func(time.Time) any) (string, []any, error) {
	set := map[string]any{"updated_at": timeArg(p.UpdatedAt)}
	if p.RTP != nil {
		set["rtp"] = *p.RTP
	}
	if p.Volatility != nil {
		set["volatility"] = string(*p.Volatility)
	}
	if p.MaxWinMultiplier != nil {
		set["max_win_multiplier"] = *p.MaxWinMultiplier
	}
	if p.Theme != nil {
		set["theme"] = *p.Theme
	}
	if p.Features != nil {
		set["features"] = jsonText(p.Features)
	}
	if p.ReleaseYear != nil {
		set["release_year"] = *p.ReleaseYear
	}
	if p.TwitchSafe != nil {
		set["twitch_safe"] = *p.TwitchSafe
	}
	if p.ConfidenceScore != nil {
		set["confidence_score"] = *p.ConfidenceScore
	}
	if p.SourceCitations != nil {
		set["source_citations"] = jsonText(p.SourceCitations)
	}
	if p.ModerationStatus != nil {
		set["moderation_status"] = string(*p.ModerationStatus)
	}
	if p.Image != nil {
		set["image"] = *p.Image
	}
	if p.ImageSafetyStatus != nil {
		set["image_safety_status"] = string(*p.ImageSafetyStatus)
	}
	if p.IngestionVersion != nil {
		set["ingestion_version"] = *p.IngestionVersion
	}

	q, args, err := sq.Update("slots").
		SetMap(set).
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(ph).
		ToSql()
	return q, args, eris.Wrap(err, "store: build slot update")
}

const slotColumns = `id, name, provider, rtp, volatility, max_win_multiplier, theme, features,
	release_year, twitch_safe, confidence_score, source_citations, moderation_status,
	image, image_safety_status, ingestion_version, created_at, updated_at`

// jsonText encodes a string list for a JSON/JSONB column.
// boolValue maps an unreported flag to the column default.
func boolValue(b *bool) bool { return b != nil && *b }

func jsonText(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeList(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil || len(out) == 0 {
		return nil
	}
	return out
}
