// Package model holds the data types that flow through slot ingestion.
package model

import "time"

// Volatility is the normalized volatility enum.
type Volatility string

const (
	VolatilityLow      Volatility = "low"
	VolatilityMedium   Volatility = "medium"
	VolatilityHigh     Volatility = "high"
	VolatilityVeryHigh Volatility = "very_high"
	VolatilityUnknown  Volatility = "unknown"
)

// ModerationStatus is the review state of a persisted record.
type ModerationStatus string

const (
	ModerationApproved     ModerationStatus = "approved"
	ModerationManualReview ModerationStatus = "manual_review"
)

// ImageStatus is the outcome of the image safety search.
type ImageStatus string

const (
	ImageSafe        ImageStatus = "safe"
	ImageQuarantined ImageStatus = "quarantined"
	ImageNotFound    ImageStatus = "not_found"
	ImagePending     ImageStatus = "pending"
)

// DataSource records where a result's data came from.
type DataSource string

const (
	SourceGrounded       DataSource = "ai_grounded"
	SourceParametric     DataSource = "ai_parametric"
	SourceCache          DataSource = "cache"
	SourceExistingRecord DataSource = "existing_record"
)

// Action is what the pipeline did with a request.
type Action string

const (
	ActionInserted  Action = "inserted"
	ActionUpdated   Action = "updated"
	ActionCached    Action = "cached"
	ActionDuplicate Action = "duplicate"
)

// Stage names a step of the ingestion pipeline.
type Stage string

const (
	StageReceived   Stage = "received"
	StageValidating Stage = "validating_input"
	StageSafety     Stage = "safety_gate"
	StageCache      Stage = "cache_lookup"
	StageDuplicate  Stage = "duplicate_check"
	StageExtracting Stage = "extracting"
	StageValidated  Stage = "validating_output"
	StageSources    Stage = "source_compliance"
	StageImage      Stage = "image_search"
	StagePersisting Stage = "persisting"
	StageComplete   Stage = "complete"
)

// SlotRequest is a single ingestion request.
type SlotRequest struct {
	Name         string `json:"name" yaml:"name"`
	Provider     string `json:"provider,omitempty" yaml:"provider,omitempty"`
	SkipCache    bool   `json:"skipCache,omitempty" yaml:"skip_cache,omitempty"`
	SkipImage    bool   `json:"skipImage,omitempty" yaml:"skip_image,omitempty"`
	ForceRefresh bool   `json:"forceRefresh,omitempty" yaml:"force_refresh,omitempty"`
}

// ExtractedDraft is the loosely typed AI output. Every field except
// Name and Provider may arrive as a string, number, or be absent.
type ExtractedDraft struct {
	Name        string   `json:"name"`
	Provider    string   `json:"provider"`
	RTP         any      `json:"rtp,omitempty"`
	Volatility  any      `json:"volatility,omitempty"`
	MaxWin      any      `json:"max_win,omitempty"`
	Theme       any      `json:"theme,omitempty"`
	Features    any      `json:"features,omitempty"`
	ReleaseYear any      `json:"release_year,omitempty"`
	Confidence  any      `json:"confidence,omitempty"`
	Sources     []string `json:"sources,omitempty"`
	TwitchSafe  any      `json:"twitch_safe,omitempty"`
}

// ValidatedRecord is the normalized, persistence-ready slot entity.
// Numeric and enum fields hold a domain-valid value or nil.
type ValidatedRecord struct {
	ID                string           `json:"id,omitempty"`
	Name              string           `json:"name"`
	Provider          string           `json:"provider"`
	RTP               *float64         `json:"rtp"`
	Volatility        Volatility       `json:"volatility"`
	MaxWinMultiplier  *float64         `json:"max_win_multiplier"`
	Theme             string           `json:"theme,omitempty"`
	Features          []string         `json:"features,omitempty"`
	ReleaseYear       *int             `json:"release_year"`
	TwitchSafe        *bool            `json:"twitch_safe"` // nil until a source reports it
	ConfidenceScore   int              `json:"confidence_score"`
	SourceCitations   []string         `json:"source_citations,omitempty"`
	ModerationStatus  ModerationStatus `json:"moderation_status"`
	Image             string           `json:"image,omitempty"`
	ImageSafetyStatus ImageStatus      `json:"image_safety_status"`
	IngestionVersion  string           `json:"ingestion_version"`
	CreatedAt         time.Time        `json:"created_at,omitempty"`
	UpdatedAt         time.Time        `json:"updated_at,omitempty"`
}

// SourceRejection records a citation dropped by the compliance filter.
type SourceRejection struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// ProcessingContext accumulates per-request diagnostics.
type ProcessingContext struct {
	Warnings        []string          `json:"warnings,omitempty"`
	RejectedSources []SourceRejection `json:"rejected_sources,omitempty"`
	Flags           []string          `json:"flags,omitempty"`
	Source          DataSource        `json:"source,omitempty"`
	Stage           Stage             `json:"stage"`
}

// Warn appends a warning.
func (p *ProcessingContext) Warn(msg string) { p.Warnings = append(p.Warnings, msg) }

// Flag appends a flag if not already present.
func (p *ProcessingContext) Flag(flag string) {
	for _, f := range p.Flags {
		if f == flag {
			return
		}
	}
	p.Flags = append(p.Flags, flag)
}

// IngestResult is the outcome of a single ingestion.
type IngestResult struct {
	Success     bool              `json:"success"`
	Action      Action            `json:"action,omitempty"`
	Data        *ValidatedRecord  `json:"data,omitempty"`
	Source      DataSource        `json:"source,omitempty"`
	NeedsReview bool              `json:"needsReview"`
	Warnings    []string          `json:"warnings,omitempty"`
	DurationMs  int64             `json:"durationMs"`
	Context     ProcessingContext `json:"-"`
}

// BatchItemResult is one entry of a batch run.
type BatchItemResult struct {
	Name      string        `json:"name"`
	Success   bool          `json:"success"`
	Action    Action        `json:"action,omitempty"`
	Error     string        `json:"error,omitempty"`
	ErrorType string        `json:"errorType,omitempty"`
	Result    *IngestResult `json:"-"`
}

// BatchSummary aggregates a batch run.
type BatchSummary struct {
	Total      int               `json:"total"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	Inserted   int               `json:"inserted"`
	Updated    int               `json:"updated"`
	Cached     int               `json:"cached"`
	Duplicates int               `json:"duplicates"`
	DurationMs int64             `json:"durationMs"`
	Results    []BatchItemResult `json:"results"`
}
