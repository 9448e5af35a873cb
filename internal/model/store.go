package model

import (
	"encoding/json"
	"time"
)

// CacheEntry is a cached validated record keyed by name/provider.
type CacheEntry struct {
	Key       string          `json:"cache_key"`
	Response  json.RawMessage `json:"response"`
	ExpiresAt time.Time       `json:"expires_at"`
	HitCount  int             `json:"hit_count"`
	CreatedAt time.Time       `json:"created_at"`
}

// Expired reports whether the entry is past its expiry at now.
func (c *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// RateLimitWindow is a fixed-bucket request counter.
type RateLimitWindow struct {
	Identifier   string    `json:"identifier"`
	Endpoint     string    `json:"endpoint"`
	WindowStart  time.Time `json:"window_start"`
	RequestCount int       `json:"request_count"`
}

// MatchType says how a duplicate was found.
type MatchType string

const (
	MatchExact MatchType = "exact"
	MatchFuzzy MatchType = "fuzzy"
)

// DuplicateMatch is the result of a duplicate lookup.
type DuplicateMatch struct {
	IsDuplicate bool             `json:"is_duplicate"`
	Existing    *ValidatedRecord `json:"existing,omitempty"`
	MatchType   MatchType        `json:"match_type,omitempty"`
}

// AuditEntry is one row of the ingestion audit log.
type AuditEntry struct {
	ID         string          `json:"id"`
	SlotName   string          `json:"slot_name"`
	Provider   string          `json:"provider,omitempty"`
	Success    bool            `json:"success"`
	Action     Action          `json:"action,omitempty"`
	Source     DataSource      `json:"source,omitempty"`
	Stage      Stage           `json:"stage"`
	ErrorType  string          `json:"error_type,omitempty"`
	Error      string          `json:"error,omitempty"`
	Confidence *int            `json:"confidence,omitempty"`
	DurationMs int64           `json:"duration_ms"`
	Warnings   []string        `json:"warnings,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ModerationEntry records a record flagged for manual review.
type ModerationEntry struct {
	ID             string    `json:"id"`
	SlotID         string    `json:"slot_id,omitempty"`
	SlotName       string    `json:"slot_name"`
	Provider       string    `json:"provider"`
	FlaggedReasons []string  `json:"flagged_reasons"`
	Confidence     int       `json:"confidence"`
	Image          string    `json:"image,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// SourceReference is a compliant citation attached to a slot.
type SourceReference struct {
	SlotID    string    `json:"slot_id"`
	URL       string    `json:"url"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditStats aggregates audit rows over a lookback window.
type AuditStats struct {
	Total         int     `json:"total"`
	Failed        int     `json:"failed"`
	AIFailures    int     `json:"ai_failures"`
	AvgConfidence float64 `json:"avg_confidence"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}
