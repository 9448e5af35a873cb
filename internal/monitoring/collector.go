package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/slot-ingest/internal/model"
)

// MetricsSnapshot holds a point-in-time view of ingestion health.
type MetricsSnapshot struct {
	// Ingestion metrics (within lookback window).
	IngestTotal     int     `json:"ingest_total"`
	IngestFailed    int     `json:"ingest_failed"`
	IngestFailRate  float64 `json:"ingest_fail_rate"`
	AIFailures      int     `json:"ai_failures"`
	AvgConfidence   float64 `json:"avg_confidence"`
	AvgDurationMs   float64 `json:"avg_duration_ms"`
	ModerationQueue int     `json:"moderation_queue"`

	// Background writer counters since process start.
	TasksCompleted int64 `json:"tasks_completed"`
	TasksFailed    int64 `json:"tasks_failed"`
	TasksDropped   int64 `json:"tasks_dropped"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// StatsSource is the part of the store the collector reads.
type StatsSource interface {
	AuditStats(ctx context.Context, since time.Time) (*model.AuditStats, error)
	CountPendingModeration(ctx context.Context) (int, error)
}

// TaskStats reports background side-effect counters.
type TaskStats interface {
	Stats() (completed, failed, dropped int64)
}

// Collector gathers metrics from the audit and moderation logs.
type Collector struct {
	store StatsSource
	tasks TaskStats
	now   func() time.Time
}

// NewCollector creates a new metrics collector. tasks may be nil.
func NewCollector(st StatsSource, tasks TaskStats) *Collector {
	return &Collector{store: st, tasks: tasks, now: time.Now}
}

// Collect gathers a snapshot of ingestion metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	stats, err := c.store.AuditStats(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: audit stats")
	}
	snap.IngestTotal = stats.Total
	snap.IngestFailed = stats.Failed
	snap.AIFailures = stats.AIFailures
	snap.AvgConfidence = stats.AvgConfidence
	snap.AvgDurationMs = stats.AvgDurationMs
	if stats.Total > 0 {
		snap.IngestFailRate = float64(stats.Failed) / float64(stats.Total)
	}

	queue, err := c.store.CountPendingModeration(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count moderation queue")
	}
	snap.ModerationQueue = queue

	if c.tasks != nil {
		snap.TasksCompleted, snap.TasksFailed, snap.TasksDropped = c.tasks.Stats()
	}

	return snap, nil
}
