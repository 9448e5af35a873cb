package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/slot-ingest/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertIngestFailureRate AlertType = "ingest_failure_rate"
	AlertAIFailures        AlertType = "ai_failures"
	AlertModerationBacklog AlertType = "moderation_backlog"
	AlertBackgroundDrops   AlertType = "background_writes_dropped"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Failure rate needs a minimum sample before it means anything.
	if snap.IngestTotal >= 5 && a.cfg.FailureRateThreshold > 0 && snap.IngestFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertIngestFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Ingestion failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d in last %dh)",
				snap.IngestFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.IngestFailed, snap.IngestTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.IngestFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.IngestFailed,
				"total":        snap.IngestTotal,
			},
			Timestamp: now,
		})
	}

	if a.cfg.AIFailureThreshold > 0 && snap.AIFailures >= a.cfg.AIFailureThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertAIFailures,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d AI extraction failures in last %dh (threshold %d)",
				snap.AIFailures, snap.LookbackHours, a.cfg.AIFailureThreshold,
			),
			Details: map[string]any{
				"ai_failures": snap.AIFailures,
				"threshold":   a.cfg.AIFailureThreshold,
			},
			Timestamp: now,
		})
	}

	if a.cfg.ModerationBacklogThreshold > 0 && snap.ModerationQueue > a.cfg.ModerationBacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertModerationBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d records awaiting manual review (threshold %d)",
				snap.ModerationQueue, a.cfg.ModerationBacklogThreshold,
			),
			Details: map[string]any{
				"pending":   snap.ModerationQueue,
				"threshold": a.cfg.ModerationBacklogThreshold,
			},
			Timestamp: now,
		})
	}

	if snap.TasksDropped > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertBackgroundDrops,
			Severity: "medium",
			Message:  fmt.Sprintf("%d audit/cache writes dropped since start", snap.TasksDropped),
			Details: map[string]any{
				"dropped": snap.TasksDropped,
				"failed":  snap.TasksFailed,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
