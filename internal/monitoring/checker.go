package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/slot-ingest/internal/config"
)

const defaultRenotify = time.Hour

// Checker evaluates ingestion health on an interval and forwards alerts.
// An alert that keeps firing is re-sent at most once per renotify window,
// and dropped background writes only alert when the counter moved since
// the previous check.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	renotify  time.Duration
	now       func() time.Time

	lastSent    map[AlertType]time.Time
	lastDropped int64
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	renotify := time.Duration(cfg.RenotifyAfterMins) * time.Minute
	if renotify <= 0 {
		renotify = defaultRenotify
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		renotify:  renotify,
		now:       time.Now,
		lastSent:  make(map[AlertType]time.Time),
	}
}

// Run checks every CheckIntervalSecs until ctx is cancelled. It always
// returns nil so it can run inside the server's errgroup.
func (c *Checker) Run(ctx context.Context) error {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting ingestion health checker",
		zap.Duration("interval", interval),
		zap.Duration("renotify", c.renotify),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("ingestion health checker stopped")
			return nil
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// check runs one evaluation and returns the number of alerts delivered.
func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return 0
	}

	due := c.due(c.alerter.Evaluate(snap), snap.TasksDropped)
	c.lastDropped = snap.TasksDropped
	if len(due) == 0 {
		log.Debug("monitoring: nothing to send",
			zap.Int("ingest_total", snap.IngestTotal),
			zap.Float64("ingest_fail_rate", snap.IngestFailRate),
			zap.Int("moderation_queue", snap.ModerationQueue),
		)
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, due)
	if sent > 0 {
		now := c.now()
		for _, a := range due {
			c.lastSent[a.Type] = now
		}
	}
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_due", len(due)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}

// due filters alerts down to those worth sending now. Types that stopped
// firing are forgotten so a recurrence notifies immediately.
func (c *Checker) due(alerts []Alert, dropped int64) []Alert {
	firing := make(map[AlertType]bool, len(alerts))
	now := c.now()

	var out []Alert
	for _, a := range alerts {
		firing[a.Type] = true
		if a.Type == AlertBackgroundDrops && dropped <= c.lastDropped {
			continue
		}
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < c.renotify {
			continue
		}
		out = append(out, a)
	}
	for t := range c.lastSent {
		if !firing[t] {
			delete(c.lastSent, t)
		}
	}
	return out
}
