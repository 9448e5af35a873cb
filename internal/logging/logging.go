package logging

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the process logger.
type Options struct {
	Level  string
	Format string // "json" or "console"
}

// New builds a redacting zap logger.
func New(opts Options) (*zap.Logger, error) {
	var zapCfg zap.Config
	if opts.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	if opts.Level != "" {
		level, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, eris.Wrap(err, "logging: parse level")
		}
		zapCfg.Level.SetLevel(level)
	}

	logger, err := zapCfg.Build(zap.WrapCore(NewRedactingCore))
	if err != nil {
		return nil, eris.Wrap(err, "logging: build logger")
	}
	return logger, nil
}

// Event logs a named pipeline event at info level.
func Event(log *zap.Logger, name string, fields ...zap.Field) {
	log.Info(name, append([]zap.Field{zap.String("event", name)}, fields...)...)
}

// Timer measures a named span of work.
type Timer struct {
	log   *zap.Logger
	name  string
	start time.Time
}

// StartTimer begins timing name.
func StartTimer(log *zap.Logger, name string) *Timer {
	return &Timer{log: log, name: name, start: time.Now()}
}

// Elapsed returns the time since the timer started.
func (t *Timer) Elapsed() time.Duration { return time.Since(t.start) }

// Stop logs the elapsed time at debug level and returns it.
func (t *Timer) Stop(fields ...zap.Field) time.Duration {
	d := t.Elapsed()
	t.log.Debug("timer",
		append([]zap.Field{
			zap.String("timer", t.name),
			zap.Int64("duration_ms", d.Milliseconds()),
		}, fields...)...,
	)
	return d
}
