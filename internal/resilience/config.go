package resilience

import (
	"time"

	"github.com/sells-group/slot-ingest/internal/config"
)

// FromRetryConfig converts configured retry settings. MaxRetries counts
// retries, so the attempt budget is MaxRetries+1.
func FromRetryConfig(c config.RetryConfig) RetryConfig {
	cfg := DefaultRetryConfig()
	if c.MaxRetries >= 0 {
		cfg.MaxAttempts = c.MaxRetries + 1
	}
	if c.InitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(c.InitialBackoffMs) * time.Millisecond
	}
	if c.RateLimitBackoffMs > 0 {
		cfg.RateLimitBackoff = time.Duration(c.RateLimitBackoffMs) * time.Millisecond
	}
	if c.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(c.MaxBackoffMs) * time.Millisecond
	}
	if c.AttemptTimeoutSecs > 0 {
		cfg.AttemptTimeout = time.Duration(c.AttemptTimeoutSecs) * time.Second
	}
	if c.JitterFraction >= 0 {
		cfg.JitterFraction = c.JitterFraction
	}
	return cfg
}

// FromCircuitConfig converts the vision breaker settings.
func FromCircuitConfig(c config.VisionConfig) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if c.FailureThreshold > 0 {
		cfg.FailureThreshold = c.FailureThreshold
	}
	if c.ResetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(c.ResetTimeoutSecs) * time.Second
	}
	return cfg
}
