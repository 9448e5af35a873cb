package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sells-group/slot-ingest/internal/logging"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Gemini      GeminiConfig      `yaml:"gemini" mapstructure:"gemini"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Vision      VisionConfig      `yaml:"vision" mapstructure:"vision"`
	ImageSearch ImageSearchConfig `yaml:"image_search" mapstructure:"image_search"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Validation  ValidationConfig  `yaml:"validation" mapstructure:"validation"`
	Pipeline    PipelineConfig    `yaml:"pipeline" mapstructure:"pipeline"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit" mapstructure:"rate_limit"`
	Batch       BatchConfig       `yaml:"batch" mapstructure:"batch"`
	Dispatch    DispatchConfig    `yaml:"dispatch" mapstructure:"dispatch"`
	Pricing     PricingConfig     `yaml:"pricing" mapstructure:"pricing"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// GeminiConfig holds the AI text/vision service settings.
type GeminiConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	Model             string  `yaml:"model" mapstructure:"model"`
	VisionModel       string  `yaml:"vision_model" mapstructure:"vision_model"`
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxOutputTokens   int     `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// AnthropicConfig holds Anthropic API settings for the alternate vision classifier.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// VisionConfig configures the image safety classifier.
type VisionConfig struct {
	Provider         string `yaml:"provider" mapstructure:"provider"`
	MaxCandidates    int    `yaml:"max_candidates" mapstructure:"max_candidates"`
	MaxImageBytes    int64  `yaml:"max_image_bytes" mapstructure:"max_image_bytes"`
	FailureThreshold int    `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int    `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ImageSearchConfig configures the image search scrape.
type ImageSearchConfig struct {
	BaseURL         string   `yaml:"base_url" mapstructure:"base_url"`
	UserAgent       string   `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs     int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	BlockedKeywords []string `yaml:"blocked_keywords" mapstructure:"blocked_keywords"`
}

// RetryConfig controls AI call retries.
type RetryConfig struct {
	MaxRetries         int     `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoffMs   int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs       int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	RateLimitBackoffMs int     `yaml:"rate_limit_backoff_ms" mapstructure:"rate_limit_backoff_ms"`
	AttemptTimeoutSecs int     `yaml:"attempt_timeout_secs" mapstructure:"attempt_timeout_secs"`
	JitterFraction     float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// ValidationConfig holds the domain bounds and lists used by the validator.
type ValidationConfig struct {
	NameMinLen      int               `yaml:"name_min_len" mapstructure:"name_min_len"`
	NameMaxLen      int               `yaml:"name_max_len" mapstructure:"name_max_len"`
	ProviderMaxLen  int               `yaml:"provider_max_len" mapstructure:"provider_max_len"`
	RTPMin          float64           `yaml:"rtp_min" mapstructure:"rtp_min"`
	RTPMax          float64           `yaml:"rtp_max" mapstructure:"rtp_max"`
	MaxWinCeiling   float64           `yaml:"max_win_ceiling" mapstructure:"max_win_ceiling"`
	MinReleaseYear  int               `yaml:"min_release_year" mapstructure:"min_release_year"`
	ThemeMaxLen     int               `yaml:"theme_max_len" mapstructure:"theme_max_len"`
	FeatureMaxLen   int               `yaml:"feature_max_len" mapstructure:"feature_max_len"`
	MaxFeatures     int               `yaml:"max_features" mapstructure:"max_features"`
	MaxSources      int               `yaml:"max_sources" mapstructure:"max_sources"`
	Volatilities    []string          `yaml:"volatilities" mapstructure:"volatilities"`
	BlockedTerms    []string          `yaml:"blocked_terms" mapstructure:"blocked_terms"`
	AllowedDomains  []string          `yaml:"allowed_domains" mapstructure:"allowed_domains"`
	BlockedDomains  []string          `yaml:"blocked_domains" mapstructure:"blocked_domains"`
	ProviderAliases map[string]string `yaml:"provider_aliases" mapstructure:"provider_aliases"`
}

// PipelineConfig configures the ingestion flow.
type PipelineConfig struct {
	ConfidenceThreshold     int    `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	ParametricConfidenceCap int    `yaml:"parametric_confidence_cap" mapstructure:"parametric_confidence_cap"`
	CacheTTLHours           int    `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	IngestionVersion        string `yaml:"ingestion_version" mapstructure:"ingestion_version"`
}

// RateLimitConfig configures the fixed-bucket request limiter.
type RateLimitConfig struct {
	WindowSecs  int `yaml:"window_secs" mapstructure:"window_secs"`
	MaxRequests int `yaml:"max_requests" mapstructure:"max_requests"`
}

// BatchConfig configures sequential batch processing.
type BatchConfig struct {
	MaxItems int `yaml:"max_items" mapstructure:"max_items"`
	PauseMs  int `yaml:"pause_ms" mapstructure:"pause_ms"`
}

// DispatchConfig configures the background side-effect worker.
type DispatchConfig struct {
	BufferSize       int `yaml:"buffer_size" mapstructure:"buffer_size"`
	TaskTimeoutSecs  int `yaml:"task_timeout_secs" mapstructure:"task_timeout_secs"`
	DrainTimeoutSecs int `yaml:"drain_timeout_secs" mapstructure:"drain_timeout_secs"`
}

// PricingConfig holds per-model token pricing (USD per million tokens).
// An empty map falls back to the built-in rate table.
type PricingConfig struct {
	Gemini map[string]ModelPricing `yaml:"gemini" mapstructure:"gemini"`
}

// ModelPricing holds per-model token pricing.
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	AuthToken   string   `yaml:"auth_token" mapstructure:"auth_token"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures the background ingestion health checker.
type MonitoringConfig struct {
	Enabled                    bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL                 string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs          int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours        int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold       float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	AIFailureThreshold         int     `yaml:"ai_failure_threshold" mapstructure:"ai_failure_threshold"`
	ModerationBacklogThreshold int     `yaml:"moderation_backlog_threshold" mapstructure:"moderation_backlog_threshold"`
	RenotifyAfterMins          int     `yaml:"renotify_after_mins" mapstructure:"renotify_after_mins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SLOTINGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Default returns the configuration with only defaults applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults are static; a decode failure here is a programming error.
	if err := v.Unmarshal(&cfg); err != nil {
		panic(eris.Wrap(err, "config: unmarshal defaults"))
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	// Secrets have empty defaults so AutomaticEnv binds them on Unmarshal.
	v.SetDefault("store.database_url", "")
	v.SetDefault("gemini.key", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("server.auth_token", "")

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("gemini.vision_model", "gemini-2.0-flash")
	v.SetDefault("gemini.temperature", 0.1)
	v.SetDefault("gemini.max_output_tokens", 2048)
	v.SetDefault("gemini.requests_per_second", 2.0)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")

	v.SetDefault("vision.provider", "gemini")
	v.SetDefault("vision.max_candidates", 3)
	v.SetDefault("vision.max_image_bytes", 5<<20)
	v.SetDefault("vision.failure_threshold", 5)
	v.SetDefault("vision.reset_timeout_secs", 60)

	v.SetDefault("image_search.base_url", "https://www.bing.com")
	v.SetDefault("image_search.user_agent", "Mozilla/5.0 (compatible; SlotIngest/1.0)")
	v.SetDefault("image_search.timeout_secs", 15)
	v.SetDefault("image_search.blocked_keywords", DefaultBlockedImageKeywords)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.rate_limit_backoff_ms", 5000)
	v.SetDefault("retry.attempt_timeout_secs", 30)
	v.SetDefault("retry.jitter_fraction", 0.0)

	v.SetDefault("validation.name_min_len", 2)
	v.SetDefault("validation.name_max_len", 200)
	v.SetDefault("validation.provider_max_len", 100)
	v.SetDefault("validation.rtp_min", 80.0)
	v.SetDefault("validation.rtp_max", 99.99)
	v.SetDefault("validation.max_win_ceiling", 1000000.0)
	v.SetDefault("validation.min_release_year", 2005)
	v.SetDefault("validation.theme_max_len", 200)
	v.SetDefault("validation.feature_max_len", 100)
	v.SetDefault("validation.max_features", 15)
	v.SetDefault("validation.max_sources", 10)
	v.SetDefault("validation.volatilities", DefaultVolatilities)
	v.SetDefault("validation.blocked_terms", DefaultBlockedTerms)
	v.SetDefault("validation.allowed_domains", DefaultAllowedDomains)
	v.SetDefault("validation.blocked_domains", DefaultBlockedDomains)
	v.SetDefault("validation.provider_aliases", DefaultProviderAliases)

	v.SetDefault("pipeline.confidence_threshold", 60)
	v.SetDefault("pipeline.parametric_confidence_cap", 70)
	v.SetDefault("pipeline.cache_ttl_hours", 24)
	v.SetDefault("pipeline.ingestion_version", "2.1.0")

	v.SetDefault("rate_limit.window_secs", 60)
	v.SetDefault("rate_limit.max_requests", 30)

	v.SetDefault("batch.max_items", 50)
	v.SetDefault("batch.pause_ms", 2000)

	v.SetDefault("dispatch.buffer_size", 256)
	v.SetDefault("dispatch.task_timeout_secs", 10)
	v.SetDefault("dispatch.drain_timeout_secs", 15)

	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.ai_failure_threshold", 10)
	v.SetDefault("monitoring.moderation_backlog_threshold", 100)
	v.SetDefault("monitoring.renotify_after_mins", 60)
}

// Validate checks the keys required by mode and the bounds of tunables.
func (c *Config) Validate(mode string) error {
	var errs []string
	require := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}
	needsDB := func() {
		require(c.Store.Driver != "postgres" || c.Store.DatabaseURL != "", "store.database_url is required")
	}

	switch mode {
	case "serve":
		require(c.Server.Port > 0, "server.port must be > 0")
		require(c.Server.AuthToken != "", "server.auth_token is required")
		needsDB()
		c.requireAI(require)
	case "ingest":
		needsDB()
		c.requireAI(require)
	case "migrate", "cache", "stats":
		needsDB()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	require(c.Store.Driver == "postgres" || c.Store.Driver == "sqlite", "store.driver must be postgres or sqlite")
	require(c.Pipeline.ConfidenceThreshold >= 0 && c.Pipeline.ConfidenceThreshold <= 100,
		"pipeline.confidence_threshold must be between 0 and 100")
	require(c.Pipeline.ParametricConfidenceCap >= 0 && c.Pipeline.ParametricConfidenceCap <= 100,
		"pipeline.parametric_confidence_cap must be between 0 and 100")
	require(c.Batch.MaxItems >= 1, "batch.max_items must be >= 1")
	require(c.RateLimit.MaxRequests >= 1, "rate_limit.max_requests must be >= 1")
	require(c.RateLimit.WindowSecs >= 1, "rate_limit.window_secs must be >= 1")
	require(c.Retry.MaxRetries >= 0, "retry.max_retries must be >= 0")
	require(c.Validation.RTPMin < c.Validation.RTPMax, "validation.rtp_min must be < rtp_max")

	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) requireAI(require func(bool, string)) {
	require(c.Gemini.Key != "", "gemini.key is required")
	switch c.Vision.Provider {
	case "gemini":
	case "anthropic":
		require(c.Anthropic.Key != "", "anthropic.key is required")
	default:
		require(false, "vision.provider must be gemini or anthropic")
	}
}

// InitLogger initializes the global zap logger with secret redaction.
func InitLogger(cfg LogConfig) error {
	logger, err := logging.New(logging.Options{Level: cfg.Level, Format: cfg.Format})
	if err != nil {
		return eris.Wrap(err, "config: init logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
