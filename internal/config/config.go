package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/frepi/frepi-core/internal/catalog"
	"github.com/frepi/frepi-core/internal/drip"
	"github.com/frepi/frepi-core/internal/embed"
	"github.com/frepi/frepi-core/internal/engagement"
	"github.com/frepi/frepi-core/internal/extract"
	"github.com/frepi/frepi-core/internal/resilience"
	"github.com/frepi/frepi-core/internal/resolve"
	"github.com/frepi/frepi-core/internal/staging"
	"github.com/frepi/frepi-core/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig          `yaml:"store" mapstructure:"store"`
	Log        LogConfig            `yaml:"log" mapstructure:"log"`
	Server     ServerConfig         `yaml:"server" mapstructure:"server"`
	OpenAI     OpenAIConfig         `yaml:"openai" mapstructure:"openai"`
	Embedding  embed.Config         `yaml:"embedding" mapstructure:"embedding"`
	Anthropic  AnthropicConfig      `yaml:"anthropic" mapstructure:"anthropic"`
	Resolve    resolve.Config       `yaml:"resolve" mapstructure:"resolve"`
	Queue      drip.Config          `yaml:"queue" mapstructure:"queue"`
	Engagement engagement.Config    `yaml:"engagement" mapstructure:"engagement"`
	Search     catalog.SearchConfig `yaml:"search" mapstructure:"search"`
	Staging    staging.Config       `yaml:"staging" mapstructure:"staging"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string           `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// OpenAIConfig holds the embedding provider credentials.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds the vision extractor settings.
type AnthropicConfig struct {
	Key        string              `yaml:"key" mapstructure:"key"`
	BaseURL    string              `yaml:"base_url" mapstructure:"base_url"`
	Extract    extract.Config      `yaml:"extract" mapstructure:"extract"`
	Resilience resilience.Settings `yaml:"resilience" mapstructure:"resilience"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int           `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FREPI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "frepi.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.max_upload_bytes", 8<<20)
	v.SetDefault("openai.key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", embed.DefaultModel)
	v.SetDefault("embedding.batch_size", 100)
	v.SetDefault("embedding.concurrency", 4)
	v.SetDefault("embedding.requests_per_second", 5)
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("embedding.dimensions", embed.DefaultDimensions)
	v.SetDefault("embedding.resilience.max_attempts", 3)
	v.SetDefault("embedding.resilience.initial_backoff_ms", 500)
	v.SetDefault("embedding.resilience.max_backoff_ms", 8000)
	v.SetDefault("embedding.resilience.multiplier", 2.0)
	v.SetDefault("embedding.resilience.failure_threshold", 5)
	v.SetDefault("embedding.resilience.reset_timeout_secs", 30)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.extract.model", extract.DefaultModel)
	v.SetDefault("anthropic.extract.max_tokens", extract.DefaultMaxTokens)
	v.SetDefault("anthropic.extract.cache_ttl", extract.DefaultCacheTTL)
	v.SetDefault("anthropic.resilience.max_attempts", 3)
	v.SetDefault("anthropic.resilience.initial_backoff_ms", 1000)
	v.SetDefault("anthropic.resilience.max_backoff_ms", 15000)
	v.SetDefault("anthropic.resilience.multiplier", 2.0)
	v.SetDefault("anthropic.resilience.failure_threshold", 5)
	v.SetDefault("anthropic.resilience.reset_timeout_secs", 60)
	v.SetDefault("resolve.threshold", resolve.DefaultConfig().Threshold)
	v.SetDefault("resolve.substring_score", resolve.DefaultConfig().SubstringScore)
	v.SetDefault("resolve.tie_break", resolve.DefaultConfig().TieBreak)
	v.SetDefault("queue.seed_fraction", drip.DefaultSeedFraction)
	v.SetDefault("queue.dimensions", drip.DefaultConfig().Dimensions)
	v.SetDefault("engagement.target_depth", engagement.DefaultTargetDepth)
	v.SetDefault("engagement.session_window_days", engagement.DefaultConfig().SessionWindowDays)
	v.SetDefault("engagement.configured_min_source", engagement.DefaultConfig().ConfiguredMinSource)
	v.SetDefault("search.high_threshold", catalog.DefaultSearchConfig().HighThreshold)
	v.SetDefault("search.medium_threshold", catalog.DefaultSearchConfig().MediumThreshold)
	v.SetDefault("search.limit", catalog.DefaultSearchConfig().Limit)
	v.SetDefault("staging.default_currency", staging.DefaultConfig().DefaultCurrency)
	v.SetDefault("staging.min_confidence", 0.0)
	v.SetDefault("staging.infer_preferences", staging.DefaultConfig().InferPreferences)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, cfg.Validate()
}

// Validate rejects settings no component could run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return eris.New("config: store.sqlite_path is required for the sqlite driver")
		}
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Queue.SeedFraction <= 0 || c.Queue.SeedFraction > 1 {
		return eris.Errorf("config: queue.seed_fraction must be in (0, 1], got %v", c.Queue.SeedFraction)
	}
	if c.Resolve.Threshold <= 0 || c.Resolve.Threshold > 1 {
		return eris.Errorf("config: resolve.threshold must be in (0, 1], got %v", c.Resolve.Threshold)
	}
	if c.Resolve.TieBreak != resolve.TieConflict && c.Resolve.TieBreak != resolve.TieLowestID {
		return eris.Errorf("config: unknown resolve.tie_break %q", c.Resolve.TieBreak)
	}
	if c.Search.MediumThreshold > c.Search.HighThreshold {
		return eris.New("config: search.medium_threshold is above search.high_threshold")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
