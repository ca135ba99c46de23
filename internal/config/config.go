package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
	Alerts    AlertsConfig    `yaml:"alerts" mapstructure:"alerts"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings for the extraction stage.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// FetchConfig configures the shared HTTP fetcher.
type FetchConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// Timeout returns the configured HTTP timeout.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// CacheConfig configures the wiki page cache.
type CacheConfig struct {
	Path     string `yaml:"path" mapstructure:"path"`
	TTLHours int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// TTL returns the configured cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// EnrichConfig configures the batch enrichment stage.
type EnrichConfig struct {
	TimeBudgetMins   int `yaml:"time_budget_mins" mapstructure:"time_budget_mins"`
	StationDelaySecs int `yaml:"station_delay_secs" mapstructure:"station_delay_secs"`
}

// TimeBudget returns the run time budget.
func (c EnrichConfig) TimeBudget() time.Duration {
	return time.Duration(c.TimeBudgetMins) * time.Minute
}

// StationDelay returns the inter-station pacing delay.
func (c EnrichConfig) StationDelay() time.Duration {
	return time.Duration(c.StationDelaySecs) * time.Second
}

// OutputConfig configures artifact locations and validation thresholds.
type OutputConfig struct {
	Dir                string            `yaml:"dir" mapstructure:"dir"`
	MinStations        int               `yaml:"min_stations" mapstructure:"min_stations"`
	InterchangeAliases []string          `yaml:"interchange_aliases" mapstructure:"interchange_aliases"`
	WikiURLOverrides   map[string]string `yaml:"wiki_url_overrides" mapstructure:"wiki_url_overrides"`
}

// AlertsConfig configures run alerting.
type AlertsConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	ExpectedStationCount int     `yaml:"expected_station_count" mapstructure:"expected_station_count"`
	MinEnrichedRatio     float64 `yaml:"min_enriched_ratio" mapstructure:"min_enriched_ratio"`
}

// PipelineConfig holds cross-stage settings.
type PipelineConfig struct {
	Version string `yaml:"version" mapstructure:"version"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	// viper < 1.21 needs this option for Unmarshal to see AutomaticEnv values.
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MRT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4000)
	v.SetDefault("anthropic.temperature", 0.0)
	v.SetDefault("fetch.user_agent", "mrt-pipeline/1.0")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("cache.path", "data/page_cache.db")
	v.SetDefault("cache.ttl_hours", 168)
	v.SetDefault("enrich.time_budget_mins", 45)
	v.SetDefault("enrich.station_delay_secs", 2)
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.min_stations", 120)
	v.SetDefault("output.interchange_aliases", []string{})
	v.SetDefault("alerts.expected_station_count", 160)
	v.SetDefault("alerts.min_enriched_ratio", 0.85)
	v.SetDefault("pipeline.version", "2.0.0")

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

	return &cfg, nil
}

// Validate checks that the settings a command depends on are present.
// mode names the command being run.
func (c *Config) Validate(mode string) error {
	var problems []string

	common := func() {
		if c.Fetch.TimeoutSecs <= 0 {
			problems = append(problems, "fetch.timeout_secs must be > 0")
		}
		if c.Output.Dir == "" {
			problems = append(problems, "output.dir is required")
		}
	}

	switch mode {
	case "ingest":
		common()
	case "enrich":
		common()
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Anthropic.Model == "" {
			problems = append(problems, "anthropic.model is required")
		}
		if c.Enrich.TimeBudgetMins < 0 {
			problems = append(problems, "enrich.time_budget_mins must be >= 0")
		}
	case "merge", "validate":
		common()
		if c.Output.MinStations <= 0 {
			problems = append(problems, "output.min_stations must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
