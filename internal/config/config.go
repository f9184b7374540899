// Package config loads and validates the harvester configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DateFormat is the DD-MM-YYYY layout used for dates in config files and in
// the persisted cursor.
const DateFormat = "02-01-2006"

// Configuration validation errors.
var (
	ErrMissingBaseURL          = errors.New("api.base_url is required")
	ErrInvalidPageLimit        = errors.New("api.page_limit must be at least 1")
	ErrInvalidTimeout          = errors.New("api.timeout_sec must be at least 1")
	ErrMissingStartDate        = errors.New("harvest.start_date is required")
	ErrInvalidStartDate        = errors.New("harvest.start_date must be DD-MM-YYYY")
	ErrInvalidWindowDays       = errors.New("harvest.window_days must be at least 1")
	ErrInvalidPauseRange       = errors.New("harvest pause range must satisfy 0 <= min <= max")
	ErrInvalidFailureThreshold = errors.New("harvest.failure_threshold must be non-negative")
	ErrInvalidMaxArticles      = errors.New("harvest.max_articles must be non-negative")
	ErrInvalidMaxAttempts      = errors.New("retry.max_attempts must be at least 1")
	ErrInvalidInitialDelay     = errors.New("retry.initial_delay_ms must be non-negative")
	ErrInvalidMultiplier       = errors.New("retry.backoff_multiplier must be >= 1.0")
	ErrInvalidWorkers          = errors.New("enrich.workers must be at least 1")
	ErrMissingOutputDir        = errors.New("output.dir is required")
	ErrInvalidOutputFormat     = errors.New("output.format must be 'csv' or 'jsonl'")
	ErrMissingStatePath        = errors.New("state.path is required")
	ErrInvalidLogLevel         = errors.New("logging.level must be one of: debug, info, warn, error")
)

// Config is the full harvester configuration.
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Harvest    HarvestConfig    `mapstructure:"harvest"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Enrich     EnrichConfig     `mapstructure:"enrich"`
	Output     OutputConfig     `mapstructure:"output"`
	State      StateConfig      `mapstructure:"state"`
	Publishers PublishersConfig `mapstructure:"publishers"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// APIConfig describes the upstream advanced-search endpoint.
type APIConfig struct {
	BaseURL    string            `mapstructure:"base_url"`
	PageLimit  int               `mapstructure:"page_limit"`
	TimeoutSec int               `mapstructure:"timeout_sec"`
	Headers    map[string]string `mapstructure:"headers"`
}

// HarvestConfig controls the date-window walk.
type HarvestConfig struct {
	StartDate        string `mapstructure:"start_date"`
	WindowDays       int    `mapstructure:"window_days"`
	MaxArticles      int    `mapstructure:"max_articles"`
	MinPauseSec      int    `mapstructure:"min_pause_sec"`
	MaxPauseSec      int    `mapstructure:"max_pause_sec"`
	FailureThreshold int    `mapstructure:"failure_threshold"`
}

// RetryConfig is the bounded exponential backoff policy for API requests.
type RetryConfig struct {
	MaxAttempts       int     `mapstructure:"max_attempts"`
	InitialDelayMs    int     `mapstructure:"initial_delay_ms"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
}

// EnrichConfig controls the optional article-page scrape stage.
type EnrichConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	Workers        int  `mapstructure:"workers"`
	RequestDelayMs int  `mapstructure:"request_delay_ms"`
}

// OutputConfig selects the file sink.
type OutputConfig struct {
	Dir    string `mapstructure:"dir"`
	Format string `mapstructure:"format"`
}

// StateConfig locates the bbolt cursor store.
type StateConfig struct {
	Path   string `mapstructure:"path"`
	Dedupe bool   `mapstructure:"dedupe"`
}

// PublishersConfig points at the optional downstream publishers file.
type PublishersConfig struct {
	File string `mapstructure:"file"`
}

// LoggingConfig controls log level and the optional log file.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Load reads the config file at path, applies defaults, and validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://www.prothomalo.com/api/v1/advanced-search")
	v.SetDefault("api.page_limit", 20)
	v.SetDefault("api.timeout_sec", 15)
	v.SetDefault("harvest.window_days", 1)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay_ms", 500)
	v.SetDefault("retry.backoff_multiplier", 2.0)
	v.SetDefault("enrich.workers", 4)
	v.SetDefault("output.format", "csv")
	v.SetDefault("state.path", "./state/archive.db")
	v.SetDefault("state.dedupe", true)
	v.SetDefault("logging.level", "info")
}

func (c *Config) sanitize() {
	c.API.BaseURL = strings.TrimSpace(c.API.BaseURL)
	c.Harvest.StartDate = strings.TrimSpace(c.Harvest.StartDate)
	c.Output.Dir = strings.TrimSpace(c.Output.Dir)
	c.Output.Format = strings.ToLower(strings.TrimSpace(c.Output.Format))
	c.State.Path = strings.TrimSpace(c.State.Path)
	c.Publishers.File = strings.TrimSpace(c.Publishers.File)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
}

// Validate checks every field group and returns the first violation.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return ErrMissingBaseURL
	}
	if c.API.PageLimit < 1 {
		return ErrInvalidPageLimit
	}
	if c.API.TimeoutSec < 1 {
		return ErrInvalidTimeout
	}

	if c.Harvest.StartDate == "" {
		return ErrMissingStartDate
	}
	if _, err := time.Parse(DateFormat, c.Harvest.StartDate); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidStartDate, c.Harvest.StartDate)
	}
	if c.Harvest.WindowDays < 1 {
		return ErrInvalidWindowDays
	}
	if c.Harvest.MaxArticles < 0 {
		return ErrInvalidMaxArticles
	}
	if c.Harvest.MinPauseSec < 0 || c.Harvest.MaxPauseSec < c.Harvest.MinPauseSec {
		return ErrInvalidPauseRange
	}
	if c.Harvest.FailureThreshold < 0 {
		return ErrInvalidFailureThreshold
	}

	if c.Retry.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}
	if c.Retry.InitialDelayMs < 0 {
		return ErrInvalidInitialDelay
	}
	if c.Retry.BackoffMultiplier < 1.0 {
		return ErrInvalidMultiplier
	}

	if c.Enrich.Enabled && c.Enrich.Workers < 1 {
		return ErrInvalidWorkers
	}

	if c.Output.Dir == "" {
		return ErrMissingOutputDir
	}
	if c.Output.Format != "csv" && c.Output.Format != "jsonl" {
		return ErrInvalidOutputFormat
	}

	if c.State.Path == "" {
		return ErrMissingStatePath
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}

	return nil
}

// StartDateTime returns the parsed harvest start date. Validate must have
// passed.
func (c *Config) StartDateTime() time.Time {
	t, _ := time.Parse(DateFormat, c.Harvest.StartDate)
	return t
}

// Window returns the configured window size as a duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.Harvest.WindowDays) * 24 * time.Hour
}

// Timeout returns the API request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSec) * time.Second
}
