package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Sources  []SourceConfig `mapstructure:"sources"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Judge    JudgeConfig    `mapstructure:"judge"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SourceConfig describes one external source.
type SourceConfig struct {
	Name       string   `mapstructure:"name"`
	Type       string   `mapstructure:"type"` // rss, polymarket, kalshi or fixture
	URL        string   `mapstructure:"url"`
	Path       string   `mapstructure:"path"` // fixture file
	MaxItems   int      `mapstructure:"max_items"`
	Categories []string `mapstructure:"categories"`
}

// PipelineConfig holds per-stage limits of one cycle
type PipelineConfig struct {
	MaxItemsPerSource  int           `mapstructure:"max_items_per_source"`
	MaxProposals       int           `mapstructure:"max_proposals"`
	MaxEvents          int           `mapstructure:"max_events"`
	EvidenceWindow     int           `mapstructure:"evidence_window"`
	ReopenTerminalKeys bool          `mapstructure:"reopen_terminal_keys"`
	AutoActivateEvents bool          `mapstructure:"auto_activate_events"`
	FetchConcurrency   int           `mapstructure:"fetch_concurrency"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	Interval           time.Duration `mapstructure:"interval"` // 0 = run once
	ResolutionSources  int           `mapstructure:"resolution_sources"`
	RecheckAfter       time.Duration `mapstructure:"recheck_after"`
}

// JudgeConfig holds proposal scoring configuration
type JudgeConfig struct {
	ApprovalThreshold float64       `mapstructure:"approval_threshold"`
	Weights           WeightsConfig `mapstructure:"weights"`
	Categories        []string      `mapstructure:"categories"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
}

// WeightsConfig holds the relative weight of each judgment criterion
type WeightsConfig struct {
	Answerability float64 `mapstructure:"answerability"`
	Significance  float64 `mapstructure:"significance"`
	Frequency     float64 `mapstructure:"frequency"`
	Temporal      float64 `mapstructure:"temporal"`
}

// LLMConfig selects and configures the oracle backend
type LLMConfig struct {
	Mode              string        `mapstructure:"mode"` // live or mock
	MockSeed          int64         `mapstructure:"mock_seed"`
	ReferenceYear     int           `mapstructure:"reference_year"` // 0 = current year
	Model             string        `mapstructure:"model"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Temperature       float64       `mapstructure:"temperature"`
	InputCostPerMTok  float64       `mapstructure:"input_cost_per_mtok"`
	OutputCostPerMTok float64       `mapstructure:"output_cost_per_mtok"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath  string        `mapstructure:"db_path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MetricsConfig holds metrics export configuration
type MetricsConfig struct {
	TextfilePath string `mapstructure:"textfile_path"` // empty = disabled
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const (
	ModeLive = "live"
	ModeMock = "mock"
)

// Load reads configuration from file and environment variables.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// EVENT_ORACLE_LLM_API_KEY overrides llm.api_key
	v.SetEnvPrefix("EVENT_ORACLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("sources", []map[string]any{
		{"name": "bbc", "type": "rss", "url": "https://feeds.bbci.co.uk/news/rss.xml"},
		{"name": "npr", "type": "rss", "url": "https://feeds.npr.org/1001/rss.xml"},
	})

	// Pipeline defaults
	v.SetDefault("pipeline.max_items_per_source", 20)
	v.SetDefault("pipeline.max_proposals", 10)
	v.SetDefault("pipeline.max_events", 10)
	v.SetDefault("pipeline.evidence_window", 10)
	v.SetDefault("pipeline.reopen_terminal_keys", false)
	v.SetDefault("pipeline.auto_activate_events", true)
	v.SetDefault("pipeline.fetch_concurrency", 4)
	v.SetDefault("pipeline.fetch_timeout", "30s")
	v.SetDefault("pipeline.interval", "0s")
	v.SetDefault("pipeline.resolution_sources", 3)
	v.SetDefault("pipeline.recheck_after", "24h")

	// Judge defaults
	v.SetDefault("judge.approval_threshold", 0.7)
	v.SetDefault("judge.weights.answerability", 0.3)
	v.SetDefault("judge.weights.significance", 0.3)
	v.SetDefault("judge.weights.frequency", 0.2)
	v.SetDefault("judge.weights.temporal", 0.2)
	v.SetDefault("judge.categories", []string{
		"politics", "economics", "crypto", "stock_market", "technology", "ai", "science",
		"sports", "entertainment", "international", "weather", "health", "other",
	})
	v.SetDefault("judge.max_attempts", 2)
	v.SetDefault("judge.retry_backoff", "2s")

	// LLM defaults
	v.SetDefault("llm.mode", ModeMock)
	v.SetDefault("llm.mock_seed", 42)
	v.SetDefault("llm.reference_year", 0)
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.requests_per_minute", 15)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.input_cost_per_mtok", 0.075)
	v.SetDefault("llm.output_cost_per_mtok", 0.30)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/eventoracle.db")
	v.SetDefault("storage.timeout", "10s")

	// Metrics defaults
	v.SetDefault("metrics.textfile_path", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate sources
	if len(c.Sources) == 0 {
		return fmt.Errorf("sources must contain at least one source")
	}
	names := make(map[string]bool, len(c.Sources))
	validTypes := map[string]bool{"rss": true, "polymarket": true, "kalshi": true, "fixture": true}
	for i, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d].name is required", i)
		}
		if names[s.Name] {
			return fmt.Errorf("sources[%d].name %q is duplicated", i, s.Name)
		}
		names[s.Name] = true
		if !validTypes[s.Type] {
			return fmt.Errorf("sources[%d].type must be one of: rss, polymarket, kalshi, fixture", i)
		}
		if s.Type == "rss" && s.URL == "" {
			return fmt.Errorf("sources[%d].url is required for rss sources", i)
		}
		if s.Type == "fixture" && s.Path == "" {
			return fmt.Errorf("sources[%d].path is required for fixture sources", i)
		}
		if s.MaxItems < 0 {
			return fmt.Errorf("sources[%d].max_items must not be negative", i)
		}
	}

	// Validate Pipeline config
	if c.Pipeline.MaxItemsPerSource < 1 {
		return fmt.Errorf("pipeline.max_items_per_source must be at least 1")
	}
	if c.Pipeline.MaxProposals < 0 {
		return fmt.Errorf("pipeline.max_proposals must not be negative")
	}
	if c.Pipeline.MaxEvents < 0 {
		return fmt.Errorf("pipeline.max_events must not be negative")
	}
	if c.Pipeline.EvidenceWindow < 1 {
		return fmt.Errorf("pipeline.evidence_window must be at least 1")
	}
	if c.Pipeline.FetchConcurrency < 1 {
		return fmt.Errorf("pipeline.fetch_concurrency must be at least 1")
	}
	if c.Pipeline.ResolutionSources < 1 {
		return fmt.Errorf("pipeline.resolution_sources must be at least 1")
	}
	if c.Pipeline.RecheckAfter < 0 {
		return fmt.Errorf("pipeline.recheck_after must not be negative")
	}
	if c.Pipeline.Interval != 0 && c.Pipeline.Interval < 1*time.Minute {
		return fmt.Errorf("pipeline.interval must be 0 or at least 1 minute")
	}

	// Validate Judge config
	if c.Judge.ApprovalThreshold < 0.0 || c.Judge.ApprovalThreshold > 1.0 {
		return fmt.Errorf("judge.approval_threshold must be between 0.0 and 1.0")
	}
	w := c.Judge.Weights
	if w.Answerability < 0 || w.Significance < 0 || w.Frequency < 0 || w.Temporal < 0 {
		return fmt.Errorf("judge.weights must not be negative")
	}
	if w.Answerability+w.Significance+w.Frequency+w.Temporal == 0 {
		return fmt.Errorf("judge.weights must not all be zero")
	}
	hasOther := false
	for _, cat := range c.Judge.Categories {
		if strings.EqualFold(strings.TrimSpace(cat), "other") {
			hasOther = true
		}
	}
	if !hasOther {
		return fmt.Errorf("judge.categories must include \"other\"")
	}
	if c.Judge.MaxAttempts < 1 {
		return fmt.Errorf("judge.max_attempts must be at least 1")
	}

	// Validate LLM config
	switch c.LLM.Mode {
	case ModeMock:
	case ModeLive:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required when llm.mode is live")
		}
		if c.LLM.Model == "" {
			return fmt.Errorf("llm.model is required when llm.mode is live")
		}
	default:
		return fmt.Errorf("llm.mode must be one of: live, mock")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive")
	}
	if c.LLM.RequestsPerMinute < 0 {
		return fmt.Errorf("llm.requests_per_minute must not be negative")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.Timeout <= 0 {
		return fmt.Errorf("storage.timeout must be positive")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// EffectiveReferenceYear returns the configured reference year, or the year of now when unset.
func (c *Config) EffectiveReferenceYear(now time.Time) int {
	if c.LLM.ReferenceYear > 0 {
		return c.LLM.ReferenceYear
	}
	return now.Year()
}
