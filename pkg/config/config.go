package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"quest_tally/pkg/forum"
	"quest_tally/pkg/ranking"
	"quest_tally/pkg/tally"
	"quest_tally/pkg/text"
	"quest_tally/pkg/votes"
)

// Config holds all configuration settings for the application
type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Log         LogConfig      `mapstructure:"log"`
	Tally       TallyConfig    `mapstructure:"tally"`
	Database    DatabaseConfig `mapstructure:"database"`
	Scheduler   SchedConfig    `mapstructure:"scheduler"`
	Quests      []QuestConfig  `mapstructure:"quests"`
}

// LogConfig holds log output and rotation settings
type LogConfig struct {
	OutputPath string `mapstructure:"output_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

// TallyConfig holds the options applied to every tally run
type TallyConfig struct {
	PartitionMode           string   `mapstructure:"partition_mode"`
	RankedMethod            string   `mapstructure:"ranked_method"`
	WhitespaceSignificant   bool     `mapstructure:"whitespace_and_punctuation_significant"`
	ForcedCategory          string   `mapstructure:"forced_category"`
	WilsonTopRanks          int      `mapstructure:"wilson_top_ranks"`
	WilsonConfidence        float64  `mapstructure:"wilson_confidence"`
	CacheSize               int      `mapstructure:"cache_size"`
	CustomTaskFilters       []string `mapstructure:"custom_task_filters"`
	CustomThreadmarkFilters []string `mapstructure:"custom_threadmark_filters"`
}

// DatabaseConfig holds database connection settings. An empty URL with
// Embedded unset disables persistence.
type DatabaseConfig struct {
	URL          string        `mapstructure:"url"`
	MaxConns     int           `mapstructure:"max_conns"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Embedded     bool          `mapstructure:"embedded"`
	EmbeddedPort uint32        `mapstructure:"embedded_port"`
	EmbeddedPath string        `mapstructure:"embedded_path"`
}

// SchedConfig holds scheduler related configuration
type SchedConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// QuestConfig describes one quest thread to tally
type QuestConfig struct {
	ID       string `mapstructure:"id"`
	Forum    string `mapstructure:"forum"`
	Source   string `mapstructure:"source"`
	Schedule string `mapstructure:"schedule"`
}

// Load reads the configuration file and environment variables. A missing
// file leaves defaults and environment values in place.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("TALLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("log.output_path", "logs/tally.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)
	v.SetDefault("log.console", true)

	defaults := tally.DefaultOptions()
	v.SetDefault("tally.partition_mode", defaults.PartitionMode.String())
	v.SetDefault("tally.ranked_method", defaults.RankedMethod.String())
	v.SetDefault("tally.whitespace_and_punctuation_significant", false)
	v.SetDefault("tally.forced_category", "")
	v.SetDefault("tally.wilson_top_ranks", defaults.Ranking.TopRanks)
	v.SetDefault("tally.wilson_confidence", defaults.Ranking.Confidence)
	v.SetDefault("tally.cache_size", defaults.CacheSize)

	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.timeout", "30s")
	v.SetDefault("database.embedded", false)
	v.SetDefault("database.embedded_port", 5433)
	v.SetDefault("database.embedded_path", "data/postgres")

	v.SetDefault("scheduler.max_concurrent", 4)
	v.SetDefault("scheduler.retry_attempts", 3)
	v.SetDefault("scheduler.retry_delay", "5s")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateTally(); err != nil {
		return fmt.Errorf("tally config: %w", err)
	}

	if err := c.validateDatabase(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.validateScheduler(); err != nil {
		return fmt.Errorf("scheduler config: %w", err)
	}

	if err := c.validateQuests(); err != nil {
		return fmt.Errorf("quests config: %w", err)
	}

	return nil
}

func (c *Config) validateTally() error {
	_, err := c.TallyOptions()
	return err
}

func (c *Config) validateDatabase() error {
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("max_conns must be positive")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Database.Embedded {
		if c.Database.EmbeddedPort == 0 {
			return fmt.Errorf("embedded_port must be set")
		}
		if c.Database.EmbeddedPath == "" {
			return fmt.Errorf("embedded_path cannot be empty")
		}
		c.Database.EmbeddedPath = filepath.Clean(c.Database.EmbeddedPath)
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive")
	}

	if c.Scheduler.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts cannot be negative")
	}

	return nil
}

func (c *Config) validateQuests() error {
	seen := make(map[string]bool, len(c.Quests))
	for i, q := range c.Quests {
		if strings.TrimSpace(q.ID) == "" {
			return fmt.Errorf("quest %d: id cannot be empty", i)
		}
		if seen[q.ID] {
			return fmt.Errorf("quest %q: duplicate id", q.ID)
		}
		seen[q.ID] = true

		if _, err := forum.ParseKind(q.Forum); err != nil {
			return fmt.Errorf("quest %q: %w", q.ID, err)
		}
		if q.Source == "" {
			return fmt.Errorf("quest %q: source cannot be empty", q.ID)
		}
		if q.Schedule != "" {
			if _, err := cron.ParseStandard(q.Schedule); err != nil {
				return fmt.Errorf("quest %q: invalid schedule: %w", q.ID, err)
			}
		}
	}
	return nil
}

// TallyOptions converts the tally section into run options
func (c *Config) TallyOptions() (tally.Options, error) {
	opts := tally.DefaultOptions()

	mode, err := votes.ParsePartitionMode(c.Tally.PartitionMode)
	if err != nil {
		return opts, err
	}
	opts.PartitionMode = mode

	method, err := ranking.ParseMethod(c.Tally.RankedMethod)
	if err != nil {
		return opts, err
	}
	opts.RankedMethod = method

	opts.ComparisonMode = text.ModeLoose
	if c.Tally.WhitespaceSignificant {
		opts.ComparisonMode = text.ModeStrict
	}

	switch strings.ToLower(strings.TrimSpace(c.Tally.ForcedCategory)) {
	case "", "none":
		opts.ForcedCategory = votes.MarkerNone
	case "rank":
		opts.ForcedCategory = votes.MarkerRank
	case "score":
		opts.ForcedCategory = votes.MarkerScore
	default:
		return opts, fmt.Errorf("unknown forced category: %q", c.Tally.ForcedCategory)
	}

	opts.Ranking = ranking.Options{
		TopRanks:   c.Tally.WilsonTopRanks,
		Confidence: c.Tally.WilsonConfidence,
	}
	if c.Tally.CacheSize > 0 {
		opts.CacheSize = c.Tally.CacheSize
	}
	opts.CustomTaskFilters = c.Tally.CustomTaskFilters
	opts.CustomThreadmarkFilters = c.Tally.CustomThreadmarkFilters

	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// PersistenceEnabled reports whether snapshots should be stored
func (c *Config) PersistenceEnabled() bool {
	return c.Database.URL != "" || c.Database.Embedded
}

// GetLogLevel returns a zap log level based on the configured string
func (c *Config) GetLogLevel() zap.AtomicLevel {
	level := zap.NewAtomicLevel()
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "info":
		level.SetLevel(zap.InfoLevel)
	case "warn":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}
	return level
}

// IsDevelopment returns true if the environment is set to development
func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) == "development"
}
