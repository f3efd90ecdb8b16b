// Package config loads and validates application configuration.
//
// Configuration lives in one YAML file (feeds, agents, scheduler, fetch
// tuning); a handful of environment variables override paths and log
// level for deployment convenience.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"feedwatch/internal/filter"
	"feedwatch/internal/model"
)

// SchedulerConfig controls the pipeline timer loop.
type SchedulerConfig struct {
	IntervalHours int    `yaml:"interval_hours"`
	StartTime     string `yaml:"start_time"`
	EndTime       string `yaml:"end_time"`
}

// FetchConfig tunes feed fetching.
type FetchConfig struct {
	TimeoutSeconds   int `yaml:"timeout_seconds"`
	RateLimitSeconds int `yaml:"rate_limit_seconds"`
	Retries          int `yaml:"retries"`
}

// Config holds the full application configuration.
type Config struct {
	DatabasePath string              `yaml:"database_path"`
	QueuePath    string              `yaml:"queue_path"`
	LogLevel     string              `yaml:"log_level"`
	Scheduler    SchedulerConfig     `yaml:"scheduler"`
	Fetch        FetchConfig         `yaml:"fetch"`
	Feeds        []model.Feed        `yaml:"feeds"`
	Agents       []model.TriggerRule `yaml:"agents"`
}

// rawAgent accepts both the canonical agent shape and the legacy flat
// shape (top-level keywords/fields/exclude_keywords).
type rawAgent struct {
	model.TriggerRule `yaml:",inline"`

	Keywords        []string `yaml:"keywords"`
	Fields          []string `yaml:"fields"`
	ExcludeKeywords []string `yaml:"exclude_keywords"`
}

type rawConfig struct {
	DatabasePath string          `yaml:"database_path"`
	QueuePath    string          `yaml:"queue_path"`
	LogLevel     string          `yaml:"log_level"`
	Scheduler    SchedulerConfig `yaml:"scheduler"`
	Fetch        FetchConfig     `yaml:"fetch"`
	Feeds        []model.Feed    `yaml:"feeds"`
	Agents       []rawAgent      `yaml:"agents"`
}

// Load reads the configuration file at path. A missing file is fatal;
// malformed individual feeds or agents are skipped with a warning.
func Load(path string, log *slog.Logger) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data, log)
}

// Parse decodes, migrates, and validates raw configuration bytes.
func Parse(data []byte, log *slog.Logger) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := &Config{
		DatabasePath: raw.DatabasePath,
		QueuePath:    raw.QueuePath,
		LogLevel:     raw.LogLevel,
		Scheduler:    raw.Scheduler,
		Fetch:        raw.Fetch,
	}
	cfg.applyDefaults()
	cfg.applyEnv()

	for _, feed := range raw.Feeds {
		if feed.ID == "" || feed.URL == "" {
			log.Warn("skipping feed with missing id or url", "id", feed.ID, "url", feed.URL)
			continue
		}
		if _, err := filter.Compile(feed.FilterRules); err != nil {
			log.Warn("skipping feed with invalid filter rules", "id", feed.ID, "error", err)
			continue
		}
		cfg.Feeds = append(cfg.Feeds, feed)
	}

	for _, agent := range raw.Agents {
		rule, err := normalizeAgent(agent)
		if err != nil {
			log.Warn("skipping invalid agent", "id", agent.ID, "error", err)
			continue
		}
		cfg.Agents = append(cfg.Agents, rule)
	}

	if err := cfg.validateScheduler(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalizeAgent converts an on-disk agent entry into the canonical
// TriggerRule. Legacy flat entries (keywords/fields/exclude_keywords at
// top level) are migrated into a single keyword rule.
func normalizeAgent(agent rawAgent) (model.TriggerRule, error) {
	rule := agent.TriggerRule
	if rule.ID == "" {
		return model.TriggerRule{}, fmt.Errorf("agent has no id")
	}
	if rule.Name == "" {
		rule.Name = rule.ID
	}

	if len(rule.KeywordRules) == 0 && (len(agent.Keywords) > 0 || len(agent.ExcludeKeywords) > 0) {
		kr := model.KeywordRule{
			Keywords: agent.Keywords,
			MatchOn:  agent.Fields,
		}
		if len(agent.ExcludeKeywords) > 0 {
			kr.ExclusionRules = []model.ExclusionRule{{Keywords: agent.ExcludeKeywords}}
		}
		rule.KeywordRules = []model.KeywordRule{kr}
	}

	if rule.ConfidenceThreshold == 0 {
		rule.ConfidenceThreshold = 0.7
	}
	if rule.Trigger.MinItems <= 0 {
		rule.Trigger.MinItems = 1
	}
	return rule, nil
}

func (c *Config) applyDefaults() {
	if c.DatabasePath == "" {
		c.DatabasePath = "./data/feedwatch.db"
	}
	if c.QueuePath == "" {
		c.QueuePath = "./data/trigger_queue.json"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Scheduler.IntervalHours <= 0 {
		c.Scheduler.IntervalHours = 4
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		c.Fetch.TimeoutSeconds = 30
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FEEDWATCH_DB_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("FEEDWATCH_QUEUE_PATH"); v != "" {
		c.QueuePath = v
	}
	if v := os.Getenv("FEEDWATCH_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) validateScheduler() error {
	for _, v := range []string{c.Scheduler.StartTime, c.Scheduler.EndTime} {
		if v == "" {
			continue
		}
		if _, err := time.Parse("15:04", v); err != nil {
			return fmt.Errorf("invalid schedule time %q: %w", v, err)
		}
	}
	return nil
}

// Window returns the configured time-of-day execution window, or ok=false
// when no window is configured.
func (c *Config) Window() (start, end time.Time, ok bool) {
	if c.Scheduler.StartTime == "" || c.Scheduler.EndTime == "" {
		return time.Time{}, time.Time{}, false
	}
	start, _ = time.Parse("15:04", c.Scheduler.StartTime)
	end, _ = time.Parse("15:04", c.Scheduler.EndTime)
	return start, end, true
}
