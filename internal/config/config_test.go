package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"feedwatch/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const sampleYAML = `
database_path: ./data/test.db
log_level: debug
scheduler:
  interval_hours: 6
  start_time: "09:00"
  end_time: "23:00"
fetch:
  timeout_seconds: 10
  rate_limit_seconds: 2
feeds:
  - id: bargains
    name: Bargain Tracker
    url: https://bargains.example.com/rss
    enabled: true
    max_items: 50
    filter_rules:
      max_age_days: 7
      exclude_tags: [spam]
      include_patterns: [deal, discount]
agents:
  - id: deal-hunter
    name: Deal Hunter
    enabled: true
    feeds: [bargains]
    trigger:
      min_items: 2
    confidence_threshold: 0.6
    keyword_rules:
      - keywords: [deal, sale]
        match_on: [title, description]
        exclusion_rules:
          - keywords: [sponsored]
    actions:
      - type: notify
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML), testLogger())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if cfg.DatabasePath != "./data/test.db" || cfg.LogLevel != "debug" {
		t.Errorf("paths/level = %q %q", cfg.DatabasePath, cfg.LogLevel)
	}
	if cfg.Scheduler.IntervalHours != 6 {
		t.Errorf("interval = %d, want 6", cfg.Scheduler.IntervalHours)
	}
	if cfg.QueuePath == "" {
		t.Error("queue path should default when unset")
	}

	if len(cfg.Feeds) != 1 {
		t.Fatalf("expected 1 feed, got %d", len(cfg.Feeds))
	}
	wantFeed := model.Feed{
		ID: "bargains", Name: "Bargain Tracker", URL: "https://bargains.example.com/rss",
		Enabled: true, MaxItems: 50,
		FilterRules: model.FilterRules{
			MaxAgeDays:      7,
			ExcludeTags:     []string{"spam"},
			IncludePatterns: []string{"deal", "discount"},
		},
	}
	if diff := cmp.Diff(wantFeed, cfg.Feeds[0]); diff != "" {
		t.Errorf("feed mismatch (-want +got):\n%s", diff)
	}

	if len(cfg.Agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(cfg.Agents))
	}
	agent := cfg.Agents[0]
	if agent.Trigger.MinItems != 2 || agent.ConfidenceThreshold != 0.6 {
		t.Errorf("agent gating = %+v", agent)
	}
	if len(agent.KeywordRules) != 1 || len(agent.KeywordRules[0].ExclusionRules) != 1 {
		t.Errorf("keyword rules = %+v", agent.KeywordRules)
	}
	if len(agent.Actions) != 1 || agent.Actions[0].Type != "notify" {
		t.Errorf("actions = %+v", agent.Actions)
	}
}

func TestParseLegacyAgentShape(t *testing.T) {
	legacy := `
agents:
  - id: legacy-agent
    enabled: true
    keywords: [deal, sale]
    fields: [title]
    exclude_keywords: [sponsored]
`
	cfg, err := Parse([]byte(legacy), testLogger())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(cfg.Agents))
	}

	agent := cfg.Agents[0]
	if agent.Name != "legacy-agent" {
		t.Errorf("name should default to id, got %q", agent.Name)
	}
	want := []model.KeywordRule{{
		Keywords:       []string{"deal", "sale"},
		MatchOn:        []string{"title"},
		ExclusionRules: []model.ExclusionRule{{Keywords: []string{"sponsored"}}},
	}}
	if diff := cmp.Diff(want, agent.KeywordRules); diff != "" {
		t.Errorf("migrated rules mismatch (-want +got):\n%s", diff)
	}
	if agent.ConfidenceThreshold != 0.7 {
		t.Errorf("threshold should default to 0.7, got %v", agent.ConfidenceThreshold)
	}
	if agent.Trigger.MinItems != 1 {
		t.Errorf("min_items should default to 1, got %d", agent.Trigger.MinItems)
	}
}

func TestParseSkipsMalformedEntries(t *testing.T) {
	data := `
feeds:
  - id: ""
    url: https://nobody.example.com/rss
  - id: bad-regex
    url: https://bad.example.com/rss
    filter_rules:
      include_patterns: ["[invalid"]
  - id: good
    url: https://good.example.com/rss
    enabled: true
agents:
  - name: missing id
  - id: good-agent
    enabled: true
`
	cfg, err := Parse([]byte(data), testLogger())
	if err != nil {
		t.Fatalf("malformed individual entries must not be fatal: %v", err)
	}
	if len(cfg.Feeds) != 1 || cfg.Feeds[0].ID != "good" {
		t.Errorf("feeds = %+v, want only good", cfg.Feeds)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].ID != "good-agent" {
		t.Errorf("agents = %+v, want only good-agent", cfg.Agents)
	}
}

func TestParseRejectsBadScheduleTime(t *testing.T) {
	data := `
scheduler:
  start_time: "9am"
  end_time: "23:00"
`
	if _, err := Parse([]byte(data), testLogger()); err == nil {
		t.Fatal("expected error for invalid schedule time")
	}
}

func TestLoadMissingFileIsFatal(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), testLogger()); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FEEDWATCH_DB_PATH", "/tmp/override.db")
	t.Setenv("FEEDWATCH_LOG_LEVEL", "warn")

	cfg, err := Parse([]byte(sampleYAML), testLogger())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.DatabasePath != "/tmp/override.db" {
		t.Errorf("db path = %q, want env override", cfg.DatabasePath)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log level = %q, want env override", cfg.LogLevel)
	}
}

func TestDefaults(t *testing.T) {
	os.Unsetenv("FEEDWATCH_DB_PATH")
	os.Unsetenv("FEEDWATCH_QUEUE_PATH")
	os.Unsetenv("FEEDWATCH_LOG_LEVEL")

	cfg, err := Parse([]byte("{}"), testLogger())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Scheduler.IntervalHours != 4 {
		t.Errorf("default interval = %d, want 4", cfg.Scheduler.IntervalHours)
	}
	if cfg.Fetch.TimeoutSeconds != 30 {
		t.Errorf("default timeout = %d, want 30", cfg.Fetch.TimeoutSeconds)
	}
	if _, _, ok := cfg.Window(); ok {
		t.Error("no window should be configured by default")
	}
}
