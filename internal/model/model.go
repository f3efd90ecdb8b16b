// Package model defines the domain types used across the application.
package model

import "time"

// FeedItem is one normalized feed entry. Items are immutable once emitted
// by the parser; downstream stages only read them.
type FeedItem struct {
	ID          string
	Title       string
	Description string
	Link        string
	PublishedAt time.Time
	UpdatedAt   time.Time
	Tags        []string
	Source      string
	RawMetadata map[string]string
}

// HasTag reports whether the item carries the given tag.
func (it FeedItem) HasTag(tag string) bool {
	for _, t := range it.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// FeedState is the per-feed watermark: the publish timestamp of the most
// recent item already processed. Monotonically non-decreasing.
type FeedState struct {
	FeedID     string
	LastReadAt time.Time
}

// FilterRules configures the item filter chain for one feed.
type FilterRules struct {
	MaxAgeDays      int      `yaml:"max_age_days"`
	RequiredTags    []string `yaml:"required_tags"`
	ExcludeTags     []string `yaml:"exclude_tags"`
	IncludePatterns []string `yaml:"include_patterns"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
}

// Feed is one configured feed source.
type Feed struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	URL         string      `yaml:"url"`
	Enabled     bool        `yaml:"enabled"`
	MaxItems    int         `yaml:"max_items"`
	FilterRules FilterRules `yaml:"filter_rules"`
}

// Action is an opaque action descriptor attached to a trigger or rule.
// The pipeline never interprets it; it travels with matches and queue tasks
// for the downstream agent runner.
type Action struct {
	Type string         `yaml:"type" json:"type"`
	Data map[string]any `yaml:"data,omitempty" json:"data,omitempty"`
}

// ExclusionRule rejects an otherwise-matching keyword rule when any of its
// keywords appears in the matched text.
type ExclusionRule struct {
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// KeywordRule is one matching rule inside a trigger. All keywords must be
// present (AND semantics); an empty keyword list matches everything.
type KeywordRule struct {
	Keywords       []string        `yaml:"keywords" json:"keywords"`
	MatchOn        []string        `yaml:"match_on" json:"match_on"`
	ExclusionRules []ExclusionRule `yaml:"exclusion_rules,omitempty" json:"exclusion_rules,omitempty"`
	Actions        []Action        `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// TriggerCondition gates agent queueing on the size of a match batch.
type TriggerCondition struct {
	MinItems int `yaml:"min_items"`
}

// TriggerRule is one agent's declarative matching configuration.
type TriggerRule struct {
	ID                  string           `yaml:"id"`
	Name                string           `yaml:"name"`
	Enabled             bool             `yaml:"enabled"`
	Feeds               []string         `yaml:"feeds"`
	Trigger             TriggerCondition `yaml:"trigger"`
	ConfidenceThreshold float64          `yaml:"confidence_threshold"`
	KeywordRules        []KeywordRule    `yaml:"keyword_rules"`
	Actions             []Action         `yaml:"actions,omitempty"`
	Config              map[string]any   `yaml:"config,omitempty"`
}

// WatchesFeed reports whether the trigger subscribes to the given feed.
// An empty feed list subscribes to every feed.
func (t TriggerRule) WatchesFeed(feedID string) bool {
	if len(t.Feeds) == 0 {
		return true
	}
	for _, id := range t.Feeds {
		if id == feedID {
			return true
		}
	}
	return false
}

// TriggerMatch is the result of an item matching a trigger.
type TriggerMatch struct {
	TriggerName     string
	Source          string
	Item            FeedItem
	MatchedKeywords []string
	Confidence      float64
	MatchedRules    []KeywordRule
	Actions         []Action
}

// ItemSummary is the condensed form of a matched item carried in a queue task.
type ItemSummary struct {
	Title           string   `json:"title"`
	Link            string   `json:"link"`
	Source          string   `json:"source"`
	MatchedKeywords []string `json:"matched_keywords"`
	Confidence      float64  `json:"confidence"`
}

// QueueTask is one durable unit of queued agent work.
type QueueTask struct {
	AgentID    string         `json:"agent_id"`
	AgentName  string         `json:"agent_name"`
	Items      []ItemSummary  `json:"items"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	Config     map[string]any `json:"config,omitempty"`
}

// TriggerEvent is one append-only audit record of a trigger match.
type TriggerEvent struct {
	ID              int64
	TriggerName     string
	Source          string
	MatchedKeywords []string
	MatchedRules    []KeywordRule
	Confidence      float64
	CreatedAt       time.Time
}

// HealthCheck records the outcome of one pipeline pass or subsystem check.
type HealthCheck struct {
	ID        int64
	CheckType string
	Status    string
	Message   string
	CreatedAt time.Time
}
