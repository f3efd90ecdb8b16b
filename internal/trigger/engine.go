// Package trigger implements the keyword rule engine that matches feed
// items against configured triggers.
package trigger

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"feedwatch/internal/model"
)

// AuditLog persists trigger match records. Audit writes are best-effort:
// a failure is logged and never blocks the match result.
type AuditLog interface {
	InsertTriggerEvent(ctx context.Context, ev *model.TriggerEvent) error
}

// Engine evaluates items against trigger rules.
type Engine struct {
	audit AuditLog
	log   *slog.Logger
}

// New creates an Engine. audit may be nil to disable audit logging.
func New(audit AuditLog, log *slog.Logger) *Engine {
	return &Engine{audit: audit, log: log}
}

// Evaluate matches one item against the triggers in order and returns the
// first firing trigger's match, or nil. Disabled triggers are skipped. A
// trigger fires when its confidence meets its threshold; confidence is
// binary (1.0 when at least one keyword rule survives exclusion checks,
// 0.0 otherwise), so any threshold in (0, 1] gates all-or-nothing.
func (e *Engine) Evaluate(ctx context.Context, item model.FeedItem, triggers []model.TriggerRule) *model.TriggerMatch {
	for _, trig := range triggers {
		if !trig.Enabled {
			continue
		}
		match := e.checkTrigger(item, trig)
		if match == nil {
			continue
		}

		if e.audit != nil {
			ev := &model.TriggerEvent{
				TriggerName:     match.TriggerName,
				Source:          match.Source,
				MatchedKeywords: match.MatchedKeywords,
				MatchedRules:    match.MatchedRules,
				Confidence:      match.Confidence,
			}
			if err := e.audit.InsertTriggerEvent(ctx, ev); err != nil {
				e.log.Error("audit trigger match", "trigger", match.TriggerName, "error", err)
			}
		}
		return match
	}
	return nil
}

func (e *Engine) checkTrigger(item model.FeedItem, trig model.TriggerRule) *model.TriggerMatch {
	var matchedRules []model.KeywordRule
	for _, rule := range trig.KeywordRules {
		if ruleMatches(item, rule) {
			matchedRules = append(matchedRules, rule)
		}
	}

	confidence := 0.0
	if len(matchedRules) > 0 {
		confidence = 1.0
	}
	if confidence < trig.ConfidenceThreshold || len(matchedRules) == 0 {
		return nil
	}

	keywordSet := make(map[string]bool)
	actions := append([]model.Action(nil), trig.Actions...)
	for _, rule := range matchedRules {
		for _, kw := range rule.Keywords {
			keywordSet[kw] = true
		}
		actions = append(actions, rule.Actions...)
	}
	keywords := make([]string, 0, len(keywordSet))
	for kw := range keywordSet {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)

	return &model.TriggerMatch{
		TriggerName:     trig.Name,
		Source:          item.Source,
		Item:            item,
		MatchedKeywords: keywords,
		Confidence:      confidence,
		MatchedRules:    matchedRules,
		Actions:         actions,
	}
}

// ruleMatches applies one keyword rule to an item. An empty keyword list
// matches everything. All keywords must appear (AND semantics) as
// case-insensitive substrings of the combined match_on text; any exclusion
// keyword found in the same text rejects the rule.
func ruleMatches(item model.FeedItem, rule model.KeywordRule) bool {
	text := combinedText(item, rule.MatchOn)

	if len(rule.Keywords) > 0 {
		for _, kw := range rule.Keywords {
			if !strings.Contains(text, strings.ToLower(kw)) {
				return false
			}
		}
	}

	for _, excl := range rule.ExclusionRules {
		for _, kw := range excl.Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				return false
			}
		}
	}
	return true
}

func combinedText(item model.FeedItem, matchOn []string) string {
	if len(matchOn) == 0 {
		matchOn = []string{"title", "description"}
	}
	var parts []string
	for _, field := range matchOn {
		switch field {
		case "title":
			parts = append(parts, item.Title)
		case "description":
			parts = append(parts, item.Description)
		case "tags":
			parts = append(parts, strings.Join(item.Tags, " "))
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}
