// Package filter implements the item filter chain applied after parsing.
//
// Stages run in a fixed order: age cutoff, required tags, excluded tags,
// include/exclude patterns. Each stage is a pure, order-preserving function
// of the previous stage's output, and a stage with no configuration is a
// pass-through.
package filter

import (
	"fmt"
	"regexp"
	"time"

	"feedwatch/internal/model"
)

// Compiled holds filter rules with patterns pre-compiled. Compiling at
// config-load time surfaces bad regexes as startup errors instead of
// silently dropping items per pass.
type Compiled struct {
	rules   model.FilterRules
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// Compile validates and compiles a rule set. Patterns are case-insensitive.
func Compile(rules model.FilterRules) (*Compiled, error) {
	c := &Compiled{rules: rules}
	for _, p := range rules.IncludePatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("include pattern %q: %w", p, err)
		}
		c.include = append(c.include, re)
	}
	for _, p := range rules.ExcludePatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("exclude pattern %q: %w", p, err)
		}
		c.exclude = append(c.exclude, re)
	}
	return c, nil
}

// Apply runs the filter chain over items relative to now. The input slice
// is never mutated; relative order is preserved.
func (c *Compiled) Apply(items []model.FeedItem, now time.Time) []model.FeedItem {
	out := make([]model.FeedItem, 0, len(items))
	for _, item := range items {
		if c.keep(item, now) {
			out = append(out, item)
		}
	}
	return out
}

func (c *Compiled) keep(item model.FeedItem, now time.Time) bool {
	if c.rules.MaxAgeDays > 0 {
		cutoff := now.AddDate(0, 0, -c.rules.MaxAgeDays)
		// Exactly at the cutoff is retained.
		if item.PublishedAt.Before(cutoff) {
			return false
		}
	}

	for _, tag := range c.rules.RequiredTags {
		if !item.HasTag(tag) {
			return false
		}
	}

	for _, tag := range c.rules.ExcludeTags {
		if item.HasTag(tag) {
			return false
		}
	}

	text := item.Title + " " + item.Description
	if len(c.include) > 0 {
		matched := false
		for _, re := range c.include {
			if re.MatchString(text) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, re := range c.exclude {
		if re.MatchString(text) {
			return false
		}
	}
	return true
}

// Apply compiles rules and runs the chain in one step. Callers that run
// repeatedly over the same rules should Compile once instead.
func Apply(items []model.FeedItem, rules model.FilterRules, now time.Time) ([]model.FeedItem, error) {
	c, err := Compile(rules)
	if err != nil {
		return nil, err
	}
	return c.Apply(items, now), nil
}
