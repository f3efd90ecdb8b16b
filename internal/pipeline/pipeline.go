// Package pipeline drives one ingestion pass: fetch, filter, dedup,
// trigger matching, and agent queueing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"feedwatch/internal/config"
	"feedwatch/internal/filter"
	"feedwatch/internal/model"
	"feedwatch/internal/parser"
	"feedwatch/internal/queue"
	"feedwatch/internal/store"
	"feedwatch/internal/trigger"
)

// Fetcher downloads and normalizes one feed.
type Fetcher interface {
	Fetch(ctx context.Context, source, url string, maxItems int) ([]model.FeedItem, error)
}

// Pipeline wires the ingestion stages together. All collaborators are
// injected; the pipeline owns no global state.
type Pipeline struct {
	fetcher Fetcher
	store   store.Store
	engine  *trigger.Engine
	queue   *queue.Queue
	cfg     *config.Config
	log     *slog.Logger
	now     func() time.Time
	dryRun  bool
}

// New creates a Pipeline.
func New(f Fetcher, st store.Store, eng *trigger.Engine, q *queue.Queue, cfg *config.Config, log *slog.Logger) *Pipeline {
	return &Pipeline{
		fetcher: f,
		store:   st,
		engine:  eng,
		queue:   q,
		cfg:     cfg,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetDryRun makes Run log would-be queue tasks instead of enqueueing them.
// The read path (fetch, filter, dedup, matching) still executes.
func (p *Pipeline) SetDryRun(v bool) { p.dryRun = v }

// SetNow overrides the pipeline clock (for tests).
func (p *Pipeline) SetNow(now func() time.Time) { p.now = now }

type passStats struct {
	feeds   int
	fetched int
	fresh   int
	matched int
	queued  int
}

// Run executes one full pipeline pass. Feeds are processed sequentially;
// cancellation is honored between feeds so a partially processed pass
// never commits a watermark for an unfinished feed. Per-feed failures are
// logged and skipped; Run fails only on cancellation.
func (p *Pipeline) Run(ctx context.Context) error {
	start := p.now()
	stats := passStats{}
	batches := make(map[string][]model.TriggerMatch)

	for _, feed := range p.cfg.Feeds {
		if err := ctx.Err(); err != nil {
			p.recordHealth(context.WithoutCancel(ctx), "failed", "pass cancelled")
			return err
		}
		if !feed.Enabled {
			p.log.Debug("skipping disabled feed", "feed_id", feed.ID)
			continue
		}
		stats.feeds++
		p.processFeed(ctx, feed, batches, &stats)
	}

	for _, agent := range p.cfg.Agents {
		batch := batches[agent.ID]
		if !agent.Enabled || len(batch) == 0 || len(batch) < agent.Trigger.MinItems {
			continue
		}
		task := buildTask(agent, batch, p.now())
		if p.dryRun {
			p.log.Info("dry run: would queue task", "agent", agent.Name, "items", len(task.Items))
			continue
		}
		p.queue.Enqueue(task)
		stats.queued++
		p.log.Info("queued agent task", "agent", agent.Name, "items", len(task.Items))
	}

	msg := fmt.Sprintf("feeds=%d fetched=%d fresh=%d matched=%d queued=%d duration=%s",
		stats.feeds, stats.fetched, stats.fresh, stats.matched, stats.queued,
		p.now().Sub(start).Round(time.Millisecond))
	p.recordHealth(ctx, "success", msg)
	p.log.Info("pass complete", "stats", msg)
	return nil
}

func (p *Pipeline) processFeed(ctx context.Context, feed model.Feed, batches map[string][]model.TriggerMatch, stats *passStats) {
	items, err := p.fetcher.Fetch(ctx, feed.ID, feed.URL, feed.MaxItems)
	if err != nil {
		var fe *parser.FetchError
		var pe *parser.ParseError
		switch {
		case errors.As(err, &fe):
			p.log.Error("fetch feed", "feed_id", feed.ID, "url", feed.URL, "error", err)
		case errors.As(err, &pe):
			p.log.Error("parse feed", "feed_id", feed.ID, "error", err)
		default:
			p.log.Error("ingest feed", "feed_id", feed.ID, "error", err)
		}
		return
	}
	stats.fetched += len(items)

	compiled, err := filter.Compile(feed.FilterRules)
	if err != nil {
		// Rules are validated at config load; reaching this means the feed
		// config changed underneath us.
		p.log.Error("compile filter rules", "feed_id", feed.ID, "error", err)
		return
	}
	filtered := compiled.Apply(items, p.now())

	watermark, err := p.store.Watermark(ctx, feed.ID)
	if err != nil {
		p.log.Error("load watermark", "feed_id", feed.ID, "error", err)
		return
	}

	triggers := p.triggersFor(feed.ID)
	byID := make(map[string]string, len(triggers))
	for _, t := range triggers {
		byID[t.Name] = t.ID
	}

	var latest time.Time
	for _, item := range filtered {
		if !item.PublishedAt.After(watermark) {
			continue
		}
		isNew, err := p.store.RecordIfNew(ctx, item)
		if err != nil {
			p.log.Error("record item", "feed_id", feed.ID, "item", item.ID, "error", err)
			continue
		}
		if !isNew {
			continue
		}
		stats.fresh++
		if item.PublishedAt.After(latest) {
			latest = item.PublishedAt
		}

		match := p.engine.Evaluate(ctx, item, triggers)
		if match == nil {
			continue
		}
		stats.matched++
		agentID := byID[match.TriggerName]
		batches[agentID] = append(batches[agentID], *match)
	}

	// Commit the watermark only after the feed's full sequence completed.
	if !latest.IsZero() && latest.After(watermark) {
		if err := p.store.SetWatermark(ctx, feed.ID, latest); err != nil {
			p.log.Error("set watermark", "feed_id", feed.ID, "error", err)
		}
	}
}

// triggersFor returns the enabled agents subscribed to a feed, in
// configuration order. First-match-wins applies within this subset.
func (p *Pipeline) triggersFor(feedID string) []model.TriggerRule {
	var out []model.TriggerRule
	for _, agent := range p.cfg.Agents {
		if agent.Enabled && agent.WatchesFeed(feedID) {
			out = append(out, agent)
		}
	}
	return out
}

func buildTask(agent model.TriggerRule, batch []model.TriggerMatch, now time.Time) model.QueueTask {
	items := make([]model.ItemSummary, 0, len(batch))
	for _, m := range batch {
		items = append(items, model.ItemSummary{
			Title:           m.Item.Title,
			Link:            m.Item.Link,
			Source:          m.Item.Source,
			MatchedKeywords: m.MatchedKeywords,
			Confidence:      m.Confidence,
		})
	}
	return model.QueueTask{
		AgentID:    agent.ID,
		AgentName:  agent.Name,
		Items:      items,
		EnqueuedAt: now,
		Config:     agent.Config,
	}
}

// recordHealth logs the pass outcome to the store. Best-effort.
func (p *Pipeline) recordHealth(ctx context.Context, status, msg string) {
	if err := p.store.LogHealthCheck(ctx, "pipeline_pass", status, msg); err != nil {
		p.log.Error("log health check", "error", err)
	}
}
