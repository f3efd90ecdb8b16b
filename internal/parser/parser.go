// Package parser handles feed downloading and normalization into feed items.
package parser

import (
	"context"
	"crypto/sha256"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"github.com/sethvargo/go-retry"

	"feedwatch/internal/model"
)

const (
	maxBodyBytes   = 5 * 1024 * 1024
	maxDescription = 500
	userAgent      = "feedwatch/1.0"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options tunes fetch behavior.
type Options struct {
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
	// RateLimit is slept before each fetch to avoid hammering upstream
	// servers. Applied before the request, not after.
	RateLimit time.Duration
	// Retries is the number of additional attempts on transient failures.
	Retries uint64
	// RetryDelay is the constant backoff between attempts.
	RetryDelay time.Duration
}

// Fetcher downloads feeds and normalizes their entries.
type Fetcher struct {
	client HTTPClient
	opts   Options
	strip  *bluemonday.Policy
	log    *slog.Logger
	now    func() time.Time
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient, opts Options, log *slog.Logger) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	return &Fetcher{
		client: client,
		opts:   opts,
		strip:  bluemonday.StrictPolicy(),
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock used for timestamp fallbacks (for tests).
func (f *Fetcher) SetNow(now func() time.Time) { f.now = now }

// Fetch downloads and parses one feed, returning normalized items.
// It sleeps the configured rate-limit delay first, retries transient HTTP
// failures, and returns a *FetchError or *ParseError on final failure.
// Entries that fail to normalize individually are logged and skipped.
func (f *Fetcher) Fetch(ctx context.Context, source, url string, maxItems int) ([]model.FeedItem, error) {
	if f.opts.RateLimit > 0 {
		select {
		case <-time.After(f.opts.RateLimit):
		case <-ctx.Done():
			return nil, &FetchError{Source: source, URL: url, Err: ctx.Err()}
		}
	}

	var body []byte
	backoff := retry.WithMaxRetries(f.opts.Retries, retry.NewConstant(f.opts.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		b, err := f.get(ctx, url)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, &FetchError{Source: source, URL: url, Err: err}
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, &ParseError{Source: source, Err: err}
	}

	items := make([]model.FeedItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if maxItems > 0 && len(items) >= maxItems {
			break
		}
		item, err := f.normalize(entry, source)
		if err != nil {
			f.log.Warn("skipping entry", "source", source, "error", err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, retry.RetryableError(fmt.Errorf("http get: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return nil, retry.RetryableError(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, retry.RetryableError(fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

func (f *Fetcher) normalize(entry *gofeed.Item, source string) (model.FeedItem, error) {
	if entry == nil {
		return model.FeedItem{}, fmt.Errorf("nil entry")
	}
	if entry.Title == "" && entry.Link == "" {
		return model.FeedItem{}, fmt.Errorf("entry has neither title nor link")
	}

	desc := entry.Description
	if desc == "" {
		desc = entry.Content
	}

	now := f.now()
	published := now
	if entry.PublishedParsed != nil {
		published = entry.PublishedParsed.UTC()
	} else if entry.UpdatedParsed != nil {
		published = entry.UpdatedParsed.UTC()
	}
	updated := published
	if entry.UpdatedParsed != nil {
		updated = entry.UpdatedParsed.UTC()
	}

	return model.FeedItem{
		ID:          ItemID(entry),
		Title:       strings.TrimSpace(entry.Title),
		Description: f.CleanText(desc),
		Link:        strings.TrimSpace(entry.Link),
		PublishedAt: published,
		UpdatedAt:   updated,
		Tags:        extractTags(entry),
		Source:      source,
		RawMetadata: rawMetadata(entry),
	}, nil
}

// ItemID returns the stable identifier for a feed entry: the native GUID
// when present, otherwise a SHA-256 hash of title+link. Deterministic
// across repeated parses of the same entry.
func ItemID(entry *gofeed.Item) string {
	if entry.GUID != "" {
		return entry.GUID
	}
	h := sha256.Sum256([]byte(entry.Title + "|" + entry.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}

// CleanText strips HTML tags, decodes entities, collapses whitespace, and
// truncates to the description cap with an ellipsis marker.
func (f *Fetcher) CleanText(s string) string {
	s = f.strip.Sanitize(s)
	s = html.UnescapeString(s)
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) > maxDescription {
		s = string(runes[:maxDescription]) + "..."
	}
	return s
}

// extractTags collects entry categories plus coarse media tags derived from
// enclosure MIME types.
func extractTags(entry *gofeed.Item) []string {
	seen := make(map[string]bool)
	var tags []string
	add := func(tag string) {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	for _, c := range entry.Categories {
		add(c)
	}
	for _, enc := range entry.Enclosures {
		if enc == nil {
			continue
		}
		switch {
		case strings.HasPrefix(enc.Type, "audio/"):
			add("audio")
		case strings.HasPrefix(enc.Type, "video/"):
			add("video")
		}
	}
	return tags
}

func rawMetadata(entry *gofeed.Item) map[string]string {
	meta := map[string]string{
		"guid": entry.GUID,
	}
	if entry.Author != nil {
		meta["author"] = entry.Author.Name
	}
	if len(entry.Categories) > 0 {
		meta["categories"] = strings.Join(entry.Categories, ",")
	}
	if len(entry.Enclosures) > 0 && entry.Enclosures[0] != nil {
		meta["enclosure_url"] = entry.Enclosures[0].URL
		meta["enclosure_type"] = entry.Enclosures[0].Type
	}
	if entry.Published != "" {
		meta["published"] = entry.Published
	}
	if entry.Updated != "" {
		meta["updated"] = entry.Updated
	}
	return meta
}
