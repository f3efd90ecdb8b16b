package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"feedwatch/internal/model"
	"feedwatch/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Store backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// RecordIfNew inserts the item unless the (source, title, url) triple is
// already present. The unique index makes check-then-insert atomic, so
// concurrent callers cannot both claim the same triple.
func (s *SQLite) RecordIfNew(ctx context.Context, item model.FeedItem) (bool, error) {
	raw, err := json.Marshal(item.RawMetadata)
	if err != nil {
		return false, fmt.Errorf("marshal raw metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_items
		 (item_id, source, title, url, description, tags, published_at, raw_metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Source, item.Title, item.Link, item.Description,
		strings.Join(item.Tags, ","),
		item.PublishedAt.UTC().Format(timeLayout),
		string(raw),
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("insert item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// RecentItems returns persisted items ordered by publish time, newest
// first, optionally restricted to one source.
func (s *SQLite) RecentItems(ctx context.Context, limit int, source string) ([]model.FeedItem, error) {
	query := `SELECT item_id, source, title, url, description, tags, published_at, raw_metadata
	          FROM seen_items`
	args := []any{}
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY published_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.FeedItem
	for rows.Next() {
		var it model.FeedItem
		var tags, published, raw string
		if err := rows.Scan(&it.ID, &it.Source, &it.Title, &it.Link, &it.Description,
			&tags, &published, &raw); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if tags != "" {
			it.Tags = strings.Split(tags, ",")
		}
		it.PublishedAt, _ = time.Parse(timeLayout, published)
		if raw != "" {
			_ = json.Unmarshal([]byte(raw), &it.RawMetadata)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Watermark returns the last-read timestamp for a feed, or the zero time
// if the feed has never been read.
func (s *SQLite) Watermark(ctx context.Context, feedID string) (time.Time, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_read_at FROM feed_state WHERE feed_id = ?`, feedID,
	).Scan(&v)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query watermark: %w", err)
	}
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse watermark: %w", err)
	}
	return t, nil
}

// SetWatermark advances a feed's watermark, flushing immediately.
// Regressions are ignored: the watermark is monotonically non-decreasing.
func (s *SQLite) SetWatermark(ctx context.Context, feedID string, t time.Time) error {
	v := t.UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feed_state (feed_id, last_read_at) VALUES (?, ?)
		 ON CONFLICT(feed_id) DO UPDATE SET last_read_at = excluded.last_read_at
		 WHERE excluded.last_read_at > feed_state.last_read_at`,
		feedID, v,
	)
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}

// FeedStates returns the watermark of every feed that has been read.
func (s *SQLite) FeedStates(ctx context.Context) ([]model.FeedState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT feed_id, last_read_at FROM feed_state ORDER BY feed_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query feed states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var states []model.FeedState
	for rows.Next() {
		var st model.FeedState
		var v string
		if err := rows.Scan(&st.FeedID, &v); err != nil {
			return nil, fmt.Errorf("scan feed state: %w", err)
		}
		st.LastReadAt, _ = time.Parse(timeLayout, v)
		states = append(states, st)
	}
	return states, rows.Err()
}

// InsertTriggerEvent appends an audit record for a trigger match.
func (s *SQLite) InsertTriggerEvent(ctx context.Context, ev *model.TriggerEvent) error {
	keywords, err := json.Marshal(ev.MatchedKeywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	rules, err := json.Marshal(ev.MatchedRules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO trigger_events (trigger_name, source, matched_keywords, matched_rules, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.TriggerName, ev.Source, string(keywords), string(rules), ev.Confidence, now,
	)
	if err != nil {
		return fmt.Errorf("insert trigger event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	ev.ID = id
	ev.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// RecentTriggerEvents returns audit records newest first, optionally
// restricted to one trigger name.
func (s *SQLite) RecentTriggerEvents(ctx context.Context, limit int, triggerName string) ([]model.TriggerEvent, error) {
	query := `SELECT id, trigger_name, source, matched_keywords, matched_rules, confidence, created_at
	          FROM trigger_events`
	args := []any{}
	if triggerName != "" {
		query += ` WHERE trigger_name = ?`
		args = append(args, triggerName)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trigger events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.TriggerEvent
	for rows.Next() {
		var ev model.TriggerEvent
		var keywords, rules, created string
		if err := rows.Scan(&ev.ID, &ev.TriggerName, &ev.Source, &keywords, &rules, &ev.Confidence, &created); err != nil {
			return nil, fmt.Errorf("scan trigger event: %w", err)
		}
		_ = json.Unmarshal([]byte(keywords), &ev.MatchedKeywords)
		_ = json.Unmarshal([]byte(rules), &ev.MatchedRules)
		ev.CreatedAt, _ = time.Parse(timeLayout, created)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// LogHealthCheck records the outcome of a pass or subsystem check.
func (s *SQLite) LogHealthCheck(ctx context.Context, checkType, status, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_health (check_type, status, message, created_at) VALUES (?, ?, ?, ?)`,
		checkType, status, message, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("log health check: %w", err)
	}
	return nil
}

// RecentHealthChecks returns health records newest first.
func (s *SQLite) RecentHealthChecks(ctx context.Context, limit int) ([]model.HealthCheck, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, check_type, status, message, created_at FROM system_health
		 ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query health checks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var checks []model.HealthCheck
	for rows.Next() {
		var hc model.HealthCheck
		var created string
		if err := rows.Scan(&hc.ID, &hc.CheckType, &hc.Status, &hc.Message, &created); err != nil {
			return nil, fmt.Errorf("scan health check: %w", err)
		}
		hc.CreatedAt, _ = time.Parse(timeLayout, created)
		checks = append(checks, hc)
	}
	return checks, rows.Err()
}

// Stats returns row counts for each persisted table.
func (s *SQLite) Stats(ctx context.Context) (map[string]int, error) {
	stats := make(map[string]int)
	for _, table := range []string{"seen_items", "feed_state", "trigger_events", "system_health"} {
		var n int
		// Table names come from the fixed list above, not user input.
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		stats[table] = n
	}
	return stats, nil
}
