// Package store defines the persistence interface and its implementations.
package store

import (
	"context"
	"time"

	"feedwatch/internal/model"
)

// Store is the interface for all persistence operations: the dedup index,
// per-feed watermarks, the trigger audit log, and health checks.
type Store interface {
	// RecordIfNew persists the item and returns true if no existing record
	// matches on the (source, title, url) triple; returns false with no
	// side effect otherwise. Check-then-insert is a single atomic unit.
	RecordIfNew(ctx context.Context, item model.FeedItem) (bool, error)
	RecentItems(ctx context.Context, limit int, source string) ([]model.FeedItem, error)

	Watermark(ctx context.Context, feedID string) (time.Time, error)
	SetWatermark(ctx context.Context, feedID string, t time.Time) error
	FeedStates(ctx context.Context) ([]model.FeedState, error)

	InsertTriggerEvent(ctx context.Context, ev *model.TriggerEvent) error
	RecentTriggerEvents(ctx context.Context, limit int, triggerName string) ([]model.TriggerEvent, error)

	LogHealthCheck(ctx context.Context, checkType, status, message string) error
	RecentHealthChecks(ctx context.Context, limit int) ([]model.HealthCheck, error)
	Stats(ctx context.Context) (map[string]int, error)

	Close() error
}
