package queue

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"feedwatch/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestQueue(t *testing.T) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trigger_queue.json")
	q, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("load queue: %v", err)
	}
	return q, path
}

func task(agentID string) model.QueueTask {
	return model.QueueTask{
		AgentID:    agentID,
		AgentName:  "agent " + agentID,
		Items:      []model.ItemSummary{{Title: "item for " + agentID, Source: "bargains"}},
		EnqueuedAt: time.Date(2025, 1, 12, 8, 0, 0, 0, time.UTC),
	}
}

func TestFIFOOrder(t *testing.T) {
	q, _ := newTestQueue(t)

	q.Enqueue(task("a"))
	q.Enqueue(task("b"))

	first, ok := q.Dequeue()
	if !ok || first.AgentID != "a" {
		t.Fatalf("first dequeue = %v %v, want task a", first.AgentID, ok)
	}
	second, ok := q.Dequeue()
	if !ok || second.AgentID != "b" {
		t.Fatalf("second dequeue = %v %v, want task b", second.AgentID, ok)
	}

	if count, _ := q.Status(); count != 0 {
		t.Fatalf("queue should be empty, count = %d", count)
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("dequeue on empty queue should report not ok")
	}
}

func TestPersistenceAcrossRestart(t *testing.T) {
	q, path := newTestQueue(t)
	q.Enqueue(task("a"))
	q.Enqueue(task("b"))

	reloaded, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("reload queue: %v", err)
	}
	count, snapshot := reloaded.Status()
	if count != 2 {
		t.Fatalf("expected 2 tasks after reload, got %d", count)
	}
	if diff := cmp.Diff([]model.QueueTask{task("a"), task("b")}, snapshot); diff != "" {
		t.Errorf("reloaded tasks mismatch (-want +got):\n%s", diff)
	}
}

func TestDequeuePersistsRemoval(t *testing.T) {
	q, path := newTestQueue(t)
	q.Enqueue(task("a"))
	q.Enqueue(task("b"))

	if _, ok := q.Dequeue(); !ok {
		t.Fatal("dequeue failed")
	}

	reloaded, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("reload queue: %v", err)
	}
	count, snapshot := reloaded.Status()
	if count != 1 || snapshot[0].AgentID != "b" {
		t.Fatalf("expected only task b persisted, got %d tasks", count)
	}
}

func TestClear(t *testing.T) {
	q, path := newTestQueue(t)
	q.Enqueue(task("a"))
	q.Clear()

	if count, _ := q.Status(); count != 0 {
		t.Fatalf("expected empty queue, count = %d", count)
	}

	data, err := os.ReadFile(path) //nolint:gosec // test-owned temp file
	if err != nil {
		t.Fatalf("read queue file: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("cleared queue file = %q, want empty list", string(data))
	}
}

func TestStatusSnapshotIsCopy(t *testing.T) {
	q, _ := newTestQueue(t)
	q.Enqueue(task("a"))

	_, snapshot := q.Status()
	snapshot[0].AgentID = "mutated"

	got, ok := q.Dequeue()
	if !ok || got.AgentID != "a" {
		t.Fatalf("snapshot mutation leaked into queue: %v", got.AgentID)
	}
}

func TestEnqueueStampsTime(t *testing.T) {
	q, _ := newTestQueue(t)
	q.Enqueue(model.QueueTask{AgentID: "a"})

	got, ok := q.Dequeue()
	if !ok || got.EnqueuedAt.IsZero() {
		t.Fatal("enqueue should stamp EnqueuedAt when unset")
	}
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does", "not", "exist.json")
	q, err := Load(path, testLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if count, _ := q.Status(); count != 0 {
		t.Fatalf("expected empty queue, count = %d", count)
	}
}
