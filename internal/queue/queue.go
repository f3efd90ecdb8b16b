// Package queue implements the durable FIFO of queued agent work.
//
// The backing file is fully rewritten on every mutation under a single
// lock, so write volume scales with queue depth. That is acceptable for
// the expected tens-to-low-hundreds of pending tasks; this is not a
// high-throughput queue.
package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"feedwatch/internal/model"
)

// Queue is a file-backed FIFO of agent tasks. A dequeued task is removed
// from the persisted snapshot only after the pop, so delivery is
// at-least-once across crashes; consumers must be idempotent.
type Queue struct {
	mu    sync.Mutex
	tasks []model.QueueTask
	path  string
	log   *slog.Logger
}

// Load opens (or creates) the queue backed by the file at path, restoring
// any tasks persisted by a previous process.
func Load(path string, log *slog.Logger) (*Queue, error) {
	q := &Queue{path: path, log: log}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from config
	if os.IsNotExist(err) {
		return q, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue file: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &q.tasks); err != nil {
			return nil, fmt.Errorf("decode queue file: %w", err)
		}
	}
	return q, nil
}

// Enqueue appends a task and persists the queue. EnqueuedAt is stamped if
// unset.
func (q *Queue) Enqueue(task model.QueueTask) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}
	q.tasks = append(q.tasks, task)
	q.persist()
}

// Dequeue pops the oldest task, persisting the shrunk queue. Returns
// false when the queue is empty.
func (q *Queue) Dequeue() (model.QueueTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return model.QueueTask{}, false
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	q.persist()
	return task, true
}

// Status returns the task count and a snapshot of the pending tasks.
func (q *Queue) Status() (int, []model.QueueTask) {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshot := make([]model.QueueTask, len(q.tasks))
	copy(snapshot, q.tasks)
	return len(q.tasks), snapshot
}

// Clear discards all pending tasks.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tasks = nil
	q.persist()
}

// persist rewrites the backing file. Callers hold q.mu. A write failure is
// logged; the in-memory state stays authoritative until the next
// successful write or restart.
func (q *Queue) persist() {
	data, err := json.MarshalIndent(q.tasks, "", "  ")
	if err != nil {
		q.log.Error("encode queue", "error", err)
		return
	}
	if q.tasks == nil {
		data = []byte("[]")
	}
	if dir := filepath.Dir(q.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			q.log.Error("create queue directory", "path", dir, "error", err)
			return
		}
	}
	if err := os.WriteFile(q.path, data, 0o640); err != nil {
		q.log.Error("persist queue", "path", q.path, "error", err)
	}
}
