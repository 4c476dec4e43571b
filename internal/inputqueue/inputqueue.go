// Package inputqueue implements the bounded user-input queue of spec §5's
// back-pressure note and §8 invariant 9: a fixed-capacity FIFO sitting in
// front of Executor.Run, rejecting rather than truncating once full.
// Grounded on the teacher's internal/process.CommandQueue lane/enqueue
// idiom, narrowed from per-lane command serialization to this single
// bounded-capacity concern.
package inputqueue

import (
	"fmt"
	"sync"

	"github.com/haasonsaas/nexus/pkg/models"
)

// DefaultCapacity is the queue's fixed slot capacity (spec §8 invariant 9).
const DefaultCapacity = 100

// DefaultMaxMergeChars caps the combined character length of messages
// folded together by Merge (spec §5: "chars cap (100 000) on merges").
const DefaultMaxMergeChars = 100_000

// Full is returned by Enqueue once the queue is at capacity. The queue
// never truncates or drops an existing entry to make room.
type Full struct{ Capacity int }

func (e *Full) Error() string {
	return fmt.Sprintf("inputqueue: full at capacity %d", e.Capacity)
}

// Queue is a bounded FIFO of pending user messages, safe for concurrent
// use: a producer (e.g. a UI or channel adapter) enqueues while the
// Streaming Executor's driving loop dequeues between runs.
type Queue struct {
	mu            sync.Mutex
	capacity      int
	maxMergeChars int
	items         []models.Message
}

// New constructs a Queue. capacity<=0 and maxMergeChars<=0 fall back to
// the spec defaults.
func New(capacity, maxMergeChars int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if maxMergeChars <= 0 {
		maxMergeChars = DefaultMaxMergeChars
	}
	return &Queue{capacity: capacity, maxMergeChars: maxMergeChars}
}

// Enqueue appends m, returning a *Full error without modifying the queue
// once it is at capacity.
func (q *Queue) Enqueue(m models.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return &Full{Capacity: q.capacity}
	}
	q.items = append(q.items, m)
	return nil
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dequeue removes and returns the oldest message, if any.
func (q *Queue) Dequeue() (models.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return models.Message{}, false
	}
	m := q.items[0]
	q.items = q.items[1:]
	return m, true
}

// DrainMerged dequeues every currently-queued message and folds their text
// content into one message, truncating the combined text at maxMergeChars
// (never truncating an individual Enqueue, only this downstream merge).
// Returns false if the queue was empty.
func (q *Queue) DrainMerged() (models.Message, bool) {
	q.mu.Lock()
	items := q.items
	q.items = nil
	maxChars := q.maxMergeChars
	q.mu.Unlock()

	if len(items) == 0 {
		return models.Message{}, false
	}
	if len(items) == 1 {
		return items[0], true
	}

	var merged string
	for i, m := range items {
		if i > 0 {
			merged += "\n"
		}
		for _, b := range m.Content {
			if b.Type == models.ContentText && b.Text != nil {
				merged += b.Text.Text
			}
		}
	}
	if len(merged) > maxChars {
		merged = merged[:maxChars]
	}

	out := items[0]
	out.Content = []models.ContentBlock{models.NewTextBlock(merged)}
	return out, true
}
