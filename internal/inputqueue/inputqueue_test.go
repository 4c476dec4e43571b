package inputqueue

import (
	"strings"
	"testing"

	"github.com/haasonsaas/nexus/pkg/models"
)

func textMessage(s string) models.Message {
	return models.Message{Content: []models.ContentBlock{models.NewTextBlock(s)}}
}

// TestEnqueueBeyondCapacityReturnsFullWithoutTruncating covers spec §8
// invariant 9: enqueuing beyond a 100-capacity queue returns Full, and the
// queue's existing contents are never truncated to make room.
func TestEnqueueBeyondCapacityReturnsFullWithoutTruncating(t *testing.T) {
	q := New(DefaultCapacity, DefaultMaxMergeChars)
	for i := 0; i < DefaultCapacity; i++ {
		if err := q.Enqueue(textMessage("m")); err != nil {
			t.Fatalf("Enqueue %d: unexpected error %v", i, err)
		}
	}
	if got := q.Len(); got != DefaultCapacity {
		t.Fatalf("Len() = %d, want %d", got, DefaultCapacity)
	}

	err := q.Enqueue(textMessage("overflow"))
	if err == nil {
		t.Fatal("expected Full error once at capacity")
	}
	var full *Full
	if !asFull(err, &full) {
		t.Fatalf("expected *Full, got %T: %v", err, err)
	}
	if full.Capacity != DefaultCapacity {
		t.Fatalf("Full.Capacity = %d, want %d", full.Capacity, DefaultCapacity)
	}
	if got := q.Len(); got != DefaultCapacity {
		t.Fatalf("Len() after rejected enqueue = %d, want unchanged %d", got, DefaultCapacity)
	}
}

func asFull(err error, out **Full) bool {
	f, ok := err.(*Full)
	if ok {
		*out = f
	}
	return ok
}

func TestDrainMergedCapsCombinedChars(t *testing.T) {
	q := New(10, 20)
	_ = q.Enqueue(textMessage(strings.Repeat("a", 15)))
	_ = q.Enqueue(textMessage(strings.Repeat("b", 15)))

	merged, ok := q.DrainMerged()
	if !ok {
		t.Fatal("expected a merged message")
	}
	text := merged.Content[0].Text.Text
	if len(text) != 20 {
		t.Fatalf("merged text length = %d, want capped at 20", len(text))
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be drained, Len() = %d", q.Len())
	}
}

func TestDequeueFIFO(t *testing.T) {
	q := New(5, 1000)
	_ = q.Enqueue(textMessage("first"))
	_ = q.Enqueue(textMessage("second"))

	m, ok := q.Dequeue()
	if !ok || m.Content[0].Text.Text != "first" {
		t.Fatalf("expected first message dequeued first, got %+v ok=%v", m, ok)
	}
	m, ok = q.Dequeue()
	if !ok || m.Content[0].Text.Text != "second" {
		t.Fatalf("expected second message dequeued second, got %+v ok=%v", m, ok)
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("expected empty queue to report ok=false")
	}
}
