package core

import (
	"fmt"
	"testing"
	"time"
)

func TestIngestQueue_DrainPreservesOrder(t *testing.T) {
	q := newIngestQueue()
	now := time.Now()
	for i := 0; i < 5; i++ {
		q.push(&queueEntry{event: &AuditEvent{ID: fmt.Sprintf("e-%d", i)}})
	}

	due := q.drain(now)
	if len(due) != 5 {
		t.Fatalf("drained %d, want 5", len(due))
	}
	for i, e := range due {
		if e.event.ID != fmt.Sprintf("e-%d", i) {
			t.Fatalf("order broken at %d: %s", i, e.event.ID)
		}
	}
	if q.size() != 0 {
		t.Errorf("size after drain = %d", q.size())
	}
	if got := q.drain(now); got != nil {
		t.Errorf("second drain returned %d entries", len(got))
	}
}

func TestIngestQueue_BackoffDefersEntries(t *testing.T) {
	q := newIngestQueue()
	now := time.Now()

	q.push(&queueEntry{event: &AuditEvent{ID: "due"}})
	q.push(&queueEntry{event: &AuditEvent{ID: "later"}, notBefore: now.Add(time.Minute)})

	due := q.drain(now)
	if len(due) != 1 || due[0].event.ID != "due" {
		t.Fatalf("due = %+v", due)
	}
	if q.size() != 1 {
		t.Fatalf("deferred entry lost, size = %d", q.size())
	}

	due = q.drain(now.Add(2 * time.Minute))
	if len(due) != 1 || due[0].event.ID != "later" {
		t.Errorf("deferred entry not released: %+v", due)
	}
}

func TestDeadLetterBuffer_Capped(t *testing.T) {
	b := newDeadLetterBuffer(2)
	for i := 0; i < 4; i++ {
		b.add(&DeadLetter{Event: &AuditEvent{ID: fmt.Sprintf("e-%d", i)}, Attempts: i})
	}

	list := b.list()
	if len(list) != 2 {
		t.Fatalf("list = %d entries, want 2", len(list))
	}
	if list[0].Event.ID != "e-2" || list[1].Event.ID != "e-3" {
		t.Errorf("cap kept wrong entries: %s, %s", list[0].Event.ID, list[1].Event.ID)
	}
}

func TestProcessedGuard(t *testing.T) {
	g, err := NewProcessedGuard(2)
	if err != nil {
		t.Fatalf("NewProcessedGuard: %v", err)
	}

	if g.Seen("e-1") {
		t.Error("unseen id reported seen")
	}
	g.Mark("e-1")
	g.Mark("e-2")
	if !g.Seen("e-1") || !g.Seen("e-2") {
		t.Error("marked ids not seen")
	}

	g.Mark("e-3") // evicts the least recently used id
	if g.Size() != 2 {
		t.Errorf("size = %d, want 2", g.Size())
	}
}
