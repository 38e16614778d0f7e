package core

import (
	"sync"
	"time"
)

// queueEntry wraps a queued event with its retry state. notBefore defers
// entries that are backing off after a failure.
type queueEntry struct {
	event     *AuditEvent
	attempts  int
	notBefore time.Time
}

// ingestQueue is the unbounded in-memory ingestion buffer. The processor
// drains it with a copy-and-clear swap so enqueues never block behind a
// batch in flight.
type ingestQueue struct {
	mu      sync.Mutex
	entries []*queueEntry
}

func newIngestQueue() *ingestQueue {
	return &ingestQueue{entries: make([]*queueEntry, 0, 64)}
}

func (q *ingestQueue) push(entry *queueEntry) {
	q.mu.Lock()
	q.entries = append(q.entries, entry)
	q.mu.Unlock()
}

// drain atomically removes and returns all entries due at now, in enqueue
// order. Entries still backing off stay queued.
func (q *ingestQueue) drain(now time.Time) []*queueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil
	}

	due := make([]*queueEntry, 0, len(q.entries))
	deferred := q.entries[:0]
	for _, e := range q.entries {
		if e.notBefore.After(now) {
			deferred = append(deferred, e)
			continue
		}
		due = append(due, e)
	}
	q.entries = deferred
	return due
}

func (q *ingestQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// DeadLetter preserves an event that exhausted its retry budget, for
// inspection and replay.
type DeadLetter struct {
	Event     *AuditEvent `json:"event"`
	Attempts  int         `json:"attempts"`
	LastError string      `json:"last_error"`
	FailedAt  time.Time   `json:"failed_at"`
}

// deadLetterBuffer is a capped in-memory list of dead letters; the store
// keeps the durable copy.
type deadLetterBuffer struct {
	mu      sync.Mutex
	entries []*DeadLetter
	max     int
}

func newDeadLetterBuffer(max int) *deadLetterBuffer {
	if max <= 0 {
		max = 1000
	}
	return &deadLetterBuffer{entries: make([]*DeadLetter, 0), max: max}
}

func (b *deadLetterBuffer) add(entry *DeadLetter) {
	b.mu.Lock()
	b.entries = append(b.entries, entry)
	if len(b.entries) > b.max {
		b.entries = b.entries[len(b.entries)-b.max:]
	}
	b.mu.Unlock()
}

func (b *deadLetterBuffer) list() []*DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*DeadLetter, len(b.entries))
	copy(out, b.entries)
	return out
}
