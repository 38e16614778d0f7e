package core

import (
	"sync"
	"time"
)

type indexKey struct {
	Resource string
	Action   string
}

// EventSummary is the bounded search result shape served to callers.
type EventSummary struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Action      string    `json:"action"`
	Resource    string    `json:"resource,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Status      Status    `json:"status"`
	ThreatLevel string    `json:"threat_level,omitempty"`
}

// SearchQuery selects indexed events. Resource and Action narrow to a single
// index key when both are set; otherwise matching keys are scanned.
type SearchQuery struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	UserID   string `json:"user_id"`
	Limit    int    `json:"limit"`
}

// DefaultSearchLimit bounds search results when the caller does not.
const DefaultSearchLimit = 100

// Indexer maintains the (resource, action) → ordered event list mapping.
// Inserts are deduplicated by event id so a retried event never produces a
// duplicate entry or a double statistics increment.
type Indexer struct {
	mu        sync.RWMutex
	entries   map[indexKey][]*AuditEvent
	seen      map[string]indexKey
	maxPerKey int
}

// NewIndexer creates an indexer; each key keeps at most maxPerKey events,
// dropping the oldest beyond that.
func NewIndexer(maxPerKey int) *Indexer {
	if maxPerKey <= 0 {
		maxPerKey = 10000
	}
	return &Indexer{
		entries:   make(map[indexKey][]*AuditEvent),
		seen:      make(map[string]indexKey),
		maxPerKey: maxPerKey,
	}
}

// Insert adds the event under its (resource, action) key, preserving insert
// order. Returns false if the event id is already indexed.
func (ix *Indexer) Insert(event *AuditEvent) bool {
	key := indexKey{Resource: event.Resource, Action: event.Action}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, dup := ix.seen[event.ID]; dup {
		return false
	}

	list := append(ix.entries[key], event)
	if len(list) > ix.maxPerKey {
		delete(ix.seen, list[0].ID)
		list = list[1:]
	}
	ix.entries[key] = list
	ix.seen[event.ID] = key
	return true
}

// Search returns summaries of indexed events matching the query, newest last
// within a key, bounded by the query limit.
func (ix *Indexer) Search(q SearchQuery) []EventSummary {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	results := make([]EventSummary, 0, limit)

	appendMatches := func(list []*AuditEvent) {
		for _, e := range list {
			if len(results) >= limit {
				return
			}
			if q.UserID != "" && e.UserID != q.UserID {
				continue
			}
			results = append(results, summarize(e))
		}
	}

	if q.Resource != "" && q.Action != "" {
		appendMatches(ix.entries[indexKey{Resource: q.Resource, Action: q.Action}])
		return results
	}

	for key, list := range ix.entries {
		if q.Resource != "" && key.Resource != q.Resource {
			continue
		}
		if q.Action != "" && key.Action != q.Action {
			continue
		}
		appendMatches(list)
		if len(results) >= limit {
			break
		}
	}
	return results
}

// Size returns the total number of indexed events.
func (ix *Indexer) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.seen)
}

func summarize(e *AuditEvent) EventSummary {
	s := EventSummary{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Action:    e.Action,
		Resource:  e.Resource,
		UserID:    e.UserID,
		TenantID:  e.TenantID,
		Status:    e.Status,
	}
	if e.SecurityContext != nil {
		s.ThreatLevel = e.SecurityContext.ThreatLevel.String()
	}
	return s
}
