package core

import (
	"sync"
	"time"
)

// LineageEdge is one recorded source→target data-flow step.
type LineageEdge struct {
	EventID   string    `json:"event_id"`
	Resource  string    `json:"resource,omitempty"`
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Timestamp time.Time `json:"timestamp"`
}

// LineageTracker records optional data-flow edges attached to events via the
// metadata "dataLineage" descriptor: {"source": "...", "target": "..."}.
type LineageTracker struct {
	mu    sync.RWMutex
	edges []LineageEdge
	max   int
}

// NewLineageTracker creates a tracker keeping at most max edges (oldest
// dropped beyond that; <=0 means 10000).
func NewLineageTracker(max int) *LineageTracker {
	if max <= 0 {
		max = 10000
	}
	return &LineageTracker{edges: make([]LineageEdge, 0), max: max}
}

// Record extracts the lineage descriptor from the event, if any, and stores
// the edge. Returns true when an edge was recorded.
func (t *LineageTracker) Record(event *AuditEvent) bool {
	if event.Metadata == nil {
		return false
	}
	desc, ok := event.Metadata["dataLineage"].(map[string]interface{})
	if !ok {
		return false
	}
	source, _ := desc["source"].(string)
	target, _ := desc["target"].(string)
	if source == "" || target == "" {
		return false
	}

	edge := LineageEdge{
		EventID:   event.ID,
		Resource:  event.Resource,
		Source:    source,
		Target:    target,
		Timestamp: event.Timestamp,
	}

	t.mu.Lock()
	t.edges = append(t.edges, edge)
	if len(t.edges) > t.max {
		t.edges = t.edges[len(t.edges)-t.max:]
	}
	t.mu.Unlock()
	return true
}

// Edges returns recorded edges, optionally filtered by resource, bounded by
// limit.
func (t *LineageTracker) Edges(resource string, limit int) []LineageEdge {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]LineageEdge, 0, limit)
	for _, e := range t.edges {
		if resource != "" && e.Resource != resource {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out
}
