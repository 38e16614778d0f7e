package core

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ProcessedGuard remembers recently processed event ids so reprocessing the
// same event (retry of a partially failed batch, duplicate enqueue of the
// same object) is idempotent: a seen id skips the pipeline entirely.
type ProcessedGuard struct {
	cache *lru.Cache[string, time.Time]
}

// NewProcessedGuard creates a guard remembering up to size ids.
func NewProcessedGuard(size int) (*ProcessedGuard, error) {
	if size <= 0 {
		size = 100000
	}
	cache, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, err
	}
	return &ProcessedGuard{cache: cache}, nil
}

// Seen reports whether the event id has completed processing.
func (g *ProcessedGuard) Seen(id string) bool {
	_, ok := g.cache.Get(id)
	return ok
}

// Mark records the event id as processed.
func (g *ProcessedGuard) Mark(id string) {
	g.cache.Add(id, time.Now().UTC())
}

// Size returns the number of remembered ids.
func (g *ProcessedGuard) Size() int {
	return g.cache.Len()
}
