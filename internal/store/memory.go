package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sentra-project/sentra/internal/core"
)

type userEventRef struct {
	timestamp time.Time
	action    string
}

// Memory is an in-memory core.Store for tests and zero-config runs. All
// writes copy their input so later mutation of the caller's object does not
// leak into the stored document.
type Memory struct {
	mu          sync.RWMutex
	events      map[string]*core.AuditEvent
	scoped      map[string]*core.AuditEvent
	alerts      map[string]*core.SecurityAlert
	deadLetters []*core.DeadLetter
	byUser      map[string][]userEventRef
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		events: make(map[string]*core.AuditEvent),
		scoped: make(map[string]*core.AuditEvent),
		alerts: make(map[string]*core.SecurityAlert),
		byUser: make(map[string][]userEventRef),
	}
}

func (m *Memory) putEventLocked(event *core.AuditEvent) {
	_, existed := m.events[event.ID]
	m.events[event.ID] = event.Clone()
	if !existed && event.UserID != "" {
		m.byUser[event.UserID] = append(m.byUser[event.UserID], userEventRef{
			timestamp: event.Timestamp,
			action:    event.Action,
		})
	}
}

func (m *Memory) PutEvent(_ context.Context, event *core.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putEventLocked(event)
	return nil
}

func (m *Memory) PutEventScoped(_ context.Context, event *core.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Single lock scope: primary and scoped copies commit together.
	m.putEventLocked(event)
	if event.TenantID != "" {
		m.scoped["tenant/"+event.TenantID+"/"+event.ID] = event.Clone()
	}
	if event.FactoryID != "" {
		m.scoped["factory/"+event.FactoryID+"/"+event.ID] = event.Clone()
	}
	return nil
}

func (m *Memory) GetEvent(_ context.Context, id string) (*core.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	event, ok := m.events[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return event.Clone(), nil
}

func (m *Memory) CountEventsByUser(_ context.Context, userID, actionPrefix string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, ref := range m.byUser[userID] {
		if ref.timestamp.Before(since) {
			continue
		}
		if actionPrefix != "" && !strings.HasPrefix(ref.action, actionPrefix) {
			continue
		}
		count++
	}
	return count, nil
}

func (m *Memory) PutAlert(_ context.Context, alert *core.SecurityAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *alert
	m.alerts[alert.ID] = &cp
	return nil
}

func (m *Memory) GetAlert(_ context.Context, id string) (*core.SecurityAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alert, ok := m.alerts[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *alert
	return &cp, nil
}

func (m *Memory) PutDeadLetter(_ context.Context, entry *core.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	if entry.Event != nil {
		cp.Event = entry.Event.Clone()
	}
	m.deadLetters = append(m.deadLetters, &cp)
	return nil
}

// DeadLetters returns the stored dead letters (test helper).
func (m *Memory) DeadLetters() []*core.DeadLetter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*core.DeadLetter, len(m.deadLetters))
	copy(out, m.deadLetters)
	return out
}

// EventCount returns the number of primary event documents (test helper).
func (m *Memory) EventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// ScopedCount returns the number of scoped event copies (test helper).
func (m *Memory) ScopedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.scoped)
}

func (m *Memory) Close() error { return nil }
