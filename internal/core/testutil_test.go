package core

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

type userRef struct {
	userID string
	action string
	ts     time.Time
}

// testStore is an in-package Store fake. Error fields let tests fail
// individual operations.
type testStore struct {
	mu     sync.Mutex
	events map[string]*AuditEvent
	scoped map[string]*AuditEvent
	alerts map[string]*SecurityAlert
	dead   []*DeadLetter
	users  []userRef

	putEventErr  error
	putAlertErr  error
	countErr     error
	fixedCount   int
	useFixed     bool
	scopedWrites int
}

func newTestStore() *testStore {
	return &testStore{
		events: make(map[string]*AuditEvent),
		scoped: make(map[string]*AuditEvent),
		alerts: make(map[string]*SecurityAlert),
	}
}

func (s *testStore) putLocked(event *AuditEvent) {
	if _, ok := s.events[event.ID]; !ok && event.UserID != "" {
		s.users = append(s.users, userRef{userID: event.UserID, action: event.Action, ts: event.Timestamp})
	}
	s.events[event.ID] = event.Clone()
}

func (s *testStore) PutEvent(_ context.Context, event *AuditEvent) error {
	if s.putEventErr != nil {
		return s.putEventErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(event)
	return nil
}

func (s *testStore) PutEventScoped(_ context.Context, event *AuditEvent) error {
	if s.putEventErr != nil {
		return s.putEventErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(event)
	s.scopedWrites++
	if event.TenantID != "" {
		s.scoped["tenant/"+event.TenantID+"/"+event.ID] = event.Clone()
	}
	if event.FactoryID != "" {
		s.scoped["factory/"+event.FactoryID+"/"+event.ID] = event.Clone()
	}
	return nil
}

func (s *testStore) GetEvent(_ context.Context, id string) (*AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (s *testStore) CountEventsByUser(_ context.Context, userID, actionPrefix string, since time.Time) (int, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	if s.useFixed {
		return s.fixedCount, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, ref := range s.users {
		if ref.userID != userID || ref.ts.Before(since) {
			continue
		}
		if actionPrefix != "" && !strings.HasPrefix(ref.action, actionPrefix) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *testStore) PutAlert(_ context.Context, alert *SecurityAlert) error {
	if s.putAlertErr != nil {
		return s.putAlertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *alert
	s.alerts[alert.ID] = &cp
	return nil
}

func (s *testStore) GetAlert(_ context.Context, id string) (*SecurityAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *testStore) PutDeadLetter(_ context.Context, entry *DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead = append(s.dead, entry)
	return nil
}

func (s *testStore) Close() error { return nil }

func (s *testStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *testStore) processedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Status == StatusProcessed {
			n++
		}
	}
	return n
}

// newTestService wires a Service over the given store with fast pipeline
// settings and no bus.
func newTestService(t interface{ Fatalf(string, ...interface{}) }, ts *testStore, directory ActorDirectory) *Service {
	cfg := DefaultConfig()
	cfg.Pipeline.InitialBackoff = time.Millisecond
	cfg.Pipeline.MaxBackoff = 2 * time.Millisecond
	svc, err := NewService(cfg, ts, directory, ContextClientProvider{}, nil, testLogger())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}
