package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/sentra-project/sentra/internal/core"
)

func newTestBadger(t *testing.T) *Badger {
	t.Helper()
	b, err := NewBadger(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBadger_EventRoundtrip(t *testing.T) {
	b := newTestBadger(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	e := memEvent("e-1", "document.view", "u-1", now)
	e.Metadata = map[string]interface{}{"confidentiality": "internal"}
	e.Hash = "deadbeef"
	if err := b.PutEvent(ctx, e); err != nil {
		t.Fatalf("PutEvent: %v", err)
	}

	got, err := b.GetEvent(ctx, "e-1")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if got.Action != "document.view" || got.Hash != "deadbeef" {
		t.Errorf("got %+v", got)
	}
	if got.Metadata["confidentiality"] != "internal" {
		t.Errorf("metadata = %v", got.Metadata)
	}
	if !got.Timestamp.Equal(now) {
		t.Errorf("timestamp = %s, want %s", got.Timestamp, now)
	}

	if _, err := b.GetEvent(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestBadger_ScopedCopiesReadable(t *testing.T) {
	b := newTestBadger(t)
	ctx := context.Background()

	e := memEvent("e-1", "document.view", "u-1", time.Now().UTC())
	e.TenantID = "t-1"
	e.FactoryID = "f-1"
	if err := b.PutEventScoped(ctx, e); err != nil {
		t.Fatalf("PutEventScoped: %v", err)
	}

	// The primary copy is served through GetEvent; the scoped copies live
	// under their own key prefixes.
	if _, err := b.GetEvent(ctx, "e-1"); err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	for _, key := range []string{
		tenantKeyPrefix + "t-1:" + eventKeyPrefix + "e-1",
		factoryKeyPrefix + "f-1:" + eventKeyPrefix + "e-1",
	} {
		if err := b.db.View(func(txn *badger.Txn) error {
			_, err := txn.Get([]byte(key))
			return err
		}); err != nil {
			t.Errorf("missing scoped copy %s: %v", key, err)
		}
	}
}

func TestBadger_CountEventsByUser(t *testing.T) {
	b := newTestBadger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	puts := []struct {
		id     string
		action string
		user   string
		age    time.Duration
	}{
		{"e-1", "auth.failed-login", "u-1", time.Minute},
		{"e-2", "auth.failed-login", "u-1", 2 * time.Minute},
		{"e-3", "document.view", "u-1", 3 * time.Minute},
		{"e-4", "auth.failed-login", "u-1", 2 * time.Hour},
		{"e-5", "auth.failed-login", "u-2", time.Minute},
	}
	for _, p := range puts {
		if err := b.PutEvent(ctx, memEvent(p.id, p.action, p.user, now.Add(-p.age))); err != nil {
			t.Fatalf("PutEvent %s: %v", p.id, err)
		}
	}

	since := now.Add(-15 * time.Minute)

	count, err := b.CountEventsByUser(ctx, "u-1", "auth.failed-login", since)
	if err != nil {
		t.Fatalf("CountEventsByUser: %v", err)
	}
	if count != 2 {
		t.Errorf("prefix count = %d, want 2", count)
	}

	count, err = b.CountEventsByUser(ctx, "u-1", "", since)
	if err != nil {
		t.Fatalf("CountEventsByUser: %v", err)
	}
	if count != 3 {
		t.Errorf("all-actions count = %d, want 3", count)
	}
}

func TestBadger_AlertRoundtrip(t *testing.T) {
	b := newTestBadger(t)
	ctx := context.Background()

	ack := time.Now().UTC().Truncate(time.Millisecond)
	alert := &core.SecurityAlert{
		ID:             "a-1",
		Timestamp:      ack,
		Severity:       core.SeverityCritical,
		Type:           "data-violation",
		Status:         core.AlertAcknowledged,
		Acknowledged:   true,
		AcknowledgedBy: "ops",
		AcknowledgedAt: &ack,
	}
	if err := b.PutAlert(ctx, alert); err != nil {
		t.Fatalf("PutAlert: %v", err)
	}

	got, err := b.GetAlert(ctx, "a-1")
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if got.Severity != core.SeverityCritical || got.AcknowledgedBy != "ops" {
		t.Errorf("got %+v", got)
	}
	if got.AcknowledgedAt == nil || !got.AcknowledgedAt.Equal(ack) {
		t.Errorf("acknowledgedAt = %v", got.AcknowledgedAt)
	}

	if _, err := b.GetAlert(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestBadger_DeadLetter(t *testing.T) {
	b := newTestBadger(t)
	ctx := context.Background()

	entry := &core.DeadLetter{
		Event:     memEvent("e-1", "a.b", "u-1", time.Now().UTC()),
		Attempts:  3,
		LastError: "store down",
		FailedAt:  time.Now().UTC(),
	}
	if err := b.PutDeadLetter(ctx, entry); err != nil {
		t.Fatalf("PutDeadLetter: %v", err)
	}
}

func TestBadger_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := NewBadger(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	if err := b.PutEvent(ctx, memEvent("e-1", "a.b", "u-1", time.Now().UTC())); err != nil {
		t.Fatalf("PutEvent: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewBadger(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetEvent(ctx, "e-1"); err != nil {
		t.Errorf("event lost across restart: %v", err)
	}
}
