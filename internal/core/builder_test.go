package core

import (
	"context"
	"errors"
	"testing"
)

type failingDirectory struct{}

func (failingDirectory) Role(context.Context, string) (string, error) {
	return "", errors.New("directory unavailable")
}

type failingClients struct{}

func (failingClients) ClientContext(context.Context) (ClientInfo, SessionInfo, error) {
	return ClientInfo{}, SessionInfo{}, errors.New("no client context")
}

func TestBuild_Basics(t *testing.T) {
	dir := NewStaticDirectory(map[string]string{"u-1": "factory_admin"})
	b := NewEventBuilder(dir, ContextClientProvider{}, testLogger())

	event, err := b.Build(context.Background(), EventInput{
		Action:   "case.close",
		Resource: "case:9",
		UserID:   "u-1",
	}, LogOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if event.ID == "" {
		t.Error("missing id")
	}
	if event.UserRole != "factory_admin" {
		t.Errorf("role = %q", event.UserRole)
	}
	if event.Priority != PriorityNormal {
		t.Errorf("priority = %q", event.Priority)
	}
	if event.Status != StatusPending {
		t.Errorf("status = %q", event.Status)
	}
	if event.Hash == "" {
		t.Error("missing hash")
	}
	ok, err := event.Verify()
	if err != nil || !ok {
		t.Errorf("built event does not verify: ok=%v err=%v", ok, err)
	}
}

func TestBuild_RequiresAction(t *testing.T) {
	b := NewEventBuilder(nil, nil, testLogger())
	if _, err := b.Build(context.Background(), EventInput{Resource: "x"}, LogOptions{}); err == nil {
		t.Error("expected error for missing action")
	}
}

func TestBuild_RoleLookupFailureDefaultsToUnknown(t *testing.T) {
	b := NewEventBuilder(failingDirectory{}, nil, testLogger())
	event, err := b.Build(context.Background(), EventInput{Action: "a.b", UserID: "u-9"}, LogOptions{})
	if err != nil {
		t.Fatalf("Build must not fail on directory errors: %v", err)
	}
	if event.UserRole != RoleUnknown {
		t.Errorf("role = %q, want %q", event.UserRole, RoleUnknown)
	}
}

func TestBuild_ClientContextFailureDegradesToEmpty(t *testing.T) {
	b := NewEventBuilder(nil, failingClients{}, testLogger())
	event, err := b.Build(context.Background(), EventInput{Action: "a.b"}, LogOptions{})
	if err != nil {
		t.Fatalf("Build must not fail on client context errors: %v", err)
	}
	if event.Client != (ClientInfo{}) || event.Session != (SessionInfo{}) {
		t.Error("expected empty client/session context")
	}
}

func TestBuild_PropagatesClientContext(t *testing.T) {
	b := NewEventBuilder(nil, ContextClientProvider{}, testLogger())
	ctx := WithClientContext(context.Background(),
		ClientInfo{IP: "10.0.0.1", UserAgent: "cli", Locale: "en"},
		SessionInfo{ID: "sess-1"})

	event, err := b.Build(ctx, EventInput{Action: "a.b"}, LogOptions{Priority: PriorityHigh})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if event.Client.IP != "10.0.0.1" || event.Session.ID != "sess-1" {
		t.Errorf("client context not propagated: %+v %+v", event.Client, event.Session)
	}
	if event.Priority != PriorityHigh {
		t.Errorf("priority = %q", event.Priority)
	}
}

func TestBuild_CopiesCallerMetadata(t *testing.T) {
	b := NewEventBuilder(nil, nil, testLogger())
	meta := map[string]interface{}{"confidentiality": "internal"}

	event, err := b.Build(context.Background(), EventInput{Action: "a.b", Metadata: meta}, LogOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	meta["confidentiality"] = "public"
	if event.Metadata["confidentiality"] != "internal" {
		t.Error("event metadata aliases the caller's map")
	}
	ok, err := event.Verify()
	if err != nil || !ok {
		t.Errorf("event no longer verifies after caller-side mutation: ok=%v err=%v", ok, err)
	}
}

func TestBuild_UniqueIDs(t *testing.T) {
	b := NewEventBuilder(nil, nil, testLogger())
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		event, err := b.Build(context.Background(), EventInput{Action: "a.b"}, LogOptions{})
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if seen[event.ID] {
			t.Fatalf("duplicate id %s", event.ID)
		}
		seen[event.ID] = true
	}
}
