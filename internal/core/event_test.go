package core

import (
	"testing"
	"time"
)

func sampleEvent() *AuditEvent {
	return &AuditEvent{
		ID:        "0123abcd-test",
		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Action:    "document.approve",
		Resource:  "document:42",
		UserID:    "u-1",
		UserEmail: "u1@example.com",
		UserRole:  "factory_admin",
		TenantID:  "t-1",
		Metadata:  map[string]interface{}{"confidentiality": "internal"},
		Priority:  PriorityNormal,
		Status:    StatusPending,
	}
}

func TestComputeHash_Deterministic(t *testing.T) {
	e := sampleEvent()
	h1, err := e.ComputeHash()
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	h2, err := e.ComputeHash()
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash not deterministic: %s != %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}
}

func TestComputeHash_SensitiveToEveryField(t *testing.T) {
	base := sampleEvent()
	baseHash, err := base.ComputeHash()
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}

	mutations := map[string]func(*AuditEvent){
		"action":    func(e *AuditEvent) { e.Action = "document.reject" },
		"resource":  func(e *AuditEvent) { e.Resource = "document:43" },
		"user":      func(e *AuditEvent) { e.UserID = "u-2" },
		"timestamp": func(e *AuditEvent) { e.Timestamp = e.Timestamp.Add(time.Second) },
		"metadata":  func(e *AuditEvent) { e.Metadata["confidentiality"] = "restricted" },
		"tenant":    func(e *AuditEvent) { e.TenantID = "t-2" },
	}

	for name, mutate := range mutations {
		e := sampleEvent()
		mutate(e)
		h, err := e.ComputeHash()
		if err != nil {
			t.Fatalf("%s: ComputeHash: %v", name, err)
		}
		if h == baseHash {
			t.Errorf("mutating %s did not change the hash", name)
		}
	}
}

func TestVerify_HoldsAcrossProcessingMutation(t *testing.T) {
	e := sampleEvent()
	h, err := e.ComputeHash()
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	e.Hash = h

	// Processing-state and enrichment mutation must not break tamper
	// evidence.
	now := time.Now().UTC()
	e.Status = StatusProcessed
	e.ProcessedAt = &now
	e.SecurityContext = &SecurityContext{ThreatLevel: SeverityLow, EvaluatedAt: now}
	e.Enrichment = map[string]interface{}{"resource_kind": "document"}

	ok, err := e.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("hash no longer verifies after status/processedAt mutation")
	}

	// A content mutation must be detected.
	e.Action = "document.delete"
	ok, err = e.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("tampered event still verifies")
	}
}

func TestSeverity_Ordering(t *testing.T) {
	order := []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if order[i-1] >= order[i] {
			t.Errorf("expected %s < %s", order[i-1], order[i])
		}
	}
}

func TestParseSeverity(t *testing.T) {
	for _, s := range []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		parsed, err := ParseSeverity(s.String())
		if err != nil {
			t.Fatalf("ParseSeverity(%s): %v", s, err)
		}
		if parsed != s {
			t.Errorf("round trip %s: got %s", s, parsed)
		}
	}
	if _, err := ParseSeverity("bogus"); err == nil {
		t.Error("expected error for unknown severity")
	}
}

func TestConfidentiality_Normalization(t *testing.T) {
	e := sampleEvent()
	e.Metadata["confidentiality"] = "  Restricted "
	if got := e.Confidentiality(); got != "restricted" {
		t.Errorf("got %q", got)
	}

	// The enriched value wins over the raw metadata.
	e.Enrichment = map[string]interface{}{"confidentiality": "public"}
	if got := e.Confidentiality(); got != "public" {
		t.Errorf("got %q, want enriched value", got)
	}

	e.Enrichment = nil
	e.Metadata = nil
	if got := e.Confidentiality(); got != "" {
		t.Errorf("expected empty for nil metadata, got %q", got)
	}
}
