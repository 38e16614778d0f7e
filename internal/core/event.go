package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Severity represents the severity level of a threat finding or security alert.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseSeverity(str)
	if err != nil {
		*s = SeverityInfo
		return nil
	}
	*s = parsed
	return nil
}

func (s Severity) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// UnmarshalYAML decodes a severity name. Unlike the JSON path, an unknown
// name is an error: a config typo must not silently loosen a threshold.
func (s *Severity) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err != nil {
		return err
	}
	parsed, err := ParseSeverity(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSeverity converts a severity name to its Severity value.
func ParseSeverity(str string) (Severity, error) {
	switch strings.ToLower(str) {
	case "info":
		return SeverityInfo, nil
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return SeverityInfo, fmt.Errorf("unknown severity %q", str)
	}
}

// Priority controls whether an event bypasses the ingestion queue.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Status tracks the processing lifecycle of an audit event.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusError     Status = "error"
)

// ClientInfo is a snapshot of the caller's client context at build time.
type ClientInfo struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Locale    string `json:"locale,omitempty"`
}

// SessionInfo is a snapshot of the caller's session at build time.
type SessionInfo struct {
	ID string `json:"id,omitempty"`
}

// SecurityContext caches the outcome of the threat detection pass on an event.
type SecurityContext struct {
	ThreatLevel  Severity  `json:"threat_level"`
	FindingTypes []string  `json:"finding_types,omitempty"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// AuditEvent is a record of a single notable system action. The integrity
// hash covers the build-time snapshot: all fields except Hash, Signature,
// Enrichment, Status, ProcessedAt, ProcessingError, and SecurityContext, so
// Verify holds at any point in the lifecycle. Metadata is caller input and is
// never mutated after the build; pipeline-derived data goes into Enrichment.
type AuditEvent struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	UserEmail string                 `json:"user_email,omitempty"`
	UserRole  string                 `json:"user_role,omitempty"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	FactoryID string                 `json:"factory_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Client    ClientInfo             `json:"client_info"`
	Session   SessionInfo            `json:"session_info"`
	Priority  Priority               `json:"priority"`

	// Enrichment holds data derived by the resource processors. It lives
	// outside the hashed surface so enrichment cannot break tamper-evidence.
	Enrichment map[string]interface{} `json:"enrichment,omitempty"`

	Status          Status     `json:"status"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ProcessingError string     `json:"processing_error,omitempty"`

	Hash string `json:"hash"`
	// Signature is reserved for a future non-repudiation feature and is
	// never populated.
	Signature string `json:"signature,omitempty"`

	SecurityContext *SecurityContext `json:"security_context,omitempty"`
}

// ComputeHash returns the SHA-256 digest of the event's canonical
// serialization, excluding the hash itself, the reserved signature, the
// enrichment namespace, and all processing-state fields. A serialization
// failure is a hard error: a broken hash would silently defeat the integrity
// guarantee.
func (e *AuditEvent) ComputeHash() (string, error) {
	snap := *e
	snap.Hash = ""
	snap.Signature = ""
	snap.Enrichment = nil
	snap.Status = ""
	snap.ProcessedAt = nil
	snap.ProcessingError = ""
	snap.SecurityContext = nil

	data, err := json.Marshal(&snap)
	if err != nil {
		return "", fmt.Errorf("canonicalizing event: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the integrity hash and compares it to the stored one.
func (e *AuditEvent) Verify() (bool, error) {
	h, err := e.ComputeHash()
	if err != nil {
		return false, err
	}
	return h == e.Hash, nil
}

// Clone returns a copy of the event with its own metadata and enrichment
// maps. Used to keep a pre-processing snapshot for requeueing.
func (e *AuditEvent) Clone() *AuditEvent {
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	if e.Enrichment != nil {
		cp.Enrichment = make(map[string]interface{}, len(e.Enrichment))
		for k, v := range e.Enrichment {
			cp.Enrichment[k] = v
		}
	}
	if e.ProcessedAt != nil {
		t := *e.ProcessedAt
		cp.ProcessedAt = &t
	}
	if e.SecurityContext != nil {
		sc := *e.SecurityContext
		cp.SecurityContext = &sc
	}
	return &cp
}

// Confidentiality returns the confidentiality marker, lowercased, or "" if
// absent. The enriched (normalized) value wins over the raw caller metadata.
func (e *AuditEvent) Confidentiality() string {
	if v, ok := e.Enrichment["confidentiality"].(string); ok {
		return v
	}
	v, ok := e.Metadata["confidentiality"].(string)
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(v))
}

// Marshal serializes the event to JSON.
func (e *AuditEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalAuditEvent deserializes an AuditEvent from JSON.
func UnmarshalAuditEvent(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
