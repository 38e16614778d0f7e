package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AlertStatus tracks an alert's acknowledgement lifecycle.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
)

// SecurityAlert is the persisted, actionable escalation derived from a high
// or critical threat finding.
type SecurityAlert struct {
	ID             string      `json:"id"`
	Timestamp      time.Time   `json:"timestamp"`
	Severity       Severity    `json:"severity"`
	Type           string      `json:"type"`
	Description    string      `json:"description"`
	Recommendation string      `json:"recommendation,omitempty"`
	AuditEventID   string      `json:"audit_event_id"`
	UserID         string      `json:"user_id,omitempty"`
	TenantID       string      `json:"tenant_id,omitempty"`
	Status         AlertStatus `json:"status"`
	Acknowledged   bool        `json:"acknowledged"`
	AcknowledgedBy string      `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time  `json:"acknowledged_at,omitempty"`
}

// AlertManager persists and serves security alerts. It keeps a capped
// in-memory recent list for queries; the store holds the durable copies.
type AlertManager struct {
	mu        sync.RWMutex
	store     Store
	bus       *EventBus
	logger    zerolog.Logger
	recent    []*SecurityAlert
	maxRecent int
	now       func() time.Time
}

// NewAlertManager creates a manager. bus may be nil; raised alerts are then
// not published downstream.
func NewAlertManager(store Store, bus *EventBus, maxRecent int, logger zerolog.Logger) *AlertManager {
	if maxRecent <= 0 {
		maxRecent = 10000
	}
	return &AlertManager{
		store:     store,
		bus:       bus,
		logger:    logger.With().Str("component", "alert_manager").Logger(),
		recent:    make([]*SecurityAlert, 0),
		maxRecent: maxRecent,
		now:       time.Now,
	}
}

// Raise persists a SecurityAlert for the finding and returns its id.
func (m *AlertManager) Raise(ctx context.Context, event *AuditEvent, finding ThreatFinding) (string, error) {
	alert := &SecurityAlert{
		ID:             uuid.New().String(),
		Timestamp:      m.now().UTC(),
		Severity:       finding.Severity,
		Type:           finding.Type,
		Description:    finding.Description,
		Recommendation: finding.Recommendation,
		AuditEventID:   event.ID,
		UserID:         event.UserID,
		TenantID:       event.TenantID,
		Status:         AlertActive,
	}

	if err := m.store.PutAlert(ctx, alert); err != nil {
		return "", fmt.Errorf("persisting alert: %w", err)
	}

	m.mu.Lock()
	m.recent = append(m.recent, alert)
	if len(m.recent) > m.maxRecent {
		m.recent = m.recent[len(m.recent)-m.maxRecent:]
	}
	m.mu.Unlock()

	if m.bus != nil {
		if err := m.bus.PublishAlert(alert); err != nil {
			m.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to publish alert to bus")
		}
	}

	m.logger.Warn().
		Str("alert_id", alert.ID).
		Str("type", alert.Type).
		Str("severity", alert.Severity.String()).
		Str("audit_event_id", alert.AuditEventID).
		Str("user_id", alert.UserID).
		Msg("SECURITY ALERT")

	return alert.ID, nil
}

// Query returns alerts filtered by tenant and severity name (either may be
// empty), sorted by severity descending then timestamp descending, bounded
// by limit.
func (m *AlertManager) Query(tenantID, severity string, limit int) ([]*SecurityAlert, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	var sevFilter *Severity
	if severity != "" {
		s, err := ParseSeverity(severity)
		if err != nil {
			return nil, err
		}
		sevFilter = &s
	}

	m.mu.RLock()
	matched := make([]*SecurityAlert, 0, len(m.recent))
	for _, a := range m.recent {
		if tenantID != "" && a.TenantID != tenantID {
			continue
		}
		if sevFilter != nil && a.Severity != *sevFilter {
			continue
		}
		matched = append(matched, a)
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Severity != matched[j].Severity {
			return matched[i].Severity > matched[j].Severity
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Acknowledge marks an alert acknowledged by the given principal and persists
// the change. Returns ErrNotFound for unknown ids.
func (m *AlertManager) Acknowledge(ctx context.Context, alertID, by string) error {
	m.mu.Lock()
	var alert *SecurityAlert
	for _, a := range m.recent {
		if a.ID == alertID {
			alert = a
			break
		}
	}
	m.mu.Unlock()

	if alert == nil {
		stored, err := m.store.GetAlert(ctx, alertID)
		if err != nil {
			return err
		}
		alert = stored
	}

	now := m.now().UTC()

	m.mu.Lock()
	alert.Status = AlertAcknowledged
	alert.Acknowledged = true
	alert.AcknowledgedBy = by
	alert.AcknowledgedAt = &now
	m.mu.Unlock()

	if err := m.store.PutAlert(ctx, alert); err != nil {
		return fmt.Errorf("persisting acknowledgement: %w", err)
	}

	m.logger.Info().Str("alert_id", alertID).Str("by", by).Msg("alert acknowledged")
	return nil
}

// Count returns the number of alerts in the recent list.
func (m *AlertManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recent)
}
