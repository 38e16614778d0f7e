package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Threat rule names.
const (
	ThreatFailedLogin         = "failed-login"
	ThreatUnusualAccess       = "unusual-access"
	ThreatDataViolation       = "data-violation"
	ThreatPrivilegeEscalation = "privilege-escalation"
)

const actionFailedLogin = "auth.failed-login"

// ThreatFinding is a single rule's output for one event.
type ThreatFinding struct {
	Type           string   `json:"type"`
	Severity       Severity `json:"severity"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation"`
}

// DetectorConfig holds the rule thresholds and windows.
type DetectorConfig struct {
	FailedLoginThreshold  int           `yaml:"failed_login_threshold"`
	FailedLoginWindow     time.Duration `yaml:"failed_login_window"`
	AccessVolumeThreshold int           `yaml:"access_volume_threshold"`
	AccessVolumeWindow    time.Duration `yaml:"access_volume_window"`
	// TrustedRoles may touch restricted data and perform admin actions
	// without raising findings.
	TrustedRoles []string `yaml:"trusted_roles"`
}

// DefaultDetectorConfig returns the standard rule set parameters.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		FailedLoginThreshold:  5,
		FailedLoginWindow:     15 * time.Minute,
		AccessVolumeThreshold: 50,
		AccessVolumeWindow:    60 * time.Minute,
		TrustedRoles:          []string{"super-admin"},
	}
}

// ThreatDetector evaluates the fixed rule set against each processed event.
// Rules are stateless; trailing-window rules query the store for recent
// history. A store failure inside a rule logs and yields no finding — it
// never aborts the pipeline.
type ThreatDetector struct {
	store  Store
	cfg    DetectorConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewThreatDetector creates a detector over the given store.
func NewThreatDetector(store Store, cfg DetectorConfig, logger zerolog.Logger) *ThreatDetector {
	if cfg.FailedLoginThreshold <= 0 {
		cfg = DefaultDetectorConfig()
	}
	return &ThreatDetector{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "threat_detector").Logger(),
		now:    time.Now,
	}
}

// Detect runs every rule against the event and returns the findings.
func (d *ThreatDetector) Detect(ctx context.Context, event *AuditEvent) []ThreatFinding {
	var findings []ThreatFinding

	if f, ok := d.checkFailedLogins(ctx, event); ok {
		findings = append(findings, f)
	}
	if f, ok := d.checkAccessVolume(ctx, event); ok {
		findings = append(findings, f)
	}
	if f, ok := d.checkDataViolation(event); ok {
		findings = append(findings, f)
	}
	if f, ok := d.checkPrivilegeEscalation(event); ok {
		findings = append(findings, f)
	}

	return findings
}

// checkFailedLogins fires when the user accumulated FailedLoginThreshold or
// more failed logins inside the trailing window. The current event is already
// persisted, so the store count includes it.
func (d *ThreatDetector) checkFailedLogins(ctx context.Context, event *AuditEvent) (ThreatFinding, bool) {
	if event.Action != actionFailedLogin || event.UserID == "" {
		return ThreatFinding{}, false
	}

	since := d.now().UTC().Add(-d.cfg.FailedLoginWindow)
	count, err := d.store.CountEventsByUser(ctx, event.UserID, actionFailedLogin, since)
	if err != nil {
		d.logger.Error().Err(err).Str("rule", ThreatFailedLogin).Str("user_id", event.UserID).
			Msg("store query failed, rule skipped")
		return ThreatFinding{}, false
	}
	if count < d.cfg.FailedLoginThreshold {
		return ThreatFinding{}, false
	}

	return ThreatFinding{
		Type:     ThreatFailedLogin,
		Severity: SeverityMedium,
		Description: fmt.Sprintf("user %s has %d failed login attempts in the last %s",
			event.UserID, count, d.cfg.FailedLoginWindow),
		Recommendation: "Lock the account and require identity verification before the next login.",
	}, true
}

// checkAccessVolume fires when the user performed more than
// AccessVolumeThreshold actions inside the trailing window.
func (d *ThreatDetector) checkAccessVolume(ctx context.Context, event *AuditEvent) (ThreatFinding, bool) {
	if event.UserID == "" {
		return ThreatFinding{}, false
	}

	since := d.now().UTC().Add(-d.cfg.AccessVolumeWindow)
	count, err := d.store.CountEventsByUser(ctx, event.UserID, "", since)
	if err != nil {
		d.logger.Error().Err(err).Str("rule", ThreatUnusualAccess).Str("user_id", event.UserID).
			Msg("store query failed, rule skipped")
		return ThreatFinding{}, false
	}
	if count <= d.cfg.AccessVolumeThreshold {
		return ThreatFinding{}, false
	}

	return ThreatFinding{
		Type:     ThreatUnusualAccess,
		Severity: SeverityHigh,
		Description: fmt.Sprintf("user %s performed %d actions in the last %s, above the threshold of %d",
			event.UserID, count, d.cfg.AccessVolumeWindow, d.cfg.AccessVolumeThreshold),
		Recommendation: "Review the user's recent activity for scripted access or data scraping.",
	}, true
}

// checkDataViolation fires when restricted data is touched by an untrusted
// role.
func (d *ThreatDetector) checkDataViolation(event *AuditEvent) (ThreatFinding, bool) {
	if event.Confidentiality() != "restricted" || d.trusted(event.UserRole) {
		return ThreatFinding{}, false
	}

	return ThreatFinding{
		Type:     ThreatDataViolation,
		Severity: SeverityCritical,
		Description: fmt.Sprintf("role %q accessed restricted data on resource %q",
			event.UserRole, event.Resource),
		Recommendation: "Verify the access was authorized and review the resource's confidentiality controls.",
	}, true
}

// checkPrivilegeEscalation fires when an admin-scoped action is performed by
// an untrusted role.
func (d *ThreatDetector) checkPrivilegeEscalation(event *AuditEvent) (ThreatFinding, bool) {
	if !strings.Contains(event.Action, "admin") || d.trusted(event.UserRole) {
		return ThreatFinding{}, false
	}

	return ThreatFinding{
		Type:     ThreatPrivilegeEscalation,
		Severity: SeverityCritical,
		Description: fmt.Sprintf("role %q performed administrative action %q",
			event.UserRole, event.Action),
		Recommendation: "Suspend the session and confirm how the user reached an administrative code path.",
	}, true
}

func (d *ThreatDetector) trusted(role string) bool {
	for _, r := range d.cfg.TrustedRoles {
		if role == r {
			return true
		}
	}
	return false
}

// MaxSeverity returns the highest severity across findings, SeverityInfo when
// there are none.
func MaxSeverity(findings []ThreatFinding) Severity {
	max := SeverityInfo
	for _, f := range findings {
		if f.Severity > max {
			max = f.Severity
		}
	}
	return max
}
