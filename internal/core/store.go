package core

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by store lookups for missing documents.
var ErrNotFound = errors.New("not found")

// Store is the keyed document store this subsystem persists into. The audit
// pipeline owns no persistence engine of its own; implementations live in
// internal/store.
type Store interface {
	// PutEvent writes the primary event document, overwriting any prior
	// version under the same id.
	PutEvent(ctx context.Context, event *AuditEvent) error

	// PutEventScoped writes the primary event document plus tenant- and
	// factory-scoped copies when those ids are present, as a single atomic
	// multi-write.
	PutEventScoped(ctx context.Context, event *AuditEvent) error

	// GetEvent returns the primary event document or ErrNotFound.
	GetEvent(ctx context.Context, id string) (*AuditEvent, error)

	// CountEventsByUser counts events recorded for userID since the given
	// time whose action starts with actionPrefix. An empty prefix matches
	// all actions. Used by the threat detector's trailing-window rules.
	CountEventsByUser(ctx context.Context, userID, actionPrefix string, since time.Time) (int, error)

	// PutAlert writes a security alert document, overwriting any prior
	// version under the same id.
	PutAlert(ctx context.Context, alert *SecurityAlert) error

	// GetAlert returns an alert document or ErrNotFound.
	GetAlert(ctx context.Context, id string) (*SecurityAlert, error)

	// PutDeadLetter records an event that exhausted its retry budget.
	PutDeadLetter(ctx context.Context, entry *DeadLetter) error

	Close() error
}
