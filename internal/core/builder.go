package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RoleUnknown is assigned when the actor directory cannot resolve a role.
const RoleUnknown = "unknown"

// ActorDirectory resolves a user's role at event-build time. Lookups are
// best-effort: failures degrade to RoleUnknown, never fail the build.
type ActorDirectory interface {
	Role(ctx context.Context, userID string) (string, error)
}

// ClientContextProvider supplies IP/user-agent/locale and session context at
// event-build time. Failures degrade to empty context.
type ClientContextProvider interface {
	ClientContext(ctx context.Context) (ClientInfo, SessionInfo, error)
}

// EventInput is the caller-supplied portion of an audit event.
type EventInput struct {
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource"`
	UserID    string                 `json:"user_id"`
	UserEmail string                 `json:"user_email"`
	TenantID  string                 `json:"tenant_id"`
	FactoryID string                 `json:"factory_id"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// LogOptions control how an event is ingested.
type LogOptions struct {
	Priority Priority `json:"priority"`
}

// EventBuilder constructs normalized, hashed audit events.
type EventBuilder struct {
	directory ActorDirectory
	clients   ClientContextProvider
	logger    zerolog.Logger
	now       func() time.Time
}

// NewEventBuilder creates a builder. directory and clients may be nil; the
// corresponding enrichment is then skipped.
func NewEventBuilder(directory ActorDirectory, clients ClientContextProvider, logger zerolog.Logger) *EventBuilder {
	return &EventBuilder{
		directory: directory,
		clients:   clients,
		logger:    logger.With().Str("component", "event_builder").Logger(),
		now:       time.Now,
	}
}

// Build constructs an AuditEvent from the input, enriches it with actor and
// client context, and computes its integrity hash. It performs no writes.
func (b *EventBuilder) Build(ctx context.Context, in EventInput, opts LogOptions) (*AuditEvent, error) {
	if in.Action == "" {
		return nil, errors.New("building event: action is required")
	}

	now := b.now().UTC()

	role := RoleUnknown
	if b.directory != nil && in.UserID != "" {
		r, err := b.directory.Role(ctx, in.UserID)
		if err != nil {
			b.logger.Debug().Err(err).Str("user_id", in.UserID).Msg("actor role lookup failed")
		} else if r != "" {
			role = r
		}
	}

	var client ClientInfo
	var session SessionInfo
	if b.clients != nil {
		c, s, err := b.clients.ClientContext(ctx)
		if err != nil {
			b.logger.Debug().Err(err).Msg("client context unavailable")
		} else {
			client, session = c, s
		}
	}

	priority := opts.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	// Copy the caller's metadata so later mutation on either side cannot
	// leak through the hashed snapshot.
	var metadata map[string]interface{}
	if in.Metadata != nil {
		metadata = make(map[string]interface{}, len(in.Metadata))
		for k, v := range in.Metadata {
			metadata[k] = v
		}
	}

	event := &AuditEvent{
		ID:        newEventID(now),
		Timestamp: now,
		Action:    in.Action,
		Resource:  in.Resource,
		UserID:    in.UserID,
		UserEmail: in.UserEmail,
		UserRole:  role,
		TenantID:  in.TenantID,
		FactoryID: in.FactoryID,
		Metadata:  metadata,
		Client:    client,
		Session:   session,
		Priority:  priority,
		Status:    StatusPending,
	}

	hash, err := event.ComputeHash()
	if err != nil {
		return nil, fmt.Errorf("building event: %w", err)
	}
	event.Hash = hash

	return event, nil
}

// newEventID combines a time-ordered component with a 128-bit random suffix.
func newEventID(t time.Time) string {
	return fmt.Sprintf("%016x-%s", t.UnixNano(), uuid.New())
}

// StaticDirectory is an ActorDirectory backed by a fixed role map, typically
// loaded from config. Unknown users resolve with an error so the builder
// applies its default.
type StaticDirectory struct {
	roles map[string]string
}

// NewStaticDirectory creates a directory from a userID → role map.
func NewStaticDirectory(roles map[string]string) *StaticDirectory {
	if roles == nil {
		roles = make(map[string]string)
	}
	return &StaticDirectory{roles: roles}
}

func (d *StaticDirectory) Role(_ context.Context, userID string) (string, error) {
	role, ok := d.roles[userID]
	if !ok {
		return "", fmt.Errorf("user %q not in directory", userID)
	}
	return role, nil
}

type clientContextKey struct{}

type clientContextValue struct {
	client  ClientInfo
	session SessionInfo
}

// WithClientContext attaches client and session context to ctx so the
// ContextClientProvider can recover it at build time. The API layer uses this
// to propagate request IP, user agent, locale, and session id.
func WithClientContext(ctx context.Context, client ClientInfo, session SessionInfo) context.Context {
	return context.WithValue(ctx, clientContextKey{}, clientContextValue{client: client, session: session})
}

// ContextClientProvider reads client context previously attached with
// WithClientContext. Missing context degrades to empty values.
type ContextClientProvider struct{}

func (ContextClientProvider) ClientContext(ctx context.Context) (ClientInfo, SessionInfo, error) {
	v, ok := ctx.Value(clientContextKey{}).(clientContextValue)
	if !ok {
		return ClientInfo{}, SessionInfo{}, nil
	}
	return v.client, v.session, nil
}
