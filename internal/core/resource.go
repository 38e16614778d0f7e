package core

import (
	"fmt"
	"strings"
)

// ResourceKind is the explicit category an event's resource string maps to.
// Unknown resources classify as ResourceGeneric rather than falling through
// silently.
type ResourceKind int

const (
	ResourceGeneric ResourceKind = iota
	ResourceUser
	ResourceDocument
	ResourceCase
	ResourceCAP
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceUser:
		return "user"
	case ResourceDocument:
		return "document"
	case ResourceCase:
		return "case"
	case ResourceCAP:
		return "cap"
	default:
		return "generic"
	}
}

// ClassifyResource maps a free-text resource identifier to its kind. The
// "cap" check runs before "case" so a cap resource never misclassifies.
func ClassifyResource(resource string) ResourceKind {
	r := strings.ToLower(resource)
	switch {
	case strings.Contains(r, "user"):
		return ResourceUser
	case strings.Contains(r, "document"):
		return ResourceDocument
	case strings.Contains(r, "cap"):
		return ResourceCAP
	case strings.Contains(r, "case"):
		return ResourceCase
	default:
		return ResourceGeneric
	}
}

// ResourceProcessor is a per-kind enrichment strategy. Process writes derived
// data into the event's enrichment namespace only; the hashed fields,
// including caller metadata, stay untouched.
type ResourceProcessor interface {
	Kind() ResourceKind
	Process(event *AuditEvent) error
}

// DefaultProcessors returns the strategy table keyed by resource kind.
func DefaultProcessors() map[ResourceKind]ResourceProcessor {
	table := make(map[ResourceKind]ResourceProcessor)
	for _, p := range []ResourceProcessor{
		UserProcessor{},
		DocumentProcessor{},
		CaseProcessor{},
		CAPProcessor{},
		GenericProcessor{},
	} {
		table[p.Kind()] = p
	}
	return table
}

func enrich(event *AuditEvent, key string, value interface{}) {
	if event.Enrichment == nil {
		event.Enrichment = make(map[string]interface{})
	}
	event.Enrichment[key] = value
}

func tagKind(event *AuditEvent, kind ResourceKind) {
	enrich(event, "resource_kind", kind.String())
}

// GenericProcessor handles system and otherwise-unclassified resources.
type GenericProcessor struct{}

func (GenericProcessor) Kind() ResourceKind { return ResourceGeneric }

func (GenericProcessor) Process(event *AuditEvent) error {
	tagKind(event, ResourceGeneric)
	return nil
}

// UserProcessor enriches events touching user resources.
type UserProcessor struct{}

func (UserProcessor) Kind() ResourceKind { return ResourceUser }

func (UserProcessor) Process(event *AuditEvent) error {
	tagKind(event, ResourceUser)
	enrich(event, "identity_resource", true)
	return nil
}

// DocumentProcessor normalizes the confidentiality marker on document events.
// A non-string marker is a caller bug and fails processing.
type DocumentProcessor struct{}

func (DocumentProcessor) Kind() ResourceKind { return ResourceDocument }

func (DocumentProcessor) Process(event *AuditEvent) error {
	tagKind(event, ResourceDocument)
	raw, ok := event.Metadata["confidentiality"]
	if !ok {
		return nil
	}
	marker, ok := raw.(string)
	if !ok {
		return fmt.Errorf("invalid confidentiality marker of type %T", raw)
	}
	enrich(event, "confidentiality", strings.ToLower(strings.TrimSpace(marker)))
	return nil
}

// CaseProcessor enriches case events with the case identifier when the
// resource carries one ("case:<id>").
type CaseProcessor struct{}

func (CaseProcessor) Kind() ResourceKind { return ResourceCase }

func (CaseProcessor) Process(event *AuditEvent) error {
	tagKind(event, ResourceCase)
	if id, ok := strings.CutPrefix(event.Resource, "case:"); ok && id != "" {
		enrich(event, "case_id", id)
	}
	return nil
}

// CAPProcessor enriches corrective-action-plan events.
type CAPProcessor struct{}

func (CAPProcessor) Kind() ResourceKind { return ResourceCAP }

func (CAPProcessor) Process(event *AuditEvent) error {
	tagKind(event, ResourceCAP)
	if id, ok := strings.CutPrefix(event.Resource, "cap:"); ok && id != "" {
		enrich(event, "cap_id", id)
	}
	return nil
}
