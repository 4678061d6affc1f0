// Package audit records who changed which contact or mapping.
//
// Recording is best effort. Record never blocks the caller and never returns
// an error: entries are queued on a bounded buffer and written by a single
// background worker. A full buffer drops the entry and logs a warning, and a
// failed write is logged and forgotten.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action is the kind of change being audited.
type Action string

const (
	ActionContactCreate  Action = "contact_create"
	ActionContactUpdate  Action = "contact_update"
	ActionContactDelete  Action = "contact_delete"
	ActionContactRestore Action = "contact_restore"
	ActionContactPurge   Action = "contact_purge"
	ActionContactImport  Action = "contact_import"
	ActionMappingCreate  Action = "mapping_create"
	ActionMappingUpdate  Action = "mapping_update"
)

// Severity ranks entries for review.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityOf returns the review severity for an action.
func SeverityOf(action Action) Severity {
	switch action {
	case ActionContactImport, ActionContactDelete:
		return SeverityHigh
	case ActionContactPurge:
		return SeverityCritical
	case ActionMappingCreate, ActionMappingUpdate:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// Entry is one audit record.
type Entry struct {
	ID         uuid.UUID      `json:"id"`
	Action     Action         `json:"action"`
	Severity   Severity       `json:"severity"`
	TenantID   uuid.UUID      `json:"tenantId"`
	UserID     uuid.UUID      `json:"userId"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId,omitempty"`
	IPAddress  string         `json:"ipAddress,omitempty"`
	UserAgent  string         `json:"userAgent,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Logger accepts audit entries. Services depend on this rather than on the
// concrete Recorder so tests can substitute a capture.
type Logger interface {
	Record(ctx context.Context, e Entry)
}

// Sink persists entries. Implementations may block; the Recorder calls them
// from its worker goroutine only.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(context.Context, Entry) {}
