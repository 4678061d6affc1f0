package contact

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListOptions selects a page of a tenant's contacts.
type ListOptions struct {
	Trashed bool
	Limit   int
	Offset  int
}

// Store persists contacts and their sub-entities. Every method is scoped to
// a tenant; a contact of another tenant is reported as not found.
type Store interface {
	InsertContact(ctx context.Context, c *Contact) error
	// GetContact returns the contact with its sub-entities, trashed or not.
	GetContact(ctx context.Context, tenantID, id uuid.UUID) (*Contact, error)
	// UpdateContact writes the scalar fields and updated_at of c.
	UpdateContact(ctx context.Context, c *Contact) error
	SetDeletedAt(ctx context.Context, tenantID, id uuid.UUID, at *time.Time) error
	// DeleteContact removes the contact and its sub-entities permanently.
	DeleteContact(ctx context.Context, tenantID, id uuid.UUID) error
	ListContacts(ctx context.Context, tenantID uuid.UUID, opts ListOptions) ([]*Contact, error)
	// PurgeTrash hard-deletes contacts trashed at or before cutoff. A nil
	// tenant purges across all tenants.
	PurgeTrash(ctx context.Context, tenantID *uuid.UUID, cutoff time.Time) ([]uuid.UUID, error)
	// FindActiveByEmail returns the oldest active contact of the tenant owning
	// an email with one of the given fingerprints.
	FindActiveByEmail(ctx context.Context, tenantID uuid.UUID, fingerprints []string) (uuid.UUID, bool, error)

	// Upsert finds the row with e's (tenant, contact, fingerprint) or inserts
	// e. On a hit, non-nil attrs are overlaid and updated_at is stamped; the
	// row keeps its id and owner. e is overwritten with the stored row.
	Upsert(ctx context.Context, e Entity, attrs Attrs, now time.Time) (created bool, err error)
}
