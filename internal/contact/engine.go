package contact

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/contacthub/internal/apperror"
	"github.com/JonMunkholm/contacthub/internal/audit"
	"github.com/JonMunkholm/contacthub/internal/logging"
)

// Observer is notified of every sub-entity upsert. The metrics package
// implements it.
type Observer interface {
	ObserveUpsert(kind Kind, created bool)
}

type nopObserver struct{}

func (nopObserver) ObserveUpsert(Kind, bool) {}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver reports upsert outcomes to o.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine creates contacts and merges sub-entities into them.
//
// Sub-entity collections of one payload are merged concurrently, items of a
// collection sequentially. Each item is a single atomic upsert keyed by
// (tenant, contact, fingerprint), so concurrent merges of the same value
// converge on one row. When a newly created contact fails to merge, the
// contact is deleted again so a failed create leaves nothing behind.
type Engine struct {
	store    Store
	audit    audit.Logger
	validate *validator.Validate
	observer Observer
	now      func() time.Time
}

func NewEngine(store Store, auditLog audit.Logger, opts ...Option) *Engine {
	if auditLog == nil {
		auditLog = audit.Nop{}
	}
	e := &Engine{
		store:    store,
		audit:    auditLog,
		validate: newValidator(),
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// mergeStats counts sub-entity upsert outcomes for one call.
type mergeStats struct {
	Created int64
	Merged  int64
}

// CreateOrMerge creates a contact from p when contactID is nil. Otherwise it
// overlays the scalar fields present in p onto the existing contact and
// merges p's sub-entities into it.
func (e *Engine) CreateOrMerge(ctx context.Context, tenantID, ownerID uuid.UUID, contactID *uuid.UUID, p Payload) (*Contact, error) {
	if err := e.check(tenantID, ownerID, p); err != nil {
		return nil, err
	}
	if contactID == nil {
		return e.create(ctx, tenantID, ownerID, p)
	}
	return e.merge(ctx, tenantID, ownerID, *contactID, p, false)
}

// Create is CreateOrMerge without a target contact.
func (e *Engine) Create(ctx context.Context, tenantID, ownerID uuid.UUID, p Payload) (*Contact, error) {
	return e.CreateOrMerge(ctx, tenantID, ownerID, nil, p)
}

// Update replaces every scalar field of the contact, clearing those absent
// from p, and merges p's sub-entities. Existing sub-entities are kept.
func (e *Engine) Update(ctx context.Context, tenantID, ownerID, id uuid.UUID, p Payload) (*Contact, error) {
	if err := e.check(tenantID, ownerID, p); err != nil {
		return nil, err
	}
	return e.merge(ctx, tenantID, ownerID, id, p, true)
}

// Patch overlays the scalar fields present in p and merges its sub-entities.
func (e *Engine) Patch(ctx context.Context, tenantID, ownerID, id uuid.UUID, p Payload) (*Contact, error) {
	return e.CreateOrMerge(ctx, tenantID, ownerID, &id, p)
}

func (e *Engine) Get(ctx context.Context, tenantID, id uuid.UUID) (*Contact, error) {
	return e.store.GetContact(ctx, tenantID, id)
}

func (e *Engine) List(ctx context.Context, tenantID uuid.UUID, opts ListOptions) ([]*Contact, error) {
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, apperror.Validation("limit and offset must not be negative")
	}
	return e.store.ListContacts(ctx, tenantID, opts)
}

// FindByEmail returns the tenant's oldest active contact owning one of p's
// email addresses.
func (e *Engine) FindByEmail(ctx context.Context, tenantID uuid.UUID, p Payload) (uuid.UUID, bool, error) {
	fps := p.EmailFingerprints()
	if len(fps) == 0 {
		return uuid.Nil, false, nil
	}
	return e.store.FindActiveByEmail(ctx, tenantID, fps)
}

// SoftDelete moves the contact to the trash. Deleting a trashed contact is a
// no-op.
func (e *Engine) SoftDelete(ctx context.Context, tenantID, id uuid.UUID) (*Contact, error) {
	c, err := e.store.GetContact(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if c.Deleted() {
		return c, nil
	}

	at := e.now().UTC()
	if err := e.store.SetDeletedAt(ctx, tenantID, id, &at); err != nil {
		return nil, err
	}
	c.DeletedAt = &at

	e.record(ctx, audit.ActionContactDelete, tenantID, c.ID, nil)
	return c, nil
}

// Restore takes the contact out of the trash.
func (e *Engine) Restore(ctx context.Context, tenantID, id uuid.UUID) (*Contact, error) {
	c, err := e.store.GetContact(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !c.Deleted() {
		return nil, apperror.Conflict("contact %s is not in trash", id).WithCode("CON002")
	}
	if err := e.store.SetDeletedAt(ctx, tenantID, id, nil); err != nil {
		return nil, err
	}
	c.DeletedAt = nil

	e.record(ctx, audit.ActionContactRestore, tenantID, c.ID, nil)
	return c, nil
}

// EmptyTrash permanently deletes the tenant's contacts that have been in the
// trash for at least olderThan. Zero empties the whole trash.
func (e *Engine) EmptyTrash(ctx context.Context, tenantID uuid.UUID, olderThan time.Duration) (int, error) {
	if olderThan < 0 {
		return 0, apperror.Validation("olderThan must not be negative")
	}
	return e.purge(ctx, &tenantID, olderThan)
}

// PurgeExpired permanently deletes every tenant's contacts that have been in
// the trash longer than retention.
func (e *Engine) PurgeExpired(ctx context.Context, retention time.Duration) (int, error) {
	return e.purge(ctx, nil, retention)
}

func (e *Engine) purge(ctx context.Context, tenantID *uuid.UUID, olderThan time.Duration) (int, error) {
	cutoff := e.now().UTC().Add(-olderThan)
	ids, err := e.store.PurgeTrash(ctx, tenantID, cutoff)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	entry := audit.Entry{
		Action:     audit.ActionContactPurge,
		EntityType: "contact",
		Details:    map[string]any{"count": len(ids), "ids": ids, "cutoff": cutoff},
	}
	if tenantID != nil {
		entry.TenantID = *tenantID
	}
	e.audit.Record(ctx, entry)
	return len(ids), nil
}

func (e *Engine) check(tenantID, ownerID uuid.UUID, p Payload) error {
	if tenantID == uuid.Nil {
		return apperror.Validation("tenantId is required")
	}
	if ownerID == uuid.Nil {
		return apperror.Validation("ownerId is required")
	}
	if err := e.validate.Struct(p); err != nil {
		return toValidationError(err)
	}
	return nil
}

// Validate reports whether p would be accepted as a new contact, without
// touching the store.
func (e *Engine) Validate(p Payload) error {
	if err := e.validate.Struct(p); err != nil {
		return toValidationError(err)
	}
	if clean(p.FirstName) == "" {
		return apperror.Validation("firstName is required")
	}
	return nil
}

func (e *Engine) create(ctx context.Context, tenantID, ownerID uuid.UUID, p Payload) (*Contact, error) {
	now := e.now().UTC()
	c := &Contact{
		ID:        uuid.New(),
		TenantID:  tenantID,
		OwnerID:   ownerID,
		FirstName: clean(p.FirstName),
		LastName:  clean(p.LastName),
		Company:   clean(p.Company),
		JobTitle:  clean(p.JobTitle),
		Notes:     trimNotes(p.Notes),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if c.FirstName == "" {
		return nil, apperror.Validation("firstName is required")
	}

	if err := e.store.InsertContact(ctx, c); err != nil {
		return nil, err
	}

	stats, err := e.mergeItems(ctx, c, ownerID, p.items(), now)
	if err != nil {
		if derr := e.store.DeleteContact(context.WithoutCancel(ctx), tenantID, c.ID); derr != nil {
			logging.FromContext(ctx).Error("failed to remove partially created contact",
				"contact_id", c.ID,
				"error", derr,
			)
		}
		return nil, err
	}

	out, err := e.store.GetContact(ctx, tenantID, c.ID)
	if err != nil {
		return nil, err
	}
	e.record(ctx, audit.ActionContactCreate, tenantID, c.ID, &stats)
	return out, nil
}

// merge applies p to an existing contact. With replace, scalars absent from
// p are cleared; otherwise they are left unchanged.
func (e *Engine) merge(ctx context.Context, tenantID, ownerID, id uuid.UUID, p Payload, replace bool) (*Contact, error) {
	c, err := e.store.GetContact(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if c.Deleted() {
		return nil, apperror.Conflict("contact %s is in the trash", id).WithCode("CON003")
	}

	now := e.now().UTC()
	changed := applyScalars(c, p, replace)
	if c.FirstName == "" {
		return nil, apperror.Validation("firstName is required")
	}
	if changed {
		c.UpdatedAt = now
		if err := e.store.UpdateContact(ctx, c); err != nil {
			return nil, err
		}
	}

	stats, err := e.mergeItems(ctx, c, ownerID, p.items(), now)
	if err != nil {
		return nil, err
	}

	out, err := e.store.GetContact(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	e.record(ctx, audit.ActionContactUpdate, tenantID, id, &stats)
	return out, nil
}

// mergeItems upserts every item into contact c. Collections run in parallel
// and the first failure cancels the rest.
func (e *Engine) mergeItems(ctx context.Context, c *Contact, ownerID uuid.UUID, items map[Kind][]item, now time.Time) (mergeStats, error) {
	var created, merged atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for kind, list := range items {
		g.Go(func() error {
			for _, it := range list {
				b := it.entity.Base()
				b.TenantID, b.ContactID, b.OwnerID = c.TenantID, c.ID, ownerID

				isNew, err := e.store.Upsert(gctx, it.entity, it.attrs, now)
				if err != nil {
					return err
				}
				e.observer.ObserveUpsert(kind, isNew)
				if isNew {
					created.Add(1)
				} else {
					merged.Add(1)
				}
			}
			return nil
		})
	}
	err := g.Wait()
	return mergeStats{Created: created.Load(), Merged: merged.Load()}, err
}

// record queues an audit entry. The recorder fills in the calling user from
// ctx.
func (e *Engine) record(ctx context.Context, action audit.Action, tenantID, id uuid.UUID, stats *mergeStats) {
	entry := audit.Entry{
		Action:     action,
		TenantID:   tenantID,
		EntityType: "contact",
		EntityID:   id.String(),
	}
	if stats != nil {
		entry.Details = map[string]any{"created": stats.Created, "merged": stats.Merged}
	}
	e.audit.Record(ctx, entry)
}

// applyScalars copies p's scalar fields onto c and reports whether anything
// changed.
func applyScalars(c *Contact, p Payload, replace bool) bool {
	before := [5]string{c.FirstName, c.LastName, c.Company, c.JobTitle, c.Notes}
	set := func(dst *string, src *string, notes bool) {
		if src == nil && !replace {
			return
		}
		if notes {
			*dst = trimNotes(src)
		} else {
			*dst = clean(src)
		}
	}
	set(&c.FirstName, p.FirstName, false)
	set(&c.LastName, p.LastName, false)
	set(&c.Company, p.Company, false)
	set(&c.JobTitle, p.JobTitle, false)
	set(&c.Notes, p.Notes, true)
	return before != [5]string{c.FirstName, c.LastName, c.Company, c.JobTitle, c.Notes}
}
