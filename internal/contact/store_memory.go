package contact

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/contacthub/internal/apperror"
)

type entityKey struct {
	kind        Kind
	tenantID    uuid.UUID
	contactID   uuid.UUID
	fingerprint string
}

// MemoryStore is an in-process Store used by tests and dry runs. Upsert
// holds the store lock across lookup and insert, matching the atomicity of
// the Postgres ON CONFLICT path.
type MemoryStore struct {
	mu       sync.Mutex
	contacts map[uuid.UUID]*Contact
	entities map[entityKey]Entity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contacts: make(map[uuid.UUID]*Contact),
		entities: make(map[entityKey]Entity),
	}
}

func (s *MemoryStore) InsertContact(_ context.Context, c *Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.FirstName == "" {
		return apperror.Validation("firstName is required")
	}
	stored := scalarCopy(c)
	s.contacts[c.ID] = &stored
	return nil
}

func (s *MemoryStore) GetContact(_ context.Context, tenantID, id uuid.UUID) (*Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok || c.TenantID != tenantID {
		return nil, apperror.NotFound("contact", id)
	}
	out := scalarCopy(c)
	s.attachChildren(&out)
	return &out, nil
}

func (s *MemoryStore) UpdateContact(_ context.Context, c *Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.contacts[c.ID]
	if !ok || existing.TenantID != c.TenantID {
		return apperror.NotFound("contact", c.ID)
	}
	if c.FirstName == "" {
		return apperror.Validation("firstName is required")
	}
	existing.FirstName, existing.LastName = c.FirstName, c.LastName
	existing.Company, existing.JobTitle, existing.Notes = c.Company, c.JobTitle, c.Notes
	existing.UpdatedAt = c.UpdatedAt
	return nil
}

func (s *MemoryStore) SetDeletedAt(_ context.Context, tenantID, id uuid.UUID, at *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok || c.TenantID != tenantID {
		return apperror.NotFound("contact", id)
	}
	c.DeletedAt = at
	return nil
}

func (s *MemoryStore) DeleteContact(_ context.Context, tenantID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok || c.TenantID != tenantID {
		return apperror.NotFound("contact", id)
	}
	s.deleteLocked(id)
	return nil
}

func (s *MemoryStore) deleteLocked(id uuid.UUID) {
	delete(s.contacts, id)
	for k := range s.entities {
		if k.contactID == id {
			delete(s.entities, k)
		}
	}
}

func (s *MemoryStore) ListContacts(_ context.Context, tenantID uuid.UUID, opts ListOptions) ([]*Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*Contact
	for _, c := range s.contacts {
		if c.TenantID != tenantID || c.Deleted() != opts.Trashed {
			continue
		}
		cp := scalarCopy(c)
		s.attachChildren(&cp)
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	if opts.Offset >= len(all) {
		return []*Contact{}, nil
	}
	all = all[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all, nil
}

func (s *MemoryStore) PurgeTrash(_ context.Context, tenantID *uuid.UUID, cutoff time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged []uuid.UUID
	for id, c := range s.contacts {
		if tenantID != nil && c.TenantID != *tenantID {
			continue
		}
		if c.DeletedAt == nil || c.DeletedAt.After(cutoff) {
			continue
		}
		s.deleteLocked(id)
		purged = append(purged, id)
	}
	return purged, nil
}

func (s *MemoryStore) FindActiveByEmail(_ context.Context, tenantID uuid.UUID, fingerprints []string) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(fingerprints))
	for _, fp := range fingerprints {
		want[fp] = true
	}
	var best *Contact
	for k := range s.entities {
		if k.kind != KindEmail || k.tenantID != tenantID || !want[k.fingerprint] {
			continue
		}
		c, ok := s.contacts[k.contactID]
		if !ok || c.Deleted() {
			continue
		}
		if best == nil || c.CreatedAt.Before(best.CreatedAt) {
			best = c
		}
	}
	if best == nil {
		return uuid.Nil, false, nil
	}
	return best.ID, true, nil
}

func (s *MemoryStore) Upsert(_ context.Context, e Entity, attrs Attrs, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := e.Base()
	if _, ok := s.contacts[b.ContactID]; !ok {
		return false, apperror.NotFound("contact", b.ContactID)
	}
	key := entityKey{kind: e.kind(), tenantID: b.TenantID, contactID: b.ContactID, fingerprint: b.Fingerprint}

	if existing, ok := s.entities[key]; ok {
		eb := existing.Base()
		if attrs.Label != nil {
			eb.Label = *attrs.Label
		}
		if attrs.IsPrimary != nil {
			eb.IsPrimary = *attrs.IsPrimary
		}
		eb.DeletedAt = nil
		eb.UpdatedAt = now
		copyEntity(e, existing)
		return false, nil
	}

	b.ID = uuid.New()
	b.CreatedAt, b.UpdatedAt = now, now
	if attrs.Label != nil {
		b.Label = *attrs.Label
	}
	if attrs.IsPrimary != nil {
		b.IsPrimary = *attrs.IsPrimary
	}
	s.entities[key] = cloneEntity(e)
	return true, nil
}

// Count returns the number of stored rows of kind for a contact.
func (s *MemoryStore) Count(kind Kind, contactID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.entities {
		if k.kind == kind && k.contactID == contactID {
			n++
		}
	}
	return n
}

// ContactCount returns the number of stored contacts of a tenant.
func (s *MemoryStore) ContactCount(tenantID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.contacts {
		if c.TenantID == tenantID {
			n++
		}
	}
	return n
}

func (s *MemoryStore) attachChildren(c *Contact) {
	var found []Entity
	for k, e := range s.entities {
		if k.contactID == c.ID {
			found = append(found, e)
		}
	}
	sortEntities(found)
	for _, e := range found {
		c.attach(cloneEntity(e))
	}
}

func sortEntities(es []Entity) {
	sort.Slice(es, func(i, j int) bool {
		a, b := es[i].Base(), es[j].Base()
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

// copyEntity overwrites dst with src. Both must be the same concrete type.
func copyEntity(dst, src Entity) {
	switch d := dst.(type) {
	case *Address:
		*d = *src.(*Address)
	case *Phone:
		*d = *src.(*Phone)
	case *Email:
		*d = *src.(*Email)
	case *Website:
		*d = *src.(*Website)
	case *Chat:
		*d = *src.(*Chat)
	case *TaxIdentifier:
		*d = *src.(*TaxIdentifier)
	}
}

func scalarCopy(c *Contact) Contact {
	out := *c
	out.Addresses, out.Phones, out.Emails = nil, nil, nil
	out.Websites, out.Chats, out.TaxIdentifiers = nil, nil, nil
	if c.DeletedAt != nil {
		at := *c.DeletedAt
		out.DeletedAt = &at
	}
	return out
}
