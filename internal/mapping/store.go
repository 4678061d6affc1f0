package mapping

import (
	"context"
	"sync"
	"time"

	"github.com/JonMunkholm/contacthub/internal/apperror"
)

// Store persists mappings keyed by header hash.
type Store interface {
	// FindByHash returns an apperror not-found error when no mapping exists.
	FindByHash(ctx context.Context, hash string) (*Mapping, error)

	// Insert stores m unless a mapping with the same hash exists. It returns
	// the stored mapping and whether this call created it; concurrent inserts
	// of one hash yield exactly one created=true.
	Insert(ctx context.Context, m *Mapping) (*Mapping, bool, error)

	// Update applies p to the mapping for hash.
	Update(ctx context.Context, hash string, p Patch) (*Mapping, error)
}

// MemoryStore is a Store backed by a map. The CLI uses it for dry runs.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*Mapping
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Mapping), now: time.Now}
}

func (s *MemoryStore) FindByHash(_ context.Context, hash string) (*Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[hash]
	if !ok {
		return nil, apperror.NotFound("mapping", hash)
	}
	return m.Clone(), nil
}

func (s *MemoryStore) Insert(_ context.Context, m *Mapping) (*Mapping, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byID[m.HeaderHash]; ok {
		return existing.Clone(), false, nil
	}
	stored := m.Clone()
	now := s.now().UTC()
	stored.CreatedAt, stored.UpdatedAt = now, now
	s.byID[m.HeaderHash] = stored
	return stored.Clone(), true, nil
}

func (s *MemoryStore) Update(_ context.Context, hash string, p Patch) (*Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[hash]
	if !ok {
		return nil, apperror.NotFound("mapping", hash)
	}
	updated := p.apply(m, s.now().UTC())
	s.byID[hash] = updated
	return updated.Clone(), nil
}

// Len returns the number of stored mappings.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
