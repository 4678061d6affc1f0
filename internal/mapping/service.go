package mapping

import (
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/JonMunkholm/contacthub/internal/apperror"
	"github.com/JonMunkholm/contacthub/internal/audit"
	"github.com/JonMunkholm/contacthub/internal/fingerprint"
	"github.com/JonMunkholm/contacthub/internal/logging"
	"github.com/JonMunkholm/contacthub/internal/normalize"
)

// FindOrCreateInput is the caller's view of a header layout. HeaderHash must
// equal fingerprint.Headers(HeaderNormalized).
type FindOrCreateInput struct {
	EntityType          EntityType
	Headers             []string
	HeaderNormalized    []string
	HeaderHash          string
	HeaderHashAlgorithm string
}

// Service resolves header layouts to mappings and manages their rules.
type Service struct {
	store Store
	cache Cache
	rules *RuleSet
	audit audit.Logger
}

// NewService wires a Service. A nil cache or audit logger disables that concern.
func NewService(store Store, cache Cache, auditLog audit.Logger) (*Service, error) {
	rules, err := NewRuleSet()
	if err != nil {
		return nil, err
	}
	if auditLog == nil {
		auditLog = audit.Nop{}
	}
	return &Service{store: store, cache: cache, rules: rules, audit: auditLog}, nil
}

// FindByHash returns the mapping for hash or an apperror not-found error.
func (s *Service) FindByHash(ctx context.Context, hash string) (*Mapping, error) {
	if s.cache != nil {
		if m, ok := s.cache.Get(ctx, hash); ok {
			return m, nil
		}
	}
	m, err := s.store.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, m)
	}
	return m, nil
}

// FindOrCreate returns the mapping for in's layout, creating it on first
// sight. The supplied hash is recomputed from HeaderNormalized; a mismatch is
// rejected before anything is read or written.
func (s *Service) FindOrCreate(ctx context.Context, in FindOrCreateInput) (*Mapping, bool, error) {
	if err := s.verify(in); err != nil {
		return nil, false, err
	}

	existing, err := s.FindByHash(ctx, in.HeaderHash)
	if err == nil {
		return existing, false, nil
	}
	if !apperror.IsNotFound(err) {
		return nil, false, err
	}

	entityType := in.EntityType
	if entityType == "" {
		entityType = EntityContact
	}
	candidate := &Mapping{
		ID:                  uuid.New(),
		HeaderHash:          in.HeaderHash,
		HeaderHashAlgorithm: fingerprint.Algorithm,
		Headers:             slices.Clone(in.Headers),
		HeaderNormalized:    slices.Clone(in.HeaderNormalized),
		EntityType:          entityType,
		Rules:               s.rules.Suggest(in.HeaderNormalized),
	}

	m, created, err := s.store.Insert(ctx, candidate)
	if err != nil {
		return nil, false, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, m)
	}
	if created {
		logging.FromContext(ctx).Info("mapping created",
			"header_hash", m.HeaderHash,
			"columns", len(m.Headers),
			"suggested_rules", len(m.Rules),
		)
		s.audit.Record(ctx, audit.Entry{
			Action:     audit.ActionMappingCreate,
			EntityType: "mapping",
			EntityID:   m.HeaderHash,
			Details:    map[string]any{"headers": m.Headers},
		})
	}
	return m, created, nil
}

func (s *Service) verify(in FindOrCreateInput) error {
	if len(in.HeaderNormalized) == 0 {
		return apperror.Validation("headerNormalized is required")
	}
	if len(in.Headers) != len(in.HeaderNormalized) {
		return apperror.Validation("headers and headerNormalized must have the same length (%d != %d)",
			len(in.Headers), len(in.HeaderNormalized))
	}
	if in.EntityType != "" && !in.EntityType.Valid() {
		return apperror.Validation("invalid entityType %q", in.EntityType)
	}
	if !fingerprint.Supported(in.HeaderHashAlgorithm) {
		return apperror.Validation("unsupported hash algorithm %q", in.HeaderHashAlgorithm).WithCode("MAP004")
	}
	if want := fingerprint.Headers(in.HeaderNormalized); want != in.HeaderHash {
		return apperror.Validation("hash mismatch: supplied %q does not match headerNormalized", in.HeaderHash).WithCode("MAP001")
	}
	return checkNormalized(in.Headers, in.HeaderNormalized)
}

// checkNormalized requires every normalized column to be normalize.Header of
// its raw header, so rules and uploads hash the layout the same way. The
// lists must have equal length.
func checkNormalized(headers, normalized []string) error {
	for i, h := range headers {
		if want := normalize.Header(h); normalized[i] != want {
			return apperror.Validation("hash mismatch: headerNormalized[%d] is %q, header %q normalizes to %q",
				i, normalized[i], h, want).WithCode("MAP001")
		}
	}
	return nil
}

// Update applies a partial update. A changed header list must still hash to
// the mapping's key, and rules are revalidated against the resulting headers.
func (s *Service) Update(ctx context.Context, hash string, p Patch) (*Mapping, error) {
	current, err := s.store.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if p.Empty() {
		return current, nil
	}

	next := p.apply(current, current.UpdatedAt)
	if len(next.Headers) != len(next.HeaderNormalized) {
		return nil, apperror.Validation("headers and headerNormalized must have the same length (%d != %d)",
			len(next.Headers), len(next.HeaderNormalized))
	}
	if p.HeaderNormalized != nil && fingerprint.Headers(next.HeaderNormalized) != hash {
		return nil, apperror.Validation("hash mismatch: headerNormalized no longer hashes to %q", hash).WithCode("MAP001")
	}
	if p.Headers != nil || p.HeaderNormalized != nil {
		if err := checkNormalized(next.Headers, next.HeaderNormalized); err != nil {
			return nil, err
		}
	}
	if p.EntityType != nil && !p.EntityType.Valid() {
		return nil, apperror.Validation("invalid entityType %q", *p.EntityType)
	}
	if p.Rules != nil {
		rules, err := s.rules.Normalize(*p.Rules, next.HeaderNormalized)
		if err != nil {
			return nil, err
		}
		p.Rules = &rules
	}

	return s.commit(ctx, hash, p)
}

// UpdateMappingRules replaces the rules of the mapping for hash.
func (s *Service) UpdateMappingRules(ctx context.Context, hash string, rules Rules) (*Mapping, error) {
	return s.Update(ctx, hash, Patch{Rules: &rules})
}

// GetMappingRulesByHash returns the rules of the mapping for hash, nil when
// none are configured.
func (s *Service) GetMappingRulesByHash(ctx context.Context, hash string) (Rules, error) {
	m, err := s.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	return m.Rules, nil
}

// ClearCache drops every cached mapping.
func (s *Service) ClearCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Clear(ctx)
}

func (s *Service) commit(ctx context.Context, hash string, p Patch) (*Mapping, error) {
	m, err := s.store.Update(ctx, hash, p)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Delete(ctx, hash)
	}
	s.audit.Record(ctx, audit.Entry{
		Action:     audit.ActionMappingUpdate,
		EntityType: "mapping",
		EntityID:   hash,
		Details:    map[string]any{"rules": len(m.Rules)},
	})
	return m, nil
}
