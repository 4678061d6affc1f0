// Package mapping remembers tabular import layouts.
//
// A Mapping is keyed by the SHA-256 of its normalized, ordered header list and
// carries the column-to-field rules used to turn each row of a file with that
// layout into a contact. The first upload of a new layout creates the Mapping;
// every later upload with the same headers reuses it.
package mapping

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// EntityType is the kind of record a layout maps into.
type EntityType string

const EntityContact EntityType = "CONTACT"

// Valid reports whether t is a supported entity type.
func (t EntityType) Valid() bool {
	return t == EntityContact
}

// Rules maps a normalized source column to a canonical contact field.
type Rules map[string]string

// Clone returns an independent copy. Nil stays nil.
func (r Rules) Clone() Rules {
	if r == nil {
		return nil
	}
	out := make(Rules, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Mapping describes one recognized header layout.
type Mapping struct {
	ID                  uuid.UUID  `json:"id"`
	HeaderHash          string     `json:"headerHash"`
	HeaderHashAlgorithm string     `json:"headerHashAlgorithm"`
	Headers             []string   `json:"headers"`
	HeaderNormalized    []string   `json:"headerNormalized"`
	EntityType          EntityType `json:"entityType"`
	Rules               Rules      `json:"rules"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy so cached values cannot be mutated by callers.
func (m *Mapping) Clone() *Mapping {
	if m == nil {
		return nil
	}
	c := *m
	c.Headers = slices.Clone(m.Headers)
	c.HeaderNormalized = slices.Clone(m.HeaderNormalized)
	c.Rules = m.Rules.Clone()
	return &c
}

// Patch is a partial update. Nil fields are left unchanged; a non-nil Rules
// pointing at a nil map clears the rules. In JSON that is "rules": null.
type Patch struct {
	Headers          *[]string   `json:"headers,omitempty"`
	HeaderNormalized *[]string   `json:"headerNormalized,omitempty"`
	EntityType       *EntityType `json:"entityType,omitempty"`
	Rules            *Rules      `json:"rules,omitempty"`
}

// UnmarshalJSON reads a "rules" key that is present but null as a request
// to clear the rules, which the default decoding cannot tell from absence.
func (p *Patch) UnmarshalJSON(data []byte) error {
	type plain Patch
	var raw struct {
		plain
		Rules json.RawMessage `json:"rules"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Patch(raw.plain)
	if raw.Rules != nil {
		var rules Rules
		if err := json.Unmarshal(raw.Rules, &rules); err != nil {
			return err
		}
		p.Rules = &rules
	}
	return nil
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Headers == nil && p.HeaderNormalized == nil && p.EntityType == nil && p.Rules == nil
}

// apply returns m with p applied.
func (p Patch) apply(m *Mapping, now time.Time) *Mapping {
	out := m.Clone()
	if p.Headers != nil {
		out.Headers = slices.Clone(*p.Headers)
	}
	if p.HeaderNormalized != nil {
		out.HeaderNormalized = slices.Clone(*p.HeaderNormalized)
	}
	if p.EntityType != nil {
		out.EntityType = *p.EntityType
	}
	if p.Rules != nil {
		out.Rules = p.Rules.Clone()
	}
	out.UpdatedAt = now
	return out
}
