package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/contacthub/internal/apperror"
	"github.com/JonMunkholm/contacthub/internal/database"
)

const mappingColumns = `id, header_hash, header_hash_algorithm, headers, header_normalized, entity_type, rules, created_at, updated_at`

// PostgresStore is a Store over the mappings table.
type PostgresStore struct {
	db database.DBTX
}

func NewPostgresStore(db database.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindByHash(ctx context.Context, hash string) (*Mapping, error) {
	row := s.db.QueryRow(ctx, `SELECT `+mappingColumns+` FROM mappings WHERE header_hash = $1`, hash)
	m, err := scanMapping(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("mapping", hash)
	}
	if err != nil {
		return nil, fmt.Errorf("find mapping %s: %w", hash, err)
	}
	return m, nil
}

// Insert relies on the unique index on header_hash: a conflicting insert
// returns no row and the winner is re-read.
func (s *PostgresStore) Insert(ctx context.Context, m *Mapping) (*Mapping, bool, error) {
	headers, normalized, rules, err := encodeJSON(m.Headers, m.HeaderNormalized, m.Rules)
	if err != nil {
		return nil, false, err
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO mappings (id, header_hash, header_hash_algorithm, headers, header_normalized, entity_type, rules)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (header_hash) DO NOTHING
		RETURNING `+mappingColumns,
		m.ID, m.HeaderHash, m.HeaderHashAlgorithm, headers, normalized, string(m.EntityType), rules,
	)
	created, err := scanMapping(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert mapping %s: %w", m.HeaderHash, err)
	}

	existing, err := s.FindByHash(ctx, m.HeaderHash)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *PostgresStore) Update(ctx context.Context, hash string, p Patch) (*Mapping, error) {
	var headers, normalized, rules []byte
	var err error
	if p.Headers != nil {
		if headers, err = json.Marshal(*p.Headers); err != nil {
			return nil, err
		}
	}
	if p.HeaderNormalized != nil {
		if normalized, err = json.Marshal(*p.HeaderNormalized); err != nil {
			return nil, err
		}
	}
	setRules := p.Rules != nil
	if setRules && *p.Rules != nil {
		if rules, err = json.Marshal(*p.Rules); err != nil {
			return nil, err
		}
	}
	var entityType *string
	if p.EntityType != nil {
		et := string(*p.EntityType)
		entityType = &et
	}

	row := s.db.QueryRow(ctx, `
		UPDATE mappings SET
			headers           = COALESCE($2::jsonb, headers),
			header_normalized = COALESCE($3::jsonb, header_normalized),
			entity_type       = COALESCE($4::text, entity_type),
			rules             = CASE WHEN $5::bool THEN $6::jsonb ELSE rules END,
			updated_at        = now()
		WHERE header_hash = $1
		RETURNING `+mappingColumns,
		hash, headers, normalized, entityType, setRules, rules,
	)
	m, err := scanMapping(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("mapping", hash)
	}
	if err != nil {
		return nil, fmt.Errorf("update mapping %s: %w", hash, err)
	}
	return m, nil
}

func scanMapping(row pgx.Row) (*Mapping, error) {
	var (
		m                          Mapping
		entityType                 string
		headers, normalized, rules []byte
	)
	if err := row.Scan(
		&m.ID, &m.HeaderHash, &m.HeaderHashAlgorithm,
		&headers, &normalized, &entityType, &rules,
		&m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.EntityType = EntityType(entityType)
	if err := json.Unmarshal(headers, &m.Headers); err != nil {
		return nil, fmt.Errorf("decode headers: %w", err)
	}
	if err := json.Unmarshal(normalized, &m.HeaderNormalized); err != nil {
		return nil, fmt.Errorf("decode header_normalized: %w", err)
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &m.Rules); err != nil {
			return nil, fmt.Errorf("decode rules: %w", err)
		}
	}
	return &m, nil
}

func encodeJSON(headers, normalized []string, rules Rules) (h, n, r []byte, err error) {
	if h, err = json.Marshal(headers); err != nil {
		return
	}
	if n, err = json.Marshal(normalized); err != nil {
		return
	}
	if rules != nil {
		r, err = json.Marshal(rules)
	}
	return
}
