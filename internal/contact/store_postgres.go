package contact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/contacthub/internal/apperror"
	"github.com/JonMunkholm/contacthub/internal/database"
)

const contactColumns = `id, tenant_id, owner_id, first_name, last_name, company, job_title, notes, created_at, updated_at, deleted_at`

// tableSpec describes the sub-entity table of one kind.
type tableSpec struct {
	table    string
	identity []string
	upsert   string
	selectBy string
}

var tables = map[Kind]*tableSpec{
	KindAddress: newTableSpec("addresses", "street", "street2", "city", "state", "postal_code", "country"),
	KindPhone:   newTableSpec("phones", "number"),
	KindEmail:   newTableSpec("emails", "address"),
	KindWebsite: newTableSpec("websites", "url"),
	KindChat:    newTableSpec("chats", "platform", "handle"),
	KindTaxID:   newTableSpec("tax_identifiers", "kind", "value"),
}

func newTableSpec(table string, identity ...string) *tableSpec {
	n := len(identity)
	cols := `id, tenant_id, contact_id, owner_id, fingerprint, ` + strings.Join(identity, ", ") +
		`, label, is_primary, created_at, updated_at, deleted_at`

	params := make([]string, 0, n)
	for i := range identity {
		params = append(params, fmt.Sprintf("$%d", 6+i))
	}
	label, primary, now := 6+n, 7+n, 8+n

	upsert := fmt.Sprintf(`
		INSERT INTO %[1]s (id, tenant_id, contact_id, owner_id, fingerprint, %[2]s, label, is_primary, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, %[3]s, COALESCE($%[4]d::text, ''), COALESCE($%[5]d::boolean, false), $%[6]d, $%[6]d)
		ON CONFLICT (tenant_id, contact_id, fingerprint) DO UPDATE SET
			label = COALESCE($%[4]d::text, %[1]s.label),
			is_primary = COALESCE($%[5]d::boolean, %[1]s.is_primary),
			deleted_at = NULL,
			updated_at = $%[6]d
		RETURNING %[7]s, (xmax = 0)`,
		table, strings.Join(identity, ", "), strings.Join(params, ", "), label, primary, now, cols)

	return &tableSpec{
		table:    table,
		identity: identity,
		upsert:   upsert,
		selectBy: `SELECT ` + cols + ` FROM ` + table + ` WHERE contact_id = ANY($1) ORDER BY created_at, id`,
	}
}

// PostgresStore is a Store over the contacts table and its sub-entity tables.
type PostgresStore struct {
	db database.DBTX
}

func NewPostgresStore(db database.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) InsertContact(ctx context.Context, c *Contact) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO contacts (id, tenant_id, owner_id, first_name, last_name, company, job_title, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.TenantID, c.OwnerID, c.FirstName, c.LastName, c.Company, c.JobTitle, c.Notes, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetContact(ctx context.Context, tenantID, id uuid.UUID) (*Contact, error) {
	row := s.db.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	c, err := scanContact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("contact", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get contact %s: %w", id, err)
	}
	if err := s.loadChildren(ctx, []*Contact{c}); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PostgresStore) UpdateContact(ctx context.Context, c *Contact) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE contacts
		SET first_name = $3, last_name = $4, company = $5, job_title = $6, notes = $7, updated_at = $8
		WHERE id = $1 AND tenant_id = $2`,
		c.ID, c.TenantID, c.FirstName, c.LastName, c.Company, c.JobTitle, c.Notes, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update contact %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("contact", c.ID)
	}
	return nil
}

func (s *PostgresStore) SetDeletedAt(ctx context.Context, tenantID, id uuid.UUID, at *time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE contacts SET deleted_at = $3 WHERE id = $1 AND tenant_id = $2`, id, tenantID, at)
	if err != nil {
		return fmt.Errorf("set deleted_at on contact %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("contact", id)
	}
	return nil
}

// DeleteContact relies on ON DELETE CASCADE to remove sub-entities.
func (s *PostgresStore) DeleteContact(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM contacts WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete contact %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("contact", id)
	}
	return nil
}

func (s *PostgresStore) ListContacts(ctx context.Context, tenantID uuid.UUID, opts ListOptions) ([]*Contact, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+contactColumns+` FROM contacts
		WHERE tenant_id = $1 AND (deleted_at IS NOT NULL) = $2
		ORDER BY created_at DESC, id
		LIMIT NULLIF($3::int, 0) OFFSET $4`,
		tenantID, opts.Trashed, opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	contacts := []*Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	if err := s.loadChildren(ctx, contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (s *PostgresStore) PurgeTrash(ctx context.Context, tenantID *uuid.UUID, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `
		DELETE FROM contacts
		WHERE deleted_at IS NOT NULL AND deleted_at <= $1 AND ($2::uuid IS NULL OR tenant_id = $2)
		RETURNING id`,
		cutoff, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("purge trash: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("purge trash: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) FindActiveByEmail(ctx context.Context, tenantID uuid.UUID, fingerprints []string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx, `
		SELECT c.id FROM emails e
		JOIN contacts c ON c.id = e.contact_id
		WHERE e.tenant_id = $1 AND e.fingerprint = ANY($2) AND c.deleted_at IS NULL
		ORDER BY c.created_at, c.id
		LIMIT 1`,
		tenantID, fingerprints,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("find contact by email: %w", err)
	}
	return id, true, nil
}

// Upsert is a single statement: the unique index on
// (tenant_id, contact_id, fingerprint) serializes concurrent writers, and
// xmax = 0 distinguishes an inserted row from an updated one.
func (s *PostgresStore) Upsert(ctx context.Context, e Entity, attrs Attrs, now time.Time) (bool, error) {
	spec := tables[e.kind()]
	b := e.Base()

	args := []any{uuid.New(), b.TenantID, b.ContactID, b.OwnerID, b.Fingerprint}
	args = append(args, e.identity()...)
	args = append(args, attrs.Label, attrs.IsPrimary, now)

	var created bool
	dest := append(entityTargets(e), &created)
	if err := s.db.QueryRow(ctx, spec.upsert, args...).Scan(dest...); err != nil {
		return false, fmt.Errorf("upsert %s: %w", e.kind(), err)
	}
	return created, nil
}

// loadChildren fills the sub-entity collections of every contact in cs.
func (s *PostgresStore) loadChildren(ctx context.Context, cs []*Contact) error {
	if len(cs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(cs))
	byID := make(map[uuid.UUID]*Contact, len(cs))
	for i, c := range cs {
		ids[i] = c.ID
		byID[c.ID] = c
	}

	for _, k := range Kinds {
		rows, err := s.db.Query(ctx, tables[k].selectBy, ids)
		if err != nil {
			return fmt.Errorf("load %s rows: %w", k, err)
		}
		for rows.Next() {
			e := newEntity(k)
			if err := rows.Scan(entityTargets(e)...); err != nil {
				rows.Close()
				return fmt.Errorf("scan %s: %w", k, err)
			}
			if c, ok := byID[e.Base().ContactID]; ok {
				c.attach(e)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("load %s rows: %w", k, err)
		}
	}
	return nil
}

func entityTargets(e Entity) []any {
	b := e.Base()
	dest := []any{&b.ID, &b.TenantID, &b.ContactID, &b.OwnerID, &b.Fingerprint}
	dest = append(dest, identityTargets(e)...)
	return append(dest, &b.Label, &b.IsPrimary, &b.CreatedAt, &b.UpdatedAt, &b.DeletedAt)
}

func scanContact(row pgx.Row) (*Contact, error) {
	var c Contact
	err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.OwnerID,
		&c.FirstName,
		&c.LastName,
		&c.Company,
		&c.JobTitle,
		&c.Notes,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
