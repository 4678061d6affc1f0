package importer

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/contacthub/internal/apperror"
	"github.com/JonMunkholm/contacthub/internal/mapping"
)

// MappingSource resolves header hashes. mapping.Service implements it.
type MappingSource interface {
	FindByHash(ctx context.Context, hash string) (*mapping.Mapping, error)
}

// FileConfig holds file import settings.
type FileConfig struct {
	MaxRows int           // Data rows accepted per file; 0 means unlimited
	Timeout time.Duration // Upper bound for one import; 0 means none
}

// FileImporter runs CSV uploads: it takes an import slot, resolves the
// mapping named by the upload and feeds the parsed rows to the orchestrator.
type FileImporter struct {
	orchestrator *Orchestrator
	mappings     MappingSource
	limiter      *Limiter
	cfg          FileConfig
}

func NewFileImporter(o *Orchestrator, mappings MappingSource, limiter *Limiter, cfg FileConfig) *FileImporter {
	return &FileImporter{orchestrator: o, mappings: mappings, limiter: limiter, cfg: cfg}
}

// Limiter returns the slot limiter, for shutdown draining.
func (f *FileImporter) Limiter() *Limiter { return f.limiter }

// Import parses r with the mapping for headerHash and imports every row.
// Errors are returned only for problems with the file as a whole; row
// failures are reported in the response.
func (f *FileImporter) Import(ctx context.Context, tenantID, ownerID uuid.UUID, headerHash string, r io.Reader) (BulkResponse[ImportRow], error) {
	if err := f.limiter.Acquire(ctx); err != nil {
		return BulkResponse[ImportRow]{}, err
	}
	defer f.limiter.Release()

	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	rows, err := f.parse(ctx, headerHash, r)
	if err != nil {
		return BulkResponse[ImportRow]{}, err
	}
	return f.orchestrator.ImportContacts(ctx, tenantID, ownerID, rows), nil
}

func (f *FileImporter) parse(ctx context.Context, headerHash string, r io.Reader) ([]ImportRow, error) {
	m, err := f.mappings.FindByHash(ctx, headerHash)
	if err != nil {
		return nil, err
	}
	if m.EntityType != mapping.EntityContact {
		return nil, apperror.Validation("invalid entityType %q for a contact import", m.EntityType)
	}
	return ParseCSV(r, m, f.cfg.MaxRows)
}
