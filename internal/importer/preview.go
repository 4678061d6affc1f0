package importer

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/contacthub/internal/config"
	"github.com/JonMunkholm/contacthub/internal/contact"
	"github.com/JonMunkholm/contacthub/internal/fingerprint"
)

// Sample limits
const (
	maxNewRowSamples    = 10
	maxMergeSamples     = 10
	maxErrorSamples     = 20
	maxDuplicateSamples = 10
)

// PreviewSummary counts what an import would do. NewRows+MergeRows+ErrorRows
// equals TotalRows; DuplicateInFile counts rows sharing an email with an
// earlier row of the same file.
type PreviewSummary struct {
	TotalRows       int `json:"totalRows"`
	NewRows         int `json:"newRows"`
	MergeRows       int `json:"mergeRows"`
	ErrorRows       int `json:"errorRows"`
	DuplicateInFile int `json:"duplicateInFile"`
}

// RowPreview is a row that would create a contact.
type RowPreview struct {
	Index int       `json:"index"`
	Row   ImportRow `json:"row"`
}

// MergePreview is a row that would merge into an existing contact.
type MergePreview struct {
	Index     int       `json:"index"`
	ContactID uuid.UUID `json:"contactId"`
	Row       ImportRow `json:"row"`
}

// DuplicatePreview lists the rows sharing one normalized email.
type DuplicatePreview struct {
	Email   string `json:"email"`
	Indexes []int  `json:"indexes"`
}

// PreviewResponse is the read-only analysis of a batch.
type PreviewResponse struct {
	Summary          PreviewSummary        `json:"summary"`
	NewRowSamples    []RowPreview          `json:"newRowSamples"`
	MergeSamples     []MergePreview        `json:"mergeSamples"`
	ErrorSamples     []RowError[ImportRow] `json:"errorSamples"`
	DuplicateSamples []DuplicatePreview    `json:"duplicateSamples"`
	ProcessingTimeMs int64                 `json:"processingTimeMs"`
}

// payloadValidator is implemented by engines that can check a payload
// without writing it. contact.Engine does.
type payloadValidator interface {
	Validate(p contact.Payload) error
}

// Preview analyses rows without writing anything. Rows are validated when
// the engine supports it; with email matching, rows owning an email of an
// active contact are reported as merges.
func (o *Orchestrator) Preview(ctx context.Context, tenantID uuid.UUID, rows []ImportRow) (*PreviewResponse, error) {
	start := time.Now()
	v, _ := o.engine.(payloadValidator)

	resp := &PreviewResponse{
		Summary:          PreviewSummary{TotalRows: len(rows)},
		NewRowSamples:    []RowPreview{},
		MergeSamples:     []MergePreview{},
		ErrorSamples:     []RowError[ImportRow]{},
		DuplicateSamples: []DuplicatePreview{},
	}

	seen := make(map[string]int) // email fingerprint -> index into groups
	var groups []DuplicatePreview

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := row.ToPayload()
		if err == nil && v != nil {
			err = v.Validate(p)
		}
		if err != nil {
			resp.Summary.ErrorRows++
			if len(resp.ErrorSamples) < maxErrorSamples {
				resp.ErrorSamples = append(resp.ErrorSamples, RowError[ImportRow]{Index: i, Reason: err.Error(), Row: row})
			}
			continue
		}

		duplicate := false
		for _, in := range p.Emails {
			fp, n := fingerprint.Email(in.Address)
			if n == "" {
				continue
			}
			if g, ok := seen[fp]; ok {
				idx := groups[g].Indexes
				if idx[len(idx)-1] == i {
					continue
				}
				groups[g].Indexes = append(idx, i)
				duplicate = true
				continue
			}
			seen[fp] = len(groups)
			groups = append(groups, DuplicatePreview{Email: n, Indexes: []int{i}})
		}
		if duplicate {
			resp.Summary.DuplicateInFile++
		}

		if o.match == config.MatchEmail {
			id, found, err := o.engine.FindByEmail(ctx, tenantID, p)
			if err != nil {
				return nil, err
			}
			if found {
				resp.Summary.MergeRows++
				if len(resp.MergeSamples) < maxMergeSamples {
					resp.MergeSamples = append(resp.MergeSamples, MergePreview{Index: i, ContactID: id, Row: row})
				}
				continue
			}
		}

		resp.Summary.NewRows++
		if len(resp.NewRowSamples) < maxNewRowSamples {
			resp.NewRowSamples = append(resp.NewRowSamples, RowPreview{Index: i, Row: row})
		}
	}

	for _, g := range groups {
		if len(g.Indexes) < 2 {
			continue
		}
		resp.DuplicateSamples = append(resp.DuplicateSamples, g)
		if len(resp.DuplicateSamples) == maxDuplicateSamples {
			break
		}
	}

	resp.ProcessingTimeMs = time.Since(start).Milliseconds()
	return resp, nil
}

// Preview parses r with the mapping for headerHash and reports what Import
// would do, without taking an import slot or writing contacts.
func (f *FileImporter) Preview(ctx context.Context, tenantID uuid.UUID, headerHash string, r io.Reader) (*PreviewResponse, error) {
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	rows, err := f.parse(ctx, headerHash, r)
	if err != nil {
		return nil, err
	}
	return f.orchestrator.Preview(ctx, tenantID, rows)
}
