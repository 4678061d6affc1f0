// Package importer turns batches of rows into contacts.
//
// Every row is isolated: a row that fails validation, hits a database error
// or panics is reported in the response and the batch moves on. Rows are
// processed in order by default; IMPORT_WORKERS > 1 processes that many rows
// at once, which keeps per-row isolation and error indexes but no longer
// orders the writes.
package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/contacthub/internal/audit"
	"github.com/JonMunkholm/contacthub/internal/config"
	"github.com/JonMunkholm/contacthub/internal/contact"
	"github.com/JonMunkholm/contacthub/internal/logging"
)

// RowError describes one failed row. Index is the row's position in the
// submitted batch.
type RowError[T any] struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
	Row    T      `json:"row"`
}

// BulkResponse summarizes a batch. Created+Failed always equals Total and
// Errors holds one entry per failed row, ordered by index.
type BulkResponse[T any] struct {
	Total   int           `json:"total"`
	Created int           `json:"created"`
	Failed  int           `json:"failed"`
	Errors  []RowError[T] `json:"errors"`
}

// Engine is the part of contact.Engine the orchestrator drives.
type Engine interface {
	CreateOrMerge(ctx context.Context, tenantID, ownerID uuid.UUID, contactID *uuid.UUID, p contact.Payload) (*contact.Contact, error)
	FindByEmail(ctx context.Context, tenantID uuid.UUID, p contact.Payload) (uuid.UUID, bool, error)
}

// Observer receives one call per finished batch. metrics.Metrics implements it.
type Observer interface {
	ObserveImport(source string, created, failed int, elapsed time.Duration)
}

// Batch sources reported to the observer and the audit log.
const (
	SourceFile = "file"
	SourceBulk = "bulk"
)

// Config holds orchestrator settings.
type Config struct {
	Workers int    // Rows processed at once (default: 1)
	Match   string // Contact identity: config.MatchNone or config.MatchEmail (default: none)
}

// Orchestrator runs import and bulk-create batches against the engine.
type Orchestrator struct {
	engine   Engine
	audit    audit.Logger
	observer Observer
	workers  int
	match    string
}

// NewOrchestrator wires an Orchestrator. auditLog and observer may be nil.
func NewOrchestrator(engine Engine, auditLog audit.Logger, observer Observer, cfg Config) *Orchestrator {
	if auditLog == nil {
		auditLog = audit.Nop{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Match == "" {
		cfg.Match = config.MatchNone
	}
	return &Orchestrator{
		engine:   engine,
		audit:    auditLog,
		observer: observer,
		workers:  cfg.Workers,
		match:    cfg.Match,
	}
}

// ImportContacts creates one contact per flattened row.
func (o *Orchestrator) ImportContacts(ctx context.Context, tenantID, ownerID uuid.UUID, rows []ImportRow) BulkResponse[ImportRow] {
	return run(ctx, o, SourceFile, tenantID, ownerID, rows)
}

// BulkCreate creates or merges one contact per nested row.
func (o *Orchestrator) BulkCreate(ctx context.Context, tenantID, ownerID uuid.UUID, rows []ContactRow) BulkResponse[ContactRow] {
	return run(ctx, o, SourceBulk, tenantID, ownerID, rows)
}

func run[T Row](ctx context.Context, o *Orchestrator, source string, tenantID, ownerID uuid.UUID, rows []T) BulkResponse[T] {
	start := time.Now()
	failures := make([]error, len(rows))

	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			failures[i] = err
			continue
		}
		g.Go(func() error {
			failures[i] = o.processRow(ctx, tenantID, ownerID, row)
			return nil
		})
	}
	_ = g.Wait()

	resp := BulkResponse[T]{Total: len(rows), Errors: []RowError[T]{}}
	for i, err := range failures {
		if err == nil {
			resp.Created++
			continue
		}
		resp.Failed++
		resp.Errors = append(resp.Errors, RowError[T]{Index: i, Reason: err.Error(), Row: rows[i]})
	}

	elapsed := time.Since(start)
	if o.observer != nil {
		o.observer.ObserveImport(source, resp.Created, resp.Failed, elapsed)
	}
	logging.FromContext(ctx).Info("import completed",
		"source", source,
		"tenant_id", tenantID,
		"total", resp.Total,
		"created", resp.Created,
		"failed", resp.Failed,
		"duration_ms", elapsed.Milliseconds(),
	)
	o.audit.Record(ctx, audit.Entry{
		Action:     audit.ActionContactImport,
		TenantID:   tenantID,
		UserID:     ownerID,
		EntityType: "contact",
		Details: map[string]any{
			"source":  source,
			"total":   resp.Total,
			"created": resp.Created,
			"failed":  resp.Failed,
		},
	})
	return resp
}

// processRow creates or merges one row. A panic is reported as the row's
// failure.
func (o *Orchestrator) processRow(ctx context.Context, tenantID, ownerID uuid.UUID, row Row) (err error) {
	defer func() {
		if p := recover(); p != nil {
			logging.FromContext(ctx).Error("import row panicked", "panic", p)
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := row.ToPayload()
	if err != nil {
		return err
	}

	var target *uuid.UUID
	if t, ok := row.(targeted); ok {
		target = t.Target()
	}
	if target == nil && o.match == config.MatchEmail {
		id, found, err := o.engine.FindByEmail(ctx, tenantID, p)
		if err != nil {
			return err
		}
		if found {
			target = &id
		}
	}

	_, err = o.engine.CreateOrMerge(ctx, tenantID, ownerID, target, p)
	return err
}
