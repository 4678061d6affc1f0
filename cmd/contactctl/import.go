package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/contacthub/internal/audit"
	"github.com/JonMunkholm/contacthub/internal/config"
	"github.com/JonMunkholm/contacthub/internal/contact"
	"github.com/JonMunkholm/contacthub/internal/database"
	"github.com/JonMunkholm/contacthub/internal/importer"
	"github.com/JonMunkholm/contacthub/internal/mapping"
	"github.com/JonMunkholm/contacthub/internal/reqctx"
)

type importOptions struct {
	file          string
	tenantID      uuid.UUID
	ownerID       uuid.UUID
	headerHash    string
	createMapping bool
	workers       int
	match         string
	maxRows       int
	dryRun        bool
}

func newImportCmd() *cobra.Command {
	var (
		opts          importOptions
		tenant, owner string
	)

	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import a CSV file for a tenant directly into the database",
		Long: "Resolves the file's header layout to a mapping (by its own header hash\n" +
			"unless --header-hash is given), then imports every row as the given owner.\n" +
			"Rows that fail are reported; the exit status is 1 when any row failed.",
		Args: cobra.ExactArgs(1),
		PreRunE: func(_ *cobra.Command, args []string) error {
			var err error
			if opts.tenantID, err = uuid.Parse(strings.TrimSpace(tenant)); err != nil {
				return withCode(exitUsage, fmt.Errorf("invalid --tenant: %w", err))
			}
			if opts.ownerID, err = uuid.Parse(strings.TrimSpace(owner)); err != nil {
				return withCode(exitUsage, fmt.Errorf("invalid --owner: %w", err))
			}
			if opts.match != config.MatchNone && opts.match != config.MatchEmail {
				return withCode(exitUsage, fmt.Errorf("unsupported --match %q (want %s or %s)", opts.match, config.MatchNone, config.MatchEmail))
			}
			if args[0] == "-" {
				return withCode(exitUsage, fmt.Errorf("import reads the file twice and needs a path, not -"))
			}
			opts.file = args[0]
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runImport(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant UUID (required)")
	cmd.Flags().StringVar(&owner, "owner", "", "Owner user UUID stamped on new rows (required)")
	cmd.Flags().StringVar(&opts.headerHash, "header-hash", "", "Mapping to use (default: the file's own header hash)")
	cmd.Flags().BoolVar(&opts.createMapping, "create-mapping", false, "Create the mapping with suggested rules if it does not exist")
	cmd.Flags().IntVar(&opts.workers, "workers", 1, "Rows processed at once")
	cmd.Flags().StringVar(&opts.match, "match", config.MatchNone, "Contact identity: none or email")
	cmd.Flags().IntVar(&opts.maxRows, "max-rows", 0, "Reject files with more data rows (0: unlimited)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Report what the import would do without writing contacts")

	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}

func runImport(ctx context.Context, out io.Writer, opts importOptions) error {
	layout, err := hashFile(nil, opts.file)
	if err != nil {
		return err
	}
	hash := opts.headerHash
	if hash == "" {
		hash = layout.HeaderHash
	}

	var dbCfg config.DatabaseConfig
	if err := config.LoadInto(&dbCfg); err != nil {
		return withCode(exitUsage, err)
	}
	pool, err := database.Open(ctx, dbCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	recorder := audit.NewRecorder(audit.NewPostgresSink(pool), 256)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := recorder.Close(flushCtx); err != nil {
			slog.Warn("audit recorder did not flush", "error", err)
		}
	}()

	// Audit entries carry the operator-supplied identity.
	ctx = reqctx.WithIdentity(ctx, reqctx.Identity{TenantID: opts.tenantID, UserID: opts.ownerID})

	mappings, err := mapping.NewService(mapping.NewPostgresStore(pool), nil, recorder)
	if err != nil {
		return err
	}
	m, err := resolveMapping(ctx, mappings, layout, hash, opts.createMapping)
	if err != nil {
		return err
	}
	slog.Info("mapping resolved", "header_hash", m.HeaderHash, "rules", len(m.Rules))

	f, err := os.Open(opts.file)
	if err != nil {
		return withCode(exitUsage, err)
	}
	defer f.Close()

	engine := contact.NewEngine(contact.NewPostgresStore(pool), recorder)
	orchestrator := importer.NewOrchestrator(engine, recorder, nil, importer.Config{
		Workers: opts.workers,
		Match:   opts.match,
	})
	files := importer.NewFileImporter(orchestrator, mappings, importer.NewLimiter(1, 0), importer.FileConfig{
		MaxRows: opts.maxRows,
	})

	if opts.dryRun {
		preview, err := files.Preview(ctx, opts.tenantID, m.HeaderHash, f)
		if err != nil {
			return err
		}
		return writeResult(out, preview)
	}

	resp, err := files.Import(ctx, opts.tenantID, opts.ownerID, m.HeaderHash, f)
	if err != nil {
		return err
	}
	if err := writeResult(out, resp); err != nil {
		return err
	}
	if resp.Failed > 0 {
		return withCode(exitFailure, fmt.Errorf("%d of %d rows failed", resp.Failed, resp.Total))
	}
	return nil
}

// resolveMapping looks the mapping up by hash, creating it from the file's
// own layout when asked to.
func resolveMapping(ctx context.Context, svc *mapping.Service, layout headerLayout, hash string, create bool) (*mapping.Mapping, error) {
	if !create || hash != layout.HeaderHash {
		return svc.FindByHash(ctx, hash)
	}
	m, created, err := svc.FindOrCreate(ctx, mapping.FindOrCreateInput{
		EntityType:          layout.EntityType,
		Headers:             layout.Headers,
		HeaderNormalized:    layout.HeaderNormalized,
		HeaderHash:          layout.HeaderHash,
		HeaderHashAlgorithm: layout.HeaderHashAlgorithm,
	})
	if err != nil {
		return nil, err
	}
	if created {
		slog.Warn("created mapping with suggested rules; review them before the next import",
			"header_hash", m.HeaderHash)
	}
	return m, nil
}

func writeResult(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
