package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/contacthub/internal/audit"
	"github.com/JonMunkholm/contacthub/internal/config"
	"github.com/JonMunkholm/contacthub/internal/contact"
	"github.com/JonMunkholm/contacthub/internal/database"
	"github.com/JonMunkholm/contacthub/internal/importer"
	"github.com/JonMunkholm/contacthub/internal/logging"
	"github.com/JonMunkholm/contacthub/internal/mapping"
	"github.com/JonMunkholm/contacthub/internal/metrics"
	"github.com/JonMunkholm/contacthub/internal/web"
)

func main() {
	// Load .env file if it exists; real environment variables win
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()
	pool, err := database.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		applied, err := database.Migrate(ctx, pool)
		if err != nil {
			slog.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
		slog.Info("migrations applied", "count", applied)
	}

	// Audit sink: NATS when configured, the audit_log table otherwise
	var sink audit.Sink = audit.NewPostgresSink(pool)
	if cfg.Audit.NATSURL != "" {
		natsSink, err := audit.NewNATSSink(cfg.Audit.NATSURL, cfg.Audit.Subject)
		if err != nil {
			slog.Error("failed to connect audit sink", "error", err)
			os.Exit(1)
		}
		defer natsSink.Close()
		sink = natsSink
		slog.Info("audit events published to NATS", "subject", cfg.Audit.Subject)
	}
	recorder := audit.NewRecorder(sink, cfg.Audit.BufferSize)

	// Mapping cache: Redis when configured, in-process otherwise
	var cache mapping.Cache = mapping.NewMemoryCache(cfg.Cache.TTL)
	if cfg.Cache.RedisURL != "" {
		redisCache, err := mapping.NewRedisCache(ctx, cfg.Cache.RedisURL, cfg.Cache.TTL)
		if err != nil {
			slog.Error("failed to connect mapping cache", "error", err)
			os.Exit(1)
		}
		defer redisCache.Close()
		cache = redisCache
		slog.Info("mapping cache backed by redis")
	}

	mappings, err := mapping.NewService(mapping.NewPostgresStore(pool), cache, recorder)
	if err != nil {
		slog.Error("failed to create mapping service", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	engine := contact.NewEngine(contact.NewPostgresStore(pool), recorder, contact.WithObserver(m))
	orchestrator := importer.NewOrchestrator(engine, recorder, m, importer.Config{
		Workers: cfg.Import.Workers,
		Match:   cfg.Import.ContactMatch,
	})

	limiter := importer.NewLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime)
	limiter.OnChange(m.SetActiveImports)
	files := importer.NewFileImporter(orchestrator, mappings, limiter, importer.FileConfig{
		MaxRows: cfg.Import.MaxRows,
		Timeout: cfg.Import.Timeout,
	})

	server := web.NewServer(cfg, web.Services{
		Mappings: mappings,
		Contacts: engine,
		Imports:  orchestrator,
		Files:    files,
		Metrics:  m,
	})

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go engine.StartPurgeScheduler(jobCtx, contact.PurgeConfig{
		Retention:     cfg.Trash.Retention(),
		CheckInterval: cfg.Trash.CheckInterval,
	})

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Wait for active imports to complete (with timeout)
		if status := limiter.Status(); status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			} else {
				slog.Info("all imports completed")
			}
		}

		if err := recorder.Close(shutdownCtx); err != nil {
			slog.Warn("audit recorder did not flush", "error", err)
		}
		dropped, failed := recorder.Stats()
		slog.Info("audit recorder closed", "dropped", dropped, "failed", failed)
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		cancelJobs()
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}
