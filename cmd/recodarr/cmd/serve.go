package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/recodarr/internal/backup"
	"github.com/jmylchreest/recodarr/internal/cache"
	"github.com/jmylchreest/recodarr/internal/config"
	"github.com/jmylchreest/recodarr/internal/database"
	"github.com/jmylchreest/recodarr/internal/database/migrations"
	"github.com/jmylchreest/recodarr/internal/events"
	"github.com/jmylchreest/recodarr/internal/ffmpeg"
	internalhttp "github.com/jmylchreest/recodarr/internal/http"
	"github.com/jmylchreest/recodarr/internal/http/handlers"
	"github.com/jmylchreest/recodarr/internal/ledger"
	"github.com/jmylchreest/recodarr/internal/observability"
	"github.com/jmylchreest/recodarr/internal/preset"
	"github.com/jmylchreest/recodarr/internal/queue"
	"github.com/jmylchreest/recodarr/internal/remote"
	"github.com/jmylchreest/recodarr/internal/repository"
	"github.com/jmylchreest/recodarr/internal/scheduler"
	"github.com/jmylchreest/recodarr/internal/startup"
	"github.com/jmylchreest/recodarr/internal/storage"
	"github.com/jmylchreest/recodarr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recodarr server",
	Long: `Start the recodarr pipeline and HTTP API.

The server provides:
- REST API for queueing files, steering the queue, and browsing the remote library
- Server-sent events stream at /api/v1/events
- Health check endpoint
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

var (
	startQueue    bool
	connectRemote bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&startQueue, "start-queue", true, "Start the pipeline workers immediately")
	serveCmd.Flags().BoolVar(&connectRemote, "connect", true, "Connect to the remote library on startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	// The store owns the live configuration; it re-reads the same file
	// and environment initConfig resolved.
	store, err := config.NewStore(cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	cfg := store.Config()

	logger := observability.NewLogger(loggingOverrides(cfg.Logging))
	observability.SetDefault(logger)

	// Database and schema.
	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Up(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	jobRepo := repository.NewJobRepository(db.DB)
	cacheRepo := repository.NewCacheRepository(db.DB)
	presetRepo := repository.NewPresetRepository(db.DB)

	// Local staging tree.
	staging := storage.NewStaging(cfg.Storage, logger)
	if err := staging.EnsureLayout(); err != nil {
		return fmt.Errorf("preparing staging directories: %w", err)
	}

	// Put jobs a crash left mid-phase back where their worker resumes.
	recovery := startup.New(jobRepo, staging, logger)
	report, err := recovery.Run(context.Background())
	if err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}
	if report.JobsReset > 0 || report.SentinelsCleared > 0 {
		logger.Info("recovered interrupted jobs",
			slog.Int64("jobs_reset", report.JobsReset),
			slog.Int("sentinels_cleared", report.SentinelsCleared),
		)
	}

	// Remote transports.
	rc, err := remote.NewClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("configuring remote transports: %w", err)
	}
	if connectRemote {
		if err := rc.Connect(context.Background()); err != nil {
			logger.Warn("remote library unreachable at startup, connect later via the API",
				slog.String("error", err.Error()))
		}
	}
	defer rc.Disconnect()

	// Pipeline services.
	bus := events.NewBus(logger)
	defer bus.Close()

	encoder := ffmpeg.NewEncoder(cfg.FFmpeg, logger)
	completions := ledger.New(rc, cfg.Remote.Path, logger)

	orchestrator := queue.New(cfg, jobRepo, rc, encoder, staging, completions, bus, logger)

	cacheSvc := cache.New(cacheRepo, rc, completions, bus, logger)
	cacheSvc.Start()
	defer cacheSvc.Stop()

	presetSvc := preset.New(presetRepo, rc, store, cfg.Remote.Path, logger)
	backupSvc := backup.New(db, cfg.Backup, logger)

	// Scheduled maintenance: nightly snapshots, job and ledger pruning,
	// index refresh.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(store, orchestrator, completions, backupSvc, cacheSvc, rc, logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	// Settings changed through the API take effect without a restart.
	unwatch := store.Watch(func(next *config.Config) {
		orchestrator.UpdateSettings(next)
		encoder.UpdateConfig(next.FFmpeg)
		staging.UpdateConfig(next.Storage)
		backupSvc.UpdateSettings(next.Backup)
		bus.Publish(events.TopicConfigChanged, map[string]any{"updated": true})
	})
	defer unwatch()

	// HTTP server and handlers.
	server := internalhttp.NewServer(internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger, version.Version)

	docsHandler := handlers.NewDocsHandler("recodarr API", "/openapi.yaml")
	server.Router().Get("/docs", docsHandler.ServeHTTP)

	handlers.NewHealthHandler(version.Version).
		WithDB(db.DB).
		WithStaging(staging).
		Register(server.API())

	handlers.NewJobHandler(orchestrator).Register(server.API())
	handlers.NewQueueHandler(orchestrator).Register(server.API())
	handlers.NewCacheHandler(cacheSvc).Register(server.API())
	handlers.NewPresetHandler(presetSvc).Register(server.API())
	handlers.NewConfigHandler(store).Register(server.API())

	transferHandler := handlers.NewTransferHandler(rc, cacheSvc, func() string {
		return store.Config().Storage.DefaultDownloadPath
	}, logger)
	transferHandler.Register(server.API())

	backupHandler := handlers.NewBackupHandler(backupSvc)
	backupHandler.Register(server.API())
	backupHandler.RegisterChiRoutes(server.Router())

	handlers.NewEventsHandler(bus, logger).RegisterChiRoutes(server.Router())

	if startQueue {
		if err := orchestrator.Start(); err != nil {
			return fmt.Errorf("starting queue: %w", err)
		}
	}
	defer orchestrator.Stop()

	// Graceful shutdown on SIGINT/SIGTERM.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting recodarr server",
		slog.String("address", cfg.Server.Address()),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}
