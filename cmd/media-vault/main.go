package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertextoedge/media-vault/internal/adapter/filesystem"
	"github.com/vertextoedge/media-vault/internal/adapter/sqlite"
	"github.com/vertextoedge/media-vault/internal/adapter/ytdlp"
	"github.com/vertextoedge/media-vault/internal/config"
	"github.com/vertextoedge/media-vault/internal/domain"
	"github.com/vertextoedge/media-vault/internal/domain/event"
	"github.com/vertextoedge/media-vault/internal/domain/service"
	"github.com/vertextoedge/media-vault/internal/domain/vo"
	"github.com/vertextoedge/media-vault/internal/logger"
	"github.com/vertextoedge/media-vault/internal/service/maintenance"
	"github.com/vertextoedge/media-vault/internal/service/orchestrator"
	"github.com/vertextoedge/media-vault/internal/service/server"
	"github.com/vertextoedge/media-vault/internal/service/streamer"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "media-vault",
		Short:         "Range-aware media server with a download orchestrator",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to configuration file")

	root.AddCommand(newServeCmd(&configPath), newFetchCmd(&configPath))
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server, download workers and maintenance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			return a.serve()
		},
	}
}

func newFetchCmd(configPath *string) *cobra.Command {
	var identity, format string

	cmd := &cobra.Command{
		Use:   "fetch <source>",
		Short: "Download one source into an identity's library and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			return a.fetch(cmd, identity, args[0], format)
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "Owning identity of the downloaded asset")
	cmd.Flags().StringVar(&format, "format", "", "Output format (mp3, m4a, opus, aac, flac, wav)")
	cmd.MarkFlagRequired("identity")
	return cmd
}

// app holds the wired components shared by serve and fetch
type app struct {
	cfg          *config.Config
	logger       *zap.Logger
	store        *sqlite.Store
	assets       *filesystem.Manager
	dispatcher   *event.InMemoryDispatcher
	metrics      *event.MetricsHandler
	orchestrator *orchestrator.Orchestrator
}

func bootstrap(configPath string) (*app, error) {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	zapLogger := logger.GetZapLogger()
	zapLogger.Info("starting media-vault",
		zap.String("version", version),
		zap.String("config", configPath),
	)

	// Initialize filesystem manager
	assets, err := filesystem.NewManagerWithBufferSize(cfg.Media.RootDir, cfg.Media.GetWriteBufferSize())
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem manager: %w", err)
	}

	// Open database
	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = filepath.Join(cfg.Media.RootDir, "jobs.db")
	}
	store, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	// Events feed logging and the counters behind /debug/stats
	dispatcher := event.NewInMemoryDispatcher(false, logger.Component("events"))
	metrics := event.NewMetricsHandler()
	dispatcher.Subscribe(event.NewLoggingHandler(logger.Component("events")))
	dispatcher.Subscribe(metrics)

	extractor := ytdlp.New(ytdlp.Config{
		Binary:           cfg.Download.Binary,
		AudioQuality:     cfg.Download.AudioQuality,
		ProgressInterval: cfg.Download.GetProgressInterval(),
	}, logger.Component("ytdlp"))

	orch := orchestrator.New(&orchestrator.Config{
		ConcurrentJobs:      cfg.Download.ConcurrentJobs,
		MaxAttempts:         cfg.Download.MaxAttempts,
		RunTimeout:          cfg.Download.GetRunTimeout(),
		RetryBackoff:        cfg.Download.GetRetryBackoff(),
		ProgressInterval:    cfg.Download.GetProgressInterval(),
		MaxDiskUsagePercent: cfg.Download.MaxDiskUsagePercent,
		OverwriteExisting:   cfg.Download.OverwriteExisting,
		QueueSize:           cfg.Download.QueueSize,
		CopyBufferSize:      cfg.Media.GetWriteBufferSize(),
		DefaultFormat:       cfg.Download.DefaultFormat,
	}, extractor, assets, store, dispatcher, logger.Component("orchestrator"))

	return &app{
		cfg:          cfg,
		logger:       zapLogger,
		store:        store,
		assets:       assets,
		dispatcher:   dispatcher,
		metrics:      metrics,
		orchestrator: orch,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close database", zap.Error(err))
	}
	logger.Sync()
}

func (a *app) serve() error {
	cfg := a.cfg

	policy, err := cfg.Stream.ChunkPolicy()
	if err != nil {
		return err
	}
	media := streamer.New(a.assets, policy, service.NewContentResolver(cfg.Media.AudioFallbackType), logger.Component("streamer"))

	// Create maintenance service
	maintenanceService := maintenance.New(&maintenance.Config{
		TempCheckInterval: cfg.Maintenance.GetTempCheckInterval(),
		TempFileMaxAge:    cfg.Maintenance.GetTempFileMaxAge(),
		CleanupInterval:   cfg.Maintenance.GetCleanupInterval(),
		FinishedJobMaxAge: cfg.Maintenance.GetFinishedJobMaxAge(),
	}, a.store, a.assets, logger.Component("maintenance"))

	// Create HTTP server
	httpServer := server.New(&server.Config{
		BindAddr:     cfg.HTTP.BindAddr,
		ReadTimeout:  cfg.HTTP.GetReadTimeout(),
		WriteTimeout: cfg.HTTP.GetWriteTimeout(),
		IdleTimeout:  cfg.HTTP.GetIdleTimeout(),
		JobListLimit: cfg.HTTP.JobListLimit,
		Auth: server.AuthConfig{
			Mode:           cfg.Auth.Mode,
			JWTSecret:      cfg.Auth.JWTSecret,
			Issuer:         cfg.Auth.Issuer,
			Audience:       cfg.Auth.Audience,
			IdentityClaim:  cfg.Auth.IdentityClaim,
			IdentityHeader: cfg.Auth.IdentityHeader,
		},
	}, a.store, media, a.orchestrator, a.metrics, a.dispatcher, logger.Component("http"))

	// Create context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	orchDone := make(chan struct{})
	go func() {
		defer close(orchDone)
		if err := a.orchestrator.Start(ctx); err != nil {
			a.logger.Error("orchestrator stopped with error", zap.Error(err))
		}
	}()

	go func() {
		if err := maintenanceService.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("maintenance service stopped with error", zap.Error(err))
		}
	}()

	a.logger.Info("application started successfully",
		zap.String("http_addr", cfg.HTTP.BindAddr),
		zap.String("media_dir", cfg.Media.RootDir),
		zap.String("auth_mode", cfg.Auth.Mode),
	)

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received, stopping services...")
	case runErr = <-serverErr:
		if runErr != nil {
			a.logger.Error("HTTP server failed", zap.Error(runErr))
		}
		stop()
	}

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		a.logger.Error("failed to stop HTTP server gracefully", zap.Error(err))
	}

	a.orchestrator.Stop()
	maintenanceService.Stop()

	select {
	case <-orchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("download workers did not stop in time")
	}

	a.logger.Info("application stopped successfully")
	return runErr
}

func (a *app) fetch(cmd *cobra.Command, rawIdentity, source, format string) error {
	identity, err := vo.NewIdentity(rawIdentity)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchDone := make(chan struct{})
	go func() {
		defer close(orchDone)
		a.orchestrator.Start(ctx)
	}()
	defer func() {
		a.orchestrator.Stop()
		<-orchDone
	}()

	result, err := a.orchestrator.Submit(identity, source, format)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "job %s: %s\n", result.Job.ID, result.Job.LogicalName)

	events, cancel, err := a.orchestrator.Subscribe(result.Job.ID)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return a.report(cmd, result.Job.ID)
			}
			fmt.Fprintf(out, "%-10s attempt %d  %5.1f%%\n", ev.Status, ev.Attempt, ev.Progress*100)
			if ev.Status.IsTerminal() {
				return a.report(cmd, result.Job.ID)
			}
		}
	}
}

func (a *app) report(cmd *cobra.Command, jobID string) error {
	job, err := a.orchestrator.Get(jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusSucceeded {
		return fmt.Errorf("download failed after %d attempt(s): %s", job.Attempts, job.LastError)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", job.AssetPath)
	return nil
}
