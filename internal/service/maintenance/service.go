package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobCleaner removes old terminal job records
type JobCleaner interface {
	CleanupFinishedJobs(olderThan time.Duration) (int, error)
}

// AssetCleaner removes abandoned temp files, staging directories and empty identity directories
type AssetCleaner interface {
	CleanOldTempFiles(olderThan time.Duration) (int, error)
	CleanEmptyDirs() error
}

// Config contains maintenance service configuration
type Config struct {
	// TempCheckInterval is how often to sweep temp and staging files
	TempCheckInterval time.Duration

	// TempFileMaxAge is the maximum age of temp files before cleanup
	TempFileMaxAge time.Duration

	// CleanupInterval is how often to prune job records and empty directories
	CleanupInterval time.Duration

	// FinishedJobMaxAge is how long terminal jobs stay queryable
	FinishedJobMaxAge time.Duration
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		TempCheckInterval: 10 * time.Minute,
		TempFileMaxAge:    6 * time.Hour,
		CleanupInterval:   time.Hour,
		FinishedJobMaxAge: 7 * 24 * time.Hour,
	}
}

// Service handles periodic maintenance tasks
type Service struct {
	config *Config
	jobs   JobCleaner
	assets AssetCleaner
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service
func New(cfg *Config, jobs JobCleaner, assets AssetCleaner, logger *zap.Logger) *Service {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	if cfg.TempCheckInterval == 0 {
		cfg.TempCheckInterval = def.TempCheckInterval
	}
	if cfg.TempFileMaxAge == 0 {
		cfg.TempFileMaxAge = def.TempFileMaxAge
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.FinishedJobMaxAge == 0 {
		cfg.FinishedJobMaxAge = def.FinishedJobMaxAge
	}

	return &Service{
		config: cfg,
		jobs:   jobs,
		assets: assets,
		logger: logger,
	}
}

// Start starts the maintenance service
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("temp_check_interval", s.config.TempCheckInterval),
		zap.Duration("cleanup_interval", s.config.CleanupInterval))

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

// RunOnce performs every maintenance task immediately
func (s *Service) RunOnce() {
	s.cleanupTempFiles()
	s.cleanupFinishedJobs()
	s.cleanupEmptyDirs()
}

// maintenanceLoop handles periodic maintenance tasks
func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	tempTicker := time.NewTicker(s.config.TempCheckInterval)
	defer tempTicker.Stop()

	cleanupTicker := time.NewTicker(s.config.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tempTicker.C:
			s.cleanupTempFiles()
		case <-cleanupTicker.C:
			s.cleanupFinishedJobs()
			s.cleanupEmptyDirs()
		}
	}
}

// cleanupFinishedJobs removes old succeeded and failed jobs
func (s *Service) cleanupFinishedJobs() {
	cleared, err := s.jobs.CleanupFinishedJobs(s.config.FinishedJobMaxAge)
	if err != nil {
		s.logger.Error("failed to cleanup finished jobs", zap.Error(err))
	} else if cleared > 0 {
		s.logger.Info("cleaned up old finished jobs", zap.Int("count", cleared))
	}
}

// cleanupTempFiles removes abandoned temporary files and staging directories
func (s *Service) cleanupTempFiles() {
	fileCount, err := s.assets.CleanOldTempFiles(s.config.TempFileMaxAge)
	if err != nil {
		s.logger.Error("failed to cleanup old temp files", zap.Error(err))
	} else if fileCount > 0 {
		s.logger.Info("cleaned up old temp files from filesystem", zap.Int("count", fileCount))
	}
}

// cleanupEmptyDirs removes identity directories left empty
func (s *Service) cleanupEmptyDirs() {
	if err := s.assets.CleanEmptyDirs(); err != nil {
		s.logger.Warn("failed to remove empty directories", zap.Error(err))
	}
}
