package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/media-vault/internal/domain/event"
	"github.com/vertextoedge/media-vault/internal/port"
)

// Config contains HTTP server configuration
type Config struct {
	BindAddr     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	JobListLimit int
	Auth         AuthConfig
}

// DefaultConfig returns default server configuration.
// WriteTimeout is zero so long streams are bounded only by the client.
func DefaultConfig() *Config {
	return &Config{
		BindAddr:     "0.0.0.0:8080",
		ReadTimeout:  30 * time.Second,
		IdleTimeout:  60 * time.Second,
		JobListLimit: 50,
		Auth: AuthConfig{
			Mode:           AuthModeHeader,
			IdentityClaim:  "nameid",
			IdentityHeader: "X-Identity",
		},
	}
}

// Server represents the HTTP API server
type Server struct {
	config          *Config
	store           port.Store
	logger          *zap.Logger
	server          *http.Server
	mediaHandler    *MediaHandler
	downloadHandler *DownloadHandler
	debugHandler    *DebugHandler
}

// New creates a new HTTP server
func New(
	cfg *Config,
	store port.Store,
	media MediaService,
	jobs JobService,
	metrics *event.MetricsHandler,
	dispatcher event.EventDispatcher,
	logger *zap.Logger,
) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}

	s := &Server{
		config: cfg,
		store:  store,
		logger: logger,
	}

	s.mediaHandler = NewMediaHandler(media, dispatcher, logger)
	s.downloadHandler = NewDownloadHandler(jobs, cfg.JobListLimit, logger)
	s.debugHandler = NewDebugHandler(jobs, metrics, logger)

	auth := IdentityMiddleware(cfg.Auth, logger)

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Media read path
	mux.Handle("GET /media/list", auth(http.HandlerFunc(s.mediaHandler.HandleList)))
	mux.Handle("GET /media/{name}", auth(http.HandlerFunc(s.mediaHandler.HandleServe)))

	// Download jobs
	mux.Handle("POST /media/download", auth(http.HandlerFunc(s.downloadHandler.HandleSubmit)))
	mux.Handle("GET /media/download/{id}", auth(http.HandlerFunc(s.downloadHandler.HandleGet)))
	mux.Handle("GET /media/download/{id}/events", auth(http.HandlerFunc(s.downloadHandler.HandleEvents)))
	mux.Handle("GET /media/jobs", auth(http.HandlerFunc(s.downloadHandler.HandleList)))

	// Debug endpoints
	mux.HandleFunc("GET /debug/stats", s.debugHandler.HandleStats)

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      LoggingMiddleware(logger)(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		http.Error(w, "Database connection failed", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy","time":"` + time.Now().Format(time.RFC3339) + `"}`))
}
