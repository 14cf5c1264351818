package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/artpar/slipway/internal/core/domain"
	"github.com/artpar/slipway/internal/shell/api"
	"github.com/artpar/slipway/internal/shell/deployer"
	"github.com/artpar/slipway/internal/shell/manifest"
	"github.com/artpar/slipway/internal/shell/store"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitManifestError   = 3
	ExitHTTPServerError = 4
)

// =============================================================================
// Server
// =============================================================================

// Server represents the slipway daemon.
type Server struct {
	config      *Config
	httpServer  *http.Server
	store       store.Store
	deployer    *deployer.Deployer
	startupApps []domain.DeploymentRequest
	logger      *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	// Open deployment history database
	if dir := databaseDir(cfg.Database.DSN); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &ServerError{
				Op:       "NewServer",
				Err:      err,
				ExitCode: ExitDatabaseError,
			}
		}
	}
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDatabaseError,
		}
	}

	// Load startup app manifest. A manifest that was asked for but cannot be
	// read or parsed is an operator error and aborts startup; individual app
	// deploy failures later do not.
	var startupApps []domain.DeploymentRequest
	if cfg.Apps.Manifest != "" {
		m, err := manifest.Load(cfg.Apps.Manifest)
		if err != nil {
			s.Close()
			return nil, &ServerError{
				Op:       "NewServer",
				Err:      err,
				ExitCode: ExitManifestError,
			}
		}
		startupApps = m.Requests()
		logger.Info("loaded startup app manifest",
			"path", cfg.Apps.Manifest,
			"apps", len(startupApps),
		)
	}

	// Create process orchestrator
	d := deployer.New(deployer.Config{
		WorkDirsRoot:   cfg.Deployer.WorkDirsRoot,
		ProbeInterval:  cfg.Deployer.ProbeInterval,
		ProbeTimeout:   cfg.Deployer.ProbeTimeout,
		StopGrace:      cfg.Deployer.StopGrace,
		DeleteWorkDirs: cfg.Deployer.DeleteWorkDirs,
		JavaCommand:    cfg.Deployer.JavaCommand,
	}, s, logger)

	// Create HTTP handler
	handler := api.SetupAPI(api.APIConfig{
		Deployer: d,
		Store:    s,
		Logger:   logger,
	})

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:      cfg,
		httpServer:  httpServer,
		store:       s,
		deployer:    d,
		startupApps: startupApps,
		logger:      logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Deploy manifest apps. Failures are logged and do not stop the daemon;
	// the API stays available for retries.
	s.deployStartupApps()

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		s.Shutdown(context.Background())
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// deployStartupApps deploys every app from the startup manifest, in manifest
// order.
func (s *Server) deployStartupApps() {
	for _, req := range s.startupApps {
		id, err := s.deployer.Deploy(req)
		switch {
		case err != nil && id == "":
			s.logger.Error("startup app rejected",
				"app", req.Definition.Name,
				"error", err,
			)
		case err != nil:
			s.logger.Warn("startup app launched partially",
				"app", req.Definition.Name,
				"deployment_id", id,
				"error", err,
			)
		default:
			s.logger.Info("startup app deployed",
				"app", req.Definition.Name,
				"deployment_id", id,
			)
		}
	}
}

// Shutdown gracefully shuts down the server. Running deployments are stopped
// so no orphan child processes outlive the daemon.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	// Shutdown HTTP server
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Stop all deployments
	if err := s.deployer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("deployer shutdown error", "error", err)
	}

	// Close database
	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// databaseDir returns the parent directory to create for a file-backed DSN,
// or "" when the DSN is in-memory or already rooted in the current directory.
func databaseDir(dsn string) string {
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	dir := filepath.Dir(dsn)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
