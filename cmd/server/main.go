package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rvrun/rvrun/internal/bridge"
	"github.com/rvrun/rvrun/internal/build"
	"github.com/rvrun/rvrun/internal/config"
	"github.com/rvrun/rvrun/internal/handler"
	"github.com/rvrun/rvrun/internal/middleware"
	"github.com/rvrun/rvrun/internal/runtime"
	"github.com/sirupsen/logrus"
)

// interpretTimeout bounds a whole interpret request, including the wait for a slot
const interpretTimeout = 60 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	// Set up logging
	logger := logrus.New()
	logger.SetLevel(cfg.GetLogLevel())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logrus.SetLevel(cfg.GetLogLevel())
	logrus.SetFormatter(logger.Formatter)

	logger.Info("Starting rvrun API Server")

	// Ensure data directories exist
	if err := ensureDataDirectories(cfg); err != nil {
		logger.WithError(err).Fatal("Failed to create data directories")
	}

	if cfg.BuildOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.BuildTimeout)
		_, err := build.NewBuilder(cfg).Build(ctx)
		cancel()
		if err != nil {
			logger.WithError(err).Fatal("Failed to build interpreter")
		}
	}

	// Initialize runtime manager and load interpreters
	runtimeManager := runtime.NewManager(cfg)
	if err := runtimeManager.LoadInterpreters(); err != nil {
		logger.WithError(err).Fatal("Failed to load interpreters")
	}

	bridgeManager := bridge.NewManager(cfg, runtimeManager, bridge.NewAllocator(cfg))
	h := handler.NewHandler(bridgeManager, runtimeManager, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:    cfg.GetBindAddress(),
		Handler: newRouter(cfg, h, logger),
		// Security settings
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      interpretTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("API server starting on %s (workspace mode %s)", cfg.GetBindAddress(), cfg.WorkspaceMode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Create a deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown server
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		os.Exit(1)
	}

	logger.Info("Server exited")
}

// newRouter wires the HTTP routes
func newRouter(cfg *config.Config, h *handler.Handler, logger *logrus.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.BodyLimit(cfg.RequestBodyLimit))

	interpret := func(r chi.Router) {
		r.Use(middleware.JSON)
		r.Use(chiMiddleware.Timeout(interpretTimeout))
		r.Post("/interpret", h.Interpret)
	}

	// Legacy unversioned route
	r.Group(interpret)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(interpret)

		// WebSocket route (no JSON middleware)
		r.HandleFunc("/connect", h.HandleWebSocket)

		r.Get("/runtimes", h.GetRuntimes)
	})

	r.Get("/", h.GetVersion)
	r.Get("/health", h.GetHealth)

	return r
}

// ensureDataDirectories ensures that all required data directories exist
func ensureDataDirectories(cfg *config.Config) error {
	directories := []string{
		cfg.DataDirectory,
		cfg.WorkspaceDirectory(),
	}

	for _, dir := range directories {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
