// Package startup prepares the application server
package startup

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/feedcache-go/internal/application/container"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/security"
	"github.com/AtRiskMedia/feedcache-go/internal/presentation/http/routes"
	"github.com/AtRiskMedia/feedcache-go/internal/presentation/http/server"
	"github.com/AtRiskMedia/feedcache-go/pkg/config"
)

// ServeOptions tune one server run.
type ServeOptions struct {
	Port      string
	Container container.Options
	// PreloadDepartments are warmed before the server accepts requests.
	PreloadDepartments []string
	PreloadUser        string
}

// NewLogger builds the channeled logger from pkg/config.
func NewLogger() (*logging.ChanneledLogger, error) {
	cfg := logging.DefaultLoggerConfig()
	cfg.DefaultLevel = logging.ParseLevel(config.LogLevel)
	cfg.OutputToFile = config.LogToFile
	cfg.LogDirectory = config.LogDirectory
	return logging.NewChanneledLogger(cfg)
}

// Serve builds the container, starts the background loops and the HTTP server,
// and blocks until SIGINT or SIGTERM.
func Serve(opts ServeOptions) error {
	setupLogging()

	start := time.Now().UTC()

	logger, err := NewLogger()
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logger.Close()

	logger.Startup().Info("Initializing feedcache")
	if config.AdminJWTSecret == "" {
		logger.Startup().Warn("ADMIN_JWT_SECRET is not set, admin routes are disabled")
	} else if err := security.CheckAdminSecret(config.AdminJWTSecret); err != nil {
		logger.Startup().Warn("Weak ADMIN_JWT_SECRET", "error", err.Error())
	}

	// Step 1: Build every component
	appContainer, err := container.NewContainer(logger, opts.Container)
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}
	defer func() {
		if err := appContainer.Close(); err != nil {
			logger.Shutdown().Error("Error closing container", "error", err.Error())
		}
	}()

	// Step 2: Start background loops
	ctx, cancelBackgroundTasks := context.WithCancel(context.Background())
	defer cancelBackgroundTasks()
	appContainer.Start(ctx)

	// Step 3: Warm critical data
	if len(opts.PreloadDepartments) > 0 || opts.PreloadUser != "" {
		preloadStart := time.Now()
		report := appContainer.FeedSync.PreloadCritical(ctx, opts.PreloadDepartments, opts.PreloadUser)
		logger.LogStartupPhase("preload", time.Since(preloadStart), report.Failed == 0, map[string]any{
			"loaded": report.Loaded,
			"failed": report.Failed,
		})
	}

	// Step 4: Start HTTP server
	port := opts.Port
	if port == "" {
		port = config.Port
	}
	httpServer := server.New(port, appContainer, routes.ConfigSettings())
	if err := httpServer.Listen(); err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	logger.Startup().Info("Application startup complete",
		"totalDuration", time.Since(start),
		"addr", httpServer.Addr())

	// Step 5: Wait for shutdown signal or server failure
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(gracefulShutdown)

	select {
	case <-gracefulShutdown:
		logger.Shutdown().Info("Shutdown signal received, starting graceful shutdown")
	case err := <-serverErr:
		if err != nil {
			logger.System().Error("HTTP server failed", "error", err.Error())
			return err
		}
	}

	shutdownStart := time.Now()
	cancelBackgroundTasks()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error during server shutdown", "error", err.Error())
	} else {
		logger.Shutdown().Info("HTTP server stopped successfully")
	}

	logger.Shutdown().Info("Application shutdown complete",
		"totalUptime", time.Since(start),
		"shutdownDuration", time.Since(shutdownStart))

	return nil
}

// setupLogging configures gin for the environment
func setupLogging() {
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
}
