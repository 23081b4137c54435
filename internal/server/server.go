package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/juniorrony/torrenstream-sub000/internal/config"
	"github.com/juniorrony/torrenstream-sub000/internal/database"
	"github.com/juniorrony/torrenstream-sub000/internal/events"
	"github.com/juniorrony/torrenstream-sub000/internal/logger"
	"github.com/juniorrony/torrenstream-sub000/internal/modules/modulemanager"

	// Import all modules to trigger their registration
	_ "github.com/juniorrony/torrenstream-sub000/internal/modules/playermodule"
	_ "github.com/juniorrony/torrenstream-sub000/internal/modules/progressmodule"
	_ "github.com/juniorrony/torrenstream-sub000/internal/modules/streamingmodule"
)

var moduleInitialized bool

// SetupRouter configures and returns the main router with all modules
// loaded and their routes registered.
func SetupRouter(cfg *config.Config) (*gin.Engine, error) {
	if cfg.Logging.Level != "debug" && cfg.Logging.Level != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	if cfg.Server.EnableCORS {
		r.Use(corsMiddleware())
	}
	if len(cfg.Server.TrustedProxies) > 0 {
		if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
			return nil, fmt.Errorf("invalid trusted proxies: %w", err)
		}
	}

	if err := initializeEventBus(); err != nil {
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}
	if err := initializeModules(); err != nil {
		return nil, fmt.Errorf("failed to initialize modules: %w", err)
	}

	setupRoutes(r)
	modulemanager.RegisterRoutes(r)

	return r, nil
}

// corsMiddleware allows the presentation layer to call from another origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// initializeModules loads every registered module: migrations first, then
// initialization, in registration order.
func initializeModules() error {
	if moduleInitialized {
		return nil
	}

	db := database.GetDB()
	if err := modulemanager.LoadAll(db); err != nil {
		return err
	}

	moduleInitialized = true
	logModuleStatus()
	return nil
}

func logModuleStatus() {
	modules := modulemanager.ListModules()
	logger.Info("module system initialized", "modules", len(modules))
	for _, module := range modules {
		logger.Info("module loaded", "id", module.ID(), "name", module.Name(), "core", module.Core())
	}
}

// initializeEventBus starts the global event bus and announces startup.
func initializeEventBus() error {
	bus := events.GetGlobalEventBus()
	if err := bus.Start(context.Background()); err != nil {
		return err
	}

	startupEvent := events.NewSystemEvent(
		events.EventSystemStarted,
		"System Started",
		"torrenstream playback core has started",
	)
	if err := bus.PublishAsync(startupEvent); err != nil {
		logger.Warn("failed to publish startup event", "error", err)
	}
	return nil
}

// Shutdown stops the modules and the event bus in reverse order of startup.
func Shutdown(ctx context.Context) {
	modulemanager.ShutdownAll()

	bus := events.GetGlobalEventBus()
	bus.PublishAsync(events.NewSystemEvent(
		events.EventSystemStopped,
		"System Stopped",
		"torrenstream playback core is shutting down",
	))
	if err := bus.Stop(ctx); err != nil {
		logger.Warn("event bus shutdown failed", "error", err)
	}
}
