package playermodule

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/juniorrony/torrenstream-sub000/internal/config"
	"github.com/juniorrony/torrenstream-sub000/internal/events"
	"github.com/juniorrony/torrenstream-sub000/internal/logger"
	"github.com/juniorrony/torrenstream-sub000/internal/modules/modulemanager"
	"github.com/juniorrony/torrenstream-sub000/internal/modules/progressmodule"
	"github.com/juniorrony/torrenstream-sub000/internal/modules/streamingmodule"
)

// Auto-register the module when imported
func init() {
	Register()
}

const (
	ModuleID   = "playback.player"
	ModuleName = "Playback Controller"
)

// Module owns the playback session controller and its API surface. It
// depends on the streaming and progress modules, which the module manager
// initializes first.
type Module struct {
	id          string
	name        string
	version     string
	core        bool
	controller  *Controller
	observer    *Observer
	handler     *APIHandler
	initialized bool
}

// Register registers this module with the module system
func Register() {
	playerModule := &Module{
		id:      ModuleID,
		name:    ModuleName,
		version: "1.0.0",
		core:    true,
	}
	modulemanager.Register(playerModule)
}

// ID returns the module ID
func (m *Module) ID() string {
	return m.id
}

// Name returns the module name
func (m *Module) Name() string {
	return m.name
}

// Core returns whether this is a core module
func (m *Module) Core() bool {
	return m.core
}

// Migrate is a no-op: playback state is in-memory only.
func (m *Module) Migrate(db *gorm.DB) error {
	return nil
}

// Init initializes the playback controller
func (m *Module) Init() error {
	if m.initialized {
		return nil
	}

	sessions, err := streamingmodule.GetManager()
	if err != nil {
		return fmt.Errorf("player module requires streaming module: %w", err)
	}
	engine, err := progressmodule.GetEngine()
	if err != nil {
		return fmt.Errorf("player module requires progress module: %w", err)
	}

	cfg := config.Get()
	controllerConfig := ControllerConfig{
		AutosaveInterval:   cfg.Playback.AutosaveInterval,
		AdaptiveContainers: cfg.Playback.AdaptiveContainers,
		DefaultVolume:      cfg.Playback.DefaultVolume,
	}

	log := logger.New("player")
	bus := events.GetGlobalEventBus()
	m.controller = NewController(sessions, engine, bus, controllerConfig, log)
	m.observer = NewObserver(m.controller, sessions, bus, log)
	if err := m.observer.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start playback observer: %w", err)
	}
	m.handler = NewAPIHandler(m.controller, m.observer)

	m.initialized = true
	return nil
}

// Shutdown closes any active playback session.
func (m *Module) Shutdown() error {
	if m.controller != nil {
		m.controller.Close(context.Background())
	}
	return nil
}

// Controller returns the playback controller for in-process consumers.
func (m *Module) Controller() *Controller {
	return m.controller
}

// RegisterRoutes registers API routes for playback control
func (m *Module) RegisterRoutes(router *gin.Engine) {
	if !m.initialized {
		return
	}
	registerRoutes(router, m.handler)
}
