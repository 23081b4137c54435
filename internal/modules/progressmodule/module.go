package progressmodule

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/juniorrony/torrenstream-sub000/internal/config"
	"github.com/juniorrony/torrenstream-sub000/internal/database"
	"github.com/juniorrony/torrenstream-sub000/internal/events"
	"github.com/juniorrony/torrenstream-sub000/internal/logger"
	"github.com/juniorrony/torrenstream-sub000/internal/modules/modulemanager"
)

// Auto-register the module when imported
func init() {
	Register()
}

const (
	ModuleID   = "playback.progress"
	ModuleName = "Watch Progress Sync"
)

// Module owns the watch-progress sync engine and its API surface.
type Module struct {
	id          string
	name        string
	version     string
	core        bool
	db          *gorm.DB
	engine      *Engine
	handler     *APIHandler
	initialized bool
}

// Register registers this module with the module system
func Register() {
	progressModule := &Module{
		id:      ModuleID,
		name:    ModuleName,
		version: "1.0.0",
		core:    true,
	}
	modulemanager.Register(progressModule)
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

// Migrate handles database schema migrations for progress records
func (m *Module) Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&database.WatchProgressRecord{}, &database.SyncQueueEntry{})
}

// Init initializes the progress module
func (m *Module) Init() error {
	if m.initialized {
		return nil
	}

	m.db = database.GetDB()
	if m.db == nil {
		return fmt.Errorf("database not initialized")
	}

	cfg := config.Get()
	engineConfig := EngineConfig{
		UserID:           cfg.Sync.UserID,
		WriteWindowLow:   cfg.Playback.WriteWindowLow,
		WriteWindowHigh:  cfg.Playback.WriteWindowHigh,
		PromptWindowHigh: cfg.Playback.PromptWindowHigh,
	}

	log := logger.New("progress")
	remote := NewHTTPProgressStore(cfg.Sync.RemoteURL, cfg.Sync.RequestTimeout, log)
	m.engine = NewEngine(m.db, remote, events.GetGlobalEventBus(), engineConfig, log)
	m.engine.Start(cfg.Sync.ProbeInterval)

	m.handler = NewAPIHandler(m.engine)

	m.initialized = true
	return nil
}

// Shutdown flushes the sync queue and stops the engine.
func (m *Module) Shutdown() error {
	if m.engine == nil {
		return nil
	}
	return m.engine.Shutdown()
}

// Engine returns the sync engine for in-process consumers (the playback
// controller).
func (m *Module) Engine() *Engine {
	return m.engine
}

// RegisterRoutes registers API routes for watch progress
func (m *Module) RegisterRoutes(router *gin.Engine) {
	if !m.initialized {
		return
	}
	registerRoutes(router, m.handler)
}

// GetEngine returns the sync engine from the registered module instance.
func GetEngine() (*Engine, error) {
	module, ok := modulemanager.GetModule(ModuleID)
	if !ok {
		return nil, fmt.Errorf("progress module not registered")
	}
	m, ok := module.(*Module)
	if !ok || m.engine == nil {
		return nil, fmt.Errorf("progress module not initialized")
	}
	return m.engine, nil
}
