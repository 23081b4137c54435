package streamingmodule

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/juniorrony/torrenstream-sub000/internal/config"
	"github.com/juniorrony/torrenstream-sub000/internal/events"
	"github.com/juniorrony/torrenstream-sub000/internal/logger"
	"github.com/juniorrony/torrenstream-sub000/internal/modules/modulemanager"
)

// Auto-register the module when imported
func init() {
	Register()
}

const (
	ModuleID   = "playback.streaming"
	ModuleName = "Adaptive Streaming"
)

// Module owns the adaptive session manager and its API surface.
type Module struct {
	id          string
	name        string
	version     string
	core        bool
	manager     *Manager
	handler     *APIHandler
	initialized bool
}

// Register registers this module with the module system
func Register() {
	streamingModule := &Module{
		id:      ModuleID,
		name:    ModuleName,
		version: "1.0.0",
		core:    true,
	}
	modulemanager.Register(streamingModule)
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

// Migrate is a no-op: session state is in-memory only.
func (m *Module) Migrate(db *gorm.DB) error {
	return nil
}

// Init initializes the streaming module
func (m *Module) Init() error {
	if m.initialized {
		return nil
	}

	cfg := config.Get()
	log := logger.New("streaming")

	backend := NewHTTPSessionBackend(
		cfg.Streaming.BackendURL,
		cfg.Streaming.NegotiateTimeout,
		cfg.Streaming.ManifestTimeout,
		log,
	)
	sampler := NewBandwidthSampler(cfg.Streaming.SampleWindow, SamplerThresholds{
		ExcellentBps: cfg.Streaming.ExcellentThresholdBps,
		GoodBps:      cfg.Streaming.GoodThresholdBps,
		FairBps:      cfg.Streaming.FairThresholdBps,
	})
	m.manager = NewManager(backend, sampler, events.GetGlobalEventBus(), log)
	m.handler = NewAPIHandler(m.manager)

	m.initialized = true
	return nil
}

// Shutdown destroys any active session.
func (m *Module) Shutdown() error {
	if m.manager != nil {
		m.manager.Destroy(context.Background())
	}
	return nil
}

// Manager returns the session manager for in-process consumers (the
// playback controller).
func (m *Module) Manager() *Manager {
	return m.manager
}

// RegisterRoutes registers API routes for adaptive sessions
func (m *Module) RegisterRoutes(router *gin.Engine) {
	if !m.initialized {
		return
	}
	registerRoutes(router, m.handler)
}

// GetManager returns the session manager from the registered module instance.
func GetManager() (*Manager, error) {
	module, ok := modulemanager.GetModule(ModuleID)
	if !ok {
		return nil, fmt.Errorf("streaming module not registered")
	}
	m, ok := module.(*Module)
	if !ok || m.manager == nil {
		return nil, fmt.Errorf("streaming module not initialized")
	}
	return m.manager, nil
}
