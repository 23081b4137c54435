package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server" json:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Playback controller configuration
	Playback PlaybackConfig `yaml:"playback" json:"playback"`

	// Adaptive streaming configuration
	Streaming StreamingConfig `yaml:"streaming" json:"streaming"`

	// Watch-progress sync configuration
	Sync SyncConfig `yaml:"sync" json:"sync"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host           string        `yaml:"host" json:"host" env:"TORRENSTREAM_HOST" default:"0.0.0.0"`
	Port           int           `yaml:"port" json:"port" env:"TORRENSTREAM_PORT" default:"8080"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout" env:"TORRENSTREAM_READ_TIMEOUT" default:"30s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout" env:"TORRENSTREAM_WRITE_TIMEOUT" default:"30s"`
	EnableCORS     bool          `yaml:"enable_cors" json:"enable_cors" env:"TORRENSTREAM_ENABLE_CORS" default:"true"`
	TrustedProxies []string      `yaml:"trusted_proxies" json:"trusted_proxies" env:"TORRENSTREAM_TRUSTED_PROXIES"`
}

// DatabaseConfig holds persistence configuration for the progress cache
// and sync queue
type DatabaseConfig struct {
	Type         string `yaml:"type" json:"type" env:"DATABASE_TYPE" default:"sqlite"`
	DataDir      string `yaml:"data_dir" json:"data_dir" env:"TORRENSTREAM_DATA_DIR" default:"./data"`
	DatabasePath string `yaml:"database_path" json:"database_path" env:"TORRENSTREAM_DATABASE_PATH"`
	Host         string `yaml:"host" json:"host" env:"POSTGRES_HOST" default:"localhost"`
	Port         int    `yaml:"port" json:"port" env:"POSTGRES_PORT" default:"5432"`
	Username     string `yaml:"username" json:"username" env:"POSTGRES_USER" default:"torrenstream"`
	Password     string `yaml:"password" json:"-" env:"POSTGRES_PASSWORD"`
	Database     string `yaml:"database" json:"database" env:"POSTGRES_DB" default:"torrenstream"`
	LogQueries   bool   `yaml:"log_queries" json:"log_queries" env:"DB_LOG_QUERIES" default:"false"`
}

// PlaybackConfig holds the playback session controller tunables.
// The auto-save cadence and position windows are defaults, not hard
// requirements; operators may tune them.
type PlaybackConfig struct {
	AutosaveInterval   time.Duration `yaml:"autosave_interval" json:"autosave_interval" env:"TORRENSTREAM_AUTOSAVE_INTERVAL" default:"30s"`
	WriteWindowLow     float64       `yaml:"write_window_low" json:"write_window_low" env:"TORRENSTREAM_WRITE_WINDOW_LOW" default:"0.05"`
	WriteWindowHigh    float64       `yaml:"write_window_high" json:"write_window_high" env:"TORRENSTREAM_WRITE_WINDOW_HIGH" default:"0.95"`
	PromptWindowHigh   float64       `yaml:"prompt_window_high" json:"prompt_window_high" env:"TORRENSTREAM_PROMPT_WINDOW_HIGH" default:"0.90"`
	DefaultVolume      float64       `yaml:"default_volume" json:"default_volume" env:"TORRENSTREAM_DEFAULT_VOLUME" default:"1.0"`
	AdaptiveContainers []string      `yaml:"adaptive_containers" json:"adaptive_containers" env:"TORRENSTREAM_ADAPTIVE_CONTAINERS"`
}

// StreamingConfig holds adaptive session manager and bandwidth sampler tunables
type StreamingConfig struct {
	BackendURL            string        `yaml:"backend_url" json:"backend_url" env:"TORRENSTREAM_BACKEND_URL" default:"http://localhost:9090"`
	NegotiateTimeout      time.Duration `yaml:"negotiate_timeout" json:"negotiate_timeout" env:"TORRENSTREAM_NEGOTIATE_TIMEOUT" default:"15s"`
	ManifestTimeout       time.Duration `yaml:"manifest_timeout" json:"manifest_timeout" env:"TORRENSTREAM_MANIFEST_TIMEOUT" default:"10s"`
	SampleWindow          int           `yaml:"sample_window" json:"sample_window" env:"TORRENSTREAM_BW_SAMPLE_WINDOW" default:"8"`
	ExcellentThresholdBps int64         `yaml:"excellent_threshold_bps" json:"excellent_threshold_bps" env:"TORRENSTREAM_BW_EXCELLENT" default:"5000000"`
	GoodThresholdBps      int64         `yaml:"good_threshold_bps" json:"good_threshold_bps" env:"TORRENSTREAM_BW_GOOD" default:"2000000"`
	FairThresholdBps      int64         `yaml:"fair_threshold_bps" json:"fair_threshold_bps" env:"TORRENSTREAM_BW_FAIR" default:"800000"`
}

// SyncConfig holds remote progress store configuration
type SyncConfig struct {
	RemoteURL        string        `yaml:"remote_url" json:"remote_url" env:"TORRENSTREAM_PROGRESS_URL" default:"http://localhost:9091"`
	RequestTimeout   time.Duration `yaml:"request_timeout" json:"request_timeout" env:"TORRENSTREAM_SYNC_TIMEOUT" default:"10s"`
	ProbeInterval    time.Duration `yaml:"probe_interval" json:"probe_interval" env:"TORRENSTREAM_SYNC_PROBE_INTERVAL" default:"30s"`
	UserID           string        `yaml:"user_id" json:"user_id" env:"TORRENSTREAM_USER_ID" default:"default"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"TORRENSTREAM_LOG_LEVEL" default:"info"`
	Format string `yaml:"format" json:"format" env:"TORRENSTREAM_LOG_FORMAT" default:"json"`
}

// ConfigManager manages application configuration with hot-reload support
type ConfigManager struct {
	config     *Config
	configPath string
	watchers   []ConfigWatcher
	mu         sync.RWMutex
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(oldConfig, newConfig *Config)

var (
	globalConfigManager *ConfigManager
	configOnce          sync.Once
)

// GetConfigManager returns the global configuration manager instance
func GetConfigManager() *ConfigManager {
	configOnce.Do(func() {
		globalConfigManager = NewConfigManager()
	})
	return globalConfigManager
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config:   DefaultConfig(),
		watchers: make([]ConfigWatcher, 0),
	}
}

// DefaultConfig returns the default application configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			EnableCORS:     true,
			TrustedProxies: []string{},
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: "./data",
		},
		Playback: PlaybackConfig{
			AutosaveInterval: 30 * time.Second,
			WriteWindowLow:   0.05,
			WriteWindowHigh:  0.95,
			PromptWindowHigh: 0.90,
			DefaultVolume:    1.0,
			// Containers that browsers cannot play without remuxing; these
			// request an adaptive session instead of direct byte-range delivery.
			AdaptiveContainers: []string{"mkv", "avi", "wmv", "flv", "ts", "mpg", "mpeg"},
		},
		Streaming: StreamingConfig{
			BackendURL:            "http://localhost:9090",
			NegotiateTimeout:      15 * time.Second,
			ManifestTimeout:       10 * time.Second,
			SampleWindow:          8,
			ExcellentThresholdBps: 5_000_000,
			GoodThresholdBps:      2_000_000,
			FairThresholdBps:      800_000,
		},
		Sync: SyncConfig{
			RemoteURL:      "http://localhost:9091",
			RequestTimeout: 10 * time.Second,
			ProbeInterval:  30 * time.Second,
			UserID:         "default",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func (cm *ConfigManager) LoadConfig(configPath string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	oldConfig := *cm.config
	cm.configPath = configPath

	newConfig := DefaultConfig()

	if configPath != "" && fileExists(configPath) {
		if err := cm.loadFromFile(configPath, newConfig); err != nil {
			return fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := cm.loadFromEnv(newConfig); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cm.validateConfig(newConfig); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.applyDerivedConfig(newConfig)

	cm.config = newConfig

	// Notify watchers of config change
	for _, watcher := range cm.watchers {
		go watcher(&oldConfig, newConfig)
	}

	return nil
}

// GetConfig returns the current configuration (thread-safe)
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	// Return a copy to prevent external modifications
	configCopy := *cm.config
	return &configCopy
}

// AddWatcher adds a configuration change watcher
func (cm *ConfigManager) AddWatcher(watcher ConfigWatcher) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.watchers = append(cm.watchers, watcher)
}

// ConfigPath returns the path the manager last loaded from.
func (cm *ConfigManager) ConfigPath() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.configPath
}

// Helper methods

func (cm *ConfigManager) loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

func (cm *ConfigManager) loadFromEnv(config *Config) error {
	return loadStructFromEnv(reflect.ValueOf(config).Elem())
}

func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		// Handle nested structs recursively
		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(value, ",")
			for i, v := range values {
				values[i] = strings.TrimSpace(v)
			}
			field.Set(reflect.ValueOf(values))
		}
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func (cm *ConfigManager) validateConfig(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Type != "sqlite" && config.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", config.Database.Type)
	}

	if config.Playback.AutosaveInterval <= 0 {
		return fmt.Errorf("invalid autosave interval: %s", config.Playback.AutosaveInterval)
	}

	if config.Playback.WriteWindowLow < 0 || config.Playback.WriteWindowLow >= config.Playback.WriteWindowHigh {
		return fmt.Errorf("invalid write window: [%f, %f)", config.Playback.WriteWindowLow, config.Playback.WriteWindowHigh)
	}

	if config.Playback.PromptWindowHigh > config.Playback.WriteWindowHigh {
		return fmt.Errorf("prompt window upper bound %f exceeds write window upper bound %f",
			config.Playback.PromptWindowHigh, config.Playback.WriteWindowHigh)
	}

	if config.Streaming.SampleWindow <= 0 {
		return fmt.Errorf("invalid bandwidth sample window: %d", config.Streaming.SampleWindow)
	}

	return nil
}

func (cm *ConfigManager) applyDerivedConfig(config *Config) {
	// Set derived database path if not explicitly set
	if config.Database.DatabasePath == "" && config.Database.Type == "sqlite" {
		config.Database.DatabasePath = filepath.Join(config.Database.DataDir, "torrenstream.db")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Global convenience functions

// Get returns the current global configuration
func Get() *Config {
	return GetConfigManager().GetConfig()
}

// Load loads configuration from the specified path
func Load(configPath string) error {
	return GetConfigManager().LoadConfig(configPath)
}

// AddWatcher adds a global configuration watcher
func AddWatcher(watcher ConfigWatcher) {
	GetConfigManager().AddWatcher(watcher)
}
