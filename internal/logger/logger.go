// Package logger provides the process-wide logging facade.
// Components that need scoped loggers call New and derive named
// sub-loggers; the package-level helpers exist for top-level code.
package logger

import (
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	root hclog.Logger
	once sync.Once
)

// New returns a named logger derived from the process root logger.
func New(name string) hclog.Logger {
	return Root().Named(name)
}

// Root returns the process root logger, creating it on first use.
func Root() hclog.Logger {
	once.Do(func() {
		level := hclog.LevelFromString(os.Getenv("TORRENSTREAM_LOG_LEVEL"))
		if level == hclog.NoLevel {
			level = hclog.Info
		}
		root = hclog.New(&hclog.LoggerOptions{
			Name:  "torrenstream",
			Level: level,
		})
	})
	return root
}

// SetLevel adjusts the root logger level at runtime (config reload).
func SetLevel(level string) {
	l := hclog.LevelFromString(level)
	if l == hclog.NoLevel {
		return
	}
	Root().SetLevel(l)
}

// Info logs informational messages on the root logger.
func Info(msg string, args ...interface{}) {
	Root().Info(msg, args...)
}

// Warn logs warning messages on the root logger.
func Warn(msg string, args ...interface{}) {
	Root().Warn(msg, args...)
}

// Error logs error messages on the root logger.
func Error(msg string, args ...interface{}) {
	Root().Error(msg, args...)
}

// Debug logs debug messages on the root logger.
func Debug(msg string, args ...interface{}) {
	Root().Debug(msg, args...)
}
