package log

import (
	"os"
	"sync"

	"github.com/paularlott/logger"
	logslog "github.com/paularlott/logger/slog"
)

var (
	mu            sync.RWMutex
	defaultLogger logger.Logger = newLogger("info", "console")
)

func newLogger(level, format string) logger.Logger {
	return logslog.New(logslog.Config{
		Level:  level,
		Format: format,
		Writer: os.Stderr,
	})
}

// Configure replaces the process logger. level is one of trace, debug, info,
// warn or error; format is console or json.
func Configure(level, format string) {
	l := newLogger(level, format)

	mu.Lock()
	defaultLogger = l
	mu.Unlock()
}

// GetLogger returns the process logger
func GetLogger() logger.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// WithGroup returns a logger that nests its attributes under group
func WithGroup(group string) logger.Logger {
	return GetLogger().WithGroup(group)
}

func Trace(msg string, keysAndValues ...any) {
	GetLogger().Trace(msg, keysAndValues...)
}

func Debug(msg string, keysAndValues ...any) {
	GetLogger().Debug(msg, keysAndValues...)
}

func Info(msg string, keysAndValues ...any) {
	GetLogger().Info(msg, keysAndValues...)
}

func Warn(msg string, keysAndValues ...any) {
	GetLogger().Warn(msg, keysAndValues...)
}

func Error(msg string, keysAndValues ...any) {
	GetLogger().Error(msg, keysAndValues...)
}
