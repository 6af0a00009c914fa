package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

var (
	logger *slog.Logger
	once   sync.Once
)

// Init configures the global slog logger with a tint handler.
// The log level is taken from the LOG_LEVEL environment variable
// (debug, info, warn, error) and defaults to info.
func Init() {
	once.Do(func() {
		level := slog.LevelInfo
		switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		handler := tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
		})
		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
}

func get() *slog.Logger {
	Init()
	return logger
}

// Debug logs at debug level with optional key/value pairs.
func Debug(msg string, args ...any) {
	get().Debug(msg, args...)
}

// Info logs at info level with optional key/value pairs.
func Info(msg string, args ...any) {
	get().Info(msg, args...)
}

// Warn logs at warn level with optional key/value pairs.
func Warn(msg string, args ...any) {
	get().Warn(msg, args...)
}

// Error logs at error level with optional key/value pairs.
func Error(msg string, args ...any) {
	get().Error(msg, args...)
}

// DebugWithComponent logs at debug level tagged with a component name.
func DebugWithComponent(component, msg string, args ...any) {
	get().With("component", component).Debug(msg, args...)
}

// InfoWithComponent logs at info level tagged with a component name.
func InfoWithComponent(component, msg string, args ...any) {
	get().With("component", component).Info(msg, args...)
}

// WarnWithComponent logs at warn level tagged with a component name.
func WarnWithComponent(component, msg string, args ...any) {
	get().With("component", component).Warn(msg, args...)
}

// ErrorWithComponent logs at error level tagged with a component name.
func ErrorWithComponent(component, msg string, args ...any) {
	get().With("component", component).Error(msg, args...)
}
