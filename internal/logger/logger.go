// Package logger provides the leveled, printf-style logging used across the bridge.
// Messages are written through zerolog so they can be rendered for a console or as JSON.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel constants
const (
	LogLevelError = "error"
	LogLevelWarn  = "warn"
	LogLevelInfo  = "info"
	LogLevelDebug = "debug"
	LogLevelTrace = "trace"
)

// Output formats
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config represents the logging configuration
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
	Debug  bool   `yaml:"-"`
}

var globalLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}).
	With().Timestamp().Logger().Level(zerolog.InfoLevel)

// Init configures the global logger. Debug forces the debug level regardless of Level.
func Init(cfg Config) error {
	var output io.Writer = os.Stdout
	if cfg.File != "" {
		// 0600: owner read/write only
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", cfg.File, err)
		}
		output = f
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	if cfg.Debug && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}

	switch strings.ToLower(cfg.Format) {
	case "", FormatConsole:
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.DateTime, NoColor: cfg.File != ""}
	case FormatJSON:
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	globalLogger = zerolog.New(output).With().Timestamp().Logger().Level(level)
	return nil
}

// ParseLevel maps a configured level name to a zerolog level. Empty means info.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}

// SetOutput replaces the destination of the global logger, keeping its level.
func SetOutput(w io.Writer) {
	globalLogger = globalLogger.Output(w)
}

// SetLevel changes the level of the global logger.
func SetLevel(level zerolog.Level) {
	globalLogger = globalLogger.Level(level)
}

// WithComponent returns a child logger tagged with the component name
func WithComponent(component string) zerolog.Logger {
	return globalLogger.With().Str("component", component).Logger()
}

// LogStartup logs startup messages that should always be visible regardless of log level
func LogStartup(format string, args ...interface{}) {
	globalLogger.Log().Msgf("🔧 "+format, args...)
}

// Helper functions for global logging
func LogError(format string, args ...interface{}) {
	globalLogger.Error().Msgf("❌ "+format, args...)
}

func LogWarn(format string, args ...interface{}) {
	globalLogger.Warn().Msgf("⚠️ "+format, args...)
}

func LogInfo(format string, args ...interface{}) {
	globalLogger.Info().Msgf("ℹ️ "+format, args...)
}

func LogDebug(format string, args ...interface{}) {
	globalLogger.Debug().Msgf("🔧 "+format, args...)
}

func LogTrace(format string, args ...interface{}) {
	globalLogger.Trace().Msgf("🔍 "+format, args...)
}

// IsDebugEnabled checks if debug logging is enabled
func IsDebugEnabled() bool {
	return globalLogger.GetLevel() <= zerolog.DebugLevel
}

// IsTraceEnabled checks if trace logging is enabled
func IsTraceEnabled() bool {
	return globalLogger.GetLevel() <= zerolog.TraceLevel
}
