package logger

import (
	"fmt"
	"strings"
	"sync"
)

// ILogger is an interface for dependency injection
// Allows testing with mock loggers
type ILogger interface {
	LogInfo(format string, args ...interface{})
	LogWarn(format string, args ...interface{})
	LogError(format string, args ...interface{})
	LogDebug(format string, args ...interface{})
}

// StandardLogger implements ILogger interface using the global logger functions
type StandardLogger struct{}

// NewStandardLogger creates a logger that uses global logger functions
func NewStandardLogger() ILogger {
	return &StandardLogger{}
}

func (l *StandardLogger) LogInfo(format string, args ...interface{})  { LogInfo(format, args...) }
func (l *StandardLogger) LogWarn(format string, args ...interface{})  { LogWarn(format, args...) }
func (l *StandardLogger) LogError(format string, args ...interface{}) { LogError(format, args...) }
func (l *StandardLogger) LogDebug(format string, args ...interface{}) { LogDebug(format, args...) }

// MockLogger is a logger for testing that records formatted log messages.
// It is safe for concurrent use.
type MockLogger struct {
	mu            sync.Mutex
	InfoMessages  []string
	WarnMessages  []string
	ErrorMessages []string
	DebugMessages []string
}

// NewMockLogger creates a new mock logger for testing
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (l *MockLogger) record(dst *[]string, format string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*dst = append(*dst, fmt.Sprintf(format, args...))
}

func (l *MockLogger) LogInfo(format string, args ...interface{}) {
	l.record(&l.InfoMessages, format, args)
}

func (l *MockLogger) LogWarn(format string, args ...interface{}) {
	l.record(&l.WarnMessages, format, args)
}

func (l *MockLogger) LogError(format string, args ...interface{}) {
	l.record(&l.ErrorMessages, format, args)
}

func (l *MockLogger) LogDebug(format string, args ...interface{}) {
	l.record(&l.DebugMessages, format, args)
}

// Reset clears all recorded messages
func (l *MockLogger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.InfoMessages = nil
	l.WarnMessages = nil
	l.ErrorMessages = nil
	l.DebugMessages = nil
}

// Warnings returns a copy of the recorded warning messages
func (l *MockLogger) Warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.WarnMessages...)
}

// HasWarnContaining reports whether any warning contains substr
func (l *MockLogger) HasWarnContaining(substr string) bool {
	for _, m := range l.Warnings() {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

// HasErrorMessage checks if an error message was logged
func (l *MockLogger) HasErrorMessage() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ErrorMessages) > 0
}
