package errors

import (
	stderrors "errors"

	"ez1-mqtt-bridge/internal/logger"
)

// ErrorObserver is notified of every handled error, e.g. to count it in metrics
type ErrorObserver interface {
	ObserveError(code int)
}

// ErrorHandler provides centralized error logging by type and severity
type ErrorHandler struct {
	log      logger.ILogger
	observer ErrorObserver
}

// NewErrorHandler creates a new error handler. observer may be nil.
func NewErrorHandler(log logger.ILogger, observer ErrorObserver) *ErrorHandler {
	if log == nil {
		log = logger.NewStandardLogger()
	}
	return &ErrorHandler{log: log, observer: observer}
}

// Handle logs err at the level implied by its type and severity
func (h *ErrorHandler) Handle(err error) {
	if err == nil {
		return
	}

	var (
		deviceErr     *DeviceError
		mqttErr       *MQTTError
		configErr     *ConfigError
		validationErr *ValidationError
		bridgeErr     *BridgeError
	)

	switch {
	case stderrors.As(err, &deviceErr):
		h.logBySeverity("Device", deviceErr.Severity, err)
	case stderrors.As(err, &mqttErr):
		h.logBySeverity("MQTT", mqttErr.Severity, err)
	case stderrors.As(err, &configErr):
		// Config errors are always critical
		h.log.LogError("CRITICAL Configuration Error: %s", err.Error())
	case stderrors.As(err, &validationErr):
		h.log.LogWarn("Validation Error: %s", err.Error())
	case stderrors.As(err, &bridgeErr):
		h.logBySeverity("Bridge", bridgeErr.Severity, err)
	default:
		h.log.LogError("Untyped Error: %v", err)
	}

	if h.observer != nil {
		h.observer.ObserveError(GetDiagnosticCode(err))
	}
}

func (h *ErrorHandler) logBySeverity(kind string, severity ErrorSeverity, err error) {
	switch severity {
	case SeverityCritical:
		h.log.LogError("CRITICAL %s Error: %s", kind, err.Error())
	case SeverityError:
		h.log.LogError("%s Error: %s", kind, err.Error())
	case SeverityWarning:
		h.log.LogWarn("%s Warning: %s", kind, err.Error())
	default:
		h.log.LogInfo("%s Info: %s", kind, err.Error())
	}
}

// IsRecoverable returns true if the error is recoverable
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}

	var configErr *ConfigError
	if stderrors.As(err, &configErr) {
		return false
	}
	if s, ok := severityOf(err); ok {
		return s != SeverityCritical
	}
	return true
}

// GetDiagnosticCode extracts the diagnostic code from an error
func GetDiagnosticCode(err error) int {
	if err == nil {
		return 0
	}

	var (
		deviceErr     *DeviceError
		mqttErr       *MQTTError
		configErr     *ConfigError
		validationErr *ValidationError
		bridgeErr     *BridgeError
	)
	switch {
	case stderrors.As(err, &deviceErr):
		return deviceErr.Code
	case stderrors.As(err, &mqttErr):
		return mqttErr.Code
	case stderrors.As(err, &configErr):
		return configErr.Code
	case stderrors.As(err, &validationErr):
		return validationErr.Code
	case stderrors.As(err, &bridgeErr):
		return bridgeErr.Code
	default:
		return CodeGeneric
	}
}

func severityOf(err error) (ErrorSeverity, bool) {
	var (
		deviceErr *DeviceError
		mqttErr   *MQTTError
		bridgeErr *BridgeError
	)
	switch {
	case stderrors.As(err, &deviceErr):
		return deviceErr.Severity, true
	case stderrors.As(err, &mqttErr):
		return mqttErr.Severity, true
	case stderrors.As(err, &bridgeErr):
		return bridgeErr.Severity, true
	}
	return 0, false
}
