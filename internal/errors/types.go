package errors

import (
	"fmt"
)

// ErrorSeverity defines the severity level of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Diagnostic codes
const (
	CodeConfig     = 1
	CodeDevice     = 2
	CodeMQTT       = 4
	CodeValidation = 5
	CodeGeneric    = 99
)

// BridgeError is the base error type for all bridge errors
type BridgeError struct {
	Op       string        // Operation that failed
	Err      error         // Underlying error
	Severity ErrorSeverity // Error severity
	Code     int           // Diagnostic code
}

// Error implements the error interface
func (e *BridgeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Severity, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Severity, e.Op)
}

// Unwrap returns the underlying error
func (e *BridgeError) Unwrap() error {
	return e.Err
}

// DeviceError represents a failed call to the inverter's local API.
// Device errors are transient: the cycle is skipped and the loop continues.
type DeviceError struct {
	BridgeError
	Host     string
	Endpoint string
}

// NewDeviceError creates a new device error
func NewDeviceError(op string, err error, host string) *DeviceError {
	return &DeviceError{
		BridgeError: BridgeError{
			Op:       op,
			Err:      err,
			Severity: SeverityWarning,
			Code:     CodeDevice,
		},
		Host: host,
	}
}

// Error implements the error interface
func (e *DeviceError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("[%s] Device %s (%s): %s: %v",
			e.Severity, e.Host, e.Endpoint, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] Device %s: %s: %v",
		e.Severity, e.Host, e.Op, e.Err)
}

// MQTTError represents errors from MQTT operations
type MQTTError struct {
	BridgeError
	Broker string
	Topic  string
	QoS    byte
}

// NewMQTTError creates a new MQTT error
func NewMQTTError(op string, err error, broker string) *MQTTError {
	return &MQTTError{
		BridgeError: BridgeError{
			Op:       op,
			Err:      err,
			Severity: SeverityError,
			Code:     CodeMQTT,
		},
		Broker: broker,
	}
}

// Error implements the error interface
func (e *MQTTError) Error() string {
	if e.Topic != "" {
		return fmt.Sprintf("[%s] MQTT broker '%s' (topic: %s): %s: %v",
			e.Severity, e.Broker, e.Topic, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] MQTT broker '%s': %s: %v",
		e.Severity, e.Broker, e.Op, e.Err)
}

// ConfigError represents configuration errors
type ConfigError struct {
	BridgeError
	Field string
	Value interface{}
}

// NewConfigError creates a new configuration error
func NewConfigError(op string, err error, field string) *ConfigError {
	return &ConfigError{
		BridgeError: BridgeError{
			Op:       op,
			Err:      err,
			Severity: SeverityCritical, // Config errors are critical
			Code:     CodeConfig,
		},
		Field: field,
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] Configuration field '%s': %s: %v",
			e.Severity, e.Field, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] Configuration: %s: %v",
		e.Severity, e.Op, e.Err)
}

// ValidationError represents a rejected input, typically an inbound command payload
type ValidationError struct {
	BridgeError
	Field    string
	Expected interface{}
	Actual   interface{}
}

// NewValidationError creates a new validation error
func NewValidationError(field string, expected, actual interface{}) *ValidationError {
	return &ValidationError{
		BridgeError: BridgeError{
			Op:       "validation",
			Err:      fmt.Errorf("validation failed"),
			Severity: SeverityWarning,
			Code:     CodeValidation,
		},
		Field:    field,
		Expected: expected,
		Actual:   actual,
	}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] Field '%s': expected %v, got %v",
		e.Severity, e.Field, e.Expected, e.Actual)
}
