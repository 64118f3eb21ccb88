package errors

import (
	"errors"
	"fmt"
	"testing"

	"ez1-mqtt-bridge/internal/logger"
)

// TestDeviceErrorCreation tests creating DeviceError
func TestDeviceErrorCreation(t *testing.T) {
	baseErr := fmt.Errorf("connection refused")
	deviceErr := NewDeviceError("get_output_data", baseErr, "192.168.1.50:8050")
	deviceErr.Endpoint = "/getOutputData"

	if deviceErr.Severity != SeverityWarning {
		t.Errorf("Expected severity WARNING, got %s", deviceErr.Severity)
	}
	if deviceErr.Code != CodeDevice {
		t.Errorf("Expected code %d, got %d", CodeDevice, deviceErr.Code)
	}

	errMsg := deviceErr.Error()
	if errMsg == "" {
		t.Error("Expected non-empty error message")
	}
	t.Logf("DeviceError message: %s", errMsg)
}

// TestMQTTErrorCreation tests creating MQTTError
func TestMQTTErrorCreation(t *testing.T) {
	baseErr := fmt.Errorf("connection timeout")
	mqttErr := NewMQTTError("publish", baseErr, "localhost:1883")
	mqttErr.Topic = "/devices/123/controls/Power"
	mqttErr.QoS = 1

	if mqttErr.Broker != "localhost:1883" {
		t.Errorf("Expected Broker 'localhost:1883', got '%s'", mqttErr.Broker)
	}
	if mqttErr.Topic != "/devices/123/controls/Power" {
		t.Errorf("Unexpected topic '%s'", mqttErr.Topic)
	}
}

// TestErrorUnwrapping tests error unwrapping through wrapped errors
func TestErrorUnwrapping(t *testing.T) {
	sentinel := errors.New("sentinel")
	deviceErr := NewDeviceError("test", sentinel, "host")

	if !errors.Is(deviceErr, sentinel) {
		t.Error("Expected errors.Is to find the base error")
	}

	wrapped := fmt.Errorf("poll: %w", deviceErr)
	var target *DeviceError
	if !errors.As(wrapped, &target) {
		t.Fatal("Expected errors.As to find DeviceError")
	}
	if target.Host != "host" {
		t.Errorf("Expected host 'host', got '%s'", target.Host)
	}
}

// TestIsRecoverable tests recoverability classification
func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"device", NewDeviceError("op", errors.New("x"), "h"), true},
		{"mqtt", NewMQTTError("op", errors.New("x"), "b"), true},
		{"config", NewConfigError("op", errors.New("x"), "APS_ECU_IP"), false},
		{"wrapped config", fmt.Errorf("load: %w", NewConfigError("op", errors.New("x"), "f")), false},
		{"critical bridge", &BridgeError{Op: "op", Severity: SeverityCritical}, false},
		{"untyped", errors.New("x"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecoverable(tt.err); got != tt.want {
				t.Errorf("IsRecoverable() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetDiagnosticCode tests diagnostic code extraction
func TestGetDiagnosticCode(t *testing.T) {
	if code := GetDiagnosticCode(nil); code != 0 {
		t.Errorf("Expected 0 for nil, got %d", code)
	}
	if code := GetDiagnosticCode(NewValidationError("payload", "on|off", "maybe")); code != CodeValidation {
		t.Errorf("Expected %d, got %d", CodeValidation, code)
	}
	if code := GetDiagnosticCode(errors.New("plain")); code != CodeGeneric {
		t.Errorf("Expected %d, got %d", CodeGeneric, code)
	}
}

type countingObserver struct{ codes []int }

func (o *countingObserver) ObserveError(code int) { o.codes = append(o.codes, code) }

// TestErrorHandlerLevels tests that the handler logs by severity and notifies the observer
func TestErrorHandlerLevels(t *testing.T) {
	log := logger.NewMockLogger()
	obs := &countingObserver{}
	h := NewErrorHandler(log, obs)

	h.Handle(NewDeviceError("get_output_data", errors.New("timeout"), "ecu"))
	h.Handle(NewMQTTError("publish", errors.New("down"), "broker"))
	h.Handle(nil)

	if !log.HasWarnContaining("Device Warning") {
		t.Errorf("Expected device warning, got %v", log.Warnings())
	}
	if !log.HasErrorMessage() {
		t.Error("Expected MQTT error to be logged at error level")
	}
	if len(obs.codes) != 2 || obs.codes[0] != CodeDevice || obs.codes[1] != CodeMQTT {
		t.Errorf("Unexpected observed codes %v", obs.codes)
	}
}
