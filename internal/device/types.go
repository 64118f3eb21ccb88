// Package device talks to the APsystems EZ1 micro-inverter's local API.
package device

import "context"

// DeviceInfo is the inverter identity, fetched once at startup
type DeviceInfo struct {
	DeviceID        string
	FirmwareVersion string
	SSID            string
	IPAddress       string
	MinPower        int
	MaxPower        int
}

// OutputReading is one poll of the inverter's two input channels.
// Power in W, energy in kWh.
type OutputReading struct {
	P1, P2   int
	E1, E2   float64
	TE1, TE2 float64
}

// TotalPower is the combined output of both channels
func (r OutputReading) TotalPower() int { return r.P1 + r.P2 }

// EnergyToday is the combined energy produced since midnight
func (r OutputReading) EnergyToday() float64 { return r.E1 + r.E2 }

// EnergyLifetime is the combined lifetime energy
func (r OutputReading) EnergyLifetime() float64 { return r.TE1 + r.TE2 }

// PowerStatus is the inverter's output switch state
type PowerStatus int

const (
	PowerUnknown PowerStatus = iota
	PowerOn
	PowerOff
)

func (s PowerStatus) String() string {
	switch s {
	case PowerOn:
		return "on"
	case PowerOff:
		return "off"
	default:
		return "unknown"
	}
}

// PowerStatusFromBool maps a boolean switch state to a PowerStatus
func PowerStatusFromBool(on bool) PowerStatus {
	if on {
		return PowerOn
	}
	return PowerOff
}

// Client is the inverter contract used by the scheduler. All calls may fail
// with a *errors.DeviceError.
type Client interface {
	GetDeviceInfo(ctx context.Context) (DeviceInfo, error)
	GetOutputData(ctx context.Context) (OutputReading, error)
	GetPowerStatus(ctx context.Context) (PowerStatus, error)
	// SetPowerStatus switches the output and returns the status the device reports afterwards
	SetPowerStatus(ctx context.Context, on bool) (PowerStatus, error)
	GetMaxPower(ctx context.Context) (int, error)
	// SetMaxPower sets the output limit in W and returns the limit the device reports afterwards
	SetMaxPower(ctx context.Context, watts int) (int, error)
}

// DummyDeviceInfo is used in debug mode when the inverter cannot be reached at startup
func DummyDeviceInfo() DeviceInfo {
	return DeviceInfo{
		DeviceID:        "123456789",
		FirmwareVersion: "debug dummy Ver",
		SSID:            "debug dummy ssid",
		IPAddress:       "192.168.9.9",
		MinPower:        30,
		MaxPower:        800,
	}
}
