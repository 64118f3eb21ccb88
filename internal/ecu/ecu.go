// Package ecu decorates the inverter client with night awareness.
package ecu

import (
	"errors"
	"time"

	"ez1-mqtt-bridge/internal/device"
	"ez1-mqtt-bridge/internal/logger"
	"ez1-mqtt-bridge/internal/night"
)

// ECU is a device.Client that also knows when the inverter is asleep.
// Device calls are delegated unchanged; it is used from the scheduler goroutine only.
type ECU struct {
	device.Client

	calc *night.Calculator
	log  logger.ILogger

	noCycleWarned bool
}

// New composes a device client with a night calculator
func New(client device.Client, calc *night.Calculator, log logger.ILogger) *ECU {
	if log == nil {
		log = logger.NewStandardLogger()
	}
	return &ECU{Client: client, calc: calc, log: log}
}

// StopAtNight reports whether polling is suspended at night
func (e *ECU) StopAtNight() bool {
	return e.calc != nil && e.calc.Enabled()
}

// IsNight reports whether t is inside the night window. A day without civil
// dawn or dusk is treated as never night, with one warning per process.
func (e *ECU) IsNight(t time.Time) bool {
	if !e.StopAtNight() {
		return false
	}
	isNight, err := e.calc.IsNight(t)
	if err != nil {
		e.warnNoCycle(t, err)
		return false
	}
	return isNight
}

// Window returns the night window for t
func (e *ECU) Window(t time.Time) (night.Window, error) {
	if e.calc == nil {
		return night.Window{}, night.ErrNoDaylightCycle
	}
	return e.calc.Window(t)
}

// WakeUpTime returns the end of the night containing t. ok is false when no
// window can be computed.
func (e *ECU) WakeUpTime(t time.Time) (wake time.Time, ok bool) {
	if e.calc == nil {
		return time.Time{}, false
	}
	wake, err := e.calc.WakeUpTime(t)
	if err != nil {
		e.warnNoCycle(t, err)
		return time.Time{}, false
	}
	return wake, true
}

func (e *ECU) warnNoCycle(t time.Time, err error) {
	if e.noCycleWarned {
		return
	}
	e.noCycleWarned = true
	if errors.Is(err, night.ErrNoDaylightCycle) {
		e.log.LogWarn("No civil dawn/dusk on %s at this location, polling continues through the night", t.Format(time.DateOnly))
		return
	}
	e.log.LogWarn("Night window calculation failed: %v", err)
}
