// Package night computes the dusk-to-dawn quiet window for a fixed location.
package night

import (
	"errors"
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// CivilTwilightElevation is the sun's elevation at civil dawn and dusk, in degrees
const CivilTwilightElevation = -6.0

// ErrNoDaylightCycle is returned when the sun does not cross the civil
// twilight elevation on a day (polar day or polar night at high latitudes).
var ErrNoDaylightCycle = errors.New("night: no civil dawn/dusk on this day")

// Location is where the inverter is installed
type Location struct {
	Latitude  float64
	Longitude float64
	TZ        *time.Location
}

// Window is a half-open night interval [Start, End)
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies in [Start, End)
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Calculator answers night queries for one location. It holds no mutable state.
type Calculator struct {
	loc     Location
	enabled bool
}

// NewCalculator creates a calculator. When enabled is false IsNight is always false.
func NewCalculator(loc Location, enabled bool) *Calculator {
	if loc.TZ == nil {
		loc.TZ = time.Local
	}
	return &Calculator{loc: loc, enabled: enabled}
}

// Enabled reports whether night gating is active
func (c *Calculator) Enabled() bool { return c.enabled }

// Daylight returns civil dawn and dusk for the calendar day (in the location's
// timezone) that contains day.
func (c *Calculator) Daylight(day time.Time) (dawn, dusk time.Time, err error) {
	y, m, d := day.In(c.loc.TZ).Date()
	return c.daylight(y, m, d)
}

func (c *Calculator) daylight(y int, m time.Month, d int) (time.Time, time.Time, error) {
	// time.Date normalises day overflow, e.g. 32 January
	norm := time.Date(y, m, d, 12, 0, 0, 0, c.loc.TZ)
	y, m, d = norm.Date()

	dawn, dusk := sunrise.TimeOfElevation(c.loc.Latitude, c.loc.Longitude, CivilTwilightElevation, y, m, d)
	if dawn.IsZero() || dusk.IsZero() {
		return time.Time{}, time.Time{}, ErrNoDaylightCycle
	}
	return dawn.In(c.loc.TZ), dusk.In(c.loc.TZ), nil
}

// Window returns the night window that contains t, or the next one if t is in daylight.
// Before the day's dawn the window started at the previous day's dusk.
func (c *Calculator) Window(t time.Time) (Window, error) {
	lt := t.In(c.loc.TZ)
	y, m, d := lt.Date()

	dawn, dusk, err := c.daylight(y, m, d)
	if err != nil {
		return Window{}, err
	}

	if lt.Before(dawn) {
		_, prevDusk, err := c.daylight(y, m, d-1)
		if err != nil {
			return Window{}, err
		}
		return Window{Start: prevDusk, End: dawn}, nil
	}

	nextDawn, _, err := c.daylight(y, m, d+1)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: dusk, End: nextDawn}, nil
}

// IsNight reports whether gating is enabled and t falls inside the night window
func (c *Calculator) IsNight(t time.Time) (bool, error) {
	if !c.enabled {
		return false, nil
	}
	w, err := c.Window(t)
	if err != nil {
		return false, err
	}
	return w.Contains(t), nil
}

// WakeUpTime is the end of the night window for t
func (c *Calculator) WakeUpTime(t time.Time) (time.Time, error) {
	w, err := c.Window(t)
	if err != nil {
		return time.Time{}, err
	}
	return w.End, nil
}
