package ecu

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ez1-mqtt-bridge/internal/logger"
	"ez1-mqtt-bridge/internal/night"
)

func TestNightGatingFollowsCalculator(t *testing.T) {
	calc := night.NewCalculator(night.Location{Latitude: 52.5162, Longitude: 13.3777, TZ: time.UTC}, true)
	e := New(nil, calc, logger.NewMockLogger())

	assert.True(t, e.StopAtNight())
	assert.True(t, e.IsNight(time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)))
	assert.False(t, e.IsNight(time.Date(2024, time.January, 10, 12, 0, 0, 0, time.UTC)))

	wake, ok := e.WakeUpTime(time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC))
	assert.True(t, ok)
	assert.Equal(t, 10, wake.Day())
}

func TestDisabledNeverNight(t *testing.T) {
	calc := night.NewCalculator(night.Location{TZ: time.UTC}, false)
	e := New(nil, calc, logger.NewMockLogger())

	assert.False(t, e.StopAtNight())
	assert.False(t, e.IsNight(time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)))
}

func TestPolarDayFallsBackToNeverNightWithOneWarning(t *testing.T) {
	log := logger.NewMockLogger()
	calc := night.NewCalculator(night.Location{Latitude: 78.22, Longitude: 15.65, TZ: time.UTC}, true)
	e := New(nil, calc, log)

	midsummer := time.Date(2024, time.June, 21, 0, 0, 0, 0, time.UTC)
	assert.False(t, e.IsNight(midsummer))
	assert.False(t, e.IsNight(midsummer.Add(time.Hour)))

	_, ok := e.WakeUpTime(midsummer)
	assert.False(t, ok)

	assert.Len(t, log.Warnings(), 1)
	assert.True(t, log.HasWarnContaining("polling continues"))
}

func TestPolarWarningIsNotRepeatedAfterANormalDay(t *testing.T) {
	log := logger.NewMockLogger()
	calc := night.NewCalculator(night.Location{Latitude: 78.22, Longitude: 15.65, TZ: time.UTC}, true)
	e := New(nil, calc, log)

	assert.False(t, e.IsNight(time.Date(2024, time.June, 21, 0, 0, 0, 0, time.UTC)))
	// the equinox has a full cycle even at this latitude
	assert.True(t, e.IsNight(time.Date(2024, time.March, 21, 0, 0, 0, 0, time.UTC)))
	assert.False(t, e.IsNight(time.Date(2024, time.June, 25, 0, 0, 0, 0, time.UTC)))

	assert.Len(t, log.Warnings(), 1)
}
