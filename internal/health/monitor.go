// Package health tracks whether the inverter answers and serves /health and /metrics.
package health

import (
	"sync"
	"time"

	"ez1-mqtt-bridge/internal/logger"
	"ez1-mqtt-bridge/internal/scheduler"
)

// DefaultGracePeriod is how long device failures are tolerated before the device is reported offline
const DefaultGracePeriod = 60 * time.Second

// Monitor tracks device health from scheduler task outcomes. A failure
// sequence only marks the device offline once it outlasts the grace period,
// so a single missed poll does not flap the status.
type Monitor struct {
	mu sync.RWMutex

	online            bool
	consecutiveErrors int
	firstErrorTime    time.Time
	lastErrorTime     time.Time
	lastSuccessTime   time.Time
	successCount      int
	errorCount        int
	gracePeriod       time.Duration

	now      func() time.Time
	onChange func(online bool)
	log      logger.ILogger
}

// NewMonitor creates a monitor that starts online
func NewMonitor(gracePeriod time.Duration, log logger.ILogger) *Monitor {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	if log == nil {
		log = logger.NewStandardLogger()
	}
	return &Monitor{online: true, gracePeriod: gracePeriod, now: time.Now, log: log}
}

// OnChange registers a callback run on every online/offline transition
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// RecordSuccess ends a failure sequence
func (m *Monitor) RecordSuccess() {
	m.mu.Lock()
	m.successCount++
	m.lastSuccessTime = m.now()
	m.consecutiveErrors = 0
	m.firstErrorTime = time.Time{}
	changed := !m.online
	m.online = true
	fn := m.onChange
	m.mu.Unlock()

	if changed {
		m.log.LogInfo("Inverter answers again, marked online")
		if fn != nil {
			fn(true)
		}
	}
}

// RecordError counts a failure and reports whether this one marked the device offline
func (m *Monitor) RecordError() (markedOffline bool) {
	m.mu.Lock()
	now := m.now()
	m.errorCount++
	m.consecutiveErrors++
	m.lastErrorTime = now
	if m.firstErrorTime.IsZero() {
		m.firstErrorTime = now
		m.log.LogDebug("First device error, grace period of %v started", m.gracePeriod)
	}

	sequence := now.Sub(m.firstErrorTime)
	if m.online && sequence >= m.gracePeriod {
		m.online = false
		markedOffline = true
	}
	errs := m.consecutiveErrors
	fn := m.onChange
	m.mu.Unlock()

	if markedOffline {
		m.log.LogWarn("Inverter marked offline after %d errors over %v", errs, sequence.Round(time.Second))
		if fn != nil {
			fn(false)
		}
	}
	return markedOffline
}

// TaskCompleted feeds scheduler task outcomes into the monitor. Only device
// calls count: night skips and broker publish failures leave it untouched.
func (m *Monitor) TaskCompleted(r scheduler.Result) {
	switch {
	case r.Skipped:
	case r.DeviceErr != nil:
		m.RecordError()
	default:
		m.RecordSuccess()
	}
}

// CommandCompleted is a no-op: a rejected write says nothing about reachability
func (m *Monitor) CommandCompleted(string, error) {}

// IsOnline reports whether the device is considered reachable
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// InGracePeriod reports whether a failure sequence is running but not yet fatal
func (m *Monitor) InGracePeriod() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.firstErrorTime.IsZero() && m.now().Sub(m.firstErrorTime) < m.gracePeriod
}

func (m *Monitor) ConsecutiveErrors() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consecutiveErrors
}

func (m *Monitor) LastSuccessTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSuccessTime
}

func (m *Monitor) LastErrorTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErrorTime
}

func (m *Monitor) ErrorCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errorCount
}

func (m *Monitor) SuccessCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.successCount
}
