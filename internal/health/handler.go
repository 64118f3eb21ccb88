package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ez1-mqtt-bridge/internal/scheduler"
)

// Overall states
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status is the /health response
type Status struct {
	Status             string                 `json:"status"`
	Timestamp          time.Time              `json:"timestamp"`
	Uptime             string                 `json:"uptime"`
	DeviceID           string                 `json:"device_id,omitempty"`
	Firmware           string                 `json:"firmware,omitempty"`
	DeviceOnline       bool                   `json:"device_online"`
	MQTTConnected      bool                   `json:"mqtt_connected"`
	LastSuccessfulPoll string                 `json:"last_successful_poll"`
	ErrorCount         int                    `json:"error_count"`
	SuccessCount       int                    `json:"success_count"`
	Tasks              []scheduler.TaskStatus `json:"tasks,omitempty"`
}

// Checker provides device health
type Checker interface {
	IsOnline() bool
	LastSuccessTime() time.Time
	ErrorCount() int
	SuccessCount() int
}

// TaskLister provides scheduler task snapshots
type TaskLister interface {
	Tasks() []scheduler.TaskStatus
}

// Handler serves the /health endpoint
type Handler struct {
	startTime time.Time
	checker   Checker
	tasks     TaskLister
	connected func() bool
	deviceID  string
	firmware  string
	now       func() time.Time
}

// NewHandler creates the /health handler. tasks and connected may be nil.
func NewHandler(checker Checker, tasks TaskLister, connected func() bool, deviceID, firmware string) *Handler {
	return &Handler{
		startTime: time.Now(),
		checker:   checker,
		tasks:     tasks,
		connected: connected,
		deviceID:  deviceID,
		firmware:  firmware,
		now:       time.Now,
	}
}

// ServeHTTP writes the status as JSON, 503 when unhealthy
func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status := h.Status()

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(status); err != nil {
		http.Error(w, fmt.Sprintf("Failed to encode health status: %v", err), http.StatusInternalServerError)
	}
}

// Status computes the current health
func (h *Handler) Status() Status {
	now := h.now()

	online := h.checker.IsOnline()
	mqttUp := h.connected == nil || h.connected()
	errs := h.checker.ErrorCount()
	oks := h.checker.SuccessCount()

	status := StatusHealthy
	switch {
	case !online || !mqttUp:
		status = StatusUnhealthy
	case errs > 0:
		rate := float64(errs) / float64(errs+oks) * 100.0
		if rate > 50.0 {
			status = StatusUnhealthy
		} else if rate > 20.0 {
			status = StatusDegraded
		}
	}

	s := Status{
		Status:             status,
		Timestamp:          now,
		Uptime:             formatDuration(now.Sub(h.startTime)),
		DeviceID:           h.deviceID,
		Firmware:           h.firmware,
		DeviceOnline:       online,
		MQTTConnected:      mqttUp,
		LastSuccessfulPoll: since(now, h.checker.LastSuccessTime()),
		ErrorCount:         errs,
		SuccessCount:       oks,
	}
	if h.tasks != nil {
		s.Tasks = h.tasks.Tasks()
	}
	return s
}

func since(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d seconds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours %d minutes", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%d days %d hours", int(d.Hours())/24, int(d.Hours())%24)
	}
}
