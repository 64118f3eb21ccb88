package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ez1-mqtt-bridge/internal/logger"
	"ez1-mqtt-bridge/internal/scheduler"
)

func newTestMonitor(grace time.Duration) (*Monitor, *time.Time) {
	now := time.Date(2024, time.June, 21, 12, 0, 0, 0, time.UTC)
	m := NewMonitor(grace, logger.NewMockLogger())
	m.now = func() time.Time { return now }
	return m, &now
}

func TestMonitorGracePeriod(t *testing.T) {
	m, now := newTestMonitor(30 * time.Second)
	var transitions []bool
	m.OnChange(func(online bool) { transitions = append(transitions, online) })

	assert.False(t, m.RecordError())
	assert.True(t, m.IsOnline())
	assert.True(t, m.InGracePeriod())

	*now = now.Add(15 * time.Second)
	assert.False(t, m.RecordError())
	assert.True(t, m.IsOnline())

	*now = now.Add(15 * time.Second)
	assert.True(t, m.RecordError(), "grace period expired")
	assert.False(t, m.IsOnline())
	assert.False(t, m.RecordError(), "offline is reported once")
	assert.Equal(t, 4, m.ConsecutiveErrors())

	m.RecordSuccess()
	assert.True(t, m.IsOnline())
	assert.Zero(t, m.ConsecutiveErrors())
	assert.False(t, m.InGracePeriod())
	assert.Equal(t, []bool{false, true}, transitions)
	assert.Equal(t, 4, m.ErrorCount())
	assert.Equal(t, 1, m.SuccessCount())
}

func TestMonitorAsSchedulerObserver(t *testing.T) {
	m, now := newTestMonitor(30 * time.Second)
	var observer scheduler.Observer = m

	observer.TaskCompleted(scheduler.Result{Task: scheduler.TaskNameTelemetry, DeviceErr: assert.AnError})
	assert.True(t, m.IsOnline())
	*now = now.Add(30 * time.Second)
	observer.TaskCompleted(scheduler.Result{Task: scheduler.TaskNameTelemetry, DeviceErr: assert.AnError})
	assert.False(t, m.IsOnline())

	observer.CommandCompleted("set_power", assert.AnError)
	assert.False(t, m.IsOnline(), "commands do not change device health")

	observer.TaskCompleted(scheduler.Result{Task: scheduler.TaskNameStatus})
	assert.True(t, m.IsOnline())
	assert.False(t, m.LastSuccessTime().IsZero())
}

func TestMonitorIgnoresNightAndBrokerFailures(t *testing.T) {
	m, now := newTestMonitor(30 * time.Second)

	m.TaskCompleted(scheduler.Result{Task: scheduler.TaskNameTelemetry, Skipped: true})
	assert.Zero(t, m.SuccessCount(), "a night skip is not a device answer")

	m.TaskCompleted(scheduler.Result{Task: scheduler.TaskNameTelemetry, DeviceErr: assert.AnError})
	*now = now.Add(time.Minute)
	m.TaskCompleted(scheduler.Result{Task: scheduler.TaskNameTelemetry, Skipped: true})
	assert.Equal(t, 1, m.ConsecutiveErrors(), "a night skip does not end a failure sequence")

	m.TaskCompleted(scheduler.Result{Task: scheduler.TaskNameTelemetry, PublishErr: assert.AnError})
	assert.True(t, m.IsOnline())
	assert.Zero(t, m.ConsecutiveErrors(), "the device answered even though the publish failed")
	assert.Equal(t, 1, m.ErrorCount())
}

type fakeChecker struct {
	online    bool
	errors    int
	successes int
	last      time.Time
}

func (c fakeChecker) IsOnline() bool             { return c.online }
func (c fakeChecker) LastSuccessTime() time.Time { return c.last }
func (c fakeChecker) ErrorCount() int            { return c.errors }
func (c fakeChecker) SuccessCount() int          { return c.successes }

func TestHandlerStatus(t *testing.T) {
	now := time.Date(2024, time.June, 21, 12, 0, 0, 0, time.UTC)
	connected := true

	tests := []struct {
		name    string
		checker fakeChecker
		mqtt    bool
		want    string
	}{
		{"healthy", fakeChecker{online: true, successes: 10}, true, StatusHealthy},
		{"degraded", fakeChecker{online: true, errors: 3, successes: 7}, true, StatusDegraded},
		{"error rate", fakeChecker{online: true, errors: 6, successes: 4}, true, StatusUnhealthy},
		{"device offline", fakeChecker{online: false}, true, StatusUnhealthy},
		{"broker down", fakeChecker{online: true, successes: 1}, false, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			connected = tt.mqtt
			h := NewHandler(tt.checker, nil, func() bool { return connected }, "E07000012345", "EZ1 1.6.0")
			h.now = func() time.Time { return now }
			assert.Equal(t, tt.want, h.Status().Status)
		})
	}
}

func TestHandlerServeHTTP(t *testing.T) {
	now := time.Now()
	h := NewHandler(fakeChecker{online: true, successes: 2, last: now.Add(-5 * time.Second)}, nil, nil, "E07000012345", "EZ1 1.6.0")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var s Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&s))
	assert.Equal(t, StatusHealthy, s.Status)
	assert.Equal(t, "E07000012345", s.DeviceID)
	assert.True(t, s.MQTTConnected)
	assert.Contains(t, s.LastSuccessfulPoll, "seconds ago")

	h = NewHandler(fakeChecker{online: false}, nil, nil, "", "")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter(t *testing.T) {
	var wrapped []string
	wrap := func(route string, next http.Handler) http.Handler {
		wrapped = append(wrapped, route)
		return next
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ez1_bridge_up 1\n"))
	})
	r := NewRouter(NewHandler(fakeChecker{online: true}, nil, nil, "", ""), metrics, wrap)
	assert.Equal(t, []string{"/health", "/metrics"}, wrapped)

	for path, want := range map[string]int{
		"/health":  http.StatusOK,
		"/metrics": http.StatusOK,
		"/":        http.StatusOK,
		"/nope":    http.StatusNotFound,
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServerStopsOnCancel(t *testing.T) {
	s := NewServer(0, http.NotFoundHandler())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * shutdownTimeout):
		t.Fatal("server did not stop")
	}
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "45 seconds", formatDuration(45*time.Second))
	assert.Equal(t, "2 hours 5 minutes", formatDuration(2*time.Hour+5*time.Minute))
	assert.Equal(t, "3 days 1 hours", formatDuration(73*time.Hour))

	now := time.Now()
	assert.Equal(t, "never", since(now, time.Time{}))
	assert.Equal(t, "2 minutes ago", since(now, now.Add(-2*time.Minute)))
}
