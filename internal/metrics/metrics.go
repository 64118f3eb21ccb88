// Package metrics exposes bridge counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ez1-mqtt-bridge/internal/device"
	"ez1-mqtt-bridge/internal/scheduler"
)

const namespace = "ez1_bridge"

// Metrics holds the collectors of one bridge process. It implements the
// scheduler, MQTT and error observers.
type Metrics struct {
	registry *prometheus.Registry

	taskRuns      *prometheus.CounterVec
	taskNextDue   *prometheus.GaugeVec
	commands      *prometheus.CounterVec
	publishes     *prometheus.CounterVec
	errors        *prometheus.CounterVec
	deviceInfo    *prometheus.GaugeVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	deviceHealthy prometheus.Gauge
}

// New creates the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Scheduler task runs by task and outcome.",
		}, []string{"task", "result"}),
		taskNextDue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_next_due_timestamp_seconds",
			Help:      "Unix time a scheduler task is next due.",
		}, []string{"task"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Device commands executed by kind and result.",
		}, []string{"kind", "result"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_publishes_total",
			Help:      "MQTT publishes by result.",
		}, []string{"result"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Handled errors by diagnostic code.",
		}, []string{"code"}),
		deviceInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_info",
			Help:      "Inverter identity, always 1.",
		}, []string{"device_id", "firmware", "ip"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		deviceHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_healthy",
			Help:      "1 while the inverter answers, 0 after the grace period of failures.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.taskRuns,
		m.taskNextDue,
		m.commands,
		m.publishes,
		m.errors,
		m.deviceInfo,
		m.httpRequests,
		m.httpDuration,
		m.deviceHealthy,
	)
	m.deviceHealthy.Set(1)
	return m
}

// Registry is the registry the collectors live in
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TaskCompleted counts a scheduler task run by outcome: ok, skipped,
// device_error or publish_error
func (m *Metrics) TaskCompleted(r scheduler.Result) {
	if m == nil {
		return
	}
	m.taskRuns.WithLabelValues(r.Task, r.Outcome()).Inc()
	m.taskNextDue.WithLabelValues(r.Task).Set(float64(r.NextDue.Unix()))
}

// CommandCompleted counts an executed command
func (m *Metrics) CommandCompleted(kind string, err error) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(kind, result(err)).Inc()
}

// ObservePublish counts an MQTT publish
func (m *Metrics) ObservePublish(err error) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(result(err)).Inc()
}

// ObserveError counts a handled error by diagnostic code
func (m *Metrics) ObserveError(code int) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(strconv.Itoa(code)).Inc()
}

// SetDeviceInfo records the inverter identity
func (m *Metrics) SetDeviceInfo(info device.DeviceInfo) {
	if m == nil {
		return
	}
	m.deviceInfo.Reset()
	m.deviceInfo.WithLabelValues(info.DeviceID, info.FirmwareVersion, info.IPAddress).Set(1)
}

// SetDeviceHealthy records the health monitor's verdict
func (m *Metrics) SetDeviceHealthy(healthy bool) {
	if m == nil {
		return
	}
	if healthy {
		m.deviceHealthy.Set(1)
		return
	}
	m.deviceHealthy.Set(0)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and their duration for route
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
