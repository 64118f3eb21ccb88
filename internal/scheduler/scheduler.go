// Package scheduler runs the polling tasks and executes queued commands on a
// single goroutine, so at most one device call is in flight at any time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ez1-mqtt-bridge/internal/command"
	"ez1-mqtt-bridge/internal/device"
	bridgeerrors "ez1-mqtt-bridge/internal/errors"
	"ez1-mqtt-bridge/internal/logger"
)

// Defaults
const (
	DefaultTelemetryInterval = 15 * time.Second
	DefaultStatusInterval    = 600 * time.Second
	DefaultHeartbeat         = time.Second

	TaskNameTelemetry = "telemetry"
	TaskNameStatus    = "status"
)

// ErrUnknownCommand is returned by Dispatch for a command kind it cannot execute
var ErrUnknownCommand = errors.New("scheduler: unknown command")

// Device is the inverter as seen by the scheduler: the client plus night awareness
type Device interface {
	device.Client
	IsNight(t time.Time) bool
	// WakeUpTime is the end of the night containing t; ok is false when unknown
	WakeUpTime(t time.Time) (time.Time, bool)
}

// Sink receives values to publish
type Sink interface {
	PublishOutput(ctx context.Context, r device.OutputReading) error
	PublishPowerStatus(ctx context.Context, s device.PowerStatus) error
	PublishMaxPower(ctx context.Context, watts int) error
}

// Result is the outcome of one task run. Device and publish failures are
// kept apart: the first says the inverter did not answer, the second that
// the broker did not take an answer.
type Result struct {
	Task    string
	NextDue time.Time
	// Skipped is set when the device was not polled because it is night
	Skipped    bool
	DeviceErr  error
	PublishErr error
}

// Err joins the device and publish errors
func (r Result) Err() error {
	return errors.Join(r.DeviceErr, r.PublishErr)
}

// Outcome names the result for logs and metrics
func (r Result) Outcome() string {
	switch {
	case r.Skipped:
		return "skipped"
	case r.DeviceErr != nil:
		return "device_error"
	case r.PublishErr != nil:
		return "publish_error"
	default:
		return "ok"
	}
}

// Observer is notified after every task run and every command
type Observer interface {
	TaskCompleted(r Result)
	CommandCompleted(kind string, err error)
}

// MultiObserver fans out to several observers
type MultiObserver []Observer

func (m MultiObserver) TaskCompleted(r Result) {
	for _, o := range m {
		o.TaskCompleted(r)
	}
}

func (m MultiObserver) CommandCompleted(kind string, err error) {
	for _, o := range m {
		o.CommandCompleted(kind, err)
	}
}

// State of a task in its cycle Idle -> Due -> Running -> Succeeded|Failed -> Idle
type State int

const (
	StateIdle State = iota
	StateDue
	StateRunning
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDue:
		return "due"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TaskStatus is a snapshot of one task
type TaskStatus struct {
	Name        string     `json:"name"`
	Interval    string     `json:"interval"`
	State       string     `json:"state"`
	LastOutcome string     `json:"last_outcome,omitempty"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	NextDue     time.Time  `json:"next_due"`
	LastError   string     `json:"last_error,omitempty"`
}

// Options configures the scheduler
type Options struct {
	TelemetryInterval time.Duration
	StatusInterval    time.Duration
	Heartbeat         time.Duration

	// Now is the clock, time.Now when nil
	Now func() time.Time

	Observer Observer
	Errors   *bridgeerrors.ErrorHandler
	Log      logger.ILogger
}

type task struct {
	name        string
	interval    time.Duration
	run         func(ctx context.Context) Result
	state       State
	lastOutcome string
	lastRun     time.Time
	nextDue     time.Time
	lastErr     error
}

// Scheduler owns the polling cadence. Run must be called from one goroutine only.
type Scheduler struct {
	dev      Device
	sink     Sink
	commands <-chan command.Command
	opts     Options

	mu    sync.Mutex
	tasks []*task
}

// New creates a scheduler. commands may be nil when no command topics exist.
func New(dev Device, sink Sink, commands <-chan command.Command, opts Options) *Scheduler {
	if opts.TelemetryInterval <= 0 {
		opts.TelemetryInterval = DefaultTelemetryInterval
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = logger.NewStandardLogger()
	}
	if opts.Errors == nil {
		opts.Errors = bridgeerrors.NewErrorHandler(opts.Log, nil)
	}

	s := &Scheduler{dev: dev, sink: sink, commands: commands, opts: opts}
	s.tasks = []*task{
		{name: TaskNameTelemetry, interval: opts.TelemetryInterval, run: s.RunTelemetry},
		{name: TaskNameStatus, interval: opts.StatusInterval, run: s.RunStatus},
	}
	return s
}

// CompensatedSleep is the sleep left of a planned interval after a call took elapsed
func CompensatedSleep(planned, elapsed time.Duration) time.Duration {
	if elapsed >= planned {
		return 0
	}
	return planned - elapsed
}

// Run polls until ctx is cancelled. Both tasks are due immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	now := s.opts.Now()
	s.mu.Lock()
	for _, t := range s.tasks {
		t.nextDue = now
	}
	s.mu.Unlock()

	s.opts.Log.LogInfo("Scheduler started: telemetry every %v, status every %v",
		s.opts.TelemetryInterval, s.opts.StatusInterval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.opts.Log.LogInfo("Scheduler stopped")
			return nil
		case cmd := <-s.commands:
			if err := s.Dispatch(ctx, cmd); err != nil {
				s.opts.Errors.Handle(err)
			}
		case <-timer.C:
			s.runDue(ctx)
		}

		// The heartbeat caps every wait so wall-clock jumps are noticed quickly
		timer.Stop()
		select {
		case <-timer.C:
		default:
		}
		timer.Reset(s.nextWait())
	}
}

func (s *Scheduler) nextWait() time.Duration {
	now := s.opts.Now()
	wait := s.opts.Heartbeat

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if d := t.nextDue.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		return 0
	}
	return wait
}

func (s *Scheduler) runDue(ctx context.Context) {
	s.markDue()

	for _, t := range s.tasks {
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		due := t.state == StateDue
		if due {
			t.state = StateRunning
		}
		s.mu.Unlock()
		if !due {
			continue
		}

		r := t.run(ctx)
		err := r.Err()

		s.mu.Lock()
		t.lastRun = s.opts.Now()
		t.lastErr = err
		t.lastOutcome = r.Outcome()
		t.nextDue = r.NextDue
		t.state = StateSucceeded
		if err != nil {
			t.state = StateFailed
		}
		s.mu.Unlock()

		if err != nil {
			s.opts.Errors.Handle(fmt.Errorf("%s task: %w", t.name, err))
		}
		if s.opts.Observer != nil {
			s.opts.Observer.TaskCompleted(r)
		}

		s.mu.Lock()
		t.state = StateIdle
		s.mu.Unlock()
	}
}

// markDue moves every idle task whose time has come to Due
func (s *Scheduler) markDue() {
	now := s.opts.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.state == StateIdle && !now.Before(t.nextDue) {
			t.state = StateDue
		}
	}
}

// RunTelemetry runs one telemetry cycle. At night the device is not polled
// and the task sleeps until dawn.
func (s *Scheduler) RunTelemetry(ctx context.Context) Result {
	start := s.opts.Now()
	r := Result{Task: TaskNameTelemetry}

	if s.dev.IsNight(start) {
		if wake, ok := s.dev.WakeUpTime(start); ok {
			s.opts.Log.LogDebug("Night: telemetry paused until %s", wake.Format(time.DateTime))
			r.Skipped, r.NextDue = true, wake
			return r
		}
	}

	reading, err := s.dev.GetOutputData(ctx)
	if err != nil {
		r.DeviceErr = err
	} else {
		r.PublishErr = s.sink.PublishOutput(ctx, reading)
	}
	r.NextDue = s.nextAfter(start, s.opts.TelemetryInterval)
	return r
}

// RunStatus polls the power switch and output limit. At night it sleeps until
// one interval past dawn.
func (s *Scheduler) RunStatus(ctx context.Context) Result {
	start := s.opts.Now()
	r := Result{Task: TaskNameStatus}

	if s.dev.IsNight(start) {
		if wake, ok := s.dev.WakeUpTime(start); ok {
			r.Skipped, r.NextDue = true, wake.Add(s.opts.StatusInterval)
			s.opts.Log.LogDebug("Night: status paused until %s", r.NextDue.Format(time.DateTime))
			return r
		}
	}

	var deviceErrs, publishErrs []error

	status, err := s.dev.GetPowerStatus(ctx)
	if err != nil {
		deviceErrs = append(deviceErrs, err)
	} else if err := s.sink.PublishPowerStatus(ctx, status); err != nil {
		publishErrs = append(publishErrs, err)
	}

	watts, err := s.dev.GetMaxPower(ctx)
	if err != nil {
		deviceErrs = append(deviceErrs, err)
	} else if err := s.sink.PublishMaxPower(ctx, watts); err != nil {
		publishErrs = append(publishErrs, err)
	}

	r.DeviceErr = errors.Join(deviceErrs...)
	r.PublishErr = errors.Join(publishErrs...)
	r.NextDue = s.nextAfter(start, s.opts.StatusInterval)
	return r
}

// Dispatch executes one command and republishes the state the device reports
// back. A failed write publishes nothing. Commands are not night gated.
func (s *Scheduler) Dispatch(ctx context.Context, cmd command.Command) error {
	var err error
	switch cmd.Kind {
	case command.SetPower:
		var status device.PowerStatus
		if status, err = s.dev.SetPowerStatus(ctx, cmd.On); err == nil {
			s.opts.Log.LogInfo("Power switched %s", status)
			err = s.sink.PublishPowerStatus(ctx, status)
		}
	case command.SetMaxPower:
		var watts int
		if watts, err = s.dev.SetMaxPower(ctx, cmd.Watts); err == nil {
			s.opts.Log.LogInfo("Max output set to %d W", watts)
			err = s.sink.PublishMaxPower(ctx, watts)
		}
	default:
		err = fmt.Errorf("%w: %v", ErrUnknownCommand, cmd.Kind)
	}

	if s.opts.Observer != nil {
		s.opts.Observer.CommandCompleted(cmd.Kind.String(), err)
	}
	if err != nil {
		return fmt.Errorf("command %s: %w", cmd, err)
	}
	return nil
}

// Tasks returns a snapshot of both tasks
func (s *Scheduler) Tasks() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		ts := TaskStatus{
			Name:     t.name,
			Interval: t.interval.String(),
			State:    t.state.String(),
			NextDue:  t.nextDue,
		}
		if !t.lastRun.IsZero() {
			lastRun := t.lastRun
			ts.LastRun = &lastRun
			ts.LastOutcome = t.lastOutcome
		}
		if t.lastErr != nil {
			ts.LastError = t.lastErr.Error()
		}
		out = append(out, ts)
	}
	return out
}

func (s *Scheduler) nextAfter(start time.Time, interval time.Duration) time.Time {
	now := s.opts.Now()
	return now.Add(CompensatedSleep(interval, now.Sub(start)))
}
