package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ez1-mqtt-bridge/internal/command"
	"ez1-mqtt-bridge/internal/device"
	bridgeerrors "ez1-mqtt-bridge/internal/errors"
	"ez1-mqtt-bridge/internal/logger"
)

var errUnreachable = bridgeerrors.NewDeviceError("request", errors.New("connection refused"), "192.168.1.50")

// fakeClock is a settable clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeDevice struct {
	mu sync.Mutex

	night bool
	wake  time.Time

	reading  device.OutputReading
	status   device.PowerStatus
	maxPower int
	// clamp is what the device reports after SetMaxPower; the request when zero
	clamp int
	err   error

	// callLatency advances clock on every device call
	clock       *fakeClock
	callLatency time.Duration

	calls []string
}

func (d *fakeDevice) record(call string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
	if d.clock != nil {
		d.clock.Advance(d.callLatency)
	}
	return d.err
}

func (d *fakeDevice) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDevice) GetDeviceInfo(context.Context) (device.DeviceInfo, error) {
	return device.DeviceInfo{}, d.record("info")
}

func (d *fakeDevice) GetOutputData(context.Context) (device.OutputReading, error) {
	if err := d.record("output"); err != nil {
		return device.OutputReading{}, err
	}
	return d.reading, nil
}

func (d *fakeDevice) GetPowerStatus(context.Context) (device.PowerStatus, error) {
	if err := d.record("status"); err != nil {
		return device.PowerUnknown, err
	}
	return d.status, nil
}

func (d *fakeDevice) SetPowerStatus(_ context.Context, on bool) (device.PowerStatus, error) {
	if err := d.record("set_status"); err != nil {
		return device.PowerUnknown, err
	}
	return device.PowerStatusFromBool(on), nil
}

func (d *fakeDevice) GetMaxPower(context.Context) (int, error) {
	if err := d.record("max_power"); err != nil {
		return 0, err
	}
	return d.maxPower, nil
}

func (d *fakeDevice) SetMaxPower(_ context.Context, watts int) (int, error) {
	if err := d.record("set_max_power"); err != nil {
		return 0, err
	}
	if d.clamp != 0 {
		return d.clamp, nil
	}
	return watts, nil
}

func (d *fakeDevice) IsNight(time.Time) bool { return d.night }

func (d *fakeDevice) WakeUpTime(time.Time) (time.Time, bool) { return d.wake, !d.wake.IsZero() }

type fakeSink struct {
	mu       sync.Mutex
	outputs  []device.OutputReading
	statuses []device.PowerStatus
	limits   []int
}

func (s *fakeSink) PublishOutput(_ context.Context, r device.OutputReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs = append(s.outputs, r)
	return nil
}

func (s *fakeSink) PublishPowerStatus(_ context.Context, st device.PowerStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
	return nil
}

func (s *fakeSink) PublishMaxPower(_ context.Context, w int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits = append(s.limits, w)
	return nil
}

func (s *fakeSink) counts() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outputs), len(s.statuses), len(s.limits)
}

type recordingObserver struct {
	mu       sync.Mutex
	tasks    []string
	results  []Result
	commands []string
}

func (o *recordingObserver) TaskCompleted(r Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tasks = append(o.tasks, r.Task)
	o.results = append(o.results, r)
}

func (o *recordingObserver) CommandCompleted(kind string, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commands = append(o.commands, kind)
}

func newTestScheduler(dev *fakeDevice, sink *fakeSink, clock *fakeClock) *Scheduler {
	return New(dev, sink, nil, Options{
		TelemetryInterval: 15 * time.Second,
		StatusInterval:    600 * time.Second,
		Now:               clock.Now,
		Log:               logger.NewMockLogger(),
	})
}

func noon() *fakeClock {
	return &fakeClock{now: time.Date(2024, time.June, 21, 12, 0, 0, 0, time.UTC)}
}

func TestCompensatedSleep(t *testing.T) {
	assert.Equal(t, 15*time.Second, CompensatedSleep(15*time.Second, 0))
	assert.Equal(t, 11*time.Second, CompensatedSleep(15*time.Second, 4*time.Second))
	assert.Equal(t, time.Duration(0), CompensatedSleep(15*time.Second, 15*time.Second))
	assert.Equal(t, time.Duration(0), CompensatedSleep(15*time.Second, time.Minute))

	for elapsed := time.Duration(0); elapsed < 40*time.Second; elapsed += 900 * time.Millisecond {
		assert.GreaterOrEqual(t, CompensatedSleep(15*time.Second, elapsed), time.Duration(0))
	}
}

func TestTelemetryPublishesReading(t *testing.T) {
	clock := noon()
	dev := &fakeDevice{reading: device.OutputReading{P1: 120, P2: 95}}
	sink := &fakeSink{}
	s := newTestScheduler(dev, sink, clock)

	r := s.RunTelemetry(context.Background())
	require.NoError(t, r.Err())
	assert.Equal(t, "ok", r.Outcome())
	assert.Equal(t, clock.Now().Add(15*time.Second), r.NextDue)
	require.Len(t, sink.outputs, 1)
	assert.Equal(t, 215, sink.outputs[0].TotalPower())
}

func TestTelemetryCompensatesCallLatency(t *testing.T) {
	clock := noon()
	start := clock.Now()
	dev := &fakeDevice{clock: clock, callLatency: 4 * time.Second}
	s := newTestScheduler(dev, &fakeSink{}, clock)

	r := s.RunTelemetry(context.Background())
	require.NoError(t, r.Err())
	assert.Equal(t, start.Add(15*time.Second), r.NextDue, "period must not grow by the call latency")

	dev.callLatency = 20 * time.Second
	start = clock.Now()
	r = s.RunTelemetry(context.Background())
	require.NoError(t, r.Err())
	assert.Equal(t, start.Add(20*time.Second), r.NextDue, "an overrunning call is followed immediately")
}

func TestTelemetrySleepsUntilDawn(t *testing.T) {
	clock := noon()
	wake := clock.Now().Add(7 * time.Hour)
	dev := &fakeDevice{night: true, wake: wake}
	sink := &fakeSink{}
	s := newTestScheduler(dev, sink, clock)

	r := s.RunTelemetry(context.Background())
	require.NoError(t, r.Err())
	assert.True(t, r.Skipped)
	assert.Equal(t, "skipped", r.Outcome())
	assert.Equal(t, wake, r.NextDue)
	assert.Empty(t, dev.Calls(), "no device poll at night")
	assert.Empty(t, sink.outputs)
}

func TestStatusAtNightWakesOneIntervalAfterDawn(t *testing.T) {
	clock := noon()
	wake := clock.Now().Add(7 * time.Hour)
	dev := &fakeDevice{night: true, wake: wake}
	s := newTestScheduler(dev, &fakeSink{}, clock)

	r := s.RunStatus(context.Background())
	require.NoError(t, r.Err())
	assert.True(t, r.Skipped)
	assert.Equal(t, wake.Add(600*time.Second), r.NextDue)
	assert.Empty(t, dev.Calls())
}

func TestStatusPublishesSwitchAndLimit(t *testing.T) {
	clock := noon()
	dev := &fakeDevice{status: device.PowerOn, maxPower: 800}
	sink := &fakeSink{}
	s := newTestScheduler(dev, sink, clock)

	r := s.RunStatus(context.Background())
	require.NoError(t, r.Err())
	assert.Equal(t, clock.Now().Add(600*time.Second), r.NextDue)
	assert.Equal(t, []device.PowerStatus{device.PowerOn}, sink.statuses)
	assert.Equal(t, []int{800}, sink.limits)
}

func TestFailedReadsPublishNothing(t *testing.T) {
	clock := noon()
	dev := &fakeDevice{err: errUnreachable}
	sink := &fakeSink{}
	s := newTestScheduler(dev, sink, clock)

	for i := 0; i < 2; i++ {
		r := s.RunStatus(context.Background())
		require.Error(t, r.DeviceErr)
		assert.NoError(t, r.PublishErr)
		assert.True(t, r.NextDue.After(clock.Now()), "cadence continues after a failure")

		r = s.RunTelemetry(context.Background())
		require.Error(t, r.DeviceErr)
		assert.Equal(t, "device_error", r.Outcome())
	}

	outputs, statuses, limits := sink.counts()
	assert.Zero(t, outputs)
	assert.Zero(t, statuses)
	assert.Zero(t, limits)
}

func TestDispatchAtNightRepublishesDeviceState(t *testing.T) {
	clock := noon()
	dev := &fakeDevice{night: true, wake: clock.Now().Add(time.Hour), clamp: 480}
	sink := &fakeSink{}
	obs := &recordingObserver{}
	s := New(dev, sink, nil, Options{Now: clock.Now, Observer: obs, Log: logger.NewMockLogger()})

	require.NoError(t, s.Dispatch(context.Background(), command.Command{Kind: command.SetMaxPower, Watts: 500}))
	assert.Equal(t, []string{"set_max_power"}, dev.Calls())
	assert.Equal(t, []int{480}, sink.limits, "the device's answer is published, not the request")

	require.NoError(t, s.Dispatch(context.Background(), command.Command{Kind: command.SetPower, On: false}))
	assert.Equal(t, []device.PowerStatus{device.PowerOff}, sink.statuses)
	assert.Equal(t, []string{"set_max_power", "set_power"}, obs.commands)
}

func TestDispatchFailureSkipsPublish(t *testing.T) {
	dev := &fakeDevice{err: errUnreachable}
	sink := &fakeSink{}
	s := newTestScheduler(dev, sink, noon())

	err := s.Dispatch(context.Background(), command.Command{Kind: command.SetPower, On: true})
	require.Error(t, err)
	var deviceErr *bridgeerrors.DeviceError
	assert.True(t, errors.As(err, &deviceErr))
	assert.Empty(t, sink.statuses)

	assert.ErrorIs(t, s.Dispatch(context.Background(), command.Command{}), ErrUnknownCommand)
}

func TestRunServicesCommandsBetweenLongSleeps(t *testing.T) {
	dev := &fakeDevice{status: device.PowerOn, maxPower: 800}
	sink := &fakeSink{}
	obs := &recordingObserver{}
	commands := make(chan command.Command, 1)

	s := New(dev, sink, commands, Options{
		TelemetryInterval: time.Hour,
		StatusInterval:    time.Hour,
		Heartbeat:         10 * time.Millisecond,
		Observer:          obs,
		Log:               logger.NewMockLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// both tasks run once at startup
	assert.Eventually(t, func() bool {
		outputs, statuses, _ := sink.counts()
		return outputs == 1 && statuses == 1
	}, time.Second, 5*time.Millisecond)

	commands <- command.Command{Kind: command.SetMaxPower, Watts: 600}
	assert.Eventually(t, func() bool {
		_, _, limits := sink.counts()
		return limits == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}

	tasks := s.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, TaskNameTelemetry, tasks[0].Name)
	assert.Equal(t, "ok", tasks[0].LastOutcome)
	assert.Equal(t, "idle", tasks[0].State)
	require.NotNil(t, tasks[0].LastRun)
	assert.True(t, tasks[1].NextDue.After(time.Now().Add(50*time.Minute)))
}

func TestMultiObserver(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	m := MultiObserver{a, b}
	m.TaskCompleted(Result{Task: TaskNameStatus})
	m.CommandCompleted("set_power", nil)

	assert.Equal(t, []string{TaskNameStatus}, a.tasks)
	assert.Equal(t, []string{"set_power"}, b.commands)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "due", StateDue.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}

// failingSink rejects every publish, as a disconnected broker would
type failingSink struct{}

func (failingSink) PublishOutput(context.Context, device.OutputReading) error {
	return errors.New("not connected")
}

func (failingSink) PublishPowerStatus(context.Context, device.PowerStatus) error {
	return errors.New("not connected")
}

func (failingSink) PublishMaxPower(context.Context, int) error {
	return errors.New("not connected")
}

func TestPublishFailureIsNotADeviceFailure(t *testing.T) {
	dev := &fakeDevice{status: device.PowerOn, maxPower: 800}
	s := New(dev, failingSink{}, nil, Options{Now: noon().Now, Log: logger.NewMockLogger()})

	r := s.RunTelemetry(context.Background())
	assert.NoError(t, r.DeviceErr)
	assert.Error(t, r.PublishErr)
	assert.Equal(t, "publish_error", r.Outcome())

	r = s.RunStatus(context.Background())
	assert.NoError(t, r.DeviceErr)
	assert.Error(t, r.PublishErr)
	assert.Error(t, r.Err())
}

func TestSnapshotShowsDueTasks(t *testing.T) {
	clock := noon()
	obs := &recordingObserver{}
	s := New(&fakeDevice{}, &fakeSink{}, nil, Options{
		TelemetryInterval: 15 * time.Second,
		StatusInterval:    600 * time.Second,
		Now:               clock.Now,
		Observer:          obs,
		Log:               logger.NewMockLogger(),
	})

	for _, ts := range s.Tasks() {
		assert.Nil(t, ts.LastRun, "never run")
	}

	// both tasks are due at the zero time
	s.markDue()
	for _, ts := range s.Tasks() {
		assert.Equal(t, "due", ts.State)
	}
	s.runDue(context.Background())
	assert.Equal(t, []string{TaskNameTelemetry, TaskNameStatus}, obs.tasks)

	clock.Advance(15 * time.Second)
	s.markDue()
	tasks := s.Tasks()
	assert.Equal(t, "due", tasks[0].State)
	assert.Equal(t, "idle", tasks[1].State)

	raw, err := json.Marshal(tasks[1])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"last_run"`)
}

func TestNightSkipIsReported(t *testing.T) {
	clock := noon()
	obs := &recordingObserver{}
	dev := &fakeDevice{night: true, wake: clock.Now().Add(time.Hour)}
	s := New(dev, &fakeSink{}, nil, Options{Now: clock.Now, Observer: obs, Log: logger.NewMockLogger()})

	s.markDue()
	s.runDue(context.Background())
	require.Len(t, obs.results, 2)
	for _, r := range obs.results {
		assert.True(t, r.Skipped)
		assert.NoError(t, r.Err())
	}
}
