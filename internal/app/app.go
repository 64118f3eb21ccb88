// Package app wires the inverter client, the MQTT broker client, discovery,
// the command bridge and the scheduler into one running bridge.
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"ez1-mqtt-bridge/internal/command"
	"ez1-mqtt-bridge/internal/config"
	"ez1-mqtt-bridge/internal/device"
	"ez1-mqtt-bridge/internal/discovery"
	"ez1-mqtt-bridge/internal/ecu"
	bridgeerrors "ez1-mqtt-bridge/internal/errors"
	"ez1-mqtt-bridge/internal/health"
	"ez1-mqtt-bridge/internal/logger"
	"ez1-mqtt-bridge/internal/metrics"
	"ez1-mqtt-bridge/internal/mqtt"
	"ez1-mqtt-bridge/internal/night"
	"ez1-mqtt-bridge/internal/scheduler"
	"ez1-mqtt-bridge/internal/topics"
)

const (
	// DeviceInfoRetry is the wait between startup identity fetches
	DeviceInfoRetry = 60 * time.Second

	shutdownTimeout = 5 * time.Second
	commandQoS      = 1
)

// Broker is the MQTT client as used by the bridge
type Broker interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	Publish(ctx context.Context, topic, payload string, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	SetOnConnect(fn func())
}

// BrokerFactory creates the broker client once the last will is known
type BrokerFactory func(will mqtt.Will) (Broker, error)

// Options are the command line switches
type Options struct {
	// Debug falls back to a dummy identity and publishes values unretained
	Debug bool
	// Remove clears every retained topic and exits
	Remove bool
}

// Application is one bridge process
type Application struct {
	cfg  *config.Config
	opts Options

	client        device.Client
	brokerFactory BrokerFactory
	metrics       *metrics.Metrics
	monitor       *health.Monitor
	errors        *bridgeerrors.ErrorHandler
	log           logger.ILogger
	now           func() time.Time
	infoRetry     time.Duration
	heartbeat     time.Duration
}

// New creates an application with the default device and broker clients
func New(cfg *config.Config, opts Options) *Application {
	log := logger.NewStandardLogger()
	m := metrics.New()

	a := &Application{
		cfg:       cfg,
		opts:      opts,
		client:    device.NewHTTPClient(cfg.ECU.BaseURL(), cfg.ECU.RequestTimeout()),
		metrics:   m,
		monitor:   health.NewMonitor(health.DefaultGracePeriod, log),
		errors:    bridgeerrors.NewErrorHandler(log, m),
		log:       log,
		now:       time.Now,
		infoRetry: DeviceInfoRetry,
	}
	a.brokerFactory = func(will mqtt.Will) (Broker, error) {
		c, err := mqtt.NewClient(cfg.MQTT, will)
		if err != nil {
			return nil, err
		}
		c.SetObserver(m)
		return c, nil
	}
	a.monitor.OnChange(m.SetDeviceHealthy)
	return a
}

// WithDeviceClient replaces the inverter client
func (a *Application) WithDeviceClient(c device.Client) *Application {
	a.client = c
	return a
}

// WithBrokerFactory replaces the broker client
func (a *Application) WithBrokerFactory(f BrokerFactory) *Application {
	a.brokerFactory = f
	return a
}

// WithLogger replaces the logger
func (a *Application) WithLogger(log logger.ILogger) *Application {
	a.log = log
	a.errors = bridgeerrors.NewErrorHandler(log, a.metrics)
	return a
}

// Run fetches the inverter identity, connects, registers discovery and polls
// until ctx is cancelled. With Remove it clears all retained topics instead.
func (a *Application) Run(ctx context.Context) error {
	info, err := a.fetchDeviceInfo(ctx)
	if err != nil {
		return err
	}
	a.metrics.SetDeviceInfo(info)
	a.log.LogInfo("Inverter %s (%s) at %s, output %d..%d W",
		info.DeviceID, info.FirmwareVersion, info.IPAddress, info.MinPower, info.MaxPower)

	layout := ResolveLayout(a.cfg, info)
	broker, err := a.brokerFactory(mqtt.Will{Topic: layout.LivenessTopic(), Payload: discovery.PayloadOffline})
	if err != nil {
		return err
	}

	disc := discovery.New(broker, DiscoveryOptions(a.cfg, layout, a.opts.Debug),
		discovery.Identity{Device: info, StartTime: a.now().In(a.location())})

	// paho runs OnConnect on its own goroutine, so in remove mode an online
	// marker could land after Clear
	if !a.opts.Remove {
		broker.SetOnConnect(func() {
			pubCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := disc.PublishOnline(pubCtx); err != nil {
				a.log.LogWarn("Failed to publish online state: %v", err)
			}
		})
	}

	if err := broker.Connect(ctx); err != nil {
		return err
	}
	defer a.shutdown(disc, broker)

	if a.opts.Remove {
		a.log.LogInfo("Removing all retained topics")
		return disc.Clear(ctx)
	}

	if err := disc.Init(ctx); err != nil {
		a.errors.Handle(fmt.Errorf("discovery init: %w", err))
	}

	bridge := command.NewBridge(command.DefaultQueueSize, info.MinPower, info.MaxPower, a.log)
	if err := subscribeCommands(broker, layout, bridge); err != nil {
		return err
	}

	calc := night.NewCalculator(night.Location{
		Latitude:  a.cfg.ECU.Latitude,
		Longitude: a.cfg.ECU.Longitude,
		TZ:        a.location(),
	}, a.cfg.ECU.StopAtNight)

	sched := scheduler.New(ecu.New(a.client, calc, a.log), disc, bridge.Commands(), scheduler.Options{
		TelemetryInterval: a.cfg.ECU.UpdateInterval,
		StatusInterval:    scheduler.DefaultStatusInterval,
		Heartbeat:         a.heartbeat,
		Observer:          scheduler.MultiObserver{a.metrics, a.monitor},
		Errors:            a.errors,
		Log:               a.log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })

	if a.cfg.HTTP.Enabled {
		handler := health.NewHandler(a.monitor, sched, broker.IsConnected, info.DeviceID, info.FirmwareVersion)
		server := health.NewServer(a.cfg.HTTP.Port,
			health.NewRouter(handler, a.metrics.Handler(), a.metrics.WrapHandler))
		g.Go(func() error { return server.Run(gctx) })
	}

	return g.Wait()
}

// fetchDeviceInfo blocks until the inverter answers. In debug mode a failure
// falls back to a dummy identity.
func (a *Application) fetchDeviceInfo(ctx context.Context) (device.DeviceInfo, error) {
	for {
		info, err := a.client.GetDeviceInfo(ctx)
		if err == nil {
			return info, nil
		}
		if a.opts.Debug {
			a.log.LogWarn("Inverter not reachable (%v), using dummy device info", err)
			return device.DummyDeviceInfo(), nil
		}

		a.log.LogWarn("Inverter not reachable: %v, retrying in %v", err, a.infoRetry)
		select {
		case <-ctx.Done():
			return device.DeviceInfo{}, fmt.Errorf("fetch device info: %w", ctx.Err())
		case <-time.After(a.infoRetry):
		}
	}
}

func (a *Application) shutdown(disc *discovery.Discovery, broker Broker) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if !a.opts.Remove {
		if err := disc.PublishOffline(ctx); err != nil {
			a.log.LogWarn("Failed to publish offline state: %v", err)
		}
	}
	broker.Disconnect()
	a.log.LogInfo("Bridge stopped")
}

func (a *Application) location() *time.Location {
	loc, err := a.cfg.ECU.Location()
	if err != nil {
		return time.Local
	}
	return loc
}

func subscribeCommands(broker Broker, layout topics.Layout, bridge *command.Bridge) error {
	handlers := map[string]mqtt.MessageHandler{
		topics.KeyPowerStatus: bridge.HandlePower,
		topics.KeyMaxPower:    bridge.HandleMaxPower,
	}
	for key, handler := range handlers {
		for _, topic := range layout.CommandTopics(topics.MustLookup(key)) {
			if err := broker.Subscribe(topic, commandQoS, handler); err != nil {
				return err
			}
		}
	}
	return nil
}

// ResolveLayout builds the topic layout. HomA system id and Home Assistant
// device id default to the inverter's device id.
func ResolveLayout(cfg *config.Config, info device.DeviceInfo) topics.Layout {
	systemID := cfg.HomA.SystemID
	if systemID == "" {
		systemID = info.DeviceID
	}
	hassID := cfg.Hass.DeviceID
	if hassID == "" {
		hassID = info.DeviceID
	}
	return topics.Layout{
		HomAEnabled:     cfg.HomA.Enabled,
		HomASystemID:    systemID,
		HassEnabled:     cfg.Hass.Enabled,
		HassDeviceID:    hassID,
		TopicPrefix:     cfg.MQTT.TopicPrefix,
		DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
	}
}

// DiscoveryOptions maps the configuration onto discovery naming
func DiscoveryOptions(cfg *config.Config, layout topics.Layout, debug bool) discovery.Options {
	return discovery.Options{
		Layout:           layout,
		HomAName:         cfg.HomA.Name,
		HomARoom:         cfg.HomA.Room,
		HassDeviceName:   cfg.Hass.DeviceName,
		HassNamePrefix:   cfg.Hass.NamePrefix,
		HassArea:         cfg.Hass.Area,
		ConfigurationURL: cfg.ECU.BaseURL() + "/getAlarm",
		RetainValues:     !debug,
	}
}
