// Package discovery publishes inverter values and registers them with HomA
// and Home Assistant through retained MQTT messages.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ez1-mqtt-bridge/internal/device"
	"ez1-mqtt-bridge/internal/logger"
	"ez1-mqtt-bridge/internal/topics"
)

// Payloads
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
	PayloadOn      = "1"
	PayloadOff     = "0"

	manufacturer = "APsystems"
	model        = "EZ1"
)

// ErrUnknownPowerStatus is returned when asked to publish an unknown power status
var ErrUnknownPowerStatus = errors.New("discovery: power status is unknown")

// Publisher sends one MQTT message. An empty retained payload deletes the retained message.
type Publisher interface {
	Publish(ctx context.Context, topic, payload string, retained bool) error
}

// Options configures naming and retention
type Options struct {
	Layout topics.Layout

	HomAName string
	HomARoom string

	HassDeviceName string
	HassNamePrefix string
	HassArea       string

	// ConfigurationURL is linked from the Home Assistant device page
	ConfigurationURL string

	// RetainValues keeps value messages on the broker. Discovery and
	// identity messages are always retained.
	RetainValues bool
}

// Identity is the live device identity published at startup
type Identity struct {
	Device    device.DeviceInfo
	StartTime time.Time
}

// Discovery publishes values and discovery registrations for one inverter
type Discovery struct {
	pub      Publisher
	opts     Options
	identity Identity
}

// New creates a discovery publisher
func New(pub Publisher, opts Options, identity Identity) *Discovery {
	return &Discovery{pub: pub, opts: opts, identity: identity}
}

// Layout returns the topic layout in use
func (d *Discovery) Layout() topics.Layout {
	return d.opts.Layout
}

// FormatPower renders a power value in W
func FormatPower(w int) string { return strconv.Itoa(w) }

// FormatEnergyToday renders today's energy in kWh
func FormatEnergyToday(kwh float64) string { return strconv.FormatFloat(kwh, 'f', 3, 64) }

// FormatEnergyLifetime renders lifetime energy in kWh
func FormatEnergyLifetime(kwh float64) string { return strconv.FormatFloat(kwh, 'f', 1, 64) }

// FormatPowerStatus renders a switch state as "1"/"0"
func FormatPowerStatus(s device.PowerStatus) (string, error) {
	switch s {
	case device.PowerOn:
		return PayloadOn, nil
	case device.PowerOff:
		return PayloadOff, nil
	}
	return "", ErrUnknownPowerStatus
}

// PublishOutput publishes one reading: both channels and their sums
func (d *Discovery) PublishOutput(ctx context.Context, r device.OutputReading) error {
	values := []struct {
		key   string
		value string
	}{
		{topics.KeyPower, FormatPower(r.TotalPower())},
		{topics.KeyPowerP1, FormatPower(r.P1)},
		{topics.KeyPowerP2, FormatPower(r.P2)},
		{topics.KeyEnergyToday, FormatEnergyToday(r.EnergyToday())},
		{topics.KeyEnergyTodayP1, FormatEnergyToday(r.E1)},
		{topics.KeyEnergyTodayP2, FormatEnergyToday(r.E2)},
		{topics.KeyEnergyLifetime, FormatEnergyLifetime(r.EnergyLifetime())},
		{topics.KeyEnergyLifetimeP1, FormatEnergyLifetime(r.TE1)},
		{topics.KeyEnergyLifetimeP2, FormatEnergyLifetime(r.TE2)},
	}

	for _, v := range values {
		if err := d.publishValue(ctx, v.key, v.value, d.opts.RetainValues); err != nil {
			return err
		}
	}
	logger.LogDebug("Published output: %d W, %.3f kWh today, %.1f kWh lifetime",
		r.TotalPower(), r.EnergyToday(), r.EnergyLifetime())
	return nil
}

// PublishPowerStatus publishes the output switch state
func (d *Discovery) PublishPowerStatus(ctx context.Context, s device.PowerStatus) error {
	payload, err := FormatPowerStatus(s)
	if err != nil {
		return err
	}
	return d.publishValue(ctx, topics.KeyPowerStatus, payload, d.opts.RetainValues)
}

// PublishMaxPower publishes the output limit in W
func (d *Discovery) PublishMaxPower(ctx context.Context, watts int) error {
	return d.publishValue(ctx, topics.KeyMaxPower, FormatPower(watts), d.opts.RetainValues)
}

// Init registers the inverter: Home Assistant first, then HomA, then the
// identity values and the liveness marker.
func (d *Discovery) Init(ctx context.Context) error {
	if d.opts.Layout.HassEnabled {
		if err := d.HassInit(ctx); err != nil {
			return fmt.Errorf("home assistant init: %w", err)
		}
	}
	if d.opts.Layout.HomAEnabled {
		if err := d.HomAInit(ctx); err != nil {
			return fmt.Errorf("homa init: %w", err)
		}
	}
	if err := d.PublishIdentity(ctx); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	return d.PublishOnline(ctx)
}

// Clear deletes every retained message Init or the value path can create,
// in both namespaces and for both discovery schemes.
func (d *Discovery) Clear(ctx context.Context) error {
	if err := d.HassClear(ctx); err != nil {
		return fmt.Errorf("home assistant clear: %w", err)
	}
	if err := d.HomAClear(ctx); err != nil {
		return fmt.Errorf("homa clear: %w", err)
	}
	for _, desc := range topics.All() {
		for _, topic := range d.opts.Layout.AllValueTopics(desc) {
			if err := d.clear(ctx, topic); err != nil {
				return err
			}
		}
	}
	logger.LogInfo("Cleared all retained topics")
	return nil
}

// HomAInit publishes the HomA device and control metadata
func (d *Discovery) HomAInit(ctx context.Context) error {
	sys := d.opts.Layout.HomASystemID

	if err := d.retain(ctx, topics.HomADeviceMetaTopic(sys, topics.MetaName), d.opts.HomAName); err != nil {
		return err
	}
	if err := d.retain(ctx, topics.HomADeviceMetaTopic(sys, topics.MetaRoom), d.opts.HomARoom); err != nil {
		return err
	}

	for i, desc := range topics.All() {
		meta := []struct{ key, value string }{
			{topics.MetaType, desc.HomA.Type},
			{topics.MetaOrder, strconv.Itoa(i + 1)},
			{topics.MetaRoom, desc.HomA.Room},
			{topics.MetaUnit, desc.HomA.Unit},
		}
		for _, m := range meta {
			if err := d.retain(ctx, topics.HomAControlMetaTopic(sys, desc.Name, m.key), m.value); err != nil {
				return err
			}
		}
	}
	logger.LogDebug("HomA metadata published for system %s", sys)
	return nil
}

// HomAClear deletes the HomA device metadata and every control with its metadata
func (d *Discovery) HomAClear(ctx context.Context) error {
	sys := d.opts.Layout.HomASystemID
	if sys == "" {
		return nil
	}

	if err := d.clear(ctx, topics.HomADeviceMetaTopic(sys, topics.MetaName)); err != nil {
		return err
	}
	if err := d.clear(ctx, topics.HomADeviceMetaTopic(sys, topics.MetaRoom)); err != nil {
		return err
	}

	for _, desc := range topics.All() {
		if err := d.clear(ctx, topics.HomAControlTopic(sys, desc.Name)); err != nil {
			return err
		}
		for _, key := range []string{topics.MetaType, topics.MetaOrder, topics.MetaRoom, topics.MetaUnit} {
			if err := d.clear(ctx, topics.HomAControlMetaTopic(sys, desc.Name, key)); err != nil {
				return err
			}
		}
	}
	logger.LogInfo("HomA topics cleared")
	return nil
}

// HassInit publishes one Home Assistant discovery document per field
func (d *Discovery) HassInit(ctx context.Context) error {
	for _, desc := range topics.All() {
		payload, err := json.Marshal(d.EntityConfig(desc))
		if err != nil {
			return fmt.Errorf("encode discovery for %s: %w", desc.Name, err)
		}
		if err := d.retain(ctx, d.opts.Layout.HassConfigTopic(desc), string(payload)); err != nil {
			return err
		}
	}
	logger.LogDebug("Home Assistant discovery published for device %s", d.opts.Layout.HassDeviceID)
	return nil
}

// HassClear deletes the discovery document of every field
func (d *Discovery) HassClear(ctx context.Context) error {
	if d.opts.Layout.HassDeviceID == "" {
		return nil
	}
	for _, desc := range topics.All() {
		if err := d.clear(ctx, d.opts.Layout.HassConfigTopic(desc)); err != nil {
			return err
		}
	}
	logger.LogInfo("Home Assistant discovery topics cleared")
	return nil
}

// EntityConfig builds the discovery document of one field
func (d *Discovery) EntityConfig(desc topics.Descriptor) EntityConfig {
	l := d.opts.Layout
	objectID := topics.ObjectID(l.HassDeviceID, desc.Name)
	stateTopic := l.PrimaryTopic(desc)

	cfg := EntityConfig{
		Name:              d.opts.HassNamePrefix + desc.Name,
		UniqueID:          objectID,
		ObjectID:          objectID,
		StateTopic:        stateTopic,
		UnitOfMeasurement: desc.Hass.Unit,
		DeviceClass:       desc.Hass.DeviceClass,
		StateClass:        desc.Hass.StateClass,
		EntityCategory:    desc.Hass.EntityCategory,
		Icon:              desc.Hass.Icon,
		ValueTemplate:     desc.Hass.ValueTemplate,
		Mode:              desc.Hass.Mode,
		Device:            d.deviceBlock(),
	}

	if desc.Hass.Writable {
		cfg.CommandTopic = topics.CommandTopic(stateTopic)
	}
	switch desc.Hass.Component {
	case topics.ComponentSwitch:
		cfg.PayloadOn = PayloadOn
		cfg.PayloadOff = PayloadOff
	case topics.ComponentBinarySensor:
		cfg.PayloadOn = PayloadOnline
		cfg.PayloadOff = PayloadOffline
	}
	if desc.Hass.DeviceBounds {
		minPower, maxPower, step := d.identity.Device.MinPower, d.identity.Device.MaxPower, 1
		cfg.Min, cfg.Max, cfg.Step = &minPower, &maxPower, &step
	}
	if desc.Key != topics.KeyState {
		cfg.AvailabilityTopic = l.LivenessTopic()
		cfg.PayloadAvailable = PayloadOnline
		cfg.PayloadNotAvailable = PayloadOffline
	}
	return cfg
}

func (d *Discovery) deviceBlock() DeviceInfo {
	return DeviceInfo{
		Identifiers:      []string{d.opts.Layout.HassDeviceID},
		Name:             d.opts.HassDeviceName,
		Manufacturer:     manufacturer,
		Model:            model,
		ConfigurationURL: d.opts.ConfigurationURL,
		SuggestedArea:    d.opts.HassArea,
		SWVersion:        d.identity.Device.FirmwareVersion,
	}
}

// PublishIdentity publishes device id, IP, firmware version and start time
// into every active value namespace
func (d *Discovery) PublishIdentity(ctx context.Context) error {
	values := []struct{ key, value string }{
		{topics.KeyDeviceID, d.identity.Device.DeviceID},
		{topics.KeyDeviceIP, d.identity.Device.IPAddress},
		{topics.KeyVersion, d.identity.Device.FirmwareVersion},
		{topics.KeyStartTime, d.identity.StartTime.Format(time.RFC3339)},
	}
	for _, v := range values {
		if err := d.publishValue(ctx, v.key, v.value, true); err != nil {
			return err
		}
	}
	return nil
}

// PublishOnline marks the bridge as connected on the liveness topic
func (d *Discovery) PublishOnline(ctx context.Context) error {
	return d.retain(ctx, d.opts.Layout.LivenessTopic(), PayloadOnline)
}

// PublishOffline marks the bridge as gone on the liveness topic, as the last will would
func (d *Discovery) PublishOffline(ctx context.Context) error {
	return d.retain(ctx, d.opts.Layout.LivenessTopic(), PayloadOffline)
}

func (d *Discovery) publishValue(ctx context.Context, key, value string, retained bool) error {
	desc := topics.MustLookup(key)
	for _, topic := range d.opts.Layout.ValueTopics(desc) {
		if err := d.pub.Publish(ctx, topic, value, retained); err != nil {
			return err
		}
	}
	return nil
}

func (d *Discovery) retain(ctx context.Context, topic, payload string) error {
	return d.pub.Publish(ctx, topic, payload, true)
}

func (d *Discovery) clear(ctx context.Context, topic string) error {
	return d.pub.Publish(ctx, topic, "", true)
}
