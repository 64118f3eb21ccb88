package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ez1-mqtt-bridge/internal/errors"
)

// Defaults
const (
	DefaultBrokerHost      = "127.0.0.1"
	DefaultBrokerPort      = 1883
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultHomARoom        = "Sensors"
	DefaultHomAName        = "Solar PV"
	DefaultHassDeviceName  = "Solar PV"
	DefaultHassArea        = "Energie"
	DefaultECUPort         = 8050
	DefaultUpdateInterval  = 15 * time.Second
	DefaultLatitude        = 52.5162
	DefaultLongitude       = 13.3777
	DefaultHTTPPort        = 9090
	MinUpdateInterval      = 3 * time.Second
	MaxRequestTimeout      = 10 * time.Second
	SourceEnvironment      = "environment"
	configFileEnv          = "CONFIG_FILE"
	timezoneFallbackEnv    = "TZ"
	dotEnvFile             = ".env"
)

// ErrMissingDeviceAddress is returned by Validate when APS_ECU_IP is not set
var ErrMissingDeviceAddress = stderrors.New("APS_ECU_IP is not set")

// Config represents the complete application configuration
type Config struct {
	MQTT    MQTTConfig
	HomA    HomAConfig
	Hass    HassConfig
	ECU     ECUConfig
	Logging LoggingConfig
	HTTP    HTTPConfig

	// Source is the file the configuration was read from, or "environment"
	Source string
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Host            string
	Port            int
	Username        string
	Password        string
	ClientID        string
	TopicPrefix     string
	Secured         bool
	CACertsPath     string
	DiscoveryPrefix string
}

// HomAConfig contains the generic automation-bus (HomA) discovery settings
type HomAConfig struct {
	Enabled  bool
	SystemID string
	Room     string
	Name     string
}

// HassConfig contains Home Assistant MQTT discovery settings
type HassConfig struct {
	Enabled    bool
	DeviceID   string
	DeviceName string
	NamePrefix string
	Area       string
}

// ECUConfig contains the inverter connection and scheduling settings
type ECUConfig struct {
	IP             string
	Port           int
	UpdateInterval time.Duration
	Timezone       string
	StopAtNight    bool
	Latitude       float64
	Longitude      float64
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string
	Format string
	File   string
}

// HTTPConfig contains the optional health/metrics endpoint settings
type HTTPConfig struct {
	Enabled bool
	Port    int
}

// fileLayout is the on-disk YAML shape: each section maps the same upper-case
// keys that are accepted from the environment.
type fileLayout struct {
	MQTT    map[string]interface{} `yaml:"mqtt"`
	ECU     map[string]interface{} `yaml:"ecu"`
	Logging map[string]interface{} `yaml:"logging"`
	HTTP    map[string]interface{} `yaml:"http"`
}

type lookupFunc func(key string) (string, bool)

// Load resolves the configuration from, in order: configPath, the CONFIG_FILE
// environment variable, or the process environment. A .env file in the working
// directory is loaded into the environment first when present.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(dotEnvFile); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return nil, errors.NewConfigError("load .env", err, "")
	}

	if configPath == "" {
		configPath = os.Getenv(configFileEnv)
	}
	if configPath != "" {
		return LoadFile(configPath)
	}
	return FromEnv()
}

// LoadFile reads the YAML configuration file at path
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError("read configuration file", err, path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.Source = path
	return cfg, nil
}

// Parse builds a configuration from YAML content
func Parse(data []byte) (*Config, error) {
	var layout fileLayout
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return nil, errors.NewConfigError("parse configuration", err, "")
	}
	if layout.MQTT == nil || layout.ECU == nil {
		return nil, errors.NewConfigError("parse configuration",
			fmt.Errorf("sections 'mqtt' and 'ecu' are required"), "")
	}

	sections := []map[string]interface{}{layout.MQTT, layout.ECU, layout.Logging, layout.HTTP}
	lookup := func(key string) (string, bool) {
		for _, section := range sections {
			if v, ok := section[key]; ok && v != nil {
				return fmt.Sprint(v), true
			}
		}
		return "", false
	}
	return build(lookup)
}

// FromEnv builds a configuration from environment variables
func FromEnv() (*Config, error) {
	cfg, err := build(os.LookupEnv)
	if err != nil {
		return nil, err
	}
	cfg.Source = SourceEnvironment
	return cfg, nil
}

func build(lookup lookupFunc) (*Config, error) {
	r := reader{lookup: lookup}

	cfg := &Config{
		MQTT: MQTTConfig{
			Host:            r.text("MQTT_BROKER_HOST", DefaultBrokerHost),
			Port:            r.integer("MQTT_BROKER_PORT", DefaultBrokerPort),
			Username:        r.text("MQTT_BROKER_USER", ""),
			Password:        r.text("MQTT_BROKER_PASSWD", ""),
			ClientID:        r.text("MQTT_CLIENT_ID", ""),
			TopicPrefix:     r.text("MQTT_TOPIC_PREFIX", ""),
			Secured:         r.flag("MQTT_BROKER_SECURED_CONNECTION", false),
			CACertsPath:     r.text("MQTT_BROKER_CACERTS_PATH", ""),
			DiscoveryPrefix: r.text("MQTT_DISCOVERY_PREFIX", DefaultDiscoveryPrefix),
		},
		HomA: HomAConfig{
			Enabled:  r.flag("HOMA_ENABLED", false),
			SystemID: r.text("HOMA_SYSTEMID", ""),
			Room:     r.text("HOMA_ROOM", DefaultHomARoom),
			Name:     r.text("HOMA_NAME", DefaultHomAName),
		},
		Hass: HassConfig{
			Enabled:    r.flag("HASS_ENABLED", false),
			DeviceID:   r.text("HASS_DEVICE_ID", ""),
			DeviceName: r.text("HASS_DEVICE_NAME", DefaultHassDeviceName),
			NamePrefix: r.text("HASS_NAME_PREFIX", ""),
			Area:       r.text("HASS_AREA", DefaultHassArea),
		},
		ECU: ECUConfig{
			IP:             r.text("APS_ECU_IP", ""),
			Port:           r.integer("APS_ECU_PORT", DefaultECUPort),
			UpdateInterval: time.Duration(r.integer("APS_ECU_UPDATE_INTERVAL", int(DefaultUpdateInterval/time.Second))) * time.Second,
			Timezone:       r.text("APS_ECU_TIMEZONE", os.Getenv(timezoneFallbackEnv)),
			StopAtNight:    r.flag("APS_ECU_STOP_AT_NIGHT", false),
			Latitude:       r.number("APS_ECU_POSITION_LAT", DefaultLatitude),
			Longitude:      r.number("APS_ECU_POSITION_LNG", DefaultLongitude),
		},
		Logging: LoggingConfig{
			Level:  r.text("LOG_LEVEL", "info"),
			Format: r.text("LOG_FORMAT", "console"),
			File:   r.text("LOG_FILE", ""),
		},
		HTTP: HTTPConfig{
			Enabled: r.flag("HTTP_ENABLED", false),
			Port:    r.integer("HTTP_PORT", DefaultHTTPPort),
		},
	}

	if r.err != nil {
		return nil, r.err
	}
	return cfg, nil
}

// reader converts raw key lookups into typed values, keeping the first error
type reader struct {
	lookup lookupFunc
	err    error
}

func (r *reader) raw(key string) (string, bool) {
	v, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (r *reader) fail(key, value string, err error) {
	if r.err == nil {
		ce := errors.NewConfigError("parse value", err, key)
		ce.Value = value
		r.err = ce
	}
}

func (r *reader) text(key, def string) string {
	if v, ok := r.raw(key); ok {
		return v
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v, ok := r.raw(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return n
}

func (r *reader) number(key string, def float64) float64 {
	v, ok := r.raw(key)
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return f
}

func (r *reader) flag(key string, def bool) bool {
	v, ok := r.raw(key)
	if !ok || v == "" {
		return def
	}
	b, err := ParseBool(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return b
}

// ParseBool accepts the usual spellings of a boolean flag
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "t", "true", "on", "1":
		return true, nil
	case "n", "no", "f", "false", "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value %q", s)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ECU.IP == "" {
		return errors.NewConfigError("validate", ErrMissingDeviceAddress, "APS_ECU_IP")
	}
	if c.ECU.Port <= 0 || c.ECU.Port > 65535 {
		return errors.NewConfigError("validate", fmt.Errorf("port %d out of range", c.ECU.Port), "APS_ECU_PORT")
	}
	if c.ECU.UpdateInterval < MinUpdateInterval {
		return errors.NewConfigError("validate",
			fmt.Errorf("update interval %v is below the minimum of %v", c.ECU.UpdateInterval, MinUpdateInterval),
			"APS_ECU_UPDATE_INTERVAL")
	}
	if c.MQTT.Host == "" {
		return errors.NewConfigError("validate", fmt.Errorf("broker host is empty"), "MQTT_BROKER_HOST")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return errors.NewConfigError("validate", fmt.Errorf("port %d out of range", c.MQTT.Port), "MQTT_BROKER_PORT")
	}
	if c.ECU.StopAtNight {
		if c.ECU.Latitude < -90 || c.ECU.Latitude > 90 {
			return errors.NewConfigError("validate", fmt.Errorf("latitude %v out of range", c.ECU.Latitude), "APS_ECU_POSITION_LAT")
		}
		if c.ECU.Longitude < -180 || c.ECU.Longitude > 180 {
			return errors.NewConfigError("validate", fmt.Errorf("longitude %v out of range", c.ECU.Longitude), "APS_ECU_POSITION_LNG")
		}
	}
	if _, err := c.ECU.Location(); err != nil {
		return errors.NewConfigError("validate", err, "APS_ECU_TIMEZONE")
	}
	if c.HTTP.Enabled && (c.HTTP.Port <= 0 || c.HTTP.Port > 65535) {
		return errors.NewConfigError("validate", fmt.Errorf("port %d out of range", c.HTTP.Port), "HTTP_PORT")
	}
	return nil
}

// RequestTimeout is the per-call device timeout: the update interval, capped at 10s
func (e ECUConfig) RequestTimeout() time.Duration {
	if e.UpdateInterval > MaxRequestTimeout {
		return MaxRequestTimeout
	}
	return e.UpdateInterval
}

// Location resolves the configured timezone. An empty timezone means local time.
func (e ECUConfig) Location() (*time.Location, error) {
	if e.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(e.Timezone)
}

// BaseURL is the root of the inverter's local API
func (e ECUConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", e.IP, e.Port)
}

// BrokerAddress is the host:port of the MQTT broker
func (m MQTTConfig) BrokerAddress() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}
