// Package topics holds the fixed field table and the MQTT topic layout
// for both discovery conventions (HomA and Home Assistant).
package topics

// Field keys
const (
	KeyPower            = "pt"
	KeyPowerP1          = "p1"
	KeyPowerP2          = "p2"
	KeyEnergyToday      = "et"
	KeyEnergyTodayP1    = "e1"
	KeyEnergyTodayP2    = "e2"
	KeyEnergyLifetime   = "lt"
	KeyEnergyLifetimeP1 = "l1"
	KeyEnergyLifetimeP2 = "l2"
	KeyPowerStatus      = "ps"
	KeyMaxPower         = "po"
	KeyDeviceID         = "id"
	KeyDeviceIP         = "ip"
	KeyVersion          = "ve"
	KeyStartTime        = "ti"
	KeyState            = "wi"
)

// ValueType describes how a field's value is rendered
type ValueType int

const (
	ValueInteger ValueType = iota
	ValueEnergyToday
	ValueEnergyLifetime
	ValueSwitch
	ValueText
	ValueTimestamp
)

// Home Assistant components
const (
	ComponentSensor       = "sensor"
	ComponentBinarySensor = "binary_sensor"
	ComponentNumber       = "number"
	ComponentSwitch       = "switch"
)

// HomAMeta is the per-control metadata of the HomA convention
type HomAMeta struct {
	Type string
	Room string
	Unit string
}

// HassMeta is the per-entity metadata of Home Assistant MQTT discovery
type HassMeta struct {
	Component      string
	DeviceClass    string
	StateClass     string
	Unit           string
	Icon           string
	ValueTemplate  string
	EntityCategory string
	Mode           string
	// Writable entities get a command topic
	Writable bool
	// Min/max come from the device's power limits
	DeviceBounds bool
}

// Descriptor is one row of the field table
type Descriptor struct {
	Key       string
	Name      string
	ValueType ValueType
	HomA      HomAMeta
	Hass      HassMeta
}

var registry = []Descriptor{
	{Key: KeyPower, Name: "Power", ValueType: ValueInteger,
		HomA: HomAMeta{Type: "text", Room: "Home", Unit: " W"},
		Hass: HassMeta{Component: ComponentSensor, DeviceClass: "power", StateClass: "measurement", Unit: "W"}},
	{Key: KeyPowerP1, Name: "Power P1", ValueType: ValueInteger,
		HomA: HomAMeta{Type: "text", Unit: " W"},
		Hass: HassMeta{Component: ComponentSensor, DeviceClass: "power", StateClass: "measurement", Unit: "W"}},
	{Key: KeyPowerP2, Name: "Power P2", ValueType: ValueInteger,
		HomA: HomAMeta{Type: "text", Unit: " W"},
		Hass: HassMeta{Component: ComponentSensor, DeviceClass: "power", StateClass: "measurement", Unit: "W"}},
	{Key: KeyEnergyToday, Name: "Energy today", ValueType: ValueEnergyToday,
		HomA: HomAMeta{Type: "text", Room: "Home", Unit: " kWh"},
		Hass: HassMeta{Component: ComponentSensor, DeviceClass: "energy", Unit: "kWh"}},
	{Key: KeyEnergyTodayP1, Name: "Energy today P1", ValueType: ValueEnergyToday,
		HomA: HomAMeta{Type: "text", Unit: " kWh"},
		Hass: HassMeta{Component: ComponentSensor, DeviceClass: "energy", Unit: "kWh"}},
	{Key: KeyEnergyTodayP2, Name: "Energy today P2", ValueType: ValueEnergyToday,
		HomA: HomAMeta{Type: "text", Unit: " kWh"},
		Hass: HassMeta{Component: ComponentSensor, DeviceClass: "energy", Unit: "kWh"}},
	{Key: KeyEnergyLifetime, Name: "Energy lifetime", ValueType: ValueEnergyLifetime,
		HomA: HomAMeta{Type: "text", Unit: " kWh"},
		Hass: HassMeta{Component: ComponentSensor, DeviceClass: "energy", StateClass: "total_increasing", Unit: "kWh"}},
	{Key: KeyEnergyLifetimeP1, Name: "Energy lifetime P1", ValueType: ValueEnergyLifetime,
		HomA: HomAMeta{Type: "text", Unit: " kWh"},
		Hass: HassMeta{Component: ComponentSensor, DeviceClass: "energy", StateClass: "total_increasing", Unit: "kWh"}},
	{Key: KeyEnergyLifetimeP2, Name: "Energy lifetime P2", ValueType: ValueEnergyLifetime,
		HomA: HomAMeta{Type: "text", Unit: " kWh"},
		Hass: HassMeta{Component: ComponentSensor, DeviceClass: "energy", StateClass: "total_increasing", Unit: "kWh"}},
	{Key: KeyPowerStatus, Name: "Power Status", ValueType: ValueSwitch,
		HomA: HomAMeta{Type: "switch"},
		Hass: HassMeta{Component: ComponentSwitch, DeviceClass: "switch", Writable: true}},
	{Key: KeyMaxPower, Name: "Power Max Output", ValueType: ValueInteger,
		HomA: HomAMeta{Type: "text", Unit: " W"},
		Hass: HassMeta{Component: ComponentNumber, DeviceClass: "power", Unit: "W", Mode: "box",
			Icon: "mdi:lightning-bolt-outline", Writable: true, DeviceBounds: true}},
	{Key: KeyDeviceID, Name: "Device id", ValueType: ValueText,
		HomA: HomAMeta{Type: "text"},
		Hass: HassMeta{Component: ComponentSensor, EntityCategory: "diagnostic", Icon: "mdi:identifier"}},
	{Key: KeyDeviceIP, Name: "Device IP", ValueType: ValueText,
		HomA: HomAMeta{Type: "text"},
		Hass: HassMeta{Component: ComponentSensor, EntityCategory: "diagnostic", Icon: "mdi:ip-network"}},
	{Key: KeyVersion, Name: "Version", ValueType: ValueText,
		HomA: HomAMeta{Type: "text"},
		Hass: HassMeta{Component: ComponentSensor, EntityCategory: "diagnostic", Icon: "mdi:chip"}},
	{Key: KeyStartTime, Name: "Start time", ValueType: ValueTimestamp,
		HomA: HomAMeta{Type: "text"},
		Hass: HassMeta{Component: ComponentSensor, EntityCategory: "diagnostic",
			ValueTemplate: "{{ as_datetime(value) }}", Icon: "mdi:calendar-arrow-right"}},
	// Liveness marker and broker last will
	{Key: KeyState, Name: "State", ValueType: ValueText,
		HomA: HomAMeta{Type: "text"},
		Hass: HassMeta{Component: ComponentBinarySensor, DeviceClass: "connectivity", EntityCategory: "diagnostic"}},
}

// All returns the field table in publication order
func All() []Descriptor {
	out := make([]Descriptor, len(registry))
	copy(out, registry)
	return out
}

// Lookup finds a row by key
func Lookup(key string) (Descriptor, bool) {
	for _, d := range registry {
		if d.Key == key {
			return d, true
		}
	}
	return Descriptor{}, false
}

// MustLookup finds a row by key and panics when it is not in the table
func MustLookup(key string) Descriptor {
	d, ok := Lookup(key)
	if !ok {
		panic("topics: unknown field key " + key)
	}
	return d
}

// Order is the 1-based position of a row, used as HomA meta/order
func Order(key string) int {
	for i, d := range registry {
		if d.Key == key {
			return i + 1
		}
	}
	return 0
}
