package discovery

// EntityConfig is a Home Assistant MQTT discovery document
type EntityConfig struct {
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	ObjectID            string     `json:"object_id"`
	StateTopic          string     `json:"state_topic"`
	CommandTopic        string     `json:"command_topic,omitempty"`
	UnitOfMeasurement   string     `json:"unit_of_measurement,omitempty"`
	DeviceClass         string     `json:"device_class,omitempty"`
	StateClass          string     `json:"state_class,omitempty"`
	EntityCategory      string     `json:"entity_category,omitempty"`
	Icon                string     `json:"icon,omitempty"`
	ValueTemplate       string     `json:"value_template,omitempty"`
	Mode                string     `json:"mode,omitempty"`
	Min                 *int       `json:"min,omitempty"`
	Max                 *int       `json:"max,omitempty"`
	Step                *int       `json:"step,omitempty"`
	PayloadOn           string     `json:"payload_on,omitempty"`
	PayloadOff          string     `json:"payload_off,omitempty"`
	AvailabilityTopic   string     `json:"availability_topic,omitempty"`
	PayloadAvailable    string     `json:"payload_available,omitempty"`
	PayloadNotAvailable string     `json:"payload_not_available,omitempty"`
	Device              DeviceInfo `json:"device"`
}

// DeviceInfo is the device block shared by all entities of the inverter
type DeviceInfo struct {
	Identifiers      []string `json:"identifiers"`
	Name             string   `json:"name"`
	Manufacturer     string   `json:"manufacturer"`
	Model            string   `json:"model"`
	ConfigurationURL string   `json:"configuration_url,omitempty"`
	SuggestedArea    string   `json:"suggested_area,omitempty"`
	SWVersion        string   `json:"sw_version,omitempty"`
}
