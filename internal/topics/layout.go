package topics

import (
	"fmt"
	"strings"
)

// Meta keys of the HomA convention
const (
	MetaType  = "type"
	MetaOrder = "order"
	MetaRoom  = "room"
	MetaUnit  = "unit"
	MetaName  = "name"

	commandSuffix = "/on"
)

// HomADeviceMetaTopic builds /devices/<systemId>/meta/<key>
func HomADeviceMetaTopic(systemID, key string) string {
	return fmt.Sprintf("/devices/%s/meta/%s", systemID, key)
}

// HomAControlTopic builds /devices/<systemId>/controls/<name>
func HomAControlTopic(systemID, name string) string {
	return fmt.Sprintf("/devices/%s/controls/%s", systemID, name)
}

// HomAControlMetaTopic builds /devices/<systemId>/controls/<name>/meta/<key>
func HomAControlMetaTopic(systemID, name, key string) string {
	return HomAControlTopic(systemID, name) + "/meta/" + key
}

// FlatTopic builds <prefix><name>
func FlatTopic(prefix, name string) string {
	return prefix + name
}

// CommandTopic is the command subtopic of a value topic
func CommandTopic(valueTopic string) string {
	return valueTopic + commandSuffix
}

// ObjectID builds the Home Assistant object id: <deviceId>-<name with spaces as dashes>
func ObjectID(hassDeviceID, name string) string {
	return hassDeviceID + "-" + strings.ReplaceAll(name, " ", "-")
}

// HassConfigTopic builds <discoveryPrefix>/<component>/<objectId>/config
func HassConfigTopic(discoveryPrefix, component, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/config", discoveryPrefix, component, objectID)
}

// Layout resolves which value namespaces are active for a configuration.
//
// Values go to the HomA controls path when HomA is enabled, and to the flat
// <prefix><name> path when HomA is disabled or when Home Assistant is enabled
// with a non-empty prefix. The first active namespace is the primary one: it
// carries the Home Assistant state topics and the liveness marker.
type Layout struct {
	HomAEnabled     bool
	HomASystemID    string
	HassEnabled     bool
	HassDeviceID    string
	TopicPrefix     string
	DiscoveryPrefix string
}

// HomAActive reports whether the HomA controls namespace carries values
func (l Layout) HomAActive() bool {
	return l.HomAEnabled
}

// FlatActive reports whether the flat prefix namespace carries values
func (l Layout) FlatActive() bool {
	return !l.HomAEnabled || (l.HassEnabled && l.TopicPrefix != "")
}

// ValueTopics returns every active value topic for a field, primary first
func (l Layout) ValueTopics(d Descriptor) []string {
	var out []string
	if l.HomAActive() {
		out = append(out, HomAControlTopic(l.HomASystemID, d.Name))
	}
	if l.FlatActive() {
		out = append(out, FlatTopic(l.TopicPrefix, d.Name))
	}
	return out
}

// PrimaryTopic is the value topic Home Assistant reads a field from
func (l Layout) PrimaryTopic(d Descriptor) string {
	if l.HomAActive() {
		return HomAControlTopic(l.HomASystemID, d.Name)
	}
	return FlatTopic(l.TopicPrefix, d.Name)
}

// LivenessTopic carries "online" while connected and is the broker last will
func (l Layout) LivenessTopic() string {
	return l.PrimaryTopic(MustLookup(KeyState))
}

// CommandTopics returns the command subtopics of a writable field in every active namespace
func (l Layout) CommandTopics(d Descriptor) []string {
	if !d.Hass.Writable {
		return nil
	}
	values := l.ValueTopics(d)
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, CommandTopic(v))
	}
	return out
}

// HassConfigTopic returns the discovery config topic of a field
func (l Layout) HassConfigTopic(d Descriptor) string {
	return HassConfigTopic(l.DiscoveryPrefix, d.Hass.Component, ObjectID(l.HassDeviceID, d.Name))
}

// AllValueTopics returns the value topics of a field in the active
// namespaces plus the inactive ones that belong to this bridge alone: the
// HomA controls path of the system id and a prefixed flat path. Used to clear
// leftovers of an earlier configuration. An unprefixed flat topic such as
// "Power" is only included while the flat namespace is active.
func (l Layout) AllValueTopics(d Descriptor) []string {
	var out []string
	if l.HomASystemID != "" {
		out = append(out, HomAControlTopic(l.HomASystemID, d.Name))
	}
	if l.FlatActive() || l.TopicPrefix != "" {
		out = append(out, FlatTopic(l.TopicPrefix, d.Name))
	}
	return out
}
