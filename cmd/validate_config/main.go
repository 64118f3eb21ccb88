package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"ez1-mqtt-bridge/internal/config"
	"ez1-mqtt-bridge/internal/topics"
)

func main() {
	configPath := flag.StringP("config", "c", "", "configuration file (YAML); the environment when empty")
	flag.Parse()

	if *configPath == "" && flag.NArg() > 0 {
		*configPath = flag.Arg(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("❌ Error loading config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("📄 Loaded config from: %s\n", cfg.Source)

	if err := cfg.Validate(); err != nil {
		fmt.Printf("❌ Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("   MQTT Broker: %s (TLS: %v)\n", cfg.MQTT.BrokerAddress(), cfg.MQTT.Secured)
	fmt.Printf("   Inverter: %s, polled every %v\n", cfg.ECU.BaseURL(), cfg.ECU.UpdateInterval)
	if cfg.ECU.StopAtNight {
		fmt.Printf("   Night pause at %.4f, %.4f (%s)\n", cfg.ECU.Latitude, cfg.ECU.Longitude, cfg.ECU.Timezone)
	}

	fmt.Printf("   HomA: %v", cfg.HomA.Enabled)
	if cfg.HomA.Enabled {
		fmt.Printf(" (system id %q, room %q)", cfg.HomA.SystemID, cfg.HomA.Room)
	}
	fmt.Println()

	fmt.Printf("   Home Assistant: %v", cfg.Hass.Enabled)
	if cfg.Hass.Enabled {
		fmt.Printf(" (discovery prefix %q, device %q)", cfg.MQTT.DiscoveryPrefix, cfg.Hass.DeviceName)
	}
	fmt.Println()

	layout := topics.Layout{
		HomAEnabled:     cfg.HomA.Enabled,
		HomASystemID:    orPlaceholder(cfg.HomA.SystemID),
		HassEnabled:     cfg.Hass.Enabled,
		HassDeviceID:    orPlaceholder(cfg.Hass.DeviceID),
		TopicPrefix:     cfg.MQTT.TopicPrefix,
		DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
	}
	fmt.Printf("   Liveness topic: %s\n", layout.LivenessTopic())
	for _, d := range topics.All() {
		for _, topic := range layout.CommandTopics(d) {
			fmt.Printf("   Command topic: %s\n", topic)
		}
	}

	fmt.Println("\n✅ Configuration is valid!")
}

// orPlaceholder marks ids that are resolved from the inverter at startup
func orPlaceholder(id string) string {
	if id == "" {
		return "<device id>"
	}
	return id
}
