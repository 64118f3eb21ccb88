package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"ez1-mqtt-bridge/internal/app"
	"ez1-mqtt-bridge/internal/config"
	"ez1-mqtt-bridge/internal/logger"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("ez1-mqtt-bridge", flag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "configuration file (YAML); defaults to CONFIG_FILE or the environment")
	debug := fs.BoolP("debug", "d", false, "debug logging, unretained values and a dummy device when the inverter is unreachable")
	remove := fs.BoolP("remove", "r", false, "remove all retained topics from the broker and exit")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ez1-mqtt-bridge [-c FILE] [-d] [-r]\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.LogError("Configuration error: %v", err)
		return 1
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
		Debug:  *debug,
	}); err != nil {
		logger.LogError("Logging setup failed: %v", err)
		return 1
	}

	if err := cfg.Validate(); err != nil {
		if stderrors.Is(err, config.ErrMissingDeviceAddress) {
			logger.LogError("APS_ECU_IP not found. No config given? Use -h")
		} else {
			logger.LogError("Invalid configuration: %v", err)
		}
		return 1
	}

	logger.LogStartup("EZ1 MQTT bridge starting (config: %s, inverter: %s, broker: %s)",
		cfg.Source, cfg.ECU.BaseURL(), cfg.MQTT.BrokerAddress())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg, app.Options{Debug: *debug, Remove: *remove}).Run(ctx); err != nil {
		if ctx.Err() != nil {
			return 0
		}
		logger.LogError("Bridge failed: %v", err)
		return 1
	}
	return 0
}
