package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"ez1-mqtt-bridge/internal/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultKeepAlive      = 60 * time.Second
	defaultPingTimeout    = 10 * time.Second
	defaultRetryDelay     = 5 * time.Second
	disconnectQuiesceMs   = 250

	// connectivity check before each publish: attempts at a fixed interval
	defaultConnectedAttempts = 10
	defaultConnectedInterval = 5 * time.Second

	willQoS = 1

	tlsMinVersion = tls.VersionTLS12
)

// Will is the last-will message the broker publishes if the connection drops
type Will struct {
	Topic   string
	Payload string
}

// brokerURL picks tcp:// or ssl:// for the configured broker
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Secured {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)
}

// buildClientOptions creates paho options from the broker configuration
func buildClientOptions(cfg config.MQTTConfig, will Will) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(brokerURL(cfg))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
		// A fixed client id keeps its session across restarts
		opts.SetCleanSession(false)
	} else {
		opts.SetCleanSession(true)
	}

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetPingTimeout(defaultPingTimeout)
	opts.SetOrderMatters(true)

	if cfg.Secured {
		tlsConfig, err := buildTLSConfig(cfg.CACertsPath)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	if will.Topic != "" {
		opts.SetWill(will.Topic, will.Payload, willQoS, true)
	}

	return opts, nil
}

// buildTLSConfig trusts the CA bundle at caPath, or the system roots when empty
func buildTLSConfig(caPath string) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tlsMinVersion}
	if caPath == "" {
		return tlsConfig, nil
	}

	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read CA certificates %s: %w", caPath, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caPath)
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}
