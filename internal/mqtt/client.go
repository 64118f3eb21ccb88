package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"ez1-mqtt-bridge/internal/config"
	bridgeerrors "ez1-mqtt-bridge/internal/errors"
	"ez1-mqtt-bridge/internal/logger"
)

// MessageHandler is the callback signature for received messages.
// Handlers run on paho's delivery goroutine and must not block.
type MessageHandler func(topic string, payload []byte) error

// Observer is notified of every publish outcome
type Observer interface {
	ObservePublish(err error)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Client wraps paho with the connection handling of the bridge: last will,
// liveness republish on every (re)connect, subscription restore and a bounded
// connectivity check before each publish.
type Client struct {
	client paho.Client
	broker string
	qos    byte

	retryDelay        time.Duration
	connectedAttempts int
	connectedInterval time.Duration
	publishTimeout    time.Duration

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	onConnect  func()
	callbackMu sync.RWMutex

	observer Observer
}

// NewClient creates a client for the configured broker. The will message is
// registered with the broker on every connect.
func NewClient(cfg config.MQTTConfig, will Will) (*Client, error) {
	opts, err := buildClientOptions(cfg, will)
	if err != nil {
		return nil, bridgeerrors.NewMQTTError("configure", err, cfg.BrokerAddress())
	}

	c := &Client{
		broker:            cfg.BrokerAddress(),
		qos:               1,
		retryDelay:        defaultRetryDelay,
		connectedAttempts: defaultConnectedAttempts,
		connectedInterval: defaultConnectedInterval,
		publishTimeout:    defaultPublishTimeout,
		subscriptions:     make(map[string]subscription),
	}

	opts.SetOnConnectHandler(func(_ paho.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.LogWarn("Disconnected from MQTT broker %s: %v", c.broker, err)
	})
	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		logger.LogDebug("Reconnecting to MQTT broker %s", c.broker)
	})

	c.client = paho.NewClient(opts)
	return c, nil
}

// SetOnConnect registers a callback run after every successful (re)connect
func (c *Client) SetOnConnect(fn func()) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onConnect = fn
}

// SetObserver registers a publish observer, e.g. metrics
func (c *Client) SetObserver(o Observer) {
	c.observer = o
}

// Connect connects to the broker, retrying until it succeeds or ctx is cancelled
func (c *Client) Connect(ctx context.Context) error {
	attempt := 1
	for {
		logger.LogDebug("Connecting to MQTT broker %s (attempt %d)", c.broker, attempt)

		token := c.client.Connect()
		if token.WaitTimeout(defaultConnectTimeout) && token.Error() == nil {
			logger.LogInfo("Connected to MQTT broker %s after %d attempt(s)", c.broker, attempt)
			return nil
		}

		err := token.Error()
		if err == nil {
			err = ErrTimeout
		}
		logger.LogWarn("MQTT connection to %s failed (attempt %d): %v, retrying in %v",
			c.broker, attempt, err, c.retryDelay)

		select {
		case <-ctx.Done():
			return bridgeerrors.NewMQTTError("connect", ctx.Err(), c.broker)
		case <-time.After(c.retryDelay):
			attempt++
		}
	}
}

// Disconnect closes the connection after publishing pending messages
func (c *Client) Disconnect() {
	if c.client.IsConnected() {
		c.client.Disconnect(disconnectQuiesceMs)
	}
}

// IsConnected reports whether the connection to the broker is up
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Publish sends payload to topic with QoS 1. An empty retained payload deletes
// the retained message on the broker. Returns ErrNotConnected when the broker
// stays unreachable for the whole connectivity check.
func (c *Client) Publish(ctx context.Context, topic, payload string, retained bool) error {
	err := c.publish(ctx, topic, payload, retained)
	if c.observer != nil {
		c.observer.ObservePublish(err)
	}
	return err
}

func (c *Client) publish(ctx context.Context, topic, payload string, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	if err := waitConnected(ctx, c.IsConnected, c.connectedAttempts, c.connectedInterval); err != nil {
		mqttErr := bridgeerrors.NewMQTTError("publish", err, c.broker)
		mqttErr.Topic = topic
		return mqttErr
	}

	token := c.client.Publish(topic, c.qos, retained, payload)
	if !token.WaitTimeout(c.publishTimeout) {
		mqttErr := bridgeerrors.NewMQTTError("publish", ErrTimeout, c.broker)
		mqttErr.Topic = topic
		return mqttErr
	}
	if err := token.Error(); err != nil {
		mqttErr := bridgeerrors.NewMQTTError("publish", fmt.Errorf("%w: %w", ErrPublishFailed, err), c.broker)
		mqttErr.Topic = topic
		return mqttErr
	}

	logger.LogTrace("Published %q to %s (retain=%v)", payload, topic, retained)
	return nil
}

// Subscribe registers handler for topic. The subscription is restored after reconnects.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	logger.LogDebug("Subscribed to %s", topic)
	return nil
}

func (c *Client) handleConnect() {
	c.restoreSubscriptions()

	c.callbackMu.RLock()
	fn := c.onConnect
	c.callbackMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, s := range c.subscriptions {
		subs = append(subs, s)
	}
	c.subMu.RUnlock()

	for _, s := range subs {
		token := c.client.Subscribe(s.topic, s.qos, c.wrapHandler(s.handler))
		if token.WaitTimeout(defaultConnectTimeout) && token.Error() == nil {
			continue
		}
		logger.LogWarn("Failed to restore subscription %s: %v", s.topic, token.Error())
	}
}

// wrapHandler adapts a MessageHandler to paho and recovers from panics so one
// bad message cannot kill the delivery goroutine
func (c *Client) wrapHandler(handler MessageHandler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		defer func() {
			if r := recover(); r != nil {
				logger.LogError("Panic in MQTT handler for %s: %v", msg.Topic(), r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			logger.LogWarn("Message on %s rejected: %v", msg.Topic(), err)
		}
	}
}

// waitConnected polls isConnected up to attempts times, interval apart
func waitConnected(ctx context.Context, isConnected func() bool, attempts int, interval time.Duration) error {
	for i := 1; ; i++ {
		if isConnected() {
			return nil
		}
		if i >= attempts {
			return ErrNotConnected
		}
		logger.LogDebug("MQTT client not connected, check %d/%d", i, attempts)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrNotConnected, ctx.Err())
		case <-time.After(interval):
		}
	}
}
