package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/sesami-core/internal/infrastructure/config"
	"github.com/nerrad567/sesami-core/internal/protocol"
)

// ConnectOptions identifies one daemon to the broker. The wrapper is
// shared by sesamid and nukibridged; everything that differs between
// them lives here.
//
// ClientID must be unique per broker: connecting twice with the same ID
// kicks the earlier session. StatusTopic carries the Last Will and the
// online/offline announcements, so a consumer watching one retained
// topic sees the component's full lifecycle.
type ConnectOptions struct {
	// ClientID is the broker session identifier, e.g. "sesami-door-frontdoor".
	ClientID string

	// Component names the daemon in health payloads.
	Component string

	// Version is the build version reported in health payloads.
	Version string

	// StatusTopic is the retained health topic for this daemon.
	StatusTopic string
}

// MessageHandler receives one decoded message. Paho invokes handlers on
// its router goroutine, so they must stay cheap; returning an error
// gets it logged but does not affect acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// Logger is the subset of the logging package the client needs.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// subscription is retained so it can be replayed after a reconnect.
// The topic is the map key.
type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client is a broker session with subscription replay, panic-safe
// handlers and lifecycle announcements on the daemon's health topic.
//
// Thread Safety: all methods may be called from any goroutine.
type Client struct {
	client   pahomqtt.Client
	cfg      config.MQTTConfig
	identity ConnectOptions
	started  time.Time

	// mu guards connected, the two callbacks and the logger.
	mu           sync.RWMutex
	connected    bool
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger

	// subs tracks live subscriptions for replay on reconnect.
	subsMu sync.RWMutex
	subs   map[string]subscription
}

// Connect dials the broker and blocks until the session is up or the
// connect timeout passes. The will is armed before the dial, so even a
// session that dies seconds after birth leaves an offline marker.
//
// Parameters:
//   - cfg: MQTT section of config.yaml
//   - identity: Per-daemon client ID, component name and status topic
//
// Returns:
//   - *Client: Connected session
//   - error: If no connection within the timeout
func Connect(cfg config.MQTTConfig, identity ConnectOptions) (*Client, error) {
	c := &Client{
		cfg:      cfg,
		identity: identity,
		started:  time.Now(),
		subs:     make(map[string]subscription),
	}

	opts := clientOptions(cfg, identity)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { c.connectionUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.connectionLost(err) })

	c.client = pahomqtt.NewClient(opts)

	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs on paho's goroutine and may not have
	// fired yet; mark connected here so IsConnected() holds the moment
	// Connect returns.
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	return c, nil
}

// connectionUp runs on every connect and reconnect: replay the
// subscriptions the broker forgot, overwrite a possibly retained crash
// will with a live announcement, then let the domain callback
// re-request whatever state it missed.
func (c *Client) connectionUp() {
	c.mu.Lock()
	c.connected = true
	callback := c.onConnect
	c.mu.Unlock()

	c.resubscribeAll()
	c.announceOnline()

	if callback != nil {
		callback()
	}
}

func (c *Client) connectionLost(err error) {
	c.mu.Lock()
	c.connected = false
	callback := c.onDisconnect
	c.mu.Unlock()

	if callback != nil {
		callback(err)
	}
}

// resubscribeAll replays tracked subscriptions. Errors are ignored
// here; paho calls us again on the next reconnect.
func (c *Client) resubscribeAll() {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()

	for topic, sub := range c.subs {
		c.client.Subscribe(topic, sub.qos, c.safeHandler(sub.handler))
	}
}

// announceOnline publishes a minimal retained online payload on the
// status topic. The periodic health reporter fills in the detail on its
// next tick.
func (c *Client) announceOnline() {
	msg := protocol.NewHealthMessage(c.identity.Component, c.identity.Version,
		protocol.HealthOnline, c.started)
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.client.Publish(c.identity.StatusTopic, byte(c.cfg.QoS), true, payload)
}

// Close announces a graceful offline, distinguishable from the crash
// will by its reason field, and disconnects. Safe on a zero Client.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		msg := protocol.NewHealthMessage(c.identity.Component, c.identity.Version,
			protocol.HealthOffline, c.started)
		msg.Reason = "graceful_shutdown"
		if payload, err := json.Marshal(msg); err == nil {
			token := c.client.Publish(c.identity.StatusTopic, byte(c.cfg.QoS), true, payload)
			token.WaitTimeout(ackTimeout)
		}
	}

	c.client.Disconnect(disconnectQuiesce)

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	return nil
}

// HealthCheck reports session state. The paho client probes the broker
// itself through keepalive pings, so no active round trip is needed.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reflects the last known session state without touching
// the network.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	// Order matters: c.client is nil on a zero Client.
	return c.connected && c.client.IsConnected()
}

// SetOnConnect registers a callback invoked on the initial connect and
// every reconnect. The coordinator uses it to re-request lock state
// from the bridge, since reports published while the connection was
// down are gone.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect registers a callback invoked when the session drops.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger enables handler error and panic logging. Without one those
// are dropped silently.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// safeHandler adapts a MessageHandler for paho, recovering panics so a
// malformed payload cannot take down the daemon's broker session.
func (c *Client) safeHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.log(); logger != nil {
					logger.Error("mqtt handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.log(); logger != nil {
				logger.Warn("mqtt handler error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
