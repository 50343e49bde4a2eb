package ubidots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
)

const (
	// DefaultBroker is the Ubidots industrial MQTT endpoint.
	DefaultBroker = "mqtt://industrial.api.ubidots.com:1883"

	// DefaultDeviceLabel is used when a publish or subscribe names no
	// device.
	DefaultDeviceLabel = "esp32"

	// inboundQueueSize bounds messages waiting for the next Loop call.
	inboundQueueSize = 64
)

// ErrEmptyBuffer is returned by [Client.Publish] when nothing was added
// since the last publish.
var ErrEmptyBuffer = errors.New("no values to publish")

// Config holds the connection settings for a [Client].
type Config struct {
	// Broker is the MQTT broker URL. Empty selects [DefaultBroker].
	Broker string
	// Token is the Ubidots account or device token, sent as the MQTT
	// username.
	Token string
	// ClientName is the MQTT client ID. Empty derives one from the
	// host's hardware address, falling back to a random UUID.
	ClientName string
	// Debug enables diagnostic logging of connects, topics and payloads.
	Debug bool
}

type inboundMessage struct {
	topic   string
	payload []byte
}

// Client stages readings and exchanges them with Ubidots over MQTT.
// Apart from the inbound queue, a Client must be used from a single
// goroutine.
type Client struct {
	name      string
	transport Transport
	handler   MessageHandler
	logger    *slog.Logger
	debug     bool
	buf       Buffer

	inbound chan inboundMessage
	dropped atomic.Int64
}

// SupportedScheme reports whether scheme is a broker URL scheme the
// client can dial.
func SupportedScheme(scheme string) bool {
	switch scheme {
	case "mqtt", "tcp", "mqtts", "ssl", "tls", "ws", "wss":
		return true
	}
	return false
}

// New creates a Client for cfg but does not connect. Call
// [Client.Reconnect] (or [Client.Subscribe]) to open the session.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	broker := cfg.Broker
	if broker == "" {
		broker = DefaultBroker
	}
	u, err := url.Parse(broker)
	if err != nil {
		return nil, fmt.Errorf("parse mqtt broker URL: %w", err)
	}
	if !SupportedScheme(u.Scheme) || u.Host == "" {
		return nil, fmt.Errorf("unsupported mqtt broker URL %q", broker)
	}

	name, err := resolveClientName(cfg.ClientName)
	if err != nil {
		return nil, err
	}

	c := newClient(name, cfg.Debug, logger)
	c.transport = newPahoTransport(u, name, cfg.Token, c.enqueue, c.logger)
	c.diag("mqtt client created", "broker", u.Redacted(), "client", name)
	return c, nil
}

// NewWithTransport creates a Client over an existing transport. Inbound
// messages must be fed to the returned client's [Client.Deliver].
func NewWithTransport(name string, t Transport, debug bool, logger *slog.Logger) *Client {
	c := newClient(name, debug, logger)
	c.transport = t
	return c
}

func newClient(name string, debug bool, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		name:    name,
		logger:  logger,
		debug:   debug,
		inbound: make(chan inboundMessage, inboundQueueSize),
	}
}

// Name returns the MQTT client ID in use.
func (c *Client) Name() string { return c.name }

// SetDebug turns diagnostic logging on or off.
func (c *Client) SetDebug(debug bool) { c.debug = debug }

// Begin registers the handler for messages on subscribed topics.
func (c *Client) Begin(handler MessageHandler) { c.handler = handler }

// diag logs at Info level when debug output is enabled.
func (c *Client) diag(msg string, args ...any) {
	if c.debug {
		c.logger.Info(msg, args...)
	}
}

// Connected reports whether the MQTT session is up.
func (c *Client) Connected() bool { return c.transport.Connected() }

// Reconnect makes one synchronous connection attempt. It returns nil
// immediately if already connected.
func (c *Client) Reconnect(ctx context.Context) error {
	if c.transport.Connected() {
		return nil
	}
	c.diag("mqtt connecting", "client", c.name)
	if err := c.transport.Connect(ctx); err != nil {
		c.diag("mqtt connect failed", "error", err)
		return err
	}
	c.diag("mqtt connected", "client", c.name)
	return nil
}

// Deliver queues an inbound message for the next [Client.Loop]. It is
// safe to call from any goroutine and never blocks; when the queue is
// full the message is dropped.
func (c *Client) Deliver(topic string, payload []byte) {
	c.enqueue(topic, payload)
}

func (c *Client) enqueue(topic string, payload []byte) {
	msg := inboundMessage{topic: topic, payload: append([]byte(nil), payload...)}
	select {
	case c.inbound <- msg:
	default:
		c.dropped.Add(1)
	}
}

// Loop hands queued inbound messages to the registered handler and
// reports whether the client is still connected. Call it on every pass
// of the polling loop.
func (c *Client) Loop() bool {
	if n := c.dropped.Swap(0); n > 0 {
		c.logger.Warn("mqtt inbound messages dropped, queue full",
			"dropped", n, "queue_size", inboundQueueSize)
	}
	for {
		select {
		case msg := <-c.inbound:
			c.diag("mqtt message received", "topic", msg.topic, "payload_size", len(msg.payload))
			if c.handler != nil {
				c.handler(msg.topic, msg.payload)
			}
		default:
			return c.transport.Connected()
		}
	}
}

// Add stages a value for label.
func (c *Client) Add(label string, value float64) {
	c.AddTimestamped(label, value, "", 0)
}

// AddContext stages a value with a raw JSON context fragment.
func (c *Client) AddContext(label string, value float64, contextJSON string) {
	c.AddTimestamped(label, value, contextJSON, 0)
}

// AddTimestamped stages a value with context and a Unix timestamp in
// seconds. Empty context and zero timestamp are omitted from the
// payload. Once [MaxValues] records are pending, further adds overwrite
// the last one.
func (c *Client) AddTimestamped(label string, value float64, contextJSON string, timestamp uint32) {
	if !c.buf.Add(Record{Label: label, Value: value, Context: contextJSON, Timestamp: timestamp}) {
		c.logger.Warn("more variables than allowed in one publish, last value overwritten",
			"label", label, "max_values", MaxValues)
	}
}

// Pending returns the number of staged records.
func (c *Client) Pending() int { return c.buf.Len() }

// Publish sends every staged record to the device topic as one JSON
// document and clears the buffer, whether or not the send succeeds. An
// empty device selects [DefaultDeviceLabel].
func (c *Client) Publish(ctx context.Context, device string) error {
	if c.buf.Len() == 0 {
		return ErrEmptyBuffer
	}
	if device == "" {
		device = DefaultDeviceLabel
	}

	topic := PublishTopic(device)
	payload := FormatPayload(c.buf.Records())
	c.buf.Reset()

	c.diag("mqtt publishing", "topic", topic, "payload", payload)
	if err := c.transport.Publish(ctx, topic, []byte(payload)); err != nil {
		c.diag("mqtt publish failed", "topic", topic, "error", err)
		return err
	}
	return nil
}

// Subscribe follows the last value of one device variable. When the
// client is disconnected it first attempts a synchronous reconnect.
func (c *Client) Subscribe(ctx context.Context, device, variable string) error {
	if device == "" {
		device = DefaultDeviceLabel
	}
	topic := SubscribeTopic(device, variable)

	if !c.transport.Connected() {
		if err := c.Reconnect(ctx); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}

	c.diag("mqtt subscribing", "topic", topic)
	return c.transport.Subscribe(ctx, topic)
}

// Close ends the MQTT session.
func (c *Client) Close(ctx context.Context) error {
	return c.transport.Disconnect(ctx)
}
