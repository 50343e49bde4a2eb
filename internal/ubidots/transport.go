package ubidots

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/paho"
)

// ErrNotConnected is returned when an operation needs a broker
// connection and there is none.
var ErrNotConnected = errors.New("mqtt not connected")

// Transport is the MQTT session the client drives. The production
// implementation wraps a [paho.Client]; tests substitute a fake.
type Transport interface {
	// Connect performs one synchronous connection attempt.
	Connect(ctx context.Context) error
	// Connected reports whether the session is currently up.
	Connected() bool
	// Publish sends payload to topic at QoS 0.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe requests topic at QoS 0.
	Subscribe(ctx context.Context, topic string) error
	// Disconnect closes the session. It is a no-op when not connected.
	Disconnect(ctx context.Context) error
}

// pahoTransport is a [Transport] over a single paho.golang client. A new
// paho client is built for every connection attempt; reconnection is
// left entirely to the caller.
type pahoTransport struct {
	broker    *url.URL
	clientID  string
	token     string
	keepAlive uint16
	deliver   MessageHandler
	logger    *slog.Logger

	mu        sync.Mutex
	client    *paho.Client
	connected atomic.Bool
}

func newPahoTransport(broker *url.URL, clientID, token string, deliver MessageHandler, logger *slog.Logger) *pahoTransport {
	return &pahoTransport{
		broker:    broker,
		clientID:  clientID,
		token:     token,
		keepAlive: 30,
		deliver:   deliver,
		logger:    logger,
	}
}

// dial opens the network connection, with TLS for mqtts://, ssl:// and
// tls:// broker URLs and a WebSocket for ws:// and wss://.
func (t *pahoTransport) dial(ctx context.Context) (net.Conn, error) {
	host := t.broker.Host
	switch t.broker.Scheme {
	case "ws", "wss":
		return dialWebSocket(ctx, t.broker)
	case "mqtts", "ssl", "tls":
		d := &tls.Dialer{Config: &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: t.broker.Hostname(),
		}}
		return d.DialContext(ctx, "tcp", host)
	default:
		var d net.Dialer
		return d.DialContext(ctx, "tcp", host)
	}
}

func (t *pahoTransport) Connect(ctx context.Context) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial mqtt broker %s: %w", t.broker.Host, err)
	}

	c := paho.NewClient(paho.ClientConfig{
		ClientID: t.clientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				t.deliver(pr.Packet.Topic, pr.Packet.Payload)
				return true, nil
			},
		},
		OnClientError: func(err error) {
			t.connected.Store(false)
			t.logger.Warn("mqtt connection lost", "error", err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			t.connected.Store(false)
			t.logger.Warn("mqtt broker disconnected", "reason_code", d.ReasonCode)
		},
	})

	cp := &paho.Connect{
		ClientID:     t.clientID,
		KeepAlive:    t.keepAlive,
		CleanStart:   true,
		Username:     t.token,
		UsernameFlag: t.token != "",
	}
	ca, err := c.Connect(ctx, cp)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("mqtt connect: %w", err)
	}
	if ca != nil && ca.ReasonCode >= 0x80 {
		_ = conn.Close()
		return fmt.Errorf("mqtt connect refused: reason code %d", ca.ReasonCode)
	}

	t.mu.Lock()
	t.client = c
	t.mu.Unlock()
	t.connected.Store(true)
	return nil
}

func (t *pahoTransport) Connected() bool {
	return t.connected.Load()
}

func (t *pahoTransport) current() *paho.Client {
	if !t.connected.Load() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client
}

func (t *pahoTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	c := t.current()
	if c == nil {
		return ErrNotConnected
	}
	if _, err := c.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     0,
	}); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (t *pahoTransport) Subscribe(ctx context.Context, topic string) error {
	c := t.current()
	if c == nil {
		return ErrNotConnected
	}
	sa, err := c.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 0}},
	})
	if err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	if sa != nil && len(sa.Reasons) > 0 && sa.Reasons[0] >= 0x80 {
		return fmt.Errorf("mqtt subscribe %s refused: reason code %d", topic, sa.Reasons[0])
	}
	return nil
}

func (t *pahoTransport) Disconnect(_ context.Context) error {
	c := t.current()
	if c == nil {
		return nil
	}
	t.connected.Store(false)
	if err := c.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
		return fmt.Errorf("mqtt disconnect: %w", err)
	}
	return nil
}
