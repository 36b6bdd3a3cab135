// Package mqtt implements the message channel on top of an MQTT broker.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/oshokin/door-alarm/internal/config"
	"github.com/oshokin/door-alarm/internal/logger"
	"github.com/oshokin/door-alarm/internal/transport"
)

const (
	clientIDPrefix       = "door-alarm-"
	disconnectQuiesce    = 250 // milliseconds
	connectRetryInterval = 5 * time.Second
	keepAlive            = 30 * time.Second
)

var errInvalidCA = errors.New("no certificates found in CA file")

// Client is an MQTT message channel scoped to one device prefix.
type Client struct {
	// cfg is the broker configuration.
	cfg config.MQTTConfig
	// prefix is prepended to every topic.
	prefix string
	// clientID identifies the session on the broker.
	clientID string
	// timeout bounds every acknowledgment wait.
	timeout time.Duration

	// mu protects client.
	mu sync.Mutex
	// client is nil until Connect is called.
	client paho.Client
}

// New creates an unconnected client.
func New(cfg config.MQTTConfig) *Client {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = clientIDPrefix + uuid.NewString()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultMQTTTimeout
	}

	return &Client{
		cfg:      cfg,
		prefix:   cfg.TopicPrefix(),
		clientID: clientID,
		timeout:  timeout,
	}
}

// ClientID returns the session identifier.
func (c *Client) ClientID() string {
	return c.clientID
}

// Connect opens the session and keeps reconnecting in the background.
// An error means the first attempt did not succeed in time; the client
// continues trying and reports success through h.OnConnect.
func (c *Client) Connect(ctx context.Context, h transport.Handlers) error {
	opts, err := c.options(ctx, h)
	if err != nil {
		return fmt.Errorf("%w: %w", transport.ErrMisconfigured, err)
	}

	client := paho.NewClient(opts)

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	return c.wait(ctx, client.Connect(), "connect")
}

// Publish sends payload to the topic relative to the device prefix and
// waits for the broker acknowledgment.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos transport.QoS, retain bool) error {
	client, err := c.current()
	if err != nil {
		return err
	}

	return c.wait(ctx, client.Publish(c.prefix+topic, byte(qos), retain, payload), "publish "+topic)
}

// Subscribe subscribes to the pattern relative to the device prefix.
func (c *Client) Subscribe(ctx context.Context, pattern string, qos transport.QoS) error {
	client, err := c.current()
	if err != nil {
		return err
	}

	return c.wait(ctx, client.Subscribe(c.prefix+pattern, byte(qos), nil), "subscribe "+pattern)
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.Disconnect(disconnectQuiesce)
		c.client = nil
	}
}

// Relative strips the device prefix from topic.
// It reports false for topics outside the prefix.
func (c *Client) Relative(topic string) (string, bool) {
	return strings.CutPrefix(topic, c.prefix)
}

func (c *Client) current() (paho.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, transport.ErrNotConnected
	}

	return c.client, nil
}

func (c *Client) options(ctx context.Context, h transport.Handlers) (*paho.ClientOptions, error) {
	broker, err := c.cfg.Broker()
	if err != nil {
		return nil, err
	}

	password, err := c.cfg.DecodedPassword()
	if err != nil {
		return nil, err
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(c.clientID).
		SetUsername(c.cfg.Username).
		SetPassword(password).
		SetKeepAlive(keepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(connectRetryInterval).
		SetOrderMatters(false).
		SetConnectTimeout(c.timeout)

	if c.cfg.Secure() {
		tlsConfig, tlsErr := c.tlsConfig()
		if tlsErr != nil {
			return nil, tlsErr
		}

		opts.SetTLSConfig(tlsConfig)
	}

	ctx = logger.WithKV(ctx, "client_id", c.clientID)

	opts.SetOnConnectHandler(func(paho.Client) {
		if h.OnConnect != nil {
			h.OnConnect()
		}
	})

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		if h.OnClose != nil {
			h.OnClose(err)
		}
	})

	opts.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		logger.DebugKV(ctx, "Reconnecting to MQTT broker", "broker", broker)
	})

	opts.SetDefaultPublishHandler(func(_ paho.Client, msg paho.Message) {
		topic, ok := c.Relative(msg.Topic())
		if !ok {
			logger.DebugKV(ctx, "Ignored message outside device prefix", "topic", msg.Topic())

			return
		}

		if h.OnMessage != nil {
			h.OnMessage(topic, msg.Payload())
		}
	})

	return opts, nil
}

func (c *Client) tlsConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if c.cfg.CAFile != "" {
		pem, err := os.ReadFile(c.cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%s: %w", c.cfg.CAFile, errInvalidCA)
		}

		tlsConfig.RootCAs = pool
	}

	if c.cfg.CertFile != "" || c.cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.cfg.CertFile, c.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}

		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func (c *Client) wait(ctx context.Context, token paho.Token, op string) error {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		return nil
	case <-timer.C:
		return fmt.Errorf("%s: %w", op, transport.ErrTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}
