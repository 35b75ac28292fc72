// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// QoS 1: at least one acknowledgment required. Fire-and-forget and
// exactly-once levels are deliberately not offered.
const atLeastOnce byte = 1

// Config holds MQTT client configuration.
type Config struct {
	// BrokerURL is the full URL of the broker, e.g. "tls://broker.example.com:8883".
	BrokerURL string

	// ClientID identifies this gateway to the broker.
	ClientID string

	// Username and Password authenticate with the broker.
	Username string
	Password string

	// KeepAlive is the interval between keep-alive pings.
	KeepAlive time.Duration

	// ConnectTimeout bounds each connection attempt.
	ConnectTimeout time.Duration

	// CACertFile is an optional CA certificate for verifying the broker.
	CACertFile string

	// ClientCertFile and ClientKeyFile enable mTLS authentication.
	ClientCertFile string
	ClientKeyFile  string

	// InsecureSkipVerify skips TLS certificate verification.
	// Not recommended for production.
	InsecureSkipVerify bool
}

var _ Client = (*MQTTClient)(nil)

// MQTTClient is a paho-backed transport client.
//
// Automatic reconnection is disabled on the underlying client: the
// delivery engine owns the reconnect policy and drives it through
// Reconnect.
type MQTTClient struct {
	client         mqtt.Client
	logger         *slog.Logger
	connectTimeout time.Duration
	reconnecting   atomic.Bool
}

// NewMQTTClient creates a transport client from config. It does not connect.
func NewMQTTClient(cfg Config, logger *slog.Logger) (*MQTTClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("broker URL cannot be empty")
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetCleanSession(false).
		SetAutoReconnect(false).
		SetConnectRetry(false)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	tlsCfg, err := newTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Info("broker connection lost", "error", err)
	})

	return &MQTTClient{
		client:         mqtt.NewClient(opts),
		logger:         logger,
		connectTimeout: cfg.ConnectTimeout,
	}, nil
}

// Connect performs the initial blocking connection attempt.
func (c *MQTTClient) Connect(ctx context.Context) error {
	token := c.client.Connect()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsConnected reports whether the connection is currently usable.
func (c *MQTTClient) IsConnected() bool {
	return c.client.IsConnected()
}

// Reconnect starts a single reconnect attempt in the background.
// A failed attempt is observed as "still not connected" later;
// concurrent calls while an attempt is running are ignored.
func (c *MQTTClient) Reconnect() {
	if c.client.IsConnected() {
		return
	}
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer c.reconnecting.Store(false)

		token := c.client.Connect()
		if !token.WaitTimeout(c.connectTimeout) {
			c.logger.Warn("reconnect attempt timed out")
			return
		}
		if err := token.Error(); err != nil {
			c.logger.Warn("reconnect attempt failed", "error", err)
			return
		}
		c.logger.Info("broker connection restored")
	}()
}

// Publish submits one message at QoS 1 and returns its handle.
func (c *MQTTClient) Publish(topic string, payload []byte) Handle {
	return newHandle(c.client.Publish(topic, atLeastOnce, false, payload))
}

// Disconnect closes the connection, waiting up to quiesce for work to finish.
func (c *MQTTClient) Disconnect(quiesce time.Duration) {
	c.client.Disconnect(uint(quiesce.Milliseconds()))
}

// newTLSConfig builds a TLS config from certificate files.
// Returns nil when no TLS settings are configured.
func newTLSConfig(cfg Config) (*tls.Config, error) {
	if cfg.CACertFile == "" && cfg.ClientCertFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}

	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CACertFile != "" {
		ca, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(ca) {
			return nil, fmt.Errorf("failed to parse CA certificate %s", cfg.CACertFile)
		}
		tlsCfg.RootCAs = pool
	}

	if cfg.ClientCertFile != "" || cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}
