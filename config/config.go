// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates uplink configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the uplink.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Transport TransportConfig `yaml:"transport"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Storage   StorageConfig   `yaml:"storage"`
	Health    HealthConfig    `yaml:"health"`
	Otel      OtelConfig      `yaml:"otel"`
	Webhook   WebhookConfig   `yaml:"webhook"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text" or "json"
}

// TransportConfig holds MQTT connection configuration.
type TransportConfig struct {
	BrokerURL          string        `yaml:"broker_url"`
	ClientID           string        `yaml:"client_id"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	KeepAlive          time.Duration `yaml:"keep_alive"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	CACertFile         string        `yaml:"ca_cert_file"`
	ClientCertFile     string        `yaml:"client_cert_file"`
	ClientKeyFile      string        `yaml:"client_key_file"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// DeliveryConfig holds delivery engine configuration.
type DeliveryConfig struct {
	// PollingInterval is the sleep between idle or drain-wait cycles.
	PollingInterval time.Duration `yaml:"polling_interval"`

	// RetryInterval is the wait before each reconnect attempt.
	RetryInterval time.Duration `yaml:"retry_interval"`

	// PublishRate limits publishes per second; 0 disables the limit.
	PublishRate  float64 `yaml:"publish_rate"`
	PublishBurst int     `yaml:"publish_burst"`
}

// StorageConfig holds durable store configuration.
type StorageConfig struct {
	Backend   string `yaml:"backend"` // "badger" or "memory"
	Dir       string `yaml:"dir"`
	BatchSize int    `yaml:"batch_size"`
}

// HealthConfig holds health endpoint configuration.
type HealthConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// OtelConfig holds OpenTelemetry metrics configuration.
type OtelConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Endpoint       string        `yaml:"endpoint"` // OTLP/gRPC host:port
	ServiceName    string        `yaml:"service_name"`
	ServiceVersion string        `yaml:"service_version"`
	ExportInterval time.Duration `yaml:"export_interval"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled         bool              `yaml:"enabled"`
	QueueSize       int               `yaml:"queue_size"`
	DropPolicy      string            `yaml:"drop_policy"` // "oldest" or "newest"
	Workers         int               `yaml:"workers"`
	IncludePayload  bool              `yaml:"include_payload"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"`
	Defaults        WebhookDefaults   `yaml:"defaults"`
	Endpoints       []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookDefaults holds default settings for webhook endpoints.
type WebhookDefaults struct {
	Timeout        time.Duration        `yaml:"timeout"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig holds retry configuration for webhook delivery.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// WebhookEndpoint defines a single webhook endpoint configuration.
type WebhookEndpoint struct {
	Name         string            `yaml:"name"`
	URL          string            `yaml:"url"`
	Events       []string          `yaml:"events"`        // Event type filter (empty = all)
	TopicFilters []string          `yaml:"topic_filters"` // Topic pattern filter (empty = all)
	Headers      map[string]string `yaml:"headers"`
	Timeout      time.Duration     `yaml:"timeout,omitempty"` // Override default
	Retry        *RetryConfig      `yaml:"retry,omitempty"`   // Override default
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Transport: TransportConfig{
			BrokerURL:      "tcp://localhost:1883",
			ClientID:       "uplink-gateway",
			KeepAlive:      60 * time.Second,
			ConnectTimeout: 10 * time.Second,
		},
		Delivery: DeliveryConfig{
			PollingInterval: time.Second,
			RetryInterval:   5 * time.Second,
		},
		Storage: StorageConfig{
			Backend:   "badger",
			Dir:       "./data",
			BatchSize: 100,
		},
		Health: HealthConfig{
			Enabled:         false,
			Addr:            ":8081",
			ShutdownTimeout: 5 * time.Second,
		},
		Otel: OtelConfig{
			Enabled:        false,
			Endpoint:       "localhost:4317",
			ServiceName:    "uplink",
			ServiceVersion: "0.1.0",
			ExportInterval: 10 * time.Second,
		},
		Webhook: WebhookConfig{
			Enabled:         false,
			QueueSize:       10000,
			DropPolicy:      "oldest",
			Workers:         5,
			IncludePayload:  false,
			ShutdownTimeout: 30 * time.Second,
			Defaults: WebhookDefaults{
				Timeout: 5 * time.Second,
				Retry: RetryConfig{
					MaxAttempts:     3,
					InitialInterval: 1 * time.Second,
					MaxInterval:     30 * time.Second,
					Multiplier:      2.0,
				},
				CircuitBreaker: CircuitBreakerConfig{
					FailureThreshold: 5,
					ResetTimeout:     60 * time.Second,
				},
			},
			Endpoints: []WebhookEndpoint{},
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	if c.Transport.BrokerURL == "" {
		return fmt.Errorf("transport.broker_url cannot be empty")
	}
	if c.Transport.ClientID == "" {
		return fmt.Errorf("transport.client_id cannot be empty")
	}
	if c.Transport.ClientCertFile != "" && c.Transport.ClientKeyFile == "" {
		return fmt.Errorf("transport.client_key_file required when client_cert_file is set")
	}
	if c.Transport.ClientKeyFile != "" && c.Transport.ClientCertFile == "" {
		return fmt.Errorf("transport.client_cert_file required when client_key_file is set")
	}

	if c.Delivery.PollingInterval < 10*time.Millisecond {
		return fmt.Errorf("delivery.polling_interval must be at least 10ms")
	}
	if c.Delivery.RetryInterval < 100*time.Millisecond {
		return fmt.Errorf("delivery.retry_interval must be at least 100ms")
	}
	if c.Delivery.PublishRate < 0 {
		return fmt.Errorf("delivery.publish_rate cannot be negative")
	}

	validBackends := map[string]bool{"badger": true, "memory": true}
	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("storage.backend must be one of: badger, memory")
	}
	if c.Storage.Backend == "badger" && c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir required for the badger backend")
	}
	if c.Storage.BatchSize < 1 {
		return fmt.Errorf("storage.batch_size must be at least 1")
	}

	if c.Webhook.Enabled {
		if len(c.Webhook.Endpoints) == 0 {
			return fmt.Errorf("webhook.endpoints cannot be empty when webhooks are enabled")
		}
		validDropPolicies := map[string]bool{"oldest": true, "newest": true}
		if !validDropPolicies[c.Webhook.DropPolicy] {
			return fmt.Errorf("webhook.drop_policy must be one of: oldest, newest")
		}
		for _, ep := range c.Webhook.Endpoints {
			if ep.Name == "" {
				return fmt.Errorf("webhook endpoint name cannot be empty")
			}
			if ep.URL == "" {
				return fmt.Errorf("webhook endpoint %s: url cannot be empty", ep.Name)
			}
		}
	}

	if c.Otel.Enabled && c.Otel.Endpoint == "" {
		return fmt.Errorf("otel.endpoint cannot be empty when otel is enabled")
	}

	return nil
}
