// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/uplink/config"
	"github.com/absmach/uplink/delivery"
	"github.com/absmach/uplink/health"
	"github.com/absmach/uplink/otel"
	"github.com/absmach/uplink/storage"
	badgerstore "github.com/absmach/uplink/storage/badger"
	memorystore "github.com/absmach/uplink/storage/memory"
	"github.com/absmach/uplink/transport"
	"github.com/absmach/uplink/webhook"
)

const version = "0.1.0"

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("Starting uplink", "version", version)
	logger.Info("Configuration loaded",
		"broker_url", cfg.Transport.BrokerURL,
		"client_id", cfg.Transport.ClientID,
		"storage_backend", cfg.Storage.Backend,
		"polling_interval", cfg.Delivery.PollingInterval,
		"retry_interval", cfg.Delivery.RetryInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable store
	var store storage.Store
	switch cfg.Storage.Backend {
	case "badger":
		store, err = badgerstore.New(badgerstore.Config{
			Dir:       cfg.Storage.Dir,
			BatchSize: cfg.Storage.BatchSize,
		})
		if err != nil {
			logger.Error("Failed to open message store", "dir", cfg.Storage.Dir, "error", err)
			os.Exit(1)
		}
	default:
		store = memorystore.New(memorystore.Config{BatchSize: cfg.Storage.BatchSize})
	}
	defer store.Close()

	// Transport
	client, err := transport.NewMQTTClient(transport.Config{
		BrokerURL:          cfg.Transport.BrokerURL,
		ClientID:           cfg.Transport.ClientID,
		Username:           cfg.Transport.Username,
		Password:           cfg.Transport.Password,
		KeepAlive:          cfg.Transport.KeepAlive,
		ConnectTimeout:     cfg.Transport.ConnectTimeout,
		CACertFile:         cfg.Transport.CACertFile,
		ClientCertFile:     cfg.Transport.ClientCertFile,
		ClientKeyFile:      cfg.Transport.ClientKeyFile,
		InsecureSkipVerify: cfg.Transport.InsecureSkipVerify,
	}, logger)
	if err != nil {
		logger.Error("Failed to create MQTT client", "error", err)
		os.Exit(1)
	}

	// The gateway may start with no network; the delivery worker keeps
	// retrying, so an initial connect failure is not fatal.
	if err := client.Connect(ctx); err != nil {
		logger.Warn("Initial broker connection failed, delivery will retry", "error", err)
	}

	// Metrics
	var metrics *otel.Metrics
	if cfg.Otel.Enabled {
		shutdown, err := otel.InitProvider(otel.Config{
			Endpoint:       cfg.Otel.Endpoint,
			ServiceName:    cfg.Otel.ServiceName,
			ServiceVersion: cfg.Otel.ServiceVersion,
			ExportInterval: cfg.Otel.ExportInterval,
		}, cfg.Transport.ClientID)
		if err != nil {
			logger.Error("Failed to initialize OpenTelemetry", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("OpenTelemetry shutdown error", "error", err)
			}
		}()

		metrics, err = otel.NewMetrics()
		if err != nil {
			logger.Error("Failed to create metrics", "error", err)
			os.Exit(1)
		}
		if err := metrics.RegisterQueueDepth(store); err != nil {
			logger.Error("Failed to register queue depth gauges", "error", err)
			os.Exit(1)
		}
	}

	// Webhook notifications
	var events delivery.Events
	if cfg.Webhook.Enabled {
		notifier, err := webhook.NewNotifier(cfg.Webhook, cfg.Transport.ClientID, webhook.NewHTTPSender(), logger)
		if err != nil {
			logger.Error("Failed to create webhook notifier", "error", err)
			os.Exit(1)
		}
		defer notifier.Close()
		events = webhook.NewHook(notifier, cfg.Transport.BrokerURL, cfg.Webhook.IncludePayload)
	}

	// Delivery worker
	sender := delivery.NewSender(delivery.Config{
		PollingInterval: cfg.Delivery.PollingInterval,
		RetryInterval:   cfg.Delivery.RetryInterval,
		PublishRate:     cfg.Delivery.PublishRate,
		PublishBurst:    cfg.Delivery.PublishBurst,
	}, store, client, metrics, events, logger)
	sender.Start(ctx)

	// Health endpoints
	if cfg.Health.Enabled {
		healthSrv := health.New(health.Config{
			Address:         cfg.Health.Addr,
			ShutdownTimeout: cfg.Health.ShutdownTimeout,
		}, client, store, logger)
		go func() {
			if err := healthSrv.Listen(ctx); err != nil {
				logger.Error("Health server failed", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutdown signal received", "signal", sig.String())

	cancel()
	sender.Stop()
	client.Disconnect(250 * time.Millisecond)

	logger.Info("Uplink stopped")
}
