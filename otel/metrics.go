// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/absmach/uplink/storage"
)

// Metrics holds OpenTelemetry metric instruments for the uplink.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	meter metric.Meter

	// Counters
	messagesPublished metric.Int64Counter
	publishFailures   metric.Int64Counter
	messagesResent    metric.Int64Counter
	cycleFaults       metric.Int64Counter

	// UpDownCounters (Gauges)
	inflight metric.Int64UpDownCounter

	// Histograms
	publishDuration metric.Float64Histogram
}

// NewMetrics creates a Metrics instance with all instruments initialized.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		meter: otel.Meter("uplink"),
	}

	var err error

	m.messagesPublished, err = m.meter.Int64Counter(
		"uplink.messages.published",
		metric.WithDescription("Messages confirmed delivered to the broker"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create published counter: %w", err)
	}

	m.publishFailures, err = m.meter.Int64Counter(
		"uplink.publish.failures",
		metric.WithDescription("Publishes reported failed by the transport"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create failure counter: %w", err)
	}

	m.messagesResent, err = m.meter.Int64Counter(
		"uplink.messages.resent",
		metric.WithDescription("Messages persisted to the resend queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resent counter: %w", err)
	}

	m.cycleFaults, err = m.meter.Int64Counter(
		"uplink.cycle.faults",
		metric.WithDescription("Delivery cycles aborted by an error or panic"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fault counter: %w", err)
	}

	m.inflight, err = m.meter.Int64UpDownCounter(
		"uplink.publish.inflight",
		metric.WithDescription("Publishes submitted but not yet acknowledged"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create inflight gauge: %w", err)
	}

	m.publishDuration, err = m.meter.Float64Histogram(
		"uplink.publish.duration",
		metric.WithDescription("Time from submission to acknowledgment"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return m, nil
}

// Published records a confirmed delivery.
func (m *Metrics) Published(ctx context.Context, took time.Duration) {
	if m == nil {
		return
	}
	m.messagesPublished.Add(ctx, 1)
	m.publishDuration.Record(ctx, took.Seconds())
}

// PublishFailed records a failed publish.
func (m *Metrics) PublishFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.publishFailures.Add(ctx, 1)
}

// Resent records messages persisted for resend.
func (m *Metrics) Resent(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.messagesResent.Add(ctx, int64(n))
}

// CycleFault records a delivery cycle aborted by an error or panic.
func (m *Metrics) CycleFault(ctx context.Context) {
	if m == nil {
		return
	}
	m.cycleFaults.Add(ctx, 1)
}

// InflightAdd adjusts the in-flight gauge.
func (m *Metrics) InflightAdd(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.inflight.Add(ctx, int64(n))
}

// RegisterQueueDepth registers observable gauges reporting the durable
// queue depths, read from the store on each collection.
func (m *Metrics) RegisterQueueDepth(store storage.Store) error {
	if m == nil {
		return nil
	}

	pending, err := m.meter.Int64ObservableGauge(
		"uplink.queue.pending",
		metric.WithDescription("Messages waiting for first delivery"),
	)
	if err != nil {
		return fmt.Errorf("failed to create pending gauge: %w", err)
	}

	resend, err := m.meter.Int64ObservableGauge(
		"uplink.queue.resend",
		metric.WithDescription("Messages waiting for redelivery"),
	)
	if err != nil {
		return fmt.Errorf("failed to create resend gauge: %w", err)
	}

	_, err = m.meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		stats, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		o.ObserveInt64(pending, int64(stats.Pending))
		o.ObserveInt64(resend, int64(stats.Resend))
		return nil
	}, pending, resend)
	if err != nil {
		return fmt.Errorf("failed to register queue depth callback: %w", err)
	}
	return nil
}
