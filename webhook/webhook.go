// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package webhook notifies operator-configured HTTP endpoints about
// uplink events: lost and restored broker connections and messages
// that failed delivery and were queued for resend. Notification is
// asynchronous with a worker pool, per-endpoint circuit breakers and
// exponential-backoff retry; it never blocks the delivery engine.
package webhook

import (
	"context"
	"time"
)

// Notifier sends webhook notifications asynchronously.
type Notifier interface {
	// Notify queues an event for delivery (non-blocking).
	Notify(ctx context.Context, event Event) error

	// Close gracefully shuts down, flushing pending events.
	Close() error
}

// Sender is the protocol-specific sender interface.
type Sender interface {
	// Send sends a webhook payload to the specified URL.
	Send(ctx context.Context, url string, headers map[string]string, payload []byte, timeout time.Duration) error
}
