// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"

	"github.com/absmach/uplink/storage"
)

// Hook adapts a Notifier to the delivery engine's event seam. It only
// builds event payloads and queues them; the notifier's workers do the
// actual sending, so the delivery worker is never blocked.
type Hook struct {
	notifier       Notifier
	brokerURL      string
	includePayload bool
}

// NewHook creates a delivery event hook feeding the given notifier.
func NewHook(notifier Notifier, brokerURL string, includePayload bool) *Hook {
	return &Hook{
		notifier:       notifier,
		brokerURL:      brokerURL,
		includePayload: includePayload,
	}
}

// ConnectionLost queues a connection.lost event.
func (h *Hook) ConnectionLost() {
	_ = h.notifier.Notify(context.Background(), ConnectionLost{BrokerURL: h.brokerURL})
}

// ConnectionRestored queues a connection.restored event.
func (h *Hook) ConnectionRestored() {
	_ = h.notifier.Notify(context.Background(), ConnectionRestored{BrokerURL: h.brokerURL})
}

// DeliveryFailed queues a delivery.failed event.
func (h *Hook) DeliveryFailed(msg *storage.Message, cause error) {
	ev := DeliveryFailed{
		MessageID:    msg.ID,
		MessageTopic: msg.Topic,
		Attempts:     msg.Attempts,
		Cause:        cause.Error(),
	}
	if h.includePayload {
		ev.Payload = msg.Payload
	}
	_ = h.notifier.Notify(context.Background(), ev)
}
