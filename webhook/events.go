// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"time"

	"github.com/google/uuid"
)

// Event type constants.
const (
	TypeConnectionLost     = "connection.lost"
	TypeConnectionRestored = "connection.restored"
	TypeDeliveryFailed     = "delivery.failed"
)

// Event is the common interface for all webhook events.
type Event interface {
	// Type returns the event type identifier (e.g. "delivery.failed").
	Type() string

	// Topic returns the destination topic for message events, empty for others.
	Topic() string

	// Wrap wraps the event in a common envelope with metadata.
	Wrap(gatewayID string) *Envelope
}

// Envelope is the common wrapper for all webhook events.
type Envelope struct {
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
	GatewayID string `json:"gateway_id"`
	Data      any    `json:"data"`
}

func wrap(eventType, gatewayID string, data any) *Envelope {
	return &Envelope{
		EventType: eventType,
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		GatewayID: gatewayID,
		Data:      data,
	}
}

// ConnectionLost is emitted when the broker connection is first
// observed down.
type ConnectionLost struct {
	BrokerURL string `json:"broker_url,omitempty"`
}

func (e ConnectionLost) Type() string  { return TypeConnectionLost }
func (e ConnectionLost) Topic() string { return "" }
func (e ConnectionLost) Wrap(gatewayID string) *Envelope {
	return wrap(TypeConnectionLost, gatewayID, e)
}

// ConnectionRestored is emitted when the broker connection comes back.
type ConnectionRestored struct {
	BrokerURL string `json:"broker_url,omitempty"`
}

func (e ConnectionRestored) Type() string  { return TypeConnectionRestored }
func (e ConnectionRestored) Topic() string { return "" }
func (e ConnectionRestored) Wrap(gatewayID string) *Envelope {
	return wrap(TypeConnectionRestored, gatewayID, e)
}

// DeliveryFailed is emitted after a publish failure once the message
// has been queued for resend.
type DeliveryFailed struct {
	MessageID    string `json:"message_id"`
	MessageTopic string `json:"topic"`
	Attempts     int    `json:"attempts"`
	Cause        string `json:"cause"`
	Payload      []byte `json:"payload,omitempty"`
}

func (e DeliveryFailed) Type() string  { return TypeDeliveryFailed }
func (e DeliveryFailed) Topic() string { return e.MessageTopic }
func (e DeliveryFailed) Wrap(gatewayID string) *Envelope {
	return wrap(TypeDeliveryFailed, gatewayID, e)
}
