// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the durable message store used by the uplink
// delivery engine. The store is the single source of truth for messages
// that still need to reach the broker: a message is removed only after a
// confirmed publish, and moved to the resend partition when a publish
// fails or the connection drops mid-batch.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors.
var (
	ErrNotFound = errors.New("message not found")
	ErrClosed   = errors.New("store is closed")
)

// Message is a persistent uplink message. It survives process restarts
// between any two store operations.
type Message struct {
	// ID is the opaque unique identifier used to correlate completion
	// callbacks and store operations.
	ID string `json:"id"`

	// Topic is the destination topic on the remote broker.
	Topic string `json:"topic"`

	// Payload is the opaque message body.
	Payload []byte `json:"payload"`

	// EnqueuedAt is the time the message was first persisted.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Attempts counts how many times delivery has been attempted.
	// Incremented each time the message is persisted for resend.
	Attempts int `json:"attempts"`
}

// NewMessage creates a message with a fresh unique ID.
func NewMessage(topic string, payload []byte) *Message {
	return &Message{
		ID:         uuid.NewString(),
		Topic:      topic,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}
}

// Copy creates a deep copy of the message.
func (m *Message) Copy() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Payload != nil {
		cp.Payload = make([]byte, len(m.Payload))
		copy(cp.Payload, m.Payload)
	}
	return &cp
}

// Stats reports queue depths for monitoring.
type Stats struct {
	Pending int `json:"pending"`
	Resend  int `json:"resend"`
}

// Store is the durable message store contract.
//
// Reads do not dequeue: a fetched message stays persisted until Delete
// confirms delivery or SaveForResend moves it to the resend partition.
// SaveForResend must be safe to call concurrently with reads and with
// other SaveForResend calls (it is invoked both from the delivery worker
// on disconnect and from asynchronous publish-failure completions).
type Store interface {
	// Save persists a fresh message at the tail of the pending queue.
	Save(ctx context.Context, msg *Message) error

	// GetPersistentMessages returns the next batch of pending messages
	// in enqueue order.
	GetPersistentMessages(ctx context.Context) ([]*Message, error)

	// GetResendMessages returns the next batch of messages previously
	// marked for resend, in the order they were marked.
	GetResendMessages(ctx context.Context) ([]*Message, error)

	// SaveForResend durably moves the given messages to the resend
	// partition. A message already in the resend partition is rewritten
	// in place, keeping its position.
	SaveForResend(ctx context.Context, msgs ...*Message) error

	// Delete removes a delivered message from whichever partition
	// holds it. Returns ErrNotFound if the ID is unknown.
	Delete(ctx context.Context, id string) error

	// Stats returns current queue depths.
	Stats(ctx context.Context) (Stats, error)

	// Close releases the underlying storage.
	Close() error
}
