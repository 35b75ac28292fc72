// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package transport abstracts the pub/sub connection to the remote
// broker. The delivery engine only ever observes a binary connection
// state and asynchronous publish completions; connection establishment,
// TLS and wire framing live behind the Client interface.
package transport

import "errors"

// ErrCancelled is reported by a handle whose publish was abandoned.
var ErrCancelled = errors.New("publish cancelled")

// Handle tracks one outstanding asynchronous publish.
type Handle interface {
	// Done is closed when the publish completes or is cancelled.
	Done() <-chan struct{}

	// Finished reports whether the operation has completed.
	Finished() bool

	// Err returns the completion error. It is nil on success, nil while
	// the operation is still outstanding, and ErrCancelled after Cancel.
	Err() error

	// Cancel abandons the operation. Best-effort: the bytes may already
	// be on the wire, so cancellation is not a guarantee against
	// duplicate delivery.
	Cancel()
}

// Client is the pub/sub transport contract.
type Client interface {
	// IsConnected reports whether the connection is currently usable.
	IsConnected() bool

	// Reconnect requests a reconnect. Fire-and-forget: a failed attempt
	// is observed as "still not connected" on the next IsConnected call.
	Reconnect()

	// Publish submits one message with an at-least-once delivery
	// guarantee and returns immediately. Completion is observed through
	// the returned handle.
	Publish(topic string, payload []byte) Handle
}
