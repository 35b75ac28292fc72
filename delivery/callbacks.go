// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package delivery

import "sync"

// Callbacks tracks optional per-message completion callbacks, keyed by
// message ID. Callbacks are in-memory only: they do not survive a
// restart, and messages reconstructed from storage complete with the
// default log actions instead.
type Callbacks struct {
	mu      sync.Mutex
	entries map[string]callbackEntry
}

type callbackEntry struct {
	onSuccess func()
	onFailure func(error)
}

// NewCallbacks creates an empty callback registry.
func NewCallbacks() *Callbacks {
	return &Callbacks{entries: make(map[string]callbackEntry)}
}

// Register associates callbacks with a message ID. Either callback may
// be nil.
func (c *Callbacks) Register(id string, onSuccess func(), onFailure func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = callbackEntry{onSuccess: onSuccess, onFailure: onFailure}
}

// Success returns the success callback for a message, if one was registered.
func (c *Callbacks) Success(id string) (func(), bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok || e.onSuccess == nil {
		return nil, false
	}
	return e.onSuccess, true
}

// Failure returns the failure callback for a message, if one was registered.
func (c *Callbacks) Failure(id string) (func(error), bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok || e.onFailure == nil {
		return nil, false
	}
	return e.onFailure, true
}

// Resolve releases the callback association for a message after its
// completion has been handled, whichever way it went.
func (c *Callbacks) Resolve(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Len returns the number of tracked associations.
func (c *Callbacks) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
