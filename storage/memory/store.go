// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-memory storage.Store. Messages do not
// survive a restart; it is intended for tests and for gateways that can
// tolerate loss on crash.
package memory

import (
	"context"
	"sync"

	"github.com/absmach/uplink/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu        sync.Mutex
	pending   []*storage.Message
	resend    []*storage.Message
	batchSize int
	closed    bool
}

// Config holds in-memory store configuration.
type Config struct {
	// BatchSize is the maximum number of messages returned per read.
	BatchSize int
}

// New creates a new in-memory store.
func New(cfg Config) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Store{batchSize: cfg.BatchSize}
}

// Save appends a fresh message to the pending queue.
func (s *Store) Save(_ context.Context, msg *storage.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	s.pending = append(s.pending, msg.Copy())
	return nil
}

// GetPersistentMessages returns the next batch of pending messages.
func (s *Store) GetPersistentMessages(_ context.Context) ([]*storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, storage.ErrClosed
	}
	return copyBatch(s.pending, s.batchSize), nil
}

// GetResendMessages returns the next batch of resend messages.
func (s *Store) GetResendMessages(_ context.Context) ([]*storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, storage.ErrClosed
	}
	return copyBatch(s.resend, s.batchSize), nil
}

// SaveForResend moves messages to the resend queue. A message already
// queued for resend is rewritten in place.
func (s *Store) SaveForResend(_ context.Context, msgs ...*storage.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	for _, msg := range msgs {
		cp := msg.Copy()
		cp.Attempts++

		s.pending = remove(s.pending, cp.ID)
		if i := index(s.resend, cp.ID); i >= 0 {
			s.resend[i] = cp
			continue
		}
		s.resend = append(s.resend, cp)
	}
	return nil
}

// Delete removes a message from whichever queue holds it.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	if index(s.pending, id) >= 0 {
		s.pending = remove(s.pending, id)
		return nil
	}
	if index(s.resend, id) >= 0 {
		s.resend = remove(s.resend, id)
		return nil
	}
	return storage.ErrNotFound
}

// Stats returns current queue depths.
func (s *Store) Stats(_ context.Context) (storage.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.Stats{}, storage.ErrClosed
	}
	return storage.Stats{Pending: len(s.pending), Resend: len(s.resend)}, nil
}

// Close discards all messages.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.pending = nil
	s.resend = nil
	return nil
}

func copyBatch(msgs []*storage.Message, limit int) []*storage.Message {
	if len(msgs) < limit {
		limit = len(msgs)
	}
	batch := make([]*storage.Message, 0, limit)
	for _, msg := range msgs[:limit] {
		batch = append(batch, msg.Copy())
	}
	return batch
}

func index(msgs []*storage.Message, id string) int {
	for i, msg := range msgs {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

func remove(msgs []*storage.Message, id string) []*storage.Message {
	i := index(msgs, id)
	if i < 0 {
		return msgs
	}
	return append(msgs[:i], msgs[i+1:]...)
}
