// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package badger provides a BadgerDB-backed storage.Store.
//
// Key format:
//   - Pending queue: p/{seq}
//   - Resend queue:  r/{seq}
//   - ID index:      i/{messageID} -> queue entry key
//
// Sequence numbers are zero-padded so lexicographic key order matches
// enqueue order.
package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/absmach/uplink/storage"
	"github.com/dgraph-io/badger/v4"
)

var _ storage.Store = (*Store)(nil)

const (
	pendingPrefix = "p/"
	resendPrefix  = "r/"
	indexPrefix   = "i/"
)

// Store is a BadgerDB-backed durable message store.
type Store struct {
	db         *badger.DB
	pendingSeq *badger.Sequence
	resendSeq  *badger.Sequence
	batchSize  int

	gcStopCh chan struct{}
	gcDone   chan struct{}
	closed   bool
	mu       sync.Mutex
}

// Config holds BadgerDB configuration.
type Config struct {
	// Dir is the directory for BadgerDB data.
	Dir string

	// BatchSize is the maximum number of messages returned per read.
	BatchSize int
}

// New creates a new BadgerDB-backed store.
func New(cfg Config) (*Store, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = nil // Disable BadgerDB's internal logging
	// Undelivered messages must survive a crash between persist and
	// delivery, so every write is fsynced.
	opts.SyncWrites = true
	opts.NumVersionsToKeep = 1
	opts.NumCompactors = 2

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	pendingSeq, err := db.GetSequence([]byte("seq/pending"), 100)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open pending sequence: %w", err)
	}
	resendSeq, err := db.GetSequence([]byte("seq/resend"), 100)
	if err != nil {
		pendingSeq.Release()
		db.Close()
		return nil, fmt.Errorf("failed to open resend sequence: %w", err)
	}

	s := &Store{
		db:         db,
		pendingSeq: pendingSeq,
		resendSeq:  resendSeq,
		batchSize:  cfg.BatchSize,
		gcStopCh:   make(chan struct{}),
		gcDone:     make(chan struct{}),
	}

	// Start background value log GC
	go s.runGC()

	return s, nil
}

// Save persists a fresh message at the tail of the pending queue.
func (s *Store) Save(_ context.Context, msg *storage.Message) error {
	seq, err := s.pendingSeq.Next()
	if err != nil {
		return fmt.Errorf("failed to allocate sequence: %w", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := entryKey(pendingPrefix, seq)
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(indexKey(msg.ID), key)
	})
}

// GetPersistentMessages returns the next batch of pending messages.
func (s *Store) GetPersistentMessages(_ context.Context) ([]*storage.Message, error) {
	return s.list(pendingPrefix)
}

// GetResendMessages returns the next batch of resend messages.
func (s *Store) GetResendMessages(_ context.Context) ([]*storage.Message, error) {
	return s.list(resendPrefix)
}

// SaveForResend durably moves messages to the resend queue. A message
// already queued for resend is rewritten at its existing position; a
// message still in the pending queue is removed from it first.
func (s *Store) SaveForResend(_ context.Context, msgs ...*storage.Message) error {
	for _, msg := range msgs {
		cp := msg.Copy()
		cp.Attempts++

		data, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		err = s.db.Update(func(txn *badger.Txn) error {
			prev, err := lookupEntryKey(txn, cp.ID)
			if err != nil && err != badger.ErrKeyNotFound {
				return err
			}

			key := prev
			switch {
			case prev == nil:
				// Unknown ID: fresh resend entry.
			case bytes.HasPrefix(prev, []byte(resendPrefix)):
				// Already queued for resend, rewrite in place.
			default:
				// Still in the pending queue, move it.
				if err := txn.Delete(prev); err != nil {
					return err
				}
				key = nil
			}

			if key == nil {
				seq, err := s.resendSeq.Next()
				if err != nil {
					return fmt.Errorf("failed to allocate sequence: %w", err)
				}
				key = entryKey(resendPrefix, seq)
			}

			if err := txn.Set(key, data); err != nil {
				return err
			}
			return txn.Set(indexKey(cp.ID), key)
		})
		if err != nil {
			return fmt.Errorf("failed to save message %s for resend: %w", cp.ID, err)
		}
	}
	return nil
}

// Delete removes a message from whichever queue holds it.
func (s *Store) Delete(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key, err := lookupEntryKey(txn, id)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(indexKey(id))
	})
}

// Stats returns current queue depths.
func (s *Store) Stats(_ context.Context) (storage.Stats, error) {
	var stats storage.Stats

	err := s.db.View(func(txn *badger.Txn) error {
		stats.Pending = countPrefix(txn, pendingPrefix)
		stats.Resend = countPrefix(txn, resendPrefix)
		return nil
	})
	return stats, err
}

// Close gracefully closes the BadgerDB database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// Signal GC goroutine to stop and wait for it
	close(s.gcStopCh)
	<-s.gcDone

	// Release unused sequence numbers before closing
	_ = s.pendingSeq.Release()
	_ = s.resendSeq.Release()

	return s.db.Close()
}

func (s *Store) list(prefix string) ([]*storage.Message, error) {
	var messages []*storage.Message

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid() && len(messages) < s.batchSize; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				msg := &storage.Message{}
				if err := json.Unmarshal(val, msg); err != nil {
					return fmt.Errorf("failed to unmarshal message: %w", err)
				}
				messages = append(messages, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return messages, nil
}

// runGC runs BadgerDB's value log garbage collection periodically.
func (s *Store) runGC() {
	defer close(s.gcDone)

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Reclaim value log files that are at least half garbage.
			// Returns an error when no GC was needed, which is fine.
			_ = s.db.RunValueLogGC(0.5)
		case <-s.gcStopCh:
			return
		}
	}
}

func entryKey(prefix string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, seq))
}

func indexKey(id string) []byte {
	return []byte(indexPrefix + id)
}

func lookupEntryKey(txn *badger.Txn, id string) ([]byte, error) {
	item, err := txn.Get(indexKey(id))
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func countPrefix(txn *badger.Txn, prefix string) int {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n
}
