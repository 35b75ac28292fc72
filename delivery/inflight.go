// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"log/slog"
	"sync"

	"github.com/absmach/uplink/transport"
)

// Tracker bookkeeps the in-flight handles of the current batch. The
// drain barrier between batches is built on it: no new batch is fetched
// while any registered handle is still outstanding, so the set never
// mixes handles from different batches.
//
// Safe for concurrent use; handles are registered by the delivery worker
// while completions arrive on the transport's goroutines.
type Tracker struct {
	mu      sync.Mutex
	handles []transport.Handle
	logger  *slog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{logger: logger}
}

// Register adds a handle for a publish that was just submitted.
func (t *Tracker) Register(h transport.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handles = append(t.handles, h)
}

// Drained reports whether the current batch has fully completed. An
// empty set is drained. When every handle is finished the set is
// consumed: the tracker resets and subsequent calls start from empty.
// Otherwise the set is left untouched.
func (t *Tracker) Drained() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.handles) == 0 {
		return true
	}

	pending := 0
	for _, h := range t.handles {
		if !h.Finished() {
			pending++
		}
	}
	if pending == 0 {
		t.handles = nil
		return true
	}

	t.logger.Info("waiting for in-flight publishes to finish", "pending", pending)
	return false
}

// Clear cancels every tracked handle and discards the set without
// waiting. Used when the connection is found dead: those publishes
// cannot complete meaningfully against a broken link.
func (t *Tracker) Clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, h := range t.handles {
		h.Cancel()
	}
	n := len(t.handles)
	t.handles = nil
	return n
}

// Count returns the number of tracked handles.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}
