// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"fmt"

	"github.com/absmach/uplink/storage"
)

// Source decides which batch of messages to process next. Messages
// marked for resend represent work already attempted and drain before
// any fresh work is admitted; the pending queue is only consulted when
// the resend queue is empty.
type Source struct {
	store storage.Store
}

// NewSource creates a source reading from the given store.
func NewSource(store storage.Store) *Source {
	return &Source{store: store}
}

// NextBatch returns the next batch to deliver, which may be empty.
// A store read failure aborts the current cycle; it is not retried here.
func (s *Source) NextBatch(ctx context.Context) ([]*storage.Message, error) {
	resend, err := s.store.GetResendMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read resend queue: %w", err)
	}
	if len(resend) > 0 {
		return resend, nil
	}

	pending, err := s.store.GetPersistentMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending queue: %w", err)
	}
	return pending, nil
}
