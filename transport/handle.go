// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import "sync"

// completion is the token interface a handle watches. It matches the
// paho token surface so handles can be built on any token-like value.
type completion interface {
	Done() <-chan struct{}
	Error() error
}

// handle adapts an asynchronous token into a cancellable Handle.
type handle struct {
	done     chan struct{}
	cancelCh chan struct{}
	cancel   sync.Once
	err      error
}

var _ Handle = (*handle)(nil)

// newHandle starts watching the token and returns its handle.
func newHandle(token completion) *handle {
	h := &handle{
		done:     make(chan struct{}),
		cancelCh: make(chan struct{}),
	}
	go h.watch(token)
	return h
}

// watch waits for the token to complete or the handle to be cancelled,
// whichever happens first. The error is written before done is closed,
// so readers that observe done see a consistent error.
func (h *handle) watch(token completion) {
	select {
	case <-token.Done():
		h.err = token.Error()
	case <-h.cancelCh:
		h.err = ErrCancelled
	}
	close(h.done)
}

func (h *handle) Done() <-chan struct{} {
	return h.done
}

func (h *handle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func (h *handle) Cancel() {
	h.cancel.Do(func() {
		close(h.cancelCh)
	})
}
