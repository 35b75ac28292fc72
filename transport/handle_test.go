// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) complete(err error) {
	t.err = err
	close(t.done)
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

func awaitDone(t *testing.T, h Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("handle did not complete")
	}
}

func TestHandleSuccess(t *testing.T) {
	token := newFakeToken()
	h := newHandle(token)

	assert.False(t, h.Finished())
	assert.NoError(t, h.Err())

	token.complete(nil)
	awaitDone(t, h)

	assert.True(t, h.Finished())
	assert.NoError(t, h.Err())
}

func TestHandleFailure(t *testing.T) {
	token := newFakeToken()
	h := newHandle(token)

	tokenErr := errors.New("connection reset")
	token.complete(tokenErr)
	awaitDone(t, h)

	assert.True(t, h.Finished())
	assert.ErrorIs(t, h.Err(), tokenErr)
}

func TestHandleCancel(t *testing.T) {
	token := newFakeToken()
	h := newHandle(token)

	h.Cancel()
	awaitDone(t, h)

	assert.True(t, h.Finished())
	assert.ErrorIs(t, h.Err(), ErrCancelled)
}

func TestHandleCancelAfterCompletion(t *testing.T) {
	token := newFakeToken()
	h := newHandle(token)

	token.complete(nil)
	awaitDone(t, h)

	// Cancelling a settled handle must not change its outcome.
	h.Cancel()
	h.Cancel()
	assert.NoError(t, h.Err())
}

func TestHandleErrBeforeCompletion(t *testing.T) {
	token := newFakeToken()
	h := newHandle(token)

	tokenErr := errors.New("timeout")
	require.NoError(t, h.Err())
	token.complete(tokenErr)
	awaitDone(t, h)
	assert.ErrorIs(t, h.Err(), tokenErr)
}
