// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbacksRegisterAndResolve(t *testing.T) {
	cbs := NewCallbacks()

	fired := false
	cbs.Register("m1", func() { fired = true }, nil)
	assert.Equal(t, 1, cbs.Len())

	cb, ok := cbs.Success("m1")
	require.True(t, ok)
	cb()
	assert.True(t, fired)

	cbs.Resolve("m1")
	assert.Equal(t, 0, cbs.Len())

	_, ok = cbs.Success("m1")
	assert.False(t, ok)
}

func TestCallbacksFailure(t *testing.T) {
	cbs := NewCallbacks()

	var got error
	cbs.Register("m1", nil, func(err error) { got = err })

	_, ok := cbs.Success("m1")
	assert.False(t, ok)

	cb, ok := cbs.Failure("m1")
	require.True(t, ok)
	cb(errors.New("broker refused"))
	assert.EqualError(t, got, "broker refused")
}

func TestCallbacksUnknownID(t *testing.T) {
	cbs := NewCallbacks()

	_, ok := cbs.Success("missing")
	assert.False(t, ok)
	_, ok = cbs.Failure("missing")
	assert.False(t, ok)

	cbs.Resolve("missing")
	assert.Equal(t, 0, cbs.Len())
}
