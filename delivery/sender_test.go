// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/uplink/storage"
	"github.com/absmach/uplink/storage/memory"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

var errPublish = errors.New("publish rejected")

type recordingEvents struct {
	mu       sync.Mutex
	lost     int
	restored int
	failed   []string
}

func (e *recordingEvents) ConnectionLost() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lost++
}

func (e *recordingEvents) ConnectionRestored() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.restored++
}

func (e *recordingEvents) DeliveryFailed(msg *storage.Message, _ error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed = append(e.failed, msg.ID)
}

func (e *recordingEvents) counts() (int, int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lost, e.restored, len(e.failed)
}

func newTestSender(store storage.Store, client *fakeClient, events Events) *Sender {
	cfg := Config{
		PollingInterval: 5 * time.Millisecond,
		RetryInterval:   5 * time.Millisecond,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSender(cfg, store, client, nil, events, logger)
}

func stats(t *testing.T, store storage.Store) storage.Stats {
	t.Helper()
	st, err := store.Stats(context.Background())
	require.NoError(t, err)
	return st
}

func TestSenderSendPersists(t *testing.T) {
	store := memory.New(memory.Config{})
	s := newTestSender(store, newFakeClient(true), nil)

	id, err := s.Send(context.Background(), "v1/devices/me/telemetry", []byte(`{"temp":21}`), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	st := stats(t, store)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 0, st.Resend)
}

func TestSenderDeliversFreshBatch(t *testing.T) {
	store := memory.New(memory.Config{})
	client := newFakeClient(true)
	s := newTestSender(store, client, nil)

	ctx := context.Background()
	for range 3 {
		_, err := s.Send(ctx, "v1/devices/me/telemetry", []byte("reading"), nil)
		require.NoError(t, err)
	}

	s.Start(ctx)
	defer s.Stop()

	assert.Eventually(t, func() bool {
		st := stats(t, store)
		return st.Pending == 0 && st.Resend == 0
	}, waitFor, tick)
	assert.GreaterOrEqual(t, client.publishCount(), 3)
}

func TestSenderSuccessCallbacks(t *testing.T) {
	store := memory.New(memory.Config{})
	client := newFakeClient(true)
	client.manual = true
	s := newTestSender(store, client, nil)

	ctx := context.Background()
	var delivered atomic.Int32
	for range 3 {
		_, err := s.Send(ctx, "v1/devices/me/telemetry", []byte("reading"), &SendOptions{
			OnSuccess: func() { delivered.Add(1) },
			OnFailure: func(error) { t.Error("unexpected failure callback") },
		})
		require.NoError(t, err)
	}

	s.Start(ctx)
	defer s.Stop()

	require.Eventually(t, func() bool {
		return client.publishCount() == 3
	}, waitFor, tick)

	for i := range 3 {
		client.handleAt(i).complete(nil)
	}

	assert.Eventually(t, func() bool {
		st := stats(t, store)
		return delivered.Load() == 3 && st.Pending == 0 && st.Resend == 0
	}, waitFor, tick)
	assert.Equal(t, 0, s.callbacks.Len())
}

func TestSenderFailureMovesToResend(t *testing.T) {
	store := memory.New(memory.Config{})
	client := newFakeClient(true)
	client.manual = true
	events := &recordingEvents{}
	s := newTestSender(store, client, events)

	ctx := context.Background()
	var failures atomic.Int32
	for range 2 {
		_, err := s.Send(ctx, "v1/devices/me/telemetry", []byte("reading"), &SendOptions{
			OnFailure: func(cause error) {
				assert.ErrorIs(t, cause, errPublish)
				failures.Add(1)
			},
		})
		require.NoError(t, err)
	}

	s.Start(ctx)
	defer s.Stop()

	require.Eventually(t, func() bool {
		return client.publishCount() == 2
	}, waitFor, tick)

	client.handleAt(0).complete(errPublish)
	client.handleAt(1).complete(errPublish)

	assert.Eventually(t, func() bool {
		st := stats(t, store)
		return failures.Load() == 2 && st.Pending == 0 && st.Resend == 2
	}, waitFor, tick)

	assert.Eventually(t, func() bool {
		_, _, failed := events.counts()
		return failed == 2
	}, waitFor, tick)
}

func TestSenderDisconnectMidBatch(t *testing.T) {
	store := memory.New(memory.Config{})
	client := newFakeClient(true)
	client.manual = true
	client.dropAfter = 2
	events := &recordingEvents{}
	s := newTestSender(store, client, events)

	ctx := context.Background()
	for range 5 {
		_, err := s.Send(ctx, "v1/devices/me/telemetry", []byte("reading"), nil)
		require.NoError(t, err)
	}

	s.Start(ctx)
	defer s.Stop()

	// The connection drops after the second publish: the two submitted
	// handles are abandoned and the unsent tail goes to the resend queue
	// in one write.
	require.Eventually(t, func() bool {
		st := stats(t, store)
		return st.Resend == 3 && st.Pending == 2
	}, waitFor, tick)

	assert.Equal(t, 2, client.publishCount())
	assert.True(t, client.handleAt(0).wasCancelled())
	assert.True(t, client.handleAt(1).wasCancelled())

	assert.Eventually(t, func() bool {
		lost, _, _ := events.counts()
		return lost == 1 && client.reconnectCount() >= 1
	}, waitFor, tick)

	// Nothing is submitted while the broker stays unreachable.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, client.publishCount())

	client.setConnected(true)

	assert.Eventually(t, func() bool {
		_, restored, _ := events.counts()
		return restored == 1 && client.publishCount() == 5
	}, waitFor, tick)
}

func TestSenderResendPriority(t *testing.T) {
	store := memory.New(memory.Config{})
	client := newFakeClient(true)
	client.manual = true
	s := newTestSender(store, client, nil)

	ctx := context.Background()
	fresh := storage.NewMessage("v1/devices/me/telemetry", []byte("fresh"))
	require.NoError(t, store.Save(ctx, fresh))
	retry := storage.NewMessage("v1/devices/me/attributes", []byte("retry"))
	require.NoError(t, store.SaveForResend(ctx, retry))

	s.Start(ctx)
	defer s.Stop()

	require.Eventually(t, func() bool {
		return client.publishCount() >= 1
	}, waitFor, tick)
	assert.Equal(t, "v1/devices/me/attributes", client.publishedTopics()[0])
}

func TestSenderDrainBarrier(t *testing.T) {
	store := memory.New(memory.Config{})
	client := newFakeClient(true)
	client.manual = true
	s := newTestSender(store, client, nil)

	ctx := context.Background()
	for range 2 {
		_, err := s.Send(ctx, "v1/devices/me/telemetry", []byte("reading"), nil)
		require.NoError(t, err)
	}

	s.Start(ctx)
	defer s.Stop()

	require.Eventually(t, func() bool {
		return client.publishCount() == 2
	}, waitFor, tick)

	// A third message arrives while the first batch is still in flight.
	// It must not be submitted until the batch drains.
	_, err := s.Send(ctx, "v1/devices/me/telemetry", []byte("late"), nil)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, client.publishCount())

	client.handleAt(0).complete(nil)
	client.handleAt(1).complete(nil)

	assert.Eventually(t, func() bool {
		return client.publishCount() >= 3
	}, waitFor, tick)
}

func TestSenderSurvivesStoreReadFailure(t *testing.T) {
	store := &failingStore{Store: memory.New(memory.Config{})}
	store.setFail(true)
	client := newFakeClient(true)
	s := newTestSender(store, client, nil)

	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop()

	// Let the worker chew on read failures for a while.
	time.Sleep(50 * time.Millisecond)
	store.setFail(false)

	_, err := s.Send(ctx, "v1/devices/me/telemetry", []byte("reading"), nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		st := stats(t, store)
		return client.publishCount() >= 1 && st.Pending == 0 && st.Resend == 0
	}, waitFor, tick)
}

func TestSenderStopCancelsInflight(t *testing.T) {
	store := memory.New(memory.Config{})
	client := newFakeClient(true)
	client.manual = true
	s := newTestSender(store, client, nil)

	ctx := context.Background()
	_, err := s.Send(ctx, "v1/devices/me/telemetry", []byte("reading"), nil)
	require.NoError(t, err)

	s.Start(ctx)
	require.Eventually(t, func() bool {
		return client.publishCount() == 1
	}, waitFor, tick)

	s.Stop()

	assert.True(t, client.handleAt(0).wasCancelled())
	st := stats(t, store)
	assert.Equal(t, 1, st.Pending)
}
