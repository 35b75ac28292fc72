// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"errors"
	"sync"

	"github.com/absmach/uplink/storage"
	"github.com/absmach/uplink/transport"
)

// fakeHandle is a manually-completed transport handle.
type fakeHandle struct {
	done      chan struct{}
	once      sync.Once
	err       error
	mu        sync.Mutex
	cancelled bool
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{done: make(chan struct{})}
}

func (h *fakeHandle) complete(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *fakeHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func (h *fakeHandle) Cancel() {
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
	h.complete(transport.ErrCancelled)
}

func (h *fakeHandle) wasCancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// fakeClient is a scriptable transport client.
type fakeClient struct {
	mu         sync.Mutex
	connected  bool
	reconnects int
	publishErr error
	manual     bool // when set, handles are left open for the test to complete
	dropAfter  int  // disconnect after this many publishes (0 = never)
	published  []publishedMsg
	handles    []*fakeHandle
}

type publishedMsg struct {
	topic   string
	payload []byte
}

func newFakeClient(connected bool) *fakeClient {
	return &fakeClient{connected: connected}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) setConnected(up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = up
}

func (c *fakeClient) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects++
}

func (c *fakeClient) reconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

func (c *fakeClient) Publish(topic string, payload []byte) transport.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := newFakeHandle()
	c.published = append(c.published, publishedMsg{topic: topic, payload: payload})
	c.handles = append(c.handles, h)

	if c.dropAfter > 0 && len(c.published) == c.dropAfter {
		c.connected = false
	}
	if !c.manual {
		h.complete(c.publishErr)
	}
	return h
}

func (c *fakeClient) publishCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

func (c *fakeClient) publishedTopics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	topics := make([]string, 0, len(c.published))
	for _, p := range c.published {
		topics = append(topics, p.topic)
	}
	return topics
}

func (c *fakeClient) handleAt(i int) *fakeHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles[i]
}

var _ transport.Client = (*fakeClient)(nil)

// failingStore wraps a store and fails reads on demand.
type failingStore struct {
	storage.Store
	mu   sync.Mutex
	fail bool
}

var errReadFailure = errors.New("disk read failed")

func (s *failingStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *failingStore) failing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail
}

func (s *failingStore) GetResendMessages(ctx context.Context) ([]*storage.Message, error) {
	if s.failing() {
		return nil, errReadFailure
	}
	return s.Store.GetResendMessages(ctx)
}

func (s *failingStore) GetPersistentMessages(ctx context.Context) ([]*storage.Message, error) {
	if s.failing() {
		return nil, errReadFailure
	}
	return s.Store.GetPersistentMessages(ctx)
}
