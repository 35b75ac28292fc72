// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/uplink/storage"
	"github.com/absmach/uplink/storage/memory"
	"github.com/absmach/uplink/transport"
)

type stubClient struct {
	mu        sync.Mutex
	connected bool
}

func (c *stubClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *stubClient) setConnected(up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = up
}

func (c *stubClient) Reconnect() {}

func (c *stubClient) Publish(string, []byte) transport.Handle { return nil }

func startServer(t *testing.T, client transport.Client, store storage.Store) string {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(Config{Address: "127.0.0.1:0", ShutdownTimeout: time.Second}, client, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Listen(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		return srv.Addr() != ""
	}, time.Second, 2*time.Millisecond)
	return "http://" + srv.Addr()
}

func get(t *testing.T, url string, out any) int {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	base := startServer(t, &stubClient{connected: true}, memory.New(memory.Config{}))

	var body HealthResponse
	code := get(t, base+"/health", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body.Status)
}

func TestReadyEndpoint(t *testing.T) {
	client := &stubClient{connected: true}
	base := startServer(t, client, memory.New(memory.Config{}))

	var body ReadyResponse
	code := get(t, base+"/ready", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body.Status)

	client.setConnected(false)
	code = get(t, base+"/ready", &body)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not_ready", body.Status)
	assert.Equal(t, "broker connection is down", body.Details)
}

func TestQueueStatusEndpoint(t *testing.T) {
	store := memory.New(memory.Config{})
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, storage.NewMessage("t", []byte("a"))))
	require.NoError(t, store.Save(ctx, storage.NewMessage("t", []byte("b"))))
	retry := storage.NewMessage("t", []byte("c"))
	require.NoError(t, store.SaveForResend(ctx, retry))

	base := startServer(t, &stubClient{connected: true}, store)

	var body QueueStatusResponse
	code := get(t, base+"/queue/status", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, body.Pending)
	assert.Equal(t, 1, body.Resend)
}

func TestMethodNotAllowed(t *testing.T) {
	base := startServer(t, &stubClient{connected: true}, memory.New(memory.Config{}))

	resp, err := http.Post(base+"/health", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
