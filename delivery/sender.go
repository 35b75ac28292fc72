// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package delivery implements the reliable-delivery engine of the
// uplink: a single worker that drains the durable store into the
// transport with at-least-once guarantees. Publishes are asynchronous;
// a full-drain barrier keeps at most one batch in flight, and every
// completion either deletes the message or re-persists it for resend.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/uplink/otel"
	"github.com/absmach/uplink/ratelimit"
	"github.com/absmach/uplink/storage"
	"github.com/absmach/uplink/transport"
)

// Config holds delivery engine configuration.
type Config struct {
	// PollingInterval is the sleep between cycles when the previous
	// batch has not drained or no messages are available.
	PollingInterval time.Duration

	// RetryInterval is the wait before each reconnect attempt.
	RetryInterval time.Duration

	// PublishRate limits submissions to the transport, per second.
	// Zero means unlimited. Burst defaults to the rate rounded up.
	PublishRate  float64
	PublishBurst int
}

// Sender is the top-level delivery worker. It runs one delivery cycle
// after another for the lifetime of the process: gate on connectivity,
// gate on the drain barrier, fetch a batch, submit it. A failure inside
// one cycle is logged and the next cycle runs; the worker itself never
// dies.
type Sender struct {
	cfg       Config
	store     storage.Store
	client    transport.Client
	source    *Source
	tracker   *Tracker
	callbacks *Callbacks
	limiter   *ratelimit.PublishLimiter
	metrics   *otel.Metrics
	events    Events
	logger    *slog.Logger

	connected   bool
	connectedMu sync.Mutex

	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	completions sync.WaitGroup
}

// NewSender creates a delivery worker. metrics and events may be nil.
func NewSender(cfg Config, store storage.Store, client transport.Client, metrics *otel.Metrics, events Events, logger *slog.Logger) *Sender {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if events == nil {
		events = nopEvents{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	burst := cfg.PublishBurst
	if burst <= 0 {
		burst = int(cfg.PublishRate) + 1
	}

	return &Sender{
		cfg:       cfg,
		store:     store,
		client:    client,
		source:    NewSource(store),
		tracker:   NewTracker(logger),
		callbacks: NewCallbacks(),
		limiter:   ratelimit.NewPublishLimiter(cfg.PublishRate, burst),
		metrics:   metrics,
		events:    events,
		logger:    logger,
		connected: true,
		stopCh:    make(chan struct{}),
	}
}

// SendOptions carries optional per-message completion callbacks.
// Messages without callbacks complete with default log actions.
type SendOptions struct {
	OnSuccess func()
	OnFailure func(error)
}

// Send durably enqueues a message for delivery and returns its ID.
// Delivery happens asynchronously: the caller only ever observes
// eventual delivery via OnSuccess or eventual re-persistence for retry
// via OnFailure.
func (s *Sender) Send(ctx context.Context, topic string, payload []byte, opts *SendOptions) (string, error) {
	msg := storage.NewMessage(topic, payload)

	if opts != nil && (opts.OnSuccess != nil || opts.OnFailure != nil) {
		s.callbacks.Register(msg.ID, opts.OnSuccess, opts.OnFailure)
	}

	if err := s.store.Save(ctx, msg); err != nil {
		s.callbacks.Resolve(msg.ID)
		return "", fmt.Errorf("failed to persist message: %w", err)
	}
	return msg.ID, nil
}

// Start starts the delivery worker.
func (s *Sender) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the worker, cancels whatever is still in flight and waits
// for completion handlers to settle.
func (s *Sender) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	s.tracker.Clear()
	s.completions.Wait()
}

func (s *Sender) run(ctx context.Context) {
	defer s.wg.Done()

	s.logger.Info("delivery worker started",
		"polling_interval", s.cfg.PollingInterval,
		"retry_interval", s.cfg.RetryInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
			s.cycle(ctx)
		}
	}
}

// cycle runs one iteration of the delivery state machine. It is the
// single fault boundary: whatever goes wrong in here is contained to
// this cycle.
func (s *Sender) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("delivery cycle panicked", "panic", r)
			s.metrics.CycleFault(ctx)
			s.sleep(ctx, s.cfg.PollingInterval)
		}
	}()

	if !s.ensureConnected(ctx) {
		return
	}

	if !s.tracker.Drained() {
		s.sleep(ctx, s.cfg.PollingInterval)
		return
	}

	batch, err := s.source.NextBatch(ctx)
	if err != nil {
		s.logger.Error("failed to fetch next batch", "error", err)
		s.metrics.CycleFault(ctx)
		s.sleep(ctx, s.cfg.PollingInterval)
		return
	}

	if len(batch) == 0 {
		s.sleep(ctx, s.cfg.PollingInterval)
		return
	}

	for i, msg := range batch {
		if !s.ensureConnected(ctx) {
			// Connection dropped mid-batch: everything submitted so far
			// was just cancelled, the rest goes straight back to disk.
			s.resendRemainder(ctx, batch[i:])
			return
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		s.submit(ctx, msg)
	}
}

// ensureConnected reports whether the transport is usable. When it is
// not, every in-flight handle is cancelled, the tracker is cleared, and
// after the retry interval a single reconnect is requested. The caller
// re-checks on its next cycle; there is no inner retry loop.
func (s *Sender) ensureConnected(ctx context.Context) bool {
	if s.client.IsConnected() {
		if s.markConnected(true) {
			s.events.ConnectionRestored()
		}
		return true
	}

	if s.markConnected(false) {
		s.events.ConnectionLost()
	}

	if n := s.tracker.Clear(); n > 0 {
		s.logger.Info("abandoned in-flight publishes on dead connection", "count", n)
	}

	s.logger.Info("broker connection is down, reconnecting",
		"retry_interval", s.cfg.RetryInterval)
	s.sleep(ctx, s.cfg.RetryInterval)
	s.client.Reconnect()
	return false
}

// markConnected records the newly observed state and reports whether it
// changed. Events fire on transitions only; logging is unconditional.
func (s *Sender) markConnected(up bool) bool {
	s.connectedMu.Lock()
	defer s.connectedMu.Unlock()

	changed := s.connected != up
	s.connected = up
	return changed
}

// submit hands one message to the transport. The handle is registered
// before the loop moves on, so a mid-batch disconnect can cancel
// everything submitted so far.
func (s *Sender) submit(ctx context.Context, msg *storage.Message) {
	s.logger.Debug("sending message", "id", msg.ID, "topic", msg.Topic, "attempts", msg.Attempts)

	h := s.client.Publish(msg.Topic, msg.Payload)
	s.tracker.Register(h)
	s.metrics.InflightAdd(ctx, 1)

	s.completions.Add(1)
	go s.awaitCompletion(ctx, msg, h, time.Now())
}

// awaitCompletion routes one publish completion. Completions arrive in
// any order relative to submission and are handled independently.
func (s *Sender) awaitCompletion(ctx context.Context, msg *storage.Message, h transport.Handle, start time.Time) {
	defer s.completions.Done()

	<-h.Done()
	s.metrics.InflightAdd(ctx, -1)

	err := h.Err()
	switch {
	case errors.Is(err, transport.ErrCancelled):
		// Abandoned on disconnect. The message is still persisted and
		// will be fetched again once the connection is back.
	case err == nil:
		s.completeSuccess(ctx, msg, time.Since(start))
	default:
		s.completeFailure(ctx, msg, err)
	}
}

func (s *Sender) completeSuccess(ctx context.Context, msg *storage.Message, took time.Duration) {
	if cb, ok := s.callbacks.Success(msg.ID); ok {
		cb()
	} else {
		s.logger.Debug("successfully sent message", "id", msg.ID, "topic", msg.Topic)
	}

	if err := s.store.Delete(ctx, msg.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("failed to delete delivered message", "id", msg.ID, "error", err)
	}

	s.callbacks.Resolve(msg.ID)
	s.metrics.Published(ctx, took)
}

func (s *Sender) completeFailure(ctx context.Context, msg *storage.Message, cause error) {
	if err := s.store.SaveForResend(ctx, msg); err != nil {
		s.logger.Error("failed to persist message for resend", "id", msg.ID, "error", err)
	} else {
		s.metrics.Resent(ctx, 1)
	}

	if cb, ok := s.callbacks.Failure(msg.ID); ok {
		cb(cause)
	} else {
		s.logger.Warn("failed to send message", "id", msg.ID, "topic", msg.Topic, "error", cause)
	}

	s.callbacks.Resolve(msg.ID)
	s.metrics.PublishFailed(ctx)
	s.events.DeliveryFailed(msg, cause)
}

// resendRemainder persists the not-yet-submitted tail of a batch after
// a mid-batch disconnect. Nothing is silently dropped: on a store
// failure the messages are still in their original partition and will
// be fetched again.
func (s *Sender) resendRemainder(ctx context.Context, rest []*storage.Message) {
	if len(rest) == 0 {
		return
	}
	if err := s.store.SaveForResend(ctx, rest...); err != nil {
		s.logger.Error("failed to persist unsent remainder for resend",
			"count", len(rest), "error", err)
		return
	}
	s.metrics.Resent(ctx, len(rest))
	s.logger.Info("persisted unsent remainder for resend", "count", len(rest))
}

// sleep waits for d, the stop signal or context cancellation,
// whichever comes first.
func (s *Sender) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
	case <-ctx.Done():
	case <-s.stopCh:
	}
}
