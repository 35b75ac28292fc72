// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit bounds the rate at which the delivery engine hands
// messages to the transport, so that draining a large durable backlog
// after a reconnect does not flood the broker.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// PublishLimiter limits publish submissions. A nil limiter allows
// everything, so callers never need to special-case "unlimited".
type PublishLimiter struct {
	limiter *rate.Limiter
}

// NewPublishLimiter creates a limiter allowing r publishes per second
// with the given burst. Returns nil (unlimited) when r <= 0.
func NewPublishLimiter(r float64, burst int) *PublishLimiter {
	if r <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &PublishLimiter{limiter: rate.NewLimiter(rate.Limit(r), burst)}
}

// Wait blocks until a publish is allowed or the context is cancelled.
func (l *PublishLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// Allow reports whether a publish may proceed right now.
func (l *PublishLimiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}
