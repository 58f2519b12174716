// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package mail

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/accountd/accountd/internal/observability"
)

// Transport performs one delivery attempt.
type Transport func(ctx context.Context, msg Message) error

// Retry configuration defaults.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 500 * time.Millisecond
)

// RetryingSender delivers through a Transport in a background
// goroutine, retrying transient failures with capped exponential
// backoff. The returned Future resolves with the final outcome.
type RetryingSender struct {
	transport      Transport
	maxAttempts    uint64
	initialBackoff time.Duration
}

// NewRetryingSender creates a RetryingSender. Zero values fall back to
// the package defaults.
func NewRetryingSender(transport Transport, maxAttempts uint64, initialBackoff time.Duration) *RetryingSender {
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if initialBackoff <= 0 {
		initialBackoff = DefaultInitialBackoff
	}
	return &RetryingSender{
		transport:      transport,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
	}
}

// Send implements Sender. Delivery runs detached from the request
// goroutine; callers decide how long to wait through the Future.
func (s *RetryingSender) Send(ctx context.Context, msg Message) *Future {
	future := NewFuture()
	go func() {
		backoff := retry.WithMaxRetries(s.maxAttempts-1, retry.NewExponential(s.initialBackoff))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if attemptErr := s.transport(ctx, msg); attemptErr != nil {
				return retry.RetryableError(attemptErr)
			}
			return nil
		})
		if err != nil {
			observability.RecordMailFailure(failureKind(msg))
		}
		future.Resolve(err)
	}()
	return future
}

func failureKind(msg Message) string {
	if msg.Kind == "" {
		return "unspecified"
	}
	return msg.Kind
}

// Compile-time interface checks.
var (
	_ Sender = (*RetryingSender)(nil)
	_ Sender = (*Capture)(nil)
	_ Sender = LogSender{}
)
