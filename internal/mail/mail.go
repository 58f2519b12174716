// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

// Package mail models the asynchronous mail-delivery boundary. Sending
// returns a Future; command handlers block on it before responding so
// delivery failures surface as mail-system faults inside the request.
package mail

import (
	"context"
	"log/slog"
	"sync"

	"github.com/accountd/accountd/internal/fault"
)

// Message is a rendered mail ready for delivery.
type Message struct {
	To      string
	Headers map[string]string
	Subject string
	Body    string
	// Kind classifies the message for delivery metrics. Not part of
	// the rendered mail.
	Kind string
}

// Future resolves with the outcome of an asynchronous delivery.
type Future struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewFuture creates an unresolved Future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// ResolvedFuture creates a Future already resolved with err.
func ResolvedFuture(err error) *Future {
	f := NewFuture()
	f.Resolve(err)
	return f
}

// Resolve completes the future. Subsequent calls are no-ops.
func (f *Future) Resolve(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Wait blocks until the delivery completes or ctx is done. A failed
// delivery is reported as a mail-system fault.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fault.New(fault.CodeMailSystemFailure).
			With("operation", "wait for delivery").
			Wrap(ctx.Err())
	case <-f.done:
	}
	if f.err == nil {
		return nil
	}
	if fault.CodeOf(f.err) == fault.CodeMailSystemFailure {
		return f.err
	}
	return fault.New(fault.CodeMailSystemFailure).Wrap(f.err)
}

// Sender delivers mail asynchronously.
type Sender interface {
	// Send enqueues a message for delivery and returns a Future that
	// resolves when delivery succeeds or is abandoned.
	Send(ctx context.Context, msg Message) *Future
}

// LogSender writes messages to the log instead of delivering them.
// Intended for development and tests.
type LogSender struct {
	Logger *slog.Logger
}

// Send implements Sender.
func (s LogSender) Send(ctx context.Context, msg Message) *Future {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "mail delivered to log",
		"to", msg.To,
		"subject", msg.Subject,
	)
	return ResolvedFuture(nil)
}

// Capture records every message and resolves with a configurable
// error. Intended for tests.
type Capture struct {
	mu       sync.Mutex
	messages []Message

	// Err, when non-nil, is the resolution of every returned Future.
	Err error
}

// Send implements Sender.
func (c *Capture) Send(_ context.Context, msg Message) *Future {
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
	return ResolvedFuture(c.Err)
}

// Messages returns a copy of everything sent so far.
func (c *Capture) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Reset discards recorded messages.
func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}
