// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

// Package events carries domain events out of the command handlers:
// into the structured log, and into the audit store backing the
// audit-log commands.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/gobwas/glob"
	"github.com/oklog/ulid/v2"

	"github.com/accountd/accountd/internal/fault"
)

// Event topics emitted by the core services.
const (
	TopicLoginSucceeded       = "auth.login.succeeded"
	TopicLoginFailed          = "auth.login.failed"
	TopicLogout               = "auth.logout"
	TopicVerificationBegun    = "email.verification.begun"
	TopicVerificationResolved = "email.verification.resolved"
	TopicAccountCreated       = "account.created"
	TopicAccountDeleted       = "account.deleted"
	TopicAccountBanned        = "account.banned"
	TopicAccountUnbanned      = "account.unbanned"
	TopicPasswordChanged      = "account.password.changed"
	TopicPermissionsChanged   = "account.permissions.changed"
)

// Event is one domain occurrence.
type Event struct {
	ID         ulid.ULID
	Topic      string
	AccountID  ulid.ULID // zero when no principal is involved
	RequestID  string
	Attributes map[string]any
	OccurredAt time.Time
}

// Emitter receives domain events. Implementations must not block the
// request longer than a log write; emitting is best-effort and never
// fails the command.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// Discard drops every event.
type Discard struct{}

// Emit implements Emitter.
func (Discard) Emit(context.Context, Event) {}

// SlogEmitter writes events to the structured log.
type SlogEmitter struct {
	Logger *slog.Logger
}

// Emit implements Emitter.
func (e SlogEmitter) Emit(ctx context.Context, event Event) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"topic", event.Topic,
		"request_id", event.RequestID,
	}
	if event.AccountID.Compare(ulid.ULID{}) != 0 {
		attrs = append(attrs, "account_id", event.AccountID.String())
	}
	for k, v := range event.Attributes {
		attrs = append(attrs, k, v)
	}
	logger.InfoContext(ctx, "domain event", attrs...)
}

// Multi fans an event out to several emitters.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(ctx context.Context, event Event) {
	for _, e := range m {
		e.Emit(ctx, event)
	}
}

// Filtered forwards only events whose topic matches at least one of
// the configured glob patterns.
type Filtered struct {
	next     Emitter
	patterns []glob.Glob
}

// NewFiltered compiles the glob patterns (with '.' as the segment
// separator, so "auth.*" matches "auth.logout" but not
// "auth.login.failed") and wraps next. No patterns means nothing
// passes.
func NewFiltered(next Emitter, patterns []string) (*Filtered, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '.')
		if err != nil {
			return nil, fault.New(fault.CodeIOError).
				With("pattern", p).
				Wrap(err)
		}
		compiled = append(compiled, g)
	}
	return &Filtered{next: next, patterns: compiled}, nil
}

// Emit implements Emitter.
func (f *Filtered) Emit(ctx context.Context, event Event) {
	for _, g := range f.patterns {
		if g.Match(event.Topic) {
			f.next.Emit(ctx, event)
			return
		}
	}
}

// Capture records every emitted event. Intended for tests.
type Capture struct {
	Events []Event
}

// Emit implements Emitter.
func (c *Capture) Emit(_ context.Context, event Event) {
	c.Events = append(c.Events, event)
}

// Topics returns the emitted topics in order.
func (c *Capture) Topics() []string {
	out := make([]string, len(c.Events))
	for i, e := range c.Events {
		out[i] = e.Topic
	}
	return out
}
