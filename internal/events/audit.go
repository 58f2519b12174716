// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// AuditRecord is one persisted domain event, as returned by the
// audit-log query.
type AuditRecord struct {
	ID         ulid.ULID
	Topic      string
	AccountID  ulid.ULID
	RequestID  string
	Attributes map[string]any
	OccurredAt time.Time
}

// AuditRepository persists domain events for later inspection.
type AuditRepository interface {
	Append(ctx context.Context, record AuditRecord) error
	// ListByAccount returns records for one account, newest first,
	// capped at limit.
	ListByAccount(ctx context.Context, accountID ulid.ULID, limit int) ([]AuditRecord, error)
}

// AuditEmitter persists events through an AuditRepository. Persistence
// failures are logged and swallowed; the audit trail is best-effort
// and never fails the command that produced the event.
type AuditEmitter struct {
	Repo   AuditRepository
	Logger *slog.Logger
}

// Emit implements Emitter.
func (e AuditEmitter) Emit(ctx context.Context, event Event) {
	record := AuditRecord{
		ID:         event.ID,
		Topic:      event.Topic,
		AccountID:  event.AccountID,
		RequestID:  event.RequestID,
		Attributes: event.Attributes,
		OccurredAt: event.OccurredAt,
	}
	if err := e.Repo.Append(ctx, record); err != nil {
		logger := e.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.WarnContext(ctx, "audit append failed",
			"topic", event.Topic,
			"error", err,
		)
	}
}

// EncodeAttributes renders event attributes for storage in a JSONB
// column. A nil map encodes as an empty object.
func EncodeAttributes(attrs map[string]any) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return json.Marshal(attrs)
}

// DecodeAttributes is the inverse of EncodeAttributes.
func DecodeAttributes(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var attrs map[string]any
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

// Compile-time interface checks.
var (
	_ Emitter = Discard{}
	_ Emitter = SlogEmitter{}
	_ Emitter = Multi(nil)
	_ Emitter = (*Filtered)(nil)
	_ Emitter = (*Capture)(nil)
	_ Emitter = AuditEmitter{}
)
