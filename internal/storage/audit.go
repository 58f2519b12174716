// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package storage

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/accountd/accountd/internal/events"
	"github.com/accountd/accountd/internal/fault"
)

// AuditStore implements events.AuditRepository on PostgreSQL.
// Attributes are stored as JSONB.
type AuditStore struct {
	q Querier
}

// NewAuditStore creates an AuditStore over q.
func NewAuditStore(q Querier) *AuditStore {
	return &AuditStore{q: q}
}

// Append implements events.AuditRepository.
func (s *AuditStore) Append(ctx context.Context, record events.AuditRecord) error {
	attrs, err := events.EncodeAttributes(record.Attributes)
	if err != nil {
		return fault.New(fault.CodeIOError).
			With("operation", "encode audit attributes").
			With("topic", record.Topic).
			Wrap(err)
	}

	q := queries(ctx, s.q)
	_, err = q.Exec(ctx,
		`INSERT INTO audit_log (id, account_id, topic, request_id, attributes, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ID.String(),
		record.AccountID.String(),
		record.Topic,
		record.RequestID,
		attrs,
		record.OccurredAt,
	)
	if err != nil {
		return fault.New(fault.CodeSQLError).
			With("operation", "append audit record").
			With("topic", record.Topic).
			Wrap(err)
	}
	return nil
}

// ListByAccount implements events.AuditRepository.
func (s *AuditStore) ListByAccount(ctx context.Context, accountID ulid.ULID, limit int) ([]events.AuditRecord, error) {
	q := queries(ctx, s.q)
	rows, err := q.Query(ctx,
		`SELECT id, account_id, topic, request_id, attributes, occurred_at
		 FROM audit_log
		 WHERE account_id = $1
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT $2`,
		accountID.String(), limit)
	if err != nil {
		return nil, fault.New(fault.CodeSQLError).
			With("operation", "list audit records").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var records []events.AuditRecord
	for rows.Next() {
		var (
			record       events.AuditRecord
			idStr, accID string
			rawAttrs     []byte
		)
		if err := rows.Scan(&idStr, &accID, &record.Topic, &record.RequestID, &rawAttrs, &record.OccurredAt); err != nil {
			return nil, fault.New(fault.CodeSQLError).
				With("operation", "scan audit record").
				Wrap(err)
		}
		if record.ID, err = ulid.Parse(idStr); err != nil {
			return nil, fault.New(fault.CodeSQLError).
				With("operation", "parse audit record id").
				With("id", idStr).
				Wrap(err)
		}
		if record.AccountID, err = ulid.Parse(accID); err != nil {
			return nil, fault.New(fault.CodeSQLError).
				With("operation", "parse audit account id").
				With("account_id", accID).
				Wrap(err)
		}
		if record.Attributes, err = events.DecodeAttributes(rawAttrs); err != nil {
			return nil, fault.New(fault.CodeIOError).
				With("operation", "decode audit attributes").
				With("id", idStr).
				Wrap(err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.New(fault.CodeSQLError).
			With("operation", "iterate audit records").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return records, nil
}

var _ events.AuditRepository = (*AuditStore)(nil)
