// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package storage

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/accountd/accountd/internal/fault"
	"github.com/accountd/accountd/internal/identity"
)

// HistoryStore implements identity.LoginHistoryRepository on
// PostgreSQL.
type HistoryStore struct {
	q Querier
}

// NewHistoryStore creates a HistoryStore over q.
func NewHistoryStore(q Querier) *HistoryStore {
	return &HistoryStore{q: q}
}

// Record implements identity.LoginHistoryRepository. The eviction of
// entries past maxEntries happens in the same statement batch as the
// insert, inside the caller's transaction.
func (s *HistoryStore) Record(ctx context.Context, record *identity.LoginRecord, maxEntries int) error {
	q := queries(ctx, s.q)
	_, err := q.Exec(ctx,
		`INSERT INTO login_history (id, account_id, remote_host, user_agent, logged_in_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		record.ID.String(),
		record.AccountID.String(),
		record.RemoteHost,
		record.UserAgent,
		record.LoggedInAt,
	)
	if err != nil {
		return fault.New(fault.CodeSQLError).
			With("operation", "record login").
			With("account_id", record.AccountID.String()).
			Wrap(err)
	}

	if maxEntries <= 0 {
		return nil
	}
	_, err = q.Exec(ctx,
		`DELETE FROM login_history
		 WHERE account_id = $1 AND id NOT IN (
		     SELECT id FROM login_history
		     WHERE account_id = $1
		     ORDER BY logged_in_at DESC, id DESC
		     LIMIT $2
		 )`,
		record.AccountID.String(), maxEntries)
	if err != nil {
		return fault.New(fault.CodeSQLError).
			With("operation", "evict login history").
			With("account_id", record.AccountID.String()).
			Wrap(err)
	}
	return nil
}

// ListByAccount implements identity.LoginHistoryRepository.
func (s *HistoryStore) ListByAccount(ctx context.Context, accountID ulid.ULID, limit int) ([]*identity.LoginRecord, error) {
	q := queries(ctx, s.q)
	rows, err := q.Query(ctx,
		`SELECT id, account_id, remote_host, user_agent, logged_in_at
		 FROM login_history
		 WHERE account_id = $1
		 ORDER BY logged_in_at DESC, id DESC
		 LIMIT $2`,
		accountID.String(), limit)
	if err != nil {
		return nil, fault.New(fault.CodeSQLError).
			With("operation", "list login history").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var records []*identity.LoginRecord
	for rows.Next() {
		var (
			record       identity.LoginRecord
			idStr, accID string
		)
		if err := rows.Scan(&idStr, &accID, &record.RemoteHost, &record.UserAgent, &record.LoggedInAt); err != nil {
			return nil, fault.New(fault.CodeSQLError).
				With("operation", "scan login record").
				Wrap(err)
		}
		if record.ID, err = ulid.Parse(idStr); err != nil {
			return nil, fault.New(fault.CodeSQLError).
				With("operation", "parse login record id").
				With("id", idStr).
				Wrap(err)
		}
		if record.AccountID, err = ulid.Parse(accID); err != nil {
			return nil, fault.New(fault.CodeSQLError).
				With("operation", "parse login record account id").
				With("account_id", accID).
				Wrap(err)
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.New(fault.CodeSQLError).
			With("operation", "iterate login history").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return records, nil
}

var _ identity.LoginHistoryRepository = (*HistoryStore)(nil)
