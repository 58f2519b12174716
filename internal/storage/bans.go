// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"github.com/accountd/accountd/internal/fault"
	"github.com/accountd/accountd/internal/identity"
)

// BanStore implements identity.BanRepository on PostgreSQL.
type BanStore struct {
	q Querier
}

// NewBanStore creates a BanStore over q.
func NewBanStore(q Querier) *BanStore {
	return &BanStore{q: q}
}

// Upsert implements identity.BanRepository.
func (s *BanStore) Upsert(ctx context.Context, ban *identity.Ban) error {
	q := queries(ctx, s.q)
	_, err := q.Exec(ctx,
		`INSERT INTO bans (target_id, reason, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (target_id) DO UPDATE
		 SET reason = $2, expires_at = $3, created_at = $4`,
		ban.TargetID.String(),
		ban.Reason,
		ban.ExpiresAt,
		ban.CreatedAt,
	)
	if err != nil {
		return fault.New(fault.CodeSQLError).
			With("operation", "upsert ban").
			With("target_id", ban.TargetID.String()).
			Wrap(err)
	}
	return nil
}

// Get implements identity.BanRepository.
func (s *BanStore) Get(ctx context.Context, targetID ulid.ULID) (*identity.Ban, error) {
	q := queries(ctx, s.q)
	var (
		ban       identity.Ban
		idStr     string
		expiresAt *time.Time
	)
	err := q.QueryRow(ctx,
		`SELECT target_id, reason, expires_at, created_at FROM bans WHERE target_id = $1`,
		targetID.String()).
		Scan(&idStr, &ban.Reason, &expiresAt, &ban.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.New(fault.CodeSQLError).
			With("operation", "get ban").
			Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return nil, fault.New(fault.CodeSQLError).
			With("operation", "get ban").
			With("target_id", targetID.String()).
			Wrap(err)
	}
	ban.TargetID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, fault.New(fault.CodeSQLError).
			With("operation", "get ban").
			With("target_id", idStr).
			Wrap(err)
	}
	ban.ExpiresAt = expiresAt
	return &ban, nil
}

// Delete implements identity.BanRepository.
func (s *BanStore) Delete(ctx context.Context, targetID ulid.ULID) error {
	q := queries(ctx, s.q)
	_, err := q.Exec(ctx, `DELETE FROM bans WHERE target_id = $1`, targetID.String())
	if err != nil {
		return fault.New(fault.CodeSQLError).
			With("operation", "delete ban").
			With("target_id", targetID.String()).
			Wrap(err)
	}
	return nil
}

var _ identity.BanRepository = (*BanStore)(nil)
