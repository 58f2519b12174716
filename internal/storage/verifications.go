// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"github.com/accountd/accountd/internal/fault"
	"github.com/accountd/accountd/internal/identity"
	"github.com/accountd/accountd/internal/verification"
)

// VerificationStore implements verification.Repository on PostgreSQL.
type VerificationStore struct {
	q Querier
}

// NewVerificationStore creates a VerificationStore over q.
func NewVerificationStore(q Querier) *VerificationStore {
	return &VerificationStore{q: q}
}

// Create implements verification.Repository.
func (s *VerificationStore) Create(ctx context.Context, v *verification.Verification) error {
	q := queries(ctx, s.q)
	_, err := q.Exec(ctx,
		`INSERT INTO verifications
		     (id, user_id, email, op, permit_token_hash, deny_token_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID.String(),
		v.UserID.String(),
		v.Email,
		string(v.Op),
		v.PermitTokenHash,
		v.DenyTokenHash,
		v.ExpiresAt,
		v.CreatedAt,
	)
	if err != nil {
		return fault.New(fault.CodeSQLError).
			With("operation", "create verification").
			With("verification_id", v.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash implements verification.Repository. The hash may be
// either the permit or the deny token hash.
func (s *VerificationStore) GetByTokenHash(ctx context.Context, tokenHash string) (*verification.Verification, error) {
	q := queries(ctx, s.q)
	var (
		v              verification.Verification
		idStr, userStr string
		opStr          string
	)
	err := q.QueryRow(ctx,
		`SELECT id, user_id, email, op, permit_token_hash, deny_token_hash, expires_at, created_at
		 FROM verifications
		 WHERE permit_token_hash = $1 OR deny_token_hash = $1`,
		tokenHash).
		Scan(&idStr, &userStr, &v.Email, &opStr, &v.PermitTokenHash, &v.DenyTokenHash, &v.ExpiresAt, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.New(fault.CodeSQLError).
			With("operation", "get verification by token").
			Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return nil, fault.New(fault.CodeSQLError).
			With("operation", "get verification by token").
			Wrap(err)
	}
	if v.ID, err = ulid.Parse(idStr); err != nil {
		return nil, fault.New(fault.CodeSQLError).
			With("operation", "parse verification id").
			With("id", idStr).
			Wrap(err)
	}
	if v.UserID, err = ulid.Parse(userStr); err != nil {
		return nil, fault.New(fault.CodeSQLError).
			With("operation", "parse verification user id").
			With("user_id", userStr).
			Wrap(err)
	}
	v.Op = verification.Operation(opStr)
	return &v, nil
}

// Delete implements verification.Repository.
func (s *VerificationStore) Delete(ctx context.Context, id ulid.ULID) error {
	q := queries(ctx, s.q)
	_, err := q.Exec(ctx, `DELETE FROM verifications WHERE id = $1`, id.String())
	if err != nil {
		return fault.New(fault.CodeSQLError).
			With("operation", "delete verification").
			With("verification_id", id.String()).
			Wrap(err)
	}
	return nil
}

var _ verification.Repository = (*VerificationStore)(nil)
