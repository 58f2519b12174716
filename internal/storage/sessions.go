// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"github.com/accountd/accountd/internal/clock"
	"github.com/accountd/accountd/internal/fault"
	"github.com/accountd/accountd/internal/observability"
	"github.com/accountd/accountd/internal/session"
)

// SessionStore implements session.Store on PostgreSQL, plus the
// Issue/Resolve pair the login service and transport use.
type SessionStore struct {
	q       Querier
	idleTTL time.Duration
	clock   clock.Clock
}

// NewSessionStore creates a SessionStore over q. A zero idleTTL uses
// session.DefaultIdleTTL; a nil clk uses the real clock.
func NewSessionStore(q Querier, idleTTL time.Duration, clk clock.Clock) *SessionStore {
	if idleTTL <= 0 {
		idleTTL = session.DefaultIdleTTL
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &SessionStore{q: q, idleTTL: idleTTL, clock: clk}
}

// Issue creates a session for accountID and returns it with the
// plaintext token.
func (s *SessionStore) Issue(ctx context.Context, accountID ulid.ULID, remoteHost, userAgent string) (*session.Session, string, error) {
	token, tokenHash, err := session.GenerateToken()
	if err != nil {
		return nil, "", err
	}
	now := s.clock.Now()
	sess, err := session.New(accountID, tokenHash, remoteHost, userAgent, now, now.Add(s.idleTTL))
	if err != nil {
		return nil, "", err
	}
	if err := s.Create(ctx, sess); err != nil {
		return nil, "", err
	}
	observability.RecordSessionIssued()
	return sess, token, nil
}

// Resolve looks a token up and slides the inactivity window. Unknown
// and expired tokens both fail with an authentication fault.
func (s *SessionStore) Resolve(ctx context.Context, token string) (*session.Session, error) {
	if token == "" {
		return nil, fault.New(fault.CodeAuthentication).
			Errorf("invalid session")
	}
	sess, err := s.GetByTokenHash(ctx, session.HashToken(token))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, fault.New(fault.CodeAuthentication).
				Errorf("invalid session")
		}
		return nil, err
	}
	now := s.clock.Now()
	if now.After(sess.ExpiresAt) {
		return nil, fault.New(fault.CodeAuthentication).
			Errorf("invalid session")
	}
	if err := s.Touch(ctx, sess.ID, now, now.Add(s.idleTTL)); err != nil {
		return nil, err
	}
	sess.LastSeenAt = now
	sess.ExpiresAt = now.Add(s.idleTTL)
	return sess, nil
}

// Create implements session.Store.
func (s *SessionStore) Create(ctx context.Context, sess *session.Session) error {
	q := queries(ctx, s.q)
	_, err := q.Exec(ctx,
		`INSERT INTO sessions
		     (id, account_id, token_hash, remote_host, user_agent, expires_at, created_at, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.ID.String(),
		sess.AccountID.String(),
		sess.TokenHash,
		sess.RemoteHost,
		sess.UserAgent,
		sess.ExpiresAt,
		sess.CreatedAt,
		sess.LastSeenAt,
	)
	if err != nil {
		return fault.New(fault.CodeSQLError).
			With("operation", "create session").
			With("session_id", sess.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash implements session.Store.
func (s *SessionStore) GetByTokenHash(ctx context.Context, tokenHash string) (*session.Session, error) {
	q := queries(ctx, s.q)
	var (
		sess          session.Session
		idStr, accStr string
	)
	err := q.QueryRow(ctx,
		`SELECT id, account_id, token_hash, remote_host, user_agent, expires_at, created_at, last_seen_at
		 FROM sessions WHERE token_hash = $1`,
		tokenHash).
		Scan(&idStr, &accStr, &sess.TokenHash, &sess.RemoteHost, &sess.UserAgent,
			&sess.ExpiresAt, &sess.CreatedAt, &sess.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.New(fault.CodeSQLError).
			With("operation", "get session by token").
			Wrap(session.ErrNotFound)
	}
	if err != nil {
		return nil, fault.New(fault.CodeSQLError).
			With("operation", "get session by token").
			Wrap(err)
	}
	if sess.ID, err = ulid.Parse(idStr); err != nil {
		return nil, fault.New(fault.CodeSQLError).
			With("operation", "parse session id").
			With("id", idStr).
			Wrap(err)
	}
	if sess.AccountID, err = ulid.Parse(accStr); err != nil {
		return nil, fault.New(fault.CodeSQLError).
			With("operation", "parse session account id").
			With("account_id", accStr).
			Wrap(err)
	}
	return &sess, nil
}

// Touch implements session.Store.
func (s *SessionStore) Touch(ctx context.Context, id ulid.ULID, lastSeen, expiresAt time.Time) error {
	q := queries(ctx, s.q)
	_, err := q.Exec(ctx,
		`UPDATE sessions SET last_seen_at = $2, expires_at = $3 WHERE id = $1`,
		id.String(), lastSeen, expiresAt)
	if err != nil {
		return fault.New(fault.CodeSQLError).
			With("operation", "touch session").
			With("session_id", id.String()).
			Wrap(err)
	}
	return nil
}

// Delete implements session.Store.
func (s *SessionStore) Delete(ctx context.Context, id ulid.ULID) error {
	q := queries(ctx, s.q)
	tag, err := q.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id.String())
	if err != nil {
		return fault.New(fault.CodeSQLError).
			With("operation", "delete session").
			With("session_id", id.String()).
			Wrap(err)
	}
	observability.RecordSessionsRevoked(tag.RowsAffected())
	return nil
}

// DeleteByAccount implements session.Store.
func (s *SessionStore) DeleteByAccount(ctx context.Context, accountID ulid.ULID) error {
	q := queries(ctx, s.q)
	tag, err := q.Exec(ctx, `DELETE FROM sessions WHERE account_id = $1`, accountID.String())
	if err != nil {
		return fault.New(fault.CodeSQLError).
			With("operation", "delete account sessions").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	observability.RecordSessionsRevoked(tag.RowsAffected())
	return nil
}

// DeleteExpired implements session.Store.
func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	q := queries(ctx, s.q)
	tag, err := q.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fault.New(fault.CodeSQLError).
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	observability.RecordSessionsRevoked(tag.RowsAffected())
	return tag.RowsAffected(), nil
}

var _ session.Store = (*SessionStore)(nil)
