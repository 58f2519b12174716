// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

// Package session binds opaque secret tokens to authenticated
// principals for a bounded inactivity window.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/accountd/accountd/internal/fault"
)

// Session token configuration.
const (
	// TokenBytes is the entropy of a session token. 32 bytes encode to
	// 64 hex characters.
	TokenBytes = 32

	// DefaultIdleTTL is the inactivity window after which a session
	// expires. Each resolved request slides the window.
	DefaultIdleTTL = 24 * time.Hour
)

// ErrNotFound is returned when no session matches a lookup.
var ErrNotFound = errors.New("not found")

// Session binds a token hash to a principal. Only the SHA-256 hash of
// the token is stored; the plaintext is returned to the client once.
type Session struct {
	ID         ulid.ULID
	AccountID  ulid.ULID
	TokenHash  string
	RemoteHost string
	UserAgent  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// New creates a validated Session.
func New(accountID ulid.ULID, tokenHash, remoteHost, userAgent string, now, expiresAt time.Time) (*Session, error) {
	if accountID.Compare(ulid.ULID{}) == 0 {
		return nil, fault.New(fault.CodeAPIMisuse).Errorf("account id cannot be zero")
	}
	if tokenHash == "" {
		return nil, fault.New(fault.CodeAPIMisuse).Errorf("token hash cannot be empty")
	}
	if !expiresAt.After(now) {
		return nil, fault.New(fault.CodeAPIMisuse).Errorf("session must expire in the future")
	}
	return &Session{
		ID:         ulid.Make(),
		AccountID:  accountID,
		TokenHash:  tokenHash,
		RemoteHost: remoteHost,
		UserAgent:  userAgent,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		LastSeenAt: now,
	}, nil
}

// IsExpiredAt reports whether the session is expired at the given time.
func (s *Session) IsExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// GenerateToken creates a secure random token and its hash. The
// plaintext token goes to the client; only the hash is stored.
func GenerateToken() (token, hash string, err error) {
	tokenBytes := make([]byte, TokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", fault.New(fault.CodeIOError).
			With("operation", "crypto/rand.Read").
			Wrap(err)
	}
	token = hex.EncodeToString(tokenBytes)
	return token, HashToken(token), nil
}

// HashToken computes the SHA-256 hash of a token for storage.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyToken checks a plaintext token against a stored hash in
// constant time.
func VerifyToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// Store manages session persistence. Implementations must be safe for
// concurrent use by multiple requests.
type Store interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// GetByTokenHash retrieves a session by its token hash, or
	// ErrNotFound.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// Touch slides the inactivity window: updates LastSeenAt and
	// ExpiresAt.
	Touch(ctx context.Context, id ulid.ULID, lastSeen, expiresAt time.Time) error

	// Delete removes a session by id.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteByAccount removes every session bound to an account.
	DeleteByAccount(ctx context.Context, accountID ulid.ULID) error

	// DeleteExpired removes sessions expired at the given time and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
