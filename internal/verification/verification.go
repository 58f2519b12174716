// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

// Package verification implements the email proof-of-control workflow:
// a pending add or remove operation guarded by a permit token and a
// deny token mailed to the addresses involved.
package verification

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/accountd/accountd/internal/fault"
)

// Operation tags the pending email mutation.
type Operation string

// Known operations.
const (
	OpAdd    Operation = "ADD"
	OpRemove Operation = "REMOVE"
)

// Valid reports whether op is a known operation tag.
func (op Operation) Valid() bool {
	return op == OpAdd || op == OpRemove
}

// TokenBytes is the entropy of a permit or deny token.
const TokenBytes = 32

// Verification is one pending email mutation. Records are created
// once, resolved exactly once, and deleted on resolution. Tokens are
// stored hashed; the plaintext exists only in the notification mails.
type Verification struct {
	ID              ulid.ULID
	UserID          ulid.ULID
	Email           string
	Op              Operation
	PermitTokenHash string
	DenyTokenHash   string
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// ExpiredAt reports whether the record can no longer be redeemed.
func (v *Verification) ExpiredAt(now time.Time) bool {
	return now.After(v.ExpiresAt)
}

// Repository persists verification records. Implementations must join
// the transaction carried in ctx when one is present.
type Repository interface {
	// Create stores a new record.
	Create(ctx context.Context, v *Verification) error

	// GetByTokenHash retrieves the record holding the given permit or
	// deny token hash, or identity.ErrNotFound.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Verification, error)

	// Delete removes a resolved record.
	Delete(ctx context.Context, id ulid.ULID) error
}

// GenerateToken returns a fresh random token and its storage hash.
func GenerateToken() (token, tokenHash string, err error) {
	raw := make([]byte, TokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fault.New(fault.CodeIOError).
			With("operation", "generate verification token").
			Wrap(err)
	}
	token = hex.EncodeToString(raw)
	return token, HashToken(token), nil
}

// HashToken returns the storage form of a token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// VerifyToken compares a plaintext token against a stored hash in
// constant time.
func VerifyToken(token, tokenHash string) bool {
	computed := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(tokenHash)) == 1
}
