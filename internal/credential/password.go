// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

// Package credential provides the pluggable password-hashing
// abstraction and the immutable Password value stored on accounts.
package credential

import (
	"regexp"
	"time"

	"github.com/accountd/accountd/internal/fault"
)

// hexPattern matches a non-empty even-length lowercase hex string.
var hexPattern = regexp.MustCompile(`^(?:[0-9a-f]{2})+$`)

// Password is an immutable credential value: a self-describing
// algorithm identifier, hex-encoded hash and salt, and an optional
// expiration. Never mutate a Password in place; derive new values with
// WithExpiration so credentials are safe to share across goroutines.
type Password struct {
	Algorithm string
	Hash      string
	Salt      string
	ExpiresAt *time.Time
}

// New constructs a validated Password. Hash and salt must be strict
// lowercase hex.
func New(algorithm, hash, salt string, expiresAt *time.Time) (Password, error) {
	if algorithm == "" {
		return Password{}, fault.New(fault.CodePasswordError).
			Errorf("password algorithm identifier cannot be empty")
	}
	if !hexPattern.MatchString(hash) {
		return Password{}, fault.New(fault.CodePasswordError).
			With("field", "hash").
			Errorf("password hash is not valid hex")
	}
	if !hexPattern.MatchString(salt) {
		return Password{}, fault.New(fault.CodePasswordError).
			With("field", "salt").
			Errorf("password salt is not valid hex")
	}
	return Password{Algorithm: algorithm, Hash: hash, Salt: salt, ExpiresAt: expiresAt}, nil
}

// WithExpiration returns a copy of p expiring at t.
func (p Password) WithExpiration(t time.Time) Password {
	expires := t
	p.ExpiresAt = &expires
	return p
}

// IsExpiredAt reports whether the password is expired at the given time.
// A password with no expiration never expires.
func (p Password) IsExpiredAt(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// Check verifies a candidate plaintext against the stored credential.
// Expiration is enforced before the algorithm runs, so an expired
// password fails even with the correct plaintext.
func (p Password) Check(now time.Time, candidate string) (bool, error) {
	if p.IsExpiredAt(now) {
		return false, nil
	}
	alg, err := ParseAlgorithm(p.Algorithm)
	if err != nil {
		return false, err
	}
	return alg.Check(p.Hash, p.Salt, candidate)
}
