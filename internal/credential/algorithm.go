// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/accountd/accountd/internal/fault"
)

// Algorithm identifiers are self-describing strings whose leading
// colon-separated token selects the implementation.
const (
	pbkdf2Prefix   = "PBKDF2"
	redactedPrefix = "REDACTED"
)

// PBKDF2 parameters.
const (
	// DefaultIterations follows the OWASP recommendation for
	// PBKDF2-HMAC-SHA256.
	DefaultIterations = 310_000

	// MaxIterations rejects pathological configuration that would turn
	// every login into a denial of service.
	MaxIterations = 10_000_000

	pbkdf2SaltLen = 16 // bytes
	pbkdf2KeyLen  = 32 // bytes
)

// Algorithm hashes and verifies plaintext passwords.
type Algorithm interface {
	// Identifier returns the stable self-describing identifier string.
	Identifier() string

	// CreateHashed derives a Password from the plaintext with a fresh
	// random salt.
	CreateHashed(plaintext string) (Password, error)

	// Check recomputes the hash of candidate with the stored salt and
	// compares it in constant time. Returns (true, nil) on match,
	// (false, nil) on mismatch, or an error on malformed input.
	Check(hash, salt, candidate string) (bool, error)
}

// ParseAlgorithm resolves an identifier string to its implementation,
// dispatching on the leading token. Unknown or malformed identifiers
// fail with a password fault.
func ParseAlgorithm(identifier string) (Algorithm, error) {
	head, rest, _ := strings.Cut(identifier, ":")
	switch head {
	case pbkdf2Prefix:
		iterations, err := strconv.Atoi(rest)
		if err != nil {
			return nil, fault.New(fault.CodePasswordError).
				With("identifier", identifier).
				Errorf("malformed PBKDF2 iteration count")
		}
		return NewPBKDF2(iterations)
	case redactedPrefix:
		return Redacted{}, nil
	default:
		return nil, fault.New(fault.CodePasswordError).
			With("identifier", identifier).
			Errorf("unknown password algorithm")
	}
}

// PBKDF2 is an iterated salted HMAC-SHA256 key-derivation algorithm.
type PBKDF2 struct {
	iterations int
}

// NewPBKDF2 creates a PBKDF2 algorithm with the given iteration count.
// The count is bounded by MaxIterations.
func NewPBKDF2(iterations int) (PBKDF2, error) {
	if iterations <= 0 {
		return PBKDF2{}, fault.New(fault.CodePasswordError).
			With("iterations", iterations).
			Errorf("iteration count must be positive")
	}
	if iterations > MaxIterations {
		return PBKDF2{}, fault.New(fault.CodePasswordError).
			With("iterations", iterations).
			With("max", MaxIterations).
			Errorf("iteration count exceeds hard maximum")
	}
	return PBKDF2{iterations: iterations}, nil
}

// Identifier returns e.g. "PBKDF2:310000". The iteration count is part
// of the identifier so stored passwords survive configuration changes.
func (a PBKDF2) Identifier() string {
	return fmt.Sprintf("%s:%d", pbkdf2Prefix, a.iterations)
}

// CreateHashed derives a Password with a fresh random salt.
func (a PBKDF2) CreateHashed(plaintext string) (Password, error) {
	if plaintext == "" {
		return Password{}, fault.New(fault.CodePasswordError).
			Errorf("password cannot be empty")
	}
	salt := make([]byte, pbkdf2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return Password{}, fault.New(fault.CodePasswordError).
			With("operation", "generate salt").
			Wrap(err)
	}
	key := pbkdf2.Key([]byte(plaintext), salt, a.iterations, pbkdf2KeyLen, sha256.New)
	return New(a.Identifier(), hex.EncodeToString(key), hex.EncodeToString(salt), nil)
}

// Check recomputes the derivation and compares in constant time. The
// comparison reads both operands fully; it does not leak where the
// first difference occurs.
func (a PBKDF2) Check(hash, salt, candidate string) (bool, error) {
	storedHash, err := hex.DecodeString(hash)
	if err != nil {
		return false, fault.New(fault.CodePasswordError).
			With("field", "hash").
			Wrap(err)
	}
	storedSalt, err := hex.DecodeString(salt)
	if err != nil {
		return false, fault.New(fault.CodePasswordError).
			With("field", "salt").
			Wrap(err)
	}
	computed := pbkdf2.Key([]byte(candidate), storedSalt, a.iterations, len(storedHash), sha256.New)
	return subtle.ConstantTimeCompare(computed, storedHash) == 1, nil
}

// Redacted is a non-functional algorithm for test fixtures. It never
// matches any plaintext, which makes it safe to embed in fixtures and
// in redacted responses without carrying a real hash.
type Redacted struct{}

// Identifier returns "REDACTED".
func (Redacted) Identifier() string { return redactedPrefix }

// CreateHashed returns a fixture Password that can never verify.
func (Redacted) CreateHashed(string) (Password, error) {
	return New(redactedPrefix, strings.Repeat("00", pbkdf2KeyLen), strings.Repeat("00", pbkdf2SaltLen), nil)
}

// Check always reports a mismatch.
func (Redacted) Check(string, string, string) (bool, error) {
	return false, nil
}
