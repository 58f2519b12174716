// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

// Package identity defines the principal domain model: user and admin
// accounts, bans, and the bounded login history.
package identity

import (
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/accountd/accountd/internal/credential"
	"github.com/accountd/accountd/internal/fault"
	"github.com/accountd/accountd/internal/permission"
)

// Kind distinguishes the two principal classes.
type Kind string

// Principal kinds.
const (
	KindUser  Kind = "user"
	KindAdmin Kind = "admin"
)

// Login name constraints.
const (
	MinLoginNameLength = 3
	MaxLoginNameLength = 30
)

// loginNameRegex matches names that start with a letter and contain
// only letters, numbers, and underscores.
var loginNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// emailRegex is deliberately loose; proof of control comes from the
// verification workflow, not from syntax.
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Account is a principal. ID and LoginName are immutable after
// creation. The email set is ordered, unique, and never empty; the
// first address is primary. Permissions are meaningful only for
// KindAdmin accounts.
type Account struct {
	ID          ulid.ULID
	Kind        Kind
	LoginName   string
	DisplayName string
	Emails      []string
	Password    credential.Password
	Permissions permission.Set
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewUser creates a validated user account.
func NewUser(loginName, displayName, email string, password credential.Password, now time.Time) (*Account, error) {
	return newAccount(KindUser, loginName, displayName, email, password, permission.Empty(), now)
}

// NewAdmin creates a validated admin account holding the given
// permission set.
func NewAdmin(loginName, displayName, email string, password credential.Password, perms permission.Set, now time.Time) (*Account, error) {
	return newAccount(KindAdmin, loginName, displayName, email, password, perms, now)
}

func newAccount(kind Kind, loginName, displayName, email string, password credential.Password, perms permission.Set, now time.Time) (*Account, error) {
	if err := ValidateLoginName(loginName); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	return &Account{
		ID:          ulid.Make(),
		Kind:        kind,
		LoginName:   loginName,
		DisplayName: displayName,
		Emails:      []string{normalizeEmail(email)},
		Password:    password,
		Permissions: perms,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// IsAdmin reports whether the account is an administrator.
func (a *Account) IsAdmin() bool { return a.Kind == KindAdmin }

// PrimaryEmail returns the first (primary) address.
func (a *Account) PrimaryEmail() string {
	if len(a.Emails) == 0 {
		return ""
	}
	return a.Emails[0]
}

// HasEmail reports whether the account owns the address
// (case-insensitive).
func (a *Account) HasEmail(email string) bool {
	needle := normalizeEmail(email)
	for _, e := range a.Emails {
		if e == needle {
			return true
		}
	}
	return false
}

// OtherEmails returns every owned address except the given one.
func (a *Account) OtherEmails(except string) []string {
	needle := normalizeEmail(except)
	var out []string
	for _, e := range a.Emails {
		if e != needle {
			out = append(out, e)
		}
	}
	return out
}

// AddEmail appends a new address to the account's email set.
func (a *Account) AddEmail(email string, now time.Time) error {
	if err := ValidateEmail(email); err != nil {
		return err
	}
	if a.HasEmail(email) {
		return fault.New(fault.CodeEmailDuplicate).
			With("email", email).
			Errorf("email address is already registered")
	}
	a.Emails = append(a.Emails, normalizeEmail(email))
	a.UpdatedAt = now
	return nil
}

// RemoveEmail removes an owned address. The last remaining address can
// never be removed.
func (a *Account) RemoveEmail(email string, now time.Time) error {
	if !a.HasEmail(email) {
		return fault.New(fault.CodeEmailNonexistent).
			With("email", email).
			Errorf("email address is not registered on this account")
	}
	if len(a.Emails) == 1 {
		return fault.New(fault.CodeVerificationFailed).
			With("email", email).
			Errorf("cannot remove the last email address")
	}
	needle := normalizeEmail(email)
	kept := make([]string, 0, len(a.Emails)-1)
	for _, e := range a.Emails {
		if e != needle {
			kept = append(kept, e)
		}
	}
	a.Emails = kept
	a.UpdatedAt = now
	return nil
}

// Redacted returns a copy whose password can never verify. Responses
// derived from an account must use this form.
func (a *Account) Redacted() *Account {
	clone := *a
	clone.Emails = append([]string(nil), a.Emails...)
	redacted, err := credential.Redacted{}.CreateHashed("")
	if err != nil {
		// Redacted.CreateHashed builds a constant value and cannot fail.
		panic("credential: redacted fixture construction failed: " + err.Error())
	}
	clone.Password = redacted
	return &clone
}

// ValidateLoginName validates a login name against the naming rules.
func ValidateLoginName(name string) error {
	if name == "" {
		return fault.New(fault.CodeAPIMisuse).Errorf("login name cannot be empty")
	}
	if len(name) < MinLoginNameLength {
		return fault.New(fault.CodeAPIMisuse).
			With("min", MinLoginNameLength).
			Errorf("login name must be at least %d characters", MinLoginNameLength)
	}
	if len(name) > MaxLoginNameLength {
		return fault.New(fault.CodeAPIMisuse).
			With("max", MaxLoginNameLength).
			Errorf("login name must be at most %d characters", MaxLoginNameLength)
	}
	if !loginNameRegex.MatchString(name) {
		return fault.New(fault.CodeAPIMisuse).
			Errorf("login name must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// ValidateEmail performs a shallow syntactic check.
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return fault.New(fault.CodeAPIMisuse).
			With("email", email).
			Errorf("malformed email address")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
