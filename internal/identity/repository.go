// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package identity

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"

	"github.com/accountd/accountd/internal/credential"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// AccountRepository manages account persistence. Implementations must
// join the transaction carried in ctx when one is present.
type AccountRepository interface {
	// Create stores a new account.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by id.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByLoginName retrieves an account by login name
	// (case-insensitive).
	GetByLoginName(ctx context.Context, loginName string) (*Account, error)

	// GetByEmail retrieves the account owning the given address,
	// whichever position it occupies in the email set.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// Update persists mutations to an existing account.
	Update(ctx context.Context, account *Account) error

	// UpdatePassword replaces only the stored credential.
	UpdatePassword(ctx context.Context, id ulid.ULID, password credential.Password) error

	// Delete removes an account.
	Delete(ctx context.Context, id ulid.ULID) error
}

// BanRepository manages ban persistence.
type BanRepository interface {
	// Upsert stores or replaces the ban for its target.
	Upsert(ctx context.Context, ban *Ban) error

	// Get retrieves the ban for a target, or ErrNotFound.
	Get(ctx context.Context, targetID ulid.ULID) (*Ban, error)

	// Delete lifts the ban for a target.
	Delete(ctx context.Context, targetID ulid.ULID) error
}

// LoginHistoryRepository manages the bounded login history.
type LoginHistoryRepository interface {
	// Record appends an entry, evicting the oldest entries for the
	// account once maxEntries is exceeded.
	Record(ctx context.Context, record *LoginRecord, maxEntries int) error

	// ListByAccount returns the most recent entries, newest first.
	ListByAccount(ctx context.Context, accountID ulid.ULID, limit int) ([]*LoginRecord, error)
}
