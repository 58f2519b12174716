// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package identity

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Ban excludes a principal from logging in. A nil ExpiresAt means the
// ban is permanent.
type Ban struct {
	TargetID  ulid.ULID
	Reason    string
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// ActiveAt reports whether the ban is in force at the given time. A ban
// expiring exactly at now is no longer active.
func (b *Ban) ActiveAt(now time.Time) bool {
	return b.ExpiresAt == nil || b.ExpiresAt.After(now)
}

// LoginRecord is one entry in the bounded login history.
type LoginRecord struct {
	ID         ulid.ULID
	AccountID  ulid.ULID
	RemoteHost string
	UserAgent  string
	LoggedInAt time.Time
}
