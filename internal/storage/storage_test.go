// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountd/accountd/internal/clock"
	"github.com/accountd/accountd/internal/credential"
	"github.com/accountd/accountd/internal/fault"
	"github.com/accountd/accountd/internal/identity"
	"github.com/accountd/accountd/internal/permission"
	"github.com/accountd/accountd/internal/session"
	"github.com/accountd/accountd/pkg/errutil"
)

// anyArgs returns n pgxmock.AnyArg matchers; pgxmock v4 treats a
// missing WithArgs as an expectation of zero arguments.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return mock
}

func TestBanStore_Get(t *testing.T) {
	targetID := ulid.Make()
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		check     func(t *testing.T, ban *identity.Ban, err error)
	}{
		{
			name: "permanent ban",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows([]string{"target_id", "reason", "expires_at", "created_at"}).
					AddRow(targetID.String(), "abuse", nil, createdAt)
				mock.ExpectQuery(`SELECT target_id, reason, expires_at, created_at FROM bans`).
					WithArgs(targetID.String()).
					WillReturnRows(rows)
			},
			check: func(t *testing.T, ban *identity.Ban, err error) {
				require.NoError(t, err)
				assert.Equal(t, targetID, ban.TargetID)
				assert.Equal(t, "abuse", ban.Reason)
				assert.Nil(t, ban.ExpiresAt)
			},
		},
		{
			name: "no ban on record",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows([]string{"target_id", "reason", "expires_at", "created_at"})
				mock.ExpectQuery(`SELECT target_id, reason, expires_at, created_at FROM bans`).
					WithArgs(targetID.String()).
					WillReturnRows(rows)
			},
			check: func(t *testing.T, _ *identity.Ban, err error) {
				assert.ErrorIs(t, err, identity.ErrNotFound)
				errutil.AssertErrorCode(t, err, fault.CodeSQLError)
			},
		},
		{
			name: "database error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT target_id, reason, expires_at, created_at FROM bans`).
					WithArgs(targetID.String()).
					WillReturnError(errors.New("connection refused"))
			},
			check: func(t *testing.T, _ *identity.Ban, err error) {
				errutil.AssertErrorCode(t, err, fault.CodeSQLError)
				assert.NotErrorIs(t, err, identity.ErrNotFound)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.setupMock(mock)

			ban, err := NewBanStore(mock).Get(context.Background(), targetID)
			tt.check(t, ban, err)
			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestBanStore_Upsert(t *testing.T) {
	mock := newMock(t)
	ban := &identity.Ban{
		TargetID:  ulid.Make(),
		Reason:    "abuse",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	mock.ExpectExec(`INSERT INTO bans`).
		WithArgs(ban.TargetID.String(), ban.Reason, ban.ExpiresAt, ban.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewBanStore(mock).Upsert(context.Background(), ban))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountStore_GetByLoginName(t *testing.T) {
	mock := newMock(t)
	id := ulid.Make()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	accountRows := pgxmock.NewRows([]string{
		"id", "kind", "login_name", "display_name",
		"password_algorithm", "password_hash", "password_salt", "password_expires_at",
		"permissions", "created_at", "updated_at",
	}).AddRow(
		id.String(), "admin", "root", "Root",
		"PBKDF2:1000", "00ff", "11ee", nil,
		"user.ban,audit.read", now, now,
	)
	mock.ExpectQuery(`SELECT id, kind, login_name, display_name`).
		WithArgs("root").
		WillReturnRows(accountRows)

	emailRows := pgxmock.NewRows([]string{"email"}).
		AddRow("root@example.com").
		AddRow("ops@example.com")
	mock.ExpectQuery(`SELECT email FROM account_emails`).
		WithArgs(id.String()).
		WillReturnRows(emailRows)

	account, err := NewAccountStore(mock).GetByLoginName(context.Background(), "root")
	require.NoError(t, err)
	assert.Equal(t, id, account.ID)
	assert.Equal(t, identity.KindAdmin, account.Kind)
	assert.Equal(t, []string{"root@example.com", "ops@example.com"}, account.Emails)
	assert.True(t, account.Permissions.Implies(permission.UserBan))
	assert.True(t, account.Permissions.Implies(permission.UserRead), "implied capability survives the round trip")
	assert.Nil(t, account.Password.ExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountStore_CreateMapsEmailUniqueViolation(t *testing.T) {
	mock := newMock(t)
	account := seedAccount(t)

	mock.ExpectExec(`INSERT INTO accounts`).
		WithArgs(anyArgs(11)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM account_emails`).
		WithArgs(anyArgs(1)...).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO account_emails`).
		WithArgs(anyArgs(3)...).
		WillReturnError(&pgconn.PgError{
			Code:           pgerrcode.UniqueViolation,
			ConstraintName: "account_emails_email_key",
		})

	err := NewAccountStore(mock).Create(context.Background(), account)
	errutil.AssertErrorCode(t, err, fault.CodeEmailDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountStore_CreateMapsLoginNameUniqueViolation(t *testing.T) {
	mock := newMock(t)
	account := seedAccount(t)

	mock.ExpectExec(`INSERT INTO accounts`).
		WithArgs(anyArgs(11)...).
		WillReturnError(&pgconn.PgError{
			Code:           pgerrcode.UniqueViolation,
			ConstraintName: "accounts_login_name_idx",
		})

	err := NewAccountStore(mock).Create(context.Background(), account)
	errutil.AssertErrorCode(t, err, fault.CodeAPIMisuse)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryStore_RecordEvicts(t *testing.T) {
	mock := newMock(t)
	record := &identity.LoginRecord{
		ID:         ulid.Make(),
		AccountID:  ulid.Make(),
		RemoteHost: "203.0.113.9",
		UserAgent:  "test-agent",
		LoggedInAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec(`INSERT INTO login_history`).
		WithArgs(anyArgs(5)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM login_history`).
		WithArgs(record.AccountID.String(), 100).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	require.NoError(t, NewHistoryStore(mock).Record(context.Background(), record, 100))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionStore_ResolveExpired(t *testing.T) {
	mock := newMock(t)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewSessionStore(mock, time.Hour, clk)

	token, tokenHash, err := session.GenerateToken()
	require.NoError(t, err)

	id := ulid.Make()
	accountID := ulid.Make()
	createdAt := clk.Now().Add(-3 * time.Hour)
	rows := pgxmock.NewRows([]string{
		"id", "account_id", "token_hash", "remote_host", "user_agent",
		"expires_at", "created_at", "last_seen_at",
	}).AddRow(
		id.String(), accountID.String(), tokenHash, "", "",
		clk.Now().Add(-time.Hour), createdAt, createdAt,
	)
	mock.ExpectQuery(`SELECT id, account_id, token_hash`).
		WithArgs(tokenHash).
		WillReturnRows(rows)

	_, err = store.Resolve(context.Background(), token)
	errutil.AssertErrorCode(t, err, fault.CodeAuthentication)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionStore_ResolveUnknownToken(t *testing.T) {
	mock := newMock(t)
	store := NewSessionStore(mock, time.Hour, nil)

	mock.ExpectQuery(`SELECT id, account_id, token_hash`).
		WithArgs(anyArgs(1)...).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "account_id", "token_hash", "remote_host", "user_agent",
			"expires_at", "created_at", "last_seen_at",
		}))

	_, err := store.Resolve(context.Background(), "deadbeef")
	errutil.AssertErrorCode(t, err, fault.CodeAuthentication)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionStore_DeleteExpired(t *testing.T) {
	mock := newMock(t)
	store := NewSessionStore(mock, time.Hour, nil)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM sessions WHERE expires_at`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := store.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func seedAccount(t *testing.T) *identity.Account {
	t.Helper()
	password, err := credential.Redacted{}.CreateHashed("")
	require.NoError(t, err)
	account, err := identity.NewUser("alice", "Alice", "a@example.com", password,
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return account
}
