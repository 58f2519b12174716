// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"

	"github.com/accountd/accountd/internal/credential"
	"github.com/accountd/accountd/internal/fault"
	"github.com/accountd/accountd/internal/identity"
	"github.com/accountd/accountd/internal/permission"
)

// AccountStore implements identity.AccountRepository on PostgreSQL.
// Emails live in account_emails, ordered by position; the row at
// position 0 is the primary address.
type AccountStore struct {
	q Querier
}

// NewAccountStore creates an AccountStore over q.
func NewAccountStore(q Querier) *AccountStore {
	return &AccountStore{q: q}
}

const accountColumns = `id, kind, login_name, display_name,
	password_algorithm, password_hash, password_salt, password_expires_at,
	permissions, created_at, updated_at`

// Create implements identity.AccountRepository.
func (s *AccountStore) Create(ctx context.Context, account *identity.Account) error {
	q := queries(ctx, s.q)
	_, err := q.Exec(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		account.ID.String(),
		string(account.Kind),
		account.LoginName,
		account.DisplayName,
		account.Password.Algorithm,
		account.Password.Hash,
		account.Password.Salt,
		account.Password.ExpiresAt,
		account.Permissions.String(),
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return mapUniqueViolation(err, "create account", account)
	}
	return s.replaceEmails(ctx, q, account)
}

// GetByID implements identity.AccountRepository.
func (s *AccountStore) GetByID(ctx context.Context, id ulid.ULID) (*identity.Account, error) {
	q := queries(ctx, s.q)
	row := q.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`,
		id.String())
	return s.scanAccount(ctx, q, row, "get account by id")
}

// GetByLoginName implements identity.AccountRepository.
func (s *AccountStore) GetByLoginName(ctx context.Context, loginName string) (*identity.Account, error) {
	q := queries(ctx, s.q)
	row := q.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE LOWER(login_name) = LOWER($1)`,
		loginName)
	return s.scanAccount(ctx, q, row, "get account by login name")
}

// GetByEmail implements identity.AccountRepository.
func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*identity.Account, error) {
	q := queries(ctx, s.q)
	row := q.QueryRow(ctx,
		`SELECT `+prefixColumns("a.", accountColumns)+`
		 FROM accounts a
		 JOIN account_emails e ON e.account_id = a.id
		 WHERE e.email = LOWER($1)`,
		email)
	return s.scanAccount(ctx, q, row, "get account by email")
}

// Update implements identity.AccountRepository.
func (s *AccountStore) Update(ctx context.Context, account *identity.Account) error {
	q := queries(ctx, s.q)
	tag, err := q.Exec(ctx,
		`UPDATE accounts
		 SET display_name = $2, permissions = $3, updated_at = $4
		 WHERE id = $1`,
		account.ID.String(),
		account.DisplayName,
		account.Permissions.String(),
		account.UpdatedAt,
	)
	if err != nil {
		return fault.New(fault.CodeSQLError).
			With("operation", "update account").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return fault.New(fault.CodeSQLError).
			With("operation", "update account").
			With("account_id", account.ID.String()).
			Wrap(identity.ErrNotFound)
	}
	return s.replaceEmails(ctx, q, account)
}

// UpdatePassword implements identity.AccountRepository.
func (s *AccountStore) UpdatePassword(ctx context.Context, id ulid.ULID, password credential.Password) error {
	q := queries(ctx, s.q)
	tag, err := q.Exec(ctx,
		`UPDATE accounts
		 SET password_algorithm = $2, password_hash = $3, password_salt = $4,
		     password_expires_at = $5, updated_at = NOW()
		 WHERE id = $1`,
		id.String(),
		password.Algorithm,
		password.Hash,
		password.Salt,
		password.ExpiresAt,
	)
	if err != nil {
		return fault.New(fault.CodeSQLError).
			With("operation", "update password").
			With("account_id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return fault.New(fault.CodeSQLError).
			With("operation", "update password").
			With("account_id", id.String()).
			Wrap(identity.ErrNotFound)
	}
	return nil
}

// Delete implements identity.AccountRepository. Dependent rows cascade.
func (s *AccountStore) Delete(ctx context.Context, id ulid.ULID) error {
	q := queries(ctx, s.q)
	tag, err := q.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id.String())
	if err != nil {
		return fault.New(fault.CodeSQLError).
			With("operation", "delete account").
			With("account_id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return fault.New(fault.CodeSQLError).
			With("operation", "delete account").
			With("account_id", id.String()).
			Wrap(identity.ErrNotFound)
	}
	return nil
}

// replaceEmails rewrites the ordered email set. Runs inside the
// caller's transaction, so the delete/insert pair is atomic.
func (s *AccountStore) replaceEmails(ctx context.Context, q Querier, account *identity.Account) error {
	if _, err := q.Exec(ctx,
		`DELETE FROM account_emails WHERE account_id = $1`,
		account.ID.String()); err != nil {
		return fault.New(fault.CodeSQLError).
			With("operation", "clear account emails").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	for i, email := range account.Emails {
		if _, err := q.Exec(ctx,
			`INSERT INTO account_emails (account_id, email, position) VALUES ($1, $2, $3)`,
			account.ID.String(), email, i); err != nil {
			return mapUniqueViolation(err, "store account email", account)
		}
	}
	return nil
}

func (s *AccountStore) scanAccount(ctx context.Context, q Querier, row pgx.Row, operation string) (*identity.Account, error) {
	var (
		account   identity.Account
		idStr     string
		kindStr   string
		expiresAt *time.Time
		permsStr  string
	)
	err := row.Scan(
		&idStr,
		&kindStr,
		&account.LoginName,
		&account.DisplayName,
		&account.Password.Algorithm,
		&account.Password.Hash,
		&account.Password.Salt,
		&expiresAt,
		&permsStr,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.New(fault.CodeSQLError).
			With("operation", operation).
			Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return nil, fault.New(fault.CodeSQLError).
			With("operation", operation).
			Wrap(err)
	}

	account.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, fault.New(fault.CodeSQLError).
			With("operation", operation).
			With("account_id", idStr).
			Wrap(err)
	}
	account.Kind = identity.Kind(kindStr)
	account.Password.ExpiresAt = expiresAt
	account.Permissions = permission.Parse(permsStr)

	account.Emails, err = s.loadEmails(ctx, q, account.ID)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *AccountStore) loadEmails(ctx context.Context, q Querier, id ulid.ULID) ([]string, error) {
	rows, err := q.Query(ctx,
		`SELECT email FROM account_emails WHERE account_id = $1 ORDER BY position`,
		id.String())
	if err != nil {
		return nil, fault.New(fault.CodeSQLError).
			With("operation", "load account emails").
			With("account_id", id.String()).
			Wrap(err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fault.New(fault.CodeSQLError).
				With("operation", "scan account email").
				With("account_id", id.String()).
				Wrap(err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.New(fault.CodeSQLError).
			With("operation", "iterate account emails").
			With("account_id", id.String()).
			Wrap(err)
	}
	return emails, nil
}

// mapUniqueViolation turns PostgreSQL unique violations into the
// client-facing duplicate faults; anything else stays a SQL fault.
func mapUniqueViolation(err error, operation string, account *identity.Account) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		if strings.Contains(pgErr.ConstraintName, "email") {
			return fault.New(fault.CodeEmailDuplicate).
				Errorf("email address is already registered")
		}
		if strings.Contains(pgErr.ConstraintName, "login_name") {
			return fault.New(fault.CodeAPIMisuse).
				With("login_name", account.LoginName).
				Errorf("login name is already taken")
		}
	}
	return fault.New(fault.CodeSQLError).
		With("operation", operation).
		With("account_id", account.ID.String()).
		Wrap(err)
}

func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

var _ identity.AccountRepository = (*AccountStore)(nil)
