// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

// Package engine dispatches the closed command catalog: one handler
// per command variant, executed inside the caller's transaction, with
// security checks and uniform error responses.
package engine

import (
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/oklog/ulid/v2"

	"github.com/accountd/accountd/internal/fault"
	"github.com/accountd/accountd/internal/permission"
	"github.com/accountd/accountd/internal/verification"
)

// ProtocolVersion is the catalog version spoken by this server.
const ProtocolVersion = "1.0.0"

// protocolConstraint accepts clients declaring any 1.x version.
var protocolConstraint = mustConstraint("^1")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic("engine: bad protocol constraint: " + err.Error())
	}
	return c
}

// CheckProtocolVersion validates a client-declared catalog version.
// An empty declaration is accepted as the current version.
func CheckProtocolVersion(declared string) error {
	if declared == "" {
		return nil
	}
	v, err := semver.NewVersion(declared)
	if err != nil {
		return fault.New(fault.CodeProtocolError).
			With("declared_version", declared).
			Errorf("malformed protocol version")
	}
	if !protocolConstraint.Check(v) {
		return fault.New(fault.CodeProtocolError).
			With("declared_version", declared).
			With("server_version", ProtocolVersion).
			Errorf("unsupported protocol version")
	}
	return nil
}

// Command is the sealed command sum type. Only the variants in this
// package implement it; the dispatch switch in Execute is exhaustive
// over Catalog.
type Command interface {
	// Name returns the wire name of the command.
	Name() string

	isCommand()
}

// Login authenticates a principal and opens a session.
type Login struct {
	Username string
	Password string
	Metadata map[string]string
}

// Logout terminates the current session.
type Logout struct{}

// GetAccount reads an account. A zero AccountID reads the caller's
// own account.
type GetAccount struct {
	AccountID ulid.ULID
}

// CreateUser creates an end-user account.
type CreateUser struct {
	LoginName   string
	DisplayName string
	Email       string
	Password    string
}

// CreateAdmin creates an administrator account.
type CreateAdmin struct {
	LoginName   string
	DisplayName string
	Email       string
	Password    string
	Permissions permission.Set
}

// DeleteAccount removes an account and its sessions.
type DeleteAccount struct {
	AccountID ulid.ULID
}

// BanAccount bans an account. A nil ExpiresAt is a permanent ban.
type BanAccount struct {
	AccountID ulid.ULID
	Reason    string
	ExpiresAt *time.Time
}

// UnbanAccount lifts an account's ban.
type UnbanAccount struct {
	AccountID ulid.ULID
}

// SetAdminPermissions replaces an administrator's permission set.
type SetAdminPermissions struct {
	AccountID   ulid.ULID
	Permissions permission.Set
}

// ChangePassword replaces an account's credential. A zero AccountID
// targets the caller's own account, in which case CurrentPassword
// must match the stored credential.
type ChangePassword struct {
	AccountID       ulid.ULID
	CurrentPassword string
	NewPassword     string
}

// BeginEmailAdd starts verification for adding an address to the
// caller's account.
type BeginEmailAdd struct {
	Email string
}

// BeginEmailRemove starts verification for removing an address from
// the caller's account.
type BeginEmailRemove struct {
	Email string
}

// ResolveEmailVerification redeems a permit or deny token.
type ResolveEmailVerification struct {
	Token string
	Op    verification.Operation
}

// ListAuditLog reads persisted domain events for one account.
type ListAuditLog struct {
	AccountID ulid.ULID
	Limit     int
}

// Wire names.
func (Login) Name() string                    { return "login" }
func (Logout) Name() string                   { return "logout" }
func (GetAccount) Name() string               { return "get_account" }
func (CreateUser) Name() string               { return "create_user" }
func (CreateAdmin) Name() string              { return "create_admin" }
func (DeleteAccount) Name() string            { return "delete_account" }
func (BanAccount) Name() string               { return "ban_account" }
func (UnbanAccount) Name() string             { return "unban_account" }
func (SetAdminPermissions) Name() string      { return "set_admin_permissions" }
func (ChangePassword) Name() string           { return "change_password" }
func (BeginEmailAdd) Name() string            { return "begin_email_add" }
func (BeginEmailRemove) Name() string         { return "begin_email_remove" }
func (ResolveEmailVerification) Name() string { return "resolve_email_verification" }
func (ListAuditLog) Name() string             { return "list_audit_log" }

func (Login) isCommand()                    {}
func (Logout) isCommand()                   {}
func (GetAccount) isCommand()               {}
func (CreateUser) isCommand()               {}
func (CreateAdmin) isCommand()              {}
func (DeleteAccount) isCommand()            {}
func (BanAccount) isCommand()               {}
func (UnbanAccount) isCommand()             {}
func (SetAdminPermissions) isCommand()      {}
func (ChangePassword) isCommand()           {}
func (BeginEmailAdd) isCommand()            {}
func (BeginEmailRemove) isCommand()         {}
func (ResolveEmailVerification) isCommand() {}
func (ListAuditLog) isCommand()             {}

// Catalog enumerates one zero value of every command variant.
// Exhaustiveness tests walk it against the dispatch switch.
func Catalog() []Command {
	return []Command{
		Login{},
		Logout{},
		GetAccount{},
		CreateUser{},
		CreateAdmin{},
		DeleteAccount{},
		BanAccount{},
		UnbanAccount{},
		SetAdminPermissions{},
		ChangePassword{},
		BeginEmailAdd{},
		BeginEmailRemove{},
		ResolveEmailVerification{},
		ListAuditLog{},
	}
}
