// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package engine

import (
	"github.com/oklog/ulid/v2"

	"github.com/accountd/accountd/internal/fault"
	"github.com/accountd/accountd/internal/identity"
	"github.com/accountd/accountd/internal/permission"
)

// Verb tags what an action is about to do.
type Verb string

// Action verbs.
const (
	VerbReadAccount      Verb = "read_account"
	VerbCreateAccount    Verb = "create_account"
	VerbDeleteAccount    Verb = "delete_account"
	VerbBanAccount       Verb = "ban_account"
	VerbUnbanAccount     Verb = "unban_account"
	VerbWritePermissions Verb = "write_permissions"
	VerbWriteCredentials Verb = "write_credentials"
	VerbWriteEmail       Verb = "write_email"
	VerbReadAudit        Verb = "read_audit"
)

// Action carries just the data needed to authorize one operation.
type Action struct {
	Verb       Verb
	TargetID   ulid.ULID
	TargetKind identity.Kind
}

// authorize decides whether principal may perform action. A denial is
// a SECURITY_POLICY_DENIED fault; the rules differ per principal kind.
func authorize(principal *identity.Account, action Action) error {
	if principal == nil {
		return fault.New(fault.CodeAuthentication).
			Errorf("authentication required")
	}

	var allowed bool
	if principal.IsAdmin() {
		allowed = adminAllows(principal, action)
	} else {
		allowed = userAllows(principal, action)
	}
	if allowed {
		return nil
	}
	return fault.New(fault.CodeSecurityPolicyDenied).
		With("action", string(action.Verb)).
		Errorf("operation not permitted")
}

// userAllows is the policy for end users: self-service only.
func userAllows(principal *identity.Account, action Action) bool {
	self := action.TargetID.Compare(principal.ID) == 0
	switch action.Verb {
	case VerbReadAccount, VerbWriteCredentials, VerbWriteEmail:
		return self
	default:
		return false
	}
}

// adminAllows is the policy for administrators, driven by the
// capability set and its implication closure.
func adminAllows(principal *identity.Account, action Action) bool {
	self := action.TargetID.Compare(principal.ID) == 0
	targetIsAdmin := action.TargetKind == identity.KindAdmin

	switch action.Verb {
	case VerbReadAccount:
		if self {
			return true
		}
		if targetIsAdmin {
			return principal.Permissions.Implies(permission.AdminRead)
		}
		return principal.Permissions.Implies(permission.UserRead)
	case VerbCreateAccount:
		if targetIsAdmin {
			return principal.Permissions.Implies(permission.AdminCreate)
		}
		return principal.Permissions.Implies(permission.UserCreate)
	case VerbDeleteAccount:
		if targetIsAdmin {
			return principal.Permissions.Implies(permission.AdminDelete)
		}
		return principal.Permissions.Implies(permission.UserDelete)
	case VerbBanAccount, VerbUnbanAccount:
		if targetIsAdmin {
			return principal.Permissions.Implies(permission.AdminBan)
		}
		return principal.Permissions.Implies(permission.UserBan)
	case VerbWritePermissions:
		return principal.Permissions.Implies(permission.AdminWritePermissions)
	case VerbWriteCredentials:
		if targetIsAdmin {
			if self {
				return principal.Permissions.Implies(permission.AdminWriteCredentialsSelf)
			}
			return principal.Permissions.Implies(permission.AdminWriteCredentials)
		}
		return principal.Permissions.Implies(permission.UserWriteCredentials)
	case VerbWriteEmail:
		if targetIsAdmin {
			if self {
				return principal.Permissions.Implies(permission.AdminWriteEmailSelf)
			}
			return principal.Permissions.Implies(permission.AdminWriteEmail)
		}
		return principal.Permissions.Implies(permission.UserWriteEmail)
	case VerbReadAudit:
		return principal.Permissions.Implies(permission.AuditRead)
	default:
		return false
	}
}
