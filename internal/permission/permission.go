// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

// Package permission defines the closed capability tag set held by
// administrators and the implication closure over it.
package permission

// Permission is an atomic authorization tag.
type Permission string

// The closed capability set. Adding a tag here requires a matching
// entry in implied (possibly empty) and keeps the graph acyclic;
// TestImplicationGraphAcyclic guards this at build time.
const (
	AdminCreate               Permission = "admin.create"
	AdminDelete               Permission = "admin.delete"
	AdminRead                 Permission = "admin.read"
	AdminBan                  Permission = "admin.ban"
	AdminWriteEmail           Permission = "admin.write.email"
	AdminWriteEmailSelf       Permission = "admin.write.email.self"
	AdminWriteCredentials     Permission = "admin.write.credentials"
	AdminWriteCredentialsSelf Permission = "admin.write.credentials.self"
	AdminWritePermissions     Permission = "admin.write.permissions"
	UserCreate                Permission = "user.create"
	UserDelete                Permission = "user.delete"
	UserRead                  Permission = "user.read"
	UserBan                   Permission = "user.ban"
	UserWriteEmail            Permission = "user.write.email"
	UserWriteCredentials      Permission = "user.write.credentials"
	AuditRead                 Permission = "audit.read"
)

// all lists every tag, in declaration order.
var all = []Permission{
	AdminCreate,
	AdminDelete,
	AdminRead,
	AdminBan,
	AdminWriteEmail,
	AdminWriteEmailSelf,
	AdminWriteCredentials,
	AdminWriteCredentialsSelf,
	AdminWritePermissions,
	UserCreate,
	UserDelete,
	UserRead,
	UserBan,
	UserWriteEmail,
	UserWriteCredentials,
	AuditRead,
}

// implied is the static implication table. The graph must stay acyclic;
// Implies walks it with a visited set so a future cycle cannot hang the
// closure, but a cycle is still a bug.
var implied = map[Permission][]Permission{
	AdminCreate:           {AdminRead},
	AdminDelete:           {AdminRead},
	AdminBan:              {AdminRead},
	AdminWriteEmail:       {AdminWriteEmailSelf},
	AdminWriteCredentials: {AdminWriteCredentialsSelf},
	AdminWritePermissions: {AdminRead},
	UserDelete:            {UserRead},
	UserBan:               {UserRead},
	UserWriteEmail:        {UserRead},
	UserWriteCredentials:  {UserRead},
}

// Valid reports whether p is a member of the closed tag set.
func (p Permission) Valid() bool {
	_, ok := implied[p]
	if ok {
		return true
	}
	for _, known := range all {
		if known == p {
			return true
		}
	}
	return false
}

// All returns every tag in the closed set. The returned slice is a copy.
func All() []Permission {
	out := make([]Permission, len(all))
	copy(out, all)
	return out
}

// Implied returns the tags directly implied by p. The returned slice is
// a copy and safe to modify.
func Implied(p Permission) []Permission {
	direct := implied[p]
	out := make([]Permission, len(direct))
	copy(out, direct)
	return out
}
