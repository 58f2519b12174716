// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package permission_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountd/accountd/internal/permission"
)

func TestImplies_ReflexiveForEveryTag(t *testing.T) {
	for _, p := range permission.All() {
		assert.True(t, permission.Of(p).Implies(p), "of(%s) must imply itself", p)
	}
}

func TestImplies_EmptySetImpliesNothing(t *testing.T) {
	empty := permission.Empty()
	for _, p := range permission.All() {
		assert.False(t, empty.Implies(p), "empty() must not imply %s", p)
	}
}

func TestImplies_TransitiveGrants(t *testing.T) {
	tests := []struct {
		name    string
		held    permission.Permission
		granted permission.Permission
	}{
		{"write email grants self variant", permission.AdminWriteEmail, permission.AdminWriteEmailSelf},
		{"write credentials grants self variant", permission.AdminWriteCredentials, permission.AdminWriteCredentialsSelf},
		{"admin create grants admin read", permission.AdminCreate, permission.AdminRead},
		{"user ban grants user read", permission.UserBan, permission.UserRead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := permission.Of(tt.held)
			assert.True(t, s.Implies(tt.granted))
			// The grant is one-directional.
			assert.False(t, permission.Of(tt.granted).Implies(tt.held))
		})
	}
}

func TestImplies_UnrelatedTagDenied(t *testing.T) {
	s := permission.Of(permission.AdminWriteEmail)
	assert.False(t, s.Implies(permission.UserDelete))
	assert.False(t, s.Implies(permission.AuditRead))
}

func TestImpliesAll(t *testing.T) {
	s := permission.Of(permission.AdminWriteEmail, permission.UserBan)
	assert.True(t, s.ImpliesAll(permission.AdminWriteEmailSelf, permission.UserRead))
	assert.False(t, s.ImpliesAll(permission.AdminWriteEmailSelf, permission.AdminDelete))
	assert.True(t, s.ImpliesAll()) // vacuously true
}

func TestAllSetImpliesEverything(t *testing.T) {
	s := permission.AllSet()
	assert.True(t, s.ImpliesAll(permission.All()...))
}

func TestPlusMinus_ArePure(t *testing.T) {
	base := permission.Of(permission.UserRead)
	grown := base.Plus(permission.UserBan)
	shrunk := grown.Minus(permission.UserRead)

	assert.True(t, grown.Holds(permission.UserBan))
	assert.False(t, base.Holds(permission.UserBan), "Plus must not mutate the receiver")
	assert.True(t, grown.Holds(permission.UserRead), "Minus must not mutate the receiver")
	assert.False(t, shrunk.Holds(permission.UserRead))
	// user.ban still implies user.read through the table.
	assert.True(t, shrunk.Implies(permission.UserRead))
}

func TestParse_DiscardsUnknownTokens(t *testing.T) {
	s := permission.Parse("admin.write.email, bogus.tag ,user.ban,,another.bogus")
	require.Equal(t, 2, s.Len())
	assert.True(t, s.Holds(permission.AdminWriteEmail))
	assert.True(t, s.Holds(permission.UserBan))
}

func TestParse_EmptyString(t *testing.T) {
	assert.Equal(t, 0, permission.Parse("").Len())
}

func TestStringRoundTrip(t *testing.T) {
	s := permission.Of(permission.UserBan, permission.AdminRead)
	assert.True(t, permission.Parse(s.String()).Equal(s))
}

func TestEqual_ComparesClosures(t *testing.T) {
	// admin.write.email alone and admin.write.email plus its implied
	// self variant grant the same capabilities.
	a := permission.Of(permission.AdminWriteEmail)
	b := permission.Of(permission.AdminWriteEmail, permission.AdminWriteEmailSelf)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(permission.Of(permission.AdminWriteEmailSelf)))
}

// TestImplicationGraphAcyclic walks the static table from every tag and
// fails if any walk revisits its origin.
func TestImplicationGraphAcyclic(t *testing.T) {
	var visit func(p permission.Permission, path map[permission.Permission]bool) bool
	visit = func(p permission.Permission, path map[permission.Permission]bool) bool {
		if path[p] {
			return false
		}
		path[p] = true
		defer delete(path, p)
		for _, next := range permission.Implied(p) {
			if !visit(next, path) {
				return false
			}
		}
		return true
	}
	for _, p := range permission.All() {
		assert.True(t, visit(p, map[permission.Permission]bool{}), "cycle reachable from %s", p)
	}
}
