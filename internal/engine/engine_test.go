// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountd/accountd/internal/clock"
	"github.com/accountd/accountd/internal/credential"
	"github.com/accountd/accountd/internal/engine"
	"github.com/accountd/accountd/internal/events"
	"github.com/accountd/accountd/internal/fault"
	"github.com/accountd/accountd/internal/identity"
	"github.com/accountd/accountd/internal/identity/identitytest"
	"github.com/accountd/accountd/internal/login"
	"github.com/accountd/accountd/internal/mail"
	"github.com/accountd/accountd/internal/permission"
	"github.com/accountd/accountd/internal/session"
	"github.com/accountd/accountd/internal/verification"
)

const testPassword = "correct horse battery staple"

type memoryAudit struct {
	mu      sync.Mutex
	records []events.AuditRecord
}

func (r *memoryAudit) Append(_ context.Context, record events.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *memoryAudit) ListByAccount(_ context.Context, accountID ulid.ULID, limit int) ([]events.AuditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.AuditRecord
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		if r.records[i].AccountID.Compare(accountID) == 0 {
			out = append(out, r.records[i])
		}
	}
	return out, nil
}

type fixture struct {
	accounts *identitytest.MemoryAccounts
	bans     *identitytest.MemoryBans
	sessions *session.Manager
	audit    *memoryAudit
	sender   *mail.Capture
	clock    *clock.Fake
	engine   *engine.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		accounts: identitytest.NewMemoryAccounts(),
		bans:     identitytest.NewMemoryBans(),
		audit:    &memoryAudit{},
		sender:   &mail.Capture{},
		clock:    clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.sessions = session.NewManager(24*time.Hour, f.clock)
	emitter := events.AuditEmitter{Repo: f.audit}

	alg, err := credential.NewPBKDF2(1000)
	require.NoError(t, err)

	loginSvc, err := login.NewService(f.accounts, f.bans, identitytest.NewMemoryHistory(), f.sessions, emitter, f.clock, login.Config{
		RateLimitWindow: time.Second,
		Algorithm:       alg,
	})
	require.NoError(t, err)

	verifySvc := verification.NewService(f.accounts, verification.NewMemoryRepository(), f.sender, emitter, f.clock, verification.Config{
		Cooldown: time.Second,
		TTL:      time.Hour,
		BaseURL:  "https://id.example.com",
	})

	f.engine, err = engine.New(engine.Deps{
		Accounts:      f.accounts,
		Bans:          f.bans,
		Sessions:      f.sessions,
		Audit:         f.audit,
		Login:         loginSvc,
		Verifications: verifySvc,
		Emitter:       emitter,
		Clock:         f.clock,
		Algorithm:     alg,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) seedAccount(t *testing.T, kind identity.Kind, loginName string, perms permission.Set, emails ...string) *identity.Account {
	t.Helper()
	alg, err := credential.NewPBKDF2(1000)
	require.NoError(t, err)
	password, err := alg.CreateHashed(testPassword)
	require.NoError(t, err)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	var account *identity.Account
	if kind == identity.KindAdmin {
		account, err = identity.NewAdmin(loginName, loginName, emails[0], password, perms, now)
	} else {
		account, err = identity.NewUser(loginName, loginName, emails[0], password, now)
	}
	require.NoError(t, err)
	for _, email := range emails[1:] {
		require.NoError(t, account.AddEmail(email, now))
	}
	require.NoError(t, f.accounts.Create(context.Background(), account))
	return account
}

func (f *fixture) execute(principal *identity.Account, cmd engine.Command) engine.Response {
	return f.engine.Execute(context.Background(), &engine.Context{
		RequestID:  "req-" + ulid.Make().String()[:8],
		Principal:  principal,
		RemoteHost: "203.0.113.9",
		UserAgent:  "test-agent",
	}, cmd)
}

func errorResponse(t *testing.T, resp engine.Response) *engine.ErrorResponse {
	t.Helper()
	errResp, ok := resp.(*engine.ErrorResponse)
	require.True(t, ok, "expected error response, got %T", resp)
	return errResp
}

func TestExecute_LoginSuccess(t *testing.T) {
	f := newFixture(t)
	alice := f.seedAccount(t, identity.KindUser, "alice", permission.Empty(), "a@example.com")

	resp := f.execute(nil, engine.Login{Username: "alice", Password: testPassword})
	require.False(t, engine.IsError(resp))
	result := resp.(engine.LoginResult)
	assert.Equal(t, alice.ID, result.Principal.ID)
	assert.NotEmpty(t, result.SessionToken)

	resolved, err := f.sessions.Resolve(context.Background(), result.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, resolved.AccountID)
}

func TestExecute_LoginFailureIsErrorResponse(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, identity.KindUser, "alice", permission.Empty(), "a@example.com")

	resp := f.execute(nil, engine.Login{Username: "alice", Password: "wrong"})
	errResp := errorResponse(t, resp)
	assert.Equal(t, fault.CodeAuthentication, errResp.Code)
	assert.Equal(t, 401, errResp.HTTPStatus)
	assert.Equal(t, fault.BlameClient, errResp.Blame)
	assert.Equal(t, "invalid username or password", errResp.Message)
}

func TestExecute_UnauthenticatedCommandDenied(t *testing.T) {
	f := newFixture(t)

	resp := f.execute(nil, engine.GetAccount{})
	errResp := errorResponse(t, resp)
	assert.Equal(t, fault.CodeAuthentication, errResp.Code)
}

func TestExecute_ProtocolVersionMismatch(t *testing.T) {
	f := newFixture(t)
	alice := f.seedAccount(t, identity.KindUser, "alice", permission.Empty(), "a@example.com")

	resp := f.engine.Execute(context.Background(), &engine.Context{
		RequestID:       "req-1",
		Principal:       alice,
		ProtocolVersion: "2.0.0",
	}, engine.GetAccount{})
	errResp := errorResponse(t, resp)
	assert.Equal(t, fault.CodeProtocolError, errResp.Code)
}

func TestExecute_GetAccountSelfIsRedacted(t *testing.T) {
	f := newFixture(t)
	alice := f.seedAccount(t, identity.KindUser, "alice", permission.Empty(), "a@example.com")

	resp := f.execute(alice, engine.GetAccount{})
	require.False(t, engine.IsError(resp))
	account := resp.(engine.GetAccountResult).Account

	ok, err := account.Password.Check(f.clock.Now(), testPassword)
	require.NoError(t, err)
	assert.False(t, ok, "returned credential must be redacted")
}

func TestExecute_UserCannotReadOthers(t *testing.T) {
	f := newFixture(t)
	alice := f.seedAccount(t, identity.KindUser, "alice", permission.Empty(), "a@example.com")
	bob := f.seedAccount(t, identity.KindUser, "bob", permission.Empty(), "b@example.com")

	resp := f.execute(alice, engine.GetAccount{AccountID: bob.ID})
	errResp := errorResponse(t, resp)
	assert.Equal(t, fault.CodeSecurityPolicyDenied, errResp.Code)
	assert.Equal(t, 403, errResp.HTTPStatus)
}

func TestExecute_DeletedPrincipalIsAuthenticationFailure(t *testing.T) {
	f := newFixture(t)
	alice := f.seedAccount(t, identity.KindUser, "alice", permission.Empty(), "a@example.com")

	// The account vanishes while the session principal is still live.
	require.NoError(t, f.accounts.Delete(context.Background(), alice.ID))

	resp := f.execute(alice, engine.GetAccount{})
	errResp := errorResponse(t, resp)
	assert.Equal(t, fault.CodeAuthentication, errResp.Code)
	assert.Equal(t, 401, errResp.HTTPStatus)
	assert.Equal(t, fault.BlameClient, errResp.Blame)
}

func TestExecute_CreateUser(t *testing.T) {
	f := newFixture(t)
	admin := f.seedAccount(t, identity.KindAdmin, "root", permission.Of(permission.UserCreate), "root@example.com")

	resp := f.execute(admin, engine.CreateUser{
		LoginName:   "carol",
		DisplayName: "Carol",
		Email:       "carol@example.com",
		Password:    testPassword,
	})
	require.False(t, engine.IsError(resp))
	created := resp.(engine.CreateUserResult).Account
	assert.Equal(t, identity.KindUser, created.Kind)
	assert.Equal(t, []string{"carol@example.com"}, created.Emails)

	// The new user can log in.
	f.clock.Advance(time.Second)
	loginResp := f.execute(nil, engine.Login{Username: "carol", Password: testPassword})
	assert.False(t, engine.IsError(loginResp))
}

func TestExecute_CreateUserDeniedWithoutCapability(t *testing.T) {
	f := newFixture(t)
	admin := f.seedAccount(t, identity.KindAdmin, "root", permission.Empty(), "root@example.com")

	resp := f.execute(admin, engine.CreateUser{
		LoginName: "carol", DisplayName: "Carol", Email: "carol@example.com", Password: testPassword,
	})
	assert.Equal(t, fault.CodeSecurityPolicyDenied, errorResponse(t, resp).Code)
	assert.Equal(t, 1, f.accounts.Len(), "no account may be created on denial")
}

func TestExecute_CreateUserDuplicateLoginName(t *testing.T) {
	f := newFixture(t)
	admin := f.seedAccount(t, identity.KindAdmin, "root", permission.Of(permission.UserCreate), "root@example.com")
	f.seedAccount(t, identity.KindUser, "carol", permission.Empty(), "carol@example.com")

	resp := f.execute(admin, engine.CreateUser{
		LoginName: "carol", DisplayName: "Carol", Email: "other@example.com", Password: testPassword,
	})
	assert.Equal(t, fault.CodeAPIMisuse, errorResponse(t, resp).Code)
}

func TestExecute_CreateUserDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	admin := f.seedAccount(t, identity.KindAdmin, "root", permission.Of(permission.UserCreate), "root@example.com")
	f.seedAccount(t, identity.KindUser, "carol", permission.Empty(), "carol@example.com")

	resp := f.execute(admin, engine.CreateUser{
		LoginName: "dave", DisplayName: "Dave", Email: "carol@example.com", Password: testPassword,
	})
	assert.Equal(t, fault.CodeEmailDuplicate, errorResponse(t, resp).Code)
}

func TestExecute_CreateAdminCarriesPermissions(t *testing.T) {
	f := newFixture(t)
	root := f.seedAccount(t, identity.KindAdmin, "root", permission.Of(permission.AdminCreate), "root@example.com")

	resp := f.execute(root, engine.CreateAdmin{
		LoginName:   "operator",
		DisplayName: "Operator",
		Email:       "op@example.com",
		Password:    testPassword,
		Permissions: permission.Of(permission.UserBan),
	})
	require.False(t, engine.IsError(resp))
	created := resp.(engine.CreateAdminResult).Account
	assert.True(t, created.IsAdmin())
	assert.True(t, created.Permissions.Implies(permission.UserBan))
	assert.True(t, created.Permissions.Implies(permission.UserRead), "implied capability")
}

func TestExecute_BanLifecycle(t *testing.T) {
	f := newFixture(t)
	admin := f.seedAccount(t, identity.KindAdmin, "root", permission.Of(permission.UserBan), "root@example.com")
	target := f.seedAccount(t, identity.KindUser, "mallory", permission.Empty(), "m@example.com")

	// The target has a live session that the ban must revoke.
	loginResp := f.execute(nil, engine.Login{Username: "mallory", Password: testPassword})
	require.False(t, engine.IsError(loginResp))
	token := loginResp.(engine.LoginResult).SessionToken

	resp := f.execute(admin, engine.BanAccount{AccountID: target.ID, Reason: "abuse"})
	require.False(t, engine.IsError(resp))
	assert.Equal(t, "abuse", resp.(engine.BanAccountResult).Ban.Reason)

	_, err := f.sessions.Resolve(context.Background(), token)
	assert.Error(t, err, "ban revokes live sessions")

	f.clock.Advance(time.Second)
	denied := f.execute(nil, engine.Login{Username: "mallory", Password: testPassword})
	assert.Equal(t, fault.CodeBanned, errorResponse(t, denied).Code)

	unban := f.execute(admin, engine.UnbanAccount{AccountID: target.ID})
	require.False(t, engine.IsError(unban))

	f.clock.Advance(time.Second)
	allowed := f.execute(nil, engine.Login{Username: "mallory", Password: testPassword})
	assert.False(t, engine.IsError(allowed))
}

func TestExecute_DeleteAccount(t *testing.T) {
	f := newFixture(t)
	admin := f.seedAccount(t, identity.KindAdmin, "root", permission.Of(permission.UserDelete), "root@example.com")
	target := f.seedAccount(t, identity.KindUser, "mallory", permission.Empty(), "m@example.com")

	resp := f.execute(admin, engine.DeleteAccount{AccountID: target.ID})
	require.False(t, engine.IsError(resp))

	_, err := f.accounts.GetByID(context.Background(), target.ID)
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestExecute_SetAdminPermissions(t *testing.T) {
	f := newFixture(t)
	root := f.seedAccount(t, identity.KindAdmin, "root", permission.Of(permission.AdminWritePermissions), "root@example.com")
	operator := f.seedAccount(t, identity.KindAdmin, "operator", permission.Empty(), "op@example.com")

	resp := f.execute(root, engine.SetAdminPermissions{
		AccountID:   operator.ID,
		Permissions: permission.Of(permission.UserBan, permission.AuditRead),
	})
	require.False(t, engine.IsError(resp))
	updated := resp.(engine.SetAdminPermissionsResult).Account
	assert.True(t, updated.Permissions.Implies(permission.AuditRead))
}

func TestExecute_SetAdminPermissionsOnUserIsMisuse(t *testing.T) {
	f := newFixture(t)
	root := f.seedAccount(t, identity.KindAdmin, "root", permission.Of(permission.AdminWritePermissions), "root@example.com")
	user := f.seedAccount(t, identity.KindUser, "alice", permission.Empty(), "a@example.com")

	resp := f.execute(root, engine.SetAdminPermissions{AccountID: user.ID})
	assert.Equal(t, fault.CodeAPIMisuse, errorResponse(t, resp).Code)
}

func TestExecute_ChangePasswordSelf(t *testing.T) {
	f := newFixture(t)
	alice := f.seedAccount(t, identity.KindUser, "alice", permission.Empty(), "a@example.com")

	wrong := f.execute(alice, engine.ChangePassword{
		CurrentPassword: "not the password",
		NewPassword:     "a brand new passphrase",
	})
	assert.Equal(t, fault.CodePasswordResetMismatch, errorResponse(t, wrong).Code)

	resp := f.execute(alice, engine.ChangePassword{
		CurrentPassword: testPassword,
		NewPassword:     "a brand new passphrase",
	})
	require.False(t, engine.IsError(resp))

	loginResp := f.execute(nil, engine.Login{Username: "alice", Password: "a brand new passphrase"})
	assert.False(t, engine.IsError(loginResp))
}

func TestExecute_ChangePasswordTooShort(t *testing.T) {
	f := newFixture(t)
	alice := f.seedAccount(t, identity.KindUser, "alice", permission.Empty(), "a@example.com")

	resp := f.execute(alice, engine.ChangePassword{CurrentPassword: testPassword, NewPassword: "short"})
	errResp := errorResponse(t, resp)
	assert.Equal(t, fault.CodeAPIMisuse, errResp.Code)
	assert.NotEmpty(t, errResp.RemediatingAction)
}

func TestExecute_AdminPasswordResetRevokesSessions(t *testing.T) {
	f := newFixture(t)
	admin := f.seedAccount(t, identity.KindAdmin, "root", permission.Of(permission.UserWriteCredentials), "root@example.com")
	alice := f.seedAccount(t, identity.KindUser, "alice", permission.Empty(), "a@example.com")

	loginResp := f.execute(nil, engine.Login{Username: "alice", Password: testPassword})
	require.False(t, engine.IsError(loginResp))
	token := loginResp.(engine.LoginResult).SessionToken

	resp := f.execute(admin, engine.ChangePassword{
		AccountID:   alice.ID,
		NewPassword: "reset by the operator",
	})
	require.False(t, engine.IsError(resp))

	_, err := f.sessions.Resolve(context.Background(), token)
	assert.Error(t, err)
}

func TestExecute_EmailRemoveScenario(t *testing.T) {
	f := newFixture(t)
	alice := f.seedAccount(t, identity.KindUser, "alice", permission.Empty(), "a@example.com", "b@example.com")

	resp := f.execute(alice, engine.BeginEmailRemove{Email: "a@example.com"})
	require.False(t, engine.IsError(resp))
	begun := resp.(engine.BeginEmailRemoveResult)
	assert.Equal(t, f.clock.Now().Add(time.Hour), begun.ExpiresAt)

	// Two mails: deny-only to b@, permit+deny to a@. The permit token
	// only exists inside the mail to the target address.
	msgs := f.sender.Messages()
	require.Len(t, msgs, 2)
	var permitToken string
	for _, m := range msgs {
		if m.To == "a@example.com" {
			permitToken = extractToken(t, m.Body, "decision=permit&token=")
		}
	}
	require.NotEmpty(t, permitToken)

	resolved := f.execute(alice, engine.ResolveEmailVerification{
		Token: permitToken,
		Op:    verification.OpRemove,
	})
	require.False(t, engine.IsError(resolved))
	result := resolved.(engine.ResolveEmailVerificationResult)
	assert.Equal(t, verification.OutcomePermitted, result.Outcome)
	assert.Equal(t, []string{"b@example.com"}, result.Account.Emails)

	// Removing the now-last address is rejected.
	f.clock.Advance(time.Second)
	last := f.execute(alice, engine.BeginEmailRemove{Email: "b@example.com"})
	errResp := errorResponse(t, last)
	assert.Equal(t, fault.CodeVerificationFailed, errResp.Code)
	assert.Equal(t, 400, errResp.HTTPStatus)
}

func TestExecute_ServerFaultIsGenericized(t *testing.T) {
	f := newFixture(t)
	alice := f.seedAccount(t, identity.KindUser, "alice", permission.Empty(), "a@example.com")
	f.accounts.Err = fault.New(fault.CodeSQLError).
		With("query", "select secret").
		Errorf("connection reset by peer")

	resp := f.execute(alice, engine.GetAccount{})
	errResp := errorResponse(t, resp)
	assert.Equal(t, fault.CodeSQLError, errResp.Code)
	assert.Equal(t, "internal error", errResp.Message)
	assert.Empty(t, errResp.Attributes)
	assert.Equal(t, fault.BlameServer, errResp.Blame)
}

func TestExecute_ListAuditLog(t *testing.T) {
	f := newFixture(t)
	auditor := f.seedAccount(t, identity.KindAdmin, "auditor", permission.Of(permission.AuditRead), "audit@example.com")
	alice := f.seedAccount(t, identity.KindUser, "alice", permission.Empty(), "a@example.com")

	loginResp := f.execute(nil, engine.Login{Username: "alice", Password: testPassword})
	require.False(t, engine.IsError(loginResp))

	resp := f.execute(auditor, engine.ListAuditLog{AccountID: alice.ID})
	require.False(t, engine.IsError(resp))
	records := resp.(engine.ListAuditLogResult).Records
	require.NotEmpty(t, records)
	assert.Equal(t, events.TopicLoginSucceeded, records[0].Topic)
}

func TestExecute_ListAuditLogDeniedForUsers(t *testing.T) {
	f := newFixture(t)
	alice := f.seedAccount(t, identity.KindUser, "alice", permission.Empty(), "a@example.com")

	resp := f.execute(alice, engine.ListAuditLog{})
	assert.Equal(t, fault.CodeSecurityPolicyDenied, errorResponse(t, resp).Code)
}

func TestExecute_Logout(t *testing.T) {
	f := newFixture(t)
	alice := f.seedAccount(t, identity.KindUser, "alice", permission.Empty(), "a@example.com")

	loginResp := f.execute(nil, engine.Login{Username: "alice", Password: testPassword})
	require.False(t, engine.IsError(loginResp))
	token := loginResp.(engine.LoginResult).SessionToken
	sess, err := f.sessions.Resolve(context.Background(), token)
	require.NoError(t, err)

	resp := f.engine.Execute(context.Background(), &engine.Context{
		RequestID: "req-logout",
		Principal: alice,
		SessionID: sess.ID,
	}, engine.Logout{})
	require.False(t, engine.IsError(resp))

	_, err = f.sessions.Resolve(context.Background(), token)
	assert.Error(t, err)
}

func extractToken(t *testing.T, body, marker string) string {
	t.Helper()
	idx := -1
	for i := 0; i+len(marker) <= len(body); i++ {
		if body[i:i+len(marker)] == marker {
			idx = i + len(marker)
			break
		}
	}
	require.GreaterOrEqual(t, idx, 0, "marker %q not found in mail body", marker)
	end := idx
	for end < len(body) && isHexByte(body[end]) {
		end++
	}
	return body[idx:end]
}

func isHexByte(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f')
}
