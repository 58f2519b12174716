// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package verification_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountd/accountd/internal/clock"
	"github.com/accountd/accountd/internal/credential"
	"github.com/accountd/accountd/internal/events"
	"github.com/accountd/accountd/internal/fault"
	"github.com/accountd/accountd/internal/identity"
	"github.com/accountd/accountd/internal/identity/identitytest"
	"github.com/accountd/accountd/internal/mail"
	"github.com/accountd/accountd/internal/verification"
	"github.com/accountd/accountd/pkg/errutil"
)

type fixture struct {
	accounts *identitytest.MemoryAccounts
	records  *verification.MemoryRepository
	sender   *mail.Capture
	emitter  *events.Capture
	clock    *clock.Fake
	service  *verification.Service
}

func newFixture(t *testing.T, seed ...*identity.Account) *fixture {
	t.Helper()
	f := &fixture{
		accounts: identitytest.NewMemoryAccounts(seed...),
		records:  verification.NewMemoryRepository(),
		sender:   &mail.Capture{},
		emitter:  &events.Capture{},
		clock:    clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.service = verification.NewService(f.accounts, f.records, f.sender, f.emitter, f.clock, verification.Config{
		Cooldown: time.Minute,
		TTL:      time.Hour,
		BaseURL:  "https://id.example.com",
	})
	return f
}

func newUser(t *testing.T, loginName string, emails ...string) *identity.Account {
	t.Helper()
	alg, err := credential.NewPBKDF2(1000)
	require.NoError(t, err)
	password, err := alg.CreateHashed("hunter2hunter2")
	require.NoError(t, err)
	user, err := identity.NewUser(loginName, loginName, emails[0], password,
		time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	for _, email := range emails[1:] {
		require.NoError(t, user.AddEmail(email, user.CreatedAt))
	}
	return user
}

func TestBegin_AddIssuesRecordAndMails(t *testing.T) {
	user := newUser(t, "alice", "a@example.com", "b@example.com")
	f := newFixture(t, user)

	issued, err := f.service.Begin(context.Background(), user, "new@example.com", verification.OpAdd, "req-1")
	require.NoError(t, err)
	assert.Equal(t, verification.OpAdd, issued.Record.Op)
	assert.Equal(t, user.ID, issued.Record.UserID)
	assert.NotEqual(t, issued.PermitToken, issued.DenyToken)
	assert.Equal(t, f.clock.Now().Add(time.Hour), issued.Record.ExpiresAt)
	assert.Equal(t, 1, f.records.Len())

	// Deny-only mail to both existing addresses, permit+deny to the
	// target.
	msgs := f.sender.Messages()
	require.Len(t, msgs, 3)
	byTo := make(map[string]mail.Message, len(msgs))
	for _, m := range msgs {
		byTo[m.To] = m
	}
	for _, other := range []string{"a@example.com", "b@example.com"} {
		body := byTo[other].Body
		assert.Contains(t, body, issued.DenyToken)
		assert.NotContains(t, body, issued.PermitToken)
	}
	target := byTo["new@example.com"].Body
	assert.Contains(t, target, issued.PermitToken)
	assert.Contains(t, target, issued.DenyToken)

	assert.Equal(t, []string{events.TopicVerificationBegun}, f.emitter.Topics())
}

func TestBegin_AddRejectsDuplicateAnywhere(t *testing.T) {
	alice := newUser(t, "alice", "a@example.com")
	bob := newUser(t, "bob", "b@example.com")
	f := newFixture(t, alice, bob)

	// The address belongs to another account entirely.
	_, err := f.service.Begin(context.Background(), alice, "b@example.com", verification.OpAdd, "req-1")
	errutil.AssertErrorCode(t, err, fault.CodeEmailDuplicate)
	assert.Empty(t, f.sender.Messages())
}

func TestBegin_RemoveRejectsNonOwned(t *testing.T) {
	user := newUser(t, "alice", "a@example.com", "b@example.com")
	f := newFixture(t, user)

	_, err := f.service.Begin(context.Background(), user, "stranger@example.com", verification.OpRemove, "req-1")
	errutil.AssertErrorCode(t, err, fault.CodeEmailNonexistent)
}

func TestBegin_RemoveRejectsLastEmail(t *testing.T) {
	user := newUser(t, "alice", "a@example.com")
	f := newFixture(t, user)

	_, err := f.service.Begin(context.Background(), user, "a@example.com", verification.OpRemove, "req-1")
	errutil.AssertErrorCode(t, err, fault.CodeVerificationFailed)
}

func TestBegin_EnforcesCooldown(t *testing.T) {
	user := newUser(t, "alice", "a@example.com", "b@example.com")
	f := newFixture(t, user)
	ctx := context.Background()

	_, err := f.service.Begin(ctx, user, "new@example.com", verification.OpAdd, "req-1")
	require.NoError(t, err)

	_, err = f.service.Begin(ctx, user, "other@example.com", verification.OpAdd, "req-2")
	errutil.AssertErrorCode(t, err, fault.CodeRateLimitExceeded)
	errutil.AssertErrorContext(t, err, "wait", "1m0s")

	f.clock.Advance(time.Minute)
	_, err = f.service.Begin(ctx, user, "other@example.com", verification.OpAdd, "req-3")
	require.NoError(t, err)
}

func TestBegin_MailFailureAborts(t *testing.T) {
	user := newUser(t, "alice", "a@example.com", "b@example.com")
	f := newFixture(t, user)
	f.sender.Err = assert.AnError

	_, err := f.service.Begin(context.Background(), user, "new@example.com", verification.OpAdd, "req-1")
	errutil.AssertErrorCode(t, err, fault.CodeMailSystemFailure)
}

func TestResolve_PermitAddAppliesMutation(t *testing.T) {
	user := newUser(t, "alice", "a@example.com")
	f := newFixture(t, user)
	ctx := context.Background()

	issued, err := f.service.Begin(ctx, user, "new@example.com", verification.OpAdd, "req-1")
	require.NoError(t, err)

	outcome, err := f.service.Resolve(ctx, user, issued.PermitToken, verification.OpAdd, "req-2")
	require.NoError(t, err)
	assert.Equal(t, verification.OutcomePermitted, outcome)

	stored, err := f.accounts.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "new@example.com"}, stored.Emails)
	assert.Equal(t, 0, f.records.Len(), "record deleted on resolution")
}

func TestResolve_DenyDoesNotMutate(t *testing.T) {
	user := newUser(t, "alice", "a@example.com")
	f := newFixture(t, user)
	ctx := context.Background()

	issued, err := f.service.Begin(ctx, user, "new@example.com", verification.OpAdd, "req-1")
	require.NoError(t, err)

	outcome, err := f.service.Resolve(ctx, user, issued.DenyToken, verification.OpAdd, "req-2")
	require.NoError(t, err)
	assert.Equal(t, verification.OutcomeDenied, outcome)

	stored, err := f.accounts.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com"}, stored.Emails)
	assert.Equal(t, 0, f.records.Len(), "record deleted even on deny")
}

func TestResolve_SecondRedemptionIsNonexistent(t *testing.T) {
	user := newUser(t, "alice", "a@example.com")
	f := newFixture(t, user)
	ctx := context.Background()

	issued, err := f.service.Begin(ctx, user, "new@example.com", verification.OpAdd, "req-1")
	require.NoError(t, err)

	_, err = f.service.Resolve(ctx, user, issued.PermitToken, verification.OpAdd, "req-2")
	require.NoError(t, err)

	_, err = f.service.Resolve(ctx, user, issued.PermitToken, verification.OpAdd, "req-3")
	errutil.AssertErrorCode(t, err, fault.CodeVerificationNonexistent)
	_, err = f.service.Resolve(ctx, user, issued.DenyToken, verification.OpAdd, "req-4")
	errutil.AssertErrorCode(t, err, fault.CodeVerificationNonexistent)
}

func TestResolve_WrongOwnerFails(t *testing.T) {
	alice := newUser(t, "alice", "a@example.com")
	mallory := newUser(t, "mallory", "m@example.com")
	f := newFixture(t, alice, mallory)
	ctx := context.Background()

	issued, err := f.service.Begin(ctx, alice, "new@example.com", verification.OpAdd, "req-1")
	require.NoError(t, err)

	_, err = f.service.Resolve(ctx, mallory, issued.PermitToken, verification.OpAdd, "req-2")
	errutil.AssertErrorCode(t, err, fault.CodeVerificationFailed)
	assert.Equal(t, 1, f.records.Len(), "failed checks do not delete the record")
}

func TestResolve_ExpiredFails(t *testing.T) {
	user := newUser(t, "alice", "a@example.com")
	f := newFixture(t, user)
	ctx := context.Background()

	issued, err := f.service.Begin(ctx, user, "new@example.com", verification.OpAdd, "req-1")
	require.NoError(t, err)

	f.clock.Advance(time.Hour + time.Second)
	_, err = f.service.Resolve(ctx, user, issued.PermitToken, verification.OpAdd, "req-2")
	errutil.AssertErrorCode(t, err, fault.CodeVerificationFailed)
}

func TestResolve_WrongOperationTagFails(t *testing.T) {
	user := newUser(t, "alice", "a@example.com")
	f := newFixture(t, user)
	ctx := context.Background()

	issued, err := f.service.Begin(ctx, user, "new@example.com", verification.OpAdd, "req-1")
	require.NoError(t, err)

	_, err = f.service.Resolve(ctx, user, issued.PermitToken, verification.OpRemove, "req-2")
	errutil.AssertErrorCode(t, err, fault.CodeVerificationFailed)
}

func TestRemoveScenario(t *testing.T) {
	// User with [a@x, b@x]: removing a@x succeeds via the permit token,
	// then removing the now-last b@x is rejected.
	user := newUser(t, "alice", "a@example.com", "b@example.com")
	f := newFixture(t, user)
	ctx := context.Background()

	issued, err := f.service.Begin(ctx, user, "a@example.com", verification.OpRemove, "req-1")
	require.NoError(t, err)

	msgs := f.sender.Messages()
	require.Len(t, msgs, 2)
	byTo := make(map[string]mail.Message, len(msgs))
	for _, m := range msgs {
		byTo[m.To] = m
	}
	assert.Contains(t, byTo["b@example.com"].Body, issued.DenyToken)
	assert.NotContains(t, byTo["b@example.com"].Body, issued.PermitToken)
	assert.Contains(t, byTo["a@example.com"].Body, issued.PermitToken)

	outcome, err := f.service.Resolve(ctx, user, issued.PermitToken, verification.OpRemove, "req-2")
	require.NoError(t, err)
	assert.Equal(t, verification.OutcomePermitted, outcome)

	stored, err := f.accounts.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b@example.com"}, stored.Emails)

	f.clock.Advance(time.Minute)
	_, err = f.service.Begin(ctx, stored, "b@example.com", verification.OpRemove, "req-3")
	errutil.AssertErrorCode(t, err, fault.CodeVerificationFailed)
}

func TestTokenHelpers(t *testing.T) {
	token, hash, err := verification.GenerateToken()
	require.NoError(t, err)
	assert.Len(t, token, 64)
	assert.True(t, verification.VerifyToken(token, hash))
	assert.False(t, verification.VerifyToken(strings.Repeat("0", 64), hash))
}
