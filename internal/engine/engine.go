// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/accountd/accountd/internal/clock"
	"github.com/accountd/accountd/internal/credential"
	"github.com/accountd/accountd/internal/events"
	"github.com/accountd/accountd/internal/fault"
	"github.com/accountd/accountd/internal/identity"
	"github.com/accountd/accountd/internal/login"
	"github.com/accountd/accountd/internal/permission"
	"github.com/accountd/accountd/internal/session"
	"github.com/accountd/accountd/internal/verification"
	"github.com/accountd/accountd/pkg/errutil"
)

var tracer = otel.Tracer("accountd/engine")

// MinPasswordLength is the minimum accepted plaintext length.
const MinPasswordLength = 8

// Audit list bounds.
const (
	DefaultAuditLimit = 50
	MaxAuditLimit     = 500
)

// Context bundles the per-request state a handler needs.
type Context struct {
	RequestID string
	// Principal is the authenticated account, or nil for Login.
	Principal *identity.Account
	// SessionID is the session the request arrived on, zero for Login.
	SessionID  ulid.ULID
	RemoteHost string
	UserAgent  string
	// ProtocolVersion is the client-declared catalog version; empty
	// means current.
	ProtocolVersion string
}

// Deps are the collaborators an Engine dispatches against.
type Deps struct {
	Accounts      identity.AccountRepository
	Bans          identity.BanRepository
	Sessions      session.Store
	Audit         events.AuditRepository
	Login         *login.Service
	Verifications *verification.Service
	Emitter       events.Emitter
	Clock         clock.Clock
	// Algorithm hashes new credentials. Defaults to PBKDF2 with the
	// default iteration count.
	Algorithm credential.Algorithm
	Logger    *slog.Logger
}

// Engine executes commands. It never commits: the caller owns the
// transaction and must skip the commit whenever IsError(resp) holds.
type Engine struct {
	accounts      identity.AccountRepository
	bans          identity.BanRepository
	sessions      session.Store
	audit         events.AuditRepository
	login         *login.Service
	verifications *verification.Service
	emitter       events.Emitter
	clock         clock.Clock
	algorithm     credential.Algorithm
	logger        *slog.Logger
}

// New wires an Engine from its collaborators.
func New(deps Deps) (*Engine, error) {
	switch {
	case deps.Accounts == nil:
		return nil, errors.New("engine: nil account repository")
	case deps.Bans == nil:
		return nil, errors.New("engine: nil ban repository")
	case deps.Sessions == nil:
		return nil, errors.New("engine: nil session store")
	case deps.Audit == nil:
		return nil, errors.New("engine: nil audit repository")
	case deps.Login == nil:
		return nil, errors.New("engine: nil login service")
	case deps.Verifications == nil:
		return nil, errors.New("engine: nil verification service")
	}
	if deps.Emitter == nil {
		deps.Emitter = events.Discard{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Algorithm == nil {
		alg, err := credential.NewPBKDF2(credential.DefaultIterations)
		if err != nil {
			return nil, err
		}
		deps.Algorithm = alg
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Engine{
		accounts:      deps.Accounts,
		bans:          deps.Bans,
		sessions:      deps.Sessions,
		audit:         deps.Audit,
		login:         deps.Login,
		verifications: deps.Verifications,
		emitter:       deps.Emitter,
		clock:         deps.Clock,
		algorithm:     deps.Algorithm,
		logger:        deps.Logger,
	}, nil
}

// Execute dispatches one command and normalizes every failure into
// the uniform error response. All store access happens inside the
// transaction carried in ctx.
func (e *Engine) Execute(ctx context.Context, ec *Context, cmd Command) Response {
	if cmd == nil {
		return Failure(ec.RequestID, fault.New(fault.CodeProtocolError).
			Errorf("missing command"))
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "engine.execute",
		trace.WithAttributes(
			attribute.String("command.name", cmd.Name()),
			attribute.String("request.id", ec.RequestID),
		),
	)
	defer span.End()

	resp := e.dispatch(ctx, ec, cmd)

	if errResp, ok := resp.(*ErrorResponse); ok {
		span.SetStatus(codes.Error, errResp.Code)
		span.SetAttributes(attribute.String("command.error_code", errResp.Code))
		recordDispatch(cmd.Name(), errResp.Code, time.Since(start))
	} else {
		span.SetStatus(codes.Ok, "")
		recordDispatch(cmd.Name(), StatusSuccess, time.Since(start))
	}
	return resp
}

// dispatch is the exhaustive match over the command catalog. The
// default arm fires before any handler for anything outside it.
func (e *Engine) dispatch(ctx context.Context, ec *Context, cmd Command) Response {
	if err := CheckProtocolVersion(ec.ProtocolVersion); err != nil {
		return Failure(ec.RequestID, err)
	}
	if _, isLogin := cmd.(Login); !isLogin && ec.Principal == nil {
		return Failure(ec.RequestID, fault.New(fault.CodeAuthentication).
			Errorf("authentication required"))
	}

	var (
		resp Response
		err  error
	)
	switch c := cmd.(type) {
	case Login:
		resp, err = e.handleLogin(ctx, ec, c)
	case Logout:
		resp, err = e.handleLogout(ctx, ec, c)
	case GetAccount:
		resp, err = e.handleGetAccount(ctx, ec, c)
	case CreateUser:
		resp, err = e.handleCreateUser(ctx, ec, c)
	case CreateAdmin:
		resp, err = e.handleCreateAdmin(ctx, ec, c)
	case DeleteAccount:
		resp, err = e.handleDeleteAccount(ctx, ec, c)
	case BanAccount:
		resp, err = e.handleBanAccount(ctx, ec, c)
	case UnbanAccount:
		resp, err = e.handleUnbanAccount(ctx, ec, c)
	case SetAdminPermissions:
		resp, err = e.handleSetAdminPermissions(ctx, ec, c)
	case ChangePassword:
		resp, err = e.handleChangePassword(ctx, ec, c)
	case BeginEmailAdd:
		resp, err = e.handleBeginEmail(ctx, ec, c.Email, verification.OpAdd)
	case BeginEmailRemove:
		resp, err = e.handleBeginEmail(ctx, ec, c.Email, verification.OpRemove)
	case ResolveEmailVerification:
		resp, err = e.handleResolveVerification(ctx, ec, c)
	case ListAuditLog:
		resp, err = e.handleListAuditLog(ctx, ec, c)
	default:
		return Failure(ec.RequestID, fault.New(fault.CodeProtocolError).
			With("command", cmd.Name()).
			Errorf("unrecognized command"))
	}
	if err != nil {
		if fault.Describe(fault.CodeOf(err)).Blame == fault.BlameServer {
			errutil.LogError(e.logger, "command failed", err)
		}
		return Failure(ec.RequestID, err)
	}
	return resp
}

func (e *Engine) handleLogin(ctx context.Context, ec *Context, cmd Login) (Response, error) {
	result, err := e.login.Login(ctx, ec.RequestID, ec.RemoteHost, ec.UserAgent, cmd.Username, cmd.Password, cmd.Metadata)
	if err != nil {
		return nil, err
	}
	return LoginResult{
		Principal:        result.Principal,
		SessionToken:     result.Token,
		SessionExpiresAt: result.Session.ExpiresAt,
	}, nil
}

func (e *Engine) handleLogout(ctx context.Context, ec *Context, _ Logout) (Response, error) {
	if ec.SessionID.Compare(ulid.ULID{}) != 0 {
		if err := e.sessions.Delete(ctx, ec.SessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
	}
	e.emit(ctx, ec, events.TopicLogout, nil)
	return LogoutResult{}, nil
}

func (e *Engine) handleGetAccount(ctx context.Context, ec *Context, cmd GetAccount) (Response, error) {
	target, err := e.loadTarget(ctx, ec, cmd.AccountID)
	if err != nil {
		return nil, err
	}
	if err := authorize(ec.Principal, Action{
		Verb:       VerbReadAccount,
		TargetID:   target.ID,
		TargetKind: target.Kind,
	}); err != nil {
		return nil, err
	}
	return GetAccountResult{Account: target.Redacted()}, nil
}

func (e *Engine) handleCreateUser(ctx context.Context, ec *Context, cmd CreateUser) (Response, error) {
	if err := authorize(ec.Principal, Action{
		Verb:       VerbCreateAccount,
		TargetKind: identity.KindUser,
	}); err != nil {
		return nil, err
	}
	account, err := e.createAccount(ctx, ec, identity.KindUser, cmd.LoginName, cmd.DisplayName, cmd.Email, cmd.Password, permission.Empty())
	if err != nil {
		return nil, err
	}
	return CreateUserResult{Account: account.Redacted()}, nil
}

func (e *Engine) handleCreateAdmin(ctx context.Context, ec *Context, cmd CreateAdmin) (Response, error) {
	if err := authorize(ec.Principal, Action{
		Verb:       VerbCreateAccount,
		TargetKind: identity.KindAdmin,
	}); err != nil {
		return nil, err
	}
	account, err := e.createAccount(ctx, ec, identity.KindAdmin, cmd.LoginName, cmd.DisplayName, cmd.Email, cmd.Password, cmd.Permissions)
	if err != nil {
		return nil, err
	}
	return CreateAdminResult{Account: account.Redacted()}, nil
}

func (e *Engine) createAccount(ctx context.Context, ec *Context, kind identity.Kind, loginName, displayName, email, password string, perms permission.Set) (*identity.Account, error) {
	if err := checkPasswordStrength(password); err != nil {
		return nil, err
	}
	if _, err := e.accounts.GetByLoginName(ctx, loginName); err == nil {
		return nil, fault.New(fault.CodeAPIMisuse).
			With("login_name", loginName).
			Errorf("login name is already taken")
	} else if !errors.Is(err, identity.ErrNotFound) {
		return nil, err
	}
	if _, err := e.accounts.GetByEmail(ctx, email); err == nil {
		return nil, fault.New(fault.CodeEmailDuplicate).
			With("email", email).
			Errorf("email address is already registered")
	} else if !errors.Is(err, identity.ErrNotFound) {
		return nil, err
	}

	hashed, err := e.algorithm.CreateHashed(password)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	var account *identity.Account
	if kind == identity.KindAdmin {
		account, err = identity.NewAdmin(loginName, displayName, email, hashed, perms, now)
	} else {
		account, err = identity.NewUser(loginName, displayName, email, hashed, now)
	}
	if err != nil {
		return nil, err
	}
	if err := e.accounts.Create(ctx, account); err != nil {
		return nil, err
	}

	e.emit(ctx, ec, events.TopicAccountCreated, map[string]any{
		"account_id": account.ID.String(),
		"kind":       string(account.Kind),
		"login_name": account.LoginName,
	})
	return account, nil
}

func (e *Engine) handleDeleteAccount(ctx context.Context, ec *Context, cmd DeleteAccount) (Response, error) {
	target, err := e.loadTarget(ctx, ec, cmd.AccountID)
	if err != nil {
		return nil, err
	}
	if err := authorize(ec.Principal, Action{
		Verb:       VerbDeleteAccount,
		TargetID:   target.ID,
		TargetKind: target.Kind,
	}); err != nil {
		return nil, err
	}
	if err := e.accounts.Delete(ctx, target.ID); err != nil {
		return nil, err
	}
	if err := e.sessions.DeleteByAccount(ctx, target.ID); err != nil {
		return nil, err
	}
	e.emit(ctx, ec, events.TopicAccountDeleted, map[string]any{
		"account_id": target.ID.String(),
		"login_name": target.LoginName,
	})
	return DeleteAccountResult{AccountID: target.ID}, nil
}

func (e *Engine) handleBanAccount(ctx context.Context, ec *Context, cmd BanAccount) (Response, error) {
	target, err := e.loadTarget(ctx, ec, cmd.AccountID)
	if err != nil {
		return nil, err
	}
	if err := authorize(ec.Principal, Action{
		Verb:       VerbBanAccount,
		TargetID:   target.ID,
		TargetKind: target.Kind,
	}); err != nil {
		return nil, err
	}

	ban := &identity.Ban{
		TargetID:  target.ID,
		Reason:    cmd.Reason,
		ExpiresAt: cmd.ExpiresAt,
		CreatedAt: e.clock.Now(),
	}
	if err := e.bans.Upsert(ctx, ban); err != nil {
		return nil, err
	}
	// A banned account loses its live sessions immediately.
	if err := e.sessions.DeleteByAccount(ctx, target.ID); err != nil {
		return nil, err
	}

	attrs := map[string]any{
		"account_id": target.ID.String(),
		"reason":     cmd.Reason,
	}
	if cmd.ExpiresAt != nil {
		attrs["expires_at"] = cmd.ExpiresAt.Format(time.RFC3339)
	}
	e.emit(ctx, ec, events.TopicAccountBanned, attrs)
	return BanAccountResult{Ban: ban}, nil
}

func (e *Engine) handleUnbanAccount(ctx context.Context, ec *Context, cmd UnbanAccount) (Response, error) {
	target, err := e.loadTarget(ctx, ec, cmd.AccountID)
	if err != nil {
		return nil, err
	}
	if err := authorize(ec.Principal, Action{
		Verb:       VerbUnbanAccount,
		TargetID:   target.ID,
		TargetKind: target.Kind,
	}); err != nil {
		return nil, err
	}
	if err := e.bans.Delete(ctx, target.ID); err != nil {
		return nil, err
	}
	e.emit(ctx, ec, events.TopicAccountUnbanned, map[string]any{
		"account_id": target.ID.String(),
	})
	return UnbanAccountResult{AccountID: target.ID}, nil
}

func (e *Engine) handleSetAdminPermissions(ctx context.Context, ec *Context, cmd SetAdminPermissions) (Response, error) {
	target, err := e.loadTarget(ctx, ec, cmd.AccountID)
	if err != nil {
		return nil, err
	}
	if !target.IsAdmin() {
		return nil, fault.New(fault.CodeAPIMisuse).
			With("account_id", target.ID.String()).
			Errorf("target account is not an administrator")
	}
	if err := authorize(ec.Principal, Action{
		Verb:       VerbWritePermissions,
		TargetID:   target.ID,
		TargetKind: target.Kind,
	}); err != nil {
		return nil, err
	}

	target.Permissions = cmd.Permissions
	target.UpdatedAt = e.clock.Now()
	if err := e.accounts.Update(ctx, target); err != nil {
		return nil, err
	}
	e.emit(ctx, ec, events.TopicPermissionsChanged, map[string]any{
		"account_id":  target.ID.String(),
		"permissions": cmd.Permissions.String(),
	})
	return SetAdminPermissionsResult{Account: target.Redacted()}, nil
}

func (e *Engine) handleChangePassword(ctx context.Context, ec *Context, cmd ChangePassword) (Response, error) {
	if err := checkPasswordStrength(cmd.NewPassword); err != nil {
		return nil, err
	}

	target, err := e.loadTarget(ctx, ec, cmd.AccountID)
	if err != nil {
		return nil, err
	}
	self := target.ID.Compare(ec.Principal.ID) == 0

	if err := authorize(ec.Principal, Action{
		Verb:       VerbWriteCredentials,
		TargetID:   target.ID,
		TargetKind: target.Kind,
	}); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	if self {
		ok, err := target.Password.Check(now, cmd.CurrentPassword)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fault.New(fault.CodePasswordResetMismatch).
				Errorf("current password does not match")
		}
	}

	hashed, err := e.algorithm.CreateHashed(cmd.NewPassword)
	if err != nil {
		return nil, err
	}
	if err := e.accounts.UpdatePassword(ctx, target.ID, hashed); err != nil {
		return nil, err
	}
	// An administrative reset invalidates the target's sessions; a
	// self-service change keeps the current one.
	if !self {
		if err := e.sessions.DeleteByAccount(ctx, target.ID); err != nil {
			return nil, err
		}
	}

	e.emit(ctx, ec, events.TopicPasswordChanged, map[string]any{
		"account_id": target.ID.String(),
		"by_self":    self,
	})
	return ChangePasswordResult{AccountID: target.ID}, nil
}

func (e *Engine) handleBeginEmail(ctx context.Context, ec *Context, email string, op verification.Operation) (Response, error) {
	if err := authorize(ec.Principal, Action{
		Verb:       VerbWriteEmail,
		TargetID:   ec.Principal.ID,
		TargetKind: ec.Principal.Kind,
	}); err != nil {
		return nil, err
	}
	issued, err := e.verifications.Begin(ctx, ec.Principal, email, op, ec.RequestID)
	if err != nil {
		return nil, err
	}
	if op == verification.OpRemove {
		return BeginEmailRemoveResult{
			VerificationID: issued.Record.ID,
			ExpiresAt:      issued.Record.ExpiresAt,
		}, nil
	}
	return BeginEmailAddResult{
		VerificationID: issued.Record.ID,
		ExpiresAt:      issued.Record.ExpiresAt,
	}, nil
}

func (e *Engine) handleResolveVerification(ctx context.Context, ec *Context, cmd ResolveEmailVerification) (Response, error) {
	outcome, err := e.verifications.Resolve(ctx, ec.Principal, cmd.Token, cmd.Op, ec.RequestID)
	if err != nil {
		return nil, err
	}
	return ResolveEmailVerificationResult{
		Outcome: outcome,
		Account: ec.Principal.Redacted(),
	}, nil
}

func (e *Engine) handleListAuditLog(ctx context.Context, ec *Context, cmd ListAuditLog) (Response, error) {
	if err := authorize(ec.Principal, Action{Verb: VerbReadAudit}); err != nil {
		return nil, err
	}

	target := cmd.AccountID
	if target.Compare(ulid.ULID{}) == 0 {
		target = ec.Principal.ID
	}
	limit := cmd.Limit
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	if limit > MaxAuditLimit {
		limit = MaxAuditLimit
	}

	records, err := e.audit.ListByAccount(ctx, target, limit)
	if err != nil {
		return nil, err
	}
	return ListAuditLogResult{Records: records}, nil
}

// loadTarget resolves a command's target account. A zero id targets
// the caller. Users probing other accounts are denied before the
// lookup so the denial does not reveal whether the account exists.
func (e *Engine) loadTarget(ctx context.Context, ec *Context, id ulid.ULID) (*identity.Account, error) {
	if id.Compare(ulid.ULID{}) == 0 || id.Compare(ec.Principal.ID) == 0 {
		account, err := e.accounts.GetByID(ctx, ec.Principal.ID)
		if err != nil {
			// The caller's row can vanish mid-session when the account
			// is deleted concurrently; the session is dead, not the
			// server.
			if errors.Is(err, identity.ErrNotFound) {
				return nil, fault.New(fault.CodeAuthentication).
					Errorf("invalid session")
			}
			return nil, err
		}
		return account, nil
	}
	if !ec.Principal.IsAdmin() {
		return nil, fault.New(fault.CodeSecurityPolicyDenied).
			Errorf("operation not permitted")
	}
	account, err := e.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, fault.New(fault.CodeAPIMisuse).
				With("account_id", id.String()).
				Errorf("no such account")
		}
		return nil, err
	}
	return account, nil
}

func (e *Engine) emit(ctx context.Context, ec *Context, topic string, attrs map[string]any) {
	var accountID ulid.ULID
	if ec.Principal != nil {
		accountID = ec.Principal.ID
	}
	e.emitter.Emit(ctx, events.Event{
		ID:         ulid.Make(),
		Topic:      topic,
		AccountID:  accountID,
		RequestID:  ec.RequestID,
		Attributes: attrs,
		OccurredAt: e.clock.Now(),
	})
}

func checkPasswordStrength(plaintext string) error {
	if len(plaintext) < MinPasswordLength {
		return fault.New(fault.CodeAPIMisuse).
			With("hint", "choose a password of at least 8 characters").
			Errorf("password is too short")
	}
	return nil
}
