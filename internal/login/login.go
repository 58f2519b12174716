// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

// Package login authenticates principals: remote-host rate limiting,
// ban enforcement, expiration-aware credential checks, login history,
// and session creation.
package login

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/accountd/accountd/internal/clock"
	"github.com/accountd/accountd/internal/credential"
	"github.com/accountd/accountd/internal/events"
	"github.com/accountd/accountd/internal/fault"
	"github.com/accountd/accountd/internal/identity"
	"github.com/accountd/accountd/internal/ratelimit"
	"github.com/accountd/accountd/internal/session"
)

// failedLoginMessage is deliberately identical for an unknown login
// name and a wrong password, so callers cannot enumerate accounts.
const failedLoginMessage = "invalid username or password"

// Defaults for the service configuration.
const (
	DefaultRateLimitWindow   = time.Second
	DefaultMaxHistoryEntries = 100
)

// SessionIssuer creates sessions for authenticated principals.
// Implemented by session.Manager and the postgres session store.
type SessionIssuer interface {
	Issue(ctx context.Context, accountID ulid.ULID, remoteHost, userAgent string) (*session.Session, string, error)
}

// LoggedIn is the result of a successful login. Principal is always
// redacted; the stored credential never leaves this package.
type LoggedIn struct {
	Principal *identity.Account
	Session   *session.Session
	Token     string
}

// Config tunes the login service.
type Config struct {
	// RateLimitWindow is the minimum interval between attempts per
	// remote host.
	RateLimitWindow time.Duration
	// MaxHistoryEntries caps the per-account login history.
	MaxHistoryEntries int
	// Algorithm hashes the decoy credential checked for unknown login
	// names, keeping the unknown-name path as slow as the wrong-password
	// path. Defaults to PBKDF2 with the default iteration count.
	Algorithm credential.Algorithm
}

// Service authenticates principals.
type Service struct {
	accounts   identity.AccountRepository
	bans       identity.BanRepository
	history    identity.LoginHistoryRepository
	sessions   SessionIssuer
	emitter    events.Emitter
	clock      clock.Clock
	limiter    *ratelimit.Limiter
	maxHistory int
	decoy      credential.Password
}

// NewService wires a login service. Zero config values fall back to
// the package defaults; a nil clk uses the real clock.
func NewService(
	accounts identity.AccountRepository,
	bans identity.BanRepository,
	history identity.LoginHistoryRepository,
	sessions SessionIssuer,
	emitter events.Emitter,
	clk clock.Clock,
	cfg Config,
) (*Service, error) {
	if clk == nil {
		clk = clock.Real{}
	}
	if emitter == nil {
		emitter = events.Discard{}
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = DefaultRateLimitWindow
	}
	if cfg.MaxHistoryEntries <= 0 {
		cfg.MaxHistoryEntries = DefaultMaxHistoryEntries
	}
	alg := cfg.Algorithm
	if alg == nil {
		var err error
		alg, err = credential.NewPBKDF2(credential.DefaultIterations)
		if err != nil {
			return nil, err
		}
	}
	decoy, err := alg.CreateHashed(ulid.Make().String())
	if err != nil {
		return nil, err
	}
	return &Service{
		accounts:   accounts,
		bans:       bans,
		history:    history,
		sessions:   sessions,
		emitter:    emitter,
		clock:      clk,
		limiter:    ratelimit.NewLimiter(cfg.RateLimitWindow, clk),
		maxHistory: cfg.MaxHistoryEntries,
		decoy:      decoy,
	}, nil
}

// Login authenticates username/password from remoteHost. Checks run
// in a fixed short-circuiting order: rate limit, principal lookup, ban,
// credential. Free-form metadata is recorded on the emitted events
// only.
func (s *Service) Login(ctx context.Context, requestID, remoteHost, userAgent, username, password string, metadata map[string]string) (*LoggedIn, error) {
	if wait, ok := s.limiter.Attempt(remoteHost); !ok {
		return nil, fault.New(fault.CodeRateLimitExceeded).
			With("wait", wait.String()).
			Errorf("login attempted too frequently")
	}

	now := s.clock.Now()

	account, err := s.accounts.GetByLoginName(ctx, username)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			// Burn a hash check so the unknown-name path costs the same
			// as a wrong password.
			_, _ = s.decoy.Check(now, password)
			return nil, s.authFailure(ctx, ulid.ULID{}, requestID, remoteHost, username, metadata, now)
		}
		return nil, err
	}

	ban, err := s.bans.Get(ctx, account.ID)
	switch {
	case err == nil:
		if ban.ActiveAt(now) {
			builder := fault.New(fault.CodeBanned).
				With("reason", ban.Reason)
			if ban.ExpiresAt != nil {
				builder = builder.With("expires_at", ban.ExpiresAt)
			}
			return nil, builder.Errorf("account is banned")
		}
	case errors.Is(err, identity.ErrNotFound):
		// No ban on record.
	default:
		return nil, err
	}

	ok, err := account.Password.Check(now, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.authFailure(ctx, account.ID, requestID, remoteHost, username, metadata, now)
	}

	record := &identity.LoginRecord{
		ID:         ulid.Make(),
		AccountID:  account.ID,
		RemoteHost: remoteHost,
		UserAgent:  userAgent,
		LoggedInAt: now,
	}
	if err := s.history.Record(ctx, record, s.maxHistory); err != nil {
		return nil, err
	}

	sess, token, err := s.sessions.Issue(ctx, account.ID, remoteHost, userAgent)
	if err != nil {
		return nil, err
	}

	s.emitter.Emit(ctx, events.Event{
		ID:         ulid.Make(),
		Topic:      events.TopicLoginSucceeded,
		AccountID:  account.ID,
		RequestID:  requestID,
		Attributes: eventAttrs(remoteHost, username, metadata),
		OccurredAt: now,
	})

	return &LoggedIn{
		Principal: account.Redacted(),
		Session:   sess,
		Token:     token,
	}, nil
}

// authFailure emits the failed-login event and returns the uniform
// authentication error.
func (s *Service) authFailure(ctx context.Context, accountID ulid.ULID, requestID, remoteHost, username string, metadata map[string]string, now time.Time) error {
	s.emitter.Emit(ctx, events.Event{
		ID:         ulid.Make(),
		Topic:      events.TopicLoginFailed,
		AccountID:  accountID,
		RequestID:  requestID,
		Attributes: eventAttrs(remoteHost, username, metadata),
		OccurredAt: now,
	})
	return fault.New(fault.CodeAuthentication).Errorf("%s", failedLoginMessage)
}

func eventAttrs(remoteHost, username string, metadata map[string]string) map[string]any {
	attrs := map[string]any{
		"remote_host": remoteHost,
		"username":    username,
	}
	for k, v := range metadata {
		attrs["meta."+k] = v
	}
	return attrs
}
