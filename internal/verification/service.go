// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package verification

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/accountd/accountd/internal/clock"
	"github.com/accountd/accountd/internal/events"
	"github.com/accountd/accountd/internal/fault"
	"github.com/accountd/accountd/internal/identity"
	"github.com/accountd/accountd/internal/mail"
	"github.com/accountd/accountd/internal/ratelimit"
)

// Defaults for the service configuration.
const (
	DefaultCooldown = time.Minute
	DefaultTTL      = 24 * time.Hour
)

// Outcome is the terminal state of a resolved verification.
type Outcome string

// Resolution outcomes.
const (
	OutcomePermitted Outcome = "permitted"
	OutcomeDenied    Outcome = "denied"
)

// Config tunes the verification service.
type Config struct {
	// Cooldown is the minimum interval between begin attempts per user.
	Cooldown time.Duration
	// TTL is how long issued tokens stay redeemable.
	TTL time.Duration
	// BaseURL prefixes the links placed in notification mails.
	BaseURL string
}

// Issued is the result of a successful Begin. The plaintext tokens are
// surfaced for the notification mails only and must never appear in a
// command response.
type Issued struct {
	Record      *Verification
	PermitToken string
	DenyToken   string
}

// Service issues and resolves email verifications.
type Service struct {
	accounts      identity.AccountRepository
	verifications Repository
	sender        mail.Sender
	emitter       events.Emitter
	clock         clock.Clock
	cooldown      *ratelimit.Limiter
	ttl           time.Duration
	baseURL       string
}

// NewService wires a verification service. Zero config values fall
// back to the package defaults; a nil clk uses the real clock.
func NewService(
	accounts identity.AccountRepository,
	verifications Repository,
	sender mail.Sender,
	emitter events.Emitter,
	clk clock.Clock,
	cfg Config,
) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &Service{
		accounts:      accounts,
		verifications: verifications,
		sender:        sender,
		emitter:       emitter,
		clock:         clk,
		cooldown:      ratelimit.NewLimiter(cfg.Cooldown, clk),
		ttl:           cfg.TTL,
		baseURL:       cfg.BaseURL,
	}
}

// Begin starts a verification for one email mutation on user. It
// enforces the per-user cooldown, validates the operation against the
// current email set, persists the record, and mails a deny-only link
// to every other registered address plus a permit+deny link to the
// target address. Begin blocks until every notification is delivered.
func (s *Service) Begin(ctx context.Context, user *identity.Account, email string, op Operation, requestID string) (*Issued, error) {
	if !op.Valid() {
		return nil, fault.New(fault.CodeAPIMisuse).
			With("op", string(op)).
			Errorf("unknown verification operation")
	}
	if err := identity.ValidateEmail(email); err != nil {
		return nil, err
	}

	if wait, ok := s.cooldown.Attempt(user.ID.String()); !ok {
		return nil, fault.New(fault.CodeRateLimitExceeded).
			With("wait", wait.String()).
			Errorf("verification attempted too frequently")
	}

	switch op {
	case OpAdd:
		if err := s.checkEmailUnused(ctx, email); err != nil {
			return nil, err
		}
	case OpRemove:
		if !user.HasEmail(email) {
			return nil, fault.New(fault.CodeEmailNonexistent).
				With("email", email).
				Errorf("email address is not registered on this account")
		}
		if len(user.Emails) == 1 {
			return nil, fault.New(fault.CodeVerificationFailed).
				With("email", email).
				Errorf("cannot remove the last email address")
		}
	}

	permitToken, permitHash, err := GenerateToken()
	if err != nil {
		return nil, err
	}
	denyToken, denyHash, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	record := &Verification{
		ID:              ulid.Make(),
		UserID:          user.ID,
		Email:           email,
		Op:              op,
		PermitTokenHash: permitHash,
		DenyTokenHash:   denyHash,
		ExpiresAt:       now.Add(s.ttl),
		CreatedAt:       now,
	}
	if err := s.verifications.Create(ctx, record); err != nil {
		return nil, err
	}

	if err := s.notify(ctx, user, record, permitToken, denyToken); err != nil {
		return nil, err
	}

	s.emitter.Emit(ctx, events.Event{
		ID:        ulid.Make(),
		Topic:     events.TopicVerificationBegun,
		AccountID: user.ID,
		RequestID: requestID,
		Attributes: map[string]any{
			"op":    string(op),
			"email": email,
		},
		OccurredAt: now,
	})

	return &Issued{Record: record, PermitToken: permitToken, DenyToken: denyToken}, nil
}

// Resolve redeems a permit or deny token for actor. Ownership,
// expiration, and operation tag are each re-validated; a permit
// redemption applies the email mutation, a deny redemption does not.
// The record is deleted on any successful resolution.
func (s *Service) Resolve(ctx context.Context, actor *identity.Account, token string, expectedOp Operation, requestID string) (Outcome, error) {
	if token == "" {
		return "", fault.New(fault.CodeVerificationNonexistent).
			Errorf("no such verification")
	}

	record, err := s.verifications.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return "", fault.New(fault.CodeVerificationNonexistent).
				Errorf("no such verification")
		}
		return "", err
	}

	// The three checks below are each mandatory regardless of order.
	if record.UserID.Compare(actor.ID) != 0 {
		return "", fault.New(fault.CodeVerificationFailed).
			With("verification_id", record.ID.String()).
			Errorf("verification does not belong to this account")
	}
	now := s.clock.Now()
	if record.ExpiredAt(now) {
		return "", fault.New(fault.CodeVerificationFailed).
			With("verification_id", record.ID.String()).
			With("expired_at", record.ExpiresAt).
			Errorf("verification has expired")
	}
	if record.Op != expectedOp {
		return "", fault.New(fault.CodeVerificationFailed).
			With("verification_id", record.ID.String()).
			With("op", string(record.Op)).
			With("expected_op", string(expectedOp)).
			Errorf("verification operation does not match")
	}

	outcome := OutcomeDenied
	if VerifyToken(token, record.PermitTokenHash) {
		outcome = OutcomePermitted
		if err := s.apply(ctx, actor, record, now); err != nil {
			return "", err
		}
	}

	if err := s.verifications.Delete(ctx, record.ID); err != nil {
		return "", err
	}

	s.emitter.Emit(ctx, events.Event{
		ID:        ulid.Make(),
		Topic:     events.TopicVerificationResolved,
		AccountID: actor.ID,
		RequestID: requestID,
		Attributes: map[string]any{
			"op":      string(record.Op),
			"email":   record.Email,
			"outcome": string(outcome),
		},
		OccurredAt: now,
	})

	return outcome, nil
}

// apply performs the email mutation for a permitted record.
func (s *Service) apply(ctx context.Context, actor *identity.Account, record *Verification, now time.Time) error {
	switch record.Op {
	case OpAdd:
		if err := actor.AddEmail(record.Email, now); err != nil {
			return err
		}
	case OpRemove:
		if err := actor.RemoveEmail(record.Email, now); err != nil {
			return err
		}
	}
	return s.accounts.Update(ctx, actor)
}

// checkEmailUnused rejects an address already registered on any
// account.
func (s *Service) checkEmailUnused(ctx context.Context, email string) error {
	_, err := s.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return fault.New(fault.CodeEmailDuplicate).
			With("email", email).
			Errorf("email address is already registered")
	case errors.Is(err, identity.ErrNotFound):
		return nil
	default:
		return err
	}
}

// notify sends the begin notifications and blocks until each is
// delivered. Every address other than the target learns how to deny;
// only the target learns how to permit.
func (s *Service) notify(ctx context.Context, user *identity.Account, record *Verification, permitToken, denyToken string) error {
	permitLink := s.link("permit", permitToken)
	denyLink := s.link("deny", denyToken)

	futures := make([]*mail.Future, 0, len(user.Emails))
	for _, other := range user.OtherEmails(record.Email) {
		futures = append(futures, s.sender.Send(ctx, mail.Message{
			To:      other,
			Kind:    "verification_notice",
			Headers: map[string]string{"Auto-Submitted": "auto-generated"},
			Subject: fmt.Sprintf("Security notice: pending email %s", opVerb(record.Op)),
			Body: fmt.Sprintf(
				"A request to %s the address %s is pending on your account.\n"+
					"If you did not request this, deny it here before %s:\n\n%s\n",
				opVerb(record.Op), record.Email,
				record.ExpiresAt.Format(time.RFC1123), denyLink),
		}))
	}
	futures = append(futures, s.sender.Send(ctx, mail.Message{
		To:      record.Email,
		Kind:    "verification_confirm",
		Headers: map[string]string{"Auto-Submitted": "auto-generated"},
		Subject: fmt.Sprintf("Confirm email %s", opVerb(record.Op)),
		Body: fmt.Sprintf(
			"A request to %s the address %s is pending.\n"+
				"Confirm it here before %s:\n\n%s\n\n"+
				"Or deny it here:\n\n%s\n",
			opVerb(record.Op), record.Email,
			record.ExpiresAt.Format(time.RFC1123), permitLink, denyLink),
	}))

	for _, f := range futures {
		if err := f.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) link(decision, token string) string {
	return fmt.Sprintf("%s/verify?decision=%s&token=%s",
		s.baseURL, decision, url.QueryEscape(token))
}

func opVerb(op Operation) string {
	if op == OpRemove {
		return "removal"
	}
	return "addition"
}
