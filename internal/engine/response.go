// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package engine

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/accountd/accountd/internal/events"
	"github.com/accountd/accountd/internal/fault"
	"github.com/accountd/accountd/internal/identity"
	"github.com/accountd/accountd/internal/verification"
)

// Response is the sealed response sum type. Every command maps to
// exactly one non-error variant; any failure maps to *ErrorResponse.
type Response interface {
	isResponse()
}

// LoginResult answers Login. Principal is redacted.
type LoginResult struct {
	Principal        *identity.Account
	SessionToken     string
	SessionExpiresAt time.Time
}

// LogoutResult answers Logout.
type LogoutResult struct{}

// GetAccountResult answers GetAccount. Account is redacted.
type GetAccountResult struct {
	Account *identity.Account
}

// CreateUserResult answers CreateUser. Account is redacted.
type CreateUserResult struct {
	Account *identity.Account
}

// CreateAdminResult answers CreateAdmin. Account is redacted.
type CreateAdminResult struct {
	Account *identity.Account
}

// DeleteAccountResult answers DeleteAccount.
type DeleteAccountResult struct {
	AccountID ulid.ULID
}

// BanAccountResult answers BanAccount.
type BanAccountResult struct {
	Ban *identity.Ban
}

// UnbanAccountResult answers UnbanAccount.
type UnbanAccountResult struct {
	AccountID ulid.ULID
}

// SetAdminPermissionsResult answers SetAdminPermissions. Account is
// redacted.
type SetAdminPermissionsResult struct {
	Account *identity.Account
}

// ChangePasswordResult answers ChangePassword.
type ChangePasswordResult struct {
	AccountID ulid.ULID
}

// BeginEmailAddResult answers BeginEmailAdd. The tokens travel only
// in the notification mails, never in the response.
type BeginEmailAddResult struct {
	VerificationID ulid.ULID
	ExpiresAt      time.Time
}

// BeginEmailRemoveResult answers BeginEmailRemove.
type BeginEmailRemoveResult struct {
	VerificationID ulid.ULID
	ExpiresAt      time.Time
}

// ResolveEmailVerificationResult answers ResolveEmailVerification.
// Account is the caller's redacted account after any mutation.
type ResolveEmailVerificationResult struct {
	Outcome verification.Outcome
	Account *identity.Account
}

// ListAuditLogResult answers ListAuditLog.
type ListAuditLogResult struct {
	Records []events.AuditRecord
}

// ErrorResponse is the uniform failure variant.
type ErrorResponse struct {
	RequestID         string
	Message           string
	Code              string
	Attributes        map[string]any
	RemediatingAction string
	Blame             fault.Blame
	HTTPStatus        int
}

func (LoginResult) isResponse()                    {}
func (LogoutResult) isResponse()                   {}
func (GetAccountResult) isResponse()               {}
func (CreateUserResult) isResponse()               {}
func (CreateAdminResult) isResponse()              {}
func (DeleteAccountResult) isResponse()            {}
func (BanAccountResult) isResponse()               {}
func (UnbanAccountResult) isResponse()             {}
func (SetAdminPermissionsResult) isResponse()      {}
func (ChangePasswordResult) isResponse()           {}
func (BeginEmailAddResult) isResponse()            {}
func (BeginEmailRemoveResult) isResponse()         {}
func (ResolveEmailVerificationResult) isResponse() {}
func (ListAuditLogResult) isResponse()             {}
func (*ErrorResponse) isResponse()                 {}

// IsError reports whether resp is the error variant. Callers use it
// to decide whether the surrounding transaction may commit.
func IsError(resp Response) bool {
	_, ok := resp.(*ErrorResponse)
	return ok
}

// Failure normalizes an error into the uniform error response.
// Server-blame failures never expose their internal message; client
// failures keep their message, structured attributes, and hint.
func Failure(requestID string, err error) *ErrorResponse {
	code := fault.CodeOf(err)
	desc := fault.Describe(code)

	resp := &ErrorResponse{
		RequestID:  requestID,
		Code:       desc.Code,
		Blame:      desc.Blame,
		HTTPStatus: desc.HTTPStatus,
	}
	if desc.Blame == fault.BlameServer {
		resp.Message = "internal error"
		return resp
	}

	resp.Message = err.Error()
	resp.RemediatingAction = fault.HintOf(err)
	if attrs := fault.AttributesOf(err); len(attrs) > 0 {
		filtered := make(map[string]any, len(attrs))
		for k, v := range attrs {
			if k == "hint" {
				continue
			}
			filtered[k] = v
		}
		if len(filtered) > 0 {
			resp.Attributes = filtered
		}
	}
	return resp
}
