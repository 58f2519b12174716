// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

// Package fault defines the closed failure taxonomy shared by every
// command handler. Each code is bound to an HTTP-equivalent status and a
// blame side; services raise oops errors carrying these codes and the
// engine resolves them into uniform error responses.
package fault

import "github.com/samber/oops"

// Blame attributes a failure to the client or the server.
type Blame string

// Blame sides.
const (
	BlameClient Blame = "CLIENT"
	BlameServer Blame = "SERVER"
)

// Failure codes. The set is closed; handlers must not invent codes
// outside this table.
const (
	CodeAuthentication          = "AUTHENTICATION_ERROR"
	CodeRateLimitExceeded       = "RATE_LIMIT_EXCEEDED"
	CodeBanned                  = "BANNED"
	CodeEmailDuplicate          = "EMAIL_DUPLICATE"
	CodeEmailNonexistent        = "EMAIL_NONEXISTENT"
	CodeVerificationFailed      = "EMAIL_VERIFICATION_FAILED"
	CodeVerificationNonexistent = "EMAIL_VERIFICATION_NONEXISTENT"
	CodePasswordResetMismatch   = "PASSWORD_RESET_MISMATCH"
	CodeSecurityPolicyDenied    = "SECURITY_POLICY_DENIED"
	CodeAPIMisuse               = "API_MISUSE"
	CodeProtocolError           = "PROTOCOL_ERROR"
	CodePasswordError           = "PASSWORD_ERROR"
	CodeSQLError                = "SQL_ERROR"
	CodeIOError                 = "IO_ERROR"
	CodeMailSystemFailure       = "MAIL_SYSTEM_FAILURE"
)

// Description binds a failure code to its transport-visible shape.
type Description struct {
	Code       string
	HTTPStatus int
	Blame      Blame
}

// table is the closed code registry. Keep in sync with the constants
// above; TestTableCoversAllCodes enumerates both.
var table = map[string]Description{
	CodeAuthentication:          {CodeAuthentication, 401, BlameClient},
	CodeRateLimitExceeded:       {CodeRateLimitExceeded, 400, BlameClient},
	CodeBanned:                  {CodeBanned, 403, BlameClient},
	CodeEmailDuplicate:          {CodeEmailDuplicate, 400, BlameClient},
	CodeEmailNonexistent:        {CodeEmailNonexistent, 404, BlameClient},
	CodeVerificationFailed:      {CodeVerificationFailed, 400, BlameClient},
	CodeVerificationNonexistent: {CodeVerificationNonexistent, 404, BlameClient},
	CodePasswordResetMismatch:   {CodePasswordResetMismatch, 400, BlameClient},
	CodeSecurityPolicyDenied:    {CodeSecurityPolicyDenied, 403, BlameClient},
	CodeAPIMisuse:               {CodeAPIMisuse, 400, BlameClient},
	CodeProtocolError:           {CodeProtocolError, 400, BlameClient},
	CodePasswordError:           {CodePasswordError, 500, BlameServer},
	CodeSQLError:                {CodeSQLError, 500, BlameServer},
	CodeIOError:                 {CodeIOError, 500, BlameServer},
	CodeMailSystemFailure:       {CodeMailSystemFailure, 500, BlameServer},
}

// internalDescription covers errors that escape the closed taxonomy.
// They are reported as server faults without leaking detail.
var internalDescription = Description{Code: CodeSQLError, HTTPStatus: 500, Blame: BlameServer}

// Describe resolves a failure code to its description. Unknown codes are
// treated as server faults.
func Describe(code string) Description {
	if d, ok := table[code]; ok {
		return d
	}
	return internalDescription
}

// Codes returns every registered failure code. The returned slice is a
// copy and safe to modify.
func Codes() []string {
	codes := make([]string, 0, len(table))
	for c := range table {
		codes = append(codes, c)
	}
	return codes
}

// New creates an oops builder pre-tagged with the given failure code.
// The message given here is client-visible for client-blame codes.
func New(code string) oops.OopsErrorBuilder {
	return oops.Code(code)
}

// CodeOf extracts the failure code from an error, or "" if the error
// does not carry one.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		if code, ok := oopsErr.Code().(string); ok {
			return code
		}
	}
	return ""
}

// AttributesOf extracts the structured attribute map from an error.
// Returns nil if the error carries no attributes.
func AttributesOf(err error) map[string]any {
	if err == nil {
		return nil
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		return oopsErr.Context()
	}
	return nil
}

// HintOf extracts the remediation hint from an error's attributes, if
// one was attached under the "hint" key.
func HintOf(err error) string {
	attrs := AttributesOf(err)
	if attrs == nil {
		return ""
	}
	if hint, ok := attrs["hint"].(string); ok {
		return hint
	}
	return ""
}
