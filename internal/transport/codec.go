// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package transport

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/accountd/accountd/internal/engine"
	"github.com/accountd/accountd/internal/events"
	"github.com/accountd/accountd/internal/fault"
	"github.com/accountd/accountd/internal/identity"
	"github.com/accountd/accountd/internal/permission"
	"github.com/accountd/accountd/internal/verification"
)

// Envelope is the request frame of the command endpoint.
type Envelope struct {
	RequestID       string          `json:"request_id,omitempty"`
	ProtocolVersion string          `json:"protocol_version,omitempty"`
	Command         string          `json:"command"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// Reply is the response frame. Exactly one of Result and Error is set.
type Reply struct {
	RequestID string     `json:"request_id"`
	OK        bool       `json:"ok"`
	Result    any        `json:"result,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
}

// ErrorBody mirrors engine.ErrorResponse on the wire.
type ErrorBody struct {
	Code              string         `json:"code"`
	Message           string         `json:"message"`
	Attributes        map[string]any `json:"attributes,omitempty"`
	RemediatingAction string         `json:"remediating_action,omitempty"`
	Blame             string         `json:"blame"`
}

type loginPayload struct {
	Username string            `json:"username"`
	Password string            `json:"password"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type accountTarget struct {
	AccountID string `json:"account_id,omitempty"`
}

type createUserPayload struct {
	LoginName   string `json:"login_name"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

type createAdminPayload struct {
	createUserPayload
	// Permissions is a comma-separated capability list. Unknown tags
	// are rejected at decode time.
	Permissions string `json:"permissions"`
}

type banPayload struct {
	AccountID string     `json:"account_id"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type setPermissionsPayload struct {
	AccountID   string `json:"account_id"`
	Permissions string `json:"permissions"`
}

type changePasswordPayload struct {
	AccountID       string `json:"account_id,omitempty"`
	CurrentPassword string `json:"current_password,omitempty"`
	NewPassword     string `json:"new_password"`
}

type emailPayload struct {
	Email string `json:"email"`
}

type resolvePayload struct {
	Token string `json:"token"`
	Op    string `json:"op"`
}

type auditPayload struct {
	AccountID string `json:"account_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// DecodeCommand maps a wire name and JSON payload to a command. Names
// outside the catalog and malformed payloads fail with PROTOCOL_ERROR.
func DecodeCommand(name string, payload json.RawMessage) (engine.Command, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	switch name {
	case engine.Login{}.Name():
		var p loginPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		return engine.Login{Username: p.Username, Password: p.Password, Metadata: p.Metadata}, nil

	case engine.Logout{}.Name():
		return engine.Logout{}, nil

	case engine.GetAccount{}.Name():
		var p accountTarget
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		id, err := parseTarget(p.AccountID)
		if err != nil {
			return nil, err
		}
		return engine.GetAccount{AccountID: id}, nil

	case engine.CreateUser{}.Name():
		var p createUserPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		return engine.CreateUser{
			LoginName:   p.LoginName,
			DisplayName: p.DisplayName,
			Email:       p.Email,
			Password:    p.Password,
		}, nil

	case engine.CreateAdmin{}.Name():
		var p createAdminPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		perms, err := parsePermissions(p.Permissions)
		if err != nil {
			return nil, err
		}
		return engine.CreateAdmin{
			LoginName:   p.LoginName,
			DisplayName: p.DisplayName,
			Email:       p.Email,
			Password:    p.Password,
			Permissions: perms,
		}, nil

	case engine.DeleteAccount{}.Name():
		var p accountTarget
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		id, err := parseTarget(p.AccountID)
		if err != nil {
			return nil, err
		}
		return engine.DeleteAccount{AccountID: id}, nil

	case engine.BanAccount{}.Name():
		var p banPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		id, err := parseTarget(p.AccountID)
		if err != nil {
			return nil, err
		}
		return engine.BanAccount{AccountID: id, Reason: p.Reason, ExpiresAt: p.ExpiresAt}, nil

	case engine.UnbanAccount{}.Name():
		var p accountTarget
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		id, err := parseTarget(p.AccountID)
		if err != nil {
			return nil, err
		}
		return engine.UnbanAccount{AccountID: id}, nil

	case engine.SetAdminPermissions{}.Name():
		var p setPermissionsPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		id, err := parseTarget(p.AccountID)
		if err != nil {
			return nil, err
		}
		perms, err := parsePermissions(p.Permissions)
		if err != nil {
			return nil, err
		}
		return engine.SetAdminPermissions{AccountID: id, Permissions: perms}, nil

	case engine.ChangePassword{}.Name():
		var p changePasswordPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		id, err := parseTarget(p.AccountID)
		if err != nil {
			return nil, err
		}
		return engine.ChangePassword{
			AccountID:       id,
			CurrentPassword: p.CurrentPassword,
			NewPassword:     p.NewPassword,
		}, nil

	case engine.BeginEmailAdd{}.Name():
		var p emailPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		return engine.BeginEmailAdd{Email: p.Email}, nil

	case engine.BeginEmailRemove{}.Name():
		var p emailPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		return engine.BeginEmailRemove{Email: p.Email}, nil

	case engine.ResolveEmailVerification{}.Name():
		var p resolvePayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		return engine.ResolveEmailVerification{
			Token: p.Token,
			Op:    verification.Operation(p.Op),
		}, nil

	case engine.ListAuditLog{}.Name():
		var p auditPayload
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		id, err := parseTarget(p.AccountID)
		if err != nil {
			return nil, err
		}
		return engine.ListAuditLog{AccountID: id, Limit: p.Limit}, nil

	default:
		return nil, fault.New(fault.CodeProtocolError).
			With("command", name).
			Errorf("unrecognized command")
	}
}

func decode(payload json.RawMessage, into any) error {
	if err := json.Unmarshal(payload, into); err != nil {
		return fault.New(fault.CodeProtocolError).
			Wrapf(err, "malformed command payload")
	}
	return nil
}

// parsePermissions parses a comma-separated capability list, rejecting
// tags outside the closed permission set. The stored-set leniency of
// permission.Parse does not apply on the wire.
func parsePermissions(s string) (permission.Set, error) {
	if s == "" {
		return permission.Empty(), nil
	}
	var tags []permission.Permission
	for _, tok := range strings.Split(s, ",") {
		p := permission.Permission(strings.TrimSpace(tok))
		if !p.Valid() {
			return permission.Set{}, fault.New(fault.CodeAPIMisuse).
				With("permission", string(p)).
				Errorf("unknown permission tag")
		}
		tags = append(tags, p)
	}
	return permission.Of(tags...), nil
}

// parseTarget parses an optional account id. Empty means "self" and
// maps to the zero ULID.
func parseTarget(s string) (ulid.ULID, error) {
	if s == "" {
		return ulid.ULID{}, nil
	}
	id, err := ulid.Parse(s)
	if err != nil {
		return ulid.ULID{}, fault.New(fault.CodeProtocolError).
			With("account_id", s).
			Errorf("malformed account id")
	}
	return id, nil
}

// AccountBody is the wire form of a redacted account.
type AccountBody struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	LoginName   string    `json:"login_name"`
	DisplayName string    `json:"display_name"`
	Emails      []string  `json:"emails"`
	Permissions []string  `json:"permissions,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func accountBody(a *identity.Account) *AccountBody {
	if a == nil {
		return nil
	}
	perms := a.Permissions.List()
	tags := make([]string, 0, len(perms))
	for _, p := range perms {
		tags = append(tags, string(p))
	}
	return &AccountBody{
		ID:          a.ID.String(),
		Kind:        string(a.Kind),
		LoginName:   a.LoginName,
		DisplayName: a.DisplayName,
		Emails:      a.Emails,
		Permissions: tags,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

type banBody struct {
	TargetID  string     `json:"target_id"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type auditRecordBody struct {
	ID         string         `json:"id"`
	AccountID  string         `json:"account_id"`
	Topic      string         `json:"topic"`
	RequestID  string         `json:"request_id,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func auditBodies(records []events.AuditRecord) []auditRecordBody {
	bodies := make([]auditRecordBody, 0, len(records))
	for _, r := range records {
		bodies = append(bodies, auditRecordBody{
			ID:         r.ID.String(),
			AccountID:  r.AccountID.String(),
			Topic:      r.Topic,
			RequestID:  r.RequestID,
			Attributes: r.Attributes,
			OccurredAt: r.OccurredAt,
		})
	}
	return bodies
}

// EncodeResponse maps an engine response to an HTTP status and the
// reply frame. The default arm cannot be reached from inside the
// sealed response set; it guards against a variant added without a
// codec arm.
func EncodeResponse(requestID string, resp engine.Response) (int, Reply) {
	switch r := resp.(type) {
	case *engine.ErrorResponse:
		return r.HTTPStatus, Reply{
			RequestID: requestID,
			Error: &ErrorBody{
				Code:              r.Code,
				Message:           r.Message,
				Attributes:        r.Attributes,
				RemediatingAction: r.RemediatingAction,
				Blame:             string(r.Blame),
			},
		}

	case engine.LoginResult:
		return 200, ok(requestID, map[string]any{
			"principal":          accountBody(r.Principal),
			"session_token":      r.SessionToken,
			"session_expires_at": r.SessionExpiresAt,
		})
	case engine.LogoutResult:
		return 200, ok(requestID, map[string]any{})
	case engine.GetAccountResult:
		return 200, ok(requestID, map[string]any{"account": accountBody(r.Account)})
	case engine.CreateUserResult:
		return 200, ok(requestID, map[string]any{"account": accountBody(r.Account)})
	case engine.CreateAdminResult:
		return 200, ok(requestID, map[string]any{"account": accountBody(r.Account)})
	case engine.DeleteAccountResult:
		return 200, ok(requestID, map[string]any{"account_id": r.AccountID.String()})
	case engine.BanAccountResult:
		return 200, ok(requestID, map[string]any{"ban": banBody{
			TargetID:  r.Ban.TargetID.String(),
			Reason:    r.Ban.Reason,
			ExpiresAt: r.Ban.ExpiresAt,
			CreatedAt: r.Ban.CreatedAt,
		}})
	case engine.UnbanAccountResult:
		return 200, ok(requestID, map[string]any{"account_id": r.AccountID.String()})
	case engine.SetAdminPermissionsResult:
		return 200, ok(requestID, map[string]any{"account": accountBody(r.Account)})
	case engine.ChangePasswordResult:
		return 200, ok(requestID, map[string]any{"account_id": r.AccountID.String()})
	case engine.BeginEmailAddResult:
		return 200, ok(requestID, map[string]any{
			"verification_id": r.VerificationID.String(),
			"expires_at":      r.ExpiresAt,
		})
	case engine.BeginEmailRemoveResult:
		return 200, ok(requestID, map[string]any{
			"verification_id": r.VerificationID.String(),
			"expires_at":      r.ExpiresAt,
		})
	case engine.ResolveEmailVerificationResult:
		return 200, ok(requestID, map[string]any{
			"outcome": string(r.Outcome),
			"account": accountBody(r.Account),
		})
	case engine.ListAuditLogResult:
		return 200, ok(requestID, map[string]any{"records": auditBodies(r.Records)})

	default:
		failure := engine.Failure(requestID, fault.New(fault.CodeProtocolError).
			Errorf("unencodable response"))
		return failure.HTTPStatus, Reply{
			RequestID: requestID,
			Error: &ErrorBody{
				Code:    failure.Code,
				Message: failure.Message,
				Blame:   string(failure.Blame),
			},
		}
	}
}

func ok(requestID string, result any) Reply {
	return Reply{RequestID: requestID, OK: true, Result: result}
}
