// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package session

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/accountd/accountd/internal/clock"
	"github.com/accountd/accountd/internal/fault"
)

// Manager is an in-memory Store with a convenience layer for issuing
// and resolving tokens. Safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	byHash  map[string]*Session
	byID    map[ulid.ULID]string // id → token hash
	idleTTL time.Duration
	clock   clock.Clock
}

// NewManager creates a Manager with the given inactivity window. A
// non-positive idleTTL falls back to DefaultIdleTTL. A nil clk falls
// back to the wall clock.
func NewManager(idleTTL time.Duration, clk clock.Clock) *Manager {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Manager{
		byHash:  make(map[string]*Session),
		byID:    make(map[ulid.ULID]string),
		idleTTL: idleTTL,
		clock:   clk,
	}
}

// Issue creates a session for the account and returns it together with
// the plaintext token.
func (m *Manager) Issue(ctx context.Context, accountID ulid.ULID, remoteHost, userAgent string) (*Session, string, error) {
	token, hash, err := GenerateToken()
	if err != nil {
		return nil, "", err
	}
	now := m.clock.Now()
	sess, err := New(accountID, hash, remoteHost, userAgent, now, now.Add(m.idleTTL))
	if err != nil {
		return nil, "", err
	}
	if err := m.Create(ctx, sess); err != nil {
		return nil, "", err
	}
	return sess, token, nil
}

// Resolve validates a plaintext token, rejects expired sessions, and
// slides the inactivity window.
func (m *Manager) Resolve(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, fault.New(fault.CodeAuthentication).Errorf("session token cannot be empty")
	}
	sess, err := m.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		return nil, fault.New(fault.CodeAuthentication).Errorf("invalid session token")
	}
	now := m.clock.Now()
	if sess.IsExpiredAt(now) {
		return nil, fault.New(fault.CodeAuthentication).Errorf("session has expired")
	}
	if err := m.Touch(ctx, sess.ID, now, now.Add(m.idleTTL)); err != nil {
		return nil, err
	}
	return sess, nil
}

// Create implements Store.
func (m *Manager) Create(_ context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	m.byHash[session.TokenHash] = &copied
	m.byID[session.ID] = session.TokenHash
	return nil
}

// GetByTokenHash implements Store. The returned session is a copy.
func (m *Manager) GetByTokenHash(_ context.Context, tokenHash string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.byHash[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *sess
	return &copied, nil
}

// Touch implements Store.
func (m *Manager) Touch(_ context.Context, id ulid.ULID, lastSeen, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	sess := m.byHash[hash]
	sess.LastSeenAt = lastSeen
	sess.ExpiresAt = expiresAt
	return nil
}

// Delete implements Store.
func (m *Manager) Delete(_ context.Context, id ulid.ULID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byHash, hash)
	delete(m.byID, id)
	return nil
}

// DeleteByAccount implements Store.
func (m *Manager) DeleteByAccount(_ context.Context, accountID ulid.ULID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, sess := range m.byHash {
		if sess.AccountID == accountID {
			delete(m.byHash, hash)
			delete(m.byID, sess.ID)
		}
	}
	return nil
}

// DeleteExpired implements Store.
func (m *Manager) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for hash, sess := range m.byHash {
		if sess.IsExpiredAt(now) {
			delete(m.byHash, hash)
			delete(m.byID, sess.ID)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of live sessions. Useful for tests and
// monitoring.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byHash)
}

// Compile-time interface check.
var _ Store = (*Manager)(nil)
