// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

// Package identitytest provides in-memory repository implementations
// for tests.
package identitytest

import (
	"context"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/accountd/accountd/internal/credential"
	"github.com/accountd/accountd/internal/identity"
)

// MemoryAccounts is a mutex-guarded in-memory AccountRepository.
type MemoryAccounts struct {
	mu       sync.Mutex
	accounts map[ulid.ULID]*identity.Account

	// Err, when non-nil, is returned by every method.
	Err error
}

// NewMemoryAccounts creates an empty repository, optionally seeded.
func NewMemoryAccounts(seed ...*identity.Account) *MemoryAccounts {
	r := &MemoryAccounts{accounts: make(map[ulid.ULID]*identity.Account)}
	for _, a := range seed {
		r.accounts[a.ID] = clone(a)
	}
	return r
}

// Create implements identity.AccountRepository.
func (r *MemoryAccounts) Create(_ context.Context, account *identity.Account) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account.ID] = clone(account)
	return nil
}

// GetByID implements identity.AccountRepository.
func (r *MemoryAccounts) GetByID(_ context.Context, id ulid.ULID) (*identity.Account, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return clone(account), nil
}

// GetByLoginName implements identity.AccountRepository.
func (r *MemoryAccounts) GetByLoginName(_ context.Context, loginName string) (*identity.Account, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if strings.EqualFold(account.LoginName, loginName) {
			return clone(account), nil
		}
	}
	return nil, identity.ErrNotFound
}

// GetByEmail implements identity.AccountRepository.
func (r *MemoryAccounts) GetByEmail(_ context.Context, email string) (*identity.Account, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if account.HasEmail(email) {
			return clone(account), nil
		}
	}
	return nil, identity.ErrNotFound
}

// Update implements identity.AccountRepository.
func (r *MemoryAccounts) Update(_ context.Context, account *identity.Account) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[account.ID]; !ok {
		return identity.ErrNotFound
	}
	r.accounts[account.ID] = clone(account)
	return nil
}

// UpdatePassword implements identity.AccountRepository.
func (r *MemoryAccounts) UpdatePassword(_ context.Context, id ulid.ULID, password credential.Password) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return identity.ErrNotFound
	}
	account.Password = password
	return nil
}

// Delete implements identity.AccountRepository.
func (r *MemoryAccounts) Delete(_ context.Context, id ulid.ULID) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[id]; !ok {
		return identity.ErrNotFound
	}
	delete(r.accounts, id)
	return nil
}

// Len returns the number of stored accounts.
func (r *MemoryAccounts) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts)
}

func clone(a *identity.Account) *identity.Account {
	c := *a
	c.Emails = append([]string(nil), a.Emails...)
	return &c
}

// MemoryBans is a mutex-guarded in-memory BanRepository.
type MemoryBans struct {
	mu   sync.Mutex
	bans map[ulid.ULID]*identity.Ban
}

// NewMemoryBans creates an empty repository.
func NewMemoryBans() *MemoryBans {
	return &MemoryBans{bans: make(map[ulid.ULID]*identity.Ban)}
}

// Upsert implements identity.BanRepository.
func (r *MemoryBans) Upsert(_ context.Context, ban *identity.Ban) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := *ban
	r.bans[ban.TargetID] = &b
	return nil
}

// Get implements identity.BanRepository.
func (r *MemoryBans) Get(_ context.Context, targetID ulid.ULID) (*identity.Ban, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ban, ok := r.bans[targetID]
	if !ok {
		return nil, identity.ErrNotFound
	}
	b := *ban
	return &b, nil
}

// Delete implements identity.BanRepository.
func (r *MemoryBans) Delete(_ context.Context, targetID ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bans, targetID)
	return nil
}

// MemoryHistory is a mutex-guarded in-memory LoginHistoryRepository.
type MemoryHistory struct {
	mu      sync.Mutex
	records map[ulid.ULID][]*identity.LoginRecord
}

// NewMemoryHistory creates an empty repository.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{records: make(map[ulid.ULID][]*identity.LoginRecord)}
}

// Record implements identity.LoginHistoryRepository. Newest entries
// are kept at the front.
func (r *MemoryHistory) Record(_ context.Context, record *identity.LoginRecord, maxEntries int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := *record
	entries := append([]*identity.LoginRecord{&rec}, r.records[record.AccountID]...)
	if maxEntries > 0 && len(entries) > maxEntries {
		entries = entries[:maxEntries]
	}
	r.records[record.AccountID] = entries
	return nil
}

// ListByAccount implements identity.LoginHistoryRepository.
func (r *MemoryHistory) ListByAccount(_ context.Context, accountID ulid.ULID, limit int) ([]*identity.LoginRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.records[accountID]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]*identity.LoginRecord, len(entries))
	for i, e := range entries {
		rec := *e
		out[i] = &rec
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ identity.AccountRepository      = (*MemoryAccounts)(nil)
	_ identity.BanRepository          = (*MemoryBans)(nil)
	_ identity.LoginHistoryRepository = (*MemoryHistory)(nil)
)
