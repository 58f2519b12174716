// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package verification

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/accountd/accountd/internal/identity"
)

// MemoryRepository is a mutex-guarded in-memory Repository. Suitable
// for tests and single-process development runs.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[ulid.ULID]*Verification
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[ulid.ULID]*Verification)}
}

// Create implements Repository.
func (r *MemoryRepository) Create(_ context.Context, v *Verification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := *v
	r.records[v.ID] = &rec
	return nil
}

// GetByTokenHash implements Repository.
func (r *MemoryRepository) GetByTokenHash(_ context.Context, tokenHash string) (*Verification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.records {
		if v.PermitTokenHash == tokenHash || v.DenyTokenHash == tokenHash {
			rec := *v
			return &rec, nil
		}
	}
	return nil, identity.ErrNotFound
}

// Delete implements Repository.
func (r *MemoryRepository) Delete(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	return nil
}

// Len returns the number of pending records.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

var _ Repository = (*MemoryRepository)(nil)
