package repository

import (
	"context"
	"sync"

	"cryptoforum/backend/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process. Used by tests and database-less development runs.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []*domain.AuditLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *a
	r.entries = append(r.entries, &c)
	return nil
}

func (r *MemoryRepository) List(ctx context.Context, limit, offset int32) ([]*domain.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.AuditLog, 0, len(r.entries))
	for i := len(r.entries) - 1; i >= 0; i-- {
		c := *r.entries[i]
		out = append(out, &c)
	}
	start := int(offset)
	if start > len(out) {
		start = len(out)
	}
	end := len(out)
	if limit > 0 && start+int(limit) < end {
		end = start + int(limit)
	}
	return out[start:end], nil
}
