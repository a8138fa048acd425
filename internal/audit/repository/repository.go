package repository

import (
	"context"

	"cryptoforum/backend/internal/audit/domain"
)

// Repository defines append-only persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// List returns entries newest first.
	List(ctx context.Context, limit, offset int32) ([]*domain.AuditLog, error)
}
