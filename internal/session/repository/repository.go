package repository

import (
	"context"

	"cryptoforum/backend/internal/session/domain"
)

// Repository defines persistence for sessions. Lookups return (nil, nil) when nothing matches.
type Repository interface {
	GetByUser(ctx context.Context, userID string) (*domain.Session, error)
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// Create inserts s; returns domain.ErrDuplicateSession if the user already has one.
	Create(ctx context.Context, s *domain.Session) error
	// Replace atomically swaps whatever session the user has for s.
	Replace(ctx context.Context, s *domain.Session) error
	// Rotate atomically deletes previousID and inserts next, or returns domain.ErrSessionNotFound
	// when previousID is already gone.
	Rotate(ctx context.Context, previousID string, next *domain.Session) error
	DeleteByUser(ctx context.Context, userID string) (int64, error)
	DeleteByID(ctx context.Context, id string) (int64, error)
}
