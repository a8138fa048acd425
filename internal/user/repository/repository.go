package repository

import (
	"context"

	"cryptoforum/backend/internal/user/domain"
)

// Repository defines persistence for users. Lookups return (nil, nil) when nothing matches.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByConfirmationHash(ctx context.Context, hash string) (*domain.User, error)
	// Create returns domain.ErrEmailTaken if the email is already registered.
	Create(ctx context.Context, u *domain.User) error
	// Update overwrites the mutable fields of an existing user; same email rule as Create.
	Update(ctx context.Context, u *domain.User) error
}
