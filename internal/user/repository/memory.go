package repository

import (
	"context"
	"sync"

	"cryptoforum/backend/internal/user/domain"
)

// MemoryRepository keeps users in process, enforcing unique emails like the users table does.
type MemoryRepository struct {
	mu   sync.Mutex
	byID map[string]*domain.User
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*domain.User)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.byID[id]), nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.find(func(u *domain.User) bool { return u.Email == email })), nil
}

func (r *MemoryRepository) GetByConfirmationHash(ctx context.Context, hash string) (*domain.User, error) {
	if hash == "" {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.find(func(u *domain.User) bool { return u.ConfirmationHash == hash })), nil
}

func (r *MemoryRepository) Create(ctx context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.emailOwnedByOther(u) {
		return domain.ErrEmailTaken
	}
	r.byID[u.ID] = clone(u)
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[u.ID]; !ok {
		return nil
	}
	if r.emailOwnedByOther(u) {
		return domain.ErrEmailTaken
	}
	r.byID[u.ID] = clone(u)
	return nil
}

func (r *MemoryRepository) emailOwnedByOther(u *domain.User) bool {
	other := r.find(func(x *domain.User) bool { return x.Email == u.Email })
	return other != nil && other.ID != u.ID
}

func (r *MemoryRepository) find(match func(*domain.User) bool) *domain.User {
	for _, u := range r.byID {
		if match(u) {
			return u
		}
	}
	return nil
}

func clone(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
