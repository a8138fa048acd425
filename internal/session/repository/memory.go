package repository

import (
	"context"
	"sync"

	"cryptoforum/backend/internal/session/domain"
)

// MemoryRepository is an in-process Repository with the same uniqueness rules as the Postgres schema.
// Used by tests and by the server when no DATABASE_URL is configured.
type MemoryRepository struct {
	mu     sync.Mutex
	byID   map[string]*domain.Session
	byUser map[string]string
}

// NewMemoryRepository returns an empty in-memory session repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]*domain.Session),
		byUser: make(map[string]string),
	}
}

func (r *MemoryRepository) GetByUser(ctx context.Context, userID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byUser[userID]
	if !ok {
		return nil, nil
	}
	return clone(r.byID[id]), nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.byID[id]), nil
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byUser[s.UserID]; ok {
		return domain.ErrDuplicateSession
	}
	if _, ok := r.byID[s.ID]; ok {
		return domain.ErrDuplicateSession
	}
	r.put(s)
	return nil
}

func (r *MemoryRepository) Replace(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteUser(s.UserID)
	r.put(s)
	return nil
}

func (r *MemoryRepository) Rotate(ctx context.Context, previousID string, next *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.byID[previousID]
	if !ok || prev.UserID != next.UserID {
		return domain.ErrSessionNotFound
	}
	r.deleteUser(next.UserID)
	r.put(next)
	return nil
}

func (r *MemoryRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteUser(userID), nil
}

func (r *MemoryRepository) DeleteByID(ctx context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return 0, nil
	}
	delete(r.byID, id)
	delete(r.byUser, s.UserID)
	return 1, nil
}

// CountByUser returns the number of stored sessions owned by userID.
func (r *MemoryRepository) CountByUser(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.byID {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

func (r *MemoryRepository) put(s *domain.Session) {
	r.byID[s.ID] = clone(s)
	r.byUser[s.UserID] = s.ID
}

func (r *MemoryRepository) deleteUser(userID string) int64 {
	id, ok := r.byUser[userID]
	if !ok {
		return 0
	}
	delete(r.byID, id)
	delete(r.byUser, userID)
	return 1
}

func clone(s *domain.Session) *domain.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
