// Package service implements the user-profile operations answered over the bus.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"cryptoforum/backend/internal/security"
	"cryptoforum/backend/internal/user/contract"
	"cryptoforum/backend/internal/user/domain"
	"cryptoforum/backend/internal/user/repository"
)

var (
	ErrNotFound            = errors.New("user not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrInvalidConfirmation = errors.New("invalid or used confirmation token")
	ErrAccountClosed       = errors.New("account closed")
	ErrNotConfirmed        = errors.New("account not confirmed")
)

// ProfileService owns user records. Passwords are stored as bcrypt digests only.
type ProfileService struct {
	repo   repository.Repository
	hasher *security.Hasher
	now    func() time.Time
}

func NewProfileService(repo repository.Repository, hasher *security.Hasher) *ProfileService {
	return &ProfileService{repo: repo, hasher: hasher, now: time.Now}
}

// Create registers a pending user and returns the raw confirmation token.
func (s *ProfileService) Create(ctx context.Context, req contract.CreateRequest) (*contract.CreateResponse, error) {
	if req.Password == "" {
		return nil, invalid("password is required")
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}
	raw, digest, err := security.NewConfirmationToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	u := &domain.User{
		ID:               uuid.NewString(),
		Email:            normalizeEmail(req.Email),
		Username:         strings.TrimSpace(req.Username),
		PasswordHash:     hash,
		Status:           domain.UserStatusPending,
		ConfirmationHash: digest,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := u.Validate(); err != nil {
		return nil, invalid(err.Error())
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return &contract.CreateResponse{UserID: u.ID, Email: u.Email, ConfirmationToken: raw}, nil
}

// VerifyCredentials returns the user when email and password match an active account.
// Account state is only revealed after the password has matched.
func (s *ProfileService) VerifyCredentials(ctx context.Context, email, password string) (*contract.UserRef, error) {
	u, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if u == nil || !s.hasher.Verify(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	switch u.Status {
	case domain.UserStatusClosed:
		return nil, ErrAccountClosed
	case domain.UserStatusPending:
		return nil, ErrNotConfirmed
	}
	return toRef(u), nil
}

// GetByID returns the user unless it is missing or closed.
func (s *ProfileService) GetByID(ctx context.Context, id string) (*contract.UserRef, error) {
	u, err := s.live(ctx, id)
	if err != nil {
		return nil, err
	}
	return toRef(u), nil
}

// Confirm activates the pending user holding token. A token is accepted once.
func (s *ProfileService) Confirm(ctx context.Context, token string) (*contract.UserRef, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidConfirmation
	}
	u, err := s.repo.GetByConfirmationHash(ctx, security.DigestToken(token))
	if err != nil {
		return nil, err
	}
	if u == nil || u.Status != domain.UserStatusPending || !security.TokenDigestEqual(token, u.ConfirmationHash) {
		return nil, ErrInvalidConfirmation
	}
	u.Status = domain.UserStatusActive
	u.ConfirmationHash = ""
	u.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return toRef(u), nil
}

// Update applies the known fields and reports which ones actually changed, in
// email, password, username order.
func (s *ProfileService) Update(ctx context.Context, userID string, fields map[string]string) (*contract.UpdateResponse, error) {
	u, err := s.live(ctx, userID)
	if err != nil {
		return nil, err
	}
	var changed []string
	if v, ok := fields[contract.FieldEmail]; ok {
		if v = normalizeEmail(v); v != u.Email {
			u.Email = v
			changed = append(changed, contract.FieldEmail)
		}
	}
	if v, ok := fields[contract.FieldPassword]; ok && v != "" && !s.hasher.Verify(v, u.PasswordHash) {
		if u.PasswordHash, err = s.hasher.Hash(v); err != nil {
			return nil, err
		}
		changed = append(changed, contract.FieldPassword)
	}
	if v, ok := fields[contract.FieldUsername]; ok {
		if v = strings.TrimSpace(v); v != u.Username {
			u.Username = v
			changed = append(changed, contract.FieldUsername)
		}
	}
	resp := &contract.UpdateResponse{UserID: u.ID, Changed: changed}
	if len(changed) == 0 {
		return resp, nil
	}
	if err := u.Validate(); err != nil {
		return nil, invalid(err.Error())
	}
	u.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return resp, nil
}

// Close marks the account closed after re-checking the password.
func (s *ProfileService) Close(ctx context.Context, userID, password string) (*contract.UserRef, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}
	if u.Status == domain.UserStatusClosed {
		return nil, ErrAccountClosed
	}
	if !s.hasher.Verify(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	u.Status = domain.UserStatusClosed
	u.ConfirmationHash = ""
	u.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return toRef(u), nil
}

func (s *ProfileService) live(ctx context.Context, id string) (*domain.User, error) {
	if id == "" {
		return nil, invalid("user_id is required")
	}
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil || u.Status == domain.UserStatusClosed {
		return nil, ErrNotFound
	}
	return u, nil
}

type invalidError struct{ msg string }

func (e *invalidError) Error() string { return e.msg }
func (e *invalidError) Unwrap() error { return ErrInvalidArgument }

func invalid(msg string) error { return &invalidError{msg: msg} }

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func toRef(u *domain.User) *contract.UserRef {
	return &contract.UserRef{ID: u.ID, Email: u.Email, Username: u.Username, Status: string(u.Status)}
}
