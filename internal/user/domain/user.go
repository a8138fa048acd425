package domain

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// ErrEmailTaken is returned by Create and Update when another user already owns the email.
var ErrEmailTaken = errors.New("email already registered")

// User is a forum account as held by the profile service.
type User struct {
	ID               string
	Email            string
	Username         string
	PasswordHash     string
	Status           UserStatus
	ConfirmationHash string // sha256 of the pending confirmation token; empty once confirmed
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type UserStatus string

const (
	UserStatusPending UserStatus = "pending"
	UserStatusActive  UserStatus = "active"
	UserStatusClosed  UserStatus = "closed"
)

// Validate validates the user for persistence. Returns an error describing the failed fields.
func (u *User) Validate() error {
	if u.Status == "" {
		u.Status = UserStatusPending
	}
	return validation.ValidateStruct(u,
		validation.Field(&u.ID, validation.Required),
		validation.Field(&u.Email, validation.Required, validation.Length(6, 254), is.Email),
		validation.Field(&u.Username, validation.Required, validation.Length(3, 32)),
		validation.Field(&u.PasswordHash, validation.Required),
		validation.Field(&u.Status, validation.In(UserStatusPending, UserStatusActive, UserStatusClosed)),
	)
}
