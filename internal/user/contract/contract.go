// Package contract holds the request patterns, payloads and error codes the user-profile
// service answers over the bus. Both the profile handlers and their callers import it.
package contract

const (
	PatternCreate            = "user.create"
	PatternVerifyCredentials = "user.verify_credentials"
	PatternGetByID           = "user.get_by_id"
	PatternConfirm           = "user.confirm"
	PatternUpdate            = "user.update"
	PatternClose             = "user.close"
)

// Remote error codes.
const (
	CodeNotFound            = "not_found"
	CodeInvalidArgument     = "invalid_argument"
	CodeInvalidCredentials  = "invalid_credentials"
	CodeEmailTaken          = "email_taken"
	CodeInvalidConfirmation = "invalid_confirmation"
	CodeAccountClosed       = "account_closed"
	CodeNotConfirmed        = "not_confirmed"
)

// Updatable profile fields.
const (
	FieldEmail    = "email"
	FieldUsername = "username"
	FieldPassword = "password"
)

type CreateRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// CreateResponse carries the raw confirmation token; only its digest is stored.
type CreateResponse struct {
	UserID            string `json:"user_id"`
	Email             string `json:"email"`
	ConfirmationToken string `json:"confirmation_token"`
}

type VerifyCredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type GetByIDRequest struct {
	UserID string `json:"user_id"`
}

type ConfirmRequest struct {
	Token string `json:"token"`
}

type UpdateRequest struct {
	UserID string            `json:"user_id"`
	Fields map[string]string `json:"fields"`
}

// UpdateResponse lists the fields that changed. Password values are never echoed.
type UpdateResponse struct {
	UserID  string   `json:"user_id"`
	Changed []string `json:"changed"`
}

type CloseRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

// UserRef is the public view of a user returned by lookups.
type UserRef struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Status   string `json:"status"`
}
