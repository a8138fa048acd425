package service

import "errors"

// Credential verification taxonomy. The handler maps all of these to Unauthenticated.
var (
	ErrMissingToken      = errors.New("missing token")
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenMalformed    = errors.New("token malformed")
	ErrWrongKind         = errors.New("wrong token kind")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionSuperseded = errors.New("session superseded")
)

// Account flow errors.
var (
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidConfirmation    = errors.New("invalid or already used confirmation token")
	ErrAccountNotConfirmed    = errors.New("account not confirmed")
	ErrAccountClosed          = errors.New("account closed")
	ErrUserNotFound           = errors.New("user not found")
	// ErrProfileUnavailable wraps rpc.ErrTimeout and bus failures on calls to the profile service.
	ErrProfileUnavailable = errors.New("user profile service unavailable")
)

// domainErrors are never retried.
var domainErrors = []error{
	ErrMissingToken, ErrTokenExpired, ErrTokenMalformed, ErrWrongKind,
	ErrSessionNotFound, ErrSessionSuperseded,
	ErrInvalidArgument, ErrInvalidCredentials, ErrEmailAlreadyRegistered,
	ErrInvalidConfirmation, ErrAccountNotConfirmed, ErrAccountClosed, ErrUserNotFound,
}

// IsDomainError reports whether err is an expected outcome rather than an infrastructure failure.
func IsDomainError(err error) bool {
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return true
		}
	}
	return false
}
