// Package authv1 defines the cryptoforum.auth.v1.AuthService API. Messages travel as JSON
// using the "json" gRPC content-subtype registered by this package.
package authv1

import "time"

type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type SignUpResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse is returned by SignIn and Refresh.
type TokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"user_id"`
}

type LogoutRequest struct{}

type VerifyRequest struct {
	AccessToken string `json:"access_token"`
}

type VerifyResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type ConfirmAccountRequest struct {
	Token string `json:"token"`
}

type ConfirmAccountResponse struct {
	UserID string `json:"user_id"`
}

// UpdateSettingsRequest carries the fields to change: email, username or password.
type UpdateSettingsRequest struct {
	Fields map[string]string `json:"fields"`
}

type UpdateSettingsResponse struct {
	Changed []string `json:"changed"`
}

type CloseAccountRequest struct {
	Password string `json:"password"`
}

type Empty struct{}
