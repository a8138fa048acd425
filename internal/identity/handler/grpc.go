package handler

import (
	"context"
	"errors"
	"log"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	authv1 "cryptoforum/backend/api/auth/v1"
	"cryptoforum/backend/internal/identity/service"
	"cryptoforum/backend/internal/observability"
	"cryptoforum/backend/internal/server/interceptors"
)

// AuthServer implements authv1.AuthServiceServer on top of the auth service.
type AuthServer struct {
	authv1.UnimplementedAuthServiceServer
	auth *service.AuthService
}

// NewAuthServer returns a new Auth gRPC server. If auth is nil, every RPC returns Unimplemented.
func NewAuthServer(auth *service.AuthService) *AuthServer {
	return &AuthServer{auth: auth}
}

// SignUp registers a pending account.
func (s *AuthServer) SignUp(ctx context.Context, req *authv1.SignUpRequest) (*authv1.SignUpResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method SignUp not implemented")
	}
	res, err := s.auth.SignUp(ctx, req.Email, req.Password, req.Username)
	if err != nil {
		return nil, authErr(err)
	}
	return &authv1.SignUpResponse{UserID: res.UserID, Email: res.Email}, nil
}

// SignIn returns a fresh token pair, ending any previous session of the user.
func (s *AuthServer) SignIn(ctx context.Context, req *authv1.SignInRequest) (*authv1.TokenResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method SignIn not implemented")
	}
	pair, err := s.auth.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		return nil, authErr(err)
	}
	return tokenResponse(pair), nil
}

// Refresh rotates the session bound to the refresh token.
func (s *AuthServer) Refresh(ctx context.Context, req *authv1.RefreshRequest) (*authv1.TokenResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Refresh not implemented")
	}
	pair, err := s.auth.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, authErr(err)
	}
	return tokenResponse(pair), nil
}

// Logout ends the caller's session.
func (s *AuthServer) Logout(ctx context.Context, _ *authv1.LogoutRequest) (*authv1.Empty, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Logout not implemented")
	}
	userID, _ := interceptors.GetUserID(ctx)
	if err := s.auth.Logout(ctx, userID); err != nil {
		return nil, authErr(err)
	}
	return &authv1.Empty{}, nil
}

// Verify reports the identity carried by an access token.
func (s *AuthServer) Verify(ctx context.Context, req *authv1.VerifyRequest) (*authv1.VerifyResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Verify not implemented")
	}
	p, err := s.auth.Verify(ctx, req.AccessToken)
	if err != nil {
		return nil, authErr(err)
	}
	return &authv1.VerifyResponse{UserID: p.UserID, Email: p.Email}, nil
}

// ConfirmAccount activates a pending account.
func (s *AuthServer) ConfirmAccount(ctx context.Context, req *authv1.ConfirmAccountRequest) (*authv1.ConfirmAccountResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method ConfirmAccount not implemented")
	}
	userID, err := s.auth.ConfirmAccount(ctx, req.Token)
	if err != nil {
		return nil, authErr(err)
	}
	return &authv1.ConfirmAccountResponse{UserID: userID}, nil
}

// UpdateSettings changes the caller's profile fields.
func (s *AuthServer) UpdateSettings(ctx context.Context, req *authv1.UpdateSettingsRequest) (*authv1.UpdateSettingsResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method UpdateSettings not implemented")
	}
	userID, _ := interceptors.GetUserID(ctx)
	changed, err := s.auth.UpdateSettings(ctx, userID, req.Fields)
	if err != nil {
		return nil, authErr(err)
	}
	return &authv1.UpdateSettingsResponse{Changed: changed}, nil
}

// CloseAccount closes the caller's account.
func (s *AuthServer) CloseAccount(ctx context.Context, req *authv1.CloseAccountRequest) (*authv1.Empty, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method CloseAccount not implemented")
	}
	userID, _ := interceptors.GetUserID(ctx)
	if err := s.auth.CloseAccount(ctx, userID, req.Password); err != nil {
		return nil, authErr(err)
	}
	return &authv1.Empty{}, nil
}

func tokenResponse(p *service.TokenPair) *authv1.TokenResponse {
	return &authv1.TokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
		SessionID:        p.SessionID,
		UserID:           p.UserID,
	}
}

// authErr maps auth service errors to gRPC status codes.
func authErr(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, service.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrMissingToken),
		errors.Is(err, service.ErrTokenExpired),
		errors.Is(err, service.ErrTokenMalformed),
		errors.Is(err, service.ErrWrongKind),
		errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrSessionSuperseded),
		errors.Is(err, service.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, service.ErrEmailAlreadyRegistered):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, service.ErrInvalidConfirmation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrAccountNotConfirmed), errors.Is(err, service.ErrAccountClosed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrUserNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrProfileUnavailable):
		log.Printf("auth: %v", err)
		return status.Error(codes.Unavailable, "user profile service unavailable")
	}
	log.Printf("auth: internal error: %v", err)
	observability.CaptureError(err, map[string]string{"component": "auth"})
	return status.Error(codes.Internal, "internal error")
}
