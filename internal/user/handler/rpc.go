// Package handler exposes the profile service on the bus request/response layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"

	"cryptoforum/backend/internal/rpc"
	"cryptoforum/backend/internal/user/contract"
	"cryptoforum/backend/internal/user/domain"
	"cryptoforum/backend/internal/user/service"
)

// Server answers the user.* patterns.
type Server struct {
	profiles *service.ProfileService
}

func NewServer(profiles *service.ProfileService) *Server {
	return &Server{profiles: profiles}
}

// Register subscribes every user.* pattern on srv.
func (s *Server) Register(ctx context.Context, srv *rpc.Server) error {
	handlers := map[string]rpc.HandlerFunc{
		contract.PatternCreate:            s.create,
		contract.PatternVerifyCredentials: s.verifyCredentials,
		contract.PatternGetByID:           s.getByID,
		contract.PatternConfirm:           s.confirm,
		contract.PatternUpdate:            s.update,
		contract.PatternClose:             s.close,
	}
	for pattern, h := range handlers {
		if err := srv.Handle(ctx, pattern, h); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) create(ctx context.Context, raw json.RawMessage) (any, error) {
	var req contract.CreateRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	resp, err := s.profiles.Create(ctx, req)
	return resp, toRemote(err)
}

func (s *Server) verifyCredentials(ctx context.Context, raw json.RawMessage) (any, error) {
	var req contract.VerifyCredentialsRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	ref, err := s.profiles.VerifyCredentials(ctx, req.Email, req.Password)
	return ref, toRemote(err)
}

func (s *Server) getByID(ctx context.Context, raw json.RawMessage) (any, error) {
	var req contract.GetByIDRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	ref, err := s.profiles.GetByID(ctx, req.UserID)
	return ref, toRemote(err)
}

func (s *Server) confirm(ctx context.Context, raw json.RawMessage) (any, error) {
	var req contract.ConfirmRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	ref, err := s.profiles.Confirm(ctx, req.Token)
	return ref, toRemote(err)
}

func (s *Server) update(ctx context.Context, raw json.RawMessage) (any, error) {
	var req contract.UpdateRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	resp, err := s.profiles.Update(ctx, req.UserID, req.Fields)
	return resp, toRemote(err)
}

func (s *Server) close(ctx context.Context, raw json.RawMessage) (any, error) {
	var req contract.CloseRequest
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	ref, err := s.profiles.Close(ctx, req.UserID, req.Password)
	return ref, toRemote(err)
}

func decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return rpc.Errorf(contract.CodeInvalidArgument, "malformed request: %v", err)
	}
	return nil
}

// toRemote maps service errors to contract codes. Anything unmapped is reported as internal by the rpc server.
func toRemote(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrNotFound):
		return rpc.Errorf(contract.CodeNotFound, "user not found")
	case errors.Is(err, service.ErrInvalidArgument):
		return rpc.Errorf(contract.CodeInvalidArgument, "%s", err.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		return rpc.Errorf(contract.CodeInvalidCredentials, "invalid email or password")
	case errors.Is(err, domain.ErrEmailTaken):
		return rpc.Errorf(contract.CodeEmailTaken, "email already registered")
	case errors.Is(err, service.ErrInvalidConfirmation):
		return rpc.Errorf(contract.CodeInvalidConfirmation, "invalid confirmation token")
	case errors.Is(err, service.ErrAccountClosed):
		return rpc.Errorf(contract.CodeAccountClosed, "account closed")
	case errors.Is(err, service.ErrNotConfirmed):
		return rpc.Errorf(contract.CodeNotConfirmed, "account not confirmed")
	}
	return err
}
