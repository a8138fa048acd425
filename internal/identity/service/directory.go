package service

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"cryptoforum/backend/internal/rpc"
	"cryptoforum/backend/internal/user/contract"
)

// UserDirectory resolves the current identity of a user. Lookup returns (nil, nil) when the user no longer exists.
type UserDirectory interface {
	Lookup(ctx context.Context, userID string) (*contract.UserRef, error)
}

// ProfileClient is the set of user-profile operations the auth flows need.
type ProfileClient interface {
	UserDirectory
	Create(ctx context.Context, req contract.CreateRequest) (*contract.CreateResponse, error)
	VerifyCredentials(ctx context.Context, email, password string) (*contract.UserRef, error)
	Confirm(ctx context.Context, token string) (*contract.UserRef, error)
	Update(ctx context.Context, userID string, fields map[string]string) (*contract.UpdateResponse, error)
	Close(ctx context.Context, userID, password string) (*contract.UserRef, error)
}

// Caller issues one request/response exchange; *rpc.Client implements it.
type Caller interface {
	Call(ctx context.Context, pattern string, req, resp any) error
}

// RPCProfileClient reaches the user-profile service over the bus.
type RPCProfileClient struct {
	caller Caller
	// lookups collapses concurrent Lookup calls for the same user into one request.
	lookups singleflight.Group
}

// NewRPCProfileClient returns a ProfileClient backed by caller.
func NewRPCProfileClient(caller Caller) *RPCProfileClient {
	return &RPCProfileClient{caller: caller}
}

// Lookup resolves userID. Concurrent lookups for one user share a single request; each
// caller still returns as soon as its own ctx ends.
func (c *RPCProfileClient) Lookup(ctx context.Context, userID string) (*contract.UserRef, error) {
	shared := c.lookups.DoChan(userID, func() (any, error) {
		// Detached from the first caller so its cancellation cannot fail the others;
		// the RPC client's reply timeout still bounds it.
		callCtx := context.WithoutCancel(ctx)
		var out contract.UserRef
		err := c.caller.Call(callCtx, contract.PatternGetByID, contract.GetByIDRequest{UserID: userID}, &out)
		if rpc.IsCode(err, contract.CodeNotFound) {
			return (*contract.UserRef)(nil), nil
		}
		if err != nil {
			return nil, translateRemote(contract.PatternGetByID, err)
		}
		return &out, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-shared:
		if res.Err != nil {
			return nil, res.Err
		}
		ref := res.Val.(*contract.UserRef)
		if ref == nil {
			return nil, nil
		}
		cp := *ref
		return &cp, nil
	}
}

func (c *RPCProfileClient) Create(ctx context.Context, req contract.CreateRequest) (*contract.CreateResponse, error) {
	var out contract.CreateResponse
	if err := c.caller.Call(ctx, contract.PatternCreate, req, &out); err != nil {
		return nil, translateRemote(contract.PatternCreate, err)
	}
	return &out, nil
}

func (c *RPCProfileClient) VerifyCredentials(ctx context.Context, email, password string) (*contract.UserRef, error) {
	var out contract.UserRef
	req := contract.VerifyCredentialsRequest{Email: email, Password: password}
	if err := c.caller.Call(ctx, contract.PatternVerifyCredentials, req, &out); err != nil {
		return nil, translateRemote(contract.PatternVerifyCredentials, err)
	}
	return &out, nil
}

func (c *RPCProfileClient) Confirm(ctx context.Context, token string) (*contract.UserRef, error) {
	var out contract.UserRef
	if err := c.caller.Call(ctx, contract.PatternConfirm, contract.ConfirmRequest{Token: token}, &out); err != nil {
		return nil, translateRemote(contract.PatternConfirm, err)
	}
	return &out, nil
}

func (c *RPCProfileClient) Update(ctx context.Context, userID string, fields map[string]string) (*contract.UpdateResponse, error) {
	var out contract.UpdateResponse
	req := contract.UpdateRequest{UserID: userID, Fields: fields}
	if err := c.caller.Call(ctx, contract.PatternUpdate, req, &out); err != nil {
		return nil, translateRemote(contract.PatternUpdate, err)
	}
	return &out, nil
}

func (c *RPCProfileClient) Close(ctx context.Context, userID, password string) (*contract.UserRef, error) {
	var out contract.UserRef
	req := contract.CloseRequest{UserID: userID, Password: password}
	if err := c.caller.Call(ctx, contract.PatternClose, req, &out); err != nil {
		return nil, translateRemote(contract.PatternClose, err)
	}
	return &out, nil
}

// translateRemote maps remote error codes onto service sentinels and transport failures onto ErrProfileUnavailable.
func translateRemote(pattern string, err error) error {
	var re *rpc.RemoteError
	if errors.As(err, &re) {
		switch re.Code {
		case contract.CodeNotFound:
			return ErrUserNotFound
		case contract.CodeInvalidCredentials:
			return ErrInvalidCredentials
		case contract.CodeEmailTaken:
			return ErrEmailAlreadyRegistered
		case contract.CodeInvalidConfirmation:
			return ErrInvalidConfirmation
		case contract.CodeAccountClosed:
			return ErrAccountClosed
		case contract.CodeNotConfirmed:
			return ErrAccountNotConfirmed
		case contract.CodeInvalidArgument:
			return fmt.Errorf("%w: %s", ErrInvalidArgument, re.Message)
		}
		return fmt.Errorf("%s: %w", pattern, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrProfileUnavailable, pattern, err)
}
