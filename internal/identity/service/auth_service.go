package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"cryptoforum/backend/internal/identity/events"
	"cryptoforum/backend/internal/security"
	"cryptoforum/backend/internal/server/interceptors"
	"cryptoforum/backend/internal/user/contract"
)

// Publisher hands identity events to the bus.
type Publisher interface {
	Publish(ctx context.Context, e events.Event) error
	PublishAsync(e events.Event)
}

// SignUpResult is returned by SignUp; tokens are issued only after sign-in.
type SignUpResult struct {
	UserID string
	Email  string
}

// AuthService implements the account flows on top of the TokenManager, the user-profile
// service and the event bus. Every flow publishes an audit LogAction, SUCCESS or ERROR.
type AuthService struct {
	tokens    *TokenManager
	profiles  ProfileClient
	publisher Publisher

	maxTries        uint
	initialInterval time.Duration
	now             func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(tokens *TokenManager, profiles ProfileClient, publisher Publisher) *AuthService {
	return &AuthService{
		tokens:          tokens,
		profiles:        profiles,
		publisher:       publisher,
		maxTries:        3,
		initialInterval: 50 * time.Millisecond,
		now:             time.Now,
	}
}

// SignUp registers a pending account and announces it so the confirmation mail can go out.
func (s *AuthService) SignUp(ctx context.Context, email, password, username string) (res *SignUpResult, err error) {
	defer func() { s.audit(ctx, "auth.sign_up", "", "user signed up", err) }()
	email = normalizeEmail(email)
	username = strings.TrimSpace(username)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	created, err := s.profiles.Create(ctx, contract.CreateRequest{Email: email, Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	ev := events.UserSignedUp{UserID: created.UserID, Email: created.Email, ConfirmationHash: created.ConfirmationToken}
	if err := s.publish(ctx, ev); err != nil {
		return nil, err
	}
	return &SignUpResult{UserID: created.UserID, Email: created.Email}, nil
}

// SignIn checks credentials with the profile service and starts a new session,
// ending any session the user already had.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (pair *TokenPair, err error) {
	var userID string
	defer func() { s.audit(ctx, "auth.sign_in", userID, "user signed in", err) }()
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := retry(ctx, s, func() (*contract.UserRef, error) {
		return s.profiles.VerifyCredentials(ctx, email, password)
	})
	if err != nil {
		return nil, err
	}
	userID = user.ID
	return retry(ctx, s, func() (*TokenPair, error) {
		return s.tokens.IssueTokenPair(ctx, user.ID, user.Email)
	})
}

// Refresh rotates the caller's session. It is not retried: a failed rotation must be
// re-presented by the client.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (pair *TokenPair, err error) {
	defer func() {
		var userID string
		if pair != nil {
			userID = pair.UserID
		}
		s.audit(ctx, "auth.refresh", userID, "session rotated", err)
	}()
	return s.tokens.Refresh(ctx, refreshToken)
}

// Verify returns the access payload carried by token.
func (s *AuthService) Verify(ctx context.Context, token string) (*security.AccessPayload, error) {
	p, err := s.tokens.VerifyCredential(token, security.KindAccess)
	if err != nil {
		return nil, err
	}
	access := p.(security.AccessPayload)
	return &access, nil
}

// Logout announces the logout; the event router deletes the session when it consumes it.
// Logging out twice is harmless.
func (s *AuthService) Logout(ctx context.Context, userID string) (err error) {
	defer func() { s.audit(ctx, "auth.logout", userID, "user logged out", err) }()
	if userID == "" {
		return ErrMissingToken
	}
	return s.publish(ctx, events.UserLoggedOut{UserID: userID})
}

// ConfirmAccount activates the account owning the confirmation token.
func (s *AuthService) ConfirmAccount(ctx context.Context, token string) (userID string, err error) {
	defer func() { s.audit(ctx, "auth.confirm_account", userID, "account confirmed", err) }()
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: confirmation token is required", ErrInvalidArgument)
	}
	user, err := s.profiles.Confirm(ctx, token)
	if err != nil {
		return "", err
	}
	if err := s.publish(ctx, events.AccountConfirmed{HashID: security.DigestToken(token), UserID: user.ID}); err != nil {
		return user.ID, err
	}
	return user.ID, nil
}

// UpdateSettings changes profile fields. Changing email or password ends the current session
// once the router consumes the resulting UserUpdated event.
func (s *AuthService) UpdateSettings(ctx context.Context, userID string, fields map[string]string) (changed []string, err error) {
	defer func() { s.audit(ctx, "auth.update_settings", userID, "settings updated", err) }()
	if userID == "" {
		return nil, ErrMissingToken
	}
	clean, err := validateSettings(fields)
	if err != nil {
		return nil, err
	}
	res, err := s.profiles.Update(ctx, userID, clean)
	if err != nil {
		return nil, err
	}
	if len(res.Changed) == 0 {
		return nil, nil
	}
	published := make(map[string]string, len(res.Changed))
	for _, f := range res.Changed {
		if f == contract.FieldPassword {
			published[f] = ""
			continue
		}
		published[f] = clean[f]
	}
	if err := s.publish(ctx, events.UserUpdated{UserID: userID, Fields: published}); err != nil {
		return nil, err
	}
	return res.Changed, nil
}

// CloseAccount closes the account after re-checking the password.
func (s *AuthService) CloseAccount(ctx context.Context, userID, password string) (err error) {
	defer func() { s.audit(ctx, "auth.close_account", userID, "account closed", err) }()
	if userID == "" {
		return ErrMissingToken
	}
	if password == "" {
		return ErrInvalidCredentials
	}
	if _, err := s.profiles.Close(ctx, userID, password); err != nil {
		return err
	}
	return s.publish(ctx, events.AccountClosed{UserID: userID})
}

func (s *AuthService) publish(ctx context.Context, e events.Event) error {
	_, err := retry(ctx, s, func() (struct{}, error) {
		return struct{}{}, s.publisher.Publish(ctx, e)
	})
	if err != nil {
		return fmt.Errorf("identity: publish %s: %w", e.EventType(), err)
	}
	return nil
}

// audit publishes the LogAction for a flow and marks the RPC as audited.
func (s *AuthService) audit(ctx context.Context, event, userID, okMessage string, err error) {
	interceptors.MarkAudited(ctx)
	entry := events.LogAction{
		Event:     event,
		Message:   okMessage,
		Status:    events.StatusSuccess,
		UserID:    userID,
		Timestamp: s.now().UTC(),
	}
	if err != nil {
		entry.Status = events.StatusError
		entry.Message = err.Error()
		if !IsDomainError(err) {
			log.Printf("identity: %s failed: %v", event, err)
		}
	}
	s.publisher.PublishAsync(entry)
}

// retry runs op with exponential backoff. Domain errors and context cancellation end it at once.
func retry[T any](ctx context.Context, s *AuthService, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialInterval
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && (IsDomainError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.maxTries))
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

var simpleEmail = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidArgument)
	}
	if !simpleEmail.MatchString(email) {
		return fmt.Errorf("%w: invalid email format", ErrInvalidArgument)
	}
	return nil
}

func validateUsername(username string) error {
	if len(username) < 3 || len(username) > 32 {
		return fmt.Errorf("%w: username must be 3 to 32 characters", ErrInvalidArgument)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 12 {
		return fmt.Errorf("%w: password must be at least 12 characters", ErrInvalidArgument)
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		default:
			hasSymbol = true
		}
	}
	if !hasUpper {
		return fmt.Errorf("%w: password must contain at least one uppercase letter", ErrInvalidArgument)
	}
	if !hasLower {
		return fmt.Errorf("%w: password must contain at least one lowercase letter", ErrInvalidArgument)
	}
	if !hasNumber {
		return fmt.Errorf("%w: password must contain at least one number", ErrInvalidArgument)
	}
	if !hasSymbol {
		return fmt.Errorf("%w: password must contain at least one symbol", ErrInvalidArgument)
	}
	return nil
}

// validateSettings keeps only known fields, normalizes them and checks each value.
func validateSettings(fields map[string]string) (map[string]string, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields to update", ErrInvalidArgument)
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		switch k {
		case contract.FieldEmail:
			v = normalizeEmail(v)
			if err := validateEmail(v); err != nil {
				return nil, err
			}
		case contract.FieldUsername:
			v = strings.TrimSpace(v)
			if err := validateUsername(v); err != nil {
				return nil, err
			}
		case contract.FieldPassword:
			if err := validatePassword(v); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidArgument, k)
		}
		out[k] = v
	}
	return out, nil
}
