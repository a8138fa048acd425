package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"cryptoforum/backend/internal/security"
	sessiondomain "cryptoforum/backend/internal/session/domain"
	sessionrepo "cryptoforum/backend/internal/session/repository"
)

const meterName = "cryptoforum/backend/identity"

// TokenPair is the result of issuance or rotation.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
	UserID           string
}

// TokenManager issues, verifies and rotates access/refresh credentials and keeps
// at most one session per user.
type TokenManager struct {
	codec      *security.TokenCodec
	sessions   sessionrepo.Repository
	users      UserDirectory
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	issued   metric.Int64Counter
	rejected metric.Int64Counter
}

// NewTokenManager returns a TokenManager. Counters are registered on the global meter provider.
func NewTokenManager(codec *security.TokenCodec, sessions sessionrepo.Repository, users UserDirectory, accessTTL, refreshTTL time.Duration) *TokenManager {
	m := &TokenManager{
		codec:      codec,
		sessions:   sessions,
		users:      users,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	meter := otel.Meter(meterName)
	var err error
	if m.issued, err = meter.Int64Counter("identity.tokens.issued",
		metric.WithDescription("Token pairs issued by sign-in or refresh")); err != nil {
		log.Printf("identity: register issued counter: %v", err)
	}
	if m.rejected, err = meter.Int64Counter("identity.tokens.rejected",
		metric.WithDescription("Credentials rejected, by reason")); err != nil {
		log.Printf("identity: register rejected counter: %v", err)
	}
	return m
}

// IssueTokenPair starts a new session for the user, replacing any existing one in a single
// storage operation. Safe to retry on error.
func (m *TokenManager) IssueTokenPair(ctx context.Context, userID, email string) (*TokenPair, error) {
	pair, sess, err := m.mint(userID, email)
	if err != nil {
		return nil, err
	}
	if err := m.sessions.Replace(ctx, sess); err != nil {
		return nil, fmt.Errorf("identity: store session: %w", err)
	}
	m.countIssued(ctx, "issue")
	return pair, nil
}

// VerifyCredential decodes token and checks it is of the expected kind.
func (m *TokenManager) VerifyCredential(token string, expected security.Kind) (security.Payload, error) {
	claims, err := m.verify(token, expected)
	if err != nil {
		m.countRejected(context.Background(), err)
		return nil, err
	}
	return claims.Payload, nil
}

func (m *TokenManager) verify(token string, expected security.Kind) (*security.Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	claims, err := m.codec.Verify(token)
	switch {
	case errors.Is(err, security.ErrTokenExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, ErrTokenMalformed
	}
	if claims.Payload.Kind() != expected {
		return nil, ErrWrongKind
	}
	return claims, nil
}

// Refresh rotates the session addressed by refreshToken and returns a new pair.
// A refresh token whose session is gone fails with ErrSessionNotFound, and one whose session
// was re-bound to another token fails with ErrSessionSuperseded. Of two concurrent refreshes
// with the same token exactly one succeeds.
func (m *TokenManager) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	pair, err := m.refresh(ctx, refreshToken)
	if err != nil && IsDomainError(err) {
		m.countRejected(ctx, err)
	}
	return pair, err
}

func (m *TokenManager) refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := m.verify(refreshToken, security.KindRefresh)
	if err != nil {
		return nil, err
	}
	sessionID := claims.Payload.(security.RefreshPayload).SessionID

	sess, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("identity: load session: %w", err)
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if sess.TokenID != claims.TokenID {
		return nil, ErrSessionSuperseded
	}

	user, err := m.users.Lookup(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		if _, err := m.sessions.DeleteByID(ctx, sess.ID); err != nil {
			log.Printf("identity: delete orphaned session %s: %v", sess.ID, err)
		}
		return nil, ErrSessionNotFound
	}

	pair, next, err := m.mint(sess.UserID, user.Email)
	if err != nil {
		return nil, err
	}
	if err := m.sessions.Rotate(ctx, sess.ID, next); err != nil {
		if errors.Is(err, sessiondomain.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("identity: rotate session: %w", err)
	}
	m.countIssued(ctx, "refresh")
	return pair, nil
}

// Invalidate removes the user's session, if any. Calling it again is a no-op.
func (m *TokenManager) Invalidate(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	n, err := m.sessions.DeleteByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("identity: invalidate sessions for %s: %w", userID, err)
	}
	if n > 0 {
		log.Printf("identity: invalidated session for user %s", userID)
	}
	return nil
}

func (m *TokenManager) mint(userID, email string) (*TokenPair, *sessiondomain.Session, error) {
	sessionID := uuid.New().String()
	access, err := m.codec.Mint(security.AccessPayload{UserID: userID, Email: email}, m.accessTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: issue access token: %w", err)
	}
	refresh, err := m.codec.Mint(security.RefreshPayload{SessionID: sessionID}, m.refreshTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("identity: issue refresh token: %w", err)
	}
	sess := &sessiondomain.Session{
		ID:        sessionID,
		UserID:    userID,
		TokenID:   refresh.TokenID,
		CreatedAt: m.now().UTC(),
	}
	return &TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		SessionID:        sessionID,
		UserID:           userID,
	}, sess, nil
}

func (m *TokenManager) countIssued(ctx context.Context, via string) {
	if m.issued != nil {
		m.issued.Add(ctx, 1, metric.WithAttributes(attribute.String("via", via)))
	}
}

func (m *TokenManager) countRejected(ctx context.Context, err error) {
	if m.rejected != nil {
		m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", rejectReason(err))))
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "missing_token"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTokenMalformed):
		return "token_malformed"
	case errors.Is(err, ErrWrongKind):
		return "wrong_kind"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrSessionSuperseded):
		return "session_superseded"
	}
	return "other"
}
