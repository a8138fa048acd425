package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenExpired is returned when the signature is valid but the token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed is returned when the signature is invalid or the token cannot be parsed.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrUnsupportedPayload is returned by Issue for a nil or unknown payload.
	ErrUnsupportedPayload = errors.New("unsupported token payload")
)

// Kind discriminates access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Payload is the typed content of a credential token: AccessPayload or RefreshPayload.
type Payload interface {
	Kind() Kind
}

// AccessPayload authorizes per-request API access for a user.
type AccessPayload struct {
	UserID string
	Email  string
}

func (AccessPayload) Kind() Kind { return KindAccess }

// RefreshPayload points at the server-side session a refresh token may rotate.
type RefreshPayload struct {
	SessionID string
}

func (RefreshPayload) Kind() Kind { return KindRefresh }

// Claims is the verified content of a token.
type Claims struct {
	Payload   Payload
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// tokenClaims is the JWT wire shape shared by both kinds.
type tokenClaims struct {
	jwt.RegisteredClaims
	TokenKind Kind   `json:"kind"`
	Email     string `json:"email,omitempty"`
	SessionID string `json:"sid,omitempty"`
}

// TokenCodec issues and verifies HS256 tokens with a single shared secret.
// It holds no mutable state and is safe for concurrent use.
type TokenCodec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// CodecOption configures a TokenCodec.
type CodecOption func(*TokenCodec)

// WithClock overrides the time source used for issuance and expiry checks.
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) { c.now = now }
}

// NewTokenCodec returns a codec signing with secret. The secret is copied.
func NewTokenCodec(secret []byte, issuer string, opts ...CodecOption) *TokenCodec {
	c := &TokenCodec{
		secret: append([]byte(nil), secret...),
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Issued is a freshly signed token with its identifier and expiry.
type Issued struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
}

// Issue signs payload with an expiry of now+ttl. It fails only for an unsupported payload.
func (c *TokenCodec) Issue(payload Payload, ttl time.Duration) (string, time.Time, error) {
	out, err := c.Mint(payload, ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	return out.Token, out.ExpiresAt, nil
}

// Mint is Issue that also reports the token id (jti), which sessions bind to.
func (c *TokenCodec) Mint(payload Payload, ttl time.Duration) (*Issued, error) {
	jti, err := generateJTI()
	if err != nil {
		return nil, err
	}
	// JWT dates carry whole seconds; truncating here keeps exp exactly iat+ttl.
	now := c.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(ttl)
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	switch p := payload.(type) {
	case AccessPayload:
		claims.TokenKind = KindAccess
		claims.Subject = p.UserID
		claims.Email = p.Email
	case *AccessPayload:
		if p == nil {
			return nil, ErrUnsupportedPayload
		}
		return c.Mint(*p, ttl)
	case RefreshPayload:
		claims.TokenKind = KindRefresh
		claims.SessionID = p.SessionID
	case *RefreshPayload:
		if p == nil {
			return nil, ErrUnsupportedPayload
		}
		return c.Mint(*p, ttl)
	default:
		return nil, ErrUnsupportedPayload
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return nil, err
	}
	return &Issued{Token: signed, TokenID: jti, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Verify checks signature and expiry and returns the typed claims.
// Returns ErrTokenExpired when now >= exp and ErrTokenMalformed for anything else.
func (c *TokenCodec) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(c.issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}
	tc, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	out := &Claims{TokenID: tc.ID, ExpiresAt: tc.ExpiresAt.Time}
	if tc.IssuedAt != nil {
		out.IssuedAt = tc.IssuedAt.Time
	}
	switch tc.TokenKind {
	case KindAccess:
		if tc.Subject == "" {
			return nil, ErrTokenMalformed
		}
		out.Payload = AccessPayload{UserID: tc.Subject, Email: tc.Email}
	case KindRefresh:
		if tc.SessionID == "" {
			return nil, ErrTokenMalformed
		}
		out.Payload = RefreshPayload{SessionID: tc.SessionID}
	default:
		return nil, ErrTokenMalformed
	}
	return out, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
