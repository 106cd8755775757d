package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"resqlink.org/internal/policy"
)

const defaultTokenTTL = 24 * time.Hour

const defaultIssuer = "resqlink"

// Claims are the JWT claims carried by every session token. The subject is
// the identity's external id (real_id); the role claim is re-validated on
// every protected call, so a stale client copy of the role is never trusted.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Tokens issues and validates signed session tokens and owns the revocation
// set consulted on every validation.
type Tokens struct {
	secret      []byte
	issuer      string
	ttl         time.Duration
	now         func() time.Time
	revocations *Revocations
}

// TokensOption configures a Tokens instance.
type TokensOption func(*Tokens)

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) TokensOption {
	return func(t *Tokens) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			t.issuer = issuer
		}
	}
}

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) TokensOption {
	return func(t *Tokens) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// WithClock overrides the time source. Only intended for tests.
func WithClock(now func() time.Time) TokensOption {
	return func(t *Tokens) {
		if now != nil {
			t.now = now
		}
	}
}

// WithRevocations injects a shared revocation set.
func WithRevocations(r *Revocations) TokensOption {
	return func(t *Tokens) {
		if r != nil {
			t.revocations = r
		}
	}
}

// NewTokens constructs a token service signing with the given HS256 secret.
func NewTokens(secret string, opts ...TokensOption) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	t := &Tokens{
		secret:      []byte(secret),
		issuer:      defaultIssuer,
		ttl:         defaultTokenTTL,
		now:         time.Now,
		revocations: NewRevocations(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Issue signs a time-bounded token for the identity. It has no storage side
// effect; the token itself carries subject, role and a unique id.
func (t *Tokens) Issue(realID string, role policy.Role) (string, time.Time, error) {
	realID = strings.TrimSpace(realID)
	if realID == "" {
		return "", time.Time{}, errors.New("auth: subject is required")
	}
	now := t.now().UTC()
	expiresAt := now.Add(t.ttl)
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   realID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate verifies signature, issuer, expiry and revocation state. Every
// failure collapses to ErrInvalidToken.
func (t *Tokens) Validate(token string) (*Claims, error) {
	claims, err := t.parse(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if t.revocations.Contains(claims.ID) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Revoke invalidates an otherwise valid token for the remainder of its
// lifetime. Revoking an already revoked or invalid token is a no-op.
func (t *Tokens) Revoke(token string) {
	claims, err := t.parse(token)
	if err != nil {
		return
	}
	t.revocations.Add(claims.ID, claims.ExpiresAt.Time)
}

func (t *Tokens) parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now), jwt.WithIssuer(t.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	if _, err := policy.ParseRole(claims.Role); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
