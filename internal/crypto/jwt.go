package crypto

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/outs/outs-auth-go/internal/model"
)

const (
	tokenIssuer   = "outs-auth"
	tokenAudience = "outs-api"
)

var ErrUnknownTokenKind = errors.New("unknown token kind")

// TokenKind distinguishes access tokens from refresh tokens. Both carry the
// same claims; they differ only in signing secret and lifetime.
type TokenKind int

const (
	AccessToken TokenKind = iota
	RefreshToken
)

func (k TokenKind) String() string {
	switch k {
	case AccessToken:
		return "access"
	case RefreshToken:
		return "refresh"
	default:
		return "unknown"
	}
}

// Claims represents the JWT claims issued by the auth service.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// TokenConfig holds the independent secret and lifetime of each token kind.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// TokenPair is a freshly minted access/refresh pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// TokenIssuer creates and verifies HS256 bearer tokens.
type TokenIssuer struct {
	cfg TokenConfig
	now func() time.Time
}

// NewTokenIssuer creates a TokenIssuer using the wall clock.
func NewTokenIssuer(cfg TokenConfig) *TokenIssuer {
	return &TokenIssuer{cfg: cfg, now: time.Now}
}

// WithClock returns a copy of the issuer that verifies expiry against now.
func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	return &TokenIssuer{cfg: t.cfg, now: now}
}

func (t *TokenIssuer) key(kind TokenKind) ([]byte, time.Duration, error) {
	switch kind {
	case AccessToken:
		return []byte(t.cfg.AccessSecret), t.cfg.AccessTTL, nil
	case RefreshToken:
		return []byte(t.cfg.RefreshSecret), t.cfg.RefreshTTL, nil
	default:
		return nil, 0, ErrUnknownTokenKind
	}
}

// Issue signs a token of the given kind for user. Expiry is the absolute
// second now.Unix() + lifetime.
func (t *TokenIssuer) Issue(kind TokenKind, user *model.User, now time.Time) (string, error) {
	secret, ttl, err := t.key(kind)
	if err != nil {
		return "", err
	}

	exp := time.Unix(now.Unix()+int64(ttl/time.Second), 0)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Email: user.Email,
		Role:  user.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// IssuePair signs an access token and a refresh token for user.
func (t *TokenIssuer) IssuePair(user *model.User, now time.Time) (TokenPair, error) {
	access, err := t.Issue(AccessToken, user, now)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := t.Issue(RefreshToken, user, now)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Verify checks signature, algorithm, issuer, audience and expiry (valid only
// while now < exp). Any failure yields ok=false; the reason is not exposed.
func (t *TokenIssuer) Verify(kind TokenKind, tokenString string) (*Claims, bool) {
	secret, _, err := t.key(kind)
	if err != nil || tokenString == "" {
		return nil, false
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, false
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, false
	}
	return claims, true
}
