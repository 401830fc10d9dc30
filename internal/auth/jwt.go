package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	autherrors "github.com/veriauth/server/internal/auth/errors"
)

const (
	// TokenTypeAccess marks short-lived bearer tokens.
	TokenTypeAccess = "access"
	// TokenTypeRefresh marks rotation-tracked refresh tokens.
	TokenTypeRefresh = "refresh"
)

// Claims are the signed contents of both token kinds. Subject carries the
// user ID, ID the per-token jti.
type Claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, autherrors.ErrInvalidToken
	}
	return id, nil
}

// JTI parses the token identifier claim.
func (c *Claims) JTI() (uuid.UUID, error) {
	jti, err := uuid.Parse(c.ID)
	if err != nil {
		return uuid.Nil, autherrors.ErrInvalidToken
	}
	return jti, nil
}

// TokenPair is an access/refresh pair issued together.
type TokenPair struct {
	Access  string
	Refresh string
}

// TokenService signs and validates HS256 token pairs. Tokens are
// self-contained: signature and expiry validate without a store lookup.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService creates a new token service
func NewTokenService(secret string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// IssuePair mints a fresh access/refresh pair for the user.
func (s *TokenService) IssuePair(userID uuid.UUID) (TokenPair, error) {
	access, err := s.sign(userID, TokenTypeAccess, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.sign(userID, TokenTypeRefresh, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh}, nil
}

func (s *TokenService) sign(userID uuid.UUID, tokenType string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &Claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", autherrors.WrapInternal(err, "sign "+tokenType+" token")
	}
	return signed, nil
}

// ParseAccess validates an access token's signature, expiry and type.
func (s *TokenService) ParseAccess(raw string) (*Claims, error) {
	return s.parse(raw, TokenTypeAccess)
}

// ParseRefresh validates a refresh token's signature, expiry and type.
// Blacklist membership is the caller's concern.
func (s *TokenService) ParseRefresh(raw string) (*Claims, error) {
	return s.parse(raw, TokenTypeRefresh)
}

func (s *TokenService) parse(raw, wantType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, autherrors.ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		return nil, autherrors.ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, autherrors.ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return nil, autherrors.ErrInvalidToken
	}
	return claims, nil
}
