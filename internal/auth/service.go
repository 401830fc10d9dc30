package auth

import (
	"context"

	"go.uber.org/zap"

	autherrors "github.com/veriauth/server/internal/auth/errors"
	"github.com/veriauth/server/internal/model"
	"github.com/veriauth/server/internal/repo"
)

// AuthService orchestrates registration, login and the token lifecycle
type AuthService struct {
	users  repo.UserRepo
	codes  repo.CodeRepo
	tokens repo.TokenRepo
	jwt    *TokenService
	hasher PasswordHasher
	log    *zap.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(
	users repo.UserRepo,
	codes repo.CodeRepo,
	tokens repo.TokenRepo,
	jwt *TokenService,
	hasher PasswordHasher,
	log *zap.Logger,
) *AuthService {
	return &AuthService{
		users:  users,
		codes:  codes,
		tokens: tokens,
		jwt:    jwt,
		hasher: hasher,
		log:    log,
	}
}

// RegisterParams are the registration inputs after transport decoding.
type RegisterParams struct {
	Email           string
	Password        string
	PasswordConfirm string
	FirstName       string
	LastName        string
}

// CheckEmail reports whether an account exists for the email. No side
// effects; the client uses it to pick the login or signup flow.
func (s *AuthService) CheckEmail(ctx context.Context, email string) (bool, error) {
	exists, err := s.users.ExistsByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return false, autherrors.WrapInternal(err, "check email")
	}
	return exists, nil
}

// Register creates a verified account for an email that completed the code
// step at some point. Check order: password/confirm mismatch, password
// policy, historical verification, uniqueness.
func (s *AuthService) Register(ctx context.Context, params RegisterParams) (model.User, TokenPair, error) {
	email := NormalizeEmail(params.Email)

	if params.Password != params.PasswordConfirm {
		return model.User{}, TokenPair{}, autherrors.ErrPasswordMismatch
	}

	if err := ValidatePassword(params.Password,
		[2]string{"email address", email},
		[2]string{"first name", params.FirstName},
		[2]string{"last name", params.LastName},
	); err != nil {
		return model.User{}, TokenPair{}, err
	}

	// Any historical used code for this email counts; the check is not
	// bound to a specific verify call and has no freshness window.
	verified, err := s.codes.HasConsumed(ctx, email)
	if err != nil {
		return model.User{}, TokenPair{}, autherrors.WrapInternal(err, "check verified email")
	}
	if !verified {
		return model.User{}, TokenPair{}, autherrors.ErrEmailNotVerified
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return model.User{}, TokenPair{}, autherrors.WrapInternal(err, "check user exists")
	}
	if exists {
		return model.User{}, TokenPair{}, autherrors.ErrAlreadyExists
	}

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return model.User{}, TokenPair{}, err
	}

	user, err := s.users.Create(ctx, repo.CreateUserParams{
		Email:        email,
		PasswordHash: hash,
		FirstName:    params.FirstName,
		LastName:     params.LastName,
		IsVerified:   true,
	})
	if err != nil {
		if autherrors.IsAlreadyExists(err) {
			return model.User{}, TokenPair{}, autherrors.ErrAlreadyExists
		}
		return model.User{}, TokenPair{}, autherrors.WrapInternal(err, "create user")
	}

	pair, err := s.jwt.IssuePair(user.ID)
	if err != nil {
		return model.User{}, TokenPair{}, err
	}

	s.log.Info("user registered", zap.String("email", user.Email), zap.String("user_id", user.ID.String()))
	return user, pair, nil
}

// Login authenticates credentials and issues a token pair. Unknown email and
// wrong password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (model.User, TokenPair, error) {
	email = NormalizeEmail(email)

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if autherrors.IsNotFound(err) {
			return model.User{}, TokenPair{}, autherrors.ErrInvalidCredentials
		}
		return model.User{}, TokenPair{}, autherrors.WrapInternal(err, "load user")
	}

	match, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return model.User{}, TokenPair{}, err
	}
	if !match {
		return model.User{}, TokenPair{}, autherrors.ErrInvalidCredentials
	}

	if !user.IsActive {
		return model.User{}, TokenPair{}, autherrors.ErrAccountDisabled
	}
	if !user.IsVerified {
		return model.User{}, TokenPair{}, autherrors.ErrEmailNotVerified
	}

	pair, err := s.jwt.IssuePair(user.ID)
	if err != nil {
		return model.User{}, TokenPair{}, err
	}

	s.log.Info("user logged in", zap.String("user_id", user.ID.String()))
	return user, pair, nil
}

// Logout blacklists the presented refresh token. A malformed, expired or
// already-blacklisted token reports ErrInvalidToken.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.jwt.ParseRefresh(refreshToken)
	if err != nil {
		return autherrors.ErrInvalidToken
	}
	jti, err := claims.JTI()
	if err != nil {
		return autherrors.ErrInvalidToken
	}
	userID, err := claims.UserID()
	if err != nil {
		return autherrors.ErrInvalidToken
	}

	if err := s.tokens.Revoke(ctx, jti, userID, claims.ExpiresAt.Time); err != nil {
		if autherrors.IsAlreadyExists(err) {
			return autherrors.ErrInvalidToken
		}
		return autherrors.WrapInternal(err, "blacklist refresh token")
	}

	s.log.Info("refresh token revoked", zap.String("user_id", userID.String()))
	return nil
}

// Refresh rotates a refresh token: the presented token is blacklisted
// atomically before a new pair is issued, so it can never yield another
// pair. A blacklisted or invalid token reports ErrInvalidToken.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.jwt.ParseRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, autherrors.ErrInvalidToken
	}
	jti, err := claims.JTI()
	if err != nil {
		return TokenPair{}, autherrors.ErrInvalidToken
	}
	userID, err := claims.UserID()
	if err != nil {
		return TokenPair{}, autherrors.ErrInvalidToken
	}

	// The idempotent blacklist insert doubles as the rotation lock: of two
	// concurrent refreshes with the same token, exactly one wins.
	if err := s.tokens.Revoke(ctx, jti, userID, claims.ExpiresAt.Time); err != nil {
		if autherrors.IsAlreadyExists(err) {
			return TokenPair{}, autherrors.ErrInvalidToken
		}
		return TokenPair{}, autherrors.WrapInternal(err, "rotate refresh token")
	}

	return s.jwt.IssuePair(userID)
}
