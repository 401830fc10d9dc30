package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	autherrors "github.com/veriauth/server/internal/auth/errors"
)

// TokenRepo defines the interface for the refresh-token blacklist
type TokenRepo interface {
	// Revoke adds a jti to the blacklist. Revoking a jti twice reports
	// ErrAlreadyExists; the insert itself is idempotent.
	Revoke(ctx context.Context, jti, userID uuid.UUID, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti uuid.UUID) (bool, error)
}

type tokenRepo struct {
	db *sql.DB
}

// NewTokenRepo creates a new TokenRepo instance
func NewTokenRepo(db *sql.DB) TokenRepo {
	return &tokenRepo{db: db}
}

func (r *tokenRepo) Revoke(ctx context.Context, jti, userID uuid.UUID, expiresAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (jti) DO NOTHING
	`, jti, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return autherrors.ErrAlreadyExists
	}
	return nil
}

func (r *tokenRepo) IsRevoked(ctx context.Context, jti uuid.UUID) (bool, error) {
	var revoked bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = $1)`, jti,
	).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}
