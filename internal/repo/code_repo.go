package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	autherrors "github.com/veriauth/server/internal/auth/errors"
	"github.com/veriauth/server/internal/model"
)

// CodeRepo defines the interface for verification-code repository operations
type CodeRepo interface {
	// InvalidateAndCreate atomically marks all unused codes for the email as
	// used and inserts a fresh one.
	InvalidateAndCreate(ctx context.Context, email, code string, expiresAt time.Time) (model.VerificationCode, error)
	// FindLatestUnused returns the most recent unused row matching (email, code).
	FindLatestUnused(ctx context.Context, email, code string) (model.VerificationCode, error)
	// Consume flips is_used false -> true; a row already consumed reports ErrNotFound.
	Consume(ctx context.Context, id uuid.UUID) error
	// HasConsumed reports whether any used code exists for the email.
	HasConsumed(ctx context.Context, email string) (bool, error)
}

type codeRepo struct {
	db *sql.DB
}

// NewCodeRepo creates a new CodeRepo instance
func NewCodeRepo(db *sql.DB) CodeRepo {
	return &codeRepo{db: db}
}

// InvalidateAndCreate serializes issuance per email with an advisory lock so
// two concurrent requests cannot leave two unused rows (unique partial index
// on email WHERE NOT is_used would reject the second insert otherwise).
func (r *codeRepo) InvalidateAndCreate(ctx context.Context, email, code string, expiresAt time.Time) (model.VerificationCode, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.VerificationCode{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Blocks until we hold the lock; released on COMMIT/ROLLBACK.
	_, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(1, hashtext($1))`, email)
	if err != nil {
		return model.VerificationCode{}, fmt.Errorf("advisory lock: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE verification_codes
		SET is_used = TRUE
		WHERE email = $1 AND NOT is_used
	`, email)
	if err != nil {
		return model.VerificationCode{}, fmt.Errorf("invalidate prior codes: %w", err)
	}

	vc := model.VerificationCode{
		Email:     email,
		Code:      code,
		ExpiresAt: expiresAt,
	}
	var idStr string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO verification_codes (email, code, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, email, code, expiresAt).Scan(&idStr, &vc.CreatedAt)
	if err != nil {
		return model.VerificationCode{}, fmt.Errorf("insert code: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.VerificationCode{}, fmt.Errorf("commit: %w", err)
	}

	vc.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.VerificationCode{}, fmt.Errorf("parse code ID: %w", err)
	}
	return vc, nil
}

// FindLatestUnused picks the latest row by creation time. The at-most-one
// invariant should make LIMIT 1 redundant; ordering is defensive.
func (r *codeRepo) FindLatestUnused(ctx context.Context, email, code string) (model.VerificationCode, error) {
	var vc model.VerificationCode
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, code, created_at, expires_at, is_used
		FROM verification_codes
		WHERE email = $1 AND code = $2 AND NOT is_used
		ORDER BY created_at DESC
		LIMIT 1
	`, email, code).Scan(
		&idStr,
		&vc.Email,
		&vc.Code,
		&vc.CreatedAt,
		&vc.ExpiresAt,
		&vc.IsUsed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.VerificationCode{}, autherrors.ErrNotFound
		}
		return model.VerificationCode{}, fmt.Errorf("query code: %w", err)
	}
	vc.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.VerificationCode{}, fmt.Errorf("parse code ID: %w", err)
	}
	return vc, nil
}

// Consume is a compare-and-swap on is_used: concurrent verifies with the same
// code yield exactly one success.
func (r *codeRepo) Consume(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE verification_codes SET is_used = TRUE WHERE id = $1 AND NOT is_used
	`, id)
	if err != nil {
		return fmt.Errorf("consume code: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return autherrors.ErrNotFound
	}
	return nil
}

// HasConsumed reports whether the email ever completed a successful
// verification. Any historical used row counts.
func (r *codeRepo) HasConsumed(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM verification_codes WHERE email = $1 AND is_used)`, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check consumed code: %w", err)
	}
	return exists, nil
}
