package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	autherrors "github.com/veriauth/server/internal/auth/errors"
	"github.com/veriauth/server/internal/model"
)

// CreateUserParams are the fields supplied at registration.
type CreateUserParams struct {
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	IsVerified   bool
}

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	Create(ctx context.Context, params CreateUserParams) (model.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const uniqueViolation = "23505"

// Create inserts a new user. A duplicate email reports ErrAlreadyExists.
func (r *userRepo) Create(ctx context.Context, params CreateUserParams) (model.User, error) {
	user := model.User{
		Email:        params.Email,
		PasswordHash: params.PasswordHash,
		FirstName:    params.FirstName,
		LastName:     params.LastName,
		IsVerified:   params.IsVerified,
		IsActive:     true,
	}
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, first_name, last_name, is_verified)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, params.Email, params.PasswordHash, params.FirstName, params.LastName, params.IsVerified).
		Scan(&idStr, &user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return model.User{}, autherrors.ErrAlreadyExists
		}
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}
	user.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.User{}, fmt.Errorf("parse user ID: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	return r.get(ctx, `
		SELECT id, email, password_hash, first_name, last_name, is_verified, is_active, created_at
		FROM users
		WHERE id = $1
	`, id)
}

// GetByEmail retrieves a user by lowercase email
func (r *userRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return r.get(ctx, `
		SELECT id, email, password_hash, first_name, last_name, is_verified, is_active, created_at
		FROM users
		WHERE email = $1
	`, email)
}

// ExistsByEmail reports whether any user exists for the email
func (r *userRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return exists, nil
}

func (r *userRepo) get(ctx context.Context, query string, arg interface{}) (model.User, error) {
	var user model.User
	var idStr string
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&idStr,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.IsVerified,
		&user.IsActive,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, autherrors.ErrNotFound
		}
		return model.User{}, fmt.Errorf("query user: %w", err)
	}
	user.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.User{}, fmt.Errorf("parse user ID: %w", err)
	}
	return user, nil
}
