// Package repotest provides in-memory repository implementations for tests.
// They mirror the postgres repositories' contracts, including the
// compare-and-swap consume and the at-most-one-unused-code invariant.
package repotest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	autherrors "github.com/veriauth/server/internal/auth/errors"
	"github.com/veriauth/server/internal/model"
	"github.com/veriauth/server/internal/repo"
)

// MemUserRepo is a map-backed repo.UserRepo.
type MemUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]model.User
}

func NewMemUserRepo() *MemUserRepo {
	return &MemUserRepo{users: map[uuid.UUID]model.User{}}
}

func (r *MemUserRepo) Create(_ context.Context, params repo.CreateUserParams) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == params.Email {
			return model.User{}, autherrors.ErrAlreadyExists
		}
	}
	user := model.User{
		ID:           uuid.New(),
		Email:        params.Email,
		PasswordHash: params.PasswordHash,
		FirstName:    params.FirstName,
		LastName:     params.LastName,
		IsVerified:   params.IsVerified,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	r.users[user.ID] = user
	return user, nil
}

func (r *MemUserRepo) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return model.User{}, autherrors.ErrNotFound
	}
	return u, nil
}

func (r *MemUserRepo) GetByEmail(_ context.Context, email string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, autherrors.ErrNotFound
}

func (r *MemUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := r.GetByEmail(ctx, email)
	if err != nil {
		if autherrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Put stores a user directly, bypassing Create. For seeding test state.
func (r *MemUserRepo) Put(u model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

// MemCodeRepo is a slice-backed repo.CodeRepo.
type MemCodeRepo struct {
	mu    sync.Mutex
	codes []model.VerificationCode
}

func NewMemCodeRepo() *MemCodeRepo {
	return &MemCodeRepo{}
}

func (r *MemCodeRepo) InvalidateAndCreate(_ context.Context, email, code string, expiresAt time.Time) (model.VerificationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.codes {
		if r.codes[i].Email == email && !r.codes[i].IsUsed {
			r.codes[i].IsUsed = true
		}
	}
	vc := model.VerificationCode{
		ID:        uuid.New(),
		Email:     email,
		Code:      code,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
	}
	r.codes = append(r.codes, vc)
	return vc, nil
}

func (r *MemCodeRepo) FindLatestUnused(_ context.Context, email, code string) (model.VerificationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *model.VerificationCode
	for i := range r.codes {
		c := &r.codes[i]
		if c.Email == email && c.Code == code && !c.IsUsed {
			if found == nil || c.CreatedAt.After(found.CreatedAt) {
				found = c
			}
		}
	}
	if found == nil {
		return model.VerificationCode{}, autherrors.ErrNotFound
	}
	return *found, nil
}

func (r *MemCodeRepo) Consume(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.codes {
		if r.codes[i].ID == id {
			if r.codes[i].IsUsed {
				return autherrors.ErrNotFound
			}
			r.codes[i].IsUsed = true
			return nil
		}
	}
	return autherrors.ErrNotFound
}

func (r *MemCodeRepo) HasConsumed(_ context.Context, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.codes {
		if c.Email == email && c.IsUsed {
			return true, nil
		}
	}
	return false, nil
}

// All returns a snapshot of stored codes, oldest first.
func (r *MemCodeRepo) All() []model.VerificationCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.VerificationCode, len(r.codes))
	copy(out, r.codes)
	return out
}

// MemTokenRepo is a map-backed repo.TokenRepo.
type MemTokenRepo struct {
	mu      sync.Mutex
	revoked map[uuid.UUID]model.RevokedToken
}

func NewMemTokenRepo() *MemTokenRepo {
	return &MemTokenRepo{revoked: map[uuid.UUID]model.RevokedToken{}}
}

func (r *MemTokenRepo) Revoke(_ context.Context, jti, userID uuid.UUID, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.revoked[jti]; ok {
		return autherrors.ErrAlreadyExists
	}
	r.revoked[jti] = model.RevokedToken{
		JTI:       jti,
		UserID:    userID,
		ExpiresAt: expiresAt,
		RevokedAt: time.Now().UTC(),
	}
	return nil
}

func (r *MemTokenRepo) IsRevoked(_ context.Context, jti uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.revoked[jti]
	return ok, nil
}

var (
	_ repo.UserRepo  = (*MemUserRepo)(nil)
	_ repo.CodeRepo  = (*MemCodeRepo)(nil)
	_ repo.TokenRepo = (*MemTokenRepo)(nil)
)
