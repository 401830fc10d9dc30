package model

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered account. Email is the login name and is
// stored lowercase.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	IsVerified   bool
	IsActive     bool
	CreatedAt    time.Time
}

// VerificationCode is a one-time 5-digit signup code. Rows are never
// deleted; superseded or consumed codes are marked used.
type VerificationCode struct {
	ID        uuid.UUID
	Email     string
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
	IsUsed    bool
}

// RevokedToken records a blacklisted refresh-token jti. Membership is
// permanent for the token's lifetime.
type RevokedToken struct {
	JTI       uuid.UUID
	UserID    uuid.UUID
	ExpiresAt time.Time
	RevokedAt time.Time
}
