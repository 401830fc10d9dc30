package auth

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	autherrors "github.com/veriauth/server/internal/auth/errors"
	"github.com/veriauth/server/internal/mail"
	"github.com/veriauth/server/internal/repo"
)

const codeLength = 5

// GenerateCode returns a uniform random 5-digit code, leading zeros
// included.
func GenerateCode() string {
	return fmt.Sprintf("%05d", rand.Intn(100000))
}

// CodeService owns the verification-code lifecycle: issue, supersede,
// expire, consume.
type CodeService struct {
	codes    repo.CodeRepo
	users    repo.UserRepo
	mailer   mail.Mailer
	ttl      time.Duration
	log      *zap.Logger
	now      func() time.Time
	generate func() string
}

// NewCodeService creates a new verification-code service
func NewCodeService(codes repo.CodeRepo, users repo.UserRepo, mailer mail.Mailer, ttl time.Duration, log *zap.Logger) *CodeService {
	return &CodeService{
		codes:    codes,
		users:    users,
		mailer:   mailer,
		ttl:      ttl,
		log:      log,
		now:      time.Now,
		generate: GenerateCode,
	}
}

// TTLMinutes is the configured code lifetime in whole minutes, as exposed in
// the send-code response.
func (s *CodeService) TTLMinutes() int {
	return int(s.ttl / time.Minute)
}

// RequestCode issues a fresh code for the email, superseding any unused
// prior codes, and mails it. A registered email is rejected with
// ErrAlreadyExists. If dispatch fails the inserted row stays (it is unusable
// in practice and will expire or be superseded) and ErrEmailDelivery is
// returned so the client can retry.
func (s *CodeService) RequestCode(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return autherrors.WrapInternal(err, "check user exists")
	}
	if exists {
		return autherrors.ErrAlreadyExists
	}

	code := s.generate()
	expiresAt := s.now().Add(s.ttl)
	if _, err := s.codes.InvalidateAndCreate(ctx, email, code, expiresAt); err != nil {
		return autherrors.WrapInternal(err, "create verification code")
	}

	msg := mail.Message{
		To:      email,
		Subject: "Your Verification Code",
		Body: fmt.Sprintf("Your verification code is: %s\n\nThis code will expire in %d minutes.",
			code, s.TTLMinutes()),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.log.Error("verification code dispatch failed", zap.String("email", email), zap.Error(err))
		return fmt.Errorf("%w: %v", autherrors.ErrEmailDelivery, err)
	}

	s.log.Info("verification code sent", zap.String("email", email))
	return nil
}

// VerifyCode consumes a valid code. A wrong, already-used or unknown code
// reports ErrCodeInvalid; the caller cannot distinguish those cases. An
// expired code reports ErrCodeExpired and stays unused.
func (s *CodeService) VerifyCode(ctx context.Context, email, code string) error {
	email = NormalizeEmail(email)

	vc, err := s.codes.FindLatestUnused(ctx, email, code)
	if err != nil {
		if autherrors.IsNotFound(err) {
			return autherrors.ErrCodeInvalid
		}
		return autherrors.WrapInternal(err, "find verification code")
	}

	if !s.now().Before(vc.ExpiresAt) {
		return autherrors.ErrCodeExpired
	}

	if err := s.codes.Consume(ctx, vc.ID); err != nil {
		// Lost the race to a concurrent verify; the code is spent.
		if autherrors.IsNotFound(err) {
			return autherrors.ErrCodeInvalid
		}
		return autherrors.WrapInternal(err, "consume verification code")
	}
	return nil
}

// NormalizeEmail lowercases and trims an address; emails are stored and
// matched in this form everywhere.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
