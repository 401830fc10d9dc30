package auth

import (
	"strings"
	"unicode"

	"github.com/alexedwards/argon2id"

	autherrors "github.com/veriauth/server/internal/auth/errors"
)

// PasswordHasher hashes and verifies passwords. Verification is
// constant-time for a given hash.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) (bool, error)
}

// Argon2Hasher is the argon2id implementation of PasswordHasher
type Argon2Hasher struct {
	params *argon2id.Params
}

// NewArgon2Hasher creates a hasher with the library defaults
func NewArgon2Hasher() *Argon2Hasher {
	return &Argon2Hasher{params: argon2id.DefaultParams}
}

func (h *Argon2Hasher) Hash(password string) (string, error) {
	hash, err := argon2id.CreateHash(password, h.params)
	if err != nil {
		return "", autherrors.WrapInternal(err, "hash password")
	}
	return hash, nil
}

func (h *Argon2Hasher) Verify(password, hash string) (bool, error) {
	match, err := argon2id.ComparePasswordAndHash(password, hash)
	if err != nil {
		return false, autherrors.WrapInternal(err, "verify password")
	}
	return match, nil
}

const minPasswordLength = 8

// commonPasswords is a slice of the usual leaked-password suspects. Matching
// is case-insensitive.
var commonPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"passw0rd":    {},
	"12345678":    {},
	"123456789":   {},
	"1234567890":  {},
	"qwerty123":   {},
	"qwertyuiop":  {},
	"iloveyou":    {},
	"sunshine":    {},
	"princess":    {},
	"football":    {},
	"baseball":    {},
	"superman":    {},
	"trustno1":    {},
	"welcome1":    {},
	"whatever":    {},
	"letmein1":    {},
	"michael1":    {},
	"jennifer":    {},
	"starwars":    {},
	"computer":    {},
	"11111111":    {},
	"aa123456":    {},
	"abc12345":    {},
	"dragon123":   {},
	"monkey123":   {},
	"shadow123":   {},
	"master123":   {},
}

// ValidatePassword enforces the signup password policy: minimum length, not
// entirely numeric, not a common password, not too similar to the user's own
// attributes. userAttrs pairs an attribute label with its value, e.g.
// ("email address", "a@b.com").
func ValidatePassword(password string, userAttrs ...[2]string) error {
	if len(password) < minPasswordLength {
		return autherrors.NewInvalidPassword(
			"This password is too short. It must contain at least 8 characters.")
	}

	numeric := true
	for _, r := range password {
		if !unicode.IsDigit(r) {
			numeric = false
			break
		}
	}
	if numeric {
		return autherrors.NewInvalidPassword("This password is entirely numeric.")
	}

	lower := strings.ToLower(password)
	if _, ok := commonPasswords[lower]; ok {
		return autherrors.NewInvalidPassword("This password is too common.")
	}

	for _, attr := range userAttrs {
		label, value := attr[0], strings.ToLower(strings.TrimSpace(attr[1]))
		if value == "" {
			continue
		}
		for _, part := range splitAttribute(value) {
			if len(part) < 3 {
				continue
			}
			if strings.Contains(lower, part) || strings.Contains(part, lower) {
				return autherrors.NewInvalidPassword(
					"The password is too similar to the " + label + ".")
			}
		}
	}

	return nil
}

// splitAttribute breaks an attribute into comparable words; an email address
// contributes both its local part and the words inside it.
func splitAttribute(value string) []string {
	parts := []string{value}
	for _, sep := range []string{"@", ".", "_", "-", "+"} {
		value = strings.ReplaceAll(value, sep, " ")
	}
	for _, w := range strings.Fields(value) {
		parts = append(parts, w)
	}
	return parts
}
