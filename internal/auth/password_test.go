package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	autherrors "github.com/veriauth/server/internal/auth/errors"
)

func TestArgon2HasherRoundTrip(t *testing.T) {
	hasher := NewArgon2Hasher()

	hash, err := hasher.Hash(testPassword)
	require.NoError(t, err)
	assert.NotEqual(t, testPassword, hash)

	match, err := hasher.Verify(testPassword, hash)
	require.NoError(t, err)
	assert.True(t, match)

	match, err = hasher.Verify("wrong-password1", hash)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestArgon2HasherSaltsEachHash(t *testing.T) {
	hasher := NewArgon2Hasher()

	h1, err := hasher.Hash(testPassword)
	require.NoError(t, err)
	h2, err := hasher.Hash(testPassword)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2, "two hashes of the same password must differ")
}

func TestValidatePassword(t *testing.T) {
	cases := []struct {
		name     string
		password string
		attrs    [][2]string
		wantErr  bool
	}{
		{"acceptable", "correct-horse9", nil, false},
		{"too short", "shorty1", nil, true},
		{"exactly minimum length", "abcdefg1", nil, false},
		{"entirely numeric", "1234567890", nil, true},
		{"common password", "password123", nil, true},
		{"common password uppercased", "PASSWORD123", nil, true},
		{"contains email local part", "johndoe-extra1", [][2]string{{"email address", "johndoe@example.com"}}, true},
		{"contains first name", "xMargaretx1", [][2]string{{"first name", "Margaret"}}, true},
		{"password inside attribute", "argarethe", [][2]string{{"first name", "Margarethe"}}, true},
		{"short attribute words ignored", "abcdefg1", [][2]string{{"email address", "ab@cd.ef"}}, false},
		{"unrelated attributes", "correct-horse9", [][2]string{{"email address", "johndoe@example.com"}, {"first name", "John"}}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePassword(tc.password, tc.attrs...)
			if tc.wantErr {
				assert.ErrorIs(t, err, autherrors.ErrInvalidPassword)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
