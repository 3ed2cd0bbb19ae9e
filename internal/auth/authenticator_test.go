package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	claims *Claims
	err    error
}

func (s stubVerifier) Validate(string) (*Claims, error) { return s.claims, s.err }
func (s stubVerifier) Close() error                      { return nil }

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		err    error
	}{
		{"", "", ErrMissingToken},
		{"Bearer abc", "abc", nil},
		{"bearer abc", "abc", nil},
		{"Basic abc", "", ErrMalformedHeader},
		{"Bearer", "", ErrMalformedHeader},
		{"Bearer ", "", ErrMalformedHeader},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			token, err := BearerToken(tt.header)
			assert.Equal(t, tt.token, token)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAuthenticatorLegacyToken(t *testing.T) {
	a := NewAuthenticator(nil, "secret")

	token, err := IssueLegacyToken("secret", "u1", "u1@example.com", time.Hour)
	require.NoError(t, err)

	id, err := a.AuthenticateHeader("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "u1@example.com", id.Email)

	forged, err := IssueLegacyToken("other", "u1", "", time.Hour)
	require.NoError(t, err)
	_, err = a.Authenticate(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticatorExpiredToken(t *testing.T) {
	a := NewAuthenticator(nil, "secret")
	token, err := IssueLegacyToken("secret", "u1", "", -time.Hour)
	require.NoError(t, err)

	// ttl <= 0 means no expiry
	_, err = a.Authenticate(token)
	assert.NoError(t, err)
}

func TestAuthenticatorPrefersVerifier(t *testing.T) {
	a := NewAuthenticator(stubVerifier{claims: &Claims{UserID: "oidc-user", Name: "Lan"}}, "secret")
	id, err := a.Authenticate("whatever")
	require.NoError(t, err)
	assert.Equal(t, "oidc-user", id.UserID)
	assert.Equal(t, "Lan", id.Name)
}

func TestAuthenticatorFallsBackToLegacy(t *testing.T) {
	a := NewAuthenticator(stubVerifier{err: errors.New("bad sig")}, "secret")
	token, err := IssueLegacyToken("secret", "u2", "", time.Hour)
	require.NoError(t, err)

	id, err := a.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "u2", id.UserID)

	strict := NewAuthenticator(stubVerifier{err: errors.New("bad sig")}, "")
	_, err = strict.Authenticate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticatorNotConfigured(t *testing.T) {
	_, err := NewAuthenticator(nil, "").Authenticate("x")
	assert.ErrorIs(t, err, ErrAuthNotConfigured)
}
