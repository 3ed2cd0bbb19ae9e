package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const legacyIssuer = "wordai-api"

var (
	ErrMissingToken      = errors.New("missing authorization header")
	ErrMalformedHeader   = errors.New("invalid authorization header format")
	ErrInvalidToken      = errors.New("invalid or expired token")
	ErrAuthNotConfigured = errors.New("authentication not configured")
)

// Identity is the authenticated caller. UserID is the owner id of jobs,
// artifacts and ledger entries.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// LegacyClaims represents HMAC-signed tokens issued by this service.
type LegacyClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Authenticator checks bearer tokens against the OIDC verifier first and
// falls back to HMAC tokens when a secret is configured.
type Authenticator struct {
	verifier  TokenVerifier
	jwtSecret string
}

// NewAuthenticator accepts a nil verifier, an empty secret, or both; with
// neither every token is rejected with ErrAuthNotConfigured.
func NewAuthenticator(verifier TokenVerifier, jwtSecret string) *Authenticator {
	return &Authenticator{verifier: verifier, jwtSecret: jwtSecret}
}

// Configured reports whether any verification method is available.
func (a *Authenticator) Configured() bool {
	return a.verifier != nil || a.jwtSecret != ""
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", ErrMalformedHeader
	}
	return parts[1], nil
}

// AuthenticateHeader is BearerToken followed by Authenticate.
func (a *Authenticator) AuthenticateHeader(header string) (*Identity, error) {
	token, err := BearerToken(header)
	if err != nil {
		return nil, err
	}
	return a.Authenticate(token)
}

func (a *Authenticator) Authenticate(tokenString string) (*Identity, error) {
	if !a.Configured() {
		return nil, ErrAuthNotConfigured
	}

	if a.verifier != nil {
		claims, err := a.verifier.Validate(tokenString)
		if err == nil {
			return &Identity{UserID: claims.UserID, Email: claims.Email, Name: claims.Name}, nil
		}
		if a.jwtSecret == "" {
			return nil, ErrInvalidToken
		}
	}

	claims, err := ValidateLegacyToken(tokenString, a.jwtSecret)
	if err != nil || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{UserID: claims.UserID, Email: claims.Email}, nil
}

// ValidateLegacyToken validates a token using HMAC signing
func ValidateLegacyToken(tokenString, secret string) (*LegacyClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &LegacyClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*LegacyClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// IssueLegacyToken signs an HMAC token for userID. ttl <= 0 means no expiry.
func IssueLegacyToken(secret, userID, email string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrAuthNotConfigured
	}
	now := time.Now()
	claims := LegacyClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   legacyIssuer,
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
