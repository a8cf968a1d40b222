package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// MinSecretLength is the shortest accepted HMAC key (256 bits)
const MinSecretLength = 32

// TokenManager issues and verifies HS256 bearer tokens. It holds no state
// besides its key, TTLs and clock, so it is safe for concurrent use.
type TokenManager struct {
	secret             []byte
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	clock              clockwork.Clock
	parser             *jwt.Parser
}

// NewTokenManager creates a TokenManager. Short keys and TTLs under one second
// are rejected with models.ErrConfiguration.
func NewTokenManager(secret string, accessExpiry, refreshExpiry time.Duration, clock clockwork.Clock) (*TokenManager, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: signing key must be at least %d bytes (got %d)",
			models.ErrConfiguration, MinSecretLength, len(secret))
	}
	// exp and iat travel as whole seconds
	if accessExpiry < time.Second || refreshExpiry < time.Second {
		return nil, fmt.Errorf("%w: token TTLs must be at least one second", models.ErrConfiguration)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &TokenManager{
		secret:             []byte(secret),
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
		clock:              clock,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithStrictDecoding(),
			jwt.WithTimeFunc(clock.Now),
		),
	}, nil
}

func (tm *TokenManager) AccessTokenExpiry() time.Duration  { return tm.accessTokenExpiry }
func (tm *TokenManager) RefreshTokenExpiry() time.Duration { return tm.refreshTokenExpiry }

// GenerateAccessToken creates a short-lived access token carrying email and role
func (tm *TokenManager) GenerateAccessToken(userID, email string, role models.Role) (string, error) {
	claims := &models.TokenClaims{
		Type:  models.TokenTypeAccess,
		Email: email,
		Role:  string(role),
	}

	tokenString, err := tm.sign(userID, claims, tm.accessTokenExpiry)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return tokenString, nil
}

// GenerateRefreshToken creates a long-lived refresh token carrying only the subject
func (tm *TokenManager) GenerateRefreshToken(userID string) (string, error) {
	claims := &models.TokenClaims{Type: models.TokenTypeRefresh}

	tokenString, err := tm.sign(userID, claims, tm.refreshTokenExpiry)
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return tokenString, nil
}

// sign stamps iat at the start of the current second. exp follows it by ttl,
// so a token minted at a fractional instant loses that fraction of its
// lifetime; it never outlives now+ttl.
func (tm *TokenManager) sign(userID string, claims *models.TokenClaims, ttl time.Duration) (string, error) {
	issuedAt := tm.clock.Now().Truncate(time.Second)

	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(), // keeps tokens minted in the same second distinct
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
}

// ValidateToken checks signature, structure and expiry. The error always
// matches one of ErrTokenMalformed, ErrTokenInvalidSignature or ErrTokenExpired.
// A token is expired from the instant its exp claim is reached.
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	_, err := tm.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return tm.secret, nil
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", models.ErrTokenMalformed)
	}
	if claims.Type != models.TokenTypeAccess && claims.Type != models.TokenTypeRefresh {
		return nil, fmt.Errorf("%w: unknown token type %q", models.ErrTokenMalformed, claims.Type)
	}

	return claims, nil
}

// RemainingLifetime reads exp without verifying the signature and returns
// max(exp - now, 0). Callers use it to size revocation entries.
func (tm *TokenManager) RemainingLifetime(tokenString string) (time.Duration, error) {
	claims := &models.TokenClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrTokenMalformed, err)
	}
	if claims.ExpiresAt == nil {
		return 0, fmt.Errorf("%w: missing exp", models.ErrTokenMalformed)
	}

	remaining := claims.ExpiresAt.Time.Sub(tm.clock.Now())
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", models.ErrTokenInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", models.ErrTokenExpired, err)
	default:
		// malformed segments, undecodable claims, unknown alg header
		return fmt.Errorf("%w: %v", models.ErrTokenMalformed, err)
	}
}
