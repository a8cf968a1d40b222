package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey holds the verified *models.TokenClaims
	UserContextKey contextKey = "user"
	// TokenContextKey holds the raw bearer token so logout can revoke it
	TokenContextKey contextKey = "token"
)

// AccessTokenValidator verifies an access token and consults the revocation
// index. Implementations return models.ErrUnavailable when revocation status
// cannot be determined.
type AccessTokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*models.TokenClaims, error)
}

// UserRepository is the subset of the user store the role check needs
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// AuthMiddleware authenticates the bearer token and injects its claims into
// the request context. A revocation lookup failure denies the request.
func AuthMiddleware(validator AccessTokenValidator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := BearerToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "missing or invalid authorization header")
				return
			}

			claims, err := validator.ValidateAccessToken(r.Context(), tokenString)
			if err != nil {
				if errors.Is(err, models.ErrUnavailable) {
					pkghttp.WriteServiceUnavailable(w, "unable to verify token status")
					return
				}
				pkghttp.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			ctx = context.WithValue(ctx, TokenContextKey, tokenString)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header
func BearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireRole enforces the user's current stored role, not the one embedded
// in the token, so demotions take effect before the token expires.
func RequireRole(userRepo UserRepository, role models.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserFromContext(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			user, err := userRepo.GetByID(r.Context(), claims.Subject)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					pkghttp.WriteUnauthorized(w, "unauthorized")
					return
				}
				pkghttp.WriteServiceUnavailable(w, "unable to verify permissions")
				return
			}

			if !user.Active || user.Role != role {
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}

// GetTokenFromContext returns the raw access token authenticated by AuthMiddleware
func GetTokenFromContext(r *http.Request) string {
	token, _ := r.Context().Value(TokenContextKey).(string)
	return token
}
