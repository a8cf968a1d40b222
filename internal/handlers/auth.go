package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/services"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string) (*models.TokenPair, error)
	Logout(ctx context.Context, tokens ...string) error
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ConsumePasswordReset(ctx context.Context, nonce, newPassword string) error
	VerifyEmail(ctx context.Context, nonce string) error
	Register(ctx context.Context, in services.RegisterInput) (*models.User, error)
	ResendVerification(ctx context.Context, email string) error
	CurrentUser(ctx context.Context, userID string) (*models.User, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service    AuthServiceInterface
	cookies    auth.CookieConfig
	refreshTTL time.Duration
	logger     *slog.Logger
}

// NewAuthHandler creates a new AuthHandler. refreshTTL sizes the refresh cookie.
func NewAuthHandler(service AuthServiceInterface, cookies auth.CookieConfig, refreshTTL time.Duration, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		service:    service,
		cookies:    cookies,
		refreshTTL: refreshTTL,
		logger:     logger,
	}
}

// Request DTOs

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

type RegisterRequest struct {
	Email       string  `json:"email" validate:"required,email,max=254"`
	Password    string  `json:"password" validate:"required"`
	FirstName   string  `json:"first_name" validate:"max=100"`
	LastName    string  `json:"last_name" validate:"max=100"`
	PhoneNumber *string `json:"phone_number,omitempty" validate:"omitempty,e164"`
}

// RefreshTokenRequest may be empty when the refresh token travels in the cookie
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type ConfirmPasswordResetRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,max=72"`
}

// TokenResponse is returned by login and refresh
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // seconds
}

// MessageResponse carries a human-readable acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}

func newTokenResponse(pair *models.TokenPair) TokenResponse {
	return TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(pair.ExpiresIn / time.Second),
	}
}

// Login handles user login
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(w, r, &req, false); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pair, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeAuthError(w, r, err)
		return
	}

	auth.SetRefreshTokenCookie(w, pair.RefreshToken, h.refreshTTL, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, newTokenResponse(pair))
}

// Register handles user registration. The response is the same whether or
// not the address was already taken.
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeAndValidate(w, r, &req, false); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	_, err := h.service.Register(r.Context(), services.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil && !errors.Is(err, models.ErrConflict) {
		var weak *pkgauth.PasswordValidationError
		if errors.As(err, &weak) {
			pkghttp.WriteBadRequest(w, weak.Error())
			return
		}
		h.writeAuthError(w, r, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{
		Message: "Registration received. If the email is not already registered, you will receive a confirmation email.",
	})
}

// RefreshToken exchanges a refresh token taken from the body or the cookie
// @Router /auth/refresh [post]
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := decodeAndValidate(w, r, &req, true); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	token := req.RefreshToken
	if token == "" {
		token, _ = auth.GetRefreshTokenCookie(r)
	}
	if token == "" {
		pkghttp.WriteBadRequest(w, "refresh token is required")
		return
	}

	pair, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		if !errors.Is(err, models.ErrUnavailable) {
			auth.ClearRefreshTokenCookie(w, h.cookies)
		}
		h.writeAuthError(w, r, err)
		return
	}

	auth.SetRefreshTokenCookie(w, pair.RefreshToken, h.refreshTTL, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, newTokenResponse(pair))
}

// Logout revokes the caller's access token and, when supplied, the refresh token
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	accessToken := auth.GetTokenFromContext(r)
	if accessToken == "" {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req RefreshTokenRequest
	if err := decodeAndValidate(w, r, &req, true); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	refreshToken := req.RefreshToken
	if refreshToken == "" {
		refreshToken, _ = auth.GetRefreshTokenCookie(r)
	}

	if err := h.service.Logout(r.Context(), accessToken, refreshToken); err != nil {
		h.writeAuthError(w, r, err)
		return
	}

	auth.ClearRefreshTokenCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// VerifyEmail consumes an email verification nonce
// @Router /auth/verify-email [post]
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if err := decodeAndValidate(w, r, &req, false); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.VerifyEmail(r.Context(), req.Token); err != nil {
		h.writeAuthError(w, r, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Email verified successfully. Please log in."})
}

// ResendVerification re-mails the verification link
// @Router /auth/resend-verification [post]
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := decodeAndValidate(w, r, &req, false); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	_ = h.service.ResendVerification(r.Context(), req.Email)

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{
		Message: "If an unverified account exists with this email, a verification email will be sent.",
	})
}

// RequestPasswordReset mails a reset link if the account exists
// @Router /auth/password-reset/request [post]
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := decodeAndValidate(w, r, &req, false); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	_ = h.service.RequestPasswordReset(r.Context(), req.Email)

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{
		Message: "If an account exists with this email, a password reset link will be sent.",
	})
}

// ConfirmPasswordReset sets a new password using a reset nonce
// @Router /auth/password-reset/confirm [post]
func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ConfirmPasswordResetRequest
	if err := decodeAndValidate(w, r, &req, false); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ConsumePasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		h.writeAuthError(w, r, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Password updated. Please log in."})
}

// Me returns the authenticated user's profile
// @Router /auth/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	user, err := h.service.CurrentUser(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteUnauthorized(w, "unauthorized")
			return
		}
		h.writeAuthError(w, r, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, NewUserResponse(user))
}

// writeAuthError maps credential gate errors onto HTTP responses. Account
// state other than an open lock is reported as a generic 401 so that
// callers cannot tell which addresses are registered.
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var locked *models.AccountLockedError

	switch {
	case errors.As(err, &locked):
		pkghttp.WriteLocked(w, locked.Until)
	case errors.Is(err, models.ErrUnavailable):
		pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
	case errors.Is(err, models.ErrInvalidCredentials),
		errors.Is(err, models.ErrAccountDisabled),
		errors.Is(err, models.ErrEmailNotVerified):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrTokenMalformed),
		errors.Is(err, models.ErrTokenInvalidSignature),
		errors.Is(err, models.ErrTokenExpired),
		errors.Is(err, models.ErrTokenRevoked):
		pkghttp.WriteUnauthorized(w, "Invalid or expired token")
	case errors.Is(err, models.ErrInvalidOrExpiredResetToken):
		pkghttp.WriteBadRequest(w, "Invalid or expired password reset token")
	case errors.Is(err, models.ErrInvalidVerificationToken):
		pkghttp.WriteBadRequest(w, "Invalid or expired verification token")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	default:
		h.logger.ErrorContext(r.Context(), "unhandled auth error", slog.String("path", r.URL.Path), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
