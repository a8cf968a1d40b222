package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AdminServiceInterface defines the administrative account operations
type AdminServiceInterface interface {
	SetActive(ctx context.Context, actorID, userID string, active bool) (*models.User, error)
	Unlock(ctx context.Context, actorID, userID string) (*models.User, error)
}

// AdminHandler handles admin account-management HTTP requests.
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

// UserResponse is the public view of a user record
type UserResponse struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FirstName     string     `json:"first_name"`
	LastName      string     `json:"last_name"`
	PhoneNumber   *string    `json:"phone_number,omitempty"`
	Role          string     `json:"role"`
	EmailVerified bool       `json:"email_verified"`
	Active        bool       `json:"active"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func NewUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:            u.ID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		PhoneNumber:   u.PhoneNumber,
		Role:          string(u.Role),
		EmailVerified: u.EmailVerified,
		Active:        u.Active,
		LockedUntil:   u.LockedUntil,
		CreatedAt:     u.CreatedAt,
	}
}

// ActivateUser handles POST /admin/users/{id}/activate
func (h *AdminHandler) ActivateUser(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// DeactivateUser handles POST /admin/users/{id}/deactivate
func (h *AdminHandler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *AdminHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	user, err := h.service.SetActive(r.Context(), claims.Subject, chi.URLParam(r, "id"), active)
	if err != nil {
		writeAdminError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, NewUserResponse(user))
}

// UnlockUser handles POST /admin/users/{id}/unlock
func (h *AdminHandler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	user, err := h.service.Unlock(r.Context(), claims.Subject, chi.URLParam(r, "id"))
	if err != nil {
		writeAdminError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, NewUserResponse(user))
}

func writeAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "User not found")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Administrators cannot deactivate their own account")
	case errors.Is(err, models.ErrUnavailable):
		pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
