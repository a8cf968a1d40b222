package routes

import (
	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/handlers"
	"github.com/BradenHooton/bastion/internal/middleware"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/go-chi/chi/v5"
)

// Dependencies groups what RegisterRoutes needs
type Dependencies struct {
	Auth         *handlers.AuthHandler
	Admin        *handlers.AdminHandler
	Health       *handlers.HealthHandler
	Tokens       auth.AccessTokenValidator
	Users        auth.UserRepository
	MailThrottle middleware.MailThrottleConfig
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	router.Get("/health", deps.Health.Health)

	// Public routes - no authentication required
	router.Route("/auth", func(r chi.Router) {
		r.Post("/login", deps.Auth.Login)
		r.Post("/refresh", deps.Auth.RefreshToken)
		r.Post("/verify-email", deps.Auth.VerifyEmail)
		r.Post("/password-reset/confirm", deps.Auth.ConfirmPasswordReset)

		// Endpoints that send mail share one global budget
		r.Group(func(r chi.Router) {
			r.Use(middleware.ThrottleMailEndpoints(deps.MailThrottle))
			r.Post("/register", deps.Auth.Register)
			r.Post("/resend-verification", deps.Auth.ResendVerification)
			r.Post("/password-reset/request", deps.Auth.RequestPasswordReset)
		})

		// Protected routes - authentication required
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(deps.Tokens))
			r.Get("/me", deps.Auth.Me)
			r.Post("/logout", deps.Auth.Logout)
		})
	})

	// Admin-only routes
	router.Route("/admin", func(r chi.Router) {
		r.Use(auth.AuthMiddleware(deps.Tokens))
		r.Use(auth.RequireRole(deps.Users, models.RoleAdmin))
		r.Post("/users/{id}/activate", deps.Admin.ActivateUser)
		r.Post("/users/{id}/deactivate", deps.Admin.DeactivateUser)
		r.Post("/users/{id}/unlock", deps.Admin.UnlockUser)
	})
}
