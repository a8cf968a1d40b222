package main

import (
	"log/slog"
	"time"

	"github.com/BradenHooton/bastion/internal/config"
	middlewareCustom "github.com/BradenHooton/bastion/internal/middleware"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	"github.com/BradenHooton/bastion/pkg/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// newRouter builds the router with the global middleware chain. Recoverer
// wraps the Sentry middleware so a handler panic is reported before it is
// turned into a 500.
func newRouter(server config.ServerConfig, logger *slog.Logger, ips *pkghttp.ClientIPResolver) *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(observability.Middleware())
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(server.CORSOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ips))
	router.Use(middleware.Timeout(30 * time.Second))
	return router
}
