package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// HealthChecker is implemented by the database pool and revocation stores
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// NamedCheck pairs a dependency name with its health check
type NamedCheck struct {
	Name    string
	Checker HealthChecker
}

// HealthHandler reports whether the process can serve authentication traffic
type HealthHandler struct {
	checks  []NamedCheck
	timeout time.Duration
	logger  *slog.Logger
}

func NewHealthHandler(logger *slog.Logger, checks ...NamedCheck) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 2 * time.Second, logger: logger}
}

// HealthResponse lists each dependency as "up" or "down"
type HealthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Dependencies: make(map[string]string, len(h.checks))}
	status := http.StatusOK

	for _, check := range h.checks {
		if err := check.Checker.HealthCheck(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed", slog.String("dependency", check.Name), slog.Any("error", err))
			resp.Dependencies[check.Name] = "down"
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Dependencies[check.Name] = "up"
	}

	pkghttp.WriteJSON(w, status, resp)
}
