package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/bastion/internal/models"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

// AdminService holds the administrative account operations: activation
// status and manual lockout release.
type AdminService struct {
	users  UserLocker
	logger *slog.Logger
	audit  *pkglogger.AuditLogger
}

func NewAdminService(users UserLocker, logger *slog.Logger, audit *pkglogger.AuditLogger) *AdminService {
	return &AdminService{users: users, logger: logger, audit: audit}
}

// SetActive enables or disables an account. A disabled account cannot log
// in or refresh; access tokens already issued stay valid until they expire.
func (s *AdminService) SetActive(ctx context.Context, actorID, userID string, active bool) (*models.User, error) {
	if actorID == userID && !active {
		return nil, fmt.Errorf("%w: administrators cannot deactivate themselves", models.ErrForbidden)
	}

	user, err := updateWithRetry(ctx, s.users, userID, func(u *models.User) error {
		u.Active = active
		return nil
	})
	if err != nil {
		return nil, s.mapError(ctx, "set active", err)
	}

	event := pkglogger.EventAccountDeactivated
	if active {
		event = pkglogger.EventAccountActivated
	}
	s.audit.Log(ctx, pkglogger.AuditEvent{
		EventType: event,
		UserID:    userID,
		Success:   true,
		Metadata:  map[string]string{"actor_id": actorID},
	})
	return user, nil
}

// Unlock clears the lockout window and failure counter
func (s *AdminService) Unlock(ctx context.Context, actorID, userID string) (*models.User, error) {
	user, err := updateWithRetry(ctx, s.users, userID, func(u *models.User) error {
		u.ResetLockout()
		return nil
	})
	if err != nil {
		return nil, s.mapError(ctx, "unlock", err)
	}

	s.audit.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventAccountUnlocked,
		UserID:    userID,
		Success:   true,
		Metadata:  map[string]string{"actor_id": actorID},
	})
	return user, nil
}

func (s *AdminService) mapError(ctx context.Context, op string, err error) error {
	if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrBadRequest) {
		return models.ErrNotFound
	}
	s.logger.ErrorContext(ctx, "admin "+op+" failed", slog.Any("error", err))
	return fmt.Errorf("%w: %s", models.ErrUnavailable, op)
}
