package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/background"
	"github.com/BradenHooton/bastion/internal/config"
	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/handlers"
	middlewareCustom "github.com/BradenHooton/bastion/internal/middleware"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/repositories"
	"github.com/BradenHooton/bastion/internal/routes"
	"github.com/BradenHooton/bastion/internal/services"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
	"github.com/BradenHooton/bastion/pkg/observability"
	"github.com/jonboulle/clockwork"
)

// revocationStore is what the wiring needs from any revocation backend
type revocationStore interface {
	services.TokenRevocationRepository
	handlers.HealthChecker
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("user_store", cfg.Storage.UserStore),
		slog.String("revocation_backend", cfg.Storage.RevocationBackend),
	)

	if err := observability.InitSentry(cfg.Sentry.DSN, cfg.Server.Env); err != nil {
		logger.Error("failed to initialize sentry", slog.Any("error", err))
		os.Exit(1)
	}
	defer observability.FlushSentry()

	ctx := context.Background()
	clock := clockwork.NewRealClock()

	// Initialize database when a backend needs it
	var db *database.DB
	if cfg.NeedsDatabase() {
		db, err = database.NewConnection(ctx, &cfg.Database, logger)
		if err != nil {
			logger.Error("failed to connect to database", slog.Any("error", err))
			os.Exit(1)
		}
		defer db.Close()

		if err := database.Migrate(ctx, db.Pool, logger); err != nil {
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Initialize repositories
	var users services.UserRepository
	switch cfg.Storage.UserStore {
	case config.BackendPostgres:
		users = repositories.NewUserRepository(db, clock)
	default:
		logger.Warn("using in-memory user store; accounts are lost on restart")
		users = repositories.NewMemoryUserRepository(clock)
	}

	revocations, sweeper, closeRevocations, err := newRevocationStore(cfg, db, clock)
	if err != nil {
		logger.Error("failed to initialize revocation index", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeRevocations()

	// Revocation entries in Redis expire on their own; the other backends are swept
	var cleanupManager *background.CleanupManager
	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	defer cleanupCancel()
	if sweeper != nil {
		cleanupManager = background.NewCleanupManager(sweeper, logger, cfg.Background.TokenCleanupInterval, clock)
		go cleanupManager.Start(cleanupCtx)
	}

	mailer, err := newMailer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize token manager
	tokenManager, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, cfg.Auth.RefreshTokenExpiry, clock)
	if err != nil {
		logger.Error("failed to initialize token manager", slog.Any("error", err))
		os.Exit(1)
	}

	timing := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Timing.BaseDelayMs,
		RandomDelayMs: cfg.Timing.RandomDelayMs,
	}, clock)
	hasher := pkgauth.NewBcryptHasher(pkgauth.BcryptCost)
	auditLogger := pkglogger.NewAuditLogger(logger)

	// Initialize services
	authService, err := services.NewAuthService(services.AuthDependencies{
		Users:       users,
		Revocations: revocations,
		Tokens:      tokenManager,
		Hasher:      hasher,
		Mailer:      mailer,
		Timing:      timing,
		Clock:       clock,
		Logger:      logger,
		Audit:       auditLogger,
	}, services.AuthServiceConfig{
		MaxAttempts:         cfg.Lockout.MaxAttempts,
		LockDuration:        cfg.Lockout.Duration,
		ResetTokenTTL:       cfg.Auth.ResetTokenTTL,
		VerificationTTL:     cfg.Auth.VerificationTTL,
		RotateRefreshTokens: cfg.Auth.RotateRefreshTokens,
	})
	if err != nil {
		logger.Error("failed to initialize auth service", slog.Any("error", err))
		os.Exit(1)
	}
	adminService := services.NewAdminService(users, logger, auditLogger)

	if err := ensureAdminUser(ctx, users, hasher, cfg.Bootstrap, clock, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
		os.Exit(1)
	}

	ipResolver, err := pkghttp.NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Error("invalid trusted proxy configuration", slog.Any("error", err))
		os.Exit(1)
	}

	cookieConfig := auth.CookieConfig{
		Domain:   cfg.Server.CookieDomain,
		Secure:   cfg.Server.CookieSecure,
		SameSite: "strict",
	}

	// Initialize handlers
	checks := []handlers.NamedCheck{{Name: "revocation_index", Checker: revocations}}
	if db != nil {
		checks = append(checks, handlers.NamedCheck{Name: "database", Checker: db})
	}
	authHandler := handlers.NewAuthHandler(authService, cookieConfig, cfg.Auth.RefreshTokenExpiry, logger)
	adminHandler := handlers.NewAdminHandler(adminService)
	healthHandler := handlers.NewHealthHandler(logger, checks...)

	// Setup router
	router := newRouter(cfg.Server, logger, ipResolver)
	routes.RegisterRoutes(router, routes.Dependencies{
		Auth:         authHandler,
		Admin:        adminHandler,
		Health:       healthHandler,
		Tokens:       authService,
		Users:        users,
		MailThrottle: middlewareCustom.DefaultMailThrottle(),
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", slog.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	if cleanupManager != nil {
		cleanupManager.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		return
	}

	logger.Info("server stopped gracefully")
}

// newRevocationStore builds the configured revocation index. The sweeper is
// nil for backends that expire entries themselves. The returned close func
// releases connections the store owns and is always safe to call.
func newRevocationStore(cfg *config.Config, db *database.DB, clock clockwork.Clock) (revocationStore, background.ExpiredTokenSweeper, func(), error) {
	noop := func() {}

	switch cfg.Storage.RevocationBackend {
	case config.BackendRedis:
		client, err := repositories.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			return nil, nil, noop, err
		}
		closeClient := func() {
			if err := client.Close(); err != nil {
				slog.Error("failed to close redis client", slog.Any("error", err))
			}
		}
		return repositories.NewRedisTokenRevocationRepository(client), nil, closeClient, nil
	case config.BackendPostgres:
		repo := repositories.NewTokenRevocationRepository(db, clock)
		return repo, repo, noop, nil
	default:
		repo := repositories.NewMemoryTokenRevocationRepository(clock)
		return repo, repo, noop, nil
	}
}

func newMailer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.EmailService, error) {
	if cfg.Email.Provider == config.EmailProviderSES {
		ses, err := services.NewAWSSESEmailService(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, cfg.Email.AppBaseURL, logger)
		if err != nil {
			return nil, err
		}
		return ses, nil
	}
	logger.Warn("email provider is log; links are written to the log instead of being sent")
	return services.NewLogEmailService(cfg.Email.AppBaseURL, logger), nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, users services.UserRepository, hasher services.PasswordHasher, cfg config.BootstrapConfig, clock clockwork.Clock, logger *slog.Logger) error {
	if cfg.AdminEmail == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))

	// Check if admin already exists
	_, err := users.GetByEmail(ctx, email)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(cfg.AdminPassword); err != nil {
		return fmt.Errorf("admin password rejected: %w", err)
	}
	hashedPassword, err := hasher.Hash(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	now := clock.Now()
	admin := &models.User{
		Email:             email,
		PasswordHash:      hashedPassword,
		FirstName:         "Admin",
		Role:              models.RoleAdmin,
		EmailVerified:     true,
		Active:            true,
		PasswordChangedAt: &now,
	}

	if _, err := users.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
