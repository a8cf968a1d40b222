package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/joho/godotenv"
)

const minJWTSecretLength = 32

// Storage backends
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Email providers
const (
	EmailProviderLog = "log"
	EmailProviderSES = "ses"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Lockout    LockoutConfig
	Storage    StorageConfig
	Email      EmailConfig
	Timing     TimingConfig
	Sentry     SentryConfig
	Background BackgroundConfig
	Bootstrap  BootstrapConfig
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	TrustedProxies []string
	CookieSecure   bool
	CookieDomain   string
	CORSOrigins    []string
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type RedisConfig struct {
	URL string
}

// AuthConfig covers token issuance and the reset/verification nonces
type AuthConfig struct {
	JWTSecret           string
	AccessTokenExpiry   time.Duration
	RefreshTokenExpiry  time.Duration
	RotateRefreshTokens bool
	ResetTokenTTL       time.Duration
	VerificationTTL     time.Duration
}

type LockoutConfig struct {
	MaxAttempts int
	Duration    time.Duration
}

// StorageConfig selects the backing stores for users and revoked tokens
type StorageConfig struct {
	UserStore         string
	RevocationBackend string
}

type EmailConfig struct {
	Provider    string
	AWSRegion   string
	FromAddress string
	AppBaseURL  string
}

type TimingConfig struct {
	BaseDelayMs   int
	RandomDelayMs int
}

type SentryConfig struct {
	DSN string
}

type BackgroundConfig struct {
	TokenCleanupInterval time.Duration
}

// BootstrapConfig optionally seeds the first administrator at startup
type BootstrapConfig struct {
	AdminEmail    string
	AdminPassword string
}

// Load reads configuration from the environment, optionally seeded from a
// .env file. Every validation failure wraps models.ErrConfiguration.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			CookieSecure:   getEnvAsBool("COOKIE_SECURE", env == "production"),
			CookieDomain:   getEnv("COOKIE_DOMAIN", ""),
			CORSOrigins:    getEnvAsList("CORS_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "bastion"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		},
		Auth: AuthConfig{
			JWTSecret:           getEnv("JWT_SECRET", ""),
			AccessTokenExpiry:   time.Duration(getEnvAsInt("JWT_ACCESS_EXPIRATION_MS", 900000)) * time.Millisecond,
			RefreshTokenExpiry:  time.Duration(getEnvAsInt("JWT_REFRESH_EXPIRATION_MS", 604800000)) * time.Millisecond,
			RotateRefreshTokens: getEnvAsBool("JWT_ROTATE_REFRESH_TOKENS", true),
			ResetTokenTTL:       time.Duration(getEnvAsInt("RESET_TOKEN_TTL_MINUTES", 60)) * time.Minute,
			VerificationTTL:     time.Duration(getEnvAsInt("VERIFICATION_TOKEN_TTL_HOURS", 24)) * time.Hour,
		},
		Lockout: LockoutConfig{
			MaxAttempts: getEnvAsInt("LOCKOUT_MAX_ATTEMPTS", 5),
			Duration:    time.Duration(getEnvAsInt("LOCKOUT_DURATION_MINUTES", 15)) * time.Minute,
		},
		Storage: StorageConfig{
			UserStore:         strings.ToLower(getEnv("USER_STORE", BackendPostgres)),
			RevocationBackend: strings.ToLower(getEnv("REVOCATION_BACKEND", BackendRedis)),
		},
		Email: EmailConfig{
			Provider:    strings.ToLower(getEnv("EMAIL_PROVIDER", EmailProviderLog)),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "noreply@example.com"),
			AppBaseURL:  strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:3000"), "/"),
		},
		Timing: TimingConfig{
			BaseDelayMs:   getEnvAsInt("TIMING_DELAY_BASE_MS", 250),
			RandomDelayMs: getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100),
		},
		Sentry: SentryConfig{
			DSN: getEnv("SENTRY_DSN", ""),
		},
		Background: BackgroundConfig{
			TokenCleanupInterval: getEnvAsDuration("TOKEN_CLEANUP_INTERVAL", 1*time.Hour),
		},
		Bootstrap: BootstrapConfig{
			AdminEmail:    getEnv("ADMIN_EMAIL", ""),
			AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. It is called by Load.
func (c *Config) Validate() error {
	if err := validateJWTSecret(c.Auth.JWTSecret); err != nil {
		return err
	}
	if c.Auth.AccessTokenExpiry < time.Second || c.Auth.RefreshTokenExpiry < time.Second {
		return configError("token expirations must be at least one second")
	}
	if c.Auth.ResetTokenTTL <= 0 || c.Auth.VerificationTTL <= 0 {
		return configError("reset and verification token TTLs must be positive")
	}
	if c.Lockout.MaxAttempts < 1 {
		return configError("LOCKOUT_MAX_ATTEMPTS must be at least 1")
	}
	if c.Lockout.Duration <= 0 {
		return configError("LOCKOUT_DURATION_MINUTES must be positive")
	}
	if c.Background.TokenCleanupInterval <= 0 {
		return configError("TOKEN_CLEANUP_INTERVAL must be positive")
	}
	if (c.Bootstrap.AdminEmail == "") != (c.Bootstrap.AdminPassword == "") {
		return configError("ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}
	if c.Timing.BaseDelayMs < 0 || c.Timing.RandomDelayMs < 0 {
		return configError("timing delays cannot be negative")
	}

	switch c.Storage.UserStore {
	case BackendPostgres, BackendMemory:
	default:
		return configError("USER_STORE must be postgres or memory, got %q", c.Storage.UserStore)
	}
	switch c.Storage.RevocationBackend {
	case BackendRedis, BackendPostgres, BackendMemory:
	default:
		return configError("REVOCATION_BACKEND must be redis, postgres or memory, got %q", c.Storage.RevocationBackend)
	}
	if c.NeedsDatabase() && c.Database.Password == "" {
		return configError("DB_PASSWORD is required for the postgres backend")
	}

	switch c.Email.Provider {
	case EmailProviderLog, EmailProviderSES:
	default:
		return configError("EMAIL_PROVIDER must be log or ses, got %q", c.Email.Provider)
	}

	if c.Server.Env == "production" && (c.Storage.UserStore == BackendMemory || c.Storage.RevocationBackend == BackendMemory) {
		return configError("in-memory stores are not allowed in production")
	}
	if c.Server.Env == "production" && c.Email.Provider == EmailProviderLog {
		return configError("EMAIL_PROVIDER=log is not allowed in production")
	}
	return nil
}

// NeedsDatabase reports whether any configured backend is Postgres
func (c *Config) NeedsDatabase() bool {
	return c.Storage.UserStore == BackendPostgres || c.Storage.RevocationBackend == BackendPostgres
}

// validateJWTSecret enforces a 256-bit minimum and rejects placeholder values
func validateJWTSecret(secret string) error {
	if secret == "" {
		return configError("JWT_SECRET is required")
	}
	if len(secret) < minJWTSecretLength {
		return configError("JWT_SECRET must be at least %d bytes (got %d)", minJWTSecretLength, len(secret))
	}

	lower := strings.ToLower(secret)
	for _, weak := range []string{"changeme", "secret", "password", "example"} {
		if strings.ReplaceAll(lower, weak, "") == "" {
			return configError("JWT_SECRET cannot be a repeated placeholder value")
		}
	}
	return nil
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrConfiguration, fmt.Sprintf(format, args...))
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
