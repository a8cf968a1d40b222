package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
)

const userColumns = `id, email, first_name, last_name, phone_number, password_hash, password_changed_at, role,
	email_verified, email_verification_token, password_reset_token, password_reset_token_expiry,
	failed_login_attempts, locked_until, last_failed_login, active, created_at, updated_at`

// UserRepository is the Postgres user store. Read-modify-write cycles go
// through UpdateLocked, which holds a row lock for the duration of the
// mutation so concurrent instances serialize per user.
type UserRepository struct {
	db    *database.DB
	clock clockwork.Clock
}

func NewUserRepository(db *database.DB, clock clockwork.Clock) *UserRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &UserRepository{db: db, clock: clock}
}

// rowScanner is satisfied by pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var role string

	err := scanner.Scan(
		&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.PhoneNumber,
		&user.PasswordHash, &user.PasswordChangedAt, &role,
		&user.EmailVerified, &user.EmailVerificationToken,
		&user.PasswordResetToken, &user.PasswordResetTokenExpiry,
		&user.FailedLoginAttempts, &user.LockedUntil, &user.LastFailedLogin,
		&user.Active, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	user.Role, err = models.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", user.ID, err)
	}
	return &user, nil
}

func (r *UserRepository) getOne(ctx context.Context, where string, arg any) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	return scanUserRow(r.db.Pool.QueryRow(ctx, query, arg))
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, "LOWER(email) = LOWER($1)", email)
}

func (r *UserRepository) GetByEmailVerificationToken(ctx context.Context, digest string) (*models.User, error) {
	return r.getOne(ctx, "email_verification_token = $1", digest)
}

func (r *UserRepository) GetByPasswordResetToken(ctx context.Context, digest string) (*models.User, error) {
	return r.getOne(ctx, "password_reset_token = $1", digest)
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(email) = LOWER($1))`, email).Scan(&exists)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

// Create inserts a new user. The id and both timestamps are assigned here;
// a duplicate email yields models.ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	u := user.Clone()
	u.ID = uuid.New().String()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	now := r.clock.Now()
	u.CreatedAt = now
	u.UpdatedAt = now

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING ` + userColumns

	return scanUserRow(r.db.Pool.QueryRow(ctx, query,
		u.ID, u.Email, u.FirstName, u.LastName, u.PhoneNumber,
		u.PasswordHash, u.PasswordChangedAt, string(u.Role),
		u.EmailVerified, u.EmailVerificationToken,
		u.PasswordResetToken, u.PasswordResetTokenExpiry,
		u.FailedLoginAttempts, u.LockedUntil, u.LastFailedLogin,
		u.Active, u.CreatedAt, u.UpdatedAt,
	))
}

// UpdateLocked loads the user with SELECT ... FOR UPDATE, applies fn and
// writes the result in the same transaction. If fn returns an error or ctx
// is cancelled before commit nothing is written.
func (r *UserRepository) UpdateLocked(ctx context.Context, id string, fn func(*models.User) error) (*models.User, error) {
	var updated *models.User

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		user, err := scanUserRow(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}

		if err := fn(user); err != nil {
			return err
		}

		user.UpdatedAt = r.clock.Now()
		if err := save(ctx, tx, user); err != nil {
			return err
		}
		updated = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// save writes every mutable column of user. Identity columns and created_at
// are never rewritten.
func save(ctx context.Context, tx pgx.Tx, u *models.User) error {
	query := `
		UPDATE users SET
			first_name = $2, last_name = $3, phone_number = $4,
			password_hash = $5, password_changed_at = $6, role = $7,
			email_verified = $8, email_verification_token = $9,
			password_reset_token = $10, password_reset_token_expiry = $11,
			failed_login_attempts = $12, locked_until = $13, last_failed_login = $14,
			active = $15, updated_at = $16
		WHERE id = $1
	`

	result, err := tx.Exec(ctx, query,
		u.ID, u.FirstName, u.LastName, u.PhoneNumber,
		u.PasswordHash, u.PasswordChangedAt, string(u.Role),
		u.EmailVerified, u.EmailVerificationToken,
		u.PasswordResetToken, u.PasswordResetTokenExpiry,
		u.FailedLoginAttempts, u.LockedUntil, u.LastFailedLogin,
		u.Active, u.UpdatedAt,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
