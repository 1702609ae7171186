package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"forum-api/internal/model"
)

const userColumns = `id, username, email, password_hash, avatar_url, role, email_verified,
	email_verification_code, email_verification_expires_at, password_reset_token,
	password_reset_expires_at, is_deleted, deleted_at, created_at, updated_at`

type UserRepository interface {
	Create(ctx context.Context, user *model.User) (uuid.UUID, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	FindByLogin(ctx context.Context, login string) (*model.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	FindByResetToken(ctx context.Context, tokenHash string) (*model.User, error)
	SetVerificationCode(ctx context.Context, id uuid.UUID, code string, expiresAt time.Time) error
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error
	SetPasswordResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	UpdateProfile(ctx context.Context, user *model.User) error
	UpdateRole(ctx context.Context, id uuid.UUID, role string) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
}

type postgresUserRepository struct {
	db *sqlx.DB
}

func NewPostgresUserRepository(db *sqlx.DB) UserRepository {
	return &postgresUserRepository{db: db}
}

func (r *postgresUserRepository) Create(ctx context.Context, user *model.User) (uuid.UUID, error) {
	query := `INSERT INTO users (username, email, password_hash, role, email_verified, email_verification_code, email_verification_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	var newID uuid.UUID
	err := r.db.QueryRowxContext(ctx, query,
		user.Username, user.Email, user.PasswordHash, user.Role, user.EmailVerified,
		user.EmailVerificationCode, user.EmailVerificationExpiresAt,
	).Scan(&newID)

	if err != nil {
		return uuid.Nil, err
	}

	return newID, nil
}

func (r *postgresUserRepository) findOne(ctx context.Context, where string, arg any) (*model.User, error) {
	var user model.User
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	if err := r.db.GetContext(ctx, &user, query, arg); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *postgresUserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, `lower(email) = lower($1)`, email)
}

func (r *postgresUserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, `username = $1`, username)
}

// FindByLogin matches either the username or the e-mail address.
func (r *postgresUserRepository) FindByLogin(ctx context.Context, login string) (*model.User, error) {
	return r.findOne(ctx, `username = $1 OR lower(email) = lower($1) LIMIT 1`, login)
}

func (r *postgresUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.findOne(ctx, `id = $1`, id)
}

func (r *postgresUserRepository) FindByResetToken(ctx context.Context, tokenHash string) (*model.User, error) {
	return r.findOne(ctx, `password_reset_token = $1`, tokenHash)
}

func (r *postgresUserRepository) SetVerificationCode(ctx context.Context, id uuid.UUID, code string, expiresAt time.Time) error {
	query := `UPDATE users SET email_verification_code = $2, email_verification_expires_at = $3, updated_at = now() WHERE id = $1`
	return execAffectingOne(ctx, r.db, query, id, code, expiresAt)
}

func (r *postgresUserRepository) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE users SET email_verified = true, email_verification_code = NULL, email_verification_expires_at = NULL, updated_at = now() WHERE id = $1`
	return execAffectingOne(ctx, r.db, query, id)
}

func (r *postgresUserRepository) SetPasswordResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	query := `UPDATE users SET password_reset_token = $2, password_reset_expires_at = $3, updated_at = now() WHERE id = $1`
	return execAffectingOne(ctx, r.db, query, id, tokenHash, expiresAt)
}

// UpdatePassword also clears any outstanding reset token.
func (r *postgresUserRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	query := `UPDATE users SET password_hash = $2, password_reset_token = NULL, password_reset_expires_at = NULL, updated_at = now() WHERE id = $1`
	return execAffectingOne(ctx, r.db, query, id, passwordHash)
}

// UpdateProfile writes the user-editable columns and the e-mail verification state
// that goes with them. Deleted accounts are left untouched.
func (r *postgresUserRepository) UpdateProfile(ctx context.Context, user *model.User) error {
	query := `UPDATE users SET username = $2, email = $3, avatar_url = $4, email_verified = $5,
		email_verification_code = $6, email_verification_expires_at = $7, updated_at = now()
		WHERE id = $1 AND is_deleted = false`
	return execAffectingOne(ctx, r.db, query, user.ID, user.Username, user.Email, user.AvatarURL,
		user.EmailVerified, user.EmailVerificationCode, user.EmailVerificationExpiresAt)
}

func (r *postgresUserRepository) UpdateRole(ctx context.Context, id uuid.UUID, role string) error {
	query := `UPDATE users SET role = $2, updated_at = now() WHERE id = $1 AND is_deleted = false`
	return execAffectingOne(ctx, r.db, query, id, role)
}

func (r *postgresUserRepository) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE users SET is_deleted = true, deleted_at = $2, password_reset_token = NULL,
		password_reset_expires_at = NULL, updated_at = now() WHERE id = $1 AND is_deleted = false`
	return execAffectingOne(ctx, r.db, query, id, at)
}
