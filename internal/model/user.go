package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

type User struct {
	ID                         uuid.UUID  `db:"id"`
	Username                   string     `db:"username"`
	Email                      string     `db:"email"`
	PasswordHash               string     `db:"password_hash"`
	AvatarURL                  *string    `db:"avatar_url"`
	Role                       string     `db:"role"`
	EmailVerified              bool       `db:"email_verified"`
	EmailVerificationCode      *string    `db:"email_verification_code"`
	EmailVerificationExpiresAt *time.Time `db:"email_verification_expires_at"`
	PasswordResetTokenHash     *string    `db:"password_reset_token"`
	PasswordResetExpiresAt     *time.Time `db:"password_reset_expires_at"`
	IsDeleted                  bool       `db:"is_deleted"`
	DeletedAt                  *time.Time `db:"deleted_at"`
	CreatedAt                  time.Time  `db:"created_at"`
	UpdatedAt                  time.Time  `db:"updated_at"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// VerificationCodeValid reports whether code matches the pending e-mail code and has not expired.
func (u *User) VerificationCodeValid(code string, now time.Time) bool {
	if u.EmailVerificationCode == nil || u.EmailVerificationExpiresAt == nil {
		return false
	}
	if now.After(*u.EmailVerificationExpiresAt) {
		return false
	}
	return *u.EmailVerificationCode == code
}

// ResetTokenValid reports whether the stored reset token hash matches and is unexpired.
func (u *User) ResetTokenValid(tokenHash string, now time.Time) bool {
	if u.PasswordResetTokenHash == nil || u.PasswordResetExpiresAt == nil {
		return false
	}
	if now.After(*u.PasswordResetExpiresAt) {
		return false
	}
	return *u.PasswordResetTokenHash == tokenHash
}

type RefreshToken struct {
	ID        uuid.UUID `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	TokenHash string    `db:"token_hash"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}
