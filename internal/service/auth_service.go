package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"slices"
	"strings"
	"time"

	"forum-api/internal/events"
	"forum-api/internal/jwt"
	"forum-api/internal/model"
	"forum-api/internal/repository"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	verificationCodeTTL = 10 * time.Minute
	passwordResetTTL    = time.Hour
)

var (
	ErrInvalidCredentials = errors.New("invalid username/email or password")
	ErrTokenInvalid       = errors.New("token is invalid or expired")
	ErrEmailNotVerified   = errors.New("email address is not verified")
	ErrInvalidUsername    = errors.New("username must be 3-50 characters of letters, digits or underscore")
	ErrEmailDomain        = errors.New("email domain is not allowed")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrEmailTaken         = errors.New("email already exists")
	ErrInvalidCode        = errors.New("invalid or expired verification code")
	ErrResendThrottled    = errors.New("verification email was sent recently, try again later")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
	ErrUserNotFound       = errors.New("user not found")
	ErrWrongPassword      = errors.New("current password is incorrect")
	ErrInvalidRole        = errors.New("role must be user, moderator or admin")
	ErrOwnRole            = errors.New("admins cannot change their own role")
	usernamePattern       = regexp.MustCompile(`^[a-zA-Z0-9_]{3,50}$`)
)

// Blacklist tracks revoked access token ids.
type Blacklist interface {
	Add(ctx context.Context, jti string, expiresAt time.Time) error
	Contains(ctx context.Context, jti string) (bool, error)
}

// Throttle reserves one action per key for a time window.
type Throttle interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type AuthOptions struct {
	AllowedEmailDomains      []string
	RequireEmailVerification bool
	FrontendURL              string
}

// ProfileUpdate holds the account fields a user may change. Nil fields are kept;
// an empty AvatarURL removes the avatar.
type ProfileUpdate struct {
	Username        *string
	Email           *string
	AvatarURL       *string
	CurrentPassword string
	NewPassword     *string
}

type AuthService interface {
	RegisterUser(ctx context.Context, username, email, password string) (*model.User, error)
	VerifyEmail(ctx context.Context, email, code string) (alreadyVerified bool, err error)
	ResendVerification(ctx context.Context, email string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, password string) error
	LoginUser(ctx context.Context, login, password string) (accessToken string, refreshToken string, err error)
	GetUserProfile(ctx context.Context, userID uuid.UUID) (*model.User, error)
	RefreshToken(ctx context.Context, refreshTokenString string) (newAccessToken string, err error)
	LogoutUser(ctx context.Context, refreshTokenString, accessJTI string, accessExpiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
	RegisterDeviceToken(ctx context.Context, userID uuid.UUID, deviceToken string) error
	UpdateProfile(ctx context.Context, userID uuid.UUID, update ProfileUpdate) (*model.User, error)
	ChangeRole(ctx context.Context, adminID, userID uuid.UUID, role string) (*model.User, error)
	DeleteAccount(ctx context.Context, userID uuid.UUID, accessJTI string, accessExpiresAt time.Time) error
	GetPublicProfile(ctx context.Context, userID uuid.UUID) (*model.User, error)
}

type authService struct {
	userRepo   repository.UserRepository
	tokenRepo  repository.TokenRepository
	deviceRepo repository.DeviceTokenRepository
	tokens     *jwt.Manager
	publisher  events.EventPublisher
	blacklist  Blacklist
	resend     Throttle
	opts       AuthOptions
	now        func() time.Time
}

func NewAuthService(
	userRepo repository.UserRepository,
	tokenRepo repository.TokenRepository,
	deviceRepo repository.DeviceTokenRepository,
	tokens *jwt.Manager,
	publisher events.EventPublisher,
	blacklist Blacklist,
	resend Throttle,
	opts AuthOptions,
) AuthService {
	return &authService{
		userRepo:   userRepo,
		tokenRepo:  tokenRepo,
		deviceRepo: deviceRepo,
		tokens:     tokens,
		publisher:  publisher,
		blacklist:  blacklist,
		resend:     resend,
		opts:       opts,
		now:        time.Now,
	}
}

func (s *authService) RegisterUser(ctx context.Context, username, email, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)

	if !usernamePattern.MatchString(username) {
		return nil, ErrInvalidUsername
	}
	if !emailDomainAllowed(email, s.opts.AllowedEmailDomains) {
		return nil, ErrEmailDomain
	}

	if _, err := s.userRepo.FindByUsername(ctx, username); err == nil {
		return nil, ErrUsernameTaken
	} else if !repository.IsNotFound(err) {
		return nil, err
	}
	if _, err := s.userRepo.FindByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !repository.IsNotFound(err) {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	code, err := newVerificationCode()
	if err != nil {
		return nil, err
	}
	expiresAt := s.now().Add(verificationCodeTTL)

	user := &model.User{
		Username:                   username,
		Email:                      email,
		PasswordHash:               string(hashedPassword),
		Role:                       model.RoleUser,
		EmailVerificationCode:      &code,
		EmailVerificationExpiresAt: &expiresAt,
	}

	newID, err := s.userRepo.Create(ctx, user)
	if err != nil {
		// lost a race with a concurrent registration
		if constraint, ok := repository.UniqueViolation(err); ok {
			if strings.Contains(constraint, "email") {
				return nil, ErrEmailTaken
			}
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	user.ID = newID

	s.sendVerification(ctx, user, code, expiresAt)

	return user, nil
}

func (s *authService) VerifyEmail(ctx context.Context, email, code string) (bool, error) {
	user, err := s.userRepo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if repository.IsNotFound(err) {
			return false, ErrInvalidCode
		}
		return false, err
	}

	if user.EmailVerified {
		return true, nil
	}

	if !user.VerificationCodeValid(strings.TrimSpace(code), s.now()) {
		return false, ErrInvalidCode
	}

	if err := s.userRepo.MarkEmailVerified(ctx, user.ID); err != nil {
		return false, fmt.Errorf("mark email verified: %w", err)
	}

	return false, nil
}

// ResendVerification is silent for unknown or verified addresses.
func (s *authService) ResendVerification(ctx context.Context, email string) error {
	user, err := s.userRepo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil
		}
		return err
	}
	if user.EmailVerified {
		return nil
	}

	allowed, err := s.resend.Allow(ctx, user.Email)
	if err != nil {
		return fmt.Errorf("resend throttle: %w", err)
	}
	if !allowed {
		return ErrResendThrottled
	}

	code, err := newVerificationCode()
	if err != nil {
		return err
	}
	expiresAt := s.now().Add(verificationCodeTTL)
	if err := s.userRepo.SetVerificationCode(ctx, user.ID, code, expiresAt); err != nil {
		return fmt.Errorf("store verification code: %w", err)
	}

	s.sendVerification(ctx, user, code, expiresAt)
	return nil
}

func (s *authService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.userRepo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil
		}
		return err
	}
	if user.IsDeleted {
		return nil
	}

	token, err := newURLSafeToken(32)
	if err != nil {
		return err
	}
	expiresAt := s.now().Add(passwordResetTTL)
	if err := s.userRepo.SetPasswordResetToken(ctx, user.ID, hashToken(token), expiresAt); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	resetURL := strings.TrimRight(s.opts.FrontendURL, "/") + "/reset-password?token=" + token
	if err := s.publisher.PublishPasswordReset(ctx, events.PasswordResetEvent{
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		ResetURL:  resetURL,
		ExpiresAt: expiresAt,
	}); err != nil {
		slog.WarnContext(ctx, "password reset event not published", "user_id", user.ID, "error", err)
	}
	return nil
}

func (s *authService) ResetPassword(ctx context.Context, token, password string) error {
	tokenHash := hashToken(strings.TrimSpace(token))
	user, err := s.userRepo.FindByResetToken(ctx, tokenHash)
	if err != nil {
		if repository.IsNotFound(err) {
			return ErrInvalidResetToken
		}
		return err
	}
	if !user.ResetTokenValid(tokenHash, s.now()) {
		return ErrInvalidResetToken
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.userRepo.UpdatePassword(ctx, user.ID, string(hashedPassword)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	// every session started with the old password ends here
	if err := s.tokenRepo.DeleteByUser(ctx, user.ID); err != nil {
		return fmt.Errorf("drop refresh tokens: %w", err)
	}
	return nil
}

func (s *authService) LoginUser(ctx context.Context, login, password string) (string, string, error) {
	user, err := s.userRepo.FindByLogin(ctx, strings.TrimSpace(login))
	if err != nil {
		if repository.IsNotFound(err) {
			return "", "", ErrInvalidCredentials
		}
		return "", "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", "", ErrInvalidCredentials
	}
	// a deleted account answers like a wrong password
	if user.IsDeleted {
		return "", "", ErrInvalidCredentials
	}

	if s.opts.RequireEmailVerification && !user.EmailVerified {
		return "", "", ErrEmailNotVerified
	}

	accessToken, refreshToken, err := s.tokens.GenerateTokens(user)
	if err != nil {
		return "", "", err
	}

	refreshTokenModel := &model.RefreshToken{
		UserID:    user.ID,
		TokenHash: hashToken(refreshToken),
		ExpiresAt: s.now().Add(s.tokens.RefreshTTL()),
	}

	if err := s.tokenRepo.Create(ctx, refreshTokenModel); err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}

func (s *authService) GetUserProfile(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	return s.liveUser(ctx, userID)
}

func (s *authService) GetPublicProfile(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	return s.liveUser(ctx, userID)
}

// liveUser loads a user that has not been deleted.
func (s *authService) liveUser(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if user.IsDeleted {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// UpdateProfile applies update to the caller's own account. A new e-mail address
// must be verified again; a new password needs the current one and ends every
// other session.
func (s *authService) UpdateProfile(ctx context.Context, userID uuid.UUID, update ProfileUpdate) (*model.User, error) {
	user, err := s.liveUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var newHash []byte
	if update.NewPassword != nil {
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(update.CurrentPassword)); err != nil {
			return nil, ErrWrongPassword
		}
		newHash, err = bcrypt.GenerateFromPassword([]byte(*update.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
	}

	if update.Username != nil {
		username := strings.TrimSpace(*update.Username)
		if username != user.Username {
			if !usernamePattern.MatchString(username) {
				return nil, ErrInvalidUsername
			}
			if err := s.ensureFree(ctx, user.ID, s.userRepo.FindByUsername, username, ErrUsernameTaken); err != nil {
				return nil, err
			}
			user.Username = username
		}
	}

	var newCode string
	if update.Email != nil {
		email := normalizeEmail(*update.Email)
		if email != normalizeEmail(user.Email) {
			if !emailDomainAllowed(email, s.opts.AllowedEmailDomains) {
				return nil, ErrEmailDomain
			}
			if err := s.ensureFree(ctx, user.ID, s.userRepo.FindByEmail, email, ErrEmailTaken); err != nil {
				return nil, err
			}
			if newCode, err = newVerificationCode(); err != nil {
				return nil, err
			}
			expiresAt := s.now().Add(verificationCodeTTL)
			user.Email = email
			user.EmailVerified = false
			user.EmailVerificationCode = &newCode
			user.EmailVerificationExpiresAt = &expiresAt
		}
	}

	if update.AvatarURL != nil {
		if avatar := strings.TrimSpace(*update.AvatarURL); avatar != "" {
			user.AvatarURL = &avatar
		} else {
			user.AvatarURL = nil
		}
	}

	if err := s.userRepo.UpdateProfile(ctx, user); err != nil {
		if constraint, ok := repository.UniqueViolation(err); ok {
			if strings.Contains(constraint, "email") {
				return nil, ErrEmailTaken
			}
			return nil, ErrUsernameTaken
		}
		if repository.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}

	if newHash != nil {
		if err := s.userRepo.UpdatePassword(ctx, user.ID, string(newHash)); err != nil {
			return nil, fmt.Errorf("update password: %w", err)
		}
		if err := s.tokenRepo.DeleteByUser(ctx, user.ID); err != nil {
			return nil, fmt.Errorf("drop refresh tokens: %w", err)
		}
		user.PasswordHash = string(newHash)
	}

	if newCode != "" {
		s.sendVerification(ctx, user, newCode, *user.EmailVerificationExpiresAt)
	}
	return user, nil
}

// ensureFree fails with taken when value already belongs to another account.
func (s *authService) ensureFree(
	ctx context.Context,
	self uuid.UUID,
	find func(context.Context, string) (*model.User, error),
	value string,
	taken error,
) error {
	other, err := find(ctx, value)
	switch {
	case err == nil && other.ID != self:
		return taken
	case err != nil && !repository.IsNotFound(err):
		return err
	}
	return nil
}

// ChangeRole takes effect with the user's next access token.
func (s *authService) ChangeRole(ctx context.Context, adminID, userID uuid.UUID, role string) (*model.User, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if !model.ValidRole(role) {
		return nil, ErrInvalidRole
	}
	if adminID == userID {
		return nil, ErrOwnRole
	}

	user, err := s.liveUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Role == role {
		return user, nil
	}

	if err := s.userRepo.UpdateRole(ctx, userID, role); err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("update role: %w", err)
	}
	slog.InfoContext(ctx, "user role changed", "user_id", userID, "admin_id", adminID, "from", user.Role, "to", role)

	user.Role = role
	return user, nil
}

// DeleteAccount soft deletes the user and ends every session, including the
// access token the request came with.
func (s *authService) DeleteAccount(ctx context.Context, userID uuid.UUID, accessJTI string, accessExpiresAt time.Time) error {
	if err := s.userRepo.SoftDelete(ctx, userID, s.now()); err != nil {
		if repository.IsNotFound(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("soft delete: %w", err)
	}
	if err := s.tokenRepo.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("drop refresh tokens: %w", err)
	}
	if err := s.deviceRepo.DeleteByUser(ctx, userID); err != nil {
		slog.WarnContext(ctx, "device tokens not removed", "user_id", userID, "error", err)
	}
	return s.LogoutUser(ctx, "", accessJTI, accessExpiresAt)
}

func (s *authService) RefreshToken(ctx context.Context, refreshTokenString string) (string, error) {
	claims, err := s.tokens.ValidateTyped(refreshTokenString, jwt.TypeRefresh)
	if err != nil {
		return "", ErrTokenInvalid
	}

	if _, err := s.tokenRepo.FindByTokenHash(ctx, hashToken(refreshTokenString)); err != nil {
		if repository.IsNotFound(err) {
			return "", ErrTokenInvalid
		}
		return "", err
	}

	userID, err := jwt.Subject(claims)
	if err != nil {
		return "", ErrTokenInvalid
	}
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil || user.IsDeleted {
		return "", ErrTokenInvalid
	}

	return s.tokens.GenerateAccessToken(user)
}

func (s *authService) LogoutUser(ctx context.Context, refreshTokenString, accessJTI string, accessExpiresAt time.Time) error {
	if refreshTokenString != "" {
		if err := s.tokenRepo.Delete(ctx, hashToken(refreshTokenString)); err != nil {
			return err
		}
	}
	if accessJTI != "" {
		if err := s.blacklist.Add(ctx, accessJTI, accessExpiresAt); err != nil {
			return fmt.Errorf("blacklist access token: %w", err)
		}
	}
	return nil
}

func (s *authService) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	return s.blacklist.Contains(ctx, jti)
}

func (s *authService) RegisterDeviceToken(ctx context.Context, userID uuid.UUID, deviceToken string) error {
	return s.deviceRepo.Upsert(ctx, userID, strings.TrimSpace(deviceToken))
}

func (s *authService) sendVerification(ctx context.Context, user *model.User, code string, expiresAt time.Time) {
	err := s.publisher.PublishEmailVerification(ctx, events.EmailVerificationEvent{
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Code:      code,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		slog.WarnContext(ctx, "verification event not published", "user_id", user.ID, "error", err)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// emailDomainAllowed requires an exact domain match, so sub.hkust-gz.edu.cn does not pass for hkust-gz.edu.cn.
func emailDomainAllowed(email string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}
	return slices.Contains(allowed, email[at+1:])
}

func newVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func newURLSafeToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
