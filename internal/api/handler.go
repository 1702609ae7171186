package api

import (
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"forum-api/internal/jwt"
	"forum-api/internal/model"
	"forum-api/internal/service"
)

type AuthHandler struct {
	authService service.AuthService
	validate    *validator.Validate
}

func NewAuthHandler(authService service.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		validate:    validator.New(),
	}
}

// bind parses and validates the body. When ok is false the error response is already written.
func bind(c *fiber.Ctx, v *validator.Validate, request any) (ok bool, err error) {
	if err := c.BodyParser(request); err != nil {
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}
	if err := v.Struct(request); err != nil {
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid input", "details": err.Error()})
	}
	return true, nil
}

func internalError(c *fiber.Ctx, msg string, err error) error {
	slog.ErrorContext(c.UserContext(), msg, slog.String("error", err.Error()))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": msg})
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var request RegisterRequest
	if ok, err := bind(c, h.validate, &request); !ok {
		return err
	}

	user, err := h.authService.RegisterUser(c.UserContext(), request.Username, request.Email, request.Password)

	if err != nil {
		var pgErr *pgconn.PgError

		switch {
		case errors.Is(err, service.ErrInvalidUsername), errors.Is(err, service.ErrEmailDomain):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, service.ErrUsernameTaken), errors.Is(err, service.ErrEmailTaken):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		case errors.As(err, &pgErr) && pgErr.Code == "23505":
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "User already exists"})
		}

		return internalError(c, "Registration failed", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Registration successful. Please check your email for the verification code.",
		"user_id": user.ID,
	})
}

type VerifyEmailRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

func (h *AuthHandler) VerifyEmail(c *fiber.Ctx) error {
	var request VerifyEmailRequest
	if ok, err := bind(c, h.validate, &request); !ok {
		return err
	}

	alreadyVerified, err := h.authService.VerifyEmail(c.UserContext(), request.Email, request.Code)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCode) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return internalError(c, "Email verification failed", err)
	}

	if alreadyVerified {
		return c.JSON(fiber.Map{"message": "Email is already verified"})
	}
	return c.JSON(fiber.Map{"message": "Email verified successfully"})
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *AuthHandler) ResendVerification(c *fiber.Ctx) error {
	var request EmailRequest
	if ok, err := bind(c, h.validate, &request); !ok {
		return err
	}

	if err := h.authService.ResendVerification(c.UserContext(), request.Email); err != nil {
		if errors.Is(err, service.ErrResendThrottled) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": err.Error()})
		}
		return internalError(c, "Could not resend verification email", err)
	}

	return c.JSON(fiber.Map{"message": "If the account exists and is not verified, a new code has been sent"})
}

func (h *AuthHandler) ForgotPassword(c *fiber.Ctx) error {
	var request EmailRequest
	if ok, err := bind(c, h.validate, &request); !ok {
		return err
	}

	if err := h.authService.ForgotPassword(c.UserContext(), request.Email); err != nil {
		return internalError(c, "Could not start password reset", err)
	}

	return c.JSON(fiber.Map{"message": "If the email is registered, a password reset link has been sent"})
}

type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *AuthHandler) ResetPassword(c *fiber.Ctx) error {
	var request ResetPasswordRequest
	if ok, err := bind(c, h.validate, &request); !ok {
		return err
	}

	if err := h.authService.ResetPassword(c.UserContext(), request.Token, request.Password); err != nil {
		if errors.Is(err, service.ErrInvalidResetToken) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return internalError(c, "Password reset failed", err)
	}

	return c.JSON(fiber.Map{"message": "Password has been reset successfully"})
}

type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type LoginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var request LoginRequest
	if ok, err := bind(c, h.validate, &request); !ok {
		return err
	}

	accessToken, refreshToken, err := h.authService.LoginUser(c.UserContext(), request.Login, request.Password)

	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid credentials"})
		case errors.Is(err, service.ErrEmailNotVerified):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
		}

		return internalError(c, "Login failed", err)
	}

	return c.Status(fiber.StatusOK).JSON(LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req RefreshRequest
	if ok, err := bind(c, h.validate, &req); !ok {
		return err
	}

	newAccessToken, err := h.authService.RefreshToken(c.UserContext(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, service.ErrTokenInvalid) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
		}
		return internalError(c, "Token refresh failed", err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"access_token": newAccessToken})
}

// Logout runs behind AuthMiddleware; the refresh token in the body is optional.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	var req RefreshRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
		}
	}

	claims := getClaims(c)
	err := h.authService.LogoutUser(c.UserContext(), req.RefreshToken, jwt.ID(claims), jwt.ExpiresAt(claims))
	if err != nil {
		return internalError(c, "Logout failed", err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"message": "Successfully logged out"})
}

type UserProfileResponse struct {
	ID            uuid.UUID `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	AvatarURL     *string   `json:"avatar_url,omitempty"`
	Role          string    `json:"role"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (h *AuthHandler) GetUserProfile(c *fiber.Ctx) error {
	userID, err := GetUserIDFromClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	user, err := h.authService.GetUserProfile(c.UserContext(), userID)

	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
		}
		return internalError(c, "Could not load profile", err)
	}

	return c.Status(fiber.StatusOK).JSON(newUserProfileResponse(user))
}

func newUserProfileResponse(user *model.User) UserProfileResponse {
	return UserProfileResponse{
		ID:            user.ID,
		Username:      user.Username,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		AvatarURL:     user.AvatarURL,
		Role:          user.Role,
		CreatedAt:     user.CreatedAt,
		UpdatedAt:     user.UpdatedAt,
	}
}

// UpdateProfileRequest fields left out of the body are not changed.
type UpdateProfileRequest struct {
	Username        *string `json:"username" validate:"omitnil,min=3,max=50"`
	Email           *string `json:"email" validate:"omitnil,email"`
	AvatarURL       *string `json:"avatar_url" validate:"omitnil,max=500"`
	CurrentPassword string  `json:"current_password"`
	NewPassword     *string `json:"new_password" validate:"omitnil,min=8"`
}

func (h *AuthHandler) UpdateProfile(c *fiber.Ctx) error {
	userID, err := GetUserIDFromClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	var request UpdateProfileRequest
	if ok, err := bind(c, h.validate, &request); !ok {
		return err
	}
	// an empty avatar_url removes the avatar
	if request.AvatarURL != nil && *request.AvatarURL != "" {
		if err := h.validate.Var(*request.AvatarURL, "url"); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid input", "details": "avatar_url must be a URL"})
		}
	}
	if request.NewPassword != nil && request.CurrentPassword == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "current_password is required to change the password"})
	}

	user, err := h.authService.UpdateProfile(c.UserContext(), userID, service.ProfileUpdate{
		Username:        request.Username,
		Email:           request.Email,
		AvatarURL:       request.AvatarURL,
		CurrentPassword: request.CurrentPassword,
		NewPassword:     request.NewPassword,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidUsername), errors.Is(err, service.ErrEmailDomain), errors.Is(err, service.ErrWrongPassword):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, service.ErrUsernameTaken), errors.Is(err, service.ErrEmailTaken):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, service.ErrUserNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
		}
		return internalError(c, "Could not update profile", err)
	}

	return c.JSON(newUserProfileResponse(user))
}

type ChangeRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

// ChangeRole runs behind AdminMiddleware.
func (h *AuthHandler) ChangeRole(c *fiber.Ctx) error {
	adminID, err := GetUserIDFromClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}

	var request ChangeRoleRequest
	if ok, err := bind(c, h.validate, &request); !ok {
		return err
	}

	user, err := h.authService.ChangeRole(c.UserContext(), adminID, userID, request.Role)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRole), errors.Is(err, service.ErrOwnRole):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, service.ErrUserNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
		}
		return internalError(c, "Could not change role", err)
	}

	return c.JSON(newUserProfileResponse(user))
}

func (h *AuthHandler) DeleteAccount(c *fiber.Ctx) error {
	userID, err := GetUserIDFromClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	claims := getClaims(c)
	if err := h.authService.DeleteAccount(c.UserContext(), userID, jwt.ID(claims), jwt.ExpiresAt(claims)); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
		}
		return internalError(c, "Could not delete account", err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

type PublicProfileResponse struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	AvatarURL *string   `json:"avatar_url"`
	Role      string    `json:"role"`
}

func (h *AuthHandler) GetPublicProfile(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}

	user, err := h.authService.GetPublicProfile(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
		}
		return internalError(c, "Could not load profile", err)
	}

	return c.JSON(PublicProfileResponse{
		ID:        user.ID,
		Username:  user.Username,
		AvatarURL: user.AvatarURL,
		Role:      user.Role,
	})
}

type DeviceTokenRequest struct {
	DeviceToken string `json:"device_token" validate:"required,max=255"`
}

func (h *AuthHandler) RegisterDeviceToken(c *fiber.Ctx) error {
	userID, err := GetUserIDFromClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	var request DeviceTokenRequest
	if ok, err := bind(c, h.validate, &request); !ok {
		return err
	}

	if err := h.authService.RegisterDeviceToken(c.UserContext(), userID, request.DeviceToken); err != nil {
		return internalError(c, "Could not register device token", err)
	}

	return c.JSON(fiber.Map{"message": "Device token registered"})
}
