package api

import (
	"context"
	"time"

	"github.com/google/uuid"

	"forum-api/internal/model"
	"forum-api/internal/service"
)

type stubAuthService struct {
	registerErr error
	loginErr    error
	revoked     map[string]bool
	loggedOut   []string
	devices     map[uuid.UUID]string
	users       map[uuid.UUID]*model.User
	updateErr   error
	lastUpdate  service.ProfileUpdate
}

func (s *stubAuthService) RegisterUser(_ context.Context, username, email, _ string) (*model.User, error) {
	if s.registerErr != nil {
		return nil, s.registerErr
	}
	return &model.User{ID: uuid.New(), Username: username, Email: email}, nil
}

func (s *stubAuthService) VerifyEmail(_ context.Context, _, code string) (bool, error) {
	switch code {
	case "111111":
		return true, nil
	case "123456":
		return false, nil
	}
	return false, service.ErrInvalidCode
}

func (s *stubAuthService) ResendVerification(_ context.Context, email string) error {
	if email == "throttled@example.com" {
		return service.ErrResendThrottled
	}
	return nil
}

func (s *stubAuthService) ForgotPassword(context.Context, string) error { return nil }

func (s *stubAuthService) ResetPassword(_ context.Context, token, _ string) error {
	if token != "good-token" {
		return service.ErrInvalidResetToken
	}
	return nil
}

func (s *stubAuthService) LoginUser(context.Context, string, string) (string, string, error) {
	if s.loginErr != nil {
		return "", "", s.loginErr
	}
	return "access", "refresh", nil
}

func (s *stubAuthService) GetUserProfile(_ context.Context, id uuid.UUID) (*model.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, service.ErrUserNotFound
}

func (s *stubAuthService) RefreshToken(_ context.Context, token string) (string, error) {
	if token != "refresh" {
		return "", service.ErrTokenInvalid
	}
	return "new-access", nil
}

func (s *stubAuthService) LogoutUser(_ context.Context, _, jti string, _ time.Time) error {
	s.loggedOut = append(s.loggedOut, jti)
	if s.revoked == nil {
		s.revoked = map[string]bool{}
	}
	s.revoked[jti] = true
	return nil
}

func (s *stubAuthService) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	return s.revoked[jti], nil
}

func (s *stubAuthService) RegisterDeviceToken(_ context.Context, userID uuid.UUID, token string) error {
	if s.devices == nil {
		s.devices = map[uuid.UUID]string{}
	}
	s.devices[userID] = token
	return nil
}

func (s *stubAuthService) UpdateProfile(_ context.Context, userID uuid.UUID, update service.ProfileUpdate) (*model.User, error) {
	s.lastUpdate = update
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, service.ErrUserNotFound
	}
	if update.Username != nil {
		u.Username = *update.Username
	}
	if update.AvatarURL != nil {
		u.AvatarURL = update.AvatarURL
	}
	return u, nil
}

func (s *stubAuthService) ChangeRole(_ context.Context, adminID, userID uuid.UUID, role string) (*model.User, error) {
	if adminID == userID {
		return nil, service.ErrOwnRole
	}
	if !model.ValidRole(role) {
		return nil, service.ErrInvalidRole
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, service.ErrUserNotFound
	}
	u.Role = role
	return u, nil
}

func (s *stubAuthService) DeleteAccount(ctx context.Context, userID uuid.UUID, jti string, exp time.Time) error {
	u, ok := s.users[userID]
	if !ok || u.IsDeleted {
		return service.ErrUserNotFound
	}
	u.IsDeleted = true
	return s.LogoutUser(ctx, "", jti, exp)
}

func (s *stubAuthService) GetPublicProfile(_ context.Context, id uuid.UUID) (*model.User, error) {
	if u, ok := s.users[id]; ok && !u.IsDeleted {
		return u, nil
	}
	return nil, service.ErrUserNotFound
}

type stubOAuthService struct {
	validateErr error
	exchangeErr error
	issuedFor   uuid.UUID
}

func (s *stubOAuthService) ValidateAuthorize(_ context.Context, req service.AuthorizeRequest) (*service.AuthorizeGrant, error) {
	if s.validateErr != nil {
		return nil, s.validateErr
	}
	return &service.AuthorizeGrant{
		Client:           &model.OAuthClient{ClientID: req.ClientID, Name: "Planner"},
		Scope:            "profile",
		AuthorizeRequest: req,
	}, nil
}

func (s *stubOAuthService) IssueCode(_ context.Context, _ *service.AuthorizeGrant, userID uuid.UUID) (string, error) {
	s.issuedFor = userID
	return "the-code", nil
}

func (s *stubOAuthService) Exchange(_ context.Context, req service.TokenRequest) (*service.TokenResponse, error) {
	if s.exchangeErr != nil {
		return nil, s.exchangeErr
	}
	return &service.TokenResponse{AccessToken: "at-" + req.ClientID, TokenType: "Bearer", ExpiresIn: 3600, Scope: "profile"}, nil
}

func (s *stubOAuthService) UserInfo(_ context.Context, token string) (map[string]any, error) {
	if token != "good" {
		return nil, &service.OAuthError{Code: service.OAuthInvalidToken, Description: "Invalid access token"}
	}
	return map[string]any{"sub": "user-1"}, nil
}

func (s *stubOAuthService) Revoke(_ context.Context, token, _ string) error {
	if token == "" {
		return &service.OAuthError{Code: service.OAuthInvalidRequest, Description: "Missing token parameter"}
	}
	return nil
}

func (s *stubOAuthService) ListClients(context.Context) ([]model.OAuthClient, error) {
	return []model.OAuthClient{{ClientID: "c1", Name: "Planner", IsActive: true}}, nil
}

func (s *stubOAuthService) CreateClient(_ context.Context, req service.NewClientRequest) (*model.OAuthClient, error) {
	return &model.OAuthClient{ClientID: "new-id", ClientSecret: "new-secret", Name: req.Name}, nil
}

type stubIdentityService struct {
	err error
}

func (s *stubIdentityService) ListTypes(context.Context) ([]model.IdentityType, error) {
	return []model.IdentityType{{ID: 1, Name: "professor", DisplayName: "Professor", IsActive: true}}, nil
}

func (s *stubIdentityService) identity(userID uuid.UUID, status string) (*model.UserIdentity, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &model.UserIdentity{ID: uuid.New(), UserID: userID, IdentityTypeID: 1, Status: status}, nil
}

func (s *stubIdentityService) Request(_ context.Context, userID uuid.UUID, _ int, _ []uuid.UUID, _ string) (*model.UserIdentity, error) {
	return s.identity(userID, model.IdentityPending)
}

func (s *stubIdentityService) Update(_ context.Context, userID, _ uuid.UUID, _ *[]uuid.UUID, _ *string) (*model.UserIdentity, error) {
	return s.identity(userID, model.IdentityPending)
}

func (s *stubIdentityService) MyRequests(context.Context, uuid.UUID) ([]model.UserIdentity, error) {
	return []model.UserIdentity{}, nil
}

func (s *stubIdentityService) MyVerified(context.Context, uuid.UUID) ([]model.UserIdentity, error) {
	return []model.UserIdentity{}, nil
}

func (s *stubIdentityService) ListPending(context.Context) ([]model.UserIdentity, error) {
	return []model.UserIdentity{}, nil
}

func (s *stubIdentityService) Approve(_ context.Context, _, _ uuid.UUID, _ *int, _ *string) (*model.UserIdentity, error) {
	return s.identity(uuid.New(), model.IdentityApproved)
}

func (s *stubIdentityService) Reject(_ context.Context, _, _ uuid.UUID, reason string, _ *string) (*model.UserIdentity, error) {
	if reason == "" {
		return nil, service.ErrReasonRequired
	}
	return s.identity(uuid.New(), model.IdentityRejected)
}

func (s *stubIdentityService) Revoke(_ context.Context, _, _ uuid.UUID, _ string, _ *string) (*model.UserIdentity, error) {
	return s.identity(uuid.New(), model.IdentityRevoked)
}

type stubFileService struct {
	offline bool
	owner   uuid.UUID
	viewer  service.Viewer
}

func (s *stubFileService) RequestUpload(_ context.Context, userID uuid.UUID, req service.UploadRequest) (*model.File, string, error) {
	if s.offline {
		return nil, "", service.ErrStorageOffline
	}
	f := &model.File{ID: uuid.New(), UserID: userID, ObjectName: "user_upload/" + userID.String() + "/" + req.Filename}
	return f, "https://oss.example/put", nil
}

func (s *stubFileService) ViewURL(_ context.Context, id uuid.UUID, viewer service.Viewer) (*model.File, string, error) {
	s.viewer = viewer
	if s.offline {
		return nil, "", service.ErrFileNotFound
	}
	if s.owner != uuid.Nil && !viewer.Admin && viewer.UserID != s.owner {
		return nil, "", service.ErrFileNotFound
	}
	return &model.File{ID: id, UserID: s.owner, MimeType: "image/png"}, "https://oss.example/get", nil
}

func (s *stubFileService) CacheViewURL(context.Context, *model.File) (bool, error) {
	return true, nil
}

type stubCacheService struct {
	clearedFor string
}

func (s *stubCacheService) Stats(context.Context) (*service.CacheStats, error) {
	return &service.CacheStats{MemoryUsed: "1M", HitRatio: "N/A"}, nil
}

func (s *stubCacheService) Clear(_ context.Context, fileID string) (int64, error) {
	s.clearedFor = fileID
	return 2, nil
}

func (s *stubCacheService) Warm(_ context.Context, ids []uuid.UUID, _ string) (int, error) {
	return len(ids), nil
}

func (s *stubCacheService) Refresh(context.Context) (int, error) {
	return 0, nil
}
