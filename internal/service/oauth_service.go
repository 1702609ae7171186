package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"forum-api/internal/model"
	"forum-api/internal/repository"
)

const (
	authorizationCodeTTL = 10 * time.Minute
	oauthTokenLifetime   = 3600
	oauthTokenLength     = 40
	clientIDLength       = 20
	clientSecretLength   = 40
	defaultClientScope   = "profile email"

	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
)

// OAuth error codes from RFC 6749.
const (
	OAuthInvalidRequest          = "invalid_request"
	OAuthInvalidClient           = "invalid_client"
	OAuthInvalidGrant            = "invalid_grant"
	OAuthUnauthorizedClient      = "unauthorized_client"
	OAuthUnsupportedGrantType    = "unsupported_grant_type"
	OAuthUnsupportedResponseType = "unsupported_response_type"
	OAuthInvalidRedirectURI      = "invalid_redirect_uri"
	OAuthAccessDenied            = "access_denied"
	OAuthInvalidToken            = "invalid_token"
)

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// OAuthError carries an RFC 6749 error code and a human readable description.
type OAuthError struct {
	Code        string
	Description string
}

func (e *OAuthError) Error() string {
	return e.Code + ": " + e.Description
}

func oauthErr(code, description string) *OAuthError {
	return &OAuthError{Code: code, Description: description}
}

type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizeGrant is a validated authorization request ready for consent.
type AuthorizeGrant struct {
	Client *model.OAuthClient
	Scope  string
	AuthorizeRequest
}

type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type NewClientRequest struct {
	Name         string
	Description  string
	URI          string
	RedirectURIs []string
	Scope        string
}

type OAuthService interface {
	ValidateAuthorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeGrant, error)
	IssueCode(ctx context.Context, grant *AuthorizeGrant, userID uuid.UUID) (string, error)
	Exchange(ctx context.Context, req TokenRequest) (*TokenResponse, error)
	UserInfo(ctx context.Context, accessToken string) (map[string]any, error)
	Revoke(ctx context.Context, token, clientID string) error
	ListClients(ctx context.Context) ([]model.OAuthClient, error)
	CreateClient(ctx context.Context, req NewClientRequest) (*model.OAuthClient, error)
}

type oauthService struct {
	repo     repository.OAuthRepository
	userRepo repository.UserRepository
	now      func() time.Time
}

func NewOAuthService(repo repository.OAuthRepository, userRepo repository.UserRepository) OAuthService {
	return &oauthService{repo: repo, userRepo: userRepo, now: time.Now}
}

func (s *oauthService) activeClient(ctx context.Context, clientID string) (*model.OAuthClient, error) {
	client, err := s.repo.FindClient(ctx, clientID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if !client.IsActive {
		return nil, nil
	}
	return client, nil
}

func (s *oauthService) ValidateAuthorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeGrant, error) {
	if req.ResponseType == "" || req.ClientID == "" || req.RedirectURI == "" {
		return nil, oauthErr(OAuthInvalidRequest, "Missing required parameters")
	}
	if req.ResponseType != "code" {
		return nil, oauthErr(OAuthUnsupportedResponseType, "Only authorization code flow is supported")
	}

	client, err := s.activeClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, oauthErr(OAuthInvalidClient, "Invalid client_id")
	}
	if !client.CheckRedirectURI(req.RedirectURI) {
		return nil, oauthErr(OAuthInvalidRedirectURI, "Redirect URI not registered for this client")
	}
	if !client.CheckResponseType(req.ResponseType) {
		return nil, oauthErr(OAuthUnauthorizedClient, "Client not authorized for this response type")
	}

	if req.CodeChallengeMethod == "" {
		req.CodeChallengeMethod = model.ChallengePlain
	}
	if req.CodeChallengeMethod != model.ChallengePlain && req.CodeChallengeMethod != model.ChallengeS256 {
		return nil, oauthErr(OAuthInvalidRequest, "Unsupported code_challenge_method")
	}
	if req.CodeChallenge != "" && !model.ValidCodeChallenge(req.CodeChallenge) {
		return nil, oauthErr(OAuthInvalidRequest, "code_challenge must be 43-128 unreserved characters")
	}

	return &AuthorizeGrant{
		Client:           client,
		Scope:            client.AllowedScope(req.Scope),
		AuthorizeRequest: req,
	}, nil
}

func (s *oauthService) IssueCode(ctx context.Context, grant *AuthorizeGrant, userID uuid.UUID) (string, error) {
	code, err := randomToken(oauthTokenLength)
	if err != nil {
		return "", err
	}

	authCode := &model.OAuthAuthorizationCode{
		Code:        code,
		UserID:      userID,
		ClientID:    grant.Client.ClientID,
		RedirectURI: grant.RedirectURI,
		Scope:       grant.Scope,
		ExpiresAt:   s.now().Add(authorizationCodeTTL),
	}
	if grant.CodeChallenge != "" {
		challenge, method := grant.CodeChallenge, grant.CodeChallengeMethod
		authCode.CodeChallenge = &challenge
		authCode.CodeChallengeMethod = &method
	}

	if err := s.repo.CreateCode(ctx, authCode); err != nil {
		return "", fmt.Errorf("store authorization code: %w", err)
	}
	return code, nil
}

func (s *oauthService) Exchange(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.GrantType != GrantAuthorizationCode && req.GrantType != GrantRefreshToken {
		return nil, oauthErr(OAuthUnsupportedGrantType, "Only authorization_code and refresh_token grants are supported")
	}

	client, err := s.activeClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if client == nil || !client.SecretMatches(req.ClientSecret) {
		return nil, oauthErr(OAuthInvalidClient, "Client authentication failed")
	}
	if !client.CheckGrantType(req.GrantType) {
		return nil, oauthErr(OAuthUnauthorizedClient, "Client not authorized for this grant type")
	}

	if req.GrantType == GrantRefreshToken {
		return s.exchangeRefreshToken(ctx, client, req)
	}
	return s.exchangeCode(ctx, client, req)
}

func (s *oauthService) exchangeCode(ctx context.Context, client *model.OAuthClient, req TokenRequest) (*TokenResponse, error) {
	if req.Code == "" || req.RedirectURI == "" {
		return nil, oauthErr(OAuthInvalidRequest, "Missing required parameters")
	}

	authCode, err := s.repo.FindCode(ctx, req.Code)
	if err != nil && !repository.IsNotFound(err) {
		return nil, err
	}
	if authCode == nil || authCode.ClientID != client.ClientID || authCode.RedirectURI != req.RedirectURI {
		return nil, oauthErr(OAuthInvalidGrant, "Authorization code not found")
	}

	now := s.now()
	if !authCode.IsValid(now) {
		return nil, oauthErr(OAuthInvalidGrant, "Authorization code expired or already used")
	}

	if authCode.HasChallenge() {
		if req.CodeVerifier == "" {
			return nil, oauthErr(OAuthInvalidRequest, "Code verifier required for PKCE")
		}
		if !authCode.VerifyCodeChallenge(req.CodeVerifier) {
			return nil, oauthErr(OAuthInvalidGrant, "Code verifier verification failed")
		}
	}

	marked, err := s.repo.MarkCodeUsed(ctx, authCode.ID, now)
	if err != nil {
		return nil, fmt.Errorf("mark code used: %w", err)
	}
	if !marked {
		return nil, oauthErr(OAuthInvalidGrant, "Authorization code expired or already used")
	}

	return s.issueToken(ctx, authCode.UserID, client.ClientID, authCode.Scope)
}

// exchangeRefreshToken rotates the pair: the old record is revoked and a new one issued with the same scope.
func (s *oauthService) exchangeRefreshToken(ctx context.Context, client *model.OAuthClient, req TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, oauthErr(OAuthInvalidRequest, "Missing refresh_token parameter")
	}

	old, err := s.repo.FindTokenByRefresh(ctx, req.RefreshToken)
	if err != nil && !repository.IsNotFound(err) {
		return nil, err
	}
	if old == nil || old.ClientID != client.ClientID || old.Revoked {
		return nil, oauthErr(OAuthInvalidGrant, "Refresh token is invalid")
	}

	revoked, err := s.repo.RevokeToken(ctx, old.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("revoke rotated token: %w", err)
	}
	if !revoked {
		return nil, oauthErr(OAuthInvalidGrant, "Refresh token is invalid")
	}

	return s.issueToken(ctx, old.UserID, client.ClientID, old.Scope)
}

func (s *oauthService) issueToken(ctx context.Context, userID uuid.UUID, clientID, scope string) (*TokenResponse, error) {
	accessToken, err := randomToken(oauthTokenLength)
	if err != nil {
		return nil, err
	}
	refreshToken, err := randomToken(oauthTokenLength)
	if err != nil {
		return nil, err
	}

	record := &model.OAuthToken{
		AccessToken:  accessToken,
		RefreshToken: &refreshToken,
		TokenType:    "Bearer",
		UserID:       userID,
		ClientID:     clientID,
		Scope:        scope,
		ExpiresIn:    oauthTokenLifetime,
		ExpiresAt:    s.now().Add(oauthTokenLifetime * time.Second),
	}
	if err := s.repo.CreateToken(ctx, record); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    oauthTokenLifetime,
		Scope:        scope,
		RefreshToken: refreshToken,
	}, nil
}

func (s *oauthService) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	if accessToken == "" {
		return nil, oauthErr(OAuthInvalidToken, "Missing access token")
	}

	record, err := s.repo.FindTokenByAccess(ctx, accessToken)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, oauthErr(OAuthInvalidToken, "Invalid access token")
		}
		return nil, err
	}
	if !record.IsValid(s.now()) {
		return nil, oauthErr(OAuthInvalidToken, "Access token expired or revoked")
	}

	user, err := s.userRepo.FindByID(ctx, record.UserID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, oauthErr(OAuthInvalidToken, "User not found")
		}
		return nil, err
	}
	if user.IsDeleted {
		return nil, oauthErr(OAuthInvalidToken, "User not found")
	}

	info := map[string]any{"sub": user.ID.String()}
	if record.HasScope("profile") {
		info["username"] = user.Username
		info["picture"] = user.AvatarURL
		info["role"] = user.Role
	}
	if record.HasScope("email") {
		info["email"] = user.Email
		info["email_verified"] = user.EmailVerified
	}
	if record.HasScope("courses") {
		info["courses"] = []any{}
	}
	return info, nil
}

// Revoke succeeds for unknown tokens as RFC 7009 requires.
func (s *oauthService) Revoke(ctx context.Context, token, clientID string) error {
	if token == "" {
		return oauthErr(OAuthInvalidRequest, "Missing token parameter")
	}

	record, err := s.repo.FindTokenByAccess(ctx, token)
	if repository.IsNotFound(err) {
		record, err = s.repo.FindTokenByRefresh(ctx, token)
	}
	if err != nil {
		if repository.IsNotFound(err) {
			return nil
		}
		return err
	}

	if clientID != "" && record.ClientID != clientID {
		return oauthErr(OAuthInvalidClient, "Token does not belong to this client")
	}

	if _, err := s.repo.RevokeToken(ctx, record.ID, s.now()); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *oauthService) ListClients(ctx context.Context) ([]model.OAuthClient, error) {
	return s.repo.ListActiveClients(ctx)
}

func (s *oauthService) CreateClient(ctx context.Context, req NewClientRequest) (*model.OAuthClient, error) {
	clientID, err := randomToken(clientIDLength)
	if err != nil {
		return nil, err
	}
	clientSecret, err := randomToken(clientSecretLength)
	if err != nil {
		return nil, err
	}

	scope := strings.Join(strings.Fields(req.Scope), " ")
	if scope == "" {
		scope = defaultClientScope
	}

	client := &model.OAuthClient{
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		Name:          strings.TrimSpace(req.Name),
		Description:   optional(req.Description),
		URI:           optional(req.URI),
		RedirectURIs:  model.StringList(req.RedirectURIs),
		Scope:         scope,
		ResponseTypes: "code",
		GrantTypes:    GrantAuthorizationCode + " " + GrantRefreshToken,
		IsActive:      true,
	}
	if client.RedirectURIs == nil {
		client.RedirectURIs = model.StringList{}
	}

	if err := s.repo.CreateClient(ctx, client); err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return client, nil
}

// IsOAuthError unwraps err into an *OAuthError.
func IsOAuthError(err error) (*OAuthError, bool) {
	var oe *OAuthError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

func randomToken(length int) (string, error) {
	b := make([]byte, length)
	limit := big.NewInt(int64(len(tokenAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = tokenAlphabet[n.Int64()]
	}
	return string(b), nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
