package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"forum-api/internal/model"
)

const (
	clientColumns = `id, client_id, client_secret, client_name, client_description, client_uri,
	redirect_uris, scope, response_types, grant_types, is_active, created_at, updated_at`
	codeColumns = `id, code, user_id, client_id, redirect_uri, scope, code_challenge,
	code_challenge_method, expires_at, used, used_at, created_at`
	oauthTokenColumns = `id, access_token, refresh_token, token_type, user_id, client_id, scope,
	expires_in, expires_at, revoked, revoked_at, created_at`
)

type OAuthRepository interface {
	CreateClient(ctx context.Context, client *model.OAuthClient) error
	FindClient(ctx context.Context, clientID string) (*model.OAuthClient, error)
	ListActiveClients(ctx context.Context) ([]model.OAuthClient, error)

	CreateCode(ctx context.Context, code *model.OAuthAuthorizationCode) error
	FindCode(ctx context.Context, code string) (*model.OAuthAuthorizationCode, error)
	MarkCodeUsed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	CreateToken(ctx context.Context, token *model.OAuthToken) error
	FindTokenByAccess(ctx context.Context, accessToken string) (*model.OAuthToken, error)
	FindTokenByRefresh(ctx context.Context, refreshToken string) (*model.OAuthToken, error)
	RevokeToken(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

type postgresOAuthRepository struct {
	db *sqlx.DB
}

func NewPostgresOAuthRepository(db *sqlx.DB) OAuthRepository {
	return &postgresOAuthRepository{db: db}
}

func (r *postgresOAuthRepository) CreateClient(ctx context.Context, c *model.OAuthClient) error {
	query := `INSERT INTO oauth_clients (client_id, client_secret, client_name, client_description, client_uri,
		redirect_uris, scope, response_types, grant_types, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id, created_at`
	return r.db.QueryRowxContext(ctx, query,
		c.ClientID, c.ClientSecret, c.Name, c.Description, c.URI,
		c.RedirectURIs, c.Scope, c.ResponseTypes, c.GrantTypes, c.IsActive,
	).Scan(&c.ID, &c.CreatedAt)
}

func (r *postgresOAuthRepository) FindClient(ctx context.Context, clientID string) (*model.OAuthClient, error) {
	var c model.OAuthClient
	query := `SELECT ` + clientColumns + ` FROM oauth_clients WHERE client_id = $1`
	if err := r.db.GetContext(ctx, &c, query, clientID); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *postgresOAuthRepository) ListActiveClients(ctx context.Context) ([]model.OAuthClient, error) {
	clients := []model.OAuthClient{}
	query := `SELECT ` + clientColumns + ` FROM oauth_clients WHERE is_active = true ORDER BY created_at`
	err := r.db.SelectContext(ctx, &clients, query)
	return clients, err
}

func (r *postgresOAuthRepository) CreateCode(ctx context.Context, a *model.OAuthAuthorizationCode) error {
	query := `INSERT INTO oauth_authorization_codes (code, user_id, client_id, redirect_uri, scope,
		code_challenge, code_challenge_method, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`
	return r.db.QueryRowxContext(ctx, query,
		a.Code, a.UserID, a.ClientID, a.RedirectURI, a.Scope,
		a.CodeChallenge, a.CodeChallengeMethod, a.ExpiresAt,
	).Scan(&a.ID)
}

func (r *postgresOAuthRepository) FindCode(ctx context.Context, code string) (*model.OAuthAuthorizationCode, error) {
	var a model.OAuthAuthorizationCode
	query := `SELECT ` + codeColumns + ` FROM oauth_authorization_codes WHERE code = $1`
	if err := r.db.GetContext(ctx, &a, query, code); err != nil {
		return nil, err
	}
	return &a, nil
}

// MarkCodeUsed flips the used flag only if it was still false. False means another request won.
func (r *postgresOAuthRepository) MarkCodeUsed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `UPDATE oauth_authorization_codes SET used = true, used_at = $2 WHERE id = $1 AND used = false`
	return execChanged(ctx, r.db, query, id, at)
}

func (r *postgresOAuthRepository) CreateToken(ctx context.Context, t *model.OAuthToken) error {
	query := `INSERT INTO oauth_tokens (access_token, refresh_token, token_type, user_id, client_id, scope, expires_in, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at`
	return r.db.QueryRowxContext(ctx, query,
		t.AccessToken, t.RefreshToken, t.TokenType, t.UserID, t.ClientID, t.Scope, t.ExpiresIn, t.ExpiresAt,
	).Scan(&t.ID, &t.CreatedAt)
}

func (r *postgresOAuthRepository) FindTokenByAccess(ctx context.Context, accessToken string) (*model.OAuthToken, error) {
	var t model.OAuthToken
	query := `SELECT ` + oauthTokenColumns + ` FROM oauth_tokens WHERE access_token = $1`
	if err := r.db.GetContext(ctx, &t, query, accessToken); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *postgresOAuthRepository) FindTokenByRefresh(ctx context.Context, refreshToken string) (*model.OAuthToken, error) {
	var t model.OAuthToken
	query := `SELECT ` + oauthTokenColumns + ` FROM oauth_tokens WHERE refresh_token = $1`
	if err := r.db.GetContext(ctx, &t, query, refreshToken); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *postgresOAuthRepository) RevokeToken(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `UPDATE oauth_tokens SET revoked = true, revoked_at = $2 WHERE id = $1 AND revoked = false`
	return execChanged(ctx, r.db, query, id, at)
}
