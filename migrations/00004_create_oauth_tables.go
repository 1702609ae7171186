package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateOAuthTables, downCreateOAuthTables)
}

func upCreateOAuthTables(ctx context.Context, tx *sql.Tx) error {
	query := `
	CREATE TABLE oauth_clients (
	  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	  client_id VARCHAR(40) NOT NULL UNIQUE,
	  client_secret VARCHAR(55) NOT NULL,
	  client_name VARCHAR(100) NOT NULL,
	  client_description TEXT,
	  client_uri VARCHAR(255),
	  redirect_uris TEXT NOT NULL DEFAULT '[]',
	  scope TEXT NOT NULL DEFAULT 'profile email',
	  response_types TEXT NOT NULL DEFAULT 'code',
	  grant_types TEXT NOT NULL DEFAULT 'authorization_code refresh_token',
	  is_active BOOLEAN NOT NULL DEFAULT true,
	  created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
	  updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);

	CREATE TABLE oauth_authorization_codes (
	  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	  code VARCHAR(255) NOT NULL UNIQUE,
	  user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	  client_id VARCHAR(40) NOT NULL REFERENCES oauth_clients(client_id) ON DELETE CASCADE,
	  redirect_uri VARCHAR(255) NOT NULL,
	  scope TEXT NOT NULL DEFAULT '',
	  code_challenge VARCHAR(128),
	  code_challenge_method VARCHAR(10),
	  expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
	  used BOOLEAN NOT NULL DEFAULT false,
	  used_at TIMESTAMP WITH TIME ZONE,
	  created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);

	CREATE TABLE oauth_tokens (
	  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	  access_token VARCHAR(255) NOT NULL UNIQUE,
	  refresh_token VARCHAR(255) UNIQUE,
	  token_type VARCHAR(40) NOT NULL DEFAULT 'Bearer',
	  user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	  client_id VARCHAR(40) NOT NULL REFERENCES oauth_clients(client_id) ON DELETE CASCADE,
	  scope TEXT NOT NULL DEFAULT '',
	  expires_in INTEGER NOT NULL DEFAULT 3600,
	  expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
	  revoked BOOLEAN NOT NULL DEFAULT false,
	  revoked_at TIMESTAMP WITH TIME ZONE,
	  created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);

	CREATE INDEX idx_oauth_tokens_user_id ON oauth_tokens(user_id);
	`

	_, err := tx.ExecContext(ctx, query)
	return err
}

func downCreateOAuthTables(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		DROP TABLE IF EXISTS oauth_tokens;
		DROP TABLE IF EXISTS oauth_authorization_codes;
		DROP TABLE IF EXISTS oauth_clients;
	`)
	return err
}
