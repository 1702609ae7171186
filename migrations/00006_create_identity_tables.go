package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateIdentityTables, downCreateIdentityTables)
}

func upCreateIdentityTables(ctx context.Context, tx *sql.Tx) error {
	query := `
	CREATE TABLE identity_types (
	  id SERIAL PRIMARY KEY,
	  name VARCHAR(50) NOT NULL UNIQUE,
	  display_name VARCHAR(100) NOT NULL,
	  color VARCHAR(7) NOT NULL DEFAULT '#2563eb',
	  icon_name VARCHAR(50),
	  description TEXT,
	  is_active BOOLEAN NOT NULL DEFAULT true,
	  created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);

	CREATE TABLE user_identities (
	  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	  user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	  identity_type_id INTEGER NOT NULL REFERENCES identity_types(id) ON DELETE CASCADE,
	  status VARCHAR(20) NOT NULL DEFAULT 'pending',
	  verification_documents JSONB,
	  verified_by UUID REFERENCES users(id) ON DELETE SET NULL,
	  rejection_reason TEXT,
	  notes TEXT,
	  verified_at TIMESTAMP WITH TIME ZONE,
	  expires_at TIMESTAMP WITH TIME ZONE,
	  created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
	  updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
	  CONSTRAINT uq_user_identity_type UNIQUE (user_id, identity_type_id),
	  CONSTRAINT ck_user_identities_status CHECK (status IN ('pending', 'approved', 'rejected', 'revoked'))
	);

	CREATE INDEX idx_user_identities_status ON user_identities(status);
	CREATE INDEX idx_user_identities_user_status ON user_identities(user_id, status);

	INSERT INTO identity_types (name, display_name, color, icon_name, description) VALUES
	  ('professor', 'Professor', '#1d4ed8', 'academic-cap', 'Faculty member holding a professorship'),
	  ('staff', 'Staff Member', '#059669', 'briefcase', 'University administrative or technical staff'),
	  ('officer', 'Officer', '#dc2626', 'shield-check', 'University officer'),
	  ('student_leader', 'Student Leader', '#7c3aed', 'star', 'Elected student organisation leader');
	`

	_, err := tx.ExecContext(ctx, query)
	return err
}

func downCreateIdentityTables(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		DROP TABLE IF EXISTS user_identities;
		DROP TABLE IF EXISTS identity_types;
	`)
	return err
}
