package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upAddUserSoftDelete, downAddUserSoftDelete)
}

// Deleted accounts keep their row, so usernames and e-mail addresses stay reserved.
func upAddUserSoftDelete(ctx context.Context, tx *sql.Tx) error {
	query := `
	ALTER TABLE users
	  ADD COLUMN is_deleted BOOLEAN NOT NULL DEFAULT false,
	  ADD COLUMN deleted_at TIMESTAMP WITH TIME ZONE;
	`
	_, err := tx.ExecContext(ctx, query)
	return err
}

func downAddUserSoftDelete(ctx context.Context, tx *sql.Tx) error {
	query := `ALTER TABLE users DROP COLUMN IF EXISTS deleted_at, DROP COLUMN IF EXISTS is_deleted;`
	_, err := tx.ExecContext(ctx, query)
	return err
}
