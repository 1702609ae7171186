package migrations

import (
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigration(upCreateFilesTable, downCreateFilesTable)
}

func upCreateFilesTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS files (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			object_name VARCHAR(512) NOT NULL UNIQUE,
			original_filename VARCHAR(255) NOT NULL,
			file_size BIGINT NOT NULL DEFAULT 0,
			mime_type VARCHAR(100) NOT NULL DEFAULT 'application/octet-stream',
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			file_type VARCHAR(50) NOT NULL DEFAULT 'general',
			is_deleted BOOLEAN NOT NULL DEFAULT false,
			deleted_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_files_user_id ON files(user_id);
		CREATE INDEX IF NOT EXISTS idx_files_file_type ON files(file_type);
	`)
	return err
}

func downCreateFilesTable(tx *sql.Tx) error {
	_, err := tx.Exec(`DROP TABLE IF EXISTS files;`)
	return err
}
