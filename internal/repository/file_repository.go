package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"forum-api/internal/model"
)

const fileColumns = `id, user_id, object_name, original_filename, file_size, mime_type, status, file_type,
	is_deleted, deleted_at, created_at, updated_at`

type FileRepository interface {
	Create(ctx context.Context, file *model.File) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.File, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]model.File, error)
	FindOwned(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]model.File, error)
	ListByType(ctx context.Context, fileType string, limit int) ([]model.File, error)
	ListLatest(ctx context.Context, limit int) ([]model.File, error)
}

type postgresFileRepository struct {
	db *sqlx.DB
}

func NewPostgresFileRepository(db *sqlx.DB) FileRepository {
	return &postgresFileRepository{db: db}
}

func (r *postgresFileRepository) Create(ctx context.Context, f *model.File) error {
	query := `INSERT INTO files (user_id, object_name, original_filename, file_size, mime_type, status, file_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at, updated_at`
	return r.db.QueryRowxContext(ctx, query,
		f.UserID, f.ObjectName, f.OriginalFilename, f.FileSize, f.MimeType, f.Status, f.FileType,
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
}

func (r *postgresFileRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.File, error) {
	var f model.File
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1 AND is_deleted = false`
	if err := r.db.GetContext(ctx, &f, query, id); err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *postgresFileRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]model.File, error) {
	files := []model.File{}
	if len(ids) == 0 {
		return files, nil
	}
	query, args, err := sqlx.In(`SELECT `+fileColumns+` FROM files WHERE is_deleted = false AND id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	err = r.db.SelectContext(ctx, &files, r.db.Rebind(query), args...)
	return files, err
}

// FindOwned returns the subset of ids that belong to userID and are not deleted.
func (r *postgresFileRepository) FindOwned(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]model.File, error) {
	files := []model.File{}
	if len(ids) == 0 {
		return files, nil
	}
	query, args, err := sqlx.In(`SELECT `+fileColumns+` FROM files WHERE user_id = ? AND is_deleted = false AND id IN (?)`, userID, ids)
	if err != nil {
		return nil, err
	}
	err = r.db.SelectContext(ctx, &files, r.db.Rebind(query), args...)
	return files, err
}

func (r *postgresFileRepository) ListByType(ctx context.Context, fileType string, limit int) ([]model.File, error) {
	files := []model.File{}
	query := `SELECT ` + fileColumns + ` FROM files WHERE is_deleted = false AND file_type = $1 ORDER BY created_at DESC LIMIT $2`
	err := r.db.SelectContext(ctx, &files, query, fileType, limit)
	return files, err
}

func (r *postgresFileRepository) ListLatest(ctx context.Context, limit int) ([]model.File, error) {
	files := []model.File{}
	query := `SELECT ` + fileColumns + ` FROM files WHERE is_deleted = false ORDER BY created_at DESC LIMIT $1`
	err := r.db.SelectContext(ctx, &files, query, limit)
	return files, err
}
