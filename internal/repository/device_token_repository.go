package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type DeviceTokenRepository interface {
	Upsert(ctx context.Context, userID uuid.UUID, deviceToken string) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]string, error)
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
}

type postgresDeviceTokenRepository struct {
	db *sqlx.DB
}

func NewPostgresDeviceTokenRepository(db *sqlx.DB) DeviceTokenRepository {
	return &postgresDeviceTokenRepository{db: db}
}

// Upsert reassigns an already known device token to userID.
func (r *postgresDeviceTokenRepository) Upsert(ctx context.Context, userID uuid.UUID, deviceToken string) error {
	query := `INSERT INTO user_device_tokens (user_id, device_token) VALUES ($1, $2)
		ON CONFLICT (device_token) DO UPDATE SET user_id = EXCLUDED.user_id`
	_, err := r.db.ExecContext(ctx, query, userID, deviceToken)
	return err
}

func (r *postgresDeviceTokenRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]string, error) {
	var tokens []string
	query := `SELECT device_token FROM user_device_tokens WHERE user_id = $1`
	err := r.db.SelectContext(ctx, &tokens, query, userID)
	return tokens, err
}

func (r *postgresDeviceTokenRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	query := `DELETE FROM user_device_tokens WHERE user_id = $1`
	_, err := r.db.ExecContext(ctx, query, userID)
	return err
}
