package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"forum-api/internal/model"
)

const identitySelect = `SELECT ui.id, ui.user_id, ui.identity_type_id, ui.status, ui.verification_documents,
	ui.verified_by, ui.rejection_reason, ui.notes, ui.verified_at, ui.expires_at, ui.created_at, ui.updated_at,
	it.name AS type_name, it.display_name AS type_display_name, u.username, u.email
	FROM user_identities ui
	JOIN identity_types it ON it.id = ui.identity_type_id
	JOIN users u ON u.id = ui.user_id`

// Decision is an admin verdict applied to a user identity.
type Decision struct {
	Status    string
	AdminID   uuid.UUID
	Reason    *string
	Notes     *string
	At        time.Time
	ExpiresAt *time.Time
}

type IdentityRepository interface {
	ListActiveTypes(ctx context.Context) ([]model.IdentityType, error)
	FindType(ctx context.Context, id int) (*model.IdentityType, error)

	FindByID(ctx context.Context, id uuid.UUID) (*model.UserIdentity, error)
	FindByUserAndType(ctx context.Context, userID uuid.UUID, typeID int) (*model.UserIdentity, error)
	Create(ctx context.Context, identity *model.UserIdentity) error
	Resubmit(ctx context.Context, id uuid.UUID, docs model.Documents, notes *string) error
	UpdateRequest(ctx context.Context, id uuid.UUID, docs model.Documents, notes *string) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.UserIdentity, error)
	ListActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]model.UserIdentity, error)
	ListPending(ctx context.Context) ([]model.UserIdentity, error)
	Decide(ctx context.Context, id uuid.UUID, fromStatus string, d Decision) error
}

type postgresIdentityRepository struct {
	db *sqlx.DB
}

func NewPostgresIdentityRepository(db *sqlx.DB) IdentityRepository {
	return &postgresIdentityRepository{db: db}
}

func (r *postgresIdentityRepository) ListActiveTypes(ctx context.Context) ([]model.IdentityType, error) {
	types := []model.IdentityType{}
	query := `SELECT id, name, display_name, color, icon_name, description, is_active, created_at
		FROM identity_types WHERE is_active = true ORDER BY id`
	err := r.db.SelectContext(ctx, &types, query)
	return types, err
}

func (r *postgresIdentityRepository) FindType(ctx context.Context, id int) (*model.IdentityType, error) {
	var it model.IdentityType
	query := `SELECT id, name, display_name, color, icon_name, description, is_active, created_at
		FROM identity_types WHERE id = $1`
	if err := r.db.GetContext(ctx, &it, query, id); err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *postgresIdentityRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.UserIdentity, error) {
	var ui model.UserIdentity
	if err := r.db.GetContext(ctx, &ui, identitySelect+` WHERE ui.id = $1`, id); err != nil {
		return nil, err
	}
	return &ui, nil
}

func (r *postgresIdentityRepository) FindByUserAndType(ctx context.Context, userID uuid.UUID, typeID int) (*model.UserIdentity, error) {
	var ui model.UserIdentity
	query := identitySelect + ` WHERE ui.user_id = $1 AND ui.identity_type_id = $2`
	if err := r.db.GetContext(ctx, &ui, query, userID, typeID); err != nil {
		return nil, err
	}
	return &ui, nil
}

func (r *postgresIdentityRepository) Create(ctx context.Context, ui *model.UserIdentity) error {
	query := `INSERT INTO user_identities (user_id, identity_type_id, status, verification_documents, notes)
		VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at, updated_at`
	return r.db.QueryRowxContext(ctx, query, ui.UserID, ui.IdentityTypeID, ui.Status, ui.Documents, ui.Notes).
		Scan(&ui.ID, &ui.CreatedAt, &ui.UpdatedAt)
}

// Resubmit puts a rejected or revoked identity back into review and wipes the previous verdict.
func (r *postgresIdentityRepository) Resubmit(ctx context.Context, id uuid.UUID, docs model.Documents, notes *string) error {
	query := `UPDATE user_identities SET status = 'pending', verification_documents = $2, notes = $3,
		verified_by = NULL, verified_at = NULL, rejection_reason = NULL, expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status IN ('rejected', 'revoked')`
	return execAffectingOne(ctx, r.db, query, id, docs, notes)
}

func (r *postgresIdentityRepository) UpdateRequest(ctx context.Context, id uuid.UUID, docs model.Documents, notes *string) error {
	query := `UPDATE user_identities SET verification_documents = $2, notes = $3, updated_at = now()
		WHERE id = $1 AND status = 'pending'`
	return execAffectingOne(ctx, r.db, query, id, docs, notes)
}

func (r *postgresIdentityRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.UserIdentity, error) {
	list := []model.UserIdentity{}
	err := r.db.SelectContext(ctx, &list, identitySelect+` WHERE ui.user_id = $1 ORDER BY ui.created_at DESC`, userID)
	return list, err
}

func (r *postgresIdentityRepository) ListActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]model.UserIdentity, error) {
	list := []model.UserIdentity{}
	query := identitySelect + ` WHERE ui.user_id = $1 AND ui.status = 'approved'
		AND (ui.expires_at IS NULL OR ui.expires_at > $2) ORDER BY ui.verified_at DESC`
	err := r.db.SelectContext(ctx, &list, query, userID, now)
	return list, err
}

func (r *postgresIdentityRepository) ListPending(ctx context.Context) ([]model.UserIdentity, error) {
	list := []model.UserIdentity{}
	err := r.db.SelectContext(ctx, &list, identitySelect+` WHERE ui.status = 'pending' ORDER BY ui.created_at ASC`)
	return list, err
}

// Decide applies d only while the identity is still in fromStatus. The expiry is
// only set by an approval; reject and revoke keep whatever the approval recorded.
func (r *postgresIdentityRepository) Decide(ctx context.Context, id uuid.UUID, fromStatus string, d Decision) error {
	query := `UPDATE user_identities SET status = $3, verified_by = $4, verified_at = $5,
		rejection_reason = $6, notes = $7,
		expires_at = CASE WHEN $3 = 'approved' THEN $8::timestamptz ELSE expires_at END, updated_at = now()
		WHERE id = $1 AND status = $2`
	return execAffectingOne(ctx, r.db, query, id, fromStatus, d.Status, d.AdminID, d.At, d.Reason, d.Notes, d.ExpiresAt)
}
