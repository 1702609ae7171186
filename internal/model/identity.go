package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	IdentityPending  = "pending"
	IdentityApproved = "approved"
	IdentityRejected = "rejected"
	IdentityRevoked  = "revoked"
)

type IdentityType struct {
	ID          int       `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Color       string    `db:"color" json:"color"`
	IconName    *string   `db:"icon_name" json:"icon_name"`
	Description *string   `db:"description" json:"description"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// VerificationDocument references an uploaded file attached to an identity request.
type VerificationDocument struct {
	FileID     uuid.UUID `json:"file_id"`
	Filename   string    `json:"filename"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Documents maps to a JSONB column.
type Documents []VerificationDocument

func (d Documents) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal([]VerificationDocument(d))
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (d *Documents) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*d = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported Documents source %T", src)
	}
	return json.Unmarshal(raw, (*[]VerificationDocument)(d))
}

type UserIdentity struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	UserID          uuid.UUID  `db:"user_id" json:"user_id"`
	IdentityTypeID  int        `db:"identity_type_id" json:"identity_type_id"`
	Status          string     `db:"status" json:"status"`
	Documents       Documents  `db:"verification_documents" json:"verification_documents,omitempty"`
	VerifiedBy      *uuid.UUID `db:"verified_by" json:"verified_by,omitempty"`
	RejectionReason *string    `db:"rejection_reason" json:"rejection_reason,omitempty"`
	Notes           *string    `db:"notes" json:"notes,omitempty"`
	VerifiedAt      *time.Time `db:"verified_at" json:"verified_at"`
	ExpiresAt       *time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`

	// joined columns, empty unless the query selects them
	TypeName    string `db:"type_name" json:"type_name,omitempty"`
	DisplayName string `db:"type_display_name" json:"type_display_name,omitempty"`
	Username    string `db:"username" json:"username,omitempty"`
	Email       string `db:"email" json:"email,omitempty"`
}

// IsActive is true for approved identities that have not expired.
func (i *UserIdentity) IsActive(now time.Time) bool {
	if i.Status != IdentityApproved {
		return false
	}
	return i.ExpiresAt == nil || now.Before(*i.ExpiresAt)
}
