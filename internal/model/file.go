package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	FileStatusPending  = "pending"
	FileStatusUploaded = "uploaded"

	FileTypeGeneral = "general"
)

type File struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	UserID           uuid.UUID  `db:"user_id" json:"user_id"`
	ObjectName       string     `db:"object_name" json:"object_name"`
	OriginalFilename string     `db:"original_filename" json:"original_filename"`
	FileSize         int64      `db:"file_size" json:"file_size"`
	MimeType         string     `db:"mime_type" json:"mime_type"`
	Status           string     `db:"status" json:"status"`
	FileType         string     `db:"file_type" json:"file_type"`
	IsDeleted        bool       `db:"is_deleted" json:"is_deleted"`
	DeletedAt        *time.Time `db:"deleted_at" json:"-"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}
