package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"forum-api/internal/model"
	"forum-api/internal/repository"
)

const urlCacheMargin = 5 * time.Minute

var (
	ErrFileNotFound   = errors.New("file not found")
	ErrStorageOffline = errors.New("object storage is not available")
)

// URLSigner produces presigned object URLs.
type URLSigner interface {
	PresignUpload(ctx context.Context, objectKey, contentType string) (string, error)
	PresignView(ctx context.Context, objectKey, contentType string, ttl time.Duration) (string, error)
	PublicObjectURL(objectKey string) string
}

// URLCache keeps signed view URLs per file id.
type URLCache interface {
	Get(ctx context.Context, fileID string) (string, error)
	Set(ctx context.Context, fileID, url string, ttl time.Duration) error
	Delete(ctx context.Context, fileID string) (int64, error)
	Clear(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int64, error)
	Expiring(ctx context.Context, threshold time.Duration) ([]string, error)
}

type UploadRequest struct {
	Filename string
	MimeType string
	FileSize int64
	FileType string
}

// Viewer is the caller asking for a file URL. Files are visible to their owner and to admins.
type Viewer struct {
	UserID uuid.UUID
	Admin  bool
}

func (v Viewer) canView(f *model.File) bool {
	return v.Admin || f.UserID == v.UserID
}

type FileService interface {
	RequestUpload(ctx context.Context, userID uuid.UUID, req UploadRequest) (*model.File, string, error)
	// ViewURL answers ErrFileNotFound for files the viewer may not see, so ids
	// of other users' documents cannot be confirmed.
	ViewURL(ctx context.Context, fileID uuid.UUID, viewer Viewer) (*model.File, string, error)
	// CacheViewURL signs and caches the URL of f even if a cached one exists.
	CacheViewURL(ctx context.Context, f *model.File) (bool, error)
}

type fileService struct {
	repo   repository.FileRepository
	signer URLSigner
	cache  URLCache
	urlTTL time.Duration
	now    func() time.Time
	sf     singleflight.Group
}

// NewFileService accepts a nil signer when object storage is not configured.
func NewFileService(repo repository.FileRepository, signer URLSigner, cache URLCache, urlTTL time.Duration) FileService {
	return &fileService{repo: repo, signer: signer, cache: cache, urlTTL: urlTTL, now: time.Now}
}

func (s *fileService) RequestUpload(ctx context.Context, userID uuid.UUID, req UploadRequest) (*model.File, string, error) {
	if s.signer == nil {
		return nil, "", ErrStorageOffline
	}

	fileType := strings.TrimSpace(req.FileType)
	if fileType == "" {
		fileType = model.FileTypeGeneral
	}
	mimeType := strings.TrimSpace(req.MimeType)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	f := &model.File{
		UserID:           userID,
		ObjectName:       objectName(userID, req.Filename, s.now()),
		OriginalFilename: filepath.Base(req.Filename),
		FileSize:         req.FileSize,
		MimeType:         mimeType,
		Status:           model.FileStatusPending,
		FileType:         fileType,
	}

	uploadURL, err := s.signer.PresignUpload(ctx, f.ObjectName, f.MimeType)
	if err != nil {
		return nil, "", fmt.Errorf("presign upload: %w", err)
	}

	if err := s.repo.Create(ctx, f); err != nil {
		return nil, "", fmt.Errorf("create file: %w", err)
	}
	return f, uploadURL, nil
}

func (s *fileService) ViewURL(ctx context.Context, fileID uuid.UUID, viewer Viewer) (*model.File, string, error) {
	f, err := s.repo.FindByID(ctx, fileID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, "", ErrFileNotFound
		}
		return nil, "", err
	}
	if !viewer.canView(f) {
		slog.WarnContext(ctx, "file url denied", "file_id", fileID, "user_id", viewer.UserID)
		return nil, "", ErrFileNotFound
	}

	cached, err := s.cache.Get(ctx, fileID.String())
	if err != nil {
		slog.WarnContext(ctx, "file url cache read failed", "file_id", fileID, "error", err)
	}
	if cached != "" {
		return f, cached, nil
	}

	// concurrent misses for one file share a single signing call
	v, err, _ := s.sf.Do(fileID.String(), func() (interface{}, error) {
		url, err := s.sign(ctx, f)
		if err != nil {
			return "", err
		}
		s.store(ctx, f.ID, url)
		return url, nil
	})
	if err != nil {
		slog.WarnContext(ctx, "signing failed, serving public url", "file_id", fileID, "error", err)
		if s.signer == nil {
			return f, "", ErrStorageOffline
		}
		return f, s.signer.PublicObjectURL(f.ObjectName), nil
	}
	return f, v.(string), nil
}

func (s *fileService) CacheViewURL(ctx context.Context, f *model.File) (bool, error) {
	url, err := s.sign(ctx, f)
	if err != nil {
		return false, err
	}
	if err := s.cache.Set(ctx, f.ID.String(), url, s.cacheTTL()); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fileService) sign(ctx context.Context, f *model.File) (string, error) {
	if s.signer == nil {
		return "", ErrStorageOffline
	}
	return s.signer.PresignView(ctx, f.ObjectName, f.MimeType, s.urlTTL)
}

func (s *fileService) store(ctx context.Context, id uuid.UUID, url string) {
	if err := s.cache.Set(ctx, id.String(), url, s.cacheTTL()); err != nil {
		slog.WarnContext(ctx, "file url cache write failed", "file_id", id, "error", err)
	}
}

// cacheTTL expires cache entries before the signature does.
func (s *fileService) cacheTTL() time.Duration {
	ttl := s.urlTTL - urlCacheMargin
	if ttl <= 0 {
		ttl = s.urlTTL / 2
	}
	return ttl
}

func objectName(userID uuid.UUID, filename string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return fmt.Sprintf("user_upload/%s/%s_%s%s", userID, now.Format("20060102_150405"), uuid.NewString(), ext)
}
