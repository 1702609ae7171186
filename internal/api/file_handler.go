package api

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"forum-api/internal/model"
	"forum-api/internal/service"
)

type FileHandler struct {
	fileService service.FileService
	validate    *validator.Validate
}

func NewFileHandler(fileService service.FileService) *FileHandler {
	return &FileHandler{
		fileService: fileService,
		validate:    validator.New(),
	}
}

type UploadURLRequest struct {
	Filename string `json:"filename" validate:"required,max=255"`
	MimeType string `json:"mime_type" validate:"max=100"`
	FileSize int64  `json:"file_size" validate:"gte=0"`
	FileType string `json:"file_type" validate:"max=50"`
}

func (h *FileHandler) RequestUpload(c *fiber.Ctx) error {
	userID, err := GetUserIDFromClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	var request UploadURLRequest
	if ok, err := bind(c, h.validate, &request); !ok {
		return err
	}

	file, uploadURL, err := h.fileService.RequestUpload(c.UserContext(), userID, service.UploadRequest{
		Filename: request.Filename,
		MimeType: request.MimeType,
		FileSize: request.FileSize,
		FileType: request.FileType,
	})
	if err != nil {
		if errors.Is(err, service.ErrStorageOffline) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
		}
		return internalError(c, "Failed to generate upload URL", err)
	}

	return c.JSON(fiber.Map{
		"upload_url":  uploadURL,
		"object_name": file.ObjectName,
		"file_id":     file.ID,
	})
}

func (h *FileHandler) ViewURL(c *fiber.Ctx) error {
	userID, err := GetUserIDFromClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid file id"})
	}

	viewer := service.Viewer{UserID: userID, Admin: GetRoleFromClaims(c) == model.RoleAdmin}
	file, url, err := h.fileService.ViewURL(c.UserContext(), id, viewer)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrFileNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, service.ErrStorageOffline):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
		}
		return internalError(c, "Failed to generate file URL", err)
	}

	return c.JSON(fiber.Map{
		"file_id":           file.ID,
		"url":               url,
		"mime_type":         file.MimeType,
		"original_filename": file.OriginalFilename,
	})
}
