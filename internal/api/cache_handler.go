package api

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"forum-api/internal/service"
)

type CacheHandler struct {
	cacheService service.CacheService
}

func NewCacheHandler(cacheService service.CacheService) *CacheHandler {
	return &CacheHandler{cacheService: cacheService}
}

func (h *CacheHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.cacheService.Stats(c.UserContext())
	if err != nil {
		return internalError(c, "Failed to get cache stats", err)
	}
	return c.JSON(fiber.Map{"success": true, "stats": stats})
}

type ClearCacheRequest struct {
	FileID string `json:"file_id"`
}

func (h *CacheHandler) Clear(c *fiber.Ctx) error {
	var request ClearCacheRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&request); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
		}
	}

	cleared, err := h.cacheService.Clear(c.UserContext(), request.FileID)
	if err != nil {
		return internalError(c, "Failed to clear cache", err)
	}
	return c.JSON(fiber.Map{
		"success":       true,
		"message":       fmt.Sprintf("Cleared %d cache entries", cleared),
		"cleared_count": cleared,
	})
}

type WarmCacheRequest struct {
	FileIDs  []uuid.UUID `json:"file_ids"`
	FileType string      `json:"file_type"`
}

func (h *CacheHandler) Warm(c *fiber.Ctx) error {
	var request WarmCacheRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&request); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
		}
	}

	cached, err := h.cacheService.Warm(c.UserContext(), request.FileIDs, request.FileType)
	if err != nil {
		return internalError(c, "Failed to warm cache", err)
	}
	return c.JSON(fiber.Map{
		"success":      true,
		"message":      fmt.Sprintf("Cached %d file URLs", cached),
		"cached_count": cached,
	})
}

func (h *CacheHandler) Refresh(c *fiber.Ctx) error {
	refreshed, err := h.cacheService.Refresh(c.UserContext())
	if err != nil {
		return internalError(c, "Failed to refresh cache", err)
	}
	return c.JSON(fiber.Map{
		"success":         true,
		"message":         fmt.Sprintf("Refreshed %d expiring URLs", refreshed),
		"refreshed_count": refreshed,
	})
}
