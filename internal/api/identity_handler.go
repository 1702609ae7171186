package api

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"forum-api/internal/service"
)

type IdentityHandler struct {
	identityService service.IdentityService
	validate        *validator.Validate
}

func NewIdentityHandler(identityService service.IdentityService) *IdentityHandler {
	return &IdentityHandler{
		identityService: identityService,
		validate:        validator.New(),
	}
}

func identityError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrIdentityNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, service.ErrIdentityTypeInvalid),
		errors.Is(err, service.ErrIdentityPending),
		errors.Is(err, service.ErrIdentityApproved),
		errors.Is(err, service.ErrIdentityNotPending),
		errors.Is(err, service.ErrIdentityNotApproved),
		errors.Is(err, service.ErrReasonRequired),
		errors.Is(err, service.ErrInvalidExpiry):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return internalError(c, "Identity verification request failed", err)
}

func identityID(c *fiber.Ctx) (uuid.UUID, bool, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid identity id"})
	}
	return id, true, nil
}

func (h *IdentityHandler) ListTypes(c *fiber.Ctx) error {
	types, err := h.identityService.ListTypes(c.UserContext())
	if err != nil {
		return internalError(c, "Failed to fetch identity types", err)
	}
	return c.JSON(fiber.Map{"success": true, "identity_types": types})
}

type IdentityRequest struct {
	IdentityTypeID int         `json:"identity_type_id" validate:"required,gt=0"`
	Documents      []uuid.UUID `json:"verification_documents"`
	Notes          string      `json:"notes" validate:"max=1000"`
}

func (h *IdentityHandler) Request(c *fiber.Ctx) error {
	userID, err := GetUserIDFromClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	var request IdentityRequest
	if ok, err := bind(c, h.validate, &request); !ok {
		return err
	}

	identity, err := h.identityService.Request(c.UserContext(), userID, request.IdentityTypeID, request.Documents, request.Notes)
	if err != nil {
		return identityError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":      true,
		"message":      "Identity verification request submitted successfully",
		"verification": identity,
	})
}

type IdentityUpdateRequest struct {
	Documents *[]uuid.UUID `json:"verification_documents"`
	Notes     *string      `json:"notes" validate:"omitempty,max=1000"`
}

func (h *IdentityHandler) Update(c *fiber.Ctx) error {
	userID, err := GetUserIDFromClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	id, ok, err := identityID(c)
	if !ok {
		return err
	}

	var request IdentityUpdateRequest
	if ok, err := bind(c, h.validate, &request); !ok {
		return err
	}

	identity, err := h.identityService.Update(c.UserContext(), userID, id, request.Documents, request.Notes)
	if err != nil {
		return identityError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":      true,
		"message":      "Verification request updated successfully",
		"verification": identity,
	})
}

func (h *IdentityHandler) MyRequests(c *fiber.Ctx) error {
	userID, err := GetUserIDFromClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	identities, err := h.identityService.MyRequests(c.UserContext(), userID)
	if err != nil {
		return internalError(c, "Failed to fetch verification requests", err)
	}
	return c.JSON(fiber.Map{"success": true, "verifications": identities})
}

func (h *IdentityHandler) MyVerified(c *fiber.Ctx) error {
	userID, err := GetUserIDFromClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	identities, err := h.identityService.MyVerified(c.UserContext(), userID)
	if err != nil {
		return internalError(c, "Failed to fetch verified identities", err)
	}
	return c.JSON(fiber.Map{"success": true, "identities": identities})
}

func (h *IdentityHandler) ListPending(c *fiber.Ctx) error {
	pending, err := h.identityService.ListPending(c.UserContext())
	if err != nil {
		return internalError(c, "Failed to fetch pending verifications", err)
	}
	return c.JSON(fiber.Map{"success": true, "pending_verifications": pending})
}

type ApproveRequest struct {
	ExpiresDays *int    `json:"expires_days"`
	Notes       *string `json:"notes"`
}

type DecisionRequest struct {
	Reason string  `json:"reason"`
	Notes  *string `json:"notes"`
}

// decision parses the path id, the admin id and an optional JSON body.
func (h *IdentityHandler) decision(c *fiber.Ctx, body any) (adminID, id uuid.UUID, ok bool, err error) {
	adminID, err = GetUserIDFromClaims(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, false, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	if id, ok, err = identityID(c); !ok {
		return uuid.Nil, uuid.Nil, false, err
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(body); err != nil {
			return uuid.Nil, uuid.Nil, false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
		}
	}
	return adminID, id, true, nil
}

func (h *IdentityHandler) Approve(c *fiber.Ctx) error {
	var request ApproveRequest
	adminID, id, ok, err := h.decision(c, &request)
	if !ok {
		return err
	}

	identity, err := h.identityService.Approve(c.UserContext(), adminID, id, request.ExpiresDays, request.Notes)
	if err != nil {
		return identityError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "message": "Verification request approved successfully", "verification": identity})
}

func (h *IdentityHandler) Reject(c *fiber.Ctx) error {
	var request DecisionRequest
	adminID, id, ok, err := h.decision(c, &request)
	if !ok {
		return err
	}

	identity, err := h.identityService.Reject(c.UserContext(), adminID, id, request.Reason, request.Notes)
	if err != nil {
		return identityError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "message": "Verification request rejected", "verification": identity})
}

func (h *IdentityHandler) Revoke(c *fiber.Ctx) error {
	var request DecisionRequest
	adminID, id, ok, err := h.decision(c, &request)
	if !ok {
		return err
	}

	identity, err := h.identityService.Revoke(c.UserContext(), adminID, id, request.Reason, request.Notes)
	if err != nil {
		return identityError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "message": "Verification revoked", "verification": identity})
}
