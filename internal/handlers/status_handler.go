package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"alfredoptarigan/resume-optimizer/internal/logger"
	"alfredoptarigan/resume-optimizer/internal/repositories"
	"alfredoptarigan/resume-optimizer/internal/services"
)

type StatusHandler struct {
	status services.StatusService
	log    *logger.Logger
}

func NewStatusHandler(status services.StatusService, log *logger.Logger) *StatusHandler {
	return &StatusHandler{
		status: status,
		log:    log.With("handler", "status"),
	}
}

func (h *StatusHandler) HandleGetStatus(c *fiber.Ctx) error {
	docID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid document ID format",
		})
	}

	resp, err := h.status.GetStatus(c.UserContext(), docID)
	if err != nil {
		if errors.Is(err, repositories.ErrDocumentNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Document not found",
			})
		}
		h.log.Error("❌ Failed to read status", "document_id", docID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read status",
		})
	}

	return c.JSON(resp)
}
