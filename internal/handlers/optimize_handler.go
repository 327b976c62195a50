package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"alfredoptarigan/resume-optimizer/internal/logger"
	"alfredoptarigan/resume-optimizer/internal/models"
	"alfredoptarigan/resume-optimizer/internal/pipeline"
	"alfredoptarigan/resume-optimizer/internal/repositories"
	"alfredoptarigan/resume-optimizer/internal/services"
)

type OptimizeHandler struct {
	docRepo   repositories.DocumentRepository
	optimizer services.OptimizerService
	log       *logger.Logger
}

func NewOptimizeHandler(
	docRepo repositories.DocumentRepository,
	optimizer services.OptimizerService,
	log *logger.Logger,
) *OptimizeHandler {
	return &OptimizeHandler{
		docRepo:   docRepo,
		optimizer: optimizer,
		log:       log.With("handler", "optimize"),
	}
}

// HandleOptimize handles POST /documents/:id/optimize
func (h *OptimizeHandler) HandleOptimize(c *fiber.Ctx) error {
	docID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid document ID format",
		})
	}

	var req models.OptimizeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request payload",
		})
	}

	if strings.TrimSpace(req.JobDescription) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "job_description is required",
		})
	}

	doc, err := h.docRepo.FindByID(docID)
	if err != nil {
		if errors.Is(err, repositories.ErrDocumentNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Document not found",
			})
		}
		h.log.Error("❌ Failed to load document", "document_id", docID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load document",
		})
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = doc.UserID
	}
	if doc.UserID != "" && userID != doc.UserID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Document not found",
		})
	}

	if strings.TrimSpace(doc.RawText) == "" {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Document has no extractable text to optimize",
		})
	}

	initial, err := models.DecodeMetadata(doc.Metadata)
	if err != nil {
		h.log.Warn("⚠️  Unreadable document metadata, starting without carry-over",
			"document_id", docID,
			"error", err,
		)
		initial = nil
	}

	res, err := h.optimizer.Start(c.UserContext(), services.StartRequest{
		DocumentID:     doc.ID,
		UserID:         userID,
		RawText:        doc.RawText,
		JobDescription: req.JobDescription,
		Template:       req.Template,
		ForceRefresh:   req.ForceRefresh,
		Initial:        initial,
	})
	switch {
	case errors.Is(err, pipeline.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, services.ErrWorkerStopped):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Service is shutting down, please retry shortly",
		})
	case err != nil:
		h.log.Error("❌ Failed to start optimization", "document_id", docID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to start optimization",
		})
	}

	resp := models.OptimizeResponse{
		DocumentID: docID.String(),
		Status:     res.Status,
		RunID:      res.RunID,
	}
	if res.Metadata != nil {
		progress := pipeline.Reported(res.Metadata.ProcessingProgress)
		resp.Progress = &progress
		resp.Message = res.Metadata.ProcessingStatus
	}

	return c.Status(fiber.StatusAccepted).JSON(resp)
}
