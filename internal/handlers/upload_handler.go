package handlers

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"alfredoptarigan/resume-optimizer/internal/logger"
	"alfredoptarigan/resume-optimizer/internal/models"
	"alfredoptarigan/resume-optimizer/internal/repositories"
	"alfredoptarigan/resume-optimizer/internal/services"
)

type UploadHandler struct {
	docRepo     repositories.DocumentRepository
	extractor   services.TextExtractor
	maxFileSize int64
	log         *logger.Logger
}

func NewUploadHandler(
	docRepo repositories.DocumentRepository,
	extractor services.TextExtractor,
	maxFileSize int64,
	log *logger.Logger,
) *UploadHandler {
	return &UploadHandler{
		docRepo:     docRepo,
		extractor:   extractor,
		maxFileSize: maxFileSize,
		log:         log.With("handler", "upload"),
	}
}

// HandleUpload handles POST /documents
func (h *UploadHandler) HandleUpload(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.FormValue("user_id"))
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_id is required",
		})
	}

	file, err := c.FormFile("resume")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "resume file is required",
		})
	}

	if file.Size > h.maxFileSize {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("Resume file too large. Max size: %d bytes", h.maxFileSize),
		})
	}

	src, err := file.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "failed to read uploaded file",
		})
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, h.maxFileSize+1))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "failed to read uploaded file",
		})
	}

	extracted, err := h.extractor.Extract(file.Filename, data)
	switch {
	case errors.Is(err, services.ErrUnsupportedFileType):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unsupported file type. Please upload a PDF, TXT or MD file.",
		})
	case errors.Is(err, services.ErrNoText):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "No text could be extracted from the uploaded file",
		})
	case err != nil:
		h.log.Error("❌ Text extraction failed", "file", file.Filename, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to extract text from file",
		})
	}

	doc := models.Document{
		ID:               uuid.New(),
		UserID:           userID,
		OriginalFileName: file.Filename,
		FileType:         extracted.FileType,
		RawText:          extracted.Text,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}

	if err := h.docRepo.Create(&doc); err != nil {
		h.log.Error("❌ Failed to save document", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to save document record",
		})
	}

	h.log.Info("📄 Document uploaded", "document_id", doc.ID, "file_type", doc.FileType, "pages", extracted.PageCount)

	return c.Status(fiber.StatusCreated).JSON(models.UploadResponse{
		ID:           doc.ID.String(),
		OriginalName: doc.OriginalFileName,
		FileType:     doc.FileType,
		Characters:   utf8.RuneCountInString(doc.RawText),
	})
}
