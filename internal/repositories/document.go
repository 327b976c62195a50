package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"alfredoptarigan/resume-optimizer/internal/logger"
	"alfredoptarigan/resume-optimizer/internal/models"
)

// DocumentRepository persists uploaded documents. It doubles as the
// MetadataStore backed by the documents.metadata column.
type DocumentRepository interface {
	MetadataStore
	Create(document *models.Document) error
	FindByID(id uuid.UUID) (*models.Document, error)
}

type documentRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepository(db *gorm.DB, log *logger.Logger) DocumentRepository {
	if log == nil {
		log = logger.Nop()
	}
	return &documentRepository{db: db, log: log}
}

// Create implements DocumentRepository.
func (d *documentRepository) Create(document *models.Document) error {
	if err := d.db.Create(document).Error; err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}

	return nil
}

// FindByID implements DocumentRepository.
func (d *documentRepository) FindByID(id uuid.UUID) (*models.Document, error) {
	var doc models.Document
	if err := d.db.Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to find document %s: %w", id, ErrDocumentNotFound)
		}

		return nil, fmt.Errorf("failed to find document: %w", err)
	}

	return &doc, nil
}

// Read implements MetadataStore. Only the metadata column is loaded.
func (d *documentRepository) Read(ctx context.Context, documentID uuid.UUID) (*models.JobMetadata, error) {
	var doc models.Document
	err := d.db.WithContext(ctx).
		Select("id", "metadata").
		Where("id = ?", documentID).
		First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	return decodeOrEmpty(d.log, documentID, doc.Metadata), nil
}

// Write implements MetadataStore. The blob is replaced as a whole.
func (d *documentRepository) Write(ctx context.Context, documentID uuid.UUID, meta *models.JobMetadata) error {
	payload, err := meta.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	result := d.db.WithContext(ctx).
		Model(&models.Document{}).
		Where("id = ?", documentID).
		Updates(map[string]interface{}{
			"metadata":   datatypes.JSON(payload),
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to write metadata: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrDocumentNotFound
	}

	return nil
}
