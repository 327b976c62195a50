package repositories

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"alfredoptarigan/resume-optimizer/internal/logger"
	"alfredoptarigan/resume-optimizer/internal/models"
)

var ErrDocumentNotFound = errors.New("document not found")

// MetadataStore reads and replaces the job metadata blob of a document.
// Read never fails on a corrupt blob; it logs and returns empty metadata.
type MetadataStore interface {
	Read(ctx context.Context, documentID uuid.UUID) (*models.JobMetadata, error)
	Write(ctx context.Context, documentID uuid.UUID, meta *models.JobMetadata) error
}

// MemoryMetadataStore keeps blobs as raw JSON, the same way the database
// column does, so decode behavior matches production.
type MemoryMetadataStore struct {
	mu     sync.Mutex
	blobs  map[uuid.UUID][]byte
	writes int
	log    *logger.Logger
}

func NewMemoryMetadataStore(log *logger.Logger) *MemoryMetadataStore {
	if log == nil {
		log = logger.Nop()
	}
	return &MemoryMetadataStore{blobs: make(map[uuid.UUID][]byte), log: log}
}

// Register makes a document known with the given raw blob.
func (s *MemoryMetadataStore) Register(documentID uuid.UUID, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[documentID] = append([]byte(nil), raw...)
}

// Writes reports how many successful writes the store has seen.
func (s *MemoryMetadataStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *MemoryMetadataStore) Read(ctx context.Context, documentID uuid.UUID) (*models.JobMetadata, error) {
	s.mu.Lock()
	raw, ok := s.blobs[documentID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return decodeOrEmpty(s.log, documentID, raw), nil
}

func (s *MemoryMetadataStore) Write(ctx context.Context, documentID uuid.UUID, meta *models.JobMetadata) error {
	payload, err := meta.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[documentID]; !ok {
		return ErrDocumentNotFound
	}
	s.blobs[documentID] = payload
	s.writes++
	return nil
}

func decodeOrEmpty(log *logger.Logger, documentID uuid.UUID, raw []byte) *models.JobMetadata {
	meta, err := models.DecodeMetadata(raw)
	if err != nil {
		log.Warn("corrupt document metadata, treating as empty",
			"document_id", documentID,
			"error", err,
		)
	}
	return meta
}
