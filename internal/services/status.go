package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"alfredoptarigan/resume-optimizer/internal/cache"
	"alfredoptarigan/resume-optimizer/internal/logger"
	"alfredoptarigan/resume-optimizer/internal/models"
	"alfredoptarigan/resume-optimizer/internal/pipeline"
	"alfredoptarigan/resume-optimizer/internal/repositories"
)

// StatusService answers polling clients. Reads have no side effect except
// finalizing a stalled run.
type StatusService interface {
	GetStatus(ctx context.Context, documentID uuid.UUID) (*models.StatusResponse, error)
}

type statusService struct {
	store      repositories.MetadataStore
	partials   cache.Cache
	recoverer  OptimizerService
	stall      pipeline.StallPolicy
	now        func() time.Time
	recoveries singleflight.Group
	log        *logger.Logger
}

func NewStatusService(
	store repositories.MetadataStore,
	partials cache.Cache,
	recoverer OptimizerService,
	stall pipeline.StallPolicy,
	now func() time.Time,
	log *logger.Logger,
) StatusService {
	if now == nil {
		now = time.Now
	}
	return &statusService{
		store:     store,
		partials:  partials,
		recoverer: recoverer,
		stall:     stall,
		now:       now,
		log:       log.With("component", "status"),
	}
}

// GetStatus implements StatusService.
func (s *statusService) GetStatus(ctx context.Context, documentID uuid.UUID) (*models.StatusResponse, error) {
	meta, err := s.store.Read(ctx, documentID)
	if err != nil {
		return nil, err
	}

	if meta.State() == models.JobRunning && s.stall.Stalled(true, meta.StartTime, meta.LastUpdated, s.now()) {
		recovered, err := s.recover(ctx, documentID)
		if err != nil {
			s.log.Error("❌ Stall recovery failed", "document_id", documentID, "error", err)
		} else {
			meta = recovered
		}
	}

	resp := &models.StatusResponse{
		DocumentID: documentID.String(),
		Status:     string(meta.State()),
	}

	switch meta.State() {
	case models.JobFailed:
		msg := pipeline.UserMessage(*meta.Error)
		resp.Error = &msg
		resp.Message = msg

	case models.JobSucceeded:
		text := meta.ResultText()
		if text == "" {
			text = s.cachedContent(ctx, documentID, meta)
		}
		if text != "" {
			resp.OptimizedText = &text
			resp.OptimizedContent = &text
		}
		resp.Progress = intPtr(100)
		resp.Message = meta.ProcessingStatus
		resp.Result = &models.OptimizeData{
			AtsScore:         meta.AtsScore,
			ImprovedAtsScore: meta.ImprovedAtsScore,
			Improvements:     meta.Improvements,
			SelectedTemplate: meta.SelectedTemplate,
			Note:             meta.Note,
		}

	case models.JobRunning:
		progress := meta.ProcessingProgress
		if entry := s.cachedEntry(ctx, documentID, meta); entry != nil {
			progress = pipeline.Monotonic(progress, entry.Progress)
		}
		reported := pipeline.Reported(progress)
		resp.Progress = &reported
		resp.Message = meta.ProcessingStatus
	}

	return resp, nil
}

// recover collapses concurrent recoveries of the same document into one write.
func (s *statusService) recover(ctx context.Context, documentID uuid.UUID) (*models.JobMetadata, error) {
	v, err, _ := s.recoveries.Do(documentID.String(), func() (interface{}, error) {
		return s.recoverer.RecoverStalled(ctx, documentID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to recover stalled run: %w", err)
	}
	return v.(*models.JobMetadata).Clone(), nil
}

func (s *statusService) cachedEntry(ctx context.Context, documentID uuid.UUID, meta *models.JobMetadata) *cache.Entry {
	if meta.UserID == "" || meta.Fingerprint == "" {
		return nil
	}
	key := cache.Key{UserID: meta.UserID, DocumentID: documentID.String(), Fingerprint: meta.Fingerprint, RunID: meta.RunID}
	entry, err := s.partials.Get(ctx, key)
	if err != nil {
		s.log.Warn("⚠️  Failed to read partial result", "document_id", documentID, "error", err)
		return nil
	}
	return entry
}

func (s *statusService) cachedContent(ctx context.Context, documentID uuid.UUID, meta *models.JobMetadata) string {
	if entry := s.cachedEntry(ctx, documentID, meta); entry.Usable() {
		return entry.OptimizedContent
	}
	return ""
}

func intPtr(v int) *int { return &v }
