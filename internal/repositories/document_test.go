package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"alfredoptarigan/resume-optimizer/internal/logger"
	"alfredoptarigan/resume-optimizer/internal/models"
	"alfredoptarigan/resume-optimizer/internal/pipeline"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.Document{}))
	return db
}

func createDocument(t *testing.T, repo DocumentRepository) *models.Document {
	t.Helper()
	doc := &models.Document{
		UserID:           "user-1",
		OriginalFileName: "resume.txt",
		FileType:         "text/plain",
		RawText:          "Go developer with five years of experience",
	}
	require.NoError(t, repo.Create(doc))
	require.NotEqual(t, uuid.Nil, doc.ID)
	return doc
}

func TestCreateAndFindByID(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t), logger.Nop())
	doc := createDocument(t, repo)

	found, err := repo.FindByID(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.RawText, found.RawText)
	assert.Equal(t, "user-1", found.UserID)
}

func TestFindByIDUnknown(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t), logger.Nop())

	_, err := repo.FindByID(uuid.New())
	assert.True(t, errors.Is(err, ErrDocumentNotFound))
}

func TestReadEmptyMetadata(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t), logger.Nop())
	doc := createDocument(t, repo)

	meta, err := repo.Read(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobNotStarted, meta.State())
}

func TestWriteThenRead(t *testing.T) {
	ctx := context.Background()
	repo := NewDocumentRepository(setupTestDB(t), logger.Nop())
	doc := createDocument(t, repo)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	meta := models.NewRun("run-1", "user-1", "fp", models.StringPtr("modern"), now)
	meta.Stage = pipeline.StageAnalyzeStarted
	meta.ProcessingProgress = 12
	require.NoError(t, repo.Write(ctx, doc.ID, meta))

	got, err := repo.Read(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, got.State())
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, pipeline.StageAnalyzeStarted, got.Stage)
	assert.Equal(t, 12, got.ProcessingProgress)
	assert.True(t, got.StartTime.Equal(now))
}

func TestReadCorruptMetadataIsEmpty(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDocumentRepository(db, logger.Nop())
	doc := createDocument(t, repo)

	require.NoError(t, db.Exec("UPDATE documents SET metadata = ? WHERE id = ?", "{not json", doc.ID).Error)

	meta, err := repo.Read(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobNotStarted, meta.State())
	assert.False(t, meta.Processing)
}

func TestWriteUnknownDocument(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t), logger.Nop())

	err := repo.Write(context.Background(), uuid.New(), &models.JobMetadata{})
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	_, err = repo.Read(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestMemoryMetadataStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryMetadataStore(nil)
	id := uuid.New()

	_, err := store.Read(ctx, id)
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	store.Register(id, []byte("]]garbage"))
	meta, err := store.Read(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobNotStarted, meta.State())

	meta.Processing = true
	require.NoError(t, store.Write(ctx, id, meta))
	assert.Equal(t, 1, store.Writes())

	got, err := store.Read(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Processing)
}
