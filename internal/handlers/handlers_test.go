package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"alfredoptarigan/resume-optimizer/internal/cache"
	"alfredoptarigan/resume-optimizer/internal/logger"
	"alfredoptarigan/resume-optimizer/internal/models"
	"alfredoptarigan/resume-optimizer/internal/pipeline"
	"alfredoptarigan/resume-optimizer/internal/repositories"
	"alfredoptarigan/resume-optimizer/internal/services"
)

type scriptedAI struct{}

func (scriptedAI) GenerateText(ctx context.Context, systemInstruction, prompt string, temperature float32) (string, error) {
	switch systemInstruction {
	case services.SystemInstruction(pipeline.PhaseAnalyze):
		return `{"atsScore": 48, "keywords": ["kubernetes"], "weaknesses": ["no metrics"], "summary": "Needs numbers."}`, nil
	case services.SystemInstruction(pipeline.PhaseOptimize):
		return `{"optimizedText": "Better resume", "improvements": ["quantified impact"], "improvedAtsScore": 77}`, nil
	default:
		return `{"finalText": "Final resume"}`, nil
	}
}

type testApp struct {
	app     *fiber.App
	db      *gorm.DB
	docRepo repositories.DocumentRepository
}

func setupApp(t *testing.T) *testApp {
	t.Helper()
	return setupAppWithLogger(t, logger.Nop())
}

func setupAppWithLogger(t *testing.T, log *logger.Logger) *testApp {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Document{}))

	docRepo := repositories.NewDocumentRepository(db, log)
	partials := cache.NewMemoryCache()
	validator, err := services.NewStageValidator()
	require.NoError(t, err)

	worker := services.NewWorker(partials, time.Hour, log)
	worker.Start(context.Background())
	t.Cleanup(func() {
		worker.Stop()
		_ = sqlDB.Close()
	})

	stall := pipeline.DefaultStallPolicy()
	optimizer := services.NewOptimizerService(docRepo, partials, scriptedAI{}, nil, validator, worker, services.OptimizerConfig{
		Retry:          pipeline.RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Stall:          stall,
		CallTimeout:    time.Second,
		MaxPromptChars: 4000,
	}, log)
	status := services.NewStatusService(docRepo, partials, optimizer, stall, nil, log)

	app := fiber.New()
	api := app.Group("/api/v1")
	api.Post("/documents", NewUploadHandler(docRepo, services.NewTextExtractor(), 1024, log).HandleUpload)
	api.Post("/documents/:id/optimize", NewOptimizeHandler(docRepo, optimizer, log).HandleOptimize)
	api.Get("/documents/:id/status", NewStatusHandler(status, log).HandleGetStatus)

	return &testApp{app: app, db: db, docRepo: docRepo}
}

func uploadRequest(t *testing.T, userID, fileName string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if userID != "" {
		require.NoError(t, writer.WriteField("user_id", userID))
	}
	if fileName != "" {
		part, err := writer.CreateFormFile("resume", fileName)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, path string, payload any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func (a *testApp) status(t *testing.T, id string) (int, models.StatusResponse) {
	t.Helper()
	resp, err := a.app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+id+"/status", nil))
	require.NoError(t, err)
	return resp.StatusCode, decode[models.StatusResponse](t, resp)
}

func TestUploadOptimizeAndPoll(t *testing.T) {
	a := setupApp(t)

	resp, err := a.app.Test(uploadRequest(t, "user-1", "resume.txt", []byte("Jane Doe\n\nBackend engineer, Go and Postgres.")))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	uploaded := decode[models.UploadResponse](t, resp)
	assert.Equal(t, "text/plain", uploaded.FileType)
	assert.Greater(t, uploaded.Characters, 0)

	code, before := a.status(t, uploaded.ID)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, string(models.JobNotStarted), before.Status)

	resp, err = a.app.Test(jsonRequest(t, http.MethodPost, "/api/v1/documents/"+uploaded.ID+"/optimize", models.OptimizeRequest{
		UserID:         "user-1",
		JobDescription: "Senior Go engineer, Kubernetes",
		Template:       "modern",
	}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	started := decode[models.OptimizeResponse](t, resp)
	assert.Equal(t, services.StartStatusStarted, started.Status)
	assert.NotEmpty(t, started.RunID)
	require.NotNil(t, started.Progress)
	assert.GreaterOrEqual(t, *started.Progress, pipeline.MinReportedProgress)

	var final models.StatusResponse
	require.Eventually(t, func() bool {
		_, final = a.status(t, uploaded.ID)
		return final.Status == string(models.JobSucceeded)
	}, 2*time.Second, 10*time.Millisecond)

	require.NotNil(t, final.OptimizedText)
	assert.Equal(t, "Final resume", *final.OptimizedText)
	assert.Equal(t, final.OptimizedText, final.OptimizedContent)
	require.NotNil(t, final.Progress)
	assert.Equal(t, 100, *final.Progress)
	require.NotNil(t, final.Result)
	require.NotNil(t, final.Result.ImprovedAtsScore)
	assert.Equal(t, 77.0, *final.Result.ImprovedAtsScore)
	require.NotNil(t, final.Result.SelectedTemplate)
	assert.Equal(t, "modern", *final.Result.SelectedTemplate)
	assert.Nil(t, final.Error)
}

func TestUploadRejectsBadInput(t *testing.T) {
	a := setupApp(t)

	tests := []struct {
		name     string
		userID   string
		fileName string
		content  []byte
		want     int
	}{
		{"missing user", "", "resume.txt", []byte("text"), fiber.StatusBadRequest},
		{"missing file", "user-1", "", nil, fiber.StatusBadRequest},
		{"unsupported type", "user-1", "resume.docx", []byte("PK"), fiber.StatusBadRequest},
		{"too large", "user-1", "resume.txt", []byte(strings.Repeat("a", 2048)), fiber.StatusBadRequest},
		{"no text", "user-1", "resume.txt", []byte("   \n\n  "), fiber.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := a.app.Test(uploadRequest(t, tt.userID, tt.fileName, tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
			body := decode[map[string]any](t, resp)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestOptimizeErrors(t *testing.T) {
	a := setupApp(t)

	empty := &models.Document{ID: uuid.New(), UserID: "user-1", OriginalFileName: "scan.pdf", FileType: "application/pdf"}
	require.NoError(t, a.docRepo.Create(empty))

	withText := &models.Document{ID: uuid.New(), UserID: "user-1", RawText: "Jane Doe"}
	require.NoError(t, a.docRepo.Create(withText))

	body := models.OptimizeRequest{UserID: "user-1", JobDescription: "Go engineer"}

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"bad id", "/api/v1/documents/nope/optimize", body, fiber.StatusBadRequest},
		{"unknown document", "/api/v1/documents/" + uuid.NewString() + "/optimize", body, fiber.StatusNotFound},
		{"no extractable text", "/api/v1/documents/" + empty.ID.String() + "/optimize", body, fiber.StatusUnprocessableEntity},
		{"missing job description", "/api/v1/documents/" + withText.ID.String() + "/optimize", models.OptimizeRequest{UserID: "user-1"}, fiber.StatusBadRequest},
		{"other user", "/api/v1/documents/" + withText.ID.String() + "/optimize", models.OptimizeRequest{UserID: "user-2", JobDescription: "Go"}, fiber.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := a.app.Test(jsonRequest(t, http.MethodPost, tt.path, tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	// A rejected start leaves the document untouched.
	_, st := a.status(t, empty.ID.String())
	assert.Equal(t, string(models.JobNotStarted), st.Status)
}

func TestStatusErrors(t *testing.T) {
	a := setupApp(t)

	code, _ := a.status(t, "not-a-uuid")
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = a.status(t, uuid.NewString())
	assert.Equal(t, fiber.StatusNotFound, code)
}

func TestStatusReportsStoredFailure(t *testing.T) {
	a := setupApp(t)

	doc := &models.Document{ID: uuid.New(), UserID: "user-1", RawText: "Jane Doe"}
	require.NoError(t, a.docRepo.Create(doc))

	meta := &models.JobMetadata{
		Error:            models.StringPtr(pipeline.FormatError(pipeline.CodeAIUnavailable, "503 from upstream")),
		ProcessingStatus: "Analyzing résumé",
		LastUpdated:      time.Now(),
	}
	require.NoError(t, a.docRepo.Write(context.Background(), doc.ID, meta))

	code, st := a.status(t, doc.ID.String())
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, string(models.JobFailed), st.Status)
	require.NotNil(t, st.Error)
	assert.NotContains(t, *st.Error, "503")
	assert.NotContains(t, *st.Error, "timed out")
}

func TestOptimizeLogsUnreadableMetadata(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	a := setupAppWithLogger(t, &logger.Logger{SugaredLogger: zap.New(core).Sugar()})

	doc := &models.Document{ID: uuid.New(), UserID: "user-1", RawText: "Jane Doe"}
	require.NoError(t, a.docRepo.Create(doc))
	require.NoError(t, a.db.Exec("UPDATE documents SET metadata = ? WHERE id = ?", `{"processing": tru`, doc.ID).Error)

	resp, err := a.app.Test(jsonRequest(t, http.MethodPost, "/api/v1/documents/"+doc.ID.String()+"/optimize", models.OptimizeRequest{
		UserID:         "user-1",
		JobDescription: "Go engineer",
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	entries := logs.FilterField(zap.String("handler", "optimize")).FilterMessageSnippet("Unreadable document metadata").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, doc.ID.String(), fmt.Sprint(entries[0].ContextMap()["document_id"]))
}
