package main

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"alfredoptarigan/resume-optimizer/internal/config"
	"alfredoptarigan/resume-optimizer/internal/logger"
	"alfredoptarigan/resume-optimizer/internal/services"
)

// Guidance documents live under GUIDANCE_DIR (default ./guidance_docs).
var guidanceDocs = []struct {
	File     string
	Category string
	Name     string
}{
	{File: "ats_keywords.md", Category: "keywords", Name: "ATS Keyword Matching"},
	{File: "formatting_rules.md", Category: "formatting", Name: "ATS Formatting Rules"},
	{File: "impact_statements.md", Category: "impact", Name: "Quantified Impact Statements"},
	{File: "resume_rubric.pdf", Category: "rubric", Name: "Resume Scoring Rubric"},
}

func main() {
	cfg := config.Load()

	appLog, err := logger.New(cfg.Log.Mode)
	if err != nil {
		log.Fatalf("❌ Failed to initialize logger: %v", err)
	}
	defer appLog.Sync()

	appLog.Info("🚀 Starting guidance ingestion...")

	ctx := context.Background()

	geminiService, err := services.NewGeminiService(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.EmbeddingModel, appLog)
	if err != nil {
		appLog.Fatal("❌ Failed to initialize Gemini", "error", err)
	}

	store, err := services.NewQdrantGuidanceStore(cfg.Qdrant.URL, cfg.Qdrant.APIKey, cfg.Qdrant.Collection, appLog)
	if err != nil {
		appLog.Fatal("❌ Failed to initialize Qdrant", "error", err)
	}

	if err := store.InitCollection(ctx); err != nil {
		appLog.Fatal("❌ Failed to initialize collection", "error", err)
	}

	extractor := services.NewTextExtractor()
	chunker := services.NewTextChunker()
	dir := os.Getenv("GUIDANCE_DIR")
	if dir == "" {
		dir = "./guidance_docs"
	}

	successCount := 0
	failCount := 0

	for _, doc := range guidanceDocs {
		docLog := appLog.With("source", doc.File, "category", doc.Category)
		docLog.Info("📄 Processing", "name", doc.Name)

		data, err := os.ReadFile(filepath.Join(dir, doc.File))
		if err != nil {
			docLog.Warn("⚠️  File not readable, skipping", "error", err)
			failCount++
			continue
		}

		content, err := extractor.Extract(doc.File, data)
		if err != nil {
			docLog.Error("❌ Failed to extract text", "error", err)
			failCount++
			continue
		}

		chunks := chunker.ChunkText(content.Text, 1000, 200)
		docLog.Info("✂️  Chunked text", "pages", content.PageCount, "chunks", len(chunks))

		// Re-ingesting a source replaces all of its previous chunks.
		if err := store.DeleteSource(ctx, doc.File); err != nil {
			docLog.Error("❌ Failed to clear previous chunks", "error", err)
			failCount++
			continue
		}

		stored := 0
		for i, chunk := range chunks {
			embedding, err := geminiService.GenerateEmbedding(ctx, chunk)
			if err != nil {
				docLog.Error("❌ Failed to generate embedding", "chunk", i, "error", err)
				continue
			}

			err = store.UpsertGuidance(ctx, services.GuidanceChunk{
				Source:   doc.File,
				Category: doc.Category,
				Index:    i,
				Text:     chunk,
			}, embedding)
			if err != nil {
				docLog.Error("❌ Failed to store chunk", "chunk", i, "error", err)
				continue
			}
			stored++
		}

		if stored == 0 {
			failCount++
			continue
		}
		docLog.Info("✅ Ingested", "stored", stored, "total", len(chunks))
		successCount++
	}

	appLog.Info("📊 Ingestion summary", "successful", successCount, "failed", failCount)

	if failCount > 0 {
		appLog.Warn("⚠️  Some documents failed to ingest. Please check the logs above.")
		os.Exit(1)
	}

	appLog.Info("✅ All guidance ingested successfully!")
}
