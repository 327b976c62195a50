package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"alfredoptarigan/resume-optimizer/internal/logger"
	"alfredoptarigan/resume-optimizer/internal/pipeline"
)

// AIClient is the remote operation each pipeline stage invokes.
// Returned errors are classified as pipeline.TransientError or pipeline.PermanentError.
type AIClient interface {
	GenerateText(ctx context.Context, systemInstruction, prompt string, temperature float32) (string, error)
}

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type GeminiService interface {
	AIClient
	Embedder
}

type geminiService struct {
	client     *genai.Client
	modelName  string
	embedModel string
	log        *logger.Logger
}

func NewGeminiService(ctx context.Context, apiKey, model, embedModel string, log *logger.Logger) (GeminiService, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key is empty")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	if model == "" {
		model = "gemini-2.5-flash"
	}
	if embedModel == "" {
		embedModel = "text-embedding-004"
	}

	return &geminiService{
		client:     client,
		modelName:  model,
		embedModel: embedModel,
		log:        log.With("component", "gemini", "model", model),
	}, nil
}

// GenerateEmbedding implements Embedder.
func (g *geminiService) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	// Stay under the embedding model's token limit.
	text = pipeline.Truncate(text, 40000)

	result, err := g.client.Models.EmbedContent(ctx, g.embedModel, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", classifyGeminiError(err))
	}

	if result == nil || len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}

	return result.Embeddings[0].Values, nil
}

// GenerateText implements AIClient. The model is asked for JSON output.
func (g *geminiService) GenerateText(ctx context.Context, systemInstruction, prompt string, temperature float32) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		MaxOutputTokens:  8192,
		ResponseMIMEType: "application/json",
	}
	if systemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.modelName, genai.Text(prompt), config)
	if err != nil {
		g.log.Warn("❌ Gemini API error", "error", err)
		return "", fmt.Errorf("failed to generate text: %w", classifyGeminiError(err))
	}

	if resp == nil {
		return "", pipeline.Permanent(pipeline.CodeInvalidResponse, errors.New("nil response from model"))
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		reason := "no text content in response"
		if len(resp.Candidates) > 0 && resp.Candidates[0] != nil && resp.Candidates[0].FinishReason != "" {
			reason = fmt.Sprintf("%s (finish reason %s)", reason, resp.Candidates[0].FinishReason)
		}
		return "", pipeline.Permanent(pipeline.CodeInvalidResponse, errors.New(reason))
	}

	g.log.Debug("📊 Gemini response received", "chars", len(text))
	return text, nil
}

// classifyGeminiError maps API status codes onto the pipeline's retry taxonomy.
// Errors without a status (network, deadline) are left for pipeline.IsTransient.
func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if pipeline.IsRetryableHTTPStatus(apiErr.Code) {
			return pipeline.Transient(err)
		}
		return pipeline.Permanent(pipeline.CodeAIUnavailable, err)
	}
	return err
}
