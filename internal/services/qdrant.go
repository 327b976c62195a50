package services

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"alfredoptarigan/resume-optimizer/internal/logger"
)

// GuidanceStore holds embedded ATS guidance snippets (keyword lists, section
// conventions, formatting rules) that ground the analyze stage.
type GuidanceStore interface {
	InitCollection(ctx context.Context) error
	UpsertGuidance(ctx context.Context, chunk GuidanceChunk, embedding []float32) error
	SearchGuidance(ctx context.Context, queryEmbedding []float32, category string, limit int) ([]GuidanceResult, error)
	DeleteSource(ctx context.Context, source string) error
}

type GuidanceChunk struct {
	Source   string
	Category string
	Index    int
	Text     string
}

type GuidanceResult struct {
	Source   string
	Category string
	Score    float32
	Text     string
}

type qdrantGuidanceStore struct {
	client         *qdrant.Client
	collectionName string
	vectorSize     uint64
	log            *logger.Logger
}

func NewQdrantGuidanceStore(urlStr, apiKey, collectionName string, log *logger.Logger) (GuidanceStore, error) {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("invalid Qdrant URL: %w", err)
	}

	host := parsed.Hostname()
	useTLS := parsed.Scheme == "https"

	// The Go client speaks gRPC, 6334 unless the URL says otherwise.
	port := 6334
	if p := parsed.Port(); p != "" {
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &qdrantGuidanceStore{
		client:         client,
		collectionName: collectionName,
		vectorSize:     768, // text-embedding-004
		log:            log.With("component", "qdrant", "collection", collectionName),
	}, nil
}

// InitCollection implements GuidanceStore.
func (q *qdrantGuidanceStore) InitCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if exists {
		q.log.Info("✅ Collection already exists")
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	q.log.Info("✅ Qdrant collection created")
	return nil
}

// UpsertGuidance implements GuidanceStore. Point ids derive from source and
// index so re-ingesting a file overwrites its previous chunks.
func (q *qdrantGuidanceStore) UpsertGuidance(ctx context.Context, chunk GuidanceChunk, embedding []float32) error {
	pointID := uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#%d", chunk.Source, chunk.Index)))

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(pointID.String()),
		Vectors: qdrant.NewVectors(embedding...),
		Payload: qdrant.NewValueMap(map[string]any{
			"source":   chunk.Source,
			"category": chunk.Category,
			"index":    int64(chunk.Index),
			"text":     chunk.Text,
		}),
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert guidance: %w", err)
	}

	return nil
}

// SearchGuidance implements GuidanceStore.
func (q *qdrantGuidanceStore) SearchGuidance(ctx context.Context, queryEmbedding []float32, category string, limit int) ([]GuidanceResult, error) {
	var filter *qdrant.Filter
	if category != "" {
		filter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("category", category),
			},
		}
	}

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collectionName,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search guidance: %w", err)
	}

	results := make([]GuidanceResult, 0, len(points))
	for _, point := range points {
		results = append(results, GuidanceResult{
			Source:   payloadString(point.Payload, "source"),
			Category: payloadString(point.Payload, "category"),
			Text:     payloadString(point.Payload, "text"),
			Score:    point.Score,
		})
	}

	return results, nil
}

// DeleteSource implements GuidanceStore.
func (q *qdrantGuidanceStore) DeleteSource(ctx context.Context, source string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{qdrant.NewMatch("source", source)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete guidance source: %w", err)
	}

	return nil
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		if s, ok := v.GetKind().(*qdrant.Value_StringValue); ok {
			return s.StringValue
		}
	}
	return ""
}

// GuidanceRetriever produces the guidance block for an analyze prompt.
type GuidanceRetriever interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

type guidanceRetriever struct {
	embedder Embedder
	store    GuidanceStore
	limit    int
}

func NewGuidanceRetriever(embedder Embedder, store GuidanceStore, limit int) GuidanceRetriever {
	if limit <= 0 {
		limit = 4
	}
	return &guidanceRetriever{embedder: embedder, store: store, limit: limit}
}

func (g *guidanceRetriever) Retrieve(ctx context.Context, query string) (string, error) {
	embedding, err := g.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return "", fmt.Errorf("failed to generate query embedding: %w", err)
	}

	results, err := g.store.SearchGuidance(ctx, embedding, "", g.limit)
	if err != nil {
		return "", err
	}

	return FormatRAGContext(results), nil
}
