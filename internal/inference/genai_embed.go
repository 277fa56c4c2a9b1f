package inference

import (
	"context"
	"fmt"
	"time"

	"codenerd/internal/logging"

	"google.golang.org/genai"
)

// maxBatchSize is the maximum number of texts allowed in a single GenAI
// batch embedding request; the API errors above 100.
const maxBatchSize = 100

func int32Ptr(i int32) *int32 { return &i }

// GenAIEngine generates embeddings using Google's Gemini embedding API.
type GenAIEngine struct {
	client *genai.Client
	model  string
}

// NewGenAIEngine creates a new GenAI embedding engine.
func NewGenAIEngine(apiKey, model string) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai api key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GenAIEngine{client: client, model: model}, nil
}

// Embed generates an embedding for a single text, selecting the task type
// that best matches whether the text is a search query or an indexed
// document — queries and documents benefit from different task-type hints
// per the embedding model's own documentation.
func (e *GenAIEngine) Embed(ctx context.Context, text string, isQuery bool) ([]float32, error) {
	timer := logging.StartTimer(logging.CategoryInference, "GenAI.Embed")
	defer timer.Stop()

	taskType := "RETRIEVAL_DOCUMENT"
	if isQuery {
		taskType = "RETRIEVAL_QUERY"
	}

	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: int32Ptr(768),
		TaskType:             taskType,
	})
	if err != nil {
		return nil, fmt.Errorf("genai embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("genai embed returned no vectors")
	}
	return result.Embeddings[0].Values, nil
}

// EmbedBatch embeds multiple texts, chunking at the API's batch size limit.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string, isQuery bool) ([][]float32, error) {
	timer := logging.StartTimer(logging.CategoryInference, "GenAI.EmbedBatch")
	defer timer.Stop()

	if len(texts) == 0 {
		return nil, nil
	}

	taskType := "RETRIEVAL_DOCUMENT"
	if isQuery {
		taskType = "RETRIEVAL_QUERY"
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[start:end]

		contents := make([]*genai.Content, len(chunk))
		for i, t := range chunk {
			contents[i] = genai.NewContentFromText(t, genai.RoleUser)
		}

		apiStart := time.Now()
		result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
			OutputDimensionality: int32Ptr(768),
			TaskType:             taskType,
		})
		logging.InferenceDebug("genai embed batch [%d:%d] took %v", start, end, time.Since(apiStart))
		if err != nil {
			return nil, fmt.Errorf("genai batch embed failed at [%d:%d]: %w", start, end, err)
		}
		for _, e := range result.Embeddings {
			out = append(out, e.Values)
		}
	}
	return out, nil
}

// Dimensions returns the configured output dimensionality.
func (e *GenAIEngine) Dimensions() int { return 768 }

// Name identifies the engine for engine_health bookkeeping.
func (e *GenAIEngine) Name() string { return fmt.Sprintf("genai:%s", e.model) }
