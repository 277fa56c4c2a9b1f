package inference

import (
	"context"
	"fmt"

	"codenerd/internal/logging"

	"google.golang.org/genai"
)

// GenAIChatEngine drives Gemini text generation for NLI labeling and claim
// extraction, the two call shapes the gateway needs structured JSON back
// from.
type GenAIChatEngine struct {
	client *genai.Client
	model  string
}

// NewGenAIChatEngine creates a new GenAI chat/completion engine.
func NewGenAIChatEngine(apiKey, model string) (*GenAIChatEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai api key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GenAIChatEngine{client: client, model: model}, nil
}

// Complete generates one text completion for prompt.
func (e *GenAIChatEngine) Complete(ctx context.Context, prompt string) (string, error) {
	timer := logging.StartTimer(logging.CategoryInference, "GenAI.Complete")
	defer timer.Stop()

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	result, err := e.client.Models.GenerateContent(ctx, e.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("genai generate content failed: %w", err)
	}
	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("genai returned empty completion")
	}
	return text, nil
}

// Name identifies the engine for engine_health bookkeeping.
func (e *GenAIChatEngine) Name() string { return fmt.Sprintf("genai:%s", e.model) }
