// Package inference is the typed facade the rest of the engine uses for
// every model call: embed, rerank, nli, and extract_claims. It hides the
// transport (Google GenAI or a local Ollama server) behind a single Gateway,
// applies calibration to raw confidences, sanitizes everything that crosses
// the boundary to or from a model, and logs failed engine calls.
package inference

import (
	"context"
	"fmt"

	"codenerd/internal/logging"
)

// EmbeddingEngine generates vector embeddings for text. Two backends
// implement it: a local Ollama server and Google's GenAI API.
type EmbeddingEngine interface {
	Embed(ctx context.Context, text string, isQuery bool) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, isQuery bool) ([][]float32, error)
	Dimensions() int
	Name() string
}

// ChatEngine generates free-form text completions, used for NLI labeling
// and claim extraction. Only GenAI backs this today; Ollama's chat API is a
// natural second implementation but is not wired because no pack example
// exercises an Ollama chat completion endpoint.
type ChatEngine interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
}

// EngineConfig selects and configures the embedding/chat backends.
type EngineConfig struct {
	Provider         string // "ollama" or "genai"
	GenAIAPIKey      string
	GenAIEmbedModel  string
	GenAIChatModel   string
	OllamaEndpoint   string
	OllamaEmbedModel string
}

// NewEmbeddingEngine builds the configured embedding backend.
func NewEmbeddingEngine(cfg EngineConfig) (EmbeddingEngine, error) {
	timer := logging.StartTimer(logging.CategoryInference, "NewEmbeddingEngine")
	defer timer.Stop()

	switch cfg.Provider {
	case "ollama":
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaEmbedModel)
	case "genai":
		return NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIEmbedModel)
	default:
		return nil, fmt.Errorf("unsupported inference provider: %s (use 'ollama' or 'genai')", cfg.Provider)
	}
}

// NewChatEngine builds the configured chat backend, used for NLI and claim
// extraction. Only genai is a real chat backend here; selecting ollama for
// chat falls back to genai if a key is present, else errors, since the
// pack's Ollama usage is embedding-only.
func NewChatEngine(cfg EngineConfig) (ChatEngine, error) {
	if cfg.GenAIAPIKey == "" {
		return nil, fmt.Errorf("genai api key required for chat/nli/extract_claims calls")
	}
	return NewGenAIChatEngine(cfg.GenAIAPIKey, cfg.GenAIChatModel)
}
