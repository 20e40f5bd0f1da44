package llm

import (
	"context"
	"fmt"

	"github.com/AleutianAI/AutoTARA/pkg/config"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Client defines the standard interface for any generation backend.
// Every stage call carries its own system prompt (the stage template),
// so the system prompt travels with the call rather than the client.
type Client interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, params GenerationParams) (string, error)
}

// New builds the generation backend selected by config.
func New(cfg config.BackendConfig) (Client, error) {
	switch cfg.Type {
	case "openai", "":
		return NewOpenAIClient(cfg.OpenAIModel)
	case "ollama":
		return NewOllamaClient(cfg.OllamaURL, cfg.OllamaModel)
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Type)
	}
}
