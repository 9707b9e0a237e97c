package llm

import (
	"context"
	"fmt"
	"time"
)

// Provider names accepted by NewCompleter.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// FactoryConfig mirrors the llm section of the service config without
// importing it.
type FactoryConfig struct {
	Provider  string
	Timeout   time.Duration // per call; OpenAI and Anthropic only
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Gemini    GeminiConfig
}

// NewCompleter builds the Completer named by cfg.Provider.
func NewCompleter(ctx context.Context, cfg FactoryConfig) (Completer, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.OpenAI, cfg.Timeout), nil
	case ProviderAnthropic:
		return NewAnthropicProvider(cfg.Anthropic, cfg.Timeout), nil
	case ProviderGemini:
		g, err := NewGeminiProvider(ctx, cfg.Gemini)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
}
