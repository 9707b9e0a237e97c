package llm

import (
	"context"
	"strings"
)

// CompletionRequest is one prompt sent to a completion provider.
type CompletionRequest struct {
	System string
	User   string

	// MaxTokens caps the length of the completion. Zero uses the provider default.
	MaxTokens   int
	Temperature float64

	// JSON asks the provider for a JSON object response.
	JSON bool
}

// Completion is the text returned by a provider together with usage metadata.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Completer makes exactly one call to a completion provider per Complete.
// Retrying is the caller's decision; returned errors expose transience through
// an IsTransient method.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)

	// Provider returns the name of the provider.
	Provider() string

	// Model returns the model identifier being used.
	Model() string
}

// cleanJSONBlock removes markdown code fences some models wrap JSON in.
func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
