package llm

import (
	"context"
	"strings"
)

// Summarizer turns one text segment into a paper summary with a single completion call.
type Summarizer struct {
	completer Completer
	prompt    PromptSet
}

// NewSummarizer creates a Summarizer backed by completer.
func NewSummarizer(completer Completer, prompts *Prompts) *Summarizer {
	return &Summarizer{completer: completer, prompt: prompts.Summary}
}

// Summarize sends the segment, cut to the prompt's input limit, with the
// per-paper instructions. Errors come straight from the provider.
func (s *Summarizer) Summarize(ctx context.Context, segment, instructions string) (string, error) {
	user, err := s.prompt.render(summaryData{
		Instructions: strings.TrimSpace(instructions),
		Text:         truncateRunes(strings.TrimSpace(segment), s.prompt.MaxInput),
	})
	if err != nil {
		return "", err
	}

	out, err := s.completer.Complete(ctx, CompletionRequest{
		System:      s.prompt.System,
		User:        user,
		MaxTokens:   s.prompt.MaxTokens,
		Temperature: s.prompt.Temperature,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(out.Text), nil
}
