package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/helixir/review-pipeline-service/internal/domain"
)

// Synthesizer produces the body of a review from numbered paper summaries.
type Synthesizer struct {
	completer Completer
	prompt    PromptSet
}

// NewSynthesizer creates a Synthesizer backed by completer.
func NewSynthesizer(completer Completer, prompts *Prompts) *Synthesizer {
	return &Synthesizer{completer: completer, prompt: prompts.Synthesis}
}

// Prompt renders the user prompt for req. The same request always renders the same text.
func (s *Synthesizer) Prompt(req domain.SynthesisRequest) (string, error) {
	return s.prompt.render(synthesisData{
		Topic:    strings.TrimSpace(req.Topic),
		Prompt:   strings.TrimSpace(req.Prompt),
		Sections: s.prompt.Sections,
		Count:    len(req.Papers),
		Payload:  req.Payload(),
	})
}

// Synthesize makes one JSON completion call and validates the result against
// the review schema. Unusable output is reported as *OutputError.
func (s *Synthesizer) Synthesize(ctx context.Context, req domain.SynthesisRequest) (*domain.SynthesizedReview, error) {
	user, err := s.Prompt(req)
	if err != nil {
		return nil, err
	}

	out, err := s.completer.Complete(ctx, CompletionRequest{
		System:      s.prompt.System,
		User:        user,
		MaxTokens:   s.prompt.MaxTokens,
		Temperature: s.prompt.Temperature,
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}

	body := cleanJSONBlock(out.Text)
	if err := ValidateReviewJSON(body); err != nil {
		return nil, &OutputError{Provider: s.completer.Provider(), Reason: "review does not match schema", Cause: err}
	}

	var review domain.SynthesizedReview
	if err := json.Unmarshal([]byte(body), &review); err != nil {
		return nil, &OutputError{Provider: s.completer.Provider(), Reason: "malformed review JSON", Cause: err}
	}
	for i := range review.Sections {
		review.Sections[i].Heading = strings.TrimSpace(review.Sections[i].Heading)
	}
	review.Model = out.Model

	return &review, nil
}
