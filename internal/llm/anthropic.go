package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicAPIVersion       = "2023-06-01"
	defaultAnthropicBaseURL   = "https://api.anthropic.com"
	defaultAnthropicModel     = "claude-3-5-haiku-latest"
	defaultAnthropicMaxTokens = 1024

	jsonOnlyInstruction = "Respond with a single JSON object and nothing else."
)

// AnthropicConfig configures the Messages API provider.
type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// AnthropicProvider is a Completer backed by the Messages API.
type AnthropicProvider struct {
	api   endpoint
	model string
}

// NewAnthropicProvider returns a provider whose calls time out after timeout
// (60s when zero).
func NewAnthropicProvider(cfg AnthropicConfig, timeout time.Duration) *AnthropicProvider {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = defaultAnthropicBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	header := http.Header{}
	header.Set("x-api-key", cfg.APIKey)
	header.Set("anthropic-version", anthropicAPIVersion)

	return &AnthropicProvider{
		model: model,
		api: endpoint{
			provider:  ProviderAnthropic,
			url:       base + "/v1/messages",
			client:    newProviderHTTPClient(timeout),
			header:    header,
			decodeErr: decodeAnthropicError,
		},
	}
}

func (p *AnthropicProvider) Provider() string { return ProviderAnthropic }
func (p *AnthropicProvider) Model() string    { return p.model }

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete makes one Messages call. The API has no JSON mode, so JSON
// requests carry an instruction in the system prompt instead.
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	body := anthropicRequest{
		Model:       p.model,
		MaxTokens:   req.MaxTokens,
		System:      req.System,
		Temperature: req.Temperature,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = defaultAnthropicMaxTokens
	}
	if req.JSON {
		body.System = strings.TrimSpace(body.System + "\n\n" + jsonOnlyInstruction)
	}
	body.Messages = []message{{Role: "user", Content: req.User}}

	var resp anthropicResponse
	if err := p.api.post(ctx, body, &resp); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, &OutputError{Provider: ProviderAnthropic, Reason: "response has no text blocks"}
	}

	out := &Completion{
		Text:         text.String(),
		Model:        resp.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	if out.Model == "" {
		out.Model = p.model
	}
	return out, nil
}

func decodeAnthropicError(body []byte) (typ, code, msg string, ok bool) {
	var env struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) != nil || env.Error.Message == "" {
		return "", "", "", false
	}
	return env.Error.Type, "", env.Error.Message, true
}
